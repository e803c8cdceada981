package kernel

import (
	"context"

	"github.com/pkg/errors"

	"github.com/RaresCon/tock/abi"
	"github.com/RaresCon/tock/platform"
)

// The scheduler is cooperative, timesliced round-robin on a single
// core. One loop iteration: fire expired timer alarms, drain the
// deferred queue, pick the next schedulable process, program the
// protection unit with exactly its windows, resume it, and handle
// whatever trap brought it back. The kernel itself never blocks; all
// waiting is expressed as queued upcalls.

// Run drives the board until ctx is cancelled or nothing can ever run
// again. A returned ErrKernelFault means a kernel-internal invariant
// broke and the system halted; process-originated errors never
// propagate here.
func (k *Kernel) Run(ctx context.Context) error {
	k.drivers.seal()

	mpu := k.chip.MPU()
	timer := k.chip.Timer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timer.Poll()
		k.drainDeferred()

		p := k.next()
		if p == nil {
			if k.DeferredPending() {
				continue
			}

			if timer.Sleep() {
				continue
			}

			k.L.Info("scheduler-idle", "reason", "no runnable processes")
			return nil
		}

		if err := k.dispatch(mpu, p); err != nil {
			return err
		}

		// Bottom halves run before the next process is chosen.
		k.drainDeferred()
	}
}

// next picks the schedulable process after the round-robin cursor,
// scanning in index order so ties always break toward the lowest
// index. Returns nil when no slot can run.
func (k *Kernel) next() *Process {
	n := len(k.procs)

	for i := 0; i < n; i++ {
		p := k.procs[(k.rr+i)%n]
		if p != nil && p.schedulable() {
			k.rr = (p.Index + 1) % n
			return p
		}
	}

	return nil
}

// dispatch runs one timeslice of p. Only genuine executor breakage is
// returned as an error; everything the process does wrong is absorbed
// into its own state.
func (k *Kernel) dispatch(mpu platform.MPU, p *Process) error {
	switch p.state {
	case Unstarted:
		p.start()
	case Yielded:
		// The scheduler only picks yielded processes with pending
		// upcalls; deliver the oldest and let it run.
		if !p.deliver() {
			return errors.Wrapf(ErrKernelFault, "yielded process %s scheduled with empty queue", p.Name)
		}
		p.state = Running
	}

	if err := mpu.Configure(p.windows()); err != nil {
		return errors.Wrapf(ErrKernelFault, "programming protection unit for %s: %v", p.Name, err)
	}

	mpu.Enable()
	trap, err := k.chip.Executor().Resume(p.Index, &p.regs, k.conf.Timeslice)
	mpu.Disable()

	if err != nil {
		return errors.Wrapf(ErrKernelFault, "resuming %s: %v", p.Name, err)
	}

	switch trap.Kind {
	case platform.TrapTimeslice:
		// Forced preemption is purely a scheduling event; the process
		// stays Running and pays nothing against its fault budget.

	case platform.TrapFault:
		p.fault(trap.Fault)

	case platform.TrapExit:
		p.stop()

	case platform.TrapSyscall:
		k.handleTrap(p, trap.Syscall)

	default:
		return errors.Wrapf(ErrKernelFault, "unknown trap kind %d from %s", trap.Kind, p.Name)
	}

	return nil
}

// handleTrap applies a syscall to the process: yields move the state
// machine, everything else is routed through the dispatch table and
// its result written into the return registers.
func (k *Kernel) handleTrap(p *Process, req abi.Request) {
	switch req.Class {
	case abi.Yield:
		k.handleYield(p, req)

	case abi.Subscribe, abi.Command, abi.AllowReadWrite, abi.AllowReadOnly, abi.Memop:
		p.writeReturn(k.handleSyscall(p, req))

	default:
		// An opcode outside the ABI is an unrecoverable trap, the
		// process state is not trustworthy anymore.
		p.fault(platform.FaultIllegalInstruction)
	}
}

func (k *Kernel) handleYield(p *Process, req abi.Request) {
	switch req.R0 {
	case abi.YieldNoWait:
		// Returns immediately either way; R0 tells the process
		// whether an upcall ran.
		if p.deliver() {
			return
		}

		p.regs.R0 = 0

	case abi.YieldWait:
		// The process parks until an upcall is pending; delivery
		// happens on its next dispatch.
		p.yield()

	default:
		p.writeReturn(abi.Failed(abi.Invalid))
	}
}

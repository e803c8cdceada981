package sim

import (
	"github.com/pkg/errors"

	"github.com/RaresCon/tock/abi"
	"github.com/RaresCon/tock/platform"
)

// Scripted processes: instead of real machine code, each process is a
// fixed sequence of ops the executor walks. Compute consumes timeslice
// ticks, Touch goes through the MPU like a bus access, Syscall and
// Crash trap. The kernel cannot tell the difference, which is the
// point.

type OpKind int

const (
	OpSyscall OpKind = iota
	OpCompute
	OpTouch
	OpCrash
)

type Op struct {
	Kind   OpKind
	Req    abi.Request
	Ticks  uint32
	Addr   uint32
	Write  bool
	Reason platform.FaultReason
}

func Syscall(req abi.Request) Op {
	return Op{Kind: OpSyscall, Req: req}
}

func Compute(ticks uint32) Op {
	return Op{Kind: OpCompute, Ticks: ticks}
}

func Touch(addr uint32, write bool) Op {
	return Op{Kind: OpTouch, Addr: addr, Write: write}
}

func Crash(reason platform.FaultReason) Op {
	return Op{Kind: OpCrash, Reason: reason}
}

// Shorthands for the common syscalls scripts are made of.

func Yield(wait uint32) Op {
	return Syscall(abi.Request{Class: abi.Yield, R0: wait})
}

func Command(driver, cmd, arg0, arg1 uint32) Op {
	return Syscall(abi.Request{Class: abi.Command, R0: driver, R1: cmd, R2: arg0, R3: arg1})
}

func Subscribe(driver, sub, fn, userdata uint32) Op {
	return Syscall(abi.Request{Class: abi.Subscribe, R0: driver, R1: sub, R2: fn, R3: userdata})
}

func AllowReadWrite(driver, id, addr, size uint32) Op {
	return Syscall(abi.Request{Class: abi.AllowReadWrite, R0: driver, R1: id, R2: addr, R3: size})
}

func AllowReadOnly(driver, id, addr, size uint32) Op {
	return Syscall(abi.Request{Class: abi.AllowReadOnly, R0: driver, R1: id, R2: addr, R3: size})
}

func Memop(op, arg uint32) Op {
	return Syscall(abi.Request{Class: abi.Memop, R0: op, R1: arg})
}

// UpcallBase is where scripts place their callback "addresses". Real
// code would use function pointers in flash; anything at or above this
// base is treated as a callback entry by the executor.
const UpcallBase uint32 = 0x8000_0000

// Delivery is one observed upcall invocation.
type Delivery struct {
	Fn       uint32
	Args     [3]uint32
	Userdata uint32
}

type script struct {
	ops []Op

	pos     int
	partial uint32

	entry    uint32
	entrySet bool

	wantResult bool

	delivered []Delivery
	results   [][4]uint32
}

// Executor walks process scripts, charging compute against the
// timeslice and checking memory touches against the MPU.
type Executor struct {
	clock *Clock
	mpu   *MPU

	procs map[int]*script
}

func NewExecutor(clock *Clock, mpu *MPU) *Executor {
	return &Executor{
		clock: clock,
		mpu:   mpu,
		procs: make(map[int]*script),
	}
}

// AddProcess binds a script to a process slot index.
func (e *Executor) AddProcess(index int, ops []Op) {
	e.procs[index] = &script{ops: ops}
}

// Delivered returns the upcall invocations observed for a slot, in
// delivery order.
func (e *Executor) Delivered(index int) []Delivery {
	s := e.procs[index]
	if s == nil {
		return nil
	}

	return s.delivered
}

// Results returns the raw return registers of each completed syscall.
func (e *Executor) Results(index int) [][4]uint32 {
	s := e.procs[index]
	if s == nil {
		return nil
	}

	return s.results
}

func (e *Executor) Resume(index int, regs *platform.Context, ticks uint32) (platform.Trap, error) {
	s := e.procs[index]
	if s == nil {
		return platform.Trap{}, errors.Errorf("no script for process slot %d", index)
	}

	if !s.entrySet {
		s.entry = regs.PC
		s.entrySet = true
	} else if regs.PC == s.entry && s.pos != 0 {
		// The kernel reset the snapshot to the entry point: restart.
		s.pos = 0
		s.partial = 0
		s.wantResult = false
	}

	if regs.PC >= UpcallBase {
		s.delivered = append(s.delivered, Delivery{
			Fn:       regs.PC,
			Args:     [3]uint32{regs.R0, regs.R1, regs.R2},
			Userdata: regs.R3,
		})
		s.wantResult = false
	} else if s.wantResult {
		s.results = append(s.results, [4]uint32{regs.R0, regs.R1, regs.R2, regs.R3})
		s.wantResult = false
	}

	var used uint32

	for {
		if s.pos >= len(s.ops) {
			return platform.Trap{Kind: platform.TrapExit, Used: used}, nil
		}

		op := s.ops[s.pos]

		switch op.Kind {
		case OpCompute:
			remaining := op.Ticks - s.partial
			budget := ticks - used

			if remaining > budget {
				s.partial += budget
				e.clock.advance(uint64(budget))

				return platform.Trap{Kind: platform.TrapTimeslice, Used: ticks}, nil
			}

			e.clock.advance(uint64(remaining))
			used += remaining
			s.partial = 0
			s.pos++

		case OpTouch:
			if !e.mpu.allowed(op.Addr, op.Write) {
				return platform.Trap{
					Kind:  platform.TrapFault,
					Fault: platform.FaultProtection,
					Used:  used,
				}, nil
			}

			s.pos++

		case OpSyscall:
			s.pos++
			s.wantResult = op.Req.Class != abi.Yield
			regs.PC = s.entry + uint32(s.pos)

			return platform.Trap{
				Kind:    platform.TrapSyscall,
				Syscall: op.Req,
				Used:    used,
			}, nil

		case OpCrash:
			return platform.Trap{
				Kind:  platform.TrapFault,
				Fault: op.Reason,
				Used:  used,
			}, nil
		}
	}
}

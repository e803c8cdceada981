package platform

import (
	"github.com/RaresCon/tock/abi"
	"github.com/RaresCon/tock/mem"
)

// Chip bundles the hardware primitives the kernel consumes but does
// not implement: a timer tick source, the region protection unit and
// the context save/restore trampoline.
type Chip interface {
	MPU() MPU
	Timer() Timer
	Executor() Executor
}

// MPU programs the coarse-grained region protection unit. Configure
// replaces whatever windows are currently programmed; between
// processes the kernel always reprograms from scratch so no window
// leaks across a context switch.
type MPU interface {
	Configure(windows []mem.Window) error
	Enable()
	Disable()
}

// Timer is the board's monotonic tick source. SetAlarm arms a one-shot
// alarm; fire runs in kernel context between process dispatches, never
// inside a process's timeslice.
type Timer interface {
	Now() uint64
	SetAlarm(at uint64, fire func())

	// Poll fires any expired alarms. The scheduler calls it once per
	// loop iteration, which is where this model handles interrupts.
	Poll()

	// Sleep idles the core until the next armed alarm and fires it.
	// Returns false when nothing is armed, meaning sleeping would
	// never end.
	Sleep() bool
}

// Context is a process's register-save snapshot. The kernel writes
// syscall return values and upcall invocations into it before handing
// it back to the executor.
type Context struct {
	PC, SP         uint32
	R0, R1, R2, R3 uint32
}

// TrapKind says why a resumed process stopped executing.
type TrapKind int

const (
	// TrapSyscall: the process trapped into the kernel voluntarily.
	TrapSyscall TrapKind = iota

	// TrapTimeslice: the hardware timer expired the slice. A
	// scheduling event, never counted against any fault budget.
	TrapTimeslice

	// TrapFault: the process did something unrecoverable.
	TrapFault

	// TrapExit: the process ran off the end of its program. The sim
	// executor reports this; real hardware never does.
	TrapExit
)

type FaultReason int

const (
	FaultProtection FaultReason = iota
	FaultIllegalInstruction
	FaultStackOverflow
)

var faultNames = map[FaultReason]string{
	FaultProtection:         "protection-violation",
	FaultIllegalInstruction: "illegal-instruction",
	FaultStackOverflow:      "stack-overflow",
}

func (f FaultReason) String() string {
	return faultNames[f]
}

// Trap is the outcome of one Resume.
type Trap struct {
	Kind    TrapKind
	Syscall abi.Request
	Fault   FaultReason

	// Used is how many ticks of the slice the process consumed.
	Used uint32
}

// Executor is the instruction-set specific context switch: resume a
// process from its saved snapshot and run it until it traps or the
// timeslice of `ticks` expires. The snapshot is updated in place.
type Executor interface {
	Resume(index int, regs *Context, ticks uint32) (Trap, error)
}

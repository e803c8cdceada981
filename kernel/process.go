package kernel

import (
	"fmt"

	"github.com/RaresCon/tock/image"
	"github.com/RaresCon/tock/log"
	"github.com/RaresCon/tock/mem"
	"github.com/RaresCon/tock/platform"
)

// Everything in a Process is owned by the kernel and mutated only from
// kernel context; the scheduler runs to completion between dispatches.
// There is no locking here on purpose: the one goroutine that may touch
// a descriptor is the one running the scheduler loop.

type State int

const (
	Unstarted State = iota
	Running
	Yielded
	Faulted
	Stopped
)

var stateNames = map[State]string{
	Unstarted: "unstarted",
	Running:   "running",
	Yielded:   "yielded",
	Faulted:   "faulted",
	Stopped:   "stopped",
}

func (s State) String() string {
	return stateNames[s]
}

type FaultAction int

const (
	// RestartAlways resets the process on every fault, forever.
	RestartAlways FaultAction = iota

	// RestartLimit resets until MaxRestarts is exhausted, then stops.
	RestartLimit

	// Stop never restarts.
	Stop
)

type FaultPolicy struct {
	Action      FaultAction
	MaxRestarts int
}

// Process is one loaded application: its exclusive flash and RAM
// windows, register snapshot, grant table, upcall queue and fault
// history. Descriptors are created at load time and reused across
// restarts; the slot is only torn down when the process stops for
// good.
type Process struct {
	kernel *Kernel

	Index int
	Name  string

	Flash mem.Range
	RAM   mem.Range
	Entry uint32

	regs  platform.Context
	state State

	policy   FaultPolicy
	faults   int
	restarts int

	// flash is the unmodified image, data the relocated initialized
	// data segment. Both survive restarts; ram is re-seeded from data.
	flash []byte
	data  []byte
	ram   []byte

	// stack is the declared stack reservation, sitting directly above
	// the data segment. The stack pointer starts at its top and grows
	// down toward the data.
	stack uint32

	// brk is the top of app-owned memory, growing up from RAM.Start.
	// grantTop is the bottom of the grant area, growing down from
	// RAM.End(). They must never cross.
	brk      uint32
	grantTop uint32

	grants map[uint32]*grantBlock
	subs   map[subKey]subscription
	allows allowTables
	queue  upcallQueue
}

func newProcess(k *Kernel, slot int, loaded *image.Loaded) *Process {
	p := &Process{
		kernel: k,
		Index:  slot,
		Name:   loaded.Header.Name,
		Flash:  loaded.Flash,
		RAM:    loaded.RAM,
		Entry:  loaded.Entry,
		policy: k.conf.Policy,
		flash:  loaded.Image,
		data:   loaded.Data,
		ram:    make([]byte, loaded.RAM.Size),
		stack:  loaded.Header.StackSize,
		queue:  newUpcallQueue(k.conf.UpcallDepth),
	}

	p.reset()

	return p
}

// reset rearms the descriptor for a (re)start from the unmodified
// flash image. Grants, subscriptions and pending upcalls are gone
// afterwards.
func (p *Process) reset() {
	for i := range p.ram {
		p.ram[i] = 0
	}
	copy(p.ram, p.data)

	p.brk = p.brkFloor()
	p.grantTop = p.RAM.End()

	p.grants = make(map[uint32]*grantBlock)
	p.subs = make(map[subKey]subscription)
	p.allows = newAllowTables()
	p.queue.clear()

	p.regs = platform.Context{}
	p.state = Unstarted
}

func (p *Process) State() State {
	return p.state
}

func (p *Process) Faults() int {
	return p.faults
}

// Restarts reports how many times the process was reset after a fault.
func (p *Process) Restarts() int {
	return p.restarts
}

// DataSize reports the size of the initialized data segment at the
// bottom of the process's RAM.
func (p *Process) DataSize() uint32 {
	return uint32(len(p.data))
}

// brkFloor is the lowest legal app break: data segment plus the stack
// reservation. The break starts here and may never drop below it.
func (p *Process) brkFloor() uint32 {
	return p.RAM.Start + uint32(len(p.data)) + p.stack
}

// Brk returns the current app memory break.
func (p *Process) Brk() uint32 {
	return p.brk
}

// GrantTop returns the low edge of the grant area.
func (p *Process) GrantTop() uint32 {
	return p.grantTop
}

// windows are the exact protection regions this process may touch
// while it runs: its own flash read-only and its own RAM writable.
// Kernel memory is never in the list.
func (p *Process) windows() []mem.Window {
	return []mem.Window{
		{Range: p.Flash, Perms: mem.ReadExecute},
		{Range: p.RAM, Perms: mem.ReadWrite},
	}
}

// start performs the Unstarted -> Running transition on first
// dispatch. The register snapshot begins at the image entry point with
// the stack pointer at the top of the stack reservation, below the
// grant area.
func (p *Process) start() {
	p.regs = platform.Context{
		PC: p.Entry,
		SP: p.brkFloor(),
	}
	p.state = Running

	log.L.Debug("process-start", "name", p.Name, "index", p.Index, "pc", p.regs.PC)
}

// yield performs Running -> Yielded. Pending upcalls are delivered
// beginning with the next resume.
func (p *Process) yield() {
	p.state = Yielded
}

// schedulable reports whether the scheduler may dispatch this process
// right now. Yielded processes wait for an upcall; Faulted and Stopped
// are never dispatched again without a reset.
func (p *Process) schedulable() bool {
	switch p.state {
	case Unstarted, Running:
		return true
	case Yielded:
		return p.queue.len() > 0
	default:
		return false
	}
}

// fault performs Running -> Faulted and then applies the restart
// policy: back to Unstarted with a clean slate, or Stopped for good.
// There is no path from Faulted to Running that skips the reset.
func (p *Process) fault(reason platform.FaultReason) {
	p.state = Faulted
	p.faults++

	log.L.Warn("process-fault", "name", p.Name, "index", p.Index,
		"reason", reason, "count", p.faults)

	switch p.policy.Action {
	case RestartAlways:
		p.restart()
	case RestartLimit:
		if p.restarts < p.policy.MaxRestarts {
			p.restart()
		} else {
			p.stop()
		}
	case Stop:
		p.stop()
	}
}

func (p *Process) restart() {
	p.restarts++
	p.reset()

	log.L.Info("process-restart", "name", p.Name, "index", p.Index, "restarts", p.restarts)
}

// stop retires the process. Its memory stays reserved, there is no
// compaction of the board regions.
func (p *Process) stop() {
	p.state = Stopped

	log.L.Info("process-stop", "name", p.Name, "index", p.Index)
}

func (p *Process) String() string {
	return fmt.Sprintf("%s[%d] %s", p.Name, p.Index, p.state)
}

// ramSlice resolves an address range against the process's RAM
// ownership. The second return is false when any byte falls outside.
func (p *Process) ramSlice(r mem.Range) ([]byte, bool) {
	if r.Size == 0 {
		if r.Start != 0 && !p.RAM.Contains(r.Start) {
			return nil, false
		}
		return nil, true
	}

	if !p.RAM.ContainsRange(r) {
		return nil, false
	}

	off := r.Start - p.RAM.Start

	return p.ram[off : off+r.Size], true
}

// roSlice is like ramSlice but also accepts ranges inside the
// process's own flash image.
func (p *Process) roSlice(r mem.Range) ([]byte, bool) {
	if b, ok := p.ramSlice(r); ok {
		return b, true
	}

	if r.Size == 0 {
		return nil, true
	}

	if !p.Flash.ContainsRange(r) {
		return nil, false
	}

	off := r.Start - p.Flash.Start
	if int(off+r.Size) > len(p.flash) {
		return nil, false
	}

	return p.flash[off : off+r.Size], true
}

package kernel

import (
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/RaresCon/tock/image"
	"github.com/RaresCon/tock/log"
	"github.com/RaresCon/tock/platform"
)

var (
	ErrNoFreeSlot = errors.New("no free process slot")

	// ErrKernelFault marks a kernel-internal invariant violation. It is
	// the only error class that halts the system; everything a process
	// causes stays contained to that process.
	ErrKernelFault = errors.New("kernel invariant violated")
)

type Config struct {
	// Slots is the number of process descriptors the board carries.
	Slots int

	// Timeslice is how many timer ticks a process may run per
	// dispatch before it is preempted.
	Timeslice uint32

	// UpcallDepth bounds each process's pending upcall queue. The
	// overflow policy is reject-new: the enqueuing capsule gets an
	// error and the queued upcalls are untouched.
	UpcallDepth int

	// Policy is the restart policy applied to faulting processes.
	Policy FaultPolicy
}

func DefaultConfig() Config {
	return Config{
		Slots:       4,
		Timeslice:   10000,
		UpcallDepth: 8,
		Policy:      FaultPolicy{Action: RestartLimit, MaxRestarts: 3},
	}
}

// Kernel is the single kernel context object: process slots, the
// driver dispatch table and the deferred call queue, plus the chip
// primitives it drives. Constructed once at boot, torn down never.
type Kernel struct {
	L hclog.Logger

	conf   Config
	chip   platform.Chip
	loader *image.Loader

	drivers  *DriverTable
	deferred deferredQueue

	procs []*Process

	// round-robin cursor, index of the next slot to consider
	rr int
}

func NewKernel(chip platform.Chip, loader *image.Loader, conf Config) (*Kernel, error) {
	if conf.Slots <= 0 || conf.Timeslice == 0 || conf.UpcallDepth <= 0 {
		return nil, errors.Wrap(ErrKernelFault, "bad kernel config")
	}

	k := &Kernel{
		L:       log.L,
		conf:    conf,
		chip:    chip,
		loader:  loader,
		drivers: NewDriverTable(),
		procs:   make([]*Process, conf.Slots),
	}

	return k, nil
}

// Register installs a capsule in the dispatch table. Only legal before
// the scheduler starts.
func (k *Kernel) Register(num uint32, d Driver) error {
	return k.drivers.Register(num, d)
}

// Timer exposes the board tick source to capsules.
func (k *Kernel) Timer() platform.Timer {
	return k.chip.Timer()
}

// Processes returns the populated slots, in index order.
func (k *Kernel) Processes() []*Process {
	var out []*Process

	for _, p := range k.procs {
		if p != nil {
			out = append(out, p)
		}
	}

	return out
}

// Load parses and places one image and binds it to a free slot. A
// failed load leaves every other slot untouched.
func (k *Kernel) Load(img []byte) (*Process, error) {
	slot := -1

	for i, p := range k.procs {
		if p == nil {
			slot = i
			break
		}
	}

	if slot == -1 {
		return nil, ErrNoFreeSlot
	}

	loaded, err := k.loader.Load(img)
	if err != nil {
		return nil, err
	}

	p := newProcess(k, slot, loaded)
	k.procs[slot] = p

	k.L.Info("process-loaded", "name", p.Name, "index", p.Index,
		"flash", p.Flash.Start, "ram", p.RAM.Start)

	return p, nil
}

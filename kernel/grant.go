package kernel

import (
	"github.com/pkg/errors"

	"github.com/RaresCon/tock/log"
)

var (
	// ErrGrantExhausted means the grant area would collide with the
	// app-owned heap. A process-level exhaustion, never a kernel fault.
	ErrGrantExhausted = errors.New("grant allocation would cross the app break")

	ErrGrantMissing = errors.New("grant not allocated")
	ErrGrantInUse   = errors.New("grant already borrowed")
)

// grantBlock is one capsule's kernel-side storage inside a process's
// RAM window. Allocated lazily on first touch, pinned for the life of
// the process, reclaimed only by a restart.
type grantBlock struct {
	start, size uint32

	// borrowed guards against reentrant entry: a capsule that enters
	// its own grant twice in one call chain is a bug, surfaced cleanly.
	borrowed bool
}

// Grant runs fn with the capsule's per-process storage block,
// allocating it on first use. The block is carved from the high end of
// the process's RAM, growing down away from the heap; repeated calls
// with the same driver return the same block regardless of size. The
// borrow lasts exactly as long as fn: capsules must not retain the
// slice across syscalls.
func (p *Process) Grant(driver uint32, size uint32, fn func(block []byte)) error {
	g, ok := p.grants[driver]
	if !ok {
		var err error

		g, err = p.allocGrant(driver, size)
		if err != nil {
			return err
		}
	}

	return p.borrow(g, fn)
}

// GrantIfAllocated is the cross-process borrow: it never allocates,
// and fails cleanly when the owning process has not touched this
// capsule yet.
func (p *Process) GrantIfAllocated(driver uint32, fn func(block []byte)) error {
	g, ok := p.grants[driver]
	if !ok {
		return errors.Wrapf(ErrGrantMissing, "driver %#x, process %s", driver, p.Name)
	}

	return p.borrow(g, fn)
}

func (p *Process) allocGrant(driver uint32, size uint32) (*grantBlock, error) {
	size = align8(size)
	if size == 0 {
		size = 8
	}

	newTop := p.grantTop - size

	// Overflow, collision with the app break or with the live stack
	// pointer is the process's memory exhaustion, reported to the
	// requesting capsule.
	if newTop > p.grantTop || newTop < p.brk || newTop < p.regs.SP {
		return nil, errors.Wrapf(ErrGrantExhausted, "driver %#x wants %d bytes, break at %#x, sp at %#x, grants at %#x",
			driver, size, p.brk, p.regs.SP, p.grantTop)
	}

	g := &grantBlock{start: newTop, size: size}

	p.grantTop = newTop
	p.grants[driver] = g

	log.L.Debug("grant-alloc", "name", p.Name, "driver", driver,
		"start", g.start, "size", g.size)

	return g, nil
}

func (p *Process) borrow(g *grantBlock, fn func(block []byte)) error {
	if g.borrowed {
		return errors.Wrapf(ErrGrantInUse, "process %s", p.Name)
	}

	off := g.start - p.RAM.Start

	g.borrowed = true
	fn(p.ram[off : off+g.size])
	g.borrowed = false

	return nil
}

// GrantAllocated reports whether the capsule has storage in this
// process, without borrowing it.
func (p *Process) GrantAllocated(driver uint32) bool {
	_, ok := p.grants[driver]
	return ok
}

func align8(x uint32) uint32 {
	return (x + 7) &^ 7
}

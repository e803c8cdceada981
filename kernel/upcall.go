package kernel

import (
	"github.com/pkg/errors"

	"github.com/RaresCon/tock/abi"
	"github.com/RaresCon/tock/log"
)

var (
	ErrNotSubscribed = errors.New("process has no subscription for this upcall")
	ErrQueueFull     = errors.New("upcall queue full")
)

type subKey struct {
	driver uint32
	sub    uint32
}

// subscription is what a process registered with Subscribe: the
// address of its callback and an opaque word handed back on every
// invocation.
type subscription struct {
	fn       uint32
	userdata uint32
}

// Upcall is one pending callback invocation: which capsule and
// callback it belongs to plus up to three word arguments. The resolved
// function pointer and userdata are captured at enqueue time.
type Upcall struct {
	Driver uint32
	Sub    uint32
	Args   [3]uint32

	fn       uint32
	userdata uint32
}

// upcallQueue is a bounded FIFO ring. Overflow rejects the new entry
// so already-queued deliveries are never silently lost; the enqueuer
// is told and decides what to surface.
type upcallQueue struct {
	entries []Upcall
	head    int
	count   int
}

func newUpcallQueue(depth int) upcallQueue {
	return upcallQueue{entries: make([]Upcall, depth)}
}

func (q *upcallQueue) len() int {
	return q.count
}

func (q *upcallQueue) push(u Upcall) bool {
	if q.count == len(q.entries) {
		return false
	}

	q.entries[(q.head+q.count)%len(q.entries)] = u
	q.count++

	return true
}

func (q *upcallQueue) pop() (Upcall, bool) {
	if q.count == 0 {
		return Upcall{}, false
	}

	u := q.entries[q.head]
	q.head = (q.head + 1) % len(q.entries)
	q.count--

	return u, true
}

func (q *upcallQueue) clear() {
	q.head = 0
	q.count = 0
}

// ScheduleUpcall queues a callback invocation for p. It is delivered
// in enqueue order on p's next yield, never synchronously within the
// enqueuing syscall or deferred call.
func (k *Kernel) ScheduleUpcall(p *Process, driver, sub uint32, args [3]uint32) error {
	s, ok := p.subs[subKey{driver: driver, sub: sub}]
	if !ok {
		return errors.Wrapf(ErrNotSubscribed, "driver %#x sub %d", driver, sub)
	}

	u := Upcall{
		Driver:   driver,
		Sub:      sub,
		Args:     args,
		fn:       s.fn,
		userdata: s.userdata,
	}

	if !p.queue.push(u) {
		log.L.Warn("upcall-dropped", "name", p.Name, "driver", driver, "sub", sub)
		return errors.Wrapf(ErrQueueFull, "driver %#x sub %d", driver, sub)
	}

	log.L.Trace("upcall-queued", "name", p.Name, "driver", driver, "sub", sub)

	return nil
}

// deliver pops the oldest pending upcall into the register snapshot:
// the process resumes inside its callback with the three arguments and
// its userdata word.
func (p *Process) deliver() bool {
	u, ok := p.queue.pop()
	if !ok {
		return false
	}

	p.regs.PC = u.fn
	p.regs.R0 = u.Args[0]
	p.regs.R1 = u.Args[1]
	p.regs.R2 = u.Args[2]
	p.regs.R3 = u.userdata

	log.L.Trace("upcall-delivered", "name", p.Name, "driver", u.Driver, "sub", u.Sub)

	return true
}

// Pending reports how many upcalls are queued for delivery.
func (p *Process) Pending() int {
	return p.queue.len()
}

// subscribe swaps the registered upcall for (driver, sub) and returns
// the previous registration to the caller, per the syscall contract.
func (p *Process) subscribe(driver, sub, fn, userdata uint32) abi.SyscallReturn {
	key := subKey{driver: driver, sub: sub}

	old := p.subs[key]

	if fn == 0 {
		delete(p.subs, key)
	} else {
		p.subs[key] = subscription{fn: fn, userdata: userdata}
	}

	return abi.OkWithValue2(old.fn, old.userdata)
}

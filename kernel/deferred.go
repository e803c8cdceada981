package kernel

import "github.com/RaresCon/tock/log"

// DeferredClient is a capsule's bottom half: work registered from a
// syscall or interrupt and run later from kernel context, between
// process dispatches.
type DeferredClient interface {
	HandleDeferred()
}

type DeferredHandle int

// deferredQueue keeps registered clients and the FIFO of pending
// handles. Scheduling the same handle twice before a drain runs the
// client twice, in order; calls from different registrants carry no
// relative ordering guarantee beyond the queue itself.
type deferredQueue struct {
	clients []DeferredClient
	pending []DeferredHandle
}

// RegisterDeferred hands a capsule its handle. Registration happens at
// board init and handles stay valid forever.
func (k *Kernel) RegisterDeferred(c DeferredClient) DeferredHandle {
	k.deferred.clients = append(k.deferred.clients, c)

	return DeferredHandle(len(k.deferred.clients) - 1)
}

// ScheduleDeferred queues the client's bottom half for the next drain.
func (k *Kernel) ScheduleDeferred(h DeferredHandle) {
	if int(h) < 0 || int(h) >= len(k.deferred.clients) {
		log.L.Error("deferred-bad-handle", "handle", int(h))
		return
	}

	k.deferred.pending = append(k.deferred.pending, h)
}

// drainDeferred runs every bottom half that was pending when the drain
// started. Work scheduled during the drain waits for the next one, so
// a self-rescheduling client cannot starve the processes.
func (k *Kernel) drainDeferred() {
	n := len(k.deferred.pending)
	if n == 0 {
		return
	}

	batch := k.deferred.pending[:n]
	k.deferred.pending = k.deferred.pending[n:]

	for _, h := range batch {
		log.L.Trace("deferred-run", "handle", int(h))
		k.deferred.clients[h].HandleDeferred()
	}
}

// DeferredPending reports whether any bottom-half work is queued.
func (k *Kernel) DeferredPending() bool {
	return len(k.deferred.pending) > 0
}

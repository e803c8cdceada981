package capsules

import (
	"io"

	"github.com/RaresCon/tock/abi"
	"github.com/RaresCon/tock/kernel"
	"github.com/RaresCon/tock/log"
)

const (
	RngDriver uint32 = 0x40001

	rngCmdExists uint32 = 0
	rngCmdGet    uint32 = 1

	RngBuffer uint32 = 0
	RngDone   uint32 = 0
)

// Rng fills a process-shared buffer from an entropy source. The fill
// runs as a deferred call; the done upcall reports how many bytes
// landed.
type Rng struct {
	k   *kernel.Kernel
	src io.Reader

	handle kernel.DeferredHandle
	queue  []rngRequest
}

type rngRequest struct {
	p *kernel.Process
	n uint32
}

func NewRng(k *kernel.Kernel, src io.Reader) *Rng {
	r := &Rng{k: k, src: src}
	r.handle = k.RegisterDeferred(r)

	return r
}

func (r *Rng) Command(p *kernel.Process, cmd, arg0, arg1 uint32) abi.SyscallReturn {
	switch cmd {
	case rngCmdExists:
		return abi.Ok()

	case rngCmdGet:
		r.queue = append(r.queue, rngRequest{p: p, n: arg0})
		r.k.ScheduleDeferred(r.handle)

		return abi.Ok()
	}

	return abi.Failed(abi.NoSupport)
}

func (r *Rng) Subscribe(p *kernel.Process, sub uint32) abi.SyscallReturn {
	if sub != RngDone {
		return abi.Failed(abi.NoSupport)
	}

	return abi.Ok()
}

func (r *Rng) AllowReadWrite(p *kernel.Process, id uint32, buf []byte) abi.SyscallReturn {
	if id != RngBuffer {
		return abi.Failed(abi.NoSupport)
	}

	return abi.Ok()
}

func (r *Rng) AllowReadOnly(p *kernel.Process, id uint32, buf []byte) abi.SyscallReturn {
	return abi.Failed(abi.NoSupport)
}

func (r *Rng) HandleDeferred() {
	batch := r.queue
	r.queue = nil

	for _, req := range batch {
		r.fill(req.p, req.n)
	}
}

func (r *Rng) fill(p *kernel.Process, n uint32) {
	var filled uint32

	err := p.WithReadWrite(RngDriver, RngBuffer, func(buf []byte) {
		want := int(n)
		if want > len(buf) {
			want = len(buf)
		}

		got, rerr := io.ReadFull(r.src, buf[:want])
		if rerr != nil {
			log.L.Error("rng-source-failed", "error", rerr)
		}

		filled = uint32(got)
	})
	if err != nil {
		return
	}

	if err := r.k.ScheduleUpcall(p, RngDriver, RngDone, [3]uint32{filled}); err != nil {
		log.L.Debug("rng-upcall-skipped", "process", p.Name, "error", err)
	}
}

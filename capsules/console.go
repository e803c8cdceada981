package capsules

import (
	"encoding/binary"
	"io"

	"github.com/RaresCon/tock/abi"
	"github.com/RaresCon/tock/kernel"
	"github.com/RaresCon/tock/log"
)

// Console driver numbers and calls.
const (
	ConsoleDriver uint32 = 0x1

	consoleCmdExists uint32 = 0
	consoleCmdWrite  uint32 = 1

	ConsoleWriteBuffer uint32 = 1
	ConsoleWriteDone   uint32 = 1
)

// Console streams process output to the board's debug writer. A write
// is: allow a read-only buffer, subscribe to the completion callback,
// command the length. The copy to the writer happens in a deferred
// call, never inside the command syscall, and completion arrives as an
// upcall on the next yield.
type Console struct {
	k *kernel.Kernel
	w io.Writer

	handle kernel.DeferredHandle
	queue  []*kernel.Process
}

func NewConsole(k *kernel.Kernel, w io.Writer) *Console {
	c := &Console{k: k, w: w}
	c.handle = k.RegisterDeferred(c)

	return c
}

// Per-process grant layout: one word holding the pending write length,
// zero when idle.
const consoleGrantSize = 8

func (c *Console) Command(p *kernel.Process, cmd, arg0, arg1 uint32) abi.SyscallReturn {
	switch cmd {
	case consoleCmdExists:
		return abi.Ok()

	case consoleCmdWrite:
		ret := abi.Ok()

		err := p.Grant(ConsoleDriver, consoleGrantSize, func(g []byte) {
			if binary.LittleEndian.Uint32(g) != 0 {
				ret = abi.Failed(abi.Busy)
				return
			}

			binary.LittleEndian.PutUint32(g, arg0)
		})
		if err != nil {
			return abi.Failed(abi.NoMem)
		}

		if ret.Failed() {
			return ret
		}

		c.queue = append(c.queue, p)
		c.k.ScheduleDeferred(c.handle)

		return ret
	}

	return abi.Failed(abi.NoSupport)
}

func (c *Console) Subscribe(p *kernel.Process, sub uint32) abi.SyscallReturn {
	if sub != ConsoleWriteDone {
		return abi.Failed(abi.NoSupport)
	}

	return abi.Ok()
}

func (c *Console) AllowReadWrite(p *kernel.Process, id uint32, buf []byte) abi.SyscallReturn {
	return abi.Failed(abi.NoSupport)
}

func (c *Console) AllowReadOnly(p *kernel.Process, id uint32, buf []byte) abi.SyscallReturn {
	if id != ConsoleWriteBuffer {
		return abi.Failed(abi.NoSupport)
	}

	return abi.Ok()
}

// HandleDeferred performs the queued writes and schedules the
// completion upcalls.
func (c *Console) HandleDeferred() {
	batch := c.queue
	c.queue = nil

	for _, p := range batch {
		c.complete(p)
	}
}

func (c *Console) complete(p *kernel.Process) {
	var length uint32

	err := p.GrantIfAllocated(ConsoleDriver, func(g []byte) {
		length = binary.LittleEndian.Uint32(g)
		binary.LittleEndian.PutUint32(g, 0)
	})
	if err != nil {
		// The process restarted between command and completion; its
		// grant is gone and so is the write.
		return
	}

	if length == 0 {
		return
	}

	var written uint32

	err = p.WithReadOnly(ConsoleDriver, ConsoleWriteBuffer, func(buf []byte) {
		n := int(length)
		if n > len(buf) {
			n = len(buf)
		}

		w, werr := c.w.Write(buf[:n])
		if werr != nil {
			log.L.Error("console-write-failed", "error", werr)
		}

		written = uint32(w)
	})
	if err != nil {
		return
	}

	if err := c.k.ScheduleUpcall(p, ConsoleDriver, ConsoleWriteDone, [3]uint32{written}); err != nil {
		log.L.Debug("console-upcall-skipped", "process", p.Name, "error", err)
	}
}

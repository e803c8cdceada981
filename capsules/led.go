package capsules

import (
	"github.com/RaresCon/tock/abi"
	"github.com/RaresCon/tock/kernel"
)

const (
	LedDriver uint32 = 0x2

	ledCmdCount  uint32 = 0
	ledCmdOn     uint32 = 1
	ledCmdOff    uint32 = 2
	ledCmdToggle uint32 = 3
)

// Led is the smallest possible capsule: synchronous commands flipping
// board LEDs, no buffers, no upcalls.
type Led struct {
	state []bool
}

func NewLed(count int) *Led {
	return &Led{state: make([]bool, count)}
}

// Lit reports the current state of one LED.
func (l *Led) Lit(i int) bool {
	if i < 0 || i >= len(l.state) {
		return false
	}

	return l.state[i]
}

func (l *Led) Command(p *kernel.Process, cmd, arg0, arg1 uint32) abi.SyscallReturn {
	if cmd == ledCmdCount {
		return abi.OkWithValue(uint32(len(l.state)))
	}

	if int(arg0) >= len(l.state) {
		return abi.Failed(abi.Invalid)
	}

	switch cmd {
	case ledCmdOn:
		l.state[arg0] = true
	case ledCmdOff:
		l.state[arg0] = false
	case ledCmdToggle:
		l.state[arg0] = !l.state[arg0]
	default:
		return abi.Failed(abi.NoSupport)
	}

	return abi.Ok()
}

func (l *Led) Subscribe(p *kernel.Process, sub uint32) abi.SyscallReturn {
	return abi.Failed(abi.NoSupport)
}

func (l *Led) AllowReadWrite(p *kernel.Process, id uint32, buf []byte) abi.SyscallReturn {
	return abi.Failed(abi.NoSupport)
}

func (l *Led) AllowReadOnly(p *kernel.Process, id uint32, buf []byte) abi.SyscallReturn {
	return abi.Failed(abi.NoSupport)
}

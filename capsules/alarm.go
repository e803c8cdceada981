package capsules

import (
	"github.com/RaresCon/tock/abi"
	"github.com/RaresCon/tock/kernel"
	"github.com/RaresCon/tock/log"
	"github.com/RaresCon/tock/platform"
)

const (
	AlarmDriver uint32 = 0x0

	alarmCmdExists uint32 = 0
	alarmCmdNow    uint32 = 1
	alarmCmdSet    uint32 = 2
	alarmCmdStop   uint32 = 3

	AlarmFired uint32 = 0
)

// Alarm exposes the board tick source. Setting an alarm arms the
// hardware timer; expiry is observed by the kernel between dispatches
// and surfaces as an upcall. An expiry only counts if the slot still
// holds the same arming: stop, re-arm and process restart all
// invalidate alarms that were in flight.
type Alarm struct {
	k     *kernel.Kernel
	timer platform.Timer

	// per slot index; an in-flight alarm fires only if both fields
	// still match at expiry
	armed map[int]arming
}

type arming struct {
	gen      uint64
	restarts int
}

func NewAlarm(k *kernel.Kernel) *Alarm {
	return &Alarm{
		k:     k,
		timer: k.Timer(),
		armed: make(map[int]arming),
	}
}

func (a *Alarm) Command(p *kernel.Process, cmd, arg0, arg1 uint32) abi.SyscallReturn {
	switch cmd {
	case alarmCmdExists:
		return abi.Ok()

	case alarmCmdNow:
		return abi.OkWithValue(uint32(a.timer.Now()))

	case alarmCmdSet:
		at := a.timer.Now() + uint64(arg0)

		cur := arming{gen: a.armed[p.Index].gen + 1, restarts: p.Restarts()}
		a.armed[p.Index] = cur

		a.timer.SetAlarm(at, func() {
			a.fire(p, cur, at)
		})

		// Tick values cross the syscall boundary as words and wrap at
		// 32 bits, like the hardware counter they mirror.
		return abi.OkWithValue(uint32(at))

	case alarmCmdStop:
		cur := a.armed[p.Index]
		cur.gen++
		a.armed[p.Index] = cur

		return abi.Ok()
	}

	return abi.Failed(abi.NoSupport)
}

func (a *Alarm) fire(p *kernel.Process, armed arming, at uint64) {
	if a.armed[p.Index] != armed || p.Restarts() != armed.restarts {
		// Disarmed, re-armed or restarted since; this expiry belongs
		// to an arming that no longer exists.
		return
	}

	err := a.k.ScheduleUpcall(p, AlarmDriver, AlarmFired, [3]uint32{uint32(at), uint32(a.timer.Now())})
	if err != nil {
		log.L.Debug("alarm-upcall-skipped", "process", p.Name, "error", err)
	}
}

func (a *Alarm) Subscribe(p *kernel.Process, sub uint32) abi.SyscallReturn {
	if sub != AlarmFired {
		return abi.Failed(abi.NoSupport)
	}

	return abi.Ok()
}

func (a *Alarm) AllowReadWrite(p *kernel.Process, id uint32, buf []byte) abi.SyscallReturn {
	return abi.Failed(abi.NoSupport)
}

func (a *Alarm) AllowReadOnly(p *kernel.Process, id uint32, buf []byte) abi.SyscallReturn {
	return abi.Failed(abi.NoSupport)
}

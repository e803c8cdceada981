package capsules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"

	"github.com/RaresCon/tock/abi"
	"github.com/RaresCon/tock/kernel"
	"github.com/RaresCon/tock/platform"
	"github.com/RaresCon/tock/platform/sim"
)

func TestAlarm(t *testing.T) {
	n := neko.Modern(t)

	n.It("wakes a yielded process when the alarm expires", func(t *testing.T) {
		k, chip := testBoard(t)
		require.NoError(t, k.Register(AlarmDriver, NewAlarm(k)))

		p := loadProc(t, k, "sleepy", nil)

		chip.Scripts().AddProcess(p.Index, []sim.Op{
			sim.Subscribe(AlarmDriver, AlarmFired, sim.UpcallBase+1, 0),
			sim.Command(AlarmDriver, 2, 500, 0),
			sim.Yield(abi.YieldWait),
		})

		require.NoError(t, k.Run(context.Background()))

		del := chip.Scripts().Delivered(p.Index)
		require.Len(t, del, 1)
		require.Equal(t, uint32(500), del[0].Args[0])

		require.True(t, chip.Clock().Now() >= 500)
	})

	n.It("drops an expiry superseded by stop or re-arm", func(t *testing.T) {
		k, chip := testBoard(t)
		require.NoError(t, k.Register(AlarmDriver, NewAlarm(k)))

		p := loadProc(t, k, "rearm", nil)

		chip.Scripts().AddProcess(p.Index, []sim.Op{
			sim.Subscribe(AlarmDriver, AlarmFired, sim.UpcallBase+1, 0),
			sim.Command(AlarmDriver, 2, 500, 0),
			sim.Command(AlarmDriver, 3, 0, 0),
			sim.Command(AlarmDriver, 2, 100, 0),
			sim.Yield(abi.YieldWait),
		})

		require.NoError(t, k.Run(context.Background()))

		// Only the live arm fires; the stopped 500 tick alarm expires
		// silently later.
		del := chip.Scripts().Delivered(p.Index)
		require.Len(t, del, 1)
		require.Equal(t, uint32(100), del[0].Args[0])
	})

	n.It("drops an expiry armed by a previous incarnation", func(t *testing.T) {
		k, chip := testBoardPolicy(t, kernel.FaultPolicy{Action: kernel.RestartLimit, MaxRestarts: 1})

		a := NewAlarm(k)
		require.NoError(t, k.Register(AlarmDriver, a))

		p := loadProc(t, k, "stale", nil)

		// Armed before the crash; the restarted incarnation never
		// re-arms but does re-subscribe.
		require.False(t, a.Command(p, 2, 100, 0).Failed())

		chip.Scripts().AddProcess(p.Index, []sim.Op{
			sim.Subscribe(AlarmDriver, AlarmFired, sim.UpcallBase+1, 0),
			sim.Crash(platform.FaultProtection),
		})

		require.NoError(t, k.Run(context.Background()))

		// The run slept through the expiry; the upcall must not reach
		// the new incarnation.
		require.True(t, chip.Clock().Now() >= 100)
		require.Equal(t, 1, p.Restarts())
		require.Equal(t, 0, p.Pending())
		require.Empty(t, chip.Scripts().Delivered(p.Index))
	})

	n.It("reports the current tick count", func(t *testing.T) {
		k, _ := testBoard(t)

		a := NewAlarm(k)
		p := loadProc(t, k, "now", nil)

		ret := a.Command(p, 1, 0, 0)
		require.Equal(t, abi.SuccessWithValue, ret.Variant)
		require.Equal(t, uint32(0), ret.Values[0])
	})

	n.It("rejects unknown calls", func(t *testing.T) {
		k, _ := testBoard(t)

		a := NewAlarm(k)
		p := loadProc(t, k, "ids", nil)

		require.Equal(t, abi.NoSupport, a.Command(p, 9, 0, 0).Error())
		require.Equal(t, abi.NoSupport, a.Subscribe(p, 1).Error())
		require.Equal(t, abi.NoSupport, a.AllowReadWrite(p, 0, nil).Error())
		require.Equal(t, abi.NoSupport, a.AllowReadOnly(p, 0, nil).Error())
	})

	n.Meow()
}

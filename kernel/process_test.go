package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"

	"github.com/RaresCon/tock/abi"
	"github.com/RaresCon/tock/platform"
	"github.com/RaresCon/tock/platform/sim"
)

func TestProcessStateMachine(t *testing.T) {
	n := neko.Modern(t)

	n.It("walks unstarted to running to yielded", func(t *testing.T) {
		conf := testConfig()
		k, chip := bootKernel(t, 8*1024, conf)
		require.NoError(t, k.Register(7, &testDriver{}))

		p := loadApp(t, k, "app", 1024, 256)
		chip.Scripts().AddProcess(p.Index, []sim.Op{
			sim.Subscribe(7, 0, sim.UpcallBase+1, 0),
			sim.Yield(abi.YieldWait),
		})

		require.Equal(t, Unstarted, p.State())

		require.NoError(t, k.dispatch(chip.MPU(), p))
		require.Equal(t, Running, p.State())

		require.NoError(t, k.dispatch(chip.MPU(), p))
		require.Equal(t, Yielded, p.State())

		// Parked with nothing pending: not schedulable.
		require.False(t, p.schedulable())

		require.NoError(t, k.ScheduleUpcall(p, 7, 0, [3]uint32{42}))
		require.True(t, p.schedulable())
	})

	n.It("stops a faulting process under the stop policy", func(t *testing.T) {
		conf := testConfig()
		conf.Policy = FaultPolicy{Action: Stop}

		k, chip := bootKernel(t, 8*1024, conf)
		p := loadApp(t, k, "app", 1024, 256)

		chip.Scripts().AddProcess(p.Index, []sim.Op{
			sim.Crash(platform.FaultIllegalInstruction),
		})

		require.NoError(t, k.dispatch(chip.MPU(), p))
		require.Equal(t, Stopped, p.State())
		require.Equal(t, 1, p.Faults())
		require.False(t, p.schedulable())
	})

	n.It("restarts forever under restart-always", func(t *testing.T) {
		conf := testConfig()
		conf.Policy = FaultPolicy{Action: RestartAlways}

		k, chip := bootKernel(t, 8*1024, conf)
		p := loadApp(t, k, "app", 1024, 256)

		chip.Scripts().AddProcess(p.Index, []sim.Op{
			sim.Crash(platform.FaultProtection),
		})

		for i := 1; i <= 5; i++ {
			require.NoError(t, k.dispatch(chip.MPU(), p))
			require.Equal(t, Unstarted, p.State())
			require.Equal(t, i, p.Faults())
		}
	})

	n.It("exhausts the restart budget and stops", func(t *testing.T) {
		conf := testConfig()
		conf.Policy = FaultPolicy{Action: RestartLimit, MaxRestarts: 2}

		k, chip := bootKernel(t, 8*1024, conf)
		p := loadApp(t, k, "app", 1024, 256)

		chip.Scripts().AddProcess(p.Index, []sim.Op{
			sim.Crash(platform.FaultProtection),
		})

		require.NoError(t, k.dispatch(chip.MPU(), p))
		require.Equal(t, Unstarted, p.State())

		require.NoError(t, k.dispatch(chip.MPU(), p))
		require.Equal(t, Unstarted, p.State())

		require.NoError(t, k.dispatch(chip.MPU(), p))
		require.Equal(t, Stopped, p.State())
		require.Equal(t, 3, p.Faults())
	})

	n.It("resets grants, upcalls and the break across a restart", func(t *testing.T) {
		conf := testConfig()
		conf.Policy = FaultPolicy{Action: RestartAlways}

		k, chip := bootKernel(t, 8*1024, conf)

		drv := &testDriver{
			onCommand: func(p *Process, cmd, arg0, arg1 uint32) abi.SyscallReturn {
				if err := p.Grant(7, 16, func(g []byte) { g[0] = 1 }); err != nil {
					return abi.Failed(abi.NoMem)
				}

				if err := k.ScheduleUpcall(p, 7, 0, [3]uint32{1}); err != nil {
					return abi.Failed(abi.NoMem)
				}

				return abi.Ok()
			},
		}
		require.NoError(t, k.Register(7, drv))

		p := loadApp(t, k, "app", 1024, 256)
		brk0 := p.Brk()

		chip.Scripts().AddProcess(p.Index, []sim.Op{
			sim.Subscribe(7, 0, sim.UpcallBase+1, 0),
			sim.Memop(abi.MemopSbrk, 64),
			sim.Command(7, 1, 0, 0),
			sim.Crash(platform.FaultProtection),
		})

		for i := 0; i < 3; i++ {
			require.NoError(t, k.dispatch(chip.MPU(), p))
		}

		require.True(t, p.GrantAllocated(7))
		require.Equal(t, 1, p.Pending())
		require.Equal(t, brk0+64, p.Brk())

		// The crash.
		require.NoError(t, k.dispatch(chip.MPU(), p))

		require.Equal(t, Unstarted, p.State())
		require.False(t, p.GrantAllocated(7))
		require.Equal(t, 0, p.Pending())
		require.Equal(t, brk0, p.Brk())
		require.Equal(t, p.RAM.End(), p.GrantTop())

		// Rerunning from the unmodified image reaches the entry point
		// and replays the same script.
		require.NoError(t, k.dispatch(chip.MPU(), p))
		require.Equal(t, Running, p.State())
		require.Equal(t, p.Entry+1, p.regs.PC)
	})

	n.Meow()
}

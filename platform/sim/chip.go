package sim

import "github.com/RaresCon/tock/platform"

// Chip wires the simulated clock, protection unit and executor into
// the platform.Chip contract the kernel consumes.
type Chip struct {
	clock *Clock
	mpu   *MPU
	exec  *Executor
}

func NewChip() *Chip {
	clock := NewClock()
	mpu := NewMPU()

	return &Chip{
		clock: clock,
		mpu:   mpu,
		exec:  NewExecutor(clock, mpu),
	}
}

func (c *Chip) MPU() platform.MPU {
	return c.mpu
}

func (c *Chip) Timer() platform.Timer {
	return c.clock
}

func (c *Chip) Executor() platform.Executor {
	return c.exec
}

// Sim accessors for tests and board demos.

func (c *Chip) Clock() *Clock {
	return c.clock
}

func (c *Chip) Regions() *MPU {
	return c.mpu
}

func (c *Chip) Scripts() *Executor {
	return c.exec
}

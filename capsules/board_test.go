package capsules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RaresCon/tock/image"
	"github.com/RaresCon/tock/kernel"
	"github.com/RaresCon/tock/mem"
	"github.com/RaresCon/tock/platform/sim"
)

func testBoard(t *testing.T) (*kernel.Kernel, *sim.Chip) {
	return testBoardPolicy(t, kernel.FaultPolicy{Action: kernel.Stop})
}

func testBoardPolicy(t *testing.T, policy kernel.FaultPolicy) (*kernel.Kernel, *sim.Chip) {
	chip := sim.NewChip()

	loader := image.NewLoader(
		mem.Range{Start: 0x30000, Size: 128 * 1024},
		mem.Range{Start: 0x20000000, Size: 16 * 1024},
		image.KernelVersion{Major: 2, Minor: 1},
		nil,
	)

	conf := kernel.Config{
		Slots:       4,
		Timeslice:   100,
		UpcallDepth: 4,
		Policy:      policy,
	}

	k, err := kernel.NewKernel(chip, loader, conf)
	require.NoError(t, err)

	return k, chip
}

// loadProc loads a minimal app. data, when non-nil, becomes the
// initialized data segment at the bottom of the process's RAM.
func loadProc(t *testing.T, k *kernel.Kernel, name string, data []byte) *kernel.Process {
	b := image.NewBuilder(name).RAM(1024, 256)
	if data != nil {
		b.Body(data, 0).Data(uint32(len(data)))
	}

	p, err := k.Load(b.Build())
	require.NoError(t, err)

	return p
}

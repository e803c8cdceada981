package mem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

func TestRange(t *testing.T) {
	n := neko.Modern(t)

	ram := Range{Start: 0x20000000, Size: 0x1000}

	n.It("contains addresses up to but not including the end", func(t *testing.T) {
		require.True(t, ram.Contains(0x20000000))
		require.True(t, ram.Contains(0x20000fff))
		require.False(t, ram.Contains(0x20001000))
		require.False(t, ram.Contains(0x1fffffff))
	})

	n.It("contains sub-ranges that fit exactly", func(t *testing.T) {
		require.True(t, ram.ContainsRange(Range{Start: 0x20000000, Size: 0x1000}))
		require.True(t, ram.ContainsRange(Range{Start: 0x20000ff0, Size: 0x10}))
		require.False(t, ram.ContainsRange(Range{Start: 0x20000ff0, Size: 0x11}))
	})

	n.It("rejects sizes that wrap the address space", func(t *testing.T) {
		require.False(t, ram.ContainsRange(Range{Start: 0x20000010, Size: math.MaxUint32}))
		require.False(t, ram.ContainsRange(Range{Start: 0x20000010, Size: 0xf0000000}))
	})

	n.It("treats empty ranges as non-overlapping", func(t *testing.T) {
		require.False(t, ram.Overlaps(Range{Start: 0x20000010, Size: 0}))
		require.False(t, Range{}.Overlaps(ram))
	})

	n.It("detects partial overlap in both directions", func(t *testing.T) {
		other := Range{Start: 0x20000f00, Size: 0x1000}

		require.True(t, ram.Overlaps(other))
		require.True(t, other.Overlaps(ram))

		require.False(t, ram.Overlaps(Range{Start: 0x20001000, Size: 0x1000}))
	})

	n.It("grants writes only through read-write windows", func(t *testing.T) {
		require.True(t, Window{Range: ram, Perms: ReadWrite}.Writable())
		require.False(t, Window{Range: ram, Perms: ReadOnly}.Writable())
		require.False(t, Window{Range: ram, Perms: ReadExecute}.Writable())
	})

	n.Meow()
}

package mem

// Range is a contiguous span of physical addresses.
type Range struct {
	Start, Size uint32
}

func (r Range) End() uint32 {
	return r.Start + r.Size
}

func (r Range) Contains(x uint32) bool {
	if x < r.Start {
		return false
	}

	if x >= r.Start+r.Size {
		return false
	}

	return true
}

// ContainsRange reports whether o lies entirely inside r. The empty
// range is contained anywhere its start is. Written with subtraction
// so a size near the top of the address space cannot wrap past the
// check.
func (r Range) ContainsRange(o Range) bool {
	if !r.Contains(o.Start) {
		return false
	}

	return o.Size <= r.Size-(o.Start-r.Start)
}

func (r Range) Overlaps(o Range) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}

	return r.Start < o.End() && o.Start < r.End()
}

type Perms uint8

const (
	ReadOnly Perms = iota
	ReadWrite
	ReadExecute
)

var permNames = map[Perms]string{
	ReadOnly:    "r",
	ReadWrite:   "rw",
	ReadExecute: "rx",
}

func (p Perms) String() string {
	return permNames[p]
}

// Window is one protection-unit region: an address range plus the
// access the owning process is granted inside it.
type Window struct {
	Range
	Perms Perms
}

// Writable reports whether stores are allowed anywhere in the window.
func (w Window) Writable() bool {
	return w.Perms == ReadWrite
}

package kernel

import (
	"github.com/pkg/errors"

	"github.com/RaresCon/tock/abi"
)

var (
	ErrDriverExists = errors.New("driver number already registered")
	ErrTableSealed  = errors.New("dispatch table is sealed")
)

// Driver is the capability interface every capsule implements. The
// kernel validates driver ids and buffer ownership before any of these
// run, so a capsule only ever sees slices the calling process owns.
// Return values flow back to the process unchanged.
type Driver interface {
	Command(p *Process, cmd, arg0, arg1 uint32) abi.SyscallReturn
	Subscribe(p *Process, sub uint32) abi.SyscallReturn
	AllowReadWrite(p *Process, id uint32, buf []byte) abi.SyscallReturn
	AllowReadOnly(p *Process, id uint32, buf []byte) abi.SyscallReturn
}

// DriverTable routes a numeric driver id to its capsule in O(1).
// Populated during board init, sealed when the scheduler starts;
// registration is the only mutation it ever sees.
type DriverTable struct {
	drivers map[uint32]Driver
	sealed  bool
}

func NewDriverTable() *DriverTable {
	return &DriverTable{
		drivers: make(map[uint32]Driver),
	}
}

func (t *DriverTable) Register(num uint32, d Driver) error {
	if t.sealed {
		return errors.Wrapf(ErrTableSealed, "driver %#x", num)
	}

	if _, ok := t.drivers[num]; ok {
		return errors.Wrapf(ErrDriverExists, "driver %#x", num)
	}

	t.drivers[num] = d

	return nil
}

func (t *DriverTable) Lookup(num uint32) (Driver, bool) {
	d, ok := t.drivers[num]
	return d, ok
}

func (t *DriverTable) seal() {
	t.sealed = true
}

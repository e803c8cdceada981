package kernel

import (
	"github.com/pkg/errors"
)

var ErrNoBuffer = errors.New("no buffer shared for this allow id")

// Allowed buffers are kernel state, keyed by (driver, buffer id) and
// cleared on every process reset, so a capsule can never hold a slice
// into a process instance that no longer exists. Capsules see the
// slice during the allow call for validation and afterwards reach the
// current buffer only through these scoped borrows.

type allowTables struct {
	rw map[subKey][]byte
	ro map[subKey][]byte
}

func newAllowTables() allowTables {
	return allowTables{
		rw: make(map[subKey][]byte),
		ro: make(map[subKey][]byte),
	}
}

// WithReadWrite borrows the buffer the process currently shares
// read-write with the capsule. The borrow ends when fn returns.
func (p *Process) WithReadWrite(driver, id uint32, fn func(buf []byte)) error {
	buf, ok := p.allows.rw[subKey{driver: driver, sub: id}]
	if !ok {
		return errors.Wrapf(ErrNoBuffer, "driver %#x rw buffer %d, process %s", driver, id, p.Name)
	}

	fn(buf)

	return nil
}

// WithReadOnly is WithReadWrite for read-only shares. The capsule gets
// the same slice but the contract is that it only reads.
func (p *Process) WithReadOnly(driver, id uint32, fn func(buf []byte)) error {
	buf, ok := p.allows.ro[subKey{driver: driver, sub: id}]
	if !ok {
		return errors.Wrapf(ErrNoBuffer, "driver %#x ro buffer %d, process %s", driver, id, p.Name)
	}

	fn(buf)

	return nil
}

// storeAllow commits a validated buffer after the capsule approved the
// share. A nil buffer revokes the share.
func (p *Process) storeAllow(table map[subKey][]byte, driver, id uint32, buf []byte) {
	key := subKey{driver: driver, sub: id}

	if buf == nil {
		delete(table, key)
		return
	}

	table[key] = buf
}

package image

import (
	"encoding/binary"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/RaresCon/tock/log"
	"github.com/RaresCon/tock/mem"
)

var ErrFootprintTooLarge = errors.New("image footprint exceeds available memory")

// Loaded is the placement the loader produced for one accepted image.
// The kernel turns it into a process descriptor.
type Loaded struct {
	Header *Header

	// Assigned windows. Flash holds the unmodified image, RAM is the
	// process's exclusive working memory.
	Flash mem.Range
	RAM   mem.Range

	// Entry is the absolute entry point inside Flash.
	Entry uint32

	// Image is the raw image, kept for restarts. Never mutated.
	Image []byte

	// Data is the image's initialized data segment with position
	// independence relocations already applied for the RAM placement.
	Data []byte
}

// Loader hands out disjoint flash and RAM windows from the board's app
// regions. A failed load leaves the watermarks untouched so other
// images are unaffected.
type Loader struct {
	L hclog.Logger

	kernel KernelVersion
	flash  mem.Range
	ram    mem.Range

	nextFlash uint32
	nextRAM   uint32

	cache *HeaderCache
}

func NewLoader(flash, ram mem.Range, kernel KernelVersion, cache *HeaderCache) *Loader {
	return &Loader{
		L:         log.L,
		kernel:    kernel,
		flash:     flash,
		ram:       ram,
		nextFlash: flash.Start,
		nextRAM:   ram.Start,
		cache:     cache,
	}
}

// RemainingRAM reports how much app RAM is still unassigned.
func (l *Loader) RemainingRAM() uint32 {
	return l.ram.End() - l.nextRAM
}

func align8(x uint32) uint32 {
	return (x + 7) &^ 7
}

// Load validates one image and assigns it flash and RAM windows.
// Errors distinguish malformed headers, unsupported version
// requirements, checksum mismatches and footprints that exceed the
// remaining board memory; all of them fail only this image.
func (l *Loader) Load(img []byte) (*Loaded, error) {
	hdr, err := l.parse(img)
	if err != nil {
		return nil, err
	}

	if hdr.MinKernel.Major > l.kernel.Major ||
		(hdr.MinKernel.Major == l.kernel.Major && hdr.MinKernel.Minor > l.kernel.Minor) {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "image %q needs kernel %d.%d, have %d.%d",
			hdr.Name, hdr.MinKernel.Major, hdr.MinKernel.Minor, l.kernel.Major, l.kernel.Minor)
	}

	flashSize := align8(hdr.TotalSize)
	if flashSize > l.flash.End()-l.nextFlash {
		return nil, errors.Wrapf(ErrFootprintTooLarge, "image %q wants %d bytes of flash, %d free",
			hdr.Name, flashSize, l.flash.End()-l.nextFlash)
	}

	// Summed in uint64: a declaration near the top of the address
	// space must read as a 4GB footprint, not wrap into a tiny one.
	need := (uint64(hdr.MinRAM) + uint64(hdr.StackSize) + 7) &^ 7
	if need == 0 || need > uint64(l.RemainingRAM()) {
		return nil, errors.Wrapf(ErrFootprintTooLarge, "image %q wants %d bytes of RAM, %d free",
			hdr.Name, need, l.RemainingRAM())
	}

	ramSize := uint32(need)

	data := append([]byte(nil), img[hdr.HeaderSize:uint32(hdr.HeaderSize)+hdr.DataSize]...)

	ramStart := l.nextRAM

	if hdr.Pic() {
		if err := relocate(data, hdr, ramStart); err != nil {
			return nil, err
		}
	}

	loaded := &Loaded{
		Header: hdr,
		Flash:  mem.Range{Start: l.nextFlash, Size: flashSize},
		RAM:    mem.Range{Start: ramStart, Size: ramSize},
		Entry:  l.nextFlash + hdr.Entry,
		Image:  img[:hdr.TotalSize],
		Data:   data,
	}

	l.nextFlash += flashSize
	l.nextRAM += ramSize

	l.L.Debug("image-loaded", "name", hdr.Name,
		"flash", loaded.Flash.Start, "flash-size", loaded.Flash.Size,
		"ram", loaded.RAM.Start, "ram-size", loaded.RAM.Size)

	return loaded, nil
}

func (l *Loader) parse(img []byte) (*Header, error) {
	if l.cache == nil {
		return ParseHeader(img)
	}

	key := cacheKey(img)

	if hdr, ok := l.cache.Lookup(key); ok {
		l.L.Trace("image-header-cached", "key", key)
		return hdr, nil
	}

	hdr, err := ParseHeader(img)
	if err != nil {
		return nil, err
	}

	l.cache.Set(key, hdr)

	return hdr, nil
}

// relocate rebases every recorded word in the data segment by the
// distance between the linked and the actual RAM placement. This is
// the only mutation the loader performs on image contents.
func relocate(data []byte, hdr *Header, ramStart uint32) error {
	delta := ramStart - hdr.LinkedRAM

	for _, off := range hdr.Relocations {
		if int(off)+4 > len(data) {
			return errors.Wrapf(ErrMalformedHeader, "relocation at %#x outside data segment", off)
		}

		word := binary.LittleEndian.Uint32(data[off:])
		binary.LittleEndian.PutUint32(data[off:], word+delta)
	}

	return nil
}

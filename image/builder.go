package image

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Builder assembles a well-formed image in memory. The build tooling
// that produces real app images lives outside the kernel; this exists
// for board demos and tests.
type Builder struct {
	name      string
	entryOff  uint32
	minRAM    uint32
	stackSize uint32
	dataSize  uint32
	minKernel *KernelVersion
	body      []byte
	checksum  bool
	linkedRAM uint32
	relocs    []uint32
	storage   []uint32

	raw []rawRecord
}

type rawRecord struct {
	tag uint16
	val []byte
}

func NewBuilder(name string) *Builder {
	return &Builder{
		name:      name,
		minRAM:    512,
		stackSize: 256,
	}
}

// Body sets the image body. entryOff is the entry point offset within
// the body.
func (b *Builder) Body(body []byte, entryOff uint32) *Builder {
	b.body = body
	b.entryOff = entryOff
	return b
}

func (b *Builder) RAM(minRAM, stackSize uint32) *Builder {
	b.minRAM = minRAM
	b.stackSize = stackSize
	return b
}

// Data declares the first dataSize bytes of the body as the
// initialized data segment the loader copies into process RAM.
func (b *Builder) Data(dataSize uint32) *Builder {
	b.dataSize = dataSize
	return b
}

func (b *Builder) MinKernel(major, minor uint16) *Builder {
	b.minKernel = &KernelVersion{Major: major, Minor: minor}
	return b
}

func (b *Builder) Checksum() *Builder {
	b.checksum = true
	return b
}

// Relocations marks the image position independent: words at the given
// body offsets hold addresses linked against linkedRAM.
func (b *Builder) Relocations(linkedRAM uint32, offsets ...uint32) *Builder {
	b.linkedRAM = linkedRAM
	b.relocs = offsets
	return b
}

func (b *Builder) Storage(ids ...uint32) *Builder {
	b.storage = ids
	return b
}

// Record appends an arbitrary TLV record, including tags this kernel
// does not know about.
func (b *Builder) Record(tag uint16, val []byte) *Builder {
	b.raw = append(b.raw, rawRecord{tag: tag, val: val})
	return b
}

func record(tag uint16, val []byte) []byte {
	out := make([]byte, tlvHeaderSize+len(val))
	binary.LittleEndian.PutUint16(out[0:], tag)
	binary.LittleEndian.PutUint16(out[2:], uint16(len(val)))
	copy(out[tlvHeaderSize:], val)
	return out
}

func (b *Builder) Build() []byte {
	body := b.body
	if body == nil {
		body = make([]byte, 16)
	}

	var records []byte

	main := make([]byte, 16)
	// Entry is patched below once the header size is known.
	binary.LittleEndian.PutUint32(main[4:], b.minRAM)
	binary.LittleEndian.PutUint32(main[8:], b.stackSize)
	binary.LittleEndian.PutUint32(main[12:], b.dataSize)
	records = append(records, record(TagMain, main)...)
	entryAt := uint32(fixedHeaderSize + tlvHeaderSize)

	if b.name != "" {
		records = append(records, record(TagPackageName, []byte(b.name))...)
	}

	if b.minKernel != nil {
		val := make([]byte, 4)
		binary.LittleEndian.PutUint16(val[0:], b.minKernel.Major)
		binary.LittleEndian.PutUint16(val[2:], b.minKernel.Minor)
		records = append(records, record(TagMinKernelVers, val)...)
	}

	if len(b.relocs) > 0 {
		val := make([]byte, 4+4*len(b.relocs))
		binary.LittleEndian.PutUint32(val[0:], b.linkedRAM)
		for i, off := range b.relocs {
			binary.LittleEndian.PutUint32(val[4+4*i:], off)
		}
		records = append(records, record(TagPicReloc, val)...)
	}

	if len(b.storage) > 0 {
		val := make([]byte, 4*len(b.storage))
		for i, id := range b.storage {
			binary.LittleEndian.PutUint32(val[4*i:], id)
		}
		records = append(records, record(TagStoragePerms, val)...)
	}

	for _, r := range b.raw {
		records = append(records, record(r.tag, r.val)...)
	}

	if b.checksum {
		sum := blake2b.Sum256(body)
		records = append(records, record(TagChecksum, sum[:])...)
	}

	headerSize := uint32(fixedHeaderSize + len(records))
	totalSize := headerSize + uint32(len(body))

	img := make([]byte, 0, totalSize)
	hdr := make([]byte, fixedHeaderSize)
	binary.LittleEndian.PutUint16(hdr[0:], FormatVersion)
	binary.LittleEndian.PutUint16(hdr[2:], uint16(headerSize))
	binary.LittleEndian.PutUint32(hdr[4:], totalSize)

	img = append(img, hdr...)
	img = append(img, records...)
	img = append(img, body...)

	binary.LittleEndian.PutUint32(img[entryAt:], headerSize+b.entryOff)

	return img
}

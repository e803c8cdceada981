package image

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Images start with a fixed 8-byte header followed by a sequence of
// type-length-value records filling the rest of the declared header
// size. The format is little-endian throughout and must stay
// bit-compatible across kernel versions within the same major version.
const (
	FormatVersion = 2

	fixedHeaderSize = 8
	tlvHeaderSize   = 4
)

// TLV record types. Unknown types are skipped, not rejected, so old
// kernels keep loading images produced by newer toolchains.
const (
	TagMain          uint16 = 1
	TagPackageName   uint16 = 3
	TagChecksum      uint16 = 5
	TagPicReloc      uint16 = 6
	TagStoragePerms  uint16 = 7
	TagMinKernelVers uint16 = 8
)

var (
	ErrMalformedHeader    = errors.New("malformed image header")
	ErrUnsupportedVersion = errors.New("unsupported version requirement")
	ErrChecksumMismatch   = errors.New("image checksum mismatch")
)

type KernelVersion struct {
	Major, Minor uint16
}

// Header is the decoded image header. All offsets are relative to the
// start of the image.
type Header struct {
	Version    uint16
	HeaderSize uint16
	TotalSize  uint32

	// From the Main record.
	Entry     uint32
	MinRAM    uint32
	StackSize uint32
	DataSize  uint32

	Name      string
	MinKernel KernelVersion

	// Checksum is the blake2b-256 digest of the image body, nil when
	// the image carries no checksum record.
	Checksum []byte

	// Position-independence data: addresses in the initialized data
	// segment were linked against LinkedRAM and need rebasing to the
	// actual RAM placement.
	LinkedRAM   uint32
	Relocations []uint32

	StorageIDs []uint32
}

// Pic reports whether the image carries relocation data.
func (h *Header) Pic() bool {
	return len(h.Relocations) > 0
}

// ParseHeader decodes and structurally validates the header at the
// start of flash. It does not check the image against board resources,
// that is the loader's job.
func ParseHeader(flash []byte) (*Header, error) {
	if len(flash) < fixedHeaderSize {
		return nil, errors.Wrapf(ErrMalformedHeader, "image too short: %d bytes", len(flash))
	}

	var h Header

	h.Version = binary.LittleEndian.Uint16(flash[0:])
	h.HeaderSize = binary.LittleEndian.Uint16(flash[2:])
	h.TotalSize = binary.LittleEndian.Uint32(flash[4:])

	if h.Version != FormatVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "image format version %d", h.Version)
	}

	if int(h.HeaderSize) < fixedHeaderSize || uint32(h.HeaderSize) > h.TotalSize {
		return nil, errors.Wrapf(ErrMalformedHeader, "header size %d outside image of %d bytes",
			h.HeaderSize, h.TotalSize)
	}

	if h.TotalSize > uint32(len(flash)) {
		return nil, errors.Wrapf(ErrMalformedHeader, "declared size %d exceeds flash slice of %d bytes",
			h.TotalSize, len(flash))
	}

	var sawMain bool

	rest := flash[fixedHeaderSize:h.HeaderSize]

	for len(rest) > 0 {
		if len(rest) < tlvHeaderSize {
			return nil, errors.Wrap(ErrMalformedHeader, "truncated record header")
		}

		tag := binary.LittleEndian.Uint16(rest[0:])
		length := binary.LittleEndian.Uint16(rest[2:])

		rest = rest[tlvHeaderSize:]

		if int(length) > len(rest) {
			return nil, errors.Wrapf(ErrMalformedHeader, "record %d of %d bytes overruns header", tag, length)
		}

		val := rest[:length]
		rest = rest[length:]

		switch tag {
		case TagMain:
			if length != 16 {
				return nil, errors.Wrapf(ErrMalformedHeader, "main record is %d bytes", length)
			}

			h.Entry = binary.LittleEndian.Uint32(val[0:])
			h.MinRAM = binary.LittleEndian.Uint32(val[4:])
			h.StackSize = binary.LittleEndian.Uint32(val[8:])
			h.DataSize = binary.LittleEndian.Uint32(val[12:])

			sawMain = true

		case TagPackageName:
			h.Name = string(val)

		case TagChecksum:
			if length != blake2b.Size256 {
				return nil, errors.Wrapf(ErrMalformedHeader, "checksum record is %d bytes", length)
			}

			h.Checksum = append([]byte(nil), val...)

		case TagPicReloc:
			if length < 4 || length%4 != 0 {
				return nil, errors.Wrapf(ErrMalformedHeader, "relocation record is %d bytes", length)
			}

			h.LinkedRAM = binary.LittleEndian.Uint32(val[0:])

			for off := 4; off < int(length); off += 4 {
				h.Relocations = append(h.Relocations, binary.LittleEndian.Uint32(val[off:]))
			}

		case TagStoragePerms:
			if length%4 != 0 {
				return nil, errors.Wrapf(ErrMalformedHeader, "storage record is %d bytes", length)
			}

			for off := 0; off < int(length); off += 4 {
				h.StorageIDs = append(h.StorageIDs, binary.LittleEndian.Uint32(val[off:]))
			}

		case TagMinKernelVers:
			if length != 4 {
				return nil, errors.Wrapf(ErrMalformedHeader, "kernel version record is %d bytes", length)
			}

			h.MinKernel.Major = binary.LittleEndian.Uint16(val[0:])
			h.MinKernel.Minor = binary.LittleEndian.Uint16(val[2:])

		default:
			// Unknown record, skip. Forward compatibility.
		}
	}

	if !sawMain {
		return nil, errors.Wrap(ErrMalformedHeader, "no main record")
	}

	if h.Entry < uint32(h.HeaderSize) || h.Entry >= h.TotalSize {
		return nil, errors.Wrapf(ErrMalformedHeader, "entry point %#x outside image body", h.Entry)
	}

	if h.DataSize > h.TotalSize-uint32(h.HeaderSize) {
		return nil, errors.Wrapf(ErrMalformedHeader, "data segment of %d bytes exceeds image body", h.DataSize)
	}

	if h.DataSize > h.MinRAM {
		return nil, errors.Wrapf(ErrMalformedHeader, "data segment of %d bytes exceeds declared RAM of %d",
			h.DataSize, h.MinRAM)
	}

	if h.Checksum != nil {
		sum := blake2b.Sum256(flash[h.HeaderSize:h.TotalSize])
		if !bytes.Equal(sum[:], h.Checksum) {
			return nil, errors.Wrapf(ErrChecksumMismatch, "image %q", h.Name)
		}
	}

	return &h, nil
}

package image

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

func TestParseHeader(t *testing.T) {
	n := neko.Modern(t)

	n.It("decodes the fixed fields and main record", func(t *testing.T) {
		img := NewBuilder("app").
			Body([]byte("payload!"), 2).
			Data(4).
			RAM(1024, 256).
			MinKernel(2, 1).
			Build()

		hdr, err := ParseHeader(img)
		require.NoError(t, err)

		require.Equal(t, uint16(FormatVersion), hdr.Version)
		require.Equal(t, "app", hdr.Name)
		require.Equal(t, uint32(1024), hdr.MinRAM)
		require.Equal(t, uint32(256), hdr.StackSize)
		require.Equal(t, uint32(4), hdr.DataSize)
		require.Equal(t, KernelVersion{Major: 2, Minor: 1}, hdr.MinKernel)
		require.Equal(t, uint32(hdr.HeaderSize)+2, hdr.Entry)
		require.Equal(t, uint32(len(img)), hdr.TotalSize)
	})

	n.It("skips records it does not know", func(t *testing.T) {
		img := NewBuilder("app").
			Record(0x7f00, []byte{1, 2, 3, 4, 5}).
			Build()

		hdr, err := ParseHeader(img)
		require.NoError(t, err)
		require.Equal(t, "app", hdr.Name)
	})

	n.It("rejects images that are too short", func(t *testing.T) {
		_, err := ParseHeader([]byte{1, 2, 3})
		require.Equal(t, ErrMalformedHeader, errors.Cause(err))
	})

	n.It("rejects unknown format versions", func(t *testing.T) {
		img := NewBuilder("app").Build()
		binary.LittleEndian.PutUint16(img[0:], 9)

		_, err := ParseHeader(img)
		require.Equal(t, ErrUnsupportedVersion, errors.Cause(err))
	})

	n.It("rejects a header size past the image end", func(t *testing.T) {
		img := NewBuilder("app").Build()
		binary.LittleEndian.PutUint16(img[2:], uint16(len(img)+8))

		_, err := ParseHeader(img)
		require.Equal(t, ErrMalformedHeader, errors.Cause(err))
	})

	n.It("rejects a total size past the flash slice", func(t *testing.T) {
		img := NewBuilder("app").Build()
		binary.LittleEndian.PutUint32(img[4:], uint32(len(img)+64))

		_, err := ParseHeader(img)
		require.Equal(t, ErrMalformedHeader, errors.Cause(err))
	})

	n.It("rejects a record overrunning the header", func(t *testing.T) {
		img := NewBuilder("app").Build()

		// Corrupt the main record length so it runs past the header.
		binary.LittleEndian.PutUint16(img[fixedHeaderSize+2:], 60000)

		_, err := ParseHeader(img)
		require.Equal(t, ErrMalformedHeader, errors.Cause(err))
	})

	n.It("rejects an image with no main record", func(t *testing.T) {
		// Raw header with a single unknown record.
		img := make([]byte, 24)
		binary.LittleEndian.PutUint16(img[0:], FormatVersion)
		binary.LittleEndian.PutUint16(img[2:], 16)
		binary.LittleEndian.PutUint32(img[4:], 24)
		binary.LittleEndian.PutUint16(img[8:], 0x7f00)
		binary.LittleEndian.PutUint16(img[10:], 4)

		_, err := ParseHeader(img)
		require.Equal(t, ErrMalformedHeader, errors.Cause(err))
	})

	n.It("rejects an entry point outside the body", func(t *testing.T) {
		img := NewBuilder("app").Body([]byte("body"), 400).Build()

		_, err := ParseHeader(img)
		require.Equal(t, ErrMalformedHeader, errors.Cause(err))
	})

	n.It("rejects a data segment bigger than declared RAM", func(t *testing.T) {
		img := NewBuilder("app").
			Body(make([]byte, 64), 0).
			Data(64).
			RAM(32, 16).
			Build()

		_, err := ParseHeader(img)
		require.Equal(t, ErrMalformedHeader, errors.Cause(err))
	})

	n.It("verifies the body checksum when present", func(t *testing.T) {
		img := NewBuilder("app").
			Body([]byte("genuine body"), 0).
			Checksum().
			Build()

		_, err := ParseHeader(img)
		require.NoError(t, err)

		// Flip one body byte.
		img[len(img)-1] ^= 0xff

		_, err = ParseHeader(img)
		require.Equal(t, ErrChecksumMismatch, errors.Cause(err))
	})

	n.Meow()
}

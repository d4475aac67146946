// Package appimage wraps application firmware into the image format accepted
// by the over-the-air updater: a 32 byte header followed by the body, padded
// to 64 bytes.
package appimage

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/golang/glog"

	"github.com/cozmo-tools/fwpack/pkg/fileio"
	"github.com/cozmo-tools/fwpack/pkg/fwerr"
	"github.com/cozmo-tools/fwpack/pkg/pad"
)

const (
	HeaderSize = 32
	// Alignment of the padded body.
	Alignment = 64
	// MaxImageSize is the largest image whose size fits the header.
	MaxImageSize = math.MaxInt32

	// Unset is the value of a reserved header word as emitted. The updater
	// on the device later overwrites these words in flash, which is only
	// possible while they are still erased.
	Unset uint32 = 0xffffffff
	// Fill is used to pad the body.
	Fill byte = 0xff
)

var ErrNotAppImage = errors.New("not an app image")

// Header is serialized little-endian at the start of the image.
type Header struct {
	// TotalSize is the size of the whole image, header included.
	TotalSize int32
	// Reserved words, see Unset.
	Reserved [2]uint32
	// Digest is the SHA-1 of the padded body.
	Digest [sha1.Size]byte
}

// Pad returns body padded with Fill to a multiple of Alignment. An already
// aligned body still gets a whole block of padding: images built this way
// are already deployed, and their digests must stay reproducible.
func Pad(body []byte) []byte {
	return pad.To(body, len(body)+Alignment-len(body)%Alignment, Fill)
}

// Make wraps body into an app image.
func Make(body []byte) ([]byte, error) {
	padded := Pad(body)
	total := HeaderSize + len(padded)
	if total > MaxImageSize {
		return nil, fmt.Errorf("%w: image would be %d bytes, maximum is %d", fwerr.ErrSizeOverflow, total, MaxImageSize)
	}

	hdr := &Header{
		TotalSize: int32(total),
		Reserved:  [2]uint32{Unset, Unset},
		Digest:    sha1.Sum(padded),
	}
	buf := bytes.NewBuffer(make([]byte, 0, total))
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("could not serialize header: %w", err)
	}
	buf.Write(padded)

	glog.V(1).Infof("App image: %d byte body, %d bytes total, sha1 %x", len(body), total, hdr.Digest)
	return buf.Bytes(), nil
}

// Image is a parsed app image.
type Image struct {
	Header Header
	// Body is the padded body.
	Body []byte
}

// Parse reads and validates an app image.
func Parse(data []byte) (*Image, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrNotAppImage, len(data))
	}
	var hdr Header
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("could not read header: %w", err)
	}
	if int(hdr.TotalSize) != len(data) {
		return nil, fmt.Errorf("%w: header says %d bytes, image is %d", ErrNotAppImage, hdr.TotalSize, len(data))
	}
	body := data[HeaderSize:]
	if len(body)%Alignment != 0 {
		return nil, fmt.Errorf("%w: body length %d is not a multiple of %d", ErrNotAppImage, len(body), Alignment)
	}
	for i, w := range hdr.Reserved {
		if w != Unset {
			return nil, fmt.Errorf("reserved word %d is %08x, must be %08x for the updater", i, w, Unset)
		}
	}
	if sum := sha1.Sum(body); sum != hdr.Digest {
		return nil, fmt.Errorf("digest mismatch: header has %x, body hashes to %x", hdr.Digest, sum)
	}
	return &Image{
		Header: hdr,
		Body:   body,
	}, nil
}

// FixImage wraps the body at in and writes the image to out.
func FixImage(in, out string) error {
	body, err := fileio.Read(in)
	if err != nil {
		return err
	}
	image, err := Make(body)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	return fileio.WriteAtomic(out, image, 0644)
}

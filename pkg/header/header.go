// Package header fills in the firmware image descriptor: the load address of
// the first body byte, the body length and the body's CRC-32. The bootloader
// uses it to validate an image before jumping to it.
package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/golang/glog"

	"github.com/cozmo-tools/fwpack/pkg/fileio"
	"github.com/cozmo-tools/fwpack/pkg/fwerr"
	"github.com/cozmo-tools/fwpack/pkg/rom"
)

const (
	// HeaderLength is the size of the fixed header at the start of the ROM
	// image. Everything after it is the body.
	HeaderLength = 128
	// DescriptorSize is the serialized size of a Descriptor.
	DescriptorSize = 12
)

// Descriptor is serialized little-endian at the descriptor site.
type Descriptor struct {
	LoadAddress uint32
	BodyLength  uint32
	Checksum    uint32
}

func (d Descriptor) String() string {
	return fmt.Sprintf("load %08x, body %d bytes, crc32 %08x", d.LoadAddress, d.BodyLength, d.Checksum)
}

// Compute returns the descriptor for a ROM image loaded at base.
func Compute(data []byte, base uint32) (Descriptor, error) {
	if len(data) < HeaderLength {
		return Descriptor{}, fmt.Errorf("%w: ROM image is %d bytes, shorter than its %d byte header", fwerr.ErrMalformedELF, len(data), HeaderLength)
	}
	body := data[HeaderLength:]
	return Descriptor{
		LoadAddress: base + HeaderLength,
		BodyLength:  uint32(len(body)),
		Checksum:    crc32.ChecksumIEEE(body),
	}, nil
}

func checkSite(buf []byte, site int) error {
	// The descriptor must not overlap the body, otherwise writing it would
	// change the checksum it carries.
	if site < 0 || site+DescriptorSize > HeaderLength || site+DescriptorSize > len(buf) {
		return fmt.Errorf("%w: descriptor at %d does not fit in the %d byte header", fwerr.ErrMalformedELF, site, HeaderLength)
	}
	return nil
}

// Put writes d at site.
func (d Descriptor) Put(buf []byte, site int) {
	binary.LittleEndian.PutUint32(buf[site:], d.LoadAddress)
	binary.LittleEndian.PutUint32(buf[site+4:], d.BodyLength)
	binary.LittleEndian.PutUint32(buf[site+8:], d.Checksum)
}

// Parse reads the descriptor stored at site.
func Parse(buf []byte, site int) (Descriptor, error) {
	if err := checkSite(buf, site); err != nil {
		return Descriptor{}, err
	}
	var d Descriptor
	if err := binary.Read(bytes.NewReader(buf[site:site+DescriptorSize]), binary.LittleEndian, &d); err != nil {
		return Descriptor{}, fmt.Errorf("could not read descriptor: %w", err)
	}
	return d, nil
}

// Fix computes the descriptor of a ROM image loaded at base and writes it at
// site. Fixing an already fixed image leaves it unchanged.
func Fix(data []byte, base uint32, site int) (Descriptor, error) {
	if err := checkSite(data, site); err != nil {
		return Descriptor{}, err
	}
	d, err := Compute(data, base)
	if err != nil {
		return Descriptor{}, err
	}
	d.Put(data, site)
	return d, nil
}

// Verify checks that the descriptor at site matches the image contents.
func Verify(data []byte, base uint32, site int) error {
	got, err := Parse(data, site)
	if err != nil {
		return err
	}
	want, err := Compute(data, base)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("descriptor mismatch: image has %s, contents need %s", got, want)
	}
	return nil
}

// FixELF fixes the descriptor of the ELF at in and writes the result to out,
// which may be the same path. It returns the flattened ROM image with the
// same descriptor applied. The input is never decompressed, since out
// receives it with only the descriptor changed.
func FixELF(in, out string, opts *rom.Options) (*rom.Image, error) {
	data, err := fileio.ReadRaw(in)
	if err != nil {
		return nil, err
	}
	img, err := rom.Read(bytes.NewReader(data), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in, err)
	}

	d, err := Fix(img.Data, img.Base, img.Site.ROMOffset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in, err)
	}
	if img.Site.FileOffset+DescriptorSize > int64(len(data)) {
		return nil, fmt.Errorf("%w: %s: descriptor at file offset %#x is past end of file", fwerr.ErrMalformedELF, in, img.Site.FileOffset)
	}
	d.Put(data, int(img.Site.FileOffset))
	glog.Infof("%s: %s", in, d)

	perm := os.FileMode(0644)
	if fi, err := os.Stat(in); err == nil {
		perm = fi.Mode().Perm()
	}
	if err := fileio.WriteAtomic(out, data, perm); err != nil {
		return nil, err
	}
	return img, nil
}

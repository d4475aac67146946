// Package bundle assembles OTA bundles: a primary image followed by payload
// images, each padded with erased-flash bytes up to a sector boundary.
//
// Two layouts are in use:
//
// Layout A:
//
//	0x0000  primary image, padded to 0xffc
//	0x0ffc  u32 total size of all payload regions
//	0x1000  payloads, each padded to its window
//
// Layout B:
//
//	0x0000  primary image, padded to 0xffc
//	0x0ffc  bootloader, padded to one sector
//	0x1ffc  u32 total size of all payload regions
//	0x2000  payloads, each padded to its window
package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"

	"github.com/cozmo-tools/fwpack/pkg/appimage"
	"github.com/cozmo-tools/fwpack/pkg/fileio"
	"github.com/cozmo-tools/fwpack/pkg/fwerr"
	"github.com/cozmo-tools/fwpack/pkg/pad"
)

const (
	SectorSize = 4096
	// SizeFieldSize is the size of the payload size field.
	SizeFieldSize = 4
	// PrimaryWindow is the space available for the primary image.
	PrimaryWindow = SectorSize - SizeFieldSize
	// Fill is the value of erased flash.
	Fill byte = 0xff

	// MaxSectors is the largest window the 32 bit size field can describe.
	MaxSectors = math.MaxUint32 / SectorSize

	// FactorySectors is the window of the factory firmware in bundles built
	// with layout A.
	FactorySectors = 72
)

type Layout int

const (
	LayoutA Layout = iota
	LayoutB
)

func (l Layout) String() string {
	switch l {
	case LayoutA:
		return "a"
	case LayoutB:
		return "b"
	}
	return "UNKNOWN"
}

// ParseLayout parses a layout name as returned by Layout.String.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "a":
		return LayoutA, nil
	case "b":
		return LayoutB, nil
	}
	return 0, fmt.Errorf("unknown layout %q (one of: a, b)", s)
}

// Payload is a named image placed after the primary image.
type Payload struct {
	Name string
	Data []byte
	// Sectors is the size of the window reserved for the payload. If zero,
	// the payload is rounded up to whole sectors.
	Sectors int
}

func (p *Payload) window() int {
	if p.Sectors == 0 {
		return pad.Up(len(p.Data), SectorSize)
	}
	return p.Sectors * SectorSize
}

// Bundle describes an OTA bundle to be assembled.
type Bundle struct {
	Layout  Layout
	Primary []byte
	// WrapPrimary wraps Primary into an app image before placing it.
	WrapPrimary bool
	// Bootloader is only used by LayoutB.
	Bootloader []byte
	Payloads   []*Payload
}

func overflow(format string, args ...any) error {
	return fmt.Errorf("%w: %s", fwerr.ErrSizeOverflow, fmt.Sprintf(format, args...))
}

// validate returns every problem with the bundle at once.
func (b *Bundle) validate(primary []byte) error {
	var errs error
	if len(primary) > PrimaryWindow {
		errs = multierror.Append(errs, overflow("primary image is %d bytes, window is %d", len(primary), PrimaryWindow))
	}
	switch b.Layout {
	case LayoutA:
		if b.Bootloader != nil {
			errs = multierror.Append(errs, fmt.Errorf("layout %s has no bootloader region", b.Layout))
		}
	case LayoutB:
		if b.Bootloader == nil {
			errs = multierror.Append(errs, fmt.Errorf("layout %s requires a bootloader", b.Layout))
		} else if len(b.Bootloader) > SectorSize {
			errs = multierror.Append(errs, overflow("bootloader is %d bytes, window is %d", len(b.Bootloader), SectorSize))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown layout %d", b.Layout))
	}

	if len(b.Payloads) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("bundle has no payloads"))
	}
	var total uint64
	for i, p := range b.Payloads {
		if p.Sectors < 0 {
			errs = multierror.Append(errs, fmt.Errorf("payload %d (%s): negative sector count %d", i, p.Name, p.Sectors))
			continue
		}
		if p.Sectors > MaxSectors {
			errs = multierror.Append(errs, overflow("payload %d (%s): %d sectors, at most %d fit the size field", i, p.Name, p.Sectors, MaxSectors))
			continue
		}
		if w := p.window(); len(p.Data) > w {
			errs = multierror.Append(errs, overflow("payload %d (%s) is %d bytes, window is %d (%d sectors)", i, p.Name, len(p.Data), w, p.Sectors))
		}
		total += uint64(p.window())
	}
	if total > math.MaxUint32 {
		errs = multierror.Append(errs, overflow("payloads total %d bytes, size field is 32 bits", total))
	}
	return errs
}

// Serialize assembles the bundle. Nothing is returned unless every region
// fits its window.
func (b *Bundle) Serialize() ([]byte, error) {
	primary := b.Primary
	if b.WrapPrimary {
		var err error
		primary, err = appimage.Make(primary)
		if err != nil {
			return nil, fmt.Errorf("could not wrap primary image: %w", err)
		}
	}
	if err := b.validate(primary); err != nil {
		return nil, err
	}

	var payloadSize uint32
	for _, p := range b.Payloads {
		payloadSize += uint32(p.window())
	}

	buf := bytes.NewBuffer(nil)
	switch b.Layout {
	case LayoutA:
		buf.Write(pad.To(primary, PrimaryWindow, Fill))
		binary.Write(buf, binary.LittleEndian, payloadSize)
	case LayoutB:
		buf.Write(pad.To(primary, PrimaryWindow, Fill))
		buf.Write(pad.To(b.Bootloader, SectorSize, Fill))
		binary.Write(buf, binary.LittleEndian, payloadSize)
	}

	for _, p := range b.Payloads {
		glog.V(1).Infof("Payload %s: %d bytes at %#x, window %#x", p.Name, len(p.Data), buf.Len(), p.window())
		buf.Write(pad.To(p.Data, p.window(), Fill))
	}

	res := buf.Bytes()
	glog.Infof("Assembled layout %s bundle: %d payloads, %d bytes", b.Layout, len(b.Payloads), len(res))
	return res, nil
}

// Info describes an assembled layout A bundle.
type Info struct {
	// PayloadSize is the value of the size field.
	PayloadSize uint32
	// Primary is the primary app image, or nil if the primary image is not
	// wrapped.
	Primary *appimage.Image
}

// Inspect checks the size field and sector alignment of a layout A bundle.
func Inspect(data []byte) (*Info, error) {
	if len(data) < SectorSize || len(data)%SectorSize != 0 {
		return nil, fmt.Errorf("bundle is %d bytes, not a whole number of sectors", len(data))
	}
	size := binary.LittleEndian.Uint32(data[PrimaryWindow:])
	if want := uint32(len(data) - SectorSize); size != want {
		return nil, fmt.Errorf("size field is %d, payloads span %d bytes", size, want)
	}

	info := &Info{PayloadSize: size}
	total := int32(binary.LittleEndian.Uint32(data))
	if total >= appimage.HeaderSize && int(total) <= PrimaryWindow {
		if img, err := appimage.Parse(data[:total]); err == nil {
			info.Primary = img
		}
	}
	return info, nil
}

// Source describes where to load a payload from.
type Source struct {
	Name    string
	Path    string
	Sectors int
}

// Load reads the payload described by s.
func (s Source) Load() (*Payload, error) {
	data, err := fileio.Read(s.Path)
	if err != nil {
		return nil, err
	}
	return &Payload{
		Name:    s.Name,
		Data:    data,
		Sectors: s.Sectors,
	}, nil
}

// LoadAll reads all payloads, reporting every one that fails.
func LoadAll(srcs []Source) ([]*Payload, error) {
	var errs error
	var res []*Payload
	for _, s := range srcs {
		p, err := s.Load()
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		res = append(res, p)
	}
	if errs != nil {
		return nil, errs
	}
	return res, nil
}

// AssembleFile serializes b and writes it to out. On failure, out is left
// untouched.
func AssembleFile(b *Bundle, out string) error {
	data, err := b.Serialize()
	if err != nil {
		return err
	}
	return fileio.WriteAtomic(out, data, 0644)
}

// Package rom flattens a linked firmware ELF into the contiguous ROM image
// that gets written to flash, and locates the firmware header descriptor
// inside it.
//
// The linker script reserves a preamble at the start of the ER_IROM1 region.
// The assembler puts a four byte tag ("CZM0") at offset 4 of that region, and
// leaves the three-word image descriptor at offset 12 blank. See the header
// package for how the descriptor gets filled in.
package rom

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/golang/glog"

	"github.com/cozmo-tools/fwpack/pkg/fileio"
	"github.com/cozmo-tools/fwpack/pkg/fwerr"
)

const (
	// DefaultAddressCeiling excludes RAM windows: segments loaded at or
	// above it are not part of the ROM image.
	DefaultAddressCeiling = 0x40000

	// MagicSection is the section carrying the firmware header.
	MagicSection = "ER_IROM1"
	// Magic is the tag the assembler places in the firmware header.
	Magic = "CZM0"

	// Fill is the value of erased flash, used between segments.
	Fill byte = 0xff

	magicOffset = 4
	siteOffset  = 12
	siteSize    = 12
)

type Options struct {
	// AddressCeiling overrides DefaultAddressCeiling when non-zero.
	AddressCeiling uint64
}

func (o *Options) ceiling() uint64 {
	if o == nil || o.AddressCeiling == 0 {
		return DefaultAddressCeiling
	}
	return o.AddressCeiling
}

// Segment is the file contents of a loadable ELF segment.
type Segment struct {
	Addr uint64
	Data []byte
}

// Site is the location of the image descriptor, both within the ELF file and
// within the flattened ROM image.
type Site struct {
	FileOffset int64
	ROMOffset  int
}

// Image is a flattened ROM image.
type Image struct {
	// Base is the load address of Data[0].
	Base uint32
	Data []byte
	Site Site
}

// Extract reads the ELF at path and flattens it.
func Extract(path string, opts *Options) (*Image, error) {
	data, err := fileio.Read(path)
	if err != nil {
		return nil, err
	}
	img, err := Read(bytes.NewReader(data), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Read parses an ELF and flattens it.
func Read(r io.ReaderAt, opts *Options) (*Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fwerr.ErrMalformedELF, err)
	}
	defer f.Close()

	segs, err := Segments(f)
	if err != nil {
		return nil, err
	}
	base, data, err := Flatten(segs, opts.ceiling())
	if err != nil {
		return nil, err
	}
	site, err := FindSite(f, r, base, len(data))
	if err != nil {
		return nil, err
	}
	glog.Infof("Flattened ROM: base %08x, %d bytes, descriptor at %x", base, len(data), site.ROMOffset)
	return &Image{
		Base: base,
		Data: data,
		Site: site,
	}, nil
}

// Segments returns the file contents of all PT_LOAD segments, in program
// header order. Segments without file contents (eg. BSS) are skipped.
func Segments(f *elf.File) ([]Segment, error) {
	var res []Segment
	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil {
			return nil, fmt.Errorf("%w: could not read segment %d: %w", fwerr.ErrMalformedELF, i, err)
		}
		glog.V(1).Infof("Segment %d: vaddr %08x, %d bytes", i, p.Vaddr, p.Filesz)
		res = append(res, Segment{
			Addr: p.Vaddr,
			Data: data,
		})
	}
	return res, nil
}

// Flatten lays out all segments loaded below ceiling into a single buffer
// starting at the lowest segment address. Gaps are filled with Fill; where
// segments overlap, the later one wins.
func Flatten(segs []Segment, ceiling uint64) (uint32, []byte, error) {
	var kept []Segment
	for _, s := range segs {
		if s.Addr >= ceiling {
			glog.V(1).Infof("Skipping segment at %08x (above ceiling %08x)", s.Addr, ceiling)
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return 0, nil, fmt.Errorf("%w: no loadable segments below %#x", fwerr.ErrMalformedELF, ceiling)
	}

	base := uint64(math.MaxUint64)
	end := uint64(0)
	for _, s := range kept {
		base = min(base, s.Addr)
		end = max(end, s.Addr+uint64(len(s.Data)))
	}
	if end > math.MaxUint32 {
		return 0, nil, fmt.Errorf("%w: ROM image ends at %#x, beyond 32-bit address space", fwerr.ErrMalformedELF, end)
	}

	data := bytes.Repeat([]byte{Fill}, int(end-base))
	for _, s := range kept {
		copy(data[s.Addr-base:], s.Data)
	}
	return uint32(base), data, nil
}

// FindSite locates the image descriptor via the ER_IROM1 section, checking
// that the firmware header tag is present.
func FindSite(f *elf.File, r io.ReaderAt, base uint32, size int) (Site, error) {
	sec := f.Section(MagicSection)
	if sec == nil {
		return Site{}, missingHeader(f, "no %s section", MagicSection)
	}

	tag := make([]byte, len(Magic))
	if _, err := r.ReadAt(tag, int64(sec.Offset)+magicOffset); err != nil {
		return Site{}, missingHeader(f, "could not read tag: %v", err)
	}
	if string(tag) != Magic {
		return Site{}, missingHeader(f, "tag at %s+%d is %q, want %q", MagicSection, magicOffset, tag, Magic)
	}

	site := Site{
		FileOffset: int64(sec.Offset) + siteOffset,
		ROMOffset:  int(int64(sec.Addr)-int64(base)) + siteOffset,
	}
	if site.ROMOffset < 0 || site.ROMOffset+siteSize > size {
		return Site{}, fmt.Errorf("%w: %s at %#x lies outside the ROM image", fwerr.ErrMalformedELF, MagicSection, sec.Addr)
	}
	return site, nil
}

func missingHeader(f *elf.File, format string, args ...any) error {
	var names []string
	for _, s := range f.Sections {
		if s.Name != "" {
			names = append(names, s.Name)
		}
	}
	return fmt.Errorf("%w: missing firmware header: %s (sections: %s)", fwerr.ErrMalformedELF, fmt.Sprintf(format, args...), strings.Join(names, ", "))
}

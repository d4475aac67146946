// Package romtest builds small ELF32 executables for tests of the image
// tooling.
package romtest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/cozmo-tools/fwpack/pkg/pad"
)

// Segment is a PT_LOAD program header and its file contents.
type Segment struct {
	Addr uint32
	Data []byte
}

// Section is a SHT_PROGBITS section placed Offset bytes into the contents of
// segment Segment.
type Section struct {
	Name    string
	Segment int
	Offset  int
	Size    int
}

const (
	ehsize    = 52
	phentsize = 32
	shentsize = 40
)

// BuildELF returns a little-endian ARM ELF32 executable with the given
// segments and sections, followed by a .shstrtab.
func BuildELF(segs []Segment, secs []Section) []byte {
	off := ehsize + phentsize*len(segs)
	segOffs := make([]int, len(segs))
	for i, s := range segs {
		off = pad.Up(off, 4)
		segOffs[i] = off
		off += len(s.Data)
	}

	strtab := []byte{0}
	var names []uint32
	for _, s := range secs {
		names = append(names, uint32(len(strtab)))
		strtab = append(strtab, append([]byte(s.Name), 0)...)
	}
	strtabName := uint32(len(strtab))
	strtab = append(strtab, append([]byte(".shstrtab"), 0)...)
	strtabOff := off
	off += len(strtab)
	shoff := pad.Up(off, 4)
	shnum := len(secs) + 2

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var entry uint32
	if len(segs) > 0 {
		entry = segs[0].Addr
	}

	buf := bytes.NewBuffer(nil)
	binary.Write(buf, binary.LittleEndian, &elf.Header32{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_ARM),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehsize,
		Shoff:     uint32(shoff),
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(len(segs)),
		Shentsize: shentsize,
		Shnum:     uint16(shnum),
		Shstrndx:  uint16(shnum - 1),
	})
	for i, s := range segs {
		binary.Write(buf, binary.LittleEndian, &elf.Prog32{
			Type:   uint32(elf.PT_LOAD),
			Off:    uint32(segOffs[i]),
			Vaddr:  s.Addr,
			Paddr:  s.Addr,
			Filesz: uint32(len(s.Data)),
			Memsz:  uint32(len(s.Data)),
			Flags:  uint32(elf.PF_R | elf.PF_X),
			Align:  4,
		})
	}
	for i, s := range segs {
		buf.Write(make([]byte, segOffs[i]-buf.Len()))
		buf.Write(s.Data)
	}
	buf.Write(strtab)
	buf.Write(make([]byte, shoff-buf.Len()))

	binary.Write(buf, binary.LittleEndian, &elf.Section32{})
	for i, s := range secs {
		binary.Write(buf, binary.LittleEndian, &elf.Section32{
			Name:      names[i],
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:      segs[s.Segment].Addr + uint32(s.Offset),
			Off:       uint32(segOffs[s.Segment] + s.Offset),
			Size:      uint32(s.Size),
			Addralign: 4,
		})
	}
	binary.Write(buf, binary.LittleEndian, &elf.Section32{
		Name:      strtabName,
		Type:      uint32(elf.SHT_STRTAB),
		Off:       uint32(strtabOff),
		Size:      uint32(len(strtab)),
		Addralign: 1,
	})
	return buf.Bytes()
}

// Firmware returns an ELF with a single ROM segment at base holding rom, an
// ER_IROM1 section covering it, and a RAM segment above the default address
// ceiling.
func Firmware(base uint32, rom []byte) []byte {
	return BuildELF([]Segment{
		{Addr: base, Data: rom},
		{Addr: 0x3fff0000, Data: bytes.Repeat([]byte{0x11}, 32)},
	}, []Section{
		{Name: "ER_IROM1", Segment: 0, Size: len(rom)},
		{Name: "RW_IRAM1", Segment: 1, Size: 32},
	})
}

// ROM returns a size-byte ROM body with the firmware header tag in place and
// a blank descriptor.
func ROM(size int) []byte {
	rom := make([]byte, size)
	for i := range rom {
		rom[i] = byte(i)
	}
	copy(rom[4:8], "CZM0")
	copy(rom[12:24], bytes.Repeat([]byte{0}, 12))
	return rom
}

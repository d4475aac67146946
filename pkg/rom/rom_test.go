package rom

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cozmo-tools/fwpack/pkg/fwerr"
	"github.com/cozmo-tools/fwpack/pkg/rom/romtest"
)

func testELF() ([]byte, []byte, []byte) {
	seg0 := romtest.ROM(256)
	seg1 := bytes.Repeat([]byte{0xab}, 16)
	data := romtest.BuildELF([]romtest.Segment{
		{Addr: 0x20000, Data: seg0},
		{Addr: 0x20200, Data: seg1},
		{Addr: 0x20000000, Data: bytes.Repeat([]byte{0x11}, 32)},
	}, []romtest.Section{
		{Name: "ER_IROM1", Segment: 0, Size: 256},
		{Name: "ER_IROM2", Segment: 1, Size: 16},
		{Name: "RW_IRAM1", Segment: 2, Size: 32},
	})
	return data, seg0, seg1
}

func TestRead(t *testing.T) {
	data, seg0, seg1 := testELF()

	img, err := Read(bytes.NewReader(data), nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if want := uint32(0x20000); img.Base != want {
		t.Errorf("Base = %#x, want %#x", img.Base, want)
	}
	if want := 0x210; len(img.Data) != want {
		t.Fatalf("len(Data) = %#x, want %#x", len(img.Data), want)
	}
	if !bytes.Equal(img.Data[:256], seg0) {
		t.Errorf("first segment not at start of image")
	}
	if !bytes.Equal(img.Data[256:512], bytes.Repeat([]byte{0xff}, 256)) {
		t.Errorf("gap between segments not filled with 0xff")
	}
	if !bytes.Equal(img.Data[512:], seg1) {
		t.Errorf("second segment not at %#x", 512)
	}

	if want := 12; img.Site.ROMOffset != want {
		t.Errorf("Site.ROMOffset = %d, want %d", img.Site.ROMOffset, want)
	}
	if want := int64(bytes.Index(data, []byte(Magic)) + 8); img.Site.FileOffset != want {
		t.Errorf("Site.FileOffset = %#x, want %#x", img.Site.FileOffset, want)
	}
}

func TestExtract(t *testing.T) {
	data, _, _ := testELF()
	path := filepath.Join(t.TempDir(), "fw.elf")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	img, err := Extract(path, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(img.Data) != 0x210 {
		t.Errorf("len(Data) = %#x", len(img.Data))
	}

	if _, err := Extract(filepath.Join(t.TempDir(), "missing.elf"), nil); !errors.Is(err, fwerr.ErrInputNotFound) {
		t.Errorf("Extract(missing) = %v, want ErrInputNotFound", err)
	}
}

func TestCeiling(t *testing.T) {
	data, seg0, _ := testELF()
	img, err := Read(bytes.NewReader(data), &Options{AddressCeiling: 0x20100})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(img.Data, seg0) {
		t.Errorf("segment above ceiling was included (len %#x)", len(img.Data))
	}
}

func TestMissingHeader(t *testing.T) {
	rom := romtest.ROM(64)
	for _, te := range []struct {
		name string
		data []byte
		want string
	}{
		{
			name: "no section",
			data: romtest.BuildELF([]romtest.Segment{{Addr: 0x1000, Data: rom}}, []romtest.Section{
				{Name: ".text", Segment: 0, Size: len(rom)},
			}),
			want: "no ER_IROM1 section (sections: .text, .shstrtab)",
		},
		{
			name: "bad tag",
			data: romtest.Firmware(0x1000, append([]byte("\x00\x00\x00\x00CZM1"), rom[8:]...)),
			want: `is "CZM1", want "CZM0"`,
		},
	} {
		_, err := Read(bytes.NewReader(te.data), nil)
		if !errors.Is(err, fwerr.ErrMalformedELF) {
			t.Errorf("%s: got %v, want ErrMalformedELF", te.name, err)
			continue
		}
		if !strings.Contains(err.Error(), "missing firmware header") || !strings.Contains(err.Error(), te.want) {
			t.Errorf("%s: error %q does not mention %q", te.name, err, te.want)
		}
	}
}

func TestNotELF(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("definitely not an ELF file")), nil)
	if !errors.Is(err, fwerr.ErrMalformedELF) {
		t.Errorf("got %v, want ErrMalformedELF", err)
	}
}

func TestFlatten(t *testing.T) {
	segs := []Segment{
		{Addr: 0x110, Data: []byte{1, 2, 3}},
		{Addr: 0x100, Data: []byte{4, 5, 6, 7}},
		{Addr: 0x102, Data: []byte{8}},
		{Addr: 0x40000, Data: []byte{9, 9, 9}},
	}
	base, data, err := Flatten(segs, DefaultAddressCeiling)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if base != 0x100 {
		t.Errorf("base = %#x, want 0x100", base)
	}
	want := []byte{
		4, 5, 8, 7, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		1, 2, 3,
	}
	if !bytes.Equal(data, want) {
		t.Errorf("data = %x, want %x", data, want)
	}

	if _, _, err := Flatten(segs[3:], DefaultAddressCeiling); !errors.Is(err, fwerr.ErrMalformedELF) {
		t.Errorf("Flatten with only RAM segments = %v, want ErrMalformedELF", err)
	}
}

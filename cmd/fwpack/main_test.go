package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cozmo-tools/fwpack/pkg/appimage"
	"github.com/cozmo-tools/fwpack/pkg/fwerr"
	"github.com/cozmo-tools/fwpack/pkg/header"
	"github.com/cozmo-tools/fwpack/pkg/rom/romtest"
)

func TestParseNumber(t *testing.T) {
	for _, te := range []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"0x40000", 0x40000, true},
		{"0X10", 0x10, true},
		{"4096", 4096, true},
		{"0xzz", 0, false},
		{"ten", 0, false},
		{"0x100000000", 0, false},
	} {
		got, err := parseNumber(te.in)
		if (err == nil) != te.ok {
			t.Errorf("parseNumber(%q): err %v", te.in, err)
			continue
		}
		if got != te.want {
			t.Errorf("parseNumber(%q) = %#x, want %#x", te.in, got, te.want)
		}
	}
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// Runs a firmware build from linked ELF to OTA bundle.
func TestPipeline(t *testing.T) {
	dir := t.TempDir()
	p := func(name string) string { return filepath.Join(dir, name) }

	if err := os.WriteFile(p("fw.elf"), romtest.Firmware(0x20000, romtest.ROM(512)), 0644); err != nil {
		t.Fatal(err)
	}
	key := "0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f\n"
	if err := os.WriteFile(p("key.txt"), []byte(key), 0600); err != nil {
		t.Fatal(err)
	}

	if err := run(t, "elf", p("fw.elf"), p("rom.bin")); err != nil {
		t.Fatalf("elf: %v", err)
	}
	romData, err := os.ReadFile(p("rom.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if len(romData) != 512 {
		t.Fatalf("ROM image is %d bytes, want 512", len(romData))
	}
	if err := header.Verify(romData, 0x20000, 12); err != nil {
		t.Errorf("ROM descriptor: %v", err)
	}

	if err := run(t, "appimage", p("rom.bin"), p("app.bin")); err != nil {
		t.Fatalf("appimage: %v", err)
	}
	if err := run(t, "verify", p("app.bin")); err != nil {
		t.Errorf("verify: %v", err)
	}
	app, err := os.ReadFile(p("app.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if img, err := appimage.Parse(app); err != nil {
		t.Errorf("Parse: %v", err)
	} else if !bytes.Equal(img.Body[:512], romData) {
		t.Errorf("app image body differs from ROM image")
	}

	if err := run(t, "sign", p("rom.bin"), p("signed.bin"), p("key.txt")); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := run(t, "decrypt", p("signed.bin"), p("plain.bin"), p("key.txt")); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	plain, err := os.ReadFile(p("plain.bin"))
	if err != nil {
		t.Fatal(err)
	}
	// The timestamp takes the place of the first 16 bytes of the body.
	if len(plain) != 516 || !bytes.Equal(plain[16:512], romData[16:]) {
		t.Errorf("decrypted region is %d bytes and does not hold the ROM image", len(plain))
	}

	if err := run(t, "bundle", "--layout", "a", p("app.bin"), p("ota.bin"), "fw="+p("rom.bin")+":1"); err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if err := run(t, "verify", "--bundle", p("ota.bin")); err != nil {
		t.Errorf("verify --bundle: %v", err)
	}
	if fi, err := os.Stat(p("ota.bin")); err != nil || fi.Size() != 8192 {
		t.Errorf("bundle: stat %v, %v", fi, err)
	}

	err = run(t, "sign", p("rom.bin"), p("other.bin"), p("missing.txt"))
	if got, want := fwerr.ExitCode(err), 2; got != want {
		t.Errorf("sign with missing key: exit code %d (%v), want %d", got, err, want)
	}
	if _, err := os.Stat(p("other.bin")); !os.IsNotExist(err) {
		t.Errorf("sign with missing key left output behind")
	}
}

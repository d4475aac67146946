package bundle

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"howett.net/plist"

	"github.com/cozmo-tools/fwpack/pkg/fileio"
)

// ParseSource parses a payload descriptor of the form [name=]path[:sectors].
// Without a name, the base name of path is used. Without a sector count, the
// payload is rounded up to whole sectors. Names cannot contain path
// separators, so an '=' after a separator is part of the path.
func ParseSource(s string) (Source, error) {
	var src Source
	if i := strings.IndexByte(s, '='); i >= 0 && !strings.ContainsAny(s[:i], pathSeparators) {
		src.Name, s = s[:i], s[i+1:]
	}
	if i := strings.LastIndexByte(s, ':'); i > 0 {
		if n, err := strconv.Atoi(s[i+1:]); err == nil {
			if n < 0 {
				return src, fmt.Errorf("bad sector count in %q", s)
			}
			if n > MaxSectors {
				return src, overflow("%q: %d sectors, at most %d fit the size field", s, n, MaxSectors)
			}
			src.Sectors = n
			s = s[:i]
		}
	}
	if s == "" {
		return src, fmt.Errorf("payload descriptor has no path")
	}
	src.Path = s
	if src.Name == "" {
		src.Name = filepath.Base(s)
	}
	return src, nil
}

const pathSeparators = "/" + string(filepath.Separator)

// Manifest is the property list form of a bundle description. Paths are
// relative to the manifest.
type Manifest struct {
	Layout      string            `plist:"Layout"`
	Primary     string            `plist:"Primary"`
	WrapPrimary bool              `plist:"WrapPrimary"`
	Bootloader  string            `plist:"Bootloader"`
	Payloads    []ManifestPayload `plist:"Payloads"`
}

type ManifestPayload struct {
	Name    string `plist:"Name"`
	Path    string `plist:"Path"`
	Sectors int    `plist:"Sectors"`
}

// LoadManifest reads a manifest and every file it references.
func LoadManifest(path string) (*Bundle, error) {
	data, err := fileio.Read(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if _, err := plist.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: could not parse manifest: %w", path, err)
	}

	dir := filepath.Dir(path)
	rel := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	var errs error
	layout, err := ParseLayout(m.Layout)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	if m.Primary == "" {
		errs = multierror.Append(errs, fmt.Errorf("no primary image"))
	}
	var srcs []Source
	for i, p := range m.Payloads {
		if p.Path == "" {
			errs = multierror.Append(errs, fmt.Errorf("payload %d has no path", i))
			continue
		}
		if p.Sectors < 0 {
			errs = multierror.Append(errs, fmt.Errorf("payload %d: negative sector count %d", i, p.Sectors))
			continue
		}
		if p.Sectors > MaxSectors {
			errs = multierror.Append(errs, overflow("payload %d: %d sectors, at most %d fit the size field", i, p.Sectors, MaxSectors))
			continue
		}
		name := p.Name
		if name == "" {
			name = filepath.Base(p.Path)
		}
		srcs = append(srcs, Source{Name: name, Path: rel(p.Path), Sectors: p.Sectors})
	}
	if errs != nil {
		return nil, fmt.Errorf("%s: %w", path, errs)
	}

	b := &Bundle{
		Layout:      layout,
		WrapPrimary: m.WrapPrimary,
	}
	if b.Primary, err = fileio.Read(rel(m.Primary)); err != nil {
		errs = multierror.Append(errs, err)
	}
	if m.Bootloader != "" {
		if b.Bootloader, err = fileio.Read(rel(m.Bootloader)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if b.Payloads, err = LoadAll(srcs); err != nil {
		errs = multierror.Append(errs, err)
	}
	if errs != nil {
		return nil, errs
	}
	return b, nil
}

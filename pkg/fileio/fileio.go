// Package fileio implements the input and output handling shared by all
// transforms: reading inputs (optionally xz-compressed) and writing outputs
// atomically, so that a failed run never leaves a partial artifact behind.
package fileio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/ulikunitz/xz"

	"github.com/cozmo-tools/fwpack/pkg/fwerr"
)

// ReadRaw returns the contents of path as stored on disk. Inputs that get
// rewritten in place must be read this way.
func ReadRaw(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", fwerr.ErrInputNotFound, path, err)
	}
	return data, nil
}

// Read returns the contents of path. Files ending in .xz are decompressed.
func Read(path string) ([]byte, error) {
	data, err := ReadRaw(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".xz") {
		glog.V(1).Infof("Read %s (%d bytes)", path, len(data))
		return data, nil
	}

	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: could not open xz stream: %w", fwerr.ErrInputNotFound, path, err)
	}
	res, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: could not decompress: %w", fwerr.ErrInputNotFound, path, err)
	}
	glog.V(1).Infof("Read %s (%d bytes, %d decompressed)", path, len(data), len(res))
	return res, nil
}

// WriteAtomic writes data to a temporary file next to path and renames it
// over path once fully written and synced.
func WriteAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", fwerr.ErrIOWrite, path, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("%w: %s: %w", fwerr.ErrIOWrite, path, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("%w: %s: %w", fwerr.ErrIOWrite, path, err)
	}
	if err = f.Chmod(perm); err != nil {
		return fmt.Errorf("%w: %s: %w", fwerr.ErrIOWrite, path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("%w: %s: %w", fwerr.ErrIOWrite, path, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %s: %w", fwerr.ErrIOWrite, path, err)
	}
	glog.V(1).Infof("Wrote %s (%d bytes)", path, len(data))
	return nil
}

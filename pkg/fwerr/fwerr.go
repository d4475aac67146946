// Package fwerr defines the failure classes shared by all image transforms,
// and maps them to process exit codes.
package fwerr

import "errors"

var (
	// ErrInputNotFound is returned when an input path does not exist or
	// cannot be read.
	ErrInputNotFound = errors.New("input not found")
	// ErrMalformedELF covers ELF parse failures and a missing or mismatched
	// firmware header tag.
	ErrMalformedELF = errors.New("malformed ELF")
	// ErrKeyFormat is returned for unparseable key files and keys of the
	// wrong length.
	ErrKeyFormat = errors.New("invalid key")
	// ErrSizeOverflow is returned when data does not fit its window.
	ErrSizeOverflow = errors.New("size overflow")
	// ErrIOWrite is returned when an output could not be written.
	ErrIOWrite = errors.New("could not write output")
)

var codes = []struct {
	err  error
	code int
}{
	{ErrInputNotFound, 2},
	{ErrMalformedELF, 3},
	{ErrKeyFormat, 4},
	{ErrSizeOverflow, 5},
	{ErrIOWrite, 6},
}

// ExitCode returns the process exit code for err: 0 for nil, a class-specific
// code for known failures and 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return 1
}

// Package blockfw produces encrypted block firmware images.
//
// An image is laid out as:
//
//	[timestamp(16)] [xxtea(key, timestamp(16) || body[16:] || pad)] [0xff]
//
// The plaintext timestamp lets tools correlate images with builds without the
// key. The encrypted copy lets the bootloader reject an image whose plaintext
// prefix was spliced from another build.
package blockfw

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/cozmo-tools/fwpack/pkg/fileio"
	"github.com/cozmo-tools/fwpack/pkg/fwerr"
	"github.com/cozmo-tools/fwpack/pkg/xxtea"
)

const (
	// TimestampLength is the size of the timestamp field, which also
	// replaces the first TimestampLength bytes of the body.
	TimestampLength = 16
	// TimestampFormat is ISO-8601 with minute resolution.
	TimestampFormat = "2006-01-02T15:04"
	// Terminator marks the logical end of the image in erased flash.
	Terminator byte = 0xff
)

var ErrTimestampMismatch = errors.New("encrypted timestamp does not match plaintext timestamp")

// ParseKey parses a key file: comma-separated hexadecimal byte literals, each
// optionally prefixed with 0x. Whitespace is ignored, as is a single trailing
// comma.
func ParseKey(data []byte) ([]byte, error) {
	s := strings.TrimSpace(string(data))
	s = strings.TrimSuffix(s, ",")
	if s == "" {
		return nil, fmt.Errorf("%w: empty key file", fwerr.ErrKeyFormat)
	}

	var key []byte
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lower := strings.ToLower(part)
		lower = strings.TrimPrefix(lower, "0x")
		v, err := strconv.ParseUint(lower, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: byte %d (%q) is not a hex byte literal", fwerr.ErrKeyFormat, i, part)
		}
		key = append(key, byte(v))
	}
	if len(key) != xxtea.KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", fwerr.ErrKeyFormat, len(key), xxtea.KeySize)
	}
	return key, nil
}

// LoadKey reads and parses the key file at path.
func LoadKey(path string) ([]byte, error) {
	data, err := fileio.Read(path)
	if err != nil {
		return nil, err
	}
	key, err := ParseKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// Timestamp renders t in TimestampFormat, NUL-padded to TimestampLength
// bytes.
func Timestamp(t time.Time) []byte {
	res := make([]byte, TimestampLength)
	copy(res, t.Format(TimestampFormat))
	return res
}

// Signer turns plain block firmware bodies into encrypted images.
type Signer struct {
	Key []byte
	// Now is the clock used for the image timestamp. If nil, time.Now is
	// used.
	Now func() time.Time
	// NoTerminator, if set, leaves off the Terminator byte at the end of the
	// image.
	NoTerminator bool
}

func (s *Signer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Plaintext returns the body that gets encrypted: the timestamp, the input
// past its first TimestampLength bytes, and NUL padding.
func Plaintext(ts, body []byte) []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(ts)
	if len(body) > TimestampLength {
		buf.Write(body[TimestampLength:])
	}
	// Legacy pad rule, byte-compatible with existing images: it tests bit 2
	// of the length instead of the remainder. The cipher then zero-fills to
	// whole words.
	buf.Write(make([]byte, 4-(buf.Len()&4)))
	if rem := buf.Len() % 4; rem != 0 {
		buf.Write(make([]byte, 4-rem))
	}
	return buf.Bytes()
}

// Sign returns the encrypted image for body.
func (s *Signer) Sign(body []byte) ([]byte, error) {
	ts := Timestamp(s.now())
	cipher, err := xxtea.Encrypt(Plaintext(ts, body), s.Key)
	if err != nil {
		if errors.Is(err, xxtea.ErrKeySize) {
			return nil, fmt.Errorf("%w: %w", fwerr.ErrKeyFormat, err)
		}
		return nil, fmt.Errorf("could not encrypt: %w", err)
	}
	glog.Infof("Signed %d byte body as %q, %d encrypted bytes", len(body), bytes.TrimRight(ts, "\x00"), len(cipher))

	res := make([]byte, 0, len(ts)+len(cipher)+1)
	res = append(res, ts...)
	res = append(res, cipher...)
	if !s.NoTerminator {
		res = append(res, Terminator)
	}
	return res, nil
}

// Open decrypts an image produced by Sign, returning its plaintext timestamp
// and the decrypted region (which starts with the same timestamp).
func Open(image, key []byte, terminated bool) (ts, plain []byte, err error) {
	if terminated {
		if len(image) == 0 || image[len(image)-1] != Terminator {
			return nil, nil, fmt.Errorf("image does not end with terminator %#02x", Terminator)
		}
		image = image[:len(image)-1]
	}
	if len(image) < TimestampLength {
		return nil, nil, fmt.Errorf("image is %d bytes, shorter than its timestamp", len(image))
	}
	ts = image[:TimestampLength]
	plain, err = xxtea.Decrypt(image[TimestampLength:], key)
	if err != nil {
		if errors.Is(err, xxtea.ErrKeySize) {
			return nil, nil, fmt.Errorf("%w: %w", fwerr.ErrKeyFormat, err)
		}
		return nil, nil, fmt.Errorf("could not decrypt: %w", err)
	}
	if !bytes.Equal(plain[:TimestampLength], ts) {
		return nil, nil, ErrTimestampMismatch
	}
	return ts, plain, nil
}

// SignFile signs the body at in with the key at keyPath and writes the image
// to out.
func (s *Signer) SignFile(in, out, keyPath string) error {
	key, err := LoadKey(keyPath)
	if err != nil {
		return err
	}
	body, err := fileio.Read(in)
	if err != nil {
		return err
	}
	signer := *s
	signer.Key = key
	image, err := signer.Sign(body)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	return fileio.WriteAtomic(out, image, 0644)
}

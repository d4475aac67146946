package xxtea

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	res, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return res
}

func TestVectors(t *testing.T) {
	for i, te := range []struct {
		key, plain, cipher string
	}{
		// All-zero key and block, 0x053704ab575d8c80 as big-endian words.
		{
			key:    "00000000000000000000000000000000",
			plain:  "0000000000000000",
			cipher: "ab043705808c5d57",
		},
		{
			key:    "11111111111111111111111111111111",
			plain:  "000102030405060708090a0b0c0d0e0f",
			cipher: "a8a4faf33ec62b805b54fe4e3d131991",
		},
	} {
		key, plain, cipher := mustHex(t, te.key), mustHex(t, te.plain), mustHex(t, te.cipher)
		got, err := Encrypt(plain, key)
		if err != nil {
			t.Errorf("%d: Encrypt: %v", i, err)
			continue
		}
		if !bytes.Equal(got, cipher) {
			t.Errorf("%d: Encrypt = %x, want %x", i, got, cipher)
		}
		got, err = Decrypt(cipher, key)
		if err != nil {
			t.Errorf("%d: Decrypt: %v", i, err)
			continue
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("%d: Decrypt = %x, want %x", i, got, plain)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	for _, size := range []int{8, 12, 52, 256, 4100} {
		plain := make([]byte, size)
		for i := range plain {
			plain[i] = byte(i * 7)
		}
		cipher, err := Encrypt(plain, key)
		if err != nil {
			t.Fatalf("Encrypt(%d): %v", size, err)
		}
		if len(cipher) != size {
			t.Errorf("Encrypt(%d) returned %d bytes", size, len(cipher))
		}
		if bytes.Equal(cipher, plain) {
			t.Errorf("Encrypt(%d) returned plaintext", size)
		}
		got, err := Decrypt(cipher, key)
		if err != nil {
			t.Fatalf("Decrypt(%d): %v", size, err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("round trip of %d bytes failed", size)
		}
	}
}

func TestSizes(t *testing.T) {
	key := make([]byte, KeySize)
	for _, size := range []int{0, 4, 7, 9, 15} {
		if _, err := Encrypt(make([]byte, size), key); !errors.Is(err, ErrDataSize) {
			t.Errorf("Encrypt(%d bytes) = %v, want ErrDataSize", size, err)
		}
	}
	if _, err := Encrypt(make([]byte, 8), make([]byte, 15)); !errors.Is(err, ErrKeySize) {
		t.Errorf("Encrypt with short key = %v, want ErrKeySize", err)
	}
}

// Package xxtea implements the XXTEA (Corrected Block TEA) block cipher over
// little-endian 32-bit words, as used by the block firmware bootloader.
//
// This is the raw cipher: data is not padded and no length word is appended,
// so ciphertext is exactly as long as plaintext.
package xxtea

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// KeySize is the size of an XXTEA key in bytes.
	KeySize = 16
	// MinSize is the smallest message the cipher accepts, in bytes.
	MinSize = 8

	delta = 0x9e3779b9
)

var (
	ErrKeySize  = errors.New("key must be 16 bytes")
	ErrDataSize = errors.New("data must be a multiple of 4 bytes, and at least 8 bytes long")
)

func mx(sum, y, z uint32, p int, e uint32, k *[4]uint32) uint32 {
	return ((z>>5 ^ y<<2) + (y>>3 ^ z<<4)) ^ ((sum ^ y) + (k[uint32(p&3)^e] ^ z))
}

func encrypt(v []uint32, k *[4]uint32) {
	n := len(v)
	var sum uint32
	z := v[n-1]
	for rounds := 6 + 52/n; rounds > 0; rounds-- {
		sum += delta
		e := (sum >> 2) & 3
		p := 0
		for ; p < n-1; p++ {
			y := v[p+1]
			v[p] += mx(sum, y, z, p, e, k)
			z = v[p]
		}
		y := v[0]
		v[n-1] += mx(sum, y, z, p, e, k)
		z = v[n-1]
	}
}

func decrypt(v []uint32, k *[4]uint32) {
	n := len(v)
	rounds := 6 + 52/n
	sum := uint32(rounds) * delta
	y := v[0]
	for ; rounds > 0; rounds-- {
		e := (sum >> 2) & 3
		p := n - 1
		for ; p > 0; p-- {
			z := v[p-1]
			v[p] -= mx(sum, y, z, p, e, k)
			y = v[p]
		}
		z := v[n-1]
		v[0] -= mx(sum, y, z, p, e, k)
		y = v[0]
		sum -= delta
	}
}

func prepare(data, key []byte) ([]uint32, *[4]uint32, error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("%w, got %d", ErrKeySize, len(key))
	}
	if len(data)%4 != 0 || len(data) < MinSize {
		return nil, nil, fmt.Errorf("%w, got %d", ErrDataSize, len(data))
	}
	var k [4]uint32
	for i := range k {
		k[i] = binary.LittleEndian.Uint32(key[i*4:])
	}
	v := make([]uint32, len(data)/4)
	for i := range v {
		v[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return v, &k, nil
}

func serialize(v []uint32) []byte {
	res := make([]byte, len(v)*4)
	for i, w := range v {
		binary.LittleEndian.PutUint32(res[i*4:], w)
	}
	return res
}

// Encrypt returns data encrypted with key.
func Encrypt(data, key []byte) ([]byte, error) {
	v, k, err := prepare(data, key)
	if err != nil {
		return nil, err
	}
	encrypt(v, k)
	return serialize(v), nil
}

// Decrypt returns data decrypted with key.
func Decrypt(data, key []byte) ([]byte, error) {
	v, k, err := prepare(data, key)
	if err != nil {
		return nil, err
	}
	decrypt(v, k)
	return serialize(v), nil
}

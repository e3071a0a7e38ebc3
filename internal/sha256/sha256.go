// Package sha256 implements the content-addressable hashing utility
// of spec.md §4.1: a pure, self-contained SHA-256 digest, used by the
// builtin package's sha256-digest primitive. It is shaped
// like the stdlib crypto/sha256 API (Sum / hash.Hash) so callers can
// swap one for the other without touching anything downstream.
package sha256

import "hash"

// Size is the length, in bytes, of a SHA-256 digest.
const Size = 32

const blockSize = 64

var k = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3, 0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13, 0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208, 0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

var initState = [8]uint32{
	0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
	0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
}

func ror(x uint32, n uint32) uint32 {
	return (x >> n) | (x << (32 - n))
}

type digest struct {
	state     [8]uint32
	buffer    [blockSize]byte
	bufSize   int
	dataSize  uint64
	finalized bool
	sum       [Size]byte
}

// New returns a new hash.Hash computing the SHA-256 checksum.
func New() hash.Hash {
	d := &digest{}
	d.Reset()
	return d
}

func (d *digest) Reset() {
	d.state = initState
	d.bufSize = 0
	d.dataSize = 0
	d.finalized = false
}

func (d *digest) Size() int      { return Size }
func (d *digest) BlockSize() int { return blockSize }

func (d *digest) Write(p []byte) (n int, err error) {
	n = len(p)
	for _, b := range p {
		d.buffer[d.bufSize] = b
		d.bufSize++
		d.dataSize++
		if d.bufSize == blockSize {
			d.consumeBuffer()
		}
	}
	return n, nil
}

func (d *digest) Sum(b []byte) []byte {
	clone := *d
	clone.finish()
	return append(b, clone.sum[:]...)
}

func (d *digest) finish() {
	if d.finalized {
		return
	}
	bitSize := d.dataSize * 8
	d.buffer[d.bufSize] = 0x80
	d.bufSize++
	const sizeWithoutLen = 56
	if d.bufSize > sizeWithoutLen {
		for i := d.bufSize; i < blockSize; i++ {
			d.buffer[i] = 0
		}
		d.consumeBuffer()
	}
	for i := d.bufSize; i < sizeWithoutLen; i++ {
		d.buffer[i] = 0
	}
	for i := 0; i != 8; i++ {
		d.buffer[56+i] = byte(bitSize >> (56 - uint(i)*8))
	}
	d.consumeBuffer()

	for i := 0; i != Size; i++ {
		d.sum[i] = byte(d.state[i>>2] >> ((^uint(i) & 3) << 3))
	}
	d.finalized = true
}

func (d *digest) consumeBuffer() {
	d.bufSize = 0

	var w [64]uint32
	for i := 0; i != 16; i++ {
		j := i << 2
		w[i] = uint32(d.buffer[j])<<24 | uint32(d.buffer[j+1])<<16 | uint32(d.buffer[j+2])<<8 | uint32(d.buffer[j+3])
	}
	for i := 16; i != 64; i++ {
		s0 := ror(w[i-15], 7) ^ ror(w[i-15], 18) ^ (w[i-15] >> 3)
		s1 := ror(w[i-2], 17) ^ ror(w[i-2], 19) ^ (w[i-2] >> 10)
		w[i] = w[i-16] + s0 + w[i-7] + s1
	}

	cs := d.state
	for i := 0; i != 64; i++ {
		s0 := ror(cs[0], 2) ^ ror(cs[0], 13) ^ ror(cs[0], 22)
		s1 := ror(cs[4], 6) ^ ror(cs[4], 11) ^ ror(cs[4], 25)
		ch := (cs[4] & cs[5]) ^ (^cs[4] & cs[6])
		maj := (cs[0] & cs[1]) ^ (cs[0] & cs[2]) ^ (cs[1] & cs[2])
		temp1 := cs[7] + s1 + ch + k[i] + w[i]
		temp2 := s0 + maj

		cs[7] = cs[6]
		cs[6] = cs[5]
		cs[5] = cs[4]
		cs[4] = cs[3] + temp1
		cs[3] = cs[2]
		cs[2] = cs[1]
		cs[1] = cs[0]
		cs[0] = temp1 + temp2
	}

	for i := 0; i != 8; i++ {
		d.state[i] += cs[i]
	}
}

// Sum returns the SHA-256 checksum of data.
func Sum(data []byte) [Size]byte {
	d := &digest{}
	d.Reset()
	d.Write(data)
	d.finish()
	return d.sum
}

// HexString renders a digest as a lowercase hex string, matching the
// original implementation's to_string(const Sha256Hash&).
func HexString(h [Size]byte) string {
	const hexdigit = "0123456789abcdef"
	s := make([]byte, Size*2)
	for i, b := range h {
		s[i*2] = hexdigit[b>>4]
		s[i*2+1] = hexdigit[b&0xf]
	}
	return string(s)
}

package crypto

import (
	"crypto/rand"
	"encoding/binary"
)

// RandUint32 returns a uniformly distributed value from a cryptographically
// secure random number generator.
func RandUint32() (uint32, error) {
	var b [4]byte
	n, err := rand.Read(b[:])
	if err != nil {
		return 0, err
	}
	if n != len(b) {
		panic("unexpected result from random number generator")
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

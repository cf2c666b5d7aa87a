package directory

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Alphabet is the restricted device-ID alphabet: digits 2-9 and the
// uppercase letters without the visually ambiguous O, I and L.
const Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// IDLength is the fixed device-ID length.
const IDLength = 8

// GenerateDeviceID produces a fresh ID uniformly over the alphabet.
// Uniqueness is not checked here; the store's create-only write is the
// sole serialization point.
func GenerateDeviceID() string {
	id := make([]byte, IDLength)
	buf := make([]byte, 1)
	// Rejection sampling keeps the distribution uniform: 248 is the
	// largest multiple of len(Alphabet) below 256.
	const limit = 256 - 256%len(Alphabet)
	for i := 0; i < IDLength; {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand never fails on supported platforms.
			panic(fmt.Sprintf("directory: rand.Read: %v", err))
		}
		if int(buf[0]) >= limit {
			continue
		}
		id[i] = Alphabet[int(buf[0])%len(Alphabet)]
		i++
	}
	return string(id)
}

// ValidDeviceID reports whether s is a well-formed device ID.
func ValidDeviceID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(Alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// ToNumeric converts a device ID to its compact numeric form, treating
// the ID as a base-31 number over the restricted alphabet.
func ToNumeric(id string) (int64, error) {
	if !ValidDeviceID(id) {
		return 0, fmt.Errorf("directory: malformed device id %q", id)
	}
	var n int64
	for i := 0; i < len(id); i++ {
		n = n*int64(len(Alphabet)) + int64(strings.IndexByte(Alphabet, id[i]))
	}
	return n, nil
}

// FromNumeric converts a compact numeric form back to an 8-character
// device ID. Inverse of ToNumeric.
func FromNumeric(n int64) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("directory: negative numeric id %d", n)
	}
	id := make([]byte, IDLength)
	for i := IDLength - 1; i >= 0; i-- {
		id[i] = Alphabet[n%int64(len(Alphabet))]
		n /= int64(len(Alphabet))
	}
	if n != 0 {
		return "", fmt.Errorf("directory: numeric id out of range")
	}
	return string(id), nil
}

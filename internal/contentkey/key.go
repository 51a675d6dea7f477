// Package contentkey derives cache identities from raw image bytes.
package contentkey

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the digest width in bytes.
const Size = 16

// Key is the hex form of a content digest. It is safe to use as a file name.
type Key string

// Identify returns the key for b. Equal byte sequences always produce the same
// key, across process restarts.
func Identify(b []byte) Key {
	// Use the first 16 bytes of SHA-256 for shorter keys
	sum := sha256.Sum256(b)
	return Key(hex.EncodeToString(sum[:Size]))
}

// Valid reports whether k looks like a key produced by Identify.
func (k Key) Valid() bool {
	if len(k) != Size*2 {
		return false
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}

// Short returns an abbreviated form for log lines.
func (k Key) Short() string {
	if len(k) <= 8 {
		return string(k)
	}
	return string(k[:8])
}

package bytes

import (
	"encoding/binary"
	"fmt"
)

// BigEndianUint16 reads a two byte big endian value at offset.
func BigEndianUint16(b []byte, offset int) int {
	return int(binary.BigEndian.Uint16(b[offset : offset+2]))
}

// Count returns the number of non-overlapping instances of needle in b.
func Count(b, needle []byte) int {
	if len(needle) == 0 {
		return 0
	}
	n := 0
	for i := Index(b, needle, 0); i != -1; i = Index(b, needle, i+len(needle)) {
		n++
	}
	return n
}

// ReplaceN overwrites, in place, the first n non-overlapping instances of old
// in b with replacement and returns how many were replaced. A negative n
// replaces every instance. Both sequences must have the same length since
// the surrounding buffer is never resized.
func ReplaceN(b, old, replacement []byte, n int) (int, error) {
	if len(old) != len(replacement) {
		return 0, fmt.Errorf("replacement is %d bytes, expected %d", len(replacement), len(old))
	}
	if len(old) == 0 || n == 0 {
		return 0, nil
	}

	replaced := 0
	for i := Index(b, old, 0); i != -1; i = Index(b, old, i+len(old)) {
		copy(b[i:], replacement)
		replaced++
		if replaced == n {
			break
		}
	}
	return replaced, nil
}

// ReplaceAll overwrites every instance of old in b with replacement.
func ReplaceAll(b, old, replacement []byte) (int, error) {
	return ReplaceN(b, old, replacement, -1)
}

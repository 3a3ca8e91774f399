package bytes

import (
	"errors"
	"fmt"

	"rsc.io/binaryregexp"
)

// MaxFieldLength is the largest payload a two byte length header can describe.
const MaxFieldLength = 0xFFFF

var (
	// ErrCapacity is returned when a replacement does not fit the slot it is
	// meant to occupy.
	ErrCapacity = errors.New("replacement exceeds field capacity")
	// ErrMalformedField is returned when a length header does not describe a
	// payload that lies within the buffer.
	ErrMalformedField = errors.New("malformed length-prefixed field")
)

// FieldLength returns the payload length declared by the two byte big endian
// header at headerOffset, verifying that the payload fits in b.
func FieldLength(b []byte, headerOffset int) (int, error) {
	if headerOffset < 0 || headerOffset+2 > len(b) {
		return 0, fmt.Errorf("%w: header at %d outside %d byte buffer", ErrMalformedField, headerOffset, len(b))
	}
	length := BigEndianUint16(b, headerOffset)
	if end := headerOffset + 2 + length; end > len(b) {
		return 0, fmt.Errorf("%w: payload ends at %d past %d byte buffer", ErrMalformedField, end, len(b))
	}
	return length, nil
}

// RewriteLengthPrefixed returns a copy of b in which the length-prefixed field
// whose header starts at headerOffset holds payload instead of its old
// contents. The header is rewritten together with the payload and every byte
// outside [headerOffset, headerOffset+2+oldLength) is carried over unchanged,
// so the result grows or shrinks by len(payload)-oldLength.
func RewriteLengthPrefixed(b []byte, headerOffset int, payload []byte) ([]byte, error) {
	oldLength, err := FieldLength(b, headerOffset)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxFieldLength {
		return nil, fmt.Errorf("%w: %d byte payload does not fit a two byte header", ErrCapacity, len(payload))
	}

	payloadStart := headerOffset + 2
	oldEnd := payloadStart + oldLength

	out := make([]byte, len(b)+len(payload)-oldLength)
	n := copy(out, b[:headerOffset])
	out[n] = byte(len(payload) >> 8)
	out[n+1] = byte(len(payload))
	n += 2
	n += copy(out[n:], payload)
	copy(out[n:], b[oldEnd:])
	return out, nil
}

// HexRun locates the first maximal run of at least minLen ASCII hex digits in
// b and returns its bounds as [start, end). The bytes on either side of the
// run, if any, are never hex digits.
func HexRun(b []byte, minLen int) (start, end int, ok bool) {
	if minLen < 1 {
		minLen = 1
	}
	re, err := binaryregexp.Compile(fmt.Sprintf("[0-9A-Fa-f]{%d,}", minLen))
	if err != nil {
		return 0, 0, false
	}
	loc := re.FindIndex(b)
	if loc == nil {
		return 0, 0, false
	}
	return loc[0], loc[1], true
}

// IsHex reports whether every byte of b is an ASCII hex digit.
func IsHex(b []byte) bool {
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

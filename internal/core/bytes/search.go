package bytes

import (
	"fmt"
	"strconv"
	"strings"
)

// Index returns the index of the first instance of needle in haystack at or
// after offset, or -1 if needle is not present. An empty needle matches at
// offset as long as offset lies within haystack.
//
// The search uses the Boyer-Moore bad character rule: the window is compared
// right to left and on a mismatch it slides so that the last occurrence of the
// offending byte in the needle lines up with it.
func Index(haystack, needle []byte, offset int) int {
	if offset < 0 {
		offset = 0
	}
	m := len(needle)
	if m == 0 {
		if offset > len(haystack) {
			return -1
		}
		return offset
	}

	var last [256]int
	for i := range last {
		last[i] = -1
	}
	for i, b := range needle {
		last[b] = i
	}
	return search(haystack, m, offset, last[:], func(i, k int) bool {
		return haystack[i] == needle[k]
	})
}

// Token is a single position of a Pattern: either a concrete byte or a
// wildcard that matches any byte.
type Token struct {
	Value byte
	Any   bool
}

// Pattern is a needle that may contain wildcard positions.
type Pattern []Token

// Exact converts b into a Pattern without any wildcards.
func Exact(b []byte) Pattern {
	p := make(Pattern, len(b))
	for i, v := range b {
		p[i] = Token{Value: v}
	}
	return p
}

// ParsePattern parses a space separated list of hex bytes in which "?" or "??"
// marks a wildcard position, e.g. "03 00 00 ?? ??".
func ParsePattern(s string) (Pattern, error) {
	fields := strings.Fields(s)
	p := make(Pattern, 0, len(fields))
	for _, f := range fields {
		if f == "?" || f == "??" {
			p = append(p, Token{Any: true})
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern byte %q: %w", f, err)
		}
		p = append(p, Token{Value: byte(v)})
	}
	return p, nil
}

// MustParsePattern is like ParsePattern but panics if s cannot be parsed.
func MustParsePattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IndexPattern behaves like Index, except that wildcard positions of pattern
// match every byte value.
func IndexPattern(haystack []byte, pattern Pattern, offset int) int {
	if offset < 0 {
		offset = 0
	}
	m := len(pattern)
	if m == 0 {
		if offset > len(haystack) {
			return -1
		}
		return offset
	}

	// Wildcards never enter the table themselves, but any byte could match
	// at the rightmost wildcard, so no shift may carry the window past it.
	lastAny := -1
	var last [256]int
	for i := range last {
		last[i] = -1
	}
	for i, t := range pattern {
		if t.Any {
			lastAny = i
			continue
		}
		last[t.Value] = i
	}
	if lastAny >= 0 {
		for i := range last {
			last[i] = max(last[i], lastAny)
		}
	}
	return search(haystack, m, offset, last[:], func(i, k int) bool {
		return pattern[k].Any || haystack[i] == pattern[k].Value
	})
}

func search(haystack []byte, m, offset int, last []int, match func(i, k int) bool) int {
	n := len(haystack)
	i := offset + m - 1
	k := m - 1
	for i < n {
		if match(i, k) {
			if k == 0 {
				return i
			}
			i--
			k--
			continue
		}
		i += m - min(k, 1+last[haystack[i]])
		k = m - 1
	}
	return -1
}

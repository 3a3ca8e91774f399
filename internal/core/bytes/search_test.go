package bytes

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// naiveIndex is the reference scan the Boyer-Moore searches are checked against.
func naiveIndex(haystack []byte, pattern Pattern, offset int) int {
	if offset < 0 {
		offset = 0
	}
	if len(pattern) == 0 {
		if offset > len(haystack) {
			return -1
		}
		return offset
	}
	for i := offset; i+len(pattern) <= len(haystack); i++ {
		match := true
		for j, tok := range pattern {
			if !tok.Any && haystack[i+j] != tok.Value {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func TestIndex(t *testing.T) {
	tests := []struct {
		name     string
		haystack []byte
		needle   []byte
		offset   int
		want     int
	}{
		{name: "empty needle", haystack: []byte("abc"), needle: nil, offset: 2, want: 2},
		{name: "empty needle at end", haystack: []byte("abc"), needle: nil, offset: 3, want: 3},
		{name: "empty needle past end", haystack: []byte("abc"), needle: nil, offset: 4, want: -1},
		{name: "needle longer than haystack", haystack: []byte("ab"), needle: []byte("abc"), want: -1},
		{name: "needle longer than remainder", haystack: []byte("xxabc"), needle: []byte("abc"), offset: 3, want: -1},
		{name: "match at start", haystack: []byte("127.0.0.1"), needle: []byte("127"), want: 0},
		{name: "match at end", haystack: []byte("host=127.0.0.1"), needle: []byte("0.1"), want: 11},
		{name: "first match after offset", haystack: []byte("abcabcabc"), needle: []byte("abc"), offset: 1, want: 3},
		{name: "negative offset", haystack: []byte("abc"), needle: []byte("c"), offset: -5, want: 2},
		{name: "repeated prefix", haystack: []byte("aaaaab"), needle: []byte("aab"), want: 3},
		{name: "binary", haystack: []byte{0, 3, 0, 0, 0xAA, 0x4A, 3}, needle: []byte{3, 0, 0, 0xAA, 0x4A}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Index(tt.haystack, tt.needle, tt.offset); got != tt.want {
				t.Errorf("Index() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIndex_MatchesNaiveScan(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		// A small alphabet keeps partial matches frequent.
		haystack := randomBytes(r, r.Intn(64), 3)
		needle := randomBytes(r, r.Intn(6), 3)
		offset := r.Intn(len(haystack)+3) - 1

		want := naiveIndex(haystack, Exact(needle), offset)
		if got := Index(haystack, needle, offset); got != want {
			t.Fatalf("Index(%v, %v, %d) = %d, want %d", haystack, needle, offset, got, want)
		}
	}
}

func TestIndexPattern(t *testing.T) {
	tests := []struct {
		name     string
		haystack []byte
		pattern  string
		offset   int
		want     int
	}{
		{name: "leading wildcard", haystack: []byte{9, 1, 2}, pattern: "?? 01 02", want: 0},
		{name: "trailing wildcards", haystack: []byte{0, 3, 0, 0, 0x30, 0x39}, pattern: "03 00 00 ?? ??", want: 1},
		{name: "all wildcards", haystack: []byte{1, 2, 3}, pattern: "?? ??", offset: 1, want: 1},
		{name: "no match", haystack: []byte{1, 2, 3}, pattern: "02 ?? 04", want: -1},
		{name: "wildcard does not hide mismatch", haystack: []byte{5, 7, 6, 5, 8, 6}, pattern: "05 ? 06", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IndexPattern(tt.haystack, MustParsePattern(tt.pattern), tt.offset); got != tt.want {
				t.Errorf("IndexPattern() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIndexPattern_WildcardMatchesEveryByte(t *testing.T) {
	pattern := MustParsePattern("AA ?? BB")
	for v := 0; v < 256; v++ {
		haystack := []byte{0x00, 0xAA, byte(v), 0xBB}
		if got := IndexPattern(haystack, pattern, 0); got != 1 {
			t.Fatalf("IndexPattern() with wildcard byte %#x = %d, want 1", v, got)
		}
	}
}

func TestIndexPattern_MatchesNaiveScan(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 5000; i++ {
		haystack := randomBytes(r, r.Intn(64), 3)
		pattern := make(Pattern, r.Intn(6))
		for j := range pattern {
			if r.Intn(4) == 0 {
				pattern[j] = Token{Any: true}
			} else {
				pattern[j] = Token{Value: byte(r.Intn(3))}
			}
		}
		offset := r.Intn(len(haystack)+3) - 1

		want := naiveIndex(haystack, pattern, offset)
		if got := IndexPattern(haystack, pattern, offset); got != want {
			t.Fatalf("IndexPattern(%v, %v, %d) = %d, want %d", haystack, pattern, offset, got, want)
		}

		// Without wildcards the two searches must agree.
		exact := make([]byte, len(pattern))
		for j, tok := range pattern {
			exact[j] = tok.Value
		}
		if got, want := IndexPattern(haystack, Exact(exact), offset), Index(haystack, exact, offset); got != want {
			t.Fatalf("IndexPattern(Exact) = %d, Index = %d", got, want)
		}
	}
}

func TestParsePattern(t *testing.T) {
	got, err := ParsePattern("03 00 ?? ? ff")
	if err != nil {
		t.Fatalf("ParsePattern() returned an unexpected error: %v", err)
	}
	want := Pattern{{Value: 0x03}, {Value: 0x00}, {Any: true}, {Any: true}, {Value: 0xFF}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParsePattern() did not match expected; diff:\n%s", diff)
	}

	if _, err := ParsePattern("03 zz"); err == nil {
		t.Error("ParsePattern() expected an error for invalid byte")
	}
}

func randomBytes(r *rand.Rand, n, alphabet int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Intn(alphabet))
	}
	return b
}

package bytes

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCount(t *testing.T) {
	tests := []struct {
		name   string
		b      []byte
		needle []byte
		want   int
	}{
		{name: "empty needle", b: []byte("abc"), needle: nil, want: 0},
		{name: "no match", b: []byte("abc"), needle: []byte("d"), want: 0},
		{name: "non-overlapping", b: []byte("aaaa"), needle: []byte("aa"), want: 2},
		{name: "separated", b: []byte("xabyabzab"), needle: []byte("ab"), want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Count(tt.b, tt.needle); got != tt.want {
				t.Errorf("Count() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReplaceN(t *testing.T) {
	tests := []struct {
		name         string
		b            []byte
		old          []byte
		replacement  []byte
		n            int
		want         []byte
		wantReplaced int
		wantErr      bool
	}{
		{
			name:         "replaces every instance",
			b:            []byte{1, 2, 9, 1, 2, 9, 1, 2},
			old:          []byte{1, 2},
			replacement:  []byte{3, 4},
			n:            -1,
			want:         []byte{3, 4, 9, 3, 4, 9, 3, 4},
			wantReplaced: 3,
		},
		{
			name:         "replaces first two",
			b:            []byte{1, 2, 1, 2, 1, 2},
			old:          []byte{1, 2},
			replacement:  []byte{5, 5},
			n:            2,
			want:         []byte{5, 5, 5, 5, 1, 2},
			wantReplaced: 2,
		},
		{
			name:         "does not re-match the replacement",
			b:            []byte{1, 1, 1},
			old:          []byte{1},
			replacement:  []byte{1},
			n:            -1,
			want:         []byte{1, 1, 1},
			wantReplaced: 3,
		},
		{
			name:        "rejects length change",
			b:           []byte{1, 2},
			old:         []byte{1, 2},
			replacement: []byte{1},
			n:           -1,
			want:        []byte{1, 2},
			wantErr:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReplaceN(tt.b, tt.old, tt.replacement, tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReplaceN() wantErr = %v, error = %v", tt.wantErr, err)
			}
			if got != tt.wantReplaced {
				t.Errorf("ReplaceN() replaced %d, want %d", got, tt.wantReplaced)
			}
			if diff := cmp.Diff(tt.want, tt.b); diff != "" {
				t.Errorf("ReplaceN() buffer did not match expected; diff:\n%s", diff)
			}
		})
	}
}

func TestRewriteLengthPrefixed(t *testing.T) {
	field := func(s string) []byte {
		return append([]byte{byte(len(s) >> 8), byte(len(s))}, s...)
	}
	prefix := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x01}
	suffix := []byte{0x07, 0x00, 0x02, 0xFF}

	tests := []struct {
		name    string
		old     string
		payload string
	}{
		{name: "same length", old: "127.0.0.1", payload: "10.0.0.10"},
		{name: "shrink to empty", old: "127.0.0.1", payload: ""},
		{name: "shrink", old: "abcdef0123", payload: "abc"},
		{name: "grow", old: "abc", payload: "abcdef0123456789"},
		{name: "grow from empty", old: "", payload: "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append(append(append([]byte{}, prefix...), field(tt.old)...), suffix...)
			original := append([]byte{}, buf...)

			got, err := RewriteLengthPrefixed(buf, len(prefix), []byte(tt.payload))
			if err != nil {
				t.Fatalf("RewriteLengthPrefixed() returned an unexpected error: %v", err)
			}

			want := append(append(append([]byte{}, prefix...), field(tt.payload)...), suffix...)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("RewriteLengthPrefixed() result did not match expected; diff:\n%s", diff)
			}
			if length := BigEndianUint16(got, len(prefix)); length != len(tt.payload) {
				t.Errorf("header = %d, want %d", length, len(tt.payload))
			}
			if diff := cmp.Diff(original, buf); diff != "" {
				t.Errorf("RewriteLengthPrefixed() modified its input; diff:\n%s", diff)
			}
		})
	}
}

func TestRewriteLengthPrefixed_Errors(t *testing.T) {
	tests := []struct {
		name         string
		b            []byte
		headerOffset int
		payload      []byte
		wantErr      error
	}{
		{name: "header past end", b: []byte{0, 1, 'a'}, headerOffset: 2, wantErr: ErrMalformedField},
		{name: "negative header", b: []byte{0, 1, 'a'}, headerOffset: -1, wantErr: ErrMalformedField},
		{name: "declared length past end", b: []byte{0, 5, 'a'}, headerOffset: 0, wantErr: ErrMalformedField},
		{name: "payload too long", b: []byte{0, 1, 'a'}, headerOffset: 0, payload: make([]byte, MaxFieldLength+1), wantErr: ErrCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RewriteLengthPrefixed(tt.b, tt.headerOffset, tt.payload); !errors.Is(err, tt.wantErr) {
				t.Errorf("RewriteLengthPrefixed() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHexRun(t *testing.T) {
	tests := []struct {
		name      string
		b         []byte
		minLen    int
		wantStart int
		wantEnd   int
		wantOK    bool
	}{
		{name: "no run", b: []byte("zzzz"), minLen: 2, wantOK: false},
		{name: "skips short runs", b: []byte("ab-0123456789-x"), minLen: 4, wantStart: 3, wantEnd: 13, wantOK: true},
		{name: "run at end", b: []byte("\x00\x03F0e"), minLen: 3, wantStart: 2, wantEnd: 5, wantOK: true},
		{name: "mixed case", b: []byte("..aBcDeF.."), minLen: 6, wantStart: 2, wantEnd: 8, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := HexRun(tt.b, tt.minLen)
			if ok != tt.wantOK {
				t.Fatalf("HexRun() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (start != tt.wantStart || end != tt.wantEnd) {
				t.Errorf("HexRun() = [%d, %d), want [%d, %d)", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestIsHex(t *testing.T) {
	if !IsHex([]byte("0123456789abcdefABCDEF")) {
		t.Error("IsHex() = false for hex digits")
	}
	if IsHex([]byte("12g")) {
		t.Error("IsHex() = true for non-hex input")
	}
}

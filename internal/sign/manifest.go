package sign

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const (
	// Lines in a manifest may not exceed 72 bytes; longer values continue on
	// lines that start with a single space.
	maxLineLength = 72
	createdBy     = "clientpatch"
	digestKey     = "SHA-256-Digest"
)

var crlf = []byte("\r\n")

// section is a run of header lines terminated by an empty line. raw holds the
// exact bytes including the terminator, which is what signature files digest.
type section struct {
	attrs map[string]string
	order []string
	raw   []byte
}

func (s *section) get(key string) string {
	return s.attrs[key]
}

func newSection() *section {
	return &section{attrs: make(map[string]string)}
}

func (s *section) set(key, value string) {
	if _, ok := s.attrs[key]; !ok {
		s.order = append(s.order, key)
	}
	s.attrs[key] = value
}

// encode writes the section's header lines followed by the empty line.
func (s *section) encode() []byte {
	var buf bytes.Buffer
	for _, key := range s.order {
		writeHeader(&buf, key, s.attrs[key])
	}
	buf.Write(crlf)
	return buf.Bytes()
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	line := key + ": " + value
	for len(line) > maxLineLength {
		buf.WriteString(line[:maxLineLength])
		buf.Write(crlf)
		line = " " + line[maxLineLength:]
	}
	buf.WriteString(line)
	buf.Write(crlf)
}

// parseSections splits a manifest or signature file into its sections,
// joining continuation lines. Both CRLF and LF line endings are accepted.
func parseSections(b []byte) []*section {
	var (
		sections []*section
		current  = newSection()
		start    int
		lastKey  string
	)
	for pos := 0; pos < len(b); {
		end := bytes.IndexByte(b[pos:], '\n')
		next := len(b)
		if end >= 0 {
			next = pos + end + 1
		}
		line := strings.TrimRight(string(b[pos:next]), "\r\n")
		pos = next

		switch {
		case line == "":
			if len(current.order) > 0 {
				current.raw = b[start:pos]
				sections = append(sections, current)
			}
			current, start, lastKey = newSection(), pos, ""
		case line[0] == ' ' && lastKey != "":
			current.attrs[lastKey] += line[1:]
		default:
			key, value, _ := strings.Cut(line, ": ")
			current.set(key, value)
			lastKey = key
		}
	}
	if len(current.order) > 0 {
		current.raw = b[start:]
		sections = append(sections, current)
	}
	return sections
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

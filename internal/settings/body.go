package settings

import (
	"bytes"
	"strconv"
	"strings"
)

const maxNameLen = 31

// Assignment is one parsed name=value pair.
type Assignment struct {
	Name  Field
	Value float64
}

// ParseAssignments parses an &-separated list of name=value pairs left to
// right. Pieces that do not match are skipped.
func ParseAssignments(body string) []Assignment {
	var out []Assignment
	for _, piece := range strings.Split(body, "&") {
		if a, ok := parsePair(piece); ok {
			out = append(out, a)
		}
	}
	return out
}

func parsePair(piece string) (Assignment, bool) {
	name, value, found := strings.Cut(piece, "=")
	if !found || name == "" || len(name) > maxNameLen {
		return Assignment{}, false
	}
	v, ok := leadingInt(value)
	if !ok {
		return Assignment{}, false
	}
	return Assignment{Name: Field(name), Value: float64(v)}, true
}

// leadingInt reads an optionally signed run of decimal digits after any
// leading whitespace and ignores whatever follows it, so "50abc" is 50 and
// "40.7" is 40. A value with no digits is rejected.
func leadingInt(s string) (int64, bool) {
	s = strings.TrimLeft(s, " \t\r\n\v\f")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	v, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// PendingBody accumulates a request body that arrives in chunks and parses
// each pair as soon as its terminating '&' has been seen.
type PendingBody struct {
	buf         bytes.Buffer
	assignments []Assignment
	size        int
	complete    bool
}

// Write consumes one chunk. It never fails.
func (p *PendingBody) Write(chunk []byte) (int, error) {
	p.size += len(chunk)
	p.buf.Write(chunk)

	for {
		i := bytes.IndexByte(p.buf.Bytes(), '&')
		if i < 0 {
			break
		}
		if a, ok := parsePair(string(p.buf.Next(i))); ok {
			p.assignments = append(p.assignments, a)
		}
		p.buf.Next(1)
	}
	return len(chunk), nil
}

// Finish parses the trailing pair and marks the body complete.
func (p *PendingBody) Finish() []Assignment {
	if !p.complete {
		if a, ok := parsePair(p.buf.String()); ok {
			p.assignments = append(p.assignments, a)
		}
		p.buf.Reset()
		p.complete = true
	}
	return p.assignments
}

// Size is the number of body bytes written so far.
func (p *PendingBody) Size() int {
	return p.size
}

package formbuf

import (
	"bytes"
	"fmt"
)

// ByteRange is a half-open [Start, End) range of a buffer.
type ByteRange struct {
	Start int
	End   int
}

func (r ByteRange) Len() int {
	return r.End - r.Start
}

// Scan splits buf into raw part ranges delimited by boundary, in the order they occur.
// Each range starts after a delimiter line and ends where the next delimiter begins,
// so it still carries the line break that precedes the delimiter.
func Scan(buf []byte, boundary string) ([]ByteRange, error) {
	return scan(buf, boundary, ^uint(0), false)
}

func scan(buf []byte, boundary string, maxParts uint, lenient bool) ([]ByteRange, error) {
	if boundary == "" {
		return nil, fmt.Errorf("%w: missing boundary", ErrMalformedRequest)
	}

	s := delimiterScanner{
		buf:   buf,
		delim: []byte("--" + boundary),
	}

	d, ok := s.next(0)
	if !ok {
		return nil, fmt.Errorf("%w: no delimiter found", ErrMalformedRequest)
	}

	var ranges []ByteRange
	for !d.terminal {
		next, ok := s.next(d.lineEnd)
		if !ok {
			if lenient {
				return ranges, nil
			}
			return nil, fmt.Errorf("%w: missing terminal delimiter", ErrMalformedRequest)
		}

		if maxParts == 0 {
			return nil, ErrTooManyParts
		}
		maxParts--

		ranges = append(ranges, ByteRange{Start: d.lineEnd, End: next.start})
		d = next
	}

	return ranges, nil
}

type delimiterScanner struct {
	buf   []byte
	delim []byte
}

type delimiter struct {
	start    int
	lineEnd  int
	terminal bool
}

// next finds the first delimiter line at or after from.
// A delimiter only counts at the start of the buffer or of a line, and only when the
// rest of its line is "--" (terminal) or optional whitespace before the line break.
func (s delimiterScanner) next(from int) (delimiter, bool) {
	for from <= len(s.buf) {
		i := bytes.Index(s.buf[from:], s.delim)
		if i < 0 {
			return delimiter{}, false
		}
		pos := from + i
		from = pos + 1

		if pos != 0 && s.buf[pos-1] != '\n' {
			continue
		}

		after := pos + len(s.delim)
		if bytes.HasPrefix(s.buf[after:], []byte("--")) {
			return delimiter{start: pos, lineEnd: after + 2, terminal: true}, true
		}

		k := after
		for k < len(s.buf) && (s.buf[k] == ' ' || s.buf[k] == '\t') {
			k++
		}
		switch {
		case k == len(s.buf):
			// cut right after the delimiter; whatever follows never arrived
			return delimiter{start: pos, lineEnd: k}, true
		case s.buf[k] == '\n':
			return delimiter{start: pos, lineEnd: k + 1}, true
		case s.buf[k] == '\r' && k+1 == len(s.buf):
			return delimiter{start: pos, lineEnd: k + 1}, true
		case s.buf[k] == '\r' && s.buf[k+1] == '\n':
			return delimiter{start: pos, lineEnd: k + 2}, true
		}
	}

	return delimiter{}, false
}

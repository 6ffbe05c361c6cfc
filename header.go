package formbuf

import (
	"bytes"
	"errors"
	"net/textproto"
	"strings"
)

var (
	errHeaderNoColon      = errors.New("header line without colon")
	errHeaderBadName      = errors.New("invalid header name")
	errHeaderContinuation = errors.New("continuation line without header")
)

// PartHeader is the header block of one part, in the order the headers appeared.
type PartHeader struct {
	fields []headerField
}

type headerField struct {
	name  string
	value string
}

// Get returns the first value associated with the given key.
// If there are no values associated with the key, Get returns "".
func (h PartHeader) Get(key string) string {
	key = textproto.CanonicalMIMEHeaderKey(key)
	for _, f := range h.fields {
		if f.name == key {
			return f.value
		}
	}
	return ""
}

// Has reports whether the header block carries key at all, even with an empty value.
func (h PartHeader) Has(key string) bool {
	key = textproto.CanonicalMIMEHeaderKey(key)
	for _, f := range h.fields {
		if f.name == key {
			return true
		}
	}
	return false
}

// Names returns the header names in insertion order, duplicates included.
func (h PartHeader) Names() []string {
	names := make([]string, 0, len(h.fields))
	for _, f := range h.fields {
		names = append(names, f.name)
	}
	return names
}

func (h PartHeader) Len() int {
	return len(h.fields)
}

// MIMEHeader converts the header into the net/textproto representation.
func (h PartHeader) MIMEHeader() textproto.MIMEHeader {
	mh := make(textproto.MIMEHeader, len(h.fields))
	for _, f := range h.fields {
		mh[f.name] = append(mh[f.name], f.value)
	}
	return mh
}

func parseHeaderBlock(block []byte) (PartHeader, error) {
	var h PartHeader
	for len(block) > 0 {
		var line []byte
		if i := bytes.IndexByte(block, '\n'); i >= 0 {
			line, block = block[:i], block[i+1:]
		} else {
			line, block = block, nil
		}
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}

		// obs-fold
		if line[0] == ' ' || line[0] == '\t' {
			if len(h.fields) == 0 {
				return PartHeader{}, errHeaderContinuation
			}
			last := &h.fields[len(h.fields)-1]
			last.value = strings.TrimSpace(last.value + " " + strings.TrimSpace(string(line)))
			continue
		}

		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return PartHeader{}, errHeaderNoColon
		}

		name := string(bytes.TrimRight(line[:colon], " \t"))
		if !validHeaderName(name) {
			return PartHeader{}, errHeaderBadName
		}

		h.fields = append(h.fields, headerField{
			name:  textproto.CanonicalMIMEHeaderKey(name),
			value: strings.TrimSpace(string(line[colon+1:])),
		})
	}

	return h, nil
}

func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte(`()<>@,;:\"/[]?={}`, c) >= 0 {
			return false
		}
	}
	return true
}

// parseParams splits a header value of the form `value; key="quoted"; key2=token`
// into its leading value and parameters. Keys are lower-cased; the first occurrence of a key wins.
// A malformed parameter is dropped without affecting its neighbours.
func parseParams(s string) (string, map[string]string) {
	value, rest, _ := strings.Cut(s, ";")
	value = strings.TrimSpace(value)

	params := make(map[string]string)
	for {
		rest = strings.TrimLeft(rest, " \t;")
		if rest == "" {
			return value, params
		}

		end := strings.IndexAny(rest, "=; \t")
		if end < 0 {
			// trailing bare token
			return value, params
		}
		key := strings.ToLower(rest[:end])
		rest = strings.TrimLeft(rest[end:], " \t")
		if key == "" || !strings.HasPrefix(rest, "=") {
			_, rest, _ = strings.Cut(rest, ";")
			continue
		}
		rest = strings.TrimLeft(rest[1:], " \t")

		var v string
		if strings.HasPrefix(rest, `"`) {
			var ok bool
			v, rest, ok = consumeQuoted(rest[1:])
			if !ok {
				return value, params
			}
		} else {
			end := strings.IndexAny(rest, "; \t")
			if end < 0 {
				end = len(rest)
			}
			v, rest = rest[:end], rest[end:]
		}

		if _, ok := params[key]; !ok {
			params[key] = v
		}
	}
}

// consumeQuoted reads a quoted-string body up to its closing quote.
// s starts right after the opening quote. A backslash escapes only a quote or
// another backslash; anywhere else it is kept, so Windows paths survive.
func consumeQuoted(s string) (string, string, bool) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			return sb.String(), s[i+1:], true
		case '\\':
			if i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\') {
				i++
			}
			sb.WriteByte(s[i])
		default:
			sb.WriteByte(c)
		}
	}
	return "", "", false
}

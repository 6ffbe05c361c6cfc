package formbuf

import (
	"bytes"
	"strings"
)

// Part is either a FieldPart or a FilePart.
type Part interface {
	// FormName returns the "name" parameter of the part's Content-Disposition.
	FormName() string
	isPart()
}

// FieldPart is a plain form value.
type FieldPart struct {
	Name   string
	Value  string
	Header PartHeader
}

func (p FieldPart) FormName() string { return p.Name }
func (FieldPart) isPart()            {}

// FilePart is a file attachment.
type FilePart struct {
	FieldName string
	Filename  string
	MimeType  string
	Content   []byte
	Header    PartHeader
}

func (p FilePart) FormName() string { return p.FieldName }
func (FilePart) isPart()            {}

// Size returns the length of the file content in bytes.
func (p FilePart) Size() int {
	return len(p.Content)
}

// ParsePart decodes one raw part as returned by Scan.
// A part that cannot be decoded yields a *PartError wrapping ErrPartSkipped.
// A FilePart's Content aliases raw; pass a copy (Buffer.Slice) when raw is shared.
func ParsePart(raw []byte) (Part, error) {
	headerBlock, content, ok := splitPart(raw)
	if !ok {
		return nil, partSkipped("no blank line after headers")
	}

	header, err := parseHeaderBlock(headerBlock)
	if err != nil {
		return nil, partSkipped("malformed header block: %v", err)
	}

	disposition := header.Get("Content-Disposition")
	if disposition == "" {
		return nil, partSkipped("missing Content-Disposition")
	}

	_, params := parseParams(disposition)
	name := params["name"]
	if name == "" {
		return nil, partSkipped("missing name parameter")
	}

	// an empty filename is what browsers send for a file input left blank
	filename := params["filename"]
	contentType := header.Get("Content-Type")
	if filename != "" && contentType != "" {
		return FilePart{
			FieldName: name,
			Filename:  filename,
			MimeType:  contentType,
			Content:   content,
			Header:    header,
		}, nil
	}

	return FieldPart{
		Name:   name,
		Value:  strings.ToValidUTF8(string(content), "\uFFFD"),
		Header: header,
	}, nil
}

// splitPart separates the header block from the content at the first blank line
// and drops the line break that belongs to the following delimiter.
func splitPart(raw []byte) ([]byte, []byte, bool) {
	var header, content []byte
	switch {
	case bytes.HasPrefix(raw, []byte("\r\n")):
		content = raw[2:]
	case bytes.HasPrefix(raw, []byte("\n")):
		content = raw[1:]
	default:
		crlf := bytes.Index(raw, []byte("\r\n\r\n"))
		lf := bytes.Index(raw, []byte("\n\n"))
		switch {
		case crlf >= 0 && (lf < 0 || crlf < lf):
			header, content = raw[:crlf], raw[crlf+4:]
		case lf >= 0:
			header, content = raw[:lf], raw[lf+2:]
		default:
			return nil, nil, false
		}
	}

	if c, ok := bytes.CutSuffix(content, []byte("\r\n")); ok {
		content = c
	} else {
		content = bytes.TrimSuffix(content, []byte("\n"))
	}

	return header, content, true
}

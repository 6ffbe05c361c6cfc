package formbuf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

const maxBoundaryLength = 70

// Parse receives the whole body from r under the size cap and decodes it.
// On error no partial result is returned and every intermediate buffer is dropped.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*Result, error) {
	return p.ParseSized(ctx, r, -1)
}

// ParseSized is Parse for a body whose length is announced up front, such as a
// request Content-Length. The buffer is reserved once instead of growing chunk by chunk.
// A negative size means unknown.
func (p *Parser) ParseSized(ctx context.Context, r io.Reader, size int64) (*Result, error) {
	if p.boundary == "" {
		return nil, fmt.Errorf("%w: missing boundary", ErrMalformedRequest)
	}
	if size > int64(p.maxBodySize) {
		return nil, ErrPayloadTooLarge
	}

	acc := NewAccumulator(p.maxBodySize)
	acc.chunkSize = p.chunkSize
	acc.Grow(size)

	err := acc.Receive(ctx, r)
	if err != nil {
		return nil, err
	}

	buf, err := acc.Finalize()
	if err != nil {
		return nil, fmt.Errorf("failed to finalize body: %w", err)
	}

	return p.ParseBuffer(buf)
}

// ParseBuffer decodes an already received body.
// The same buffer always decodes to the same Result.
func (p *Parser) ParseBuffer(buf Buffer) (*Result, error) {
	ranges, err := scan(buf.b, p.boundary, p.maxParts, p.lenientTruncated)
	if err != nil {
		return nil, err
	}

	a := newAssembler(NewFileValidator(p.allowedTypes, p.maxFileSize, p.sniffContent), p.logger)
	maxHeaders := p.maxHeaders
	for i, rg := range ranges {
		raw := buf.Slice(rg)

		// counted before parsing so that rejected parts spend the budget too
		n := headerLines(raw)
		if maxHeaders < n {
			return nil, ErrTooManyHeaders
		}
		maxHeaders -= n

		part, err := ParsePart(raw)
		if err != nil {
			a.reject(i, "", "", err)
			continue
		}

		a.add(i, part)
	}

	return a.result, nil
}

// headerLines counts the header lines of a raw part, folded continuations excluded.
// A part without a blank line is all header.
func headerLines(raw []byte) uint {
	block, _, ok := splitPart(raw)
	if !ok {
		block = raw
	}

	var n uint
	for line := range bytes.Lines(block) {
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		n++
	}
	return n
}

// BoundaryFromContentType extracts the boundary parameter of a multipart/form-data Content-Type.
func BoundaryFromContentType(contentType string) (string, error) {
	mt, params := parseParams(contentType)
	if !strings.EqualFold(mt, "multipart/form-data") {
		return "", fmt.Errorf("%w: Content-Type is %q, not multipart/form-data", ErrMalformedRequest, mt)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return "", fmt.Errorf("%w: missing boundary", ErrMalformedRequest)
	}

	// boundary := 0*69<bchars> bcharsnospace
	if len(boundary) > maxBoundaryLength || strings.HasSuffix(boundary, " ") {
		return "", fmt.Errorf("%w: invalid boundary", ErrMalformedRequest)
	}

	return boundary, nil
}

package httpform

import (
	"context"
	"io"
	"net/http"

	"github.com/mazrean/formbuf"
)

type Parser struct {
	*formbuf.Parser
	ctx    context.Context
	reader io.Reader
	size   int64
}

// NewParser prepares a parser for req.
// A Content-Length above the body cap fails here, before any byte of the body is read.
func NewParser(req *http.Request, options ...formbuf.ParserOption) (*Parser, error) {
	boundary, err := formbuf.BoundaryFromContentType(req.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	parser := formbuf.NewParser(boundary, options...)
	if req.ContentLength > int64(parser.MaxBodySize()) {
		return nil, formbuf.ErrPayloadTooLarge
	}

	return &Parser{
		Parser: parser,
		ctx:    req.Context(),
		reader: req.Body,
		size:   req.ContentLength,
	}, nil
}

func (p *Parser) Parse() (*formbuf.Result, error) {
	return p.Parser.ParseSized(p.ctx, p.reader, p.size)
}

// Parse is NewParser followed by Parse.
func Parse(req *http.Request, options ...formbuf.ParserOption) (*formbuf.Result, error) {
	p, err := NewParser(req, options...)
	if err != nil {
		return nil, err
	}

	return p.Parse()
}

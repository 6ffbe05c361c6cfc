package ginform

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/mazrean/formbuf"
)

type Parser struct {
	*formbuf.Parser
	ctx    context.Context
	reader io.Reader
	size   int64
}

func NewParser(c *gin.Context, options ...formbuf.ParserOption) (*Parser, error) {
	boundary, err := formbuf.BoundaryFromContentType(c.GetHeader("Content-Type"))
	if err != nil {
		return nil, err
	}

	parser := formbuf.NewParser(boundary, options...)
	if c.Request.ContentLength > int64(parser.MaxBodySize()) {
		return nil, formbuf.ErrPayloadTooLarge
	}

	return &Parser{
		Parser: parser,
		ctx:    c.Request.Context(),
		reader: c.Request.Body,
		size:   c.Request.ContentLength,
	}, nil
}

func (p *Parser) Parse() (*formbuf.Result, error) {
	return p.Parser.ParseSized(p.ctx, p.reader, p.size)
}

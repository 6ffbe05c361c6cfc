package formbuf

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Parser decodes one multipart/form-data body.
// A Parser holds no state between calls, but it is meant to be used for a single request.
type Parser struct {
	boundary string
	parserConfig
}

func NewParser(boundary string, options ...ParserOption) *Parser {
	c := parserConfig{
		maxBodySize:  defaultMaxBodySize,
		maxFileSize:  defaultMaxFileSize,
		allowedTypes: defaultAllowedTypes,
		maxParts:     defaultMaxParts,
		maxHeaders:   defaultMaxHeaders,
		chunkSize:    defaultChunkSize,
	}
	for _, opt := range options {
		opt(&c)
	}

	if c.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.logger = l
	}

	return &Parser{
		boundary:     boundary,
		parserConfig: c,
	}
}

// MaxBodySize returns the configured cap on the whole body.
func (p *Parser) MaxBodySize() DataSize {
	return p.maxBodySize
}

type parserConfig struct {
	maxBodySize      DataSize
	maxFileSize      DataSize
	allowedTypes     []string
	sniffContent     bool
	maxParts         uint
	maxHeaders       uint
	lenientTruncated bool
	chunkSize        int
	logger           logrus.FieldLogger
}

type ParserOption func(*parserConfig)

type DataSize int64

const (
	_ DataSize = 1 << (iota * 10)
	KB
	MB
	GB
)

const (
	defaultMaxBodySize = 5 * MB
	defaultMaxFileSize = 5 * MB
	defaultMaxParts    = 10000
	defaultMaxHeaders  = 10000
	defaultChunkSize   = 32 * int(KB)
)

var defaultAllowedTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/webp"}

// WithMaxBodySize sets the maximum size of the whole request body.
// default: 5MB
func WithMaxBodySize(maxBodySize DataSize) ParserOption {
	return func(c *parserConfig) {
		c.maxBodySize = maxBodySize
	}
}

// WithMaxFileSize sets the maximum size of a single file part.
// default: 5MB
func WithMaxFileSize(maxFileSize DataSize) ParserOption {
	return func(c *parserConfig) {
		c.maxFileSize = maxFileSize
	}
}

// WithAllowedTypes replaces the media types accepted for file parts.
// default: image/jpeg, image/jpg, image/png, image/webp
func WithAllowedTypes(types ...string) ParserOption {
	return func(c *parserConfig) {
		c.allowedTypes = types
	}
}

// WithContentSniffing makes the parser reject file parts whose content does not look like the declared media type.
func WithContentSniffing() ParserOption {
	return func(c *parserConfig) {
		c.sniffContent = true
	}
}

// WithMaxParts sets the maximum number of parts to be parsed.
// default: 10000
func WithMaxParts(maxParts uint) ParserOption {
	return func(c *parserConfig) {
		c.maxParts = maxParts
	}
}

// WithMaxHeaders sets the maximum number of headers to be parsed.
// default: 10000
func WithMaxHeaders(maxHeaders uint) ParserOption {
	return func(c *parserConfig) {
		c.maxHeaders = maxHeaders
	}
}

// WithLenientTruncation accepts a body cut before its terminal delimiter.
// The unterminated trailing part is dropped instead of failing the request.
func WithLenientTruncation() ParserOption {
	return func(c *parserConfig) {
		c.lenientTruncated = true
	}
}

// WithChunkSize sets the size of a single read from the request body.
// default: 32KB
func WithChunkSize(size int) ParserOption {
	return func(c *parserConfig) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithLogger sets the logger used for non-fatal diagnostics.
// default: a logger discarding everything
func WithLogger(logger logrus.FieldLogger) ParserOption {
	return func(c *parserConfig) {
		c.logger = logger
	}
}

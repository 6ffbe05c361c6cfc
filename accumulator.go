package formbuf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

var errFinalized = errors.New("accumulator already finalized")

// Accumulator collects body chunks into one contiguous buffer bounded by a maximum size.
// Once an append fails the collected bytes are dropped and no further bytes are accepted.
type Accumulator struct {
	buf       []byte
	maxSize   DataSize
	chunkSize int
	err       error
}

func NewAccumulator(maxSize DataSize) *Accumulator {
	return &Accumulator{
		maxSize:   maxSize,
		chunkSize: defaultChunkSize,
	}
}

// Append copies chunk to the end of the buffer.
// It fails with ErrPayloadTooLarge if the running total would exceed the maximum size.
func (a *Accumulator) Append(chunk []byte) error {
	if a.err != nil {
		return a.err
	}

	if DataSize(len(a.buf))+DataSize(len(chunk)) > a.maxSize {
		a.fail(ErrPayloadTooLarge)
		return a.err
	}

	a.buf = append(a.buf, chunk...)

	return nil
}

// Grow reserves room for n more bytes, capped by the remaining allowance.
func (a *Accumulator) Grow(n int64) {
	if a.err != nil || n <= 0 {
		return
	}

	remain := int64(a.maxSize) - int64(len(a.buf))
	if n > remain {
		n = remain
	}
	if n > 0 {
		a.buf = append(make([]byte, 0, int64(len(a.buf))+n), a.buf...)
	}
}

// Len returns the number of bytes collected so far.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Receive reads r until EOF, appending every chunk.
// Reading is the only point where Receive waits; ctx is checked before each read.
func (a *Accumulator) Receive(ctx context.Context, r io.Reader) error {
	chunk := make([]byte, a.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			a.fail(err)
			return fmt.Errorf("failed to receive body: %w", err)
		}

		n, err := r.Read(chunk)
		if n > 0 {
			if appendErr := a.Append(chunk[:n]); appendErr != nil {
				return appendErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			a.fail(err)
			return fmt.Errorf("failed to read body: %w", err)
		}
	}
}

// Finalize hands the collected bytes over as an immutable Buffer.
// The accumulator cannot be used afterwards.
func (a *Accumulator) Finalize() (Buffer, error) {
	if a.err != nil {
		return Buffer{}, a.err
	}

	b := Buffer{b: a.buf}
	a.buf = nil
	a.err = errFinalized

	return b, nil
}

func (a *Accumulator) fail(err error) {
	a.buf = nil
	a.err = err
}

// Buffer is a read-only view of a fully received body.
type Buffer struct {
	b []byte
}

// NewBuffer copies p into a Buffer.
func NewBuffer(p []byte) Buffer {
	return Buffer{b: bytes.Clone(p)}
}

func (b Buffer) Len() int {
	return len(b.b)
}

// Bytes returns a copy of the buffer contents.
func (b Buffer) Bytes() []byte {
	return bytes.Clone(b.b)
}

// Slice returns a copy of the bytes covered by r.
func (b Buffer) Slice(r ByteRange) []byte {
	return bytes.Clone(b.b[r.Start:r.End])
}

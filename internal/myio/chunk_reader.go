package myio

import "io"

type chunkReader struct {
	r    io.Reader
	size int
}

// ChunkReader returns at most size bytes per Read, like a body arriving over the network.
func ChunkReader(r io.Reader, size int) io.Reader {
	return &chunkReader{r: r, size: size}
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}
	return c.r.Read(p)
}

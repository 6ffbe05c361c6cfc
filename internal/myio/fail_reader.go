package myio

import "io"

type failReader struct {
	r   io.Reader
	err error
}

// FailReader reads r and then fails with err instead of io.EOF, like a dropped connection.
func FailReader(r io.Reader, err error) io.Reader {
	return &failReader{r: r, err: err}
}

func (f *failReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err == io.EOF {
		return n, f.err
	}
	return n, err
}

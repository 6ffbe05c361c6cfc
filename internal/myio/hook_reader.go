package myio

import "io"

type hookReader struct {
	r     io.Reader
	after int
	read  int
	hook  func()
}

// HookReader calls hook once, after at least n bytes were read from r.
func HookReader(r io.Reader, n int, hook func()) io.Reader {
	return &hookReader{r: r, after: n, hook: hook}
}

func (h *hookReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	h.read += n
	if h.hook != nil && h.read >= h.after {
		h.hook()
		h.hook = nil
	}
	return n, err
}

package ftpsession

import (
	"errors"
	"io"
)

// translator rewrites line endings one byte at a time.
type translator interface {
	step(out []byte, b byte) []byte
	flush(out []byte) []byte
}

// eolReader applies a translator to everything read from src.
type eolReader struct {
	src io.Reader
	buf []byte
	out []byte
	t   translator
	err error
}

func newEOLReader(src io.Reader, t translator) *eolReader {
	return &eolReader{src: src, buf: make([]byte, 32*1024), t: t}
}

// newWireReader translates local text (CRLF, CR or LF line ends) to the
// CRLF line ends of an ASCII transfer.
func newWireReader(src io.Reader) io.Reader {
	return newEOLReader(src, &toWire{})
}

// newLocalReader translates CRLF from an ASCII transfer to the line end of o.
func newLocalReader(src io.Reader, o OS) io.Reader {
	return newEOLReader(src, &toLocal{eol: o.eol()})
}

func (r *eolReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.out) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		n, err := r.src.Read(r.buf)
		for _, b := range r.buf[:n] {
			r.out = r.t.step(r.out, b)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.out = r.t.flush(r.out)
			}
			r.err = err
		}
	}

	n := copy(p, r.out)
	if n == len(r.out) {
		r.out = r.out[:0]
	} else {
		r.out = r.out[n:]
	}
	return n, nil
}

type toWire struct {
	cr bool
}

func (t *toWire) step(out []byte, b byte) []byte {
	switch b {
	case '\r':
		t.cr = true
		return append(out, '\r', '\n')
	case '\n':
		if t.cr {
			t.cr = false
			return out
		}
		return append(out, '\r', '\n')
	}
	t.cr = false
	return append(out, b)
}

func (t *toWire) flush(out []byte) []byte {
	return out
}

type toLocal struct {
	eol []byte
	cr  bool
}

func (t *toLocal) step(out []byte, b byte) []byte {
	if t.cr {
		t.cr = false
		if b == '\n' {
			return append(out, t.eol...)
		}
		out = append(out, '\r')
	}
	if b == '\r' {
		t.cr = true
		return out
	}
	return append(out, b)
}

// flush emits a CR left pending at end of stream.
func (t *toLocal) flush(out []byte) []byte {
	if t.cr {
		t.cr = false
		return append(out, '\r')
	}
	return out
}

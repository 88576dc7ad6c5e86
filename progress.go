package ftpsession

import "io"

// ProgressFunc is called while a transfer streams with the operation ("get"
// or "put"), the remote name and the number of bytes moved so far.
type ProgressFunc func(op, name string, transferred int64)

// progressReader wraps an io.Reader and reports progress via a callback.
type progressReader struct {
	r     io.Reader
	op    string
	name  string
	fn    ProgressFunc
	total int64
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	pr.total += int64(n)
	if n > 0 {
		pr.fn(pr.op, pr.name, pr.total)
	}
	return n, err
}

// progressWriter wraps an io.Writer and reports progress via a callback.
type progressWriter struct {
	w     io.Writer
	op    string
	name  string
	fn    ProgressFunc
	total int64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.total += int64(n)
	if n > 0 {
		pw.fn(pw.op, pw.name, pw.total)
	}
	return n, err
}

func (s *Session) withProgressReader(op, name string, r io.Reader) io.Reader {
	if s.progress == nil {
		return r
	}
	return &progressReader{r: r, op: op, name: name, fn: s.progress}
}

func (s *Session) withProgressWriter(op, name string, w io.Writer) io.Writer {
	if s.progress == nil {
		return w
	}
	return &progressWriter{w: w, op: op, name: name, fn: s.progress}
}

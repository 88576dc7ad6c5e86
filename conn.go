package ftpsession

import (
	"io"
	"net"
	"time"

	"github.com/gonzalop/ftpsession/internal/ratelimit"
)

// deadlineConn wraps a net.Conn and sets a read/write deadline before every operation.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// dataConn is the data channel of one operation: per-call deadlines plus an
// optional bandwidth limit shared by both directions.
type dataConn struct {
	net.Conn
	r io.Reader
	w io.Writer
}

func newDataConn(conn net.Conn, timeout time.Duration, bytesPerSecond int64) *dataConn {
	dc := &deadlineConn{Conn: conn, timeout: timeout}
	limiter := ratelimit.New(bytesPerSecond)
	return &dataConn{
		Conn: dc,
		r:    ratelimit.NewReader(dc, limiter),
		w:    ratelimit.NewWriter(dc, limiter),
	}
}

func (c *dataConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

func (c *dataConn) Write(b []byte) (int, error) {
	return c.w.Write(b)
}

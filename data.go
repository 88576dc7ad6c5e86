package ftpsession

import (
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"time"
)

// pasvRegex matches the PASV response format: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
var pasvRegex = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

// parsePASV parses a PASV response and returns the host and port.
// Example: "227 Entering Passive Mode (192,168,1,1,195,149)"
// Returns: "192.168.1.1:50069" (195*256 + 149 = 50069)
func parsePASV(response string) (string, error) {
	matches := pasvRegex.FindStringSubmatch(response)
	if len(matches) != 7 {
		return "", fmt.Errorf("invalid PASV response: %s", response)
	}

	var h [4]int
	for i := range 4 {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return "", fmt.Errorf("invalid PASV IP part: %s", matches[i+1])
		}
		h[i] = val
	}
	host := fmt.Sprintf("%d.%d.%d.%d", h[0], h[1], h[2], h[3])

	p1, err1 := strconv.Atoi(matches[5])
	p2, err2 := strconv.Atoi(matches[6])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return "", fmt.Errorf("invalid PASV port parts: %s, %s", matches[5], matches[6])
	}

	return net.JoinHostPort(host, strconv.Itoa(p1*256+p2)), nil
}

// formatPORT formats an address for the PORT command.
// Converts "192.168.1.100:50000" to "192,168,1,100,195,80"
func formatPORT(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", host)
	}
	ip = ip.To4()
	if ip == nil {
		return "", fmt.Errorf("PORT requires IPv4 address")
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", fmt.Errorf("invalid port: %s", portStr)
	}

	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip[0], ip[1], ip[2], ip[3], port/256, port%256), nil
}

// resolveDataAddr replaces a 0.0.0.0 PASV address with the control connection host.
func resolveDataAddr(pasvAddr, controlHost string) string {
	host, port, err := net.SplitHostPort(pasvAddr)
	if err != nil {
		return pasvAddr
	}
	if host == "0.0.0.0" {
		return net.JoinHostPort(controlHost, port)
	}
	return pasvAddr
}

// openData opens the data channel for op in the current mode and keeps it
// on the session until closeData.
func (s *Session) openData(op string) error {
	s.closeData()

	var (
		conn net.Conn
		err  error
	)
	if s.passive {
		conn, err = s.openPassive(op)
	} else {
		conn, err = s.openActive(op)
	}
	if err != nil {
		return err
	}

	s.data = newDataConn(conn, s.timeout, s.bandwidth)
	return nil
}

func (s *Session) openPassive(op string) (net.Conn, error) {
	resp, err := s.cmd(op, "PASV")
	if err != nil {
		return nil, err
	}

	addr, err := parsePASV(resp.Message)
	if err != nil {
		return nil, s.fail(op, "PASV command failed", resp.Message, err)
	}
	addr = resolveDataAddr(addr, s.host)

	conn, err := s.dial(addr)
	if err != nil {
		return nil, s.fail(op, "can't connect to data port", addr, err)
	}
	return conn, nil
}

// openActive listens on the control connection's local interface and
// announces the port with PORT. The server connects on the first read or write.
func (s *Session) openActive(op string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(s.conn.LocalAddr().String())
	if err != nil {
		host = "127.0.0.1"
	}

	listener, err := net.Listen("tcp4", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, s.fail(op, "can't open local data port", host, err)
	}

	arg, err := formatPORT(listener.Addr().String())
	if err != nil {
		_ = listener.Close()
		return nil, s.fail(op, "can't format PORT address", listener.Addr().String(), err)
	}

	if _, err := s.cmd(op, "PORT", arg); err != nil {
		_ = listener.Close()
		return nil, err
	}

	return &activeDataConn{listener: listener, timeout: s.timeout}, nil
}

// activeDataConn wraps a listener for active mode connections.
type activeDataConn struct {
	listener net.Listener
	conn     net.Conn
	timeout  time.Duration
}

func (a *activeDataConn) accept() error {
	if a.timeout > 0 {
		if l, ok := a.listener.(*net.TCPListener); ok {
			_ = l.SetDeadline(time.Now().Add(a.timeout))
		}
	}
	c, err := a.listener.Accept()
	if err != nil {
		return err
	}
	a.conn = c
	return nil
}

func (a *activeDataConn) Read(p []byte) (n int, err error) {
	if a.conn == nil {
		if err := a.accept(); err != nil {
			return 0, err
		}
	}
	if a.timeout > 0 {
		_ = a.conn.SetReadDeadline(time.Now().Add(a.timeout))
	}
	return a.conn.Read(p)
}

func (a *activeDataConn) Write(p []byte) (n int, err error) {
	if a.conn == nil {
		if err := a.accept(); err != nil {
			return 0, err
		}
	}
	if a.timeout > 0 {
		_ = a.conn.SetWriteDeadline(time.Now().Add(a.timeout))
	}
	return a.conn.Write(p)
}

// Close closes the accepted connection (if any) and the listener.
func (a *activeDataConn) Close() error {
	var err1, err2 error
	if a.conn != nil {
		err1 = a.conn.Close()
	}
	if a.listener != nil {
		err2 = a.listener.Close()
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (a *activeDataConn) LocalAddr() net.Addr {
	if a.conn != nil {
		return a.conn.LocalAddr()
	}
	return a.listener.Addr()
}

func (a *activeDataConn) RemoteAddr() net.Addr {
	if a.conn != nil {
		return a.conn.RemoteAddr()
	}
	return nil
}

func (a *activeDataConn) SetDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetDeadline(t)
	}
	return nil
}

func (a *activeDataConn) SetReadDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetReadDeadline(t)
	}
	return nil
}

func (a *activeDataConn) SetWriteDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetWriteDeadline(t)
	}
	return nil
}

// closeData closes the data channel, if one is open.
func (s *Session) closeData() {
	if s.data != nil {
		_ = s.data.Close()
		s.data = nil
	}
}

// dataRequest is one command that moves bytes over the data channel.
type dataRequest struct {
	op     string
	wire   TransferMode
	offset int64
	verb   string
	args   []string

	// stream moves the payload; it is only called on a 1xx reply.
	stream func(conn io.ReadWriter) (int64, error)
}

// transfer runs the data-channel sequence: TYPE, PASV/PORT, optional REST,
// the command, the payload and the completion reply. The data channel is
// closed on every path.
func (s *Session) transfer(req dataRequest) (int64, error) {
	if err := s.settype(req.op, req.wire); err != nil {
		return 0, err
	}

	if err := s.openData(req.op); err != nil {
		return 0, err
	}
	defer s.closeData()

	if req.offset > 0 {
		if err := s.restore(req.op, req.offset); err != nil {
			return 0, err
		}
	}

	resp, err := s.cmd(req.op, req.verb, req.args...)
	if err != nil {
		return 0, err
	}
	if resp.Code >= 200 {
		// Completed without a payload phase.
		return 0, nil
	}

	n, streamErr := req.stream(s.data)
	if a, ok := s.data.Conn.(*deadlineConn); ok && streamErr == nil {
		// Active mode: make sure the server's connection was taken even
		// when nothing was written.
		if ac, ok := a.Conn.(*activeDataConn); ok && ac.conn == nil {
			if err := ac.accept(); err != nil {
				streamErr = err
			}
		}
	}
	s.closeData()

	resp, err = s.readReply()
	if streamErr != nil {
		return n, s.fail(req.op, "data transfer failed", commandLine(req.verb, req.args), streamErr)
	}
	if err != nil {
		return n, s.fail(req.op, "no completion reply", commandLine(req.verb, req.args), err)
	}
	if !checkCode(resp.Code) {
		return n, s.refused(req.op, req.verb, req.args, resp)
	}

	s.logger.Debug("ftp data transfer complete", "op", req.op, "bytes", n)
	return n, nil
}

package ftptest

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

func (s *session) handlePASV(string) {
	s.closePassive()
	s.active = ""

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasv = ln

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	s.reply(227, fmt.Sprintf("Entering Passive Mode (127,0,0,1,%d,%d).", port/256, port%256))
}

func (s *session) handlePORT(arg string) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		s.reply(501, "Invalid PORT argument.")
		return
	}
	var nums [6]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			s.reply(501, "Invalid PORT argument.")
			return
		}
		nums[i] = n
	}

	s.closePassive()
	host := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	s.active = net.JoinHostPort(host, strconv.Itoa(nums[4]*256+nums[5]))
	s.reply(200, "PORT command successful.")
}

func (s *session) closePassive() {
	if s.pasv != nil {
		_ = s.pasv.Close()
		s.pasv = nil
	}
}

// connData returns the data connection prepared by PASV or PORT.
func (s *session) connData() (net.Conn, error) {
	if s.pasv != nil {
		defer s.closePassive()
		if l, ok := s.pasv.(*net.TCPListener); ok {
			_ = l.SetDeadline(time.Now().Add(dataTimeout))
		}
		return s.pasv.Accept()
	}
	if s.active != "" {
		addr := s.active
		s.active = ""
		return net.DialTimeout("tcp", addr, dataTimeout)
	}
	return nil, fmt.Errorf("no data connection prepared")
}

// withData opens the data connection, runs fn and closes the connection
// before sending the completion reply.
func (s *session) withData(fn func(net.Conn) error) {
	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}

	s.reply(150, "Opening data connection.")
	err = fn(conn)
	_ = conn.Close()
	if err != nil {
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}
	s.reply(226, "Transfer complete.")
}

func (s *session) handleRETR(arg string) {
	offset := s.restart
	s.restart = 0

	p := s.resolve(arg)
	content, err := afero.ReadFile(s.server.FS, p)
	if err != nil {
		s.closePassive()
		s.replyError(err)
		return
	}
	if offset > int64(len(content)) {
		offset = int64(len(content))
	}
	content = content[offset:]
	if s.typ == "A" {
		content = toCRLF(content)
	}

	s.withData(func(conn net.Conn) error {
		_, err := conn.Write(content)
		return err
	})
}

func (s *session) handleSTOR(arg string) {
	offset := s.restart
	s.restart = 0

	p := s.resolve(arg)
	if parent, err := s.server.FS.Stat(path.Dir(p)); err != nil || !parent.IsDir() {
		s.closePassive()
		s.reply(553, "Parent directory does not exist.")
		return
	}

	s.withData(func(conn net.Conn) error {
		_ = conn.SetReadDeadline(time.Now().Add(dataTimeout))
		content, err := io.ReadAll(conn)
		if err != nil {
			return err
		}
		if s.typ == "A" {
			content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
		}

		flags := os.O_WRONLY | os.O_CREATE
		if offset == 0 {
			flags |= os.O_TRUNC
		}
		f, err := s.server.FS.OpenFile(p, flags, 0644)
		if err != nil {
			return err
		}
		if _, err := f.WriteAt(content, offset); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

// listArgs separates leading "-flags" from the path of a LIST argument.
func listArgs(arg string) (flags, target string) {
	for strings.HasPrefix(arg, "-") {
		var flag string
		flag, arg, _ = strings.Cut(arg, " ")
		flags += flag[1:]
	}
	return flags, arg
}

func (s *session) handleLIST(arg string) {
	flags, target := listArgs(arg)
	lines, err := s.listing(s.resolve(target), flags)
	if err != nil {
		s.closePassive()
		s.replyError(err)
		return
	}
	s.withData(func(conn net.Conn) error {
		for _, line := range lines {
			if _, err := fmt.Fprintf(conn, "%s\r\n", line); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *session) handleNLST(arg string) {
	_, target := listArgs(arg)
	p := s.resolve(target)
	children, err := afero.ReadDir(s.server.FS, p)
	if err != nil {
		s.closePassive()
		s.replyError(err)
		return
	}
	s.withData(func(conn net.Conn) error {
		for _, fi := range children {
			if _, err := fmt.Fprintf(conn, "%s\r\n", fi.Name()); err != nil {
				return err
			}
		}
		return nil
	})
}

// listing formats the entries of p (or p itself when it is a file).
// The "a" flag adds "." and "..".
func (s *session) listing(p, flags string) ([]string, error) {
	info, err := s.server.FS.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{s.formatEntry(info, info.Name())}, nil
	}

	var lines []string
	if strings.Contains(flags, "a") {
		lines = append(lines, s.formatEntry(info, "."))
		if parent, err := s.server.FS.Stat(path.Dir(p)); err == nil {
			lines = append(lines, s.formatEntry(parent, ".."))
		}
	}

	children, err := afero.ReadDir(s.server.FS, p)
	if err != nil {
		return nil, err
	}
	for _, fi := range children {
		lines = append(lines, s.formatEntry(fi, fi.Name()))
	}
	return lines, nil
}

func (s *session) formatEntry(fi os.FileInfo, name string) string {
	mt := fi.ModTime().UTC()
	if s.server.windows {
		size := "<DIR>"
		if !fi.IsDir() {
			size = strconv.FormatInt(fi.Size(), 10)
		}
		return fmt.Sprintf("%s %20s %s", mt.Format("01-02-06  03:04PM"), size, name)
	}

	mode := fi.Mode().String()
	date := mt.Format("Jan _2 15:04")
	if mt.Year() != time.Now().UTC().Year() {
		date = mt.Format("Jan _2  2006")
	}
	return fmt.Sprintf("%s 1 owner group %d %s %s", mode, fi.Size(), date, name)
}

// toCRLF converts lone LF line ends to CRLF.
func toCRLF(content []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(content))
	for i, b := range content {
		if b == '\n' && (i == 0 || content[i-1] != '\r') {
			out.WriteByte('\r')
		}
		out.WriteByte(b)
	}
	return out.Bytes()
}

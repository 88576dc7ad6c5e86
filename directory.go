package ftpsession

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Pwd returns the current remote directory.
func (s *Session) Pwd() (string, error) {
	resp, err := s.cmd("pwd", "PWD")
	if err != nil {
		return "", err
	}

	// Example: 257 "/home/user" is the current directory
	msg := resp.Message
	start := strings.Index(msg, "\"")
	if start == -1 {
		return "", s.fail("pwd", "invalid PWD response", msg, fmt.Errorf("invalid PWD response: %s", msg))
	}
	end := strings.Index(msg[start+1:], "\"")
	if end == -1 {
		return "", s.fail("pwd", "invalid PWD response", msg, fmt.Errorf("invalid PWD response: %s", msg))
	}
	return msg[start+1 : start+1+end], nil
}

// Cdup changes to the parent directory.
func (s *Session) Cdup() error {
	_, err := s.cmd("cdup", "CDUP")
	return err
}

// Chdir changes the current remote directory.
func (s *Session) Chdir(dir string) error {
	_, err := s.cmd("chdir", "CWD", dir)
	return err
}

// Mkdir creates a remote directory.
func (s *Session) Mkdir(dir string) error {
	_, err := s.cmd("mkdir", "MKD", dir)
	return err
}

// Rmdir removes an empty remote directory.
func (s *Session) Rmdir(dir string) error {
	_, err := s.cmd("rmdir", "RMD", dir)
	return err
}

// Delete removes a remote file.
func (s *Session) Delete(name string) error {
	_, err := s.cmd("delete", "DELE", name)
	return err
}

// Rename renames a remote file or directory. The server must accept the
// source with 350 before RNTO is sent.
func (s *Session) Rename(from, to string) error {
	resp, err := s.sendCommand("RNFR", from)
	if err != nil {
		return s.fail("rename", "command failed", "RNFR "+from, err)
	}
	if resp.Code != 350 {
		return s.refused("rename", "RNFR", []string{from}, resp)
	}

	_, err = s.cmd("rename", "RNTO", to)
	return err
}

// Site sends a SITE command, e.g. Site("UMASK 022").
func (s *Session) Site(command string) error {
	_, err := s.cmd("site", "SITE", command)
	return err
}

// Chmod changes permissions with SITE CHMOD.
//
// Example:
//
//	err := sess.Chmod("script.sh", 0755)
func (s *Session) Chmod(name string, mode os.FileMode) error {
	_, err := s.cmd("chmod", "SITE", "CHMOD", fmt.Sprintf("%o", uint32(mode&os.ModePerm)), name)
	return err
}

// FileSize returns the size of a remote file. The server must advertise SIZE.
func (s *Session) FileSize(name string) (int64, error) {
	if !s.HasFeature("SIZE") {
		return 0, s.fail("filesize", "not supported by server", "", ErrNotSupported)
	}

	resp, err := s.cmd("filesize", "SIZE", name)
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(resp.Message)
	if len(fields) == 0 {
		return 0, s.fail("filesize", "invalid SIZE response", resp.Message, fmt.Errorf("invalid SIZE response: %q", resp.Message))
	}
	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, s.fail("filesize", "invalid SIZE response", resp.Message, err)
	}
	return size, nil
}

// Mdtm returns the modification time of a remote file in UTC.
// The server must advertise MDTM.
func (s *Session) Mdtm(name string) (time.Time, error) {
	if !s.HasFeature("MDTM") {
		return time.Time{}, s.fail("mdtm", "not supported by server", "", ErrNotSupported)
	}

	resp, err := s.cmd("mdtm", "MDTM", name)
	if err != nil {
		return time.Time{}, err
	}

	// YYYYMMDDHHMMSS, optionally followed by fractional seconds.
	timestamp := strings.TrimSpace(resp.Message)
	if len(timestamp) < 14 {
		return time.Time{}, s.fail("mdtm", "invalid MDTM response", resp.Message,
			fmt.Errorf("invalid MDTM response format: %s", resp.Message))
	}
	modTime, err := time.Parse("20060102150405", timestamp[:14])
	if err != nil {
		return time.Time{}, s.fail("mdtm", "invalid MDTM response", resp.Message, err)
	}
	return modTime.UTC(), nil
}

// Abort sends ABOR. A 426 reply (transfer aborted) is followed by a second
// reply, which decides the outcome.
func (s *Session) Abort() error {
	resp, err := s.abort()
	if err != nil {
		return s.fail("abort", "command failed", "ABOR", err)
	}
	if !checkCode(resp.Code) {
		return s.refused("abort", "ABOR", nil, resp)
	}
	s.logger.Info("abort", "code", resp.Code, "message", resp.Message)
	return nil
}

func (s *Session) abort() (*Response, error) {
	resp, err := s.sendCommand("ABOR")
	if err != nil {
		return nil, err
	}
	if resp.Code == 426 {
		return s.readReply()
	}
	return resp, nil
}

// FileExists probes for a remote file or directory with RNFR and cancels
// the pending rename with ABOR. A refused probe is not logged as an error.
func (s *Session) FileExists(name string) bool {
	resp, err := s.sendCommand("RNFR", name)
	if err != nil {
		return false
	}
	exists := checkCode(resp.Code)
	if exists {
		_, _ = s.abort()
	}
	s.logger.Debug("remote file exists", "name", name, "exists", exists)
	return exists
}

// RawList returns the lines of a LIST reply for dir. args are passed before
// the path, e.g. RawList("/pub", "-la").
func (s *Session) RawList(dir, args string) ([]string, error) {
	return s.list("list", "LIST", dir, args)
}

// NameList returns the names sent by NLST.
func (s *Session) NameList(dir string) ([]string, error) {
	return s.list("nlist", "NLST", dir, "")
}

// DirList lists dir and parses every line. Unrecognized lines and the "."
// and ".." entries are dropped; the listing order is kept.
func (s *Session) DirList(dir string) ([]*DirEntry, error) {
	lines, err := s.RawList(dir, "-la")
	if err != nil {
		return nil, err
	}
	return s.entries(lines), nil
}

func (s *Session) list(op, verb, dir, args string) ([]string, error) {
	var cmdArgs []string
	if args != "" {
		cmdArgs = append(cmdArgs, args)
	}
	if dir != "" {
		cmdArgs = append(cmdArgs, dir)
	}

	var buf bytes.Buffer
	_, err := s.transfer(dataRequest{
		op:   op,
		wire: ASCII,
		verb: verb,
		args: cmdArgs,
		stream: func(conn io.ReadWriter) (int64, error) {
			return io.Copy(&buf, conn)
		},
	})
	if err != nil {
		return nil, err
	}
	return splitLines(buf.String()), nil
}

// splitLines splits on CR and LF, dropping empty lines.
func splitLines(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
}

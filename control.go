package ftpsession

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Response represents an FTP server reply.
type Response struct {
	// Code is the three-digit reply code (e.g., 220, 550)
	Code int

	// Message is the reply text with code prefixes removed.
	// Lines of a multi-line reply are joined with "\n".
	Message string

	// Lines contains all raw lines of the reply
	Lines []string
}

// OK reports whether the reply code denotes success (1xx to 3xx).
func (r *Response) OK() bool {
	return checkCode(r.Code)
}

// checkCode reports whether code is a positive preliminary, completion or
// intermediate reply. Code 0 stands for "no reply".
func checkCode(code int) bool {
	return code > 0 && code < 400
}

// readResponse reads one complete reply from the reader.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"220-Welcome to FTP\r\n"
//	" any text\r\n"
//	"220 Ready\r\n"
//
// The reply is complete when a line starts with the code followed by a space.
// Anything in between is continuation text.
func readResponse(r *bufio.Reader) (*Response, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	if len(line) < 4 {
		return nil, fmt.Errorf("invalid response line: %q", line)
	}

	code, err := strconv.Atoi(line[0:3])
	if err != nil || code < 100 {
		return nil, fmt.Errorf("invalid response code: %q", line[0:3])
	}

	resp := &Response{Code: code, Lines: []string{line}}
	if line[3] == ' ' {
		resp.Message = line[4:]
		return resp, nil
	}

	if line[3] != '-' {
		return nil, fmt.Errorf("invalid response format: %q", line)
	}

	final := line[0:3] + " "
	for !strings.HasPrefix(line, final) {
		line, err = readLine(r)
		if err != nil {
			return nil, fmt.Errorf("unterminated %d reply: %w", code, err)
		}
		resp.Lines = append(resp.Lines, line)
	}

	text := make([]string, 0, len(resp.Lines))
	prefix := line[0:3]
	for _, l := range resp.Lines {
		if len(l) >= 4 && l[0:3] == prefix && (l[3] == '-' || l[3] == ' ') {
			l = l[4:]
		}
		text = append(text, l)
	}
	resp.Message = strings.Join(text, "\n")
	return resp, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// sendCommand writes one command and reads its reply.
// On any I/O failure the last reply code is reset to 0.
func (s *Session) sendCommand(verb string, args ...string) (*Response, error) {
	if s.conn == nil {
		s.code, s.message = 0, ""
		return nil, ErrNotConnected
	}

	for _, arg := range args {
		if strings.ContainsAny(arg, "\r\n") {
			return nil, fmt.Errorf("%w: line break in argument %q", ErrInvalidPath, arg)
		}
	}

	line := commandLine(verb, args)
	s.logger.Debug("ftp command", "cmd", redact(verb, line))
	s.lastAction = s.now()

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			s.code, s.message = 0, ""
			return nil, fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if _, err := fmt.Fprintf(s.conn, "%s\r\n", line); err != nil {
		s.code, s.message = 0, ""
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	return s.readReply()
}

// readReply reads the next reply from the control channel.
func (s *Session) readReply() (*Response, error) {
	if s.conn == nil {
		s.code, s.message = 0, ""
		return nil, ErrNotConnected
	}

	// Deadline goes on the connection, not the bufio.Reader.
	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			s.code, s.message = 0, ""
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	resp, err := readResponse(s.reader)
	if err != nil {
		s.code, s.message = 0, ""
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	s.code, s.message = resp.Code, resp.Message
	s.lastAction = s.now()
	s.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	return resp, nil
}

// cmd sends a command on behalf of op and checks the reply code.
// Failures are pushed to the error log.
func (s *Session) cmd(op, verb string, args ...string) (*Response, error) {
	resp, err := s.sendCommand(verb, args...)
	if err != nil {
		return nil, s.fail(op, "command failed", redact(verb, commandLine(verb, args)), err)
	}
	if !checkCode(resp.Code) {
		return resp, s.refused(op, verb, args, resp)
	}
	return resp, nil
}

// refused turns a negative reply into a logged *ProtocolError.
func (s *Session) refused(op, verb string, args []string, resp *Response) error {
	perr := &ProtocolError{
		Command:  redact(verb, commandLine(verb, args)),
		Response: resp.Message,
		Code:     resp.Code,
	}
	return s.fail(op, fmt.Sprintf("%s refused (%d)", verb, resp.Code), resp.Message, perr)
}

func commandLine(verb string, args []string) string {
	if len(args) == 0 {
		return verb
	}
	return verb + " " + strings.Join(args, " ")
}

func redact(verb, line string) string {
	if verb == "PASS" || verb == "ACCT" {
		return verb + " ***"
	}
	return line
}

// parseFeatureLines parses the lines of a FEAT reply into feature name →
// parameter tokens. Feature lines are the ones not starting with the reply
// code, e.g. "211-Features:\r\n SIZE\r\n REST STREAM\r\n211 End".
func parseFeatureLines(lines []string) map[string][]string {
	features := make(map[string][]string)
	for _, line := range lines {
		if len(line) >= 4 && (line[3] == '-' || line[3] == ' ') {
			if _, err := strconv.Atoi(line[0:3]); err == nil {
				continue
			}
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		features[strings.ToUpper(fields[0])] = fields[1:]
	}
	return features
}

// Quote sends a raw command and returns the reply without checking its code.
//
// Example:
//
//	resp, err := sess.Quote("SITE", "IDLE", "600")
func (s *Session) Quote(verb string, args ...string) (*Response, error) {
	resp, err := s.sendCommand(verb, args...)
	if err != nil {
		return nil, s.fail("quote", "command failed", redact(verb, commandLine(verb, args)), err)
	}
	return resp, nil
}

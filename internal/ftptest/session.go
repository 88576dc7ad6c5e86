package ftptest

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// dataTimeout bounds waiting for the client side of a data connection.
const dataTimeout = 5 * time.Second

// session is one client connection. Commands are handled one at a time.
type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader

	user       string
	loggedIn   bool
	cwd        string
	typ        string
	renameFrom string
	restart    int64

	pasv   net.Listener
	active string
}

// commandHandlers maps FTP commands to their handler functions.
var commandHandlers = map[string]func(*session, string){
	"USER": (*session).handleUSER,
	"PASS": (*session).handlePASS,
	"ACCT": (*session).handleACCT,
	"SYST": (*session).handleSYST,
	"FEAT": (*session).handleFEAT,
	"NOOP": (*session).handleNOOP,

	"PWD":  (*session).handlePWD,
	"CWD":  (*session).handleCWD,
	"CDUP": (*session).handleCDUP,
	"MKD":  (*session).handleMKD,
	"RMD":  (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,
	"SITE": (*session).handleSITE,
	"SIZE": (*session).handleSIZE,
	"MDTM": (*session).handleMDTM,

	"TYPE": (*session).handleTYPE,
	"REST": (*session).handleREST,
	"PASV": (*session).handlePASV,
	"PORT": (*session).handlePORT,
	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
	"LIST": (*session).handleLIST,
	"NLST": (*session).handleNLST,
	"ABOR": (*session).handleABOR,
}

// loginFree lists the commands accepted before PASS.
var loginFree = map[string]bool{
	"USER": true, "PASS": true, "ACCT": true, "SYST": true, "FEAT": true, "NOOP": true, "QUIT": true,
}

func newSession(server *Server, conn net.Conn) *session {
	return &session{
		server: server,
		conn:   conn,
		reader: bufio.NewReader(conn),
		cwd:    "/",
		typ:    "A",
	}
}

func (s *session) serve() {
	defer s.close()

	for _, line := range s.server.greeting {
		fmt.Fprintf(s.conn, "%s\r\n", line)
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		if !s.handleCommand(line) {
			return
		}
	}
}

func (s *session) close() {
	s.closePassive()
	_ = s.conn.Close()
}

// handleCommand dispatches one command line. It returns false after QUIT.
func (s *session) handleCommand(line string) bool {
	s.server.record(line)

	cmd, arg, _ := strings.Cut(line, " ")
	cmd = strings.ToUpper(cmd)

	logArg := arg
	if cmd == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command received", "cmd", cmd, "arg", logArg)

	if code, ok := s.server.failure(cmd, arg); ok {
		s.closePassive()
		s.active = ""
		s.reply(code, "Injected failure.")
		return true
	}

	if cmd == "QUIT" {
		s.reply(221, "Goodbye.")
		return false
	}

	handler, ok := commandHandlers[cmd]
	if !ok {
		s.reply(502, "Command not implemented.")
		return true
	}
	if !s.loggedIn && !loginFree[cmd] {
		s.reply(530, "Please login with USER and PASS.")
		return true
	}
	handler(s, arg)
	return true
}

func (s *session) reply(code int, message string) {
	fmt.Fprintf(s.conn, "%d %s\r\n", code, message)
}

func (s *session) replyError(err error) {
	switch {
	case os.IsNotExist(err):
		s.reply(550, "File not found.")
	case os.IsPermission(err):
		s.reply(550, "Permission denied.")
	case os.IsExist(err):
		s.reply(550, "File already exists.")
	default:
		s.reply(550, "Action failed: "+err.Error())
	}
}

// resolve turns a client path into an absolute path of the served filesystem.
func (s *session) resolve(p string) string {
	if p == "" {
		return s.cwd
	}
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(s.cwd, p)
}

func (s *session) handleUSER(arg string) {
	s.user = arg
	s.loggedIn = false
	s.reply(331, "Password required.")
}

func (s *session) handlePASS(arg string) {
	if s.server.users != nil {
		if want, ok := s.server.users[s.user]; !ok || want != arg {
			s.reply(530, "Login incorrect.")
			return
		}
	}
	s.loggedIn = true
	s.reply(230, "Login successful.")
}

func (s *session) handleACCT(string) {
	s.reply(202, "ACCT not needed.")
}

func (s *session) handleSYST(string) {
	if s.server.windows {
		s.reply(215, "Windows_NT")
		return
	}
	s.reply(215, "UNIX Type: L8")
}

func (s *session) handleFEAT(string) {
	if len(s.server.features) == 0 {
		s.reply(211, "No features.")
		return
	}
	var b strings.Builder
	b.WriteString("211-Features:\r\n")
	for _, f := range s.server.features {
		b.WriteString(" " + f + "\r\n")
	}
	b.WriteString("211 End\r\n")
	fmt.Fprint(s.conn, b.String())
}

func (s *session) handleNOOP(string) {
	s.reply(200, "OK.")
}

func (s *session) handlePWD(string) {
	s.reply(257, fmt.Sprintf("%q is the current directory", s.cwd))
}

func (s *session) handleCWD(arg string) {
	p := s.resolve(arg)
	info, err := s.server.FS.Stat(p)
	if err != nil {
		s.replyError(err)
		return
	}
	if !info.IsDir() {
		s.reply(550, "Not a directory.")
		return
	}
	s.cwd = p
	s.reply(250, "Directory successfully changed.")
}

func (s *session) handleCDUP(string) {
	s.cwd = path.Dir(s.cwd)
	s.reply(250, "Directory successfully changed.")
}

func (s *session) handleMKD(arg string) {
	p := s.resolve(arg)
	if _, err := s.server.FS.Stat(p); err == nil {
		s.reply(550, "File already exists.")
		return
	}
	if parent, err := s.server.FS.Stat(path.Dir(p)); err != nil || !parent.IsDir() {
		s.reply(550, "Parent directory does not exist.")
		return
	}
	if err := s.server.FS.Mkdir(p, 0755); err != nil {
		s.replyError(err)
		return
	}
	s.reply(257, fmt.Sprintf("%q created", p))
}

func (s *session) handleRMD(arg string) {
	p := s.resolve(arg)
	info, err := s.server.FS.Stat(p)
	if err != nil {
		s.replyError(err)
		return
	}
	if !info.IsDir() {
		s.reply(550, "Not a directory.")
		return
	}
	children, err := afero.ReadDir(s.server.FS, p)
	if err != nil {
		s.replyError(err)
		return
	}
	if len(children) > 0 {
		s.reply(550, "Directory not empty.")
		return
	}
	if err := s.server.FS.Remove(p); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Directory removed.")
}

func (s *session) handleDELE(arg string) {
	p := s.resolve(arg)
	info, err := s.server.FS.Stat(p)
	if err != nil {
		s.replyError(err)
		return
	}
	if info.IsDir() {
		s.reply(550, "Is a directory.")
		return
	}
	if err := s.server.FS.Remove(p); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "File deleted.")
}

func (s *session) handleRNFR(arg string) {
	p := s.resolve(arg)
	if _, err := s.server.FS.Stat(p); err != nil {
		s.replyError(err)
		return
	}
	s.renameFrom = p
	s.reply(350, "Ready for RNTO.")
}

func (s *session) handleRNTO(arg string) {
	if s.renameFrom == "" {
		s.reply(503, "RNFR required first.")
		return
	}
	from := s.renameFrom
	s.renameFrom = ""
	if err := s.server.FS.Rename(from, s.resolve(arg)); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Rename successful.")
}

func (s *session) handleSITE(arg string) {
	fields := strings.SplitN(arg, " ", 3)
	if len(fields) != 3 || !strings.EqualFold(fields[0], "CHMOD") {
		s.reply(502, "SITE command not implemented.")
		return
	}
	mode, err := strconv.ParseUint(fields[1], 8, 32)
	if err != nil {
		s.reply(501, "Invalid mode.")
		return
	}
	if err := s.server.FS.Chmod(s.resolve(fields[2]), os.FileMode(mode)); err != nil {
		s.replyError(err)
		return
	}
	s.reply(200, "SITE CHMOD command ok.")
}

func (s *session) handleSIZE(arg string) {
	info, err := s.server.FS.Stat(s.resolve(arg))
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, strconv.FormatInt(info.Size(), 10))
}

func (s *session) handleMDTM(arg string) {
	info, err := s.server.FS.Stat(s.resolve(arg))
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, info.ModTime().UTC().Format("20060102150405"))
}

func (s *session) handleTYPE(arg string) {
	t, _, _ := strings.Cut(strings.ToUpper(arg), " ")
	switch t {
	case "A":
		s.typ = "A"
	case "I", "L":
		s.typ = "I"
	default:
		s.reply(504, "Type not supported.")
		return
	}
	s.reply(200, "Type set to "+s.typ+".")
}

func (s *session) handleREST(arg string) {
	offset, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || offset < 0 {
		s.reply(501, "Invalid restart offset.")
		return
	}
	s.restart = offset
	s.reply(350, fmt.Sprintf("Restarting at %d.", offset))
}

func (s *session) handleABOR(string) {
	s.renameFrom = ""
	s.restart = 0
	s.closePassive()
	s.reply(226, "ABOR command successful.")
}

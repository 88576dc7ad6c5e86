// Package ftptest runs an in-process FTP server over an afero filesystem
// for exercising the session driver end to end.
//
// The server speaks the subset of RFC 959 the driver uses: login, SYST,
// FEAT, directory commands, RNFR/RNTO, SITE CHMOD, SIZE, MDTM, REST, TYPE,
// PASV, PORT, RETR, STOR, LIST, NLST and ABOR. Replies can be overridden per
// command with FailOn, and every received command is recorded.
package ftptest

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// DefaultFeatures is the FEAT reply of a server started without WithFeatures.
var DefaultFeatures = []string{"SIZE", "MDTM", "REST STREAM", "UTF8"}

// Server is a test FTP server bound to a loopback port.
type Server struct {
	// FS holds the served files. Paths are absolute, "/" is the login directory.
	FS afero.Fs

	listener net.Listener
	logger   *slog.Logger
	windows  bool
	features []string
	greeting []string
	users    map[string]string

	mu       sync.Mutex
	commands []string
	failures map[string]int
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithFS serves fs instead of a fresh afero.NewMemMapFs().
func WithFS(fs afero.Fs) Option {
	return func(s *Server) {
		s.FS = fs
	}
}

// WithWindows makes the server answer SYST with "Windows_NT" and send
// "dir" style listings.
func WithWindows() Option {
	return func(s *Server) {
		s.windows = true
	}
}

// WithFeatures replaces the FEAT lines. With no arguments FEAT answers
// without any feature.
func WithFeatures(features ...string) Option {
	return func(s *Server) {
		s.features = features
	}
}

// WithGreeting replaces the greeting. Each element is sent as one complete
// reply, e.g. "120 Ready in 1 minute" followed by "220 Ready".
func WithGreeting(replies ...string) Option {
	return func(s *Server) {
		s.greeting = replies
	}
}

// WithUser restricts login to the given credentials. Without it any
// user and password are accepted.
func WithUser(user, password string) Option {
	return func(s *Server) {
		if s.users == nil {
			s.users = make(map[string]string)
		}
		s.users[user] = password
	}
}

// WithLogger sets the logger for received commands.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Start listens on 127.0.0.1 and serves connections until Close.
func Start(options ...Option) (*Server, error) {
	s := &Server{
		FS:       afero.NewMemMapFs(),
		logger:   slog.New(slog.DiscardHandler),
		features: DefaultFeatures,
		greeting: []string{"220 ftptest ready"},
		failures: make(map[string]int),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range options {
		opt(s)
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr returns the "host:port" the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listening IP address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.Addr())
	return port
}

// FailOn makes the server answer code to verb. With a non-empty arg only
// that exact argument is affected. Data commands fail before the data
// channel is used.
func (s *Server) FailOn(verb, arg string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[failureKey(verb, arg)] = code
}

func failureKey(verb, arg string) string {
	if arg == "" {
		return strings.ToUpper(verb)
	}
	return strings.ToUpper(verb) + " " + arg
}

func (s *Server) failure(verb, arg string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.failures[failureKey(verb, arg)]; ok {
		return code, true
	}
	code, ok := s.failures[failureKey(verb, "")]
	return code, ok
}

// Commands returns every command line received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// CommandsWithVerb returns the received command lines starting with verb.
func (s *Server) CommandsWithVerb(verb string) []string {
	var out []string
	for _, line := range s.Commands() {
		if line == verb || strings.HasPrefix(line, verb+" ") {
			out = append(out, line)
		}
	}
	return out
}

// ResetCommands clears the command log.
func (s *Server) ResetCommands() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = nil
}

func (s *Server) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, line)
}

// Close stops the server and closes all client connections.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("accept failed", "error", err)
			}
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(s, conn).serve()

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

package ftpsession

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// TransferMode selects how file contents are transferred.
type TransferMode int

const (
	// AutoASCII picks ASCII for known text extensions and Binary otherwise.
	AutoASCII TransferMode = iota
	// ASCII transfers with TYPE A and line-ending translation.
	ASCII
	// Binary transfers with TYPE I, byte for byte.
	Binary
)

// typeUnset is the wire type before the first TYPE command.
const typeUnset TransferMode = -1

func (m TransferMode) valid() bool {
	return m == AutoASCII || m == ASCII || m == Binary
}

func (m TransferMode) String() string {
	switch m {
	case AutoASCII:
		return "auto ASCII"
	case ASCII:
		return "ASCII"
	case Binary:
		return "binary"
	case typeUnset:
		return "unset"
	}
	return "TransferMode(" + strconv.Itoa(int(m)) + ")"
}

// OS identifies the operating system family of either end of the session.
type OS int

const (
	OSUnix OS = iota
	OSWindows
	OSMac
)

func (o OS) String() string {
	switch o {
	case OSUnix:
		return "UNIX"
	case OSWindows:
		return "WINDOWS"
	case OSMac:
		return "MACOS"
	}
	return "OS(" + strconv.Itoa(int(o)) + ")"
}

// eol returns the native line ending.
func (o OS) eol() []byte {
	switch o {
	case OSWindows:
		return []byte("\r\n")
	case OSMac:
		return []byte("\r")
	}
	return []byte("\n")
}

// Dialer opens the control and data connections.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// defaultASCIIExtensions are transferred as text in AutoASCII mode.
var defaultASCIIExtensions = []string{
	"ASP", "BAT", "C", "CPP", "CSS", "CSV", "JS", "H", "HTM", "HTML",
	"SHTML", "INI", "LOG", "PHP3", "PHTML", "PL", "PERL", "SH", "SQL", "TXT",
}

var (
	systWindowsRegex = regexp.MustCompile(`(?i)win|dos|novell`)
	systMacRegex     = regexp.MustCompile(`(?i)os`)
	systUnixRegex    = regexp.MustCompile(`(?i)(li|u)nix`)
)

// Session is a single FTP client session: one control channel and, while an
// operation runs, one data channel.
//
// A Session is not safe for concurrent use. Every method blocks until its
// command/reply/data cycle is complete.
type Session struct {
	// control channel
	conn   net.Conn
	reader *bufio.Reader

	// data channel of the operation in progress, if any
	data *dataConn

	dialer    Dialer
	ownDialer bool
	lookupIP  func(host string) ([]net.IP, error)

	// server address; host is the resolved IPv4 address, fullHost the name given
	host     string
	fullHost string
	port     string

	user     string
	password string

	// mode is the configured policy, curType the type last negotiated with TYPE
	mode     TransferMode
	curType  TransferMode
	asciiExt map[string]struct{}

	passive       bool
	portAvailable bool

	timeout time.Duration
	umask   os.FileMode

	connected bool
	ready     bool

	// last reply
	code    int
	message string

	features map[string][]string

	localOS  OS
	remoteOS OS

	errors     []ErrorRecord
	lastAction time.Time

	fs        afero.Fs
	logger    *slog.Logger
	parsers   []ListingParser
	bandwidth int64
	progress  ProgressFunc
	clock     func() time.Time
}

// New creates an unconnected session with default settings: anonymous
// credentials, AutoASCII, a 30 second timeout, umask 0022 and passive mode.
func New(options ...Option) (*Session, error) {
	s := &Session{
		port:     "21",
		user:     "anonymous",
		password: "anon@ftp.com",
		mode:     AutoASCII,
		curType:  typeUnset,
		passive:  true,
		timeout:  30 * time.Second,
		umask:    0022,
		localOS:  OSUnix,
		remoteOS: OSUnix,
		features: map[string][]string{},
		fs:       afero.NewOsFs(),
		logger:   slog.New(slog.DiscardHandler),
		clock:    time.Now,
		lookupIP: net.LookupIP,
	}
	s.asciiExt = make(map[string]struct{}, len(defaultASCIIExtensions))
	for _, ext := range defaultASCIIExtensions {
		s.asciiExt[ext] = struct{}{}
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if s.dialer == nil {
		s.dialer = &net.Dialer{Timeout: s.timeout}
		s.ownDialer = true
	}

	if s.portAvailable {
		s.logger.Info("starting FTP session")
	} else {
		s.logger.Info("starting FTP session without PORT mode support")
	}
	return s, nil
}

// Dial creates a session and connects it to addr ("host:port").
// It does not log in.
//
// Example:
//
//	sess, err := ftpsession.Dial("ftp.example.com:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Quit(false)
//
//	if err := sess.Login("user", "secret"); err != nil {
//	    log.Fatal(err)
//	}
func Dial(addr string, options ...Option) (*Session, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	s, err := New(options...)
	if err != nil {
		return nil, err
	}

	if err := s.SetServer(host, port, false); err != nil {
		return nil, err
	}

	if err := s.Connect(); err != nil {
		return nil, err
	}

	return s, nil
}

// DialURL connects and logs in using an ftp:// URL of the form
// ftp://[user[:password]@]host[:port][/path]. Without a user in the URL the
// configured credentials are used. A path is entered with CWD.
func DialURL(rawURL string, options ...Option) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "ftp") {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	port := u.Port()
	if port == "" {
		port = "21"
	}
	s, err := Dial(net.JoinHostPort(u.Hostname(), port), options...)
	if err != nil {
		return nil, err
	}

	var user, password string
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}
	if err := s.Login(user, password); err != nil {
		_ = s.Quit(true)
		return nil, fmt.Errorf("login failed: %w", err)
	}

	if u.Path != "" && u.Path != "/" {
		if err := s.Chdir(u.Path); err != nil {
			_ = s.Quit(true)
			return nil, fmt.Errorf("failed to change directory: %w", err)
		}
	}
	return s, nil
}

// SetServer validates and stores the server address. The port must be
// numeric and the host must resolve to an IPv4 address other than the
// broadcast address. When the session is connected and reconnect is set, it
// is closed with Quit(true) and connected again.
func (s *Session) SetServer(host, port string, reconnect bool) error {
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return s.fail("server", "incorrect port syntax", port, ErrInvalidPort)
	}

	ip, err := s.resolve(host)
	if err != nil {
		return s.fail("server", fmt.Sprintf("wrong host name/address %q", host), "", err)
	}

	s.host = ip.String()
	s.fullHost = host
	s.port = strconv.Itoa(p)
	s.logger.Info("server set", "host", s.fullHost, "ip", s.host, "port", s.port)

	if reconnect && s.connected {
		s.logger.Info("reconnecting")
		if err := s.Quit(true); err != nil {
			return err
		}
		return s.Connect()
	}
	return nil
}

func (s *Session) resolve(host string) (net.IP, error) {
	if host == "" {
		return nil, ErrInvalidHost
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := s.lookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHost, err)
		}
		for _, candidate := range ips {
			if v4 := candidate.To4(); v4 != nil {
				ip = v4
				break
			}
		}
	}

	v4 := ip.To4()
	if v4 == nil || v4.Equal(net.IPv4bcast) {
		return nil, ErrInvalidHost
	}
	return v4, nil
}

// Connect opens the control channel, waits for the greeting and probes the
// server with SYST and FEAT. It is a no-op on a ready session.
func (s *Session) Connect() error {
	if s.ready {
		return nil
	}
	if s.host == "" {
		return s.fail("connect", "no server set", "", ErrInvalidHost)
	}

	if s.conn != nil {
		s.closeControl()
	}

	addr := net.JoinHostPort(s.host, s.port)
	s.logger.Info("connecting", "local_os", s.localOS.String(), "addr", addr)

	conn, err := s.dial(addr)
	if err != nil {
		return s.fail("connect", "cannot connect to remote host", s.fullHost+":"+s.port, err)
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.connected = true
	s.logger.Info("connected to remote host, waiting for greeting", "host", s.fullHost, "port", s.port)

	// Preliminary 1xx greetings ("120 ready in nnn minutes") precede the final one.
	for {
		resp, err := s.readReply()
		if err != nil {
			s.closeControl()
			return s.fail("connect", "no greeting", s.fullHost, err)
		}
		if !checkCode(resp.Code) {
			s.closeControl()
			return s.fail("connect", "greeting refused", resp.Message, &ProtocolError{
				Command:  "CONNECT",
				Response: resp.Message,
				Code:     resp.Code,
			})
		}
		if resp.Code >= 200 {
			break
		}
	}

	s.ready = true
	s.curType = typeUnset
	s.features = map[string][]string{}

	s.detectRemoteOS()

	if _, err := s.Features(); err != nil {
		s.logger.Info("can't get features list, optional features disabled")
	} else {
		s.logger.Info("supported features", "features", s.featureNames())
	}
	return nil
}

// ConnectHost points the session at host, keeping the current port, and connects.
func (s *Session) ConnectHost(host string) error {
	if err := s.SetServer(host, s.port, true); err != nil {
		return err
	}
	return s.Connect()
}

func (s *Session) dial(addr string) (net.Conn, error) {
	if d, ok := s.dialer.(*net.Dialer); ok && s.ownDialer {
		d.Timeout = s.timeout
	}
	return s.dialer.Dial("tcp", addr)
}

func (s *Session) detectRemoteOS() {
	name, _, err := s.Systype()
	if err != nil {
		s.logger.Info("can't detect remote OS")
		return
	}

	switch {
	case systWindowsRegex.MatchString(name):
		s.remoteOS = OSWindows
	case systMacRegex.MatchString(name):
		s.remoteOS = OSMac
	case systUnixRegex.MatchString(name):
		s.remoteOS = OSUnix
	default:
		s.remoteOS = OSMac
	}
	s.logger.Info("remote OS", "os", s.remoteOS.String())
}

// Login authenticates with USER followed by PASS (on 331) or ACCT.
// Empty arguments fall back to the configured credentials.
func (s *Session) Login(user, password string) error {
	if user != "" {
		s.user = user
	}
	if password != "" {
		s.password = password
	}

	resp, err := s.cmd("login", "USER", s.user)
	if err != nil {
		return err
	}

	if resp.Code != 230 {
		verb := "ACCT"
		if resp.Code == 331 {
			verb = "PASS"
		}
		if _, err := s.cmd("login", verb, s.password); err != nil {
			return err
		}
	}
	s.logger.Info("authentication succeeded", "user", s.user)

	// Some servers only answer FEAT once logged in.
	if len(s.features) == 0 {
		if _, err := s.Features(); err != nil {
			s.logger.Info("can't get features list, optional features disabled")
		} else {
			s.logger.Info("supported features", "features", s.featureNames())
		}
	}
	return nil
}

// Quit ends the session. On a ready session QUIT is sent first; if it fails
// and force is false the error is returned and the control channel stays
// open. Otherwise the control channel is closed. The session is no longer
// ready afterwards in every case.
func (s *Session) Quit(force bool) error {
	if s.ready {
		s.ready = false
		if _, err := s.cmd("quit", "QUIT"); err != nil && !force {
			return err
		}
		s.logger.Info("session finished")
	}
	s.closeControl()
	return nil
}

func (s *Session) closeControl() {
	s.closeData()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.reader = nil
	s.connected = false
	s.ready = false
	s.curType = typeUnset
}

// Features queries the server with FEAT and stores the result.
// It returns feature names (upper case) mapped to their parameter tokens.
func (s *Session) Features() (map[string][]string, error) {
	resp, err := s.cmd("features", "FEAT")
	if err != nil {
		return nil, err
	}
	s.features = parseFeatureLines(resp.Lines)
	return s.features, nil
}

// HasFeature reports whether the last FEAT reply advertised feature.
func (s *Session) HasFeature(feature string) bool {
	_, ok := s.features[strings.ToUpper(feature)]
	return ok
}

func (s *Session) featureNames() string {
	names := make([]string, 0, len(s.features))
	for name := range s.features {
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

// Systype returns the system name and the type detail from the SYST reply,
// e.g. "UNIX" and "L8" for "215 UNIX Type: L8".
func (s *Session) Systype() (string, string, error) {
	resp, err := s.cmd("systype", "SYST")
	if err != nil {
		return "", "", err
	}

	fields := strings.Fields(resp.Message)
	if len(fields) == 0 {
		return "", "", s.fail("systype", "empty reply", "", &ProtocolError{
			Command:  "SYST",
			Response: resp.Message,
			Code:     resp.Code,
		})
	}

	var detail string
	if len(fields) > 2 {
		detail = fields[2]
	}
	return fields[0], detail, nil
}

// SetType sets the transfer mode used by subsequent transfers.
// The TYPE command itself is only sent when a transfer needs a different type.
func (s *Session) SetType(mode TransferMode) error {
	if !mode.valid() {
		return s.fail("type", "wrong type", mode.String(), ErrInvalidMode)
	}
	s.mode = mode
	s.logger.Info("transfer type", "mode", mode.String())
	return nil
}

// Type returns the configured transfer mode.
func (s *Session) Type() TransferMode {
	return s.mode
}

// settype negotiates the wire type (ASCII or Binary), sending TYPE only on a change.
func (s *Session) settype(op string, wire TransferMode) error {
	if !s.ready {
		return s.fail(op, "not connected", "", ErrNotConnected)
	}
	if wire != Binary {
		wire = ASCII
	}
	if s.curType == wire {
		return nil
	}

	arg := "A"
	if wire == Binary {
		arg = "I"
	}
	if _, err := s.cmd(op, "TYPE", arg); err != nil {
		return err
	}
	s.curType = wire
	return nil
}

// modeFor resolves the configured mode for one remote file name.
func (s *Session) modeFor(name string) TransferMode {
	switch s.mode {
	case ASCII, Binary:
		return s.mode
	}
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "" {
		return Binary
	}
	if _, ok := s.asciiExt[strings.ToUpper(ext)]; ok {
		return ASCII
	}
	return Binary
}

// Passive switches between passive (PASV) and active (PORT) data channels.
// Active mode is only available on sessions created WithActiveMode; otherwise
// the session stays passive and ErrPassiveOnly is returned.
func (s *Session) Passive(on bool) error {
	if !on && !s.portAvailable {
		s.passive = true
		return s.fail("passive", "only passive connections available", "", ErrPassiveOnly)
	}
	s.passive = on
	s.logger.Info("passive mode", "on", on)
	return nil
}

// IsPassive reports whether data channels are opened in passive mode.
func (s *Session) IsPassive() bool {
	return s.passive
}

// SetTimeout changes the per-socket timeout. It applies from the next operation.
func (s *Session) SetTimeout(timeout time.Duration) {
	s.timeout = timeout
	s.logger.Info("timeout", "timeout", timeout)
}

// SetUmask changes the mask applied to local files and directories.
func (s *Session) SetUmask(mask os.FileMode) {
	s.umask = mask & os.ModePerm
	s.logger.Info("umask", "umask", fmt.Sprintf("%04o", uint32(s.umask)))
}

// Ready reports whether the greeting was received and the session accepts commands.
func (s *Session) Ready() bool {
	return s.ready
}

// Connected reports whether a control channel is open.
func (s *Session) Connected() bool {
	return s.connected
}

// RemoteOS returns the operating system guessed from the SYST reply.
func (s *Session) RemoteOS() OS {
	return s.remoteOS
}

// LocalOS returns the configured local operating system.
func (s *Session) LocalOS() OS {
	return s.localOS
}

// LastReply returns the code and message of the last reply.
// Code 0 means the last exchange produced no reply.
func (s *Session) LastReply() (int, string) {
	return s.code, s.message
}

// LastAction returns the time of the last control-channel exchange.
func (s *Session) LastAction() time.Time {
	return s.lastAction
}

func (s *Session) now() time.Time {
	return s.clock()
}

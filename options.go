package ftpsession

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Option is a functional option for configuring a Session.
type Option func(*Session) error

// WithTimeout sets the per-socket timeout.
// It applies to dialing and to every read and write on the control and data channels.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		if timeout < 0 {
			return fmt.Errorf("negative timeout: %s", timeout)
		}
		s.timeout = timeout
		return nil
	}
}

// WithLogger sets the logger receiving status messages and, at debug level,
// every command and reply.
//
// Example:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	sess, _ := ftpsession.Dial("ftp.example.com:21", ftpsession.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		if logger == nil {
			return fmt.Errorf("nil logger")
		}
		s.logger = logger
		return nil
	}
}

// WithDialer sets the transport used to open control and data connections.
// A *net.Dialer satisfies Dialer.
func WithDialer(dialer Dialer) Option {
	return func(s *Session) error {
		s.dialer = dialer
		return nil
	}
}

// WithActiveMode enables PORT support and makes active mode the default.
// Without it the session only uses passive mode.
func WithActiveMode() Option {
	return func(s *Session) error {
		s.portAvailable = true
		s.passive = false
		return nil
	}
}

// WithCredentials sets the credentials used by Login when called with empty values.
func WithCredentials(user, password string) Option {
	return func(s *Session) error {
		s.user = user
		s.password = password
		return nil
	}
}

// WithTransferMode sets the initial transfer mode (AutoASCII by default).
func WithTransferMode(mode TransferMode) Option {
	return func(s *Session) error {
		if !mode.valid() {
			return ErrInvalidMode
		}
		s.mode = mode
		return nil
	}
}

// WithUmask sets the mask applied to local files and directories created by
// downloads (0022 by default).
func WithUmask(mask os.FileMode) Option {
	return func(s *Session) error {
		s.umask = mask & os.ModePerm
		return nil
	}
}

// WithLocalOS declares the operating system of the local side, which selects
// the line ending used for ASCII transfers.
func WithLocalOS(o OS) Option {
	return func(s *Session) error {
		s.localOS = o
		return nil
	}
}

// WithFileSystem sets the local filesystem used by Get, Put and the bulk
// operations. The default is afero.NewOsFs().
func WithFileSystem(fs afero.Fs) Option {
	return func(s *Session) error {
		s.fs = fs
		return nil
	}
}

// WithBandwidthLimit caps data-channel throughput in bytes per second.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Session) error {
		if bytesPerSecond < 0 {
			return fmt.Errorf("negative bandwidth limit: %d", bytesPerSecond)
		}
		s.bandwidth = bytesPerSecond
		return nil
	}
}

// WithProgress registers a callback invoked while a data transfer streams.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Session) error {
		s.progress = fn
		return nil
	}
}

// WithListingParser adds a parser tried before the built-in Unix/Windows ones.
func WithListingParser(p ListingParser) Option {
	return func(s *Session) error {
		s.parsers = append(s.parsers, p)
		return nil
	}
}

// WithAutoASCIIExtensions replaces the list of extensions transferred in
// ASCII under AutoASCII mode. Extensions are matched case-insensitively and
// may be given with or without the leading dot.
func WithAutoASCIIExtensions(exts ...string) Option {
	return func(s *Session) error {
		s.asciiExt = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			s.asciiExt[strings.ToUpper(strings.TrimPrefix(e, "."))] = struct{}{}
		}
		return nil
	}
}

package ftpsession

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned (wrapped) by Session methods.
var (
	// ErrNotConnected is returned when a command is issued without a control channel.
	ErrNotConnected = errors.New("ftp: not connected")

	// ErrNotSupported is returned when an operation needs a feature the
	// server did not advertise in its FEAT reply (SIZE, MDTM, REST).
	ErrNotSupported = errors.New("ftp: not supported by server")

	// ErrASCIIRestore is returned by Restore when the negotiated type is not binary.
	ErrASCIIRestore = errors.New("ftp: can't restore in ASCII mode")

	// ErrPassiveOnly is returned when active mode is requested on a session
	// created without PORT support.
	ErrPassiveOnly = errors.New("ftp: only passive connections available")

	// ErrInvalidHost is returned when a host does not resolve to a usable IPv4 address.
	ErrInvalidHost = errors.New("ftp: wrong host name/address")

	// ErrInvalidPort is returned for a non-numeric or out of range port.
	ErrInvalidPort = errors.New("ftp: incorrect port syntax")

	// ErrInvalidMode is returned for an unknown TransferMode.
	ErrInvalidMode = errors.New("ftp: wrong transfer type")

	// ErrInvalidPath is returned for an empty path where one is required, a
	// path containing CR or LF, or a listed name that is not a single local
	// path element.
	ErrInvalidPath = errors.New("ftp: invalid path")
)

// ProtocolError represents an FTP protocol error with full context of the
// command/response conversation. Code 0 means no reply was received.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "STOR file.txt")
	Command string

	// Response is the message received from the server
	Response string

	// Code is the numeric FTP response code (e.g., 550)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// IsTemporary returns true if the error is a temporary failure (4xx).
func (e *ProtocolError) IsTemporary() bool {
	return e.Code >= 400 && e.Code < 500
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Code >= 500 && e.Code < 600
}

// ErrorRecord is one entry of the session error log.
type ErrorRecord struct {
	Time    time.Time
	Op      string
	Message string
	Detail  string
}

func (r ErrorRecord) String() string {
	if r.Detail == "" {
		return r.Op + ": " + r.Message
	}
	return fmt.Sprintf("%s: %s (%s)", r.Op, r.Message, r.Detail)
}

// PushError appends a record to the error log and returns the new log size.
func (s *Session) PushError(op, message, detail string) int {
	rec := ErrorRecord{
		Time:    s.now(),
		Op:      op,
		Message: message,
		Detail:  detail,
	}
	s.errors = append(s.errors, rec)
	s.logger.Warn(rec.String())
	return len(s.errors)
}

// PopError removes and returns the most recent record.
// The boolean is false when the log is empty.
func (s *Session) PopError() (ErrorRecord, bool) {
	if len(s.errors) == 0 {
		return ErrorRecord{}, false
	}
	rec := s.errors[len(s.errors)-1]
	s.errors = s.errors[:len(s.errors)-1]
	return rec, true
}

// Errors returns a copy of the error log, oldest first.
func (s *Session) Errors() []ErrorRecord {
	return append([]ErrorRecord(nil), s.errors...)
}

// fail pushes an error record and returns err annotated with the operation.
func (s *Session) fail(op, message, detail string, err error) error {
	s.PushError(op, message, detail)
	return fmt.Errorf("%s: %w", op, err)
}

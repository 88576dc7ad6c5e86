package ftpsession

import "time"

// Noop sends NOOP. It keeps the control channel from idling out and checks
// that the server still answers.
func (s *Session) Noop() error {
	_, err := s.cmd("noop", "NOOP")
	return err
}

// KeepAlive sends NOOP when the control channel has been idle for at least
// idle, and reports whether it did. Callers holding a session between
// operations call it periodically; it never runs in the background.
func (s *Session) KeepAlive(idle time.Duration) (bool, error) {
	if !s.ready || idle <= 0 {
		return false, nil
	}
	if s.now().Sub(s.lastAction) < idle {
		return false, nil
	}

	s.logger.Debug("sending keep-alive NOOP")
	return true, s.Noop()
}

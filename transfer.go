package ftpsession

import (
	"io"
	"os"
	"strconv"
)

// Store uploads data from an io.Reader to the remote path.
// The transfer type follows the session mode; ASCII uploads are sent with
// CRLF line ends.
//
// Example:
//
//	file, err := os.Open("report.txt")
//	if err != nil {
//	    return err
//	}
//	defer file.Close()
//
//	_, err = sess.Store("report.txt", file)
func (s *Session) Store(remote string, r io.Reader) (int64, error) {
	return s.store("put", remote, r, 0)
}

// StoreFrom resumes an upload: it sends REST offset before STOR.
// r must already be positioned at offset.
func (s *Session) StoreFrom(remote string, r io.Reader, offset int64) (int64, error) {
	return s.store("put", remote, r, offset)
}

func (s *Session) store(op, remote string, r io.Reader, offset int64) (int64, error) {
	wire := s.modeFor(remote)
	return s.transfer(dataRequest{
		op:     op,
		wire:   wire,
		offset: offset,
		verb:   "STOR",
		args:   []string{remote},
		stream: func(conn io.ReadWriter) (int64, error) {
			src := s.withProgressReader(op, remote, r)
			if wire == ASCII {
				src = newWireReader(src)
			}
			return io.Copy(conn, src)
		},
	})
}

// Retrieve downloads the remote path into an io.Writer.
// ASCII downloads are written with the local line end.
//
// Example:
//
//	var buf bytes.Buffer
//	if _, err := sess.Retrieve("motd.txt", &buf); err != nil {
//	    return err
//	}
func (s *Session) Retrieve(remote string, w io.Writer) (int64, error) {
	return s.retrieve("get", remote, w, 0)
}

// RetrieveFrom resumes a download: it sends REST offset before RETR.
func (s *Session) RetrieveFrom(remote string, w io.Writer, offset int64) (int64, error) {
	return s.retrieve("get", remote, w, offset)
}

func (s *Session) retrieve(op, remote string, w io.Writer, offset int64) (int64, error) {
	wire := s.modeFor(remote)
	return s.transfer(dataRequest{
		op:     op,
		wire:   wire,
		offset: offset,
		verb:   "RETR",
		args:   []string{remote},
		stream: func(conn io.ReadWriter) (int64, error) {
			var src io.Reader = conn
			if wire == ASCII {
				src = newLocalReader(src, s.localOS)
			}
			return io.Copy(s.withProgressWriter(op, remote, w), src)
		},
	})
}

// Get downloads remote into the local file, which defaults to the remote
// name. With a positive offset the local file is kept and written from
// offset on, and the server is asked to restart there.
func (s *Session) Get(remote, local string, offset int64) (int64, error) {
	if local == "" {
		local = remote
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset <= 0 {
		flags |= os.O_TRUNC
	}
	f, err := s.fs.OpenFile(local, flags, 0666&^s.umask)
	if err != nil {
		return 0, s.fail("get", "can't open local file", local, err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return 0, s.fail("get", "can't seek local file", local, err)
		}
	}

	n, err := s.retrieve("get", remote, f, offset)
	if err != nil {
		return n, err
	}
	if err := f.Sync(); err != nil {
		return n, s.fail("get", "can't write local file", local, err)
	}
	return n, nil
}

// Put uploads the local file to remote, which defaults to the local name.
// With a positive offset the upload resumes from that byte.
func (s *Session) Put(local, remote string, offset int64) (int64, error) {
	if remote == "" {
		remote = local
	}

	f, err := s.fs.Open(local)
	if err != nil {
		return 0, s.fail("put", "can't open local file", local, err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return 0, s.fail("put", "can't seek local file", local, err)
		}
	}

	return s.store("put", remote, f, offset)
}

// Restore sends REST offset for the next transfer. The server must advertise
// REST and the negotiated type must be binary.
func (s *Session) Restore(offset int64) error {
	return s.restore("restore", offset)
}

func (s *Session) restore(op string, offset int64) error {
	if !s.HasFeature("REST") {
		return s.fail(op, "restore not supported by server", "", ErrNotSupported)
	}
	if s.curType != Binary {
		return s.fail(op, "can't restore in ASCII mode", "", ErrASCIIRestore)
	}
	if _, err := s.cmd(op, "REST", strconv.FormatInt(offset, 10)); err != nil {
		return err
	}
	return nil
}

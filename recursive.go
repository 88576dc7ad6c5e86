package ftpsession

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// Mput uploads local to remote. A file is uploaded with Put. A directory is
// created remotely when missing (remote "" means the current directory) and
// its children are uploaded recursively.
//
// Without continueOnError the first failing child stops the walk and its
// error is returned. With it every child is attempted and the failures are
// returned combined; each one is also in the error log.
func (s *Session) Mput(local, remote string, continueOnError bool) error {
	info, err := s.fs.Stat(local)
	if err != nil {
		return s.fail("mput", "can't open local folder", local, err)
	}
	if !info.IsDir() {
		_, err := s.Put(local, remote, 0)
		return err
	}

	if remote == "" {
		remote = "."
	} else if !s.FileExists(remote) {
		if err := s.Mkdir(remote); err != nil {
			return err
		}
	}

	children, err := afero.ReadDir(s.fs, local)
	if err != nil {
		return s.fail("mput", "can't open local folder", local, err)
	}

	var errs error
	for _, child := range children {
		src := filepath.Join(local, child.Name())
		dst := joinRemote(remote, child.Name())

		if child.Mode()&os.ModeSymlink != 0 {
			if target, err := s.fs.Stat(src); err == nil {
				child = target
			}
		}

		if child.IsDir() {
			err = s.Mput(src, dst, continueOnError)
			if err != nil {
				s.PushError("mput", "can't copy folder", src)
			}
		} else {
			_, err = s.Put(src, dst, 0)
			if err != nil {
				s.PushError("mput", "can't copy file", src)
			}
		}

		if err != nil {
			errs = multierr.Append(errs, err)
			if !continueOnError {
				return errs
			}
		}
	}
	return errs
}

// Mget downloads the remote directory into local (default "."), creating
// local directories as needed. Permissions and modification times from the
// listing are applied to each downloaded entry when possible.
//
// continueOnError works as in Mput.
func (s *Session) Mget(remote, local string, continueOnError bool) error {
	if local == "" {
		local = "."
	}

	lines, err := s.RawList(remote, "-lA")
	if err != nil {
		return s.fail("mget", "can't read remote folder list", remote, err)
	}
	if len(lines) == 0 {
		return nil
	}

	if _, err := s.fs.Stat(local); err != nil {
		if err := s.fs.Mkdir(local, 0777&^s.umask); err != nil {
			return s.fail("mget", "can't create local folder", local, err)
		}
	}

	var errs error
	for _, e := range s.entries(lines) {
		if !safeName(e.Name) {
			errs = multierr.Append(errs, s.fail("mget", "unsafe name in listing", e.Name, ErrInvalidPath))
			if !continueOnError {
				return errs
			}
			continue
		}
		src := joinRemote(remote, e.Name)
		dst := filepath.Join(local, e.Name)

		if e.IsDir() {
			err = s.Mget(src, dst, continueOnError)
			if err != nil {
				s.PushError("mget", "can't copy folder", src)
			}
		} else {
			_, err = s.Get(src, dst, 0)
			if err != nil {
				s.PushError("mget", "can't copy file", src)
			}
		}

		if err != nil {
			errs = multierr.Append(errs, err)
			if !continueOnError {
				return errs
			}
			continue
		}
		s.applyAttributes(dst, e)
	}
	return errs
}

// applyAttributes copies the listed permissions and mtime to a local path, best effort.
func (s *Session) applyAttributes(local string, e *DirEntry) {
	if e.Perms != "" {
		if err := s.fs.Chmod(local, e.Mode().Perm()); err != nil {
			s.logger.Debug("can't set local permissions", "path", local, "error", err)
		}
	}
	if !e.Time.IsZero() {
		if err := s.fs.Chtimes(local, e.Time, e.Time); err != nil {
			s.logger.Debug("can't set local modification time", "path", local, "error", err)
		}
	}
}

// Mdel deletes the remote directory and everything below it.
//
// Without continueOnError the first failure stops the walk and the directory
// itself is left in place. With it every child is attempted, the directory
// removal is tried last and all failures are returned combined.
func (s *Session) Mdel(remote string, continueOnError bool) error {
	lines, err := s.RawList(remote, "-la")
	if err != nil {
		return s.fail("mdel", "can't read remote folder list", remote, err)
	}

	var errs error
	for _, e := range s.entries(lines) {
		if !safeName(e.Name) {
			errs = multierr.Append(errs, s.fail("mdel", "unsafe name in listing", e.Name, ErrInvalidPath))
			if !continueOnError {
				return errs
			}
			continue
		}
		target := joinRemote(remote, e.Name)

		if e.IsDir() {
			err = s.Mdel(target, continueOnError)
		} else {
			err = s.Delete(target)
			if err != nil {
				s.PushError("mdel", "can't delete file", target)
			}
		}

		if err != nil {
			errs = multierr.Append(errs, err)
			if !continueOnError {
				return errs
			}
		}
	}

	if err := s.Rmdir(remote); err != nil {
		s.PushError("mdel", "can't delete folder", remote)
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Mmkdir creates dir and any missing parents, shortest prefix first, and
// applies mode to every directory it creates (best effort, SITE CHMOD).
// An existing dir, "/" and "." succeed without any change.
func (s *Session) Mmkdir(dir string, mode os.FileMode) error {
	if dir == "" {
		return s.fail("mmkdir", "empty path", "", ErrInvalidPath)
	}
	dir = path.Clean(dir)
	if dir == "/" || dir == "." || s.FileExists(dir) {
		return nil
	}

	if err := s.Mmkdir(path.Dir(dir), mode); err != nil {
		return err
	}
	if err := s.Mkdir(dir); err != nil {
		return err
	}
	if err := s.Chmod(dir, mode); err != nil {
		s.logger.Debug("can't set remote permissions", "path", dir, "error", err)
	}
	return nil
}

// safeName reports whether a listed name is a single path element on both
// sides of the transfer.
func safeName(name string) bool {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.IsLocal(name)
}

func joinRemote(dir, name string) string {
	if dir == "" {
		return name
	}
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

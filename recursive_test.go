package ftpsession

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/gonzalop/ftpsession/internal/ftptest"
)

func mustMkdirAll(t *testing.T, fs afero.Fs, dir string) {
	t.Helper()
	if err := fs.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
}

func assertMissing(t *testing.T, fs afero.Fs, name string) {
	t.Helper()
	if _, err := fs.Stat(name); !os.IsNotExist(err) {
		t.Errorf("%s should not exist (err = %v)", name, err)
	}
}

func TestMmkdir(t *testing.T) {
	t.Parallel()
	srv, sess, _ := startServer(t, nil)

	if err := sess.Mmkdir("/a/b/c", 0750); err != nil {
		t.Fatalf("Mmkdir: %v", err)
	}
	want := []string{"MKD /a", "MKD /a/b", "MKD /a/b/c"}
	if got := srv.CommandsWithVerb("MKD"); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("MKD commands = %q, want %q", got, want)
	}
	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		info, err := srv.FS.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("%s not created: %v", dir, err)
		}
		if info.Mode().Perm() != 0750 {
			t.Errorf("%s mode = %v", dir, info.Mode().Perm())
		}
	}

	srv.ResetCommands()
	if err := sess.Mmkdir("/a/b/c", 0750); err != nil {
		t.Fatalf("second Mmkdir: %v", err)
	}
	if err := sess.Mmkdir("/a/x/", 0755); err != nil {
		t.Fatalf("Mmkdir below existing: %v", err)
	}
	if got := srv.CommandsWithVerb("MKD"); len(got) != 1 || got[0] != "MKD /a/x" {
		t.Errorf("MKD commands = %q", got)
	}

	srv.ResetCommands()
	for _, dir := range []string{"/", "."} {
		if err := sess.Mmkdir(dir, 0755); err != nil {
			t.Errorf("Mmkdir(%q) = %v", dir, err)
		}
	}
	if got := srv.Commands(); len(got) != 0 {
		t.Errorf("commands = %q", got)
	}
	if err := sess.Mmkdir("", 0755); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Mmkdir(\"\") = %v, want ErrInvalidPath", err)
	}
}

func TestMmkdir_Refused(t *testing.T) {
	t.Parallel()
	srv, sess, _ := startServer(t, nil)
	srv.FailOn("MKD", "/a/b", 550)

	if err := sess.Mmkdir("/a/b/c", 0755); err == nil {
		t.Fatal("expected error")
	}
	assertMissing(t, srv.FS, "/a/b/c")
	if len(srv.CommandsWithVerb("MKD")) != 2 {
		t.Errorf("MKD commands = %q", srv.CommandsWithVerb("MKD"))
	}
}

// localTree creates /src with two files and a nested directory.
func localTree(t *testing.T, fs afero.Fs) {
	t.Helper()
	mustMkdirAll(t, fs, "/src/sub/deep")
	writeFile(t, fs, "/src/a.txt", "alpha\n")
	writeFile(t, fs, "/src/b.bin", "\x00\x01")
	writeFile(t, fs, "/src/sub/c.txt", "gamma\n")
	writeFile(t, fs, "/src/sub/deep/d.bin", "delta")
}

func TestMput(t *testing.T) {
	t.Parallel()
	srv, sess, local := startServer(t, nil)
	localTree(t, local)

	if err := sess.Mput("/src", "/dst", false); err != nil {
		t.Fatalf("Mput: %v", err)
	}
	for name, want := range map[string]string{
		"/dst/a.txt":          "alpha\n",
		"/dst/b.bin":          "\x00\x01",
		"/dst/sub/c.txt":      "gamma\n",
		"/dst/sub/deep/d.bin": "delta",
	} {
		if got := readFile(t, srv.FS, name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	// The existing remote directory is reused.
	srv.ResetCommands()
	if err := sess.Mput("/src", "/dst", false); err != nil {
		t.Fatalf("second Mput: %v", err)
	}
	if got := srv.CommandsWithVerb("MKD"); len(got) != 0 {
		t.Errorf("MKD commands = %q", got)
	}

	if err := sess.Mput("/src/a.txt", "/single.txt", false); err != nil {
		t.Fatalf("Mput file: %v", err)
	}
	if got := readFile(t, srv.FS, "/single.txt"); got != "alpha\n" {
		t.Errorf("/single.txt = %q", got)
	}
}

func TestMput_CurrentDirectory(t *testing.T) {
	t.Parallel()
	srv, sess, local := startServer(t, nil)
	localTree(t, local)
	mustMkdirAll(t, srv.FS, "/home")

	if err := sess.Chdir("/home"); err != nil {
		t.Fatal(err)
	}
	if err := sess.Mput("/src", "", false); err != nil {
		t.Fatalf("Mput: %v", err)
	}
	if got := readFile(t, srv.FS, "/home/sub/deep/d.bin"); got != "delta" {
		t.Errorf("d.bin = %q", got)
	}
}

func TestMput_MissingLocal(t *testing.T) {
	t.Parallel()
	_, sess, _ := startServer(t, nil)

	if err := sess.Mput("/nope", "/dst", true); err == nil {
		t.Fatal("expected error")
	}
	if rec, _ := sess.PopError(); rec.Message != "can't open local folder" {
		t.Errorf("error record = %+v", rec)
	}
}

func TestMput_ContinueOnError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		continueOnError bool
		wantUploaded    bool
	}{
		{"stop at first failure", false, false},
		{"continue after failure", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, sess, local := startServer(t, nil)
			localTree(t, local)
			srv.FailOn("STOR", "/dst/a.txt", 553)

			err := sess.Mput("/src", "/dst", tt.continueOnError)
			if err == nil {
				t.Fatal("expected error")
			}
			if n := len(multierr.Errors(err)); n != 1 {
				t.Errorf("%d errors combined, want 1", n)
			}

			_, statErr := srv.FS.Stat("/dst/sub/deep/d.bin")
			if uploaded := statErr == nil; uploaded != tt.wantUploaded {
				t.Errorf("d.bin uploaded = %v, want %v", uploaded, tt.wantUploaded)
			}

			found := false
			for _, rec := range sess.Errors() {
				if rec.Op == "mput" && rec.Message == "can't copy file" && rec.Detail == "/src/a.txt" {
					found = true
				}
			}
			if !found {
				t.Errorf("error log = %v", sess.Errors())
			}
		})
	}
}

// remoteTree creates /pub on the server with a file dated in 2019.
func remoteTree(t *testing.T, fs afero.Fs) time.Time {
	t.Helper()
	mustMkdirAll(t, fs, "/pub/sub")
	writeFile(t, fs, "/pub/a.txt", "alpha\n")
	writeFile(t, fs, "/pub/b.bin", "bravo")
	writeFile(t, fs, "/pub/sub/c.bin", "charlie")

	stamp := time.Date(2019, time.May, 6, 0, 0, 0, 0, time.UTC)
	if err := fs.Chtimes("/pub/b.bin", stamp, stamp); err != nil {
		t.Fatal(err)
	}
	if err := fs.Chmod("/pub/b.bin", 0600); err != nil {
		t.Fatal(err)
	}
	return stamp
}

func TestMget(t *testing.T) {
	t.Parallel()
	srv, sess, local := startServer(t, nil, WithLocalOS(OSWindows))
	stamp := remoteTree(t, srv.FS)

	if err := sess.Mget("/pub", "/dl", false); err != nil {
		t.Fatalf("Mget: %v", err)
	}
	for name, want := range map[string]string{
		"/dl/a.txt":     "alpha\r\n",
		"/dl/b.bin":     "bravo",
		"/dl/sub/c.bin": "charlie",
	} {
		if got := readFile(t, local, name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	info, err := local.Stat("/dl/b.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(stamp) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), stamp)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
	if info, err := local.Stat("/dl/sub"); err != nil || !info.IsDir() {
		t.Errorf("/dl/sub not created: %v", err)
	}

	if got := srv.CommandsWithVerb("LIST"); got[0] != "LIST -lA /pub" {
		t.Errorf("LIST commands = %q", got)
	}
}

func TestMget_EmptyAndMissing(t *testing.T) {
	t.Parallel()
	srv, sess, local := startServer(t, nil)
	mustMkdirAll(t, srv.FS, "/empty")

	if err := sess.Mget("/empty", "/e", false); err != nil {
		t.Fatalf("Mget empty: %v", err)
	}
	assertMissing(t, local, "/e")

	if err := sess.Mget("/missing", "/m", true); err == nil {
		t.Fatal("expected error for a missing remote directory")
	}
	if rec, _ := sess.PopError(); rec.Message != "can't read remote folder list" {
		t.Errorf("error record = %+v", rec)
	}
}

func TestMget_ContinueOnError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		continueOnError bool
		wantDownloaded  bool
	}{
		{"stop at first failure", false, false},
		{"continue after failure", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, sess, local := startServer(t, nil)
			remoteTree(t, srv.FS)
			srv.FailOn("RETR", "/pub/a.txt", 550)

			err := sess.Mget("/pub", "/dl", tt.continueOnError)
			if err == nil {
				t.Fatal("expected error")
			}
			if n := len(multierr.Errors(err)); n != 1 {
				t.Errorf("%d errors combined, want 1", n)
			}

			_, statErr := local.Stat("/dl/sub/c.bin")
			if downloaded := statErr == nil; downloaded != tt.wantDownloaded {
				t.Errorf("c.bin downloaded = %v, want %v", downloaded, tt.wantDownloaded)
			}
		})
	}
}

func TestMget_WindowsServer(t *testing.T) {
	t.Parallel()
	srv, sess, local := startServer(t, []ftptest.Option{ftptest.WithWindows()})
	stamp := remoteTree(t, srv.FS)

	if err := sess.Mget("/pub", "/dl", false); err != nil {
		t.Fatalf("Mget: %v", err)
	}
	if got := readFile(t, local, "/dl/sub/c.bin"); got != "charlie" {
		t.Errorf("c.bin = %q", got)
	}
	info, err := local.Stat("/dl/b.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(stamp) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), stamp)
	}
}

// trashTree creates /trash with files at every level.
func trashTree(t *testing.T, fs afero.Fs) {
	t.Helper()
	mustMkdirAll(t, fs, "/trash/sub/deep")
	writeFile(t, fs, "/trash/a", "a")
	writeFile(t, fs, "/trash/sub/b", "b")
	writeFile(t, fs, "/trash/sub/deep/c", "c")
}

func TestMdel(t *testing.T) {
	t.Parallel()
	srv, sess, _ := startServer(t, nil)
	trashTree(t, srv.FS)

	if err := sess.Mdel("/trash", false); err != nil {
		t.Fatalf("Mdel: %v", err)
	}
	assertMissing(t, srv.FS, "/trash")

	want := []string{"RMD /trash/sub/deep", "RMD /trash/sub", "RMD /trash"}
	if got := srv.CommandsWithVerb("RMD"); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("RMD commands = %q, want %q", got, want)
	}
}

func TestMdel_ContinueOnError(t *testing.T) {
	t.Parallel()

	t.Run("stop at first failure", func(t *testing.T) {
		t.Parallel()
		srv, sess, _ := startServer(t, nil)
		trashTree(t, srv.FS)
		srv.FailOn("DELE", "/trash/a", 550)

		if err := sess.Mdel("/trash", false); err == nil {
			t.Fatal("expected error")
		}
		if got := readFile(t, srv.FS, "/trash/sub/deep/c"); got != "c" {
			t.Errorf("c = %q", got)
		}
		if got := srv.CommandsWithVerb("RMD"); len(got) != 0 {
			t.Errorf("RMD commands = %q", got)
		}
	})

	t.Run("continue after failure", func(t *testing.T) {
		t.Parallel()
		srv, sess, _ := startServer(t, nil)
		trashTree(t, srv.FS)
		srv.FailOn("DELE", "/trash/a", 550)

		err := sess.Mdel("/trash", true)
		if n := len(multierr.Errors(err)); n != 2 {
			t.Fatalf("%d errors combined, want 2: %v", n, err)
		}
		assertMissing(t, srv.FS, "/trash/sub")
		if got := readFile(t, srv.FS, "/trash/a"); got != "a" {
			t.Errorf("a = %q", got)
		}

		var ops []string
		for _, rec := range sess.Errors() {
			if rec.Op == "mdel" {
				ops = append(ops, rec.Message)
			}
		}
		if strings.Join(ops, ",") != "can't delete file,can't delete folder" {
			t.Errorf("mdel error records = %q", ops)
		}
	})
}

func TestJoinRemote(t *testing.T) {
	t.Parallel()
	tests := []struct{ dir, name, want string }{
		{"", "a", "a"},
		{".", "a", "./a"},
		{"/", "a", "/a"},
		{"/pub", "a", "/pub/a"},
		{"/pub/", "a", "/pub/a"},
	}
	for _, tt := range tests {
		if got := joinRemote(tt.dir, tt.name); got != tt.want {
			t.Errorf("joinRemote(%q, %q) = %q, want %q", tt.dir, tt.name, got, tt.want)
		}
	}
}

// renamingFs lists selected directory entries under a different name.
type renamingFs struct {
	afero.Fs
	names map[string]string
}

func (f renamingFs) Open(name string) (afero.File, error) {
	file, err := f.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	return renamingFile{File: file, names: f.names}, nil
}

type renamingFile struct {
	afero.File
	names map[string]string
}

func (f renamingFile) Readdir(count int) ([]os.FileInfo, error) {
	infos, err := f.File.Readdir(count)
	for i, fi := range infos {
		if to, ok := f.names[fi.Name()]; ok {
			infos[i] = renamedInfo{FileInfo: fi, name: to}
		}
	}
	return infos, err
}

type renamedInfo struct {
	os.FileInfo
	name string
}

func (r renamedInfo) Name() string { return r.name }

func hostileServer(t *testing.T) (*ftptest.Server, *Session, afero.Fs) {
	t.Helper()
	remote := renamingFs{
		Fs: afero.NewMemMapFs(),
		names: map[string]string{
			"a.evil": "../../etc/evil",
			"b.evil": `..\win.ini`,
		},
	}
	srv, sess, local := startServer(t, []ftptest.Option{ftptest.WithFS(remote)})
	mustMkdirAll(t, srv.FS, "/pub")
	writeFile(t, srv.FS, "/pub/a.evil", "pwnd")
	writeFile(t, srv.FS, "/pub/b.evil", "pwnd")
	writeFile(t, srv.FS, "/pub/ok.txt", "fine")
	return srv, sess, local
}

func TestMget_UnsafeNames(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		continueOnError bool
		wantErrors      int
		wantDownloaded  bool
	}{
		{"stop at first unsafe name", false, 1, false},
		{"skip unsafe names", true, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, sess, local := hostileServer(t)
			mustMkdirAll(t, local, "/home/user/dl")

			err := sess.Mget("/pub", "/home/user/dl", tt.continueOnError)
			if !errors.Is(err, ErrInvalidPath) {
				t.Fatalf("Mget() = %v, want ErrInvalidPath", err)
			}
			if n := len(multierr.Errors(err)); n != tt.wantErrors {
				t.Errorf("%d errors combined, want %d", n, tt.wantErrors)
			}
			if n := len(sess.Errors()); n != tt.wantErrors {
				t.Errorf("error log = %v", sess.Errors())
			}

			assertMissing(t, local, "/home/etc/evil")
			assertMissing(t, local, "/home/user/win.ini")
			for _, c := range srv.CommandsWithVerb("RETR") {
				if strings.Contains(c, "evil") || strings.Contains(c, "win.ini") {
					t.Errorf("unsafe entry fetched: %q", c)
				}
			}

			_, statErr := local.Stat("/home/user/dl/ok.txt")
			if downloaded := statErr == nil; downloaded != tt.wantDownloaded {
				t.Errorf("ok.txt downloaded = %v, want %v", downloaded, tt.wantDownloaded)
			}
		})
	}
}

func TestMdel_UnsafeNames(t *testing.T) {
	t.Parallel()
	srv, sess, _ := hostileServer(t)

	err := sess.Mdel("/pub", true)
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("Mdel() = %v, want ErrInvalidPath", err)
	}
	if got := srv.CommandsWithVerb("DELE"); len(got) != 1 || got[0] != "DELE /pub/ok.txt" {
		t.Errorf("DELE commands = %q", got)
	}
	if _, err := srv.FS.Stat("/pub/a.evil"); err != nil {
		t.Errorf("unlisted file removed: %v", err)
	}
}

func TestSafeName(t *testing.T) {
	t.Parallel()
	for name, want := range map[string]bool{
		"file.txt":       true,
		"..hidden":       true,
		"":               false,
		".":              false,
		"..":             false,
		"a/b":            false,
		`a\b`:            false,
		"/etc/passwd":    false,
		"../../etc/evil": false,
	} {
		if got := safeName(name); got != want {
			t.Errorf("safeName(%q) = %v, want %v", name, got, want)
		}
	}
}

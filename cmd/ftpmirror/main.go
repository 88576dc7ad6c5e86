// Command ftpmirror copies files and directory trees between the local
// filesystem and an FTP server.
//
// Usage:
//
//	ftpmirror [-config ftpmirror.json] [-debug] <command> [args]
//
// Commands:
//
//	ls [dir]                 list a remote directory
//	get <remote> [local]     download one file
//	put <local> [remote]     upload one file
//	mget <remote> [local]    download a directory tree
//	mput <local> [remote]    upload a directory tree
//	mdel <remote>            delete a remote directory tree
//	mkdir <dir>              create a remote directory and its parents
//	rm <remote>              delete one remote file
//	size <remote>            print the size of a remote file
//	mdtm <remote>            print the modification time of a remote file
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"golang.org/x/term"

	"github.com/gonzalop/ftpsession"
)

var errUsage = errors.New("usage: ftpmirror [-config file] [-debug] <ls|get|put|mget|mput|mdel|mkdir|rm|size|mdtm> [args]")

func main() {
	var (
		configLocation string
		debugMode      bool
	)
	flag.StringVar(&configLocation, "config", "./ftpmirror.json", "the location of the configuration file")
	flag.BoolVar(&debugMode, "debug", false, "log every FTP command and reply")
	flag.Parse()

	logger, err := newLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger, configLocation, flag.Args()); err != nil {
		for _, e := range multierr.Errors(err) {
			logger.Error("ftpmirror failed", zap.Error(e))
		}
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func run(logger *zap.Logger, configLocation string, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	fs := afero.NewOsFs()
	logger.Info("reading configuration from path", zap.String("config-path", configLocation))
	cfg, err := readConfig(fs, configLocation)
	if err != nil {
		return fmt.Errorf("could not read configuration: %w", err)
	}

	if cfg.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "Password for %s@%s: ", cfg.User, cfg.Host)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("could not read password: %w", err)
		}
		cfg.Password = string(pw)
	}

	opts := append(cfg.options(),
		ftpsession.WithLogger(slog.New(zapslog.NewHandler(logger.Core()))),
		ftpsession.WithFileSystem(fs),
	)
	sess, err := ftpsession.New(opts...)
	if err != nil {
		return err
	}
	if err := sess.SetServer(cfg.Host, cfg.Port, false); err != nil {
		return err
	}
	if err := sess.Connect(); err != nil {
		return err
	}
	defer func() {
		if err := sess.Quit(false); err != nil {
			logger.Warn("quit failed", zap.Error(err))
		}
	}()

	if err := sess.Login("", ""); err != nil {
		return err
	}

	return execute(sess, cfg, args, os.Stdout)
}

// execute runs one command on a logged-in session.
func execute(sess *ftpsession.Session, cfg *config, args []string, out io.Writer) error {
	cmd, rest := strings.ToLower(args[0]), args[1:]
	arg := func(i int, def string) string {
		if i < len(rest) {
			return rest[i]
		}
		return def
	}

	switch cmd {
	case "ls":
		entries, err := sess.DirList(arg(0, ""))
		if err != nil {
			return err
		}
		for _, e := range entries {
			name := e.Name
			if e.Target != "" {
				name += " -> " + e.Target
			}
			fmt.Fprintf(out, "%c %10d %s %s\n", e.Type, e.Size, e.Time.Format("2006-01-02 15:04"), name)
		}
		return nil
	case "get":
		if len(rest) < 1 {
			return errUsage
		}
		_, err := sess.Get(rest[0], arg(1, ""), 0)
		return err
	case "put":
		if len(rest) < 1 {
			return errUsage
		}
		_, err := sess.Put(rest[0], arg(1, ""), 0)
		return err
	case "mget":
		if len(rest) < 1 {
			return errUsage
		}
		return sess.Mget(rest[0], arg(1, "."), cfg.ContinueOnError)
	case "mput":
		if len(rest) < 1 {
			return errUsage
		}
		return sess.Mput(rest[0], arg(1, ""), cfg.ContinueOnError)
	case "mdel":
		if len(rest) < 1 {
			return errUsage
		}
		return sess.Mdel(rest[0], cfg.ContinueOnError)
	case "mkdir":
		if len(rest) < 1 {
			return errUsage
		}
		return sess.Mmkdir(rest[0], 0777&^cfg.Umask)
	case "rm":
		if len(rest) < 1 {
			return errUsage
		}
		return sess.Delete(rest[0])
	case "size":
		if len(rest) < 1 {
			return errUsage
		}
		size, err := sess.FileSize(rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, size)
		return nil
	case "mdtm":
		if len(rest) < 1 {
			return errUsage
		}
		t, err := sess.Mdtm(rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, t.Format("2006-01-02 15:04:05 MST"))
		return nil
	}
	return errUsage
}

package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/spf13/afero"

	"github.com/gonzalop/ftpsession"
)

// config is the JSON configuration of a mirror run:
//
//	{
//	  "server": {"host": "ftp.example.com", "port": 21},
//	  "auth": {"user": "mirror", "password": ""},
//	  "transfer": {
//	    "mode": "auto", "passive": true, "timeout": 30,
//	    "umask": "022", "bandwidth": 0, "continue_on_error": true,
//	    "ascii_extensions": ["txt", "csv"]
//	  },
//	  "local_os": "unix"
//	}
//
// Every key is optional.
type config struct {
	Host            string
	Port            string
	User            string
	Password        string
	Mode            ftpsession.TransferMode
	Passive         bool
	Timeout         time.Duration
	Umask           os.FileMode
	Bandwidth       int64
	ContinueOnError bool
	ASCIIExtensions []string
	LocalOS         ftpsession.OS
}

func defaultConfig() *config {
	return &config{
		Port:     "21",
		User:     "anonymous",
		Password: "anon@ftp.com",
		Mode:     ftpsession.AutoASCII,
		Passive:  true,
		Timeout:  30 * time.Second,
		Umask:    0022,
		LocalOS:  hostOS(runtime.GOOS),
	}
}

// hostOS maps runtime.GOOS to the line-ending family of the local side.
func hostOS(goos string) ftpsession.OS {
	if goos == "windows" {
		return ftpsession.OSWindows
	}
	return ftpsession.OSUnix
}

func readConfig(fs afero.Fs, path string) (*config, error) {
	if _, err := fs.Stat(path); os.IsNotExist(err) {
		return nil, errors.New("could not locate a configuration file at the specified path")
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*config, error) {
	c := defaultConfig()

	if err := getString(data, &c.Host, "server", "host"); err != nil {
		return nil, err
	}
	if port, err := jsonparser.GetInt(data, "server", "port"); err == nil {
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("server.port out of range: %d", port)
		}
		c.Port = strconv.FormatInt(port, 10)
	} else if !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("server.port: %w", err)
	}

	if err := getString(data, &c.User, "auth", "user"); err != nil {
		return nil, err
	}
	if err := getString(data, &c.Password, "auth", "password"); err != nil {
		return nil, err
	}

	var mode string
	if err := getString(data, &mode, "transfer", "mode"); err != nil {
		return nil, err
	}
	switch strings.ToLower(mode) {
	case "", "auto":
		c.Mode = ftpsession.AutoASCII
	case "ascii":
		c.Mode = ftpsession.ASCII
	case "binary":
		c.Mode = ftpsession.Binary
	default:
		return nil, fmt.Errorf("transfer.mode: unknown mode %q", mode)
	}

	if passive, err := jsonparser.GetBoolean(data, "transfer", "passive"); err == nil {
		c.Passive = passive
	} else if !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("transfer.passive: %w", err)
	}

	if seconds, err := jsonparser.GetInt(data, "transfer", "timeout"); err == nil {
		c.Timeout = time.Duration(seconds) * time.Second
	} else if !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("transfer.timeout: %w", err)
	}

	var umask string
	if err := getString(data, &umask, "transfer", "umask"); err != nil {
		return nil, err
	}
	if umask != "" {
		m, err := strconv.ParseUint(umask, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("transfer.umask: %w", err)
		}
		c.Umask = os.FileMode(m) & os.ModePerm
	}

	if bw, err := jsonparser.GetInt(data, "transfer", "bandwidth"); err == nil {
		c.Bandwidth = bw
	} else if !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("transfer.bandwidth: %w", err)
	}

	if coe, err := jsonparser.GetBoolean(data, "transfer", "continue_on_error"); err == nil {
		c.ContinueOnError = coe
	} else if !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("transfer.continue_on_error: %w", err)
	}

	var extErr error
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if dataType != jsonparser.String {
			extErr = fmt.Errorf("transfer.ascii_extensions: expected strings, got %s", dataType)
			return
		}
		c.ASCIIExtensions = append(c.ASCIIExtensions, string(value))
	}, "transfer", "ascii_extensions")
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("transfer.ascii_extensions: %w", err)
	}
	if extErr != nil {
		return nil, extErr
	}

	var localOS string
	if err := getString(data, &localOS, "local_os"); err != nil {
		return nil, err
	}
	switch strings.ToLower(localOS) {
	case "":
	case "unix":
		c.LocalOS = ftpsession.OSUnix
	case "windows":
		c.LocalOS = ftpsession.OSWindows
	case "mac":
		c.LocalOS = ftpsession.OSMac
	default:
		return nil, fmt.Errorf("local_os: unknown OS %q", localOS)
	}

	if c.Host == "" {
		return nil, errors.New("server.host is required")
	}
	return c, nil
}

// getString sets *dst when the key exists and is a string.
func getString(data []byte, dst *string, keys ...string) error {
	v, err := jsonparser.GetString(data, keys...)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", strings.Join(keys, "."), err)
	}
	*dst = v
	return nil
}

// options turns the configuration into session options.
func (c *config) options() []ftpsession.Option {
	opts := []ftpsession.Option{
		ftpsession.WithCredentials(c.User, c.Password),
		ftpsession.WithTransferMode(c.Mode),
		ftpsession.WithTimeout(c.Timeout),
		ftpsession.WithUmask(c.Umask),
		ftpsession.WithLocalOS(c.LocalOS),
		ftpsession.WithBandwidthLimit(c.Bandwidth),
	}
	if !c.Passive {
		opts = append(opts, ftpsession.WithActiveMode())
	}
	if len(c.ASCIIExtensions) > 0 {
		opts = append(opts, ftpsession.WithAutoASCIIExtensions(c.ASCIIExtensions...))
	}
	return opts
}

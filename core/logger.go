package core

import (
	"fmt"
	"io"
	"os"

	"github.com/nestroute/mrtd/std/log"
)

var Log = log.Default()
var logFileObj *os.File

// LogFormat selects the log line encoding.
type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJson
)

// ParseLogFormat parses the core.log_format option.
func ParseLogFormat(s string) (LogFormat, error) {
	switch s {
	case "", "text":
		return LogFormatText, nil
	case "json":
		return LogFormatJson, nil
	}
	return LogFormatText, fmt.Errorf("invalid log format %q", s)
}

// OpenLogger initializes the logger from the configuration.
func OpenLogger(c *Config) error {
	var w io.Writer = os.Stderr
	if c.Core.LogFile != "" {
		f, err := os.OpenFile(c.Core.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("unable to open log file: %w", err)
		}
		logFileObj = f
		w = f
	}

	format, err := ParseLogFormat(c.Core.LogFormat)
	if err != nil {
		return err
	}
	if format == LogFormatJson {
		Log = log.NewJson(w)
	} else {
		Log = log.NewText(w)
	}

	level, err := log.ParseLevel(c.Core.LogLevel)
	if err != nil {
		return err
	}
	Log.SetLevel(level)
	return nil
}

// CloseLogger closes the log file, if any.
func CloseLogger() {
	if logFileObj != nil {
		logFileObj.Close()
		logFileObj = nil
	}
}

package config

import (
	"io"
	"os"
	"strings"

	"github.com/pion/logging"
)

func parseLevel(s string) logging.LogLevel {
	switch strings.ToLower(s) {
	case "disabled", "off":
		return logging.LogLevelDisabled
	case "error":
		return logging.LogLevelError
	case "warn", "warning":
		return logging.LogLevelWarn
	case "debug":
		return logging.LogLevelDebug
	case "trace":
		return logging.LogLevelTrace
	}
	return logging.LogLevelInfo
}

// LoggerFactory builds the factory shared by the application and the pion
// WebRTC stack. A nil writer logs to stderr.
func (c *Config) LoggerFactory(w io.Writer) *logging.DefaultLoggerFactory {
	if w == nil {
		w = os.Stderr
	}
	f := &logging.DefaultLoggerFactory{
		Writer:          w,
		DefaultLogLevel: parseLevel(c.LogLevel),
		ScopeLevels:     make(map[string]logging.LogLevel, len(c.LogScope)),
	}
	for scope, lvl := range c.LogScope {
		f.ScopeLevels[scope] = parseLevel(lvl)
	}
	return f
}

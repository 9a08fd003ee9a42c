// Package logging builds the process-wide logger from the log settings and
// attaches it to the root context.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/datawire/dlib/dlog"

	"github.com/inean/dns-synchub/pkg/settings"
)

// MakeBaseLogger returns a context carrying a dlog logger backed by logrus,
// configured from LOG_LEVEL, LOG_TYPE and LOG_FILE. An unopenable log file
// degrades to console-only logging.
func MakeBaseLogger(ctx context.Context, cfg *settings.Settings) context.Context {
	logrusLogger := logrus.New()
	logrusLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05-0700",
	})

	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG", "VERBOSE":
		logrusLogger.SetLevel(logrus.DebugLevel)
	case "INFO", "NOTICE":
		logrusLogger.SetLevel(logrus.InfoLevel)
	default:
		logrusLogger.SetLevel(logrus.InfoLevel)
	}

	var sinks []io.Writer
	logType := strings.ToUpper(cfg.LogType)
	if logType == "CONSOLE" || logType == "BOTH" {
		sinks = append(sinks, os.Stdout)
	}
	if logType == "FILE" || logType == "BOTH" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logrusLogger.Errorf("Could not open log file %q: %v", cfg.LogFile, err)
		} else {
			sinks = append(sinks, f)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, os.Stdout)
	}
	logrusLogger.SetOutput(io.MultiWriter(sinks...))

	logger := dlog.WrapLogrus(logrusLogger)
	dlog.SetFallbackLogger(logger)
	return dlog.WithLogger(ctx, logger)
}

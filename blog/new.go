// This file provides the constructor that builds a LogContext from
// configuration: the piece InitAdapters and ContextWith assume already
// exists.

package blog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"log/syslog"
	"os"
)

// Config controls where log lines go and how verbose each destination is.
// The level meanings mirror syslog's:
//
//	-1: suppress all output
//	0: default, which is 6
//	3: log errors
//	4: log warnings and above
//	6: log info and above
//	7: log debug and above
type Config struct {
	// StdoutLevel controls logging to stdout. Zero means level 6.
	StdoutLevel int `validate:"min=-1,max=7"`
	// SyslogLevel controls logging to syslog. Zero means level 6.
	SyslogLevel int `validate:"min=-1,max=7"`
	// TextFormat emits slog's TextHandler output instead of JSON, for local
	// development.
	TextFormat bool
}

func configLevel(l int) slog.Level {
	switch l {
	case 1, 2, 3:
		return slog.LevelError
	case 4, 5:
		return slog.LevelWarn
	case 6:
		return slog.LevelInfo
	case 7:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// LogContext wraps the *slog.Logger this package attaches to contexts and
// wires into third-party loggers via InitAdapters.
type LogContext struct {
	logger *slog.Logger
}

// New builds a LogContext from conf, wiring in the audit-tag dispatcher and
// checksum-prefixing writer this package always applies.
func New(conf Config, tag string) (*LogContext, error) {
	var stdoutHandler slog.Handler
	if conf.StdoutLevel >= 0 {
		opts := &slog.HandlerOptions{Level: configLevel(conf.StdoutLevel)}
		if conf.TextFormat {
			stdoutHandler = newAuditHandler(slog.NewTextHandler, newChecksumWriter(os.Stdout), opts)
		} else {
			stdoutHandler = newAuditHandler(slog.NewJSONHandler, newChecksumWriter(os.Stdout), opts)
		}
	}

	var syslogHandler slog.Handler
	if conf.SyslogLevel >= 0 {
		syslogger, err := syslog.Dial("", "", syslog.LOG_INFO, tag)
		if err != nil {
			return nil, fmt.Errorf("connecting to syslog: %w", err)
		}
		opts := &slog.HandlerOptions{Level: configLevel(conf.SyslogLevel)}
		if conf.TextFormat {
			syslogHandler = newAuditHandler(slog.NewTextHandler, newChecksumWriter(syslogger), opts)
		} else {
			syslogHandler = newAuditHandler(slog.NewJSONHandler, newChecksumWriter(syslogger), opts)
		}
	}

	switch {
	case stdoutHandler != nil && syslogHandler != nil:
		return &LogContext{logger: slog.New(&multiHandler{stdoutHandler, syslogHandler})}, nil
	case stdoutHandler != nil:
		return &LogContext{logger: slog.New(stdoutHandler)}, nil
	case syslogHandler != nil:
		return &LogContext{logger: slog.New(syslogHandler)}, nil
	default:
		return nil, errors.New("either StdoutLevel or SyslogLevel must be non-negative")
	}
}

// Context returns a copy of ctx with this LogContext's logger attached, for
// use by blog.Error/Info/Warn/Debug and their audit variants.
func (lc *LogContext) Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, lc.logger)
}

// multiHandler fans a Record out to every wrapped Handler; used when both
// stdout and syslog logging are enabled.
type multiHandler []slog.Handler

func (m *multiHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range *m {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range *m {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(*m))
	for i, h := range *m {
		out[i] = h.WithAttrs(attrs)
	}
	return &out
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(*m))
	for i, h := range *m {
		out[i] = h.WithGroup(name)
	}
	return &out
}

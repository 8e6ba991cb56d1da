// This file contains adapters which can be used
package blog

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"

	"github.com/go-logr/stdr"
	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

// InitAdapters wires this package's logger into every third-party client
// that otherwise writes to its own default logger: the MySQL driver, the
// Redis client, OpenTelemetry's internal diagnostics, and the stdlib log
// package used by a handful of dependencies that predate context logging.
func InitAdapters(lc *LogContext) {
	_ = mysql.SetLogger(mysqlLogger{lc.logger})
	log.SetOutput(logWriter{lc.logger})
	redis.SetLogger(redisLogger{lc.logger})
	otel.SetLogger(stdr.New(logOutput{lc.logger}))
}

// mysqlLogger implements the mysql.Logger interface.
type mysqlLogger struct {
	*slog.Logger
}

func (log mysqlLogger) Print(v ...any) {
	log.Error(fmt.Sprintf("[mysql] %s", fmt.Sprint(v...)))
}

// redisLogger implements the redis internal.Logging interface.
type redisLogger struct {
	*slog.Logger
}

func (rl redisLogger) Printf(ctx context.Context, format string, v ...any) {
	rl.Info(fmt.Sprintf(format, v...))
}

// logWriter implements the io.Writer interface.
type logWriter struct {
	*slog.Logger
}

func (lw logWriter) Write(p []byte) (int, error) {
	// Lines received by logWriter will always have a trailing newline.
	lw.Logger.Info(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// logOutput implements the log.Logger interface's Output method for use with logr
type logOutput struct {
	*slog.Logger
}

func (l logOutput) Output(calldepth int, logline string) error {
	l.Logger.Info(logline)
	return nil
}

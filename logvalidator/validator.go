// Package logvalidator tails this module's own log output and verifies
// the per-line checksum blog's checksumWriter prepends, flagging
// truncation or corruption introduced between the process and wherever
// the operator is reading logs from.
//
// Grounded on log/validator/validator.go's glob-and-tail monitor loop,
// adapted from that package's syslog-template checksum field (position
// 6, base64 raw-URL, 6 characters) to blog's simpler
// "<checksum> <line>" wire format.
package logvalidator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nxadm/tail"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/letsencrypt/gsb/blog"
)

var errInvalidChecksum = errors.New("invalid checksum length")

// Validator tails a set of file globs and counts lines whose checksum
// prefix does not match their content.
type Validator struct {
	mu sync.Mutex

	patterns []string
	tailers  map[string]*tail.Tail

	monitorCancel context.CancelFunc

	lineCounter *prometheus.CounterVec
	ctx         context.Context
}

// New constructs a Validator watching patterns (file globs) and starts
// its background poll loop.
func New(ctx context.Context, patterns []string, stats prometheus.Registerer) *Validator {
	lineCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gsb_log_lines",
		Help: "A counter of log lines processed, with status",
	}, []string{"filename", "status"})
	stats.MustRegister(lineCounter)

	monitorCtx, cancel := context.WithCancel(ctx)
	v := &Validator{
		patterns:      patterns,
		tailers:       map[string]*tail.Tail{},
		monitorCancel: cancel,
		lineCounter:   lineCounter,
		ctx:           ctx,
	}

	go v.monitor(monitorCtx)
	return v
}

func (v *Validator) pollPaths() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, pattern := range v.patterns {
		paths, err := filepath.Glob(pattern)
		if err != nil {
			blog.Error(v.ctx, "expanding log pattern", err)
			continue
		}

		for _, path := range paths {
			if _, ok := v.tailers[path]; ok {
				continue
			}

			t, err := tail.TailFile(path, tail.Config{
				ReOpen:        true,
				MustExist:     false,
				Follow:        true,
				Logger:        tailLogger{v.ctx},
				CompleteLines: true,
			})
			if err != nil {
				blog.Error(v.ctx, "unexpected error from TailFile", err)
				continue
			}

			go v.tailValidate(path, t.Lines)
			v.tailers[path] = t
		}
	}
}

func (v *Validator) monitor(ctx context.Context) {
	for {
		v.pollPaths()
		timer := time.NewTimer(time.Minute)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (v *Validator) tailValidate(filename string, lines chan *tail.Line) {
	outputLimiter := time.NewTicker(time.Second)
	defer outputLimiter.Stop()

	for line := range lines {
		if line.Err != nil {
			blog.Error(v.ctx, fmt.Sprintf("tailing log file %s", filename), line.Err)
			continue
		}
		err := lineValid(line.Text)
		if err != nil {
			if errors.Is(err, errInvalidChecksum) {
				v.lineCounter.WithLabelValues(filename, "invalid checksum length").Inc()
			} else {
				v.lineCounter.WithLabelValues(filename, "bad").Inc()
			}
			select {
			case <-outputLimiter.C:
				blog.Warn(v.ctx, fmt.Sprintf("%s: %s %q", filename, err, line.Text))
			default:
			}
		} else {
			v.lineCounter.WithLabelValues(filename, "ok").Inc()
		}
	}
}

// Shutdown stops all tailers. Call before process exit.
func (v *Validator) Shutdown() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.monitorCancel()
	for _, t := range v.tailers {
		_ = t.Stop()
		t.Cleanup()
	}
}

// lineValid checks a single log line's checksum prefix against the
// content that follows it.
func lineValid(text string) error {
	const errorPrefix = "log-validator:"
	checksum, rest, ok := strings.Cut(text, " ")
	if !ok {
		return fmt.Errorf("%s line doesn't match expected format", errorPrefix)
	}
	if len(checksum) != 6 {
		return fmt.Errorf("%s expected a 6 character checksum, got %q: %w", errorPrefix, checksum, errInvalidChecksum)
	}
	if strings.Contains(text, errorPrefix) {
		return nil
	}
	computed := blog.LogLineChecksum(rest)
	if checksum != computed {
		return fmt.Errorf("%s invalid checksum (expected %q, got %q)", errorPrefix, computed, checksum)
	}
	return nil
}

// ValidateFile validates every line of a single file, for one-shot use
// outside the tailing daemon.
func ValidateFile(filename string) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	badFile := false
	for i, line := range strings.Split(string(file), "\n") {
		if line == "" {
			continue
		}
		if err := lineValid(line); err != nil {
			badFile = true
			fmt.Fprintf(os.Stderr, "[line %d] %s: %s\n", i+1, err, line)
		}
	}
	if badFile {
		return errors.New("file contained invalid lines")
	}
	return nil
}

// tailLogger adapts blog's context-scoped logging to the interface
// nxadm/tail expects for its own diagnostic output.
type tailLogger struct {
	ctx context.Context
}

func (tl tailLogger) Fatal(v ...interface{})                 { blog.Error(tl.ctx, fmt.Sprint(v...), errors.New("tail: fatal")) }
func (tl tailLogger) Fatalf(format string, v ...interface{}) { blog.Error(tl.ctx, fmt.Sprintf(format, v...), errors.New("tail: fatal")) }
func (tl tailLogger) Fatalln(v ...interface{})                { tl.Fatal(v...) }
func (tl tailLogger) Panic(v ...interface{})                  { tl.Fatal(v...) }
func (tl tailLogger) Panicf(format string, v ...interface{})  { tl.Fatalf(format, v...) }
func (tl tailLogger) Panicln(v ...interface{})                { tl.Fatal(v...) }
func (tl tailLogger) Print(v ...interface{})                  { blog.Warn(tl.ctx, fmt.Sprint(v...)) }
func (tl tailLogger) Printf(format string, v ...interface{})  { blog.Warn(tl.ctx, fmt.Sprintf(format, v...)) }
func (tl tailLogger) Println(v ...interface{})                { tl.Print(v...) }

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Level       string
	Production  bool
	ErrorFile   string
	MaxAgeHours int
}

// Setup installs the global logger. Outside production it writes human
// friendly console output. When ErrorFile is set, error level entries and
// above are also appended to a daily rotated file.
func Setup(opts Options) (io.Closer, error) {
	return setup(opts, os.Stderr)
}

func setup(opts Options, out io.Writer) (io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level failed: %w", err)
		}
		level = parsed
	}

	var console io.Writer = out
	if !opts.Production {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	var closer io.Closer = nopCloser{}
	if opts.ErrorFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.ErrorFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir failed: %w", err)
		}
		maxAge := time.Duration(opts.MaxAgeHours) * time.Hour
		if maxAge <= 0 {
			maxAge = 7 * 24 * time.Hour
		}
		rl, err := rotatelogs.New(
			opts.ErrorFile+".%Y%m%d",
			rotatelogs.WithLinkName(opts.ErrorFile),
			rotatelogs.WithMaxAge(maxAge),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			return nil, fmt.Errorf("open error log failed: %w", err)
		}
		writers = append(writers, errorOnly{w: rl})
		closer = rl
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return closer, nil
}

// errorOnly drops everything below error level.
type errorOnly struct {
	w io.Writer
}

func (e errorOnly) Write(p []byte) (int, error) {
	return len(p), nil
}

func (e errorOnly) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < zerolog.ErrorLevel {
		return len(p), nil
	}
	return e.w.Write(p)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

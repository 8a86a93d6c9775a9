package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	Level  string    // trace, debug, info, warn, error (default info)
	Format string    // console or json (default console)
	Out    io.Writer // defaults to os.Stdout
}

// NewLogger returns a zerolog logger configured for console output.
func NewLogger() zerolog.Logger {
	logger, _ := New(Options{})
	return logger
}

// New builds a logger from opts. An unknown level is reported as an error
// alongside a usable info-level logger.
func New(opts Options) (zerolog.Logger, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	level := zerolog.InfoLevel
	var levelErr error
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			levelErr = fmt.Errorf("parse log level %q: %w", opts.Level, err)
		} else {
			level = parsed
		}
	}

	zerolog.CallerMarshalFunc = shortCaller

	var w io.Writer = out
	if !strings.EqualFold(opts.Format, "json") {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
	return logger, levelErr
}

// shortCaller trims the caller to file:line, padded for column alignment.
func shortCaller(pc uintptr, file string, line int) string {
	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	return fmt.Sprintf("%-28s", fmt.Sprintf("%s:%d", short, line))
}

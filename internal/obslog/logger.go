// Package obslog constructs the single zerolog.Logger threaded explicitly
// into every constructor in this module. There is no package-level global
// logger: callers that embed this library own the logger's lifetime.
package obslog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Options controls the constructed logger.
type Options struct {
	// Env selects the default level: "development" gets Debug, anything
	// else gets Info.
	Env string
	// Pretty switches to zerolog's human-readable console writer; when
	// false, output is newline-delimited JSON suitable for log shipping.
	Pretty bool
}

// New returns a configured zerolog.Logger.
func New(opts Options) zerolog.Logger {
	var out io.Writer = os.Stderr
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	lvl := zerolog.InfoLevel
	if opts.Env == "development" {
		lvl = zerolog.DebugLevel
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

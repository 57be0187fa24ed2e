package rudp

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// LogConfig configures the default logger a Transport builds when none
// is supplied, following the same Level/NoColor/NoTime knobs the
// reference pack's tinted-logging wrapper exposes.
type LogConfig struct {
	Level   slog.Level
	NoColor bool
	NoTime  bool
	Writer  io.Writer // defaults to os.Stderr
}

// NewLogger builds a *slog.Logger backed by a tint handler, which
// renders structured log lines with level-colored console output —
// the same library and configuration shape the reference pack's own
// tinted-logging wrapper uses, adopted here because this module, unlike
// a full service, has no need for zap's heavier configuration surface.
func (c LogConfig) NewLogger() *slog.Logger {
	w := c.Writer
	if w == nil {
		w = os.Stderr
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      c.Level,
		NoColor:    c.NoColor,
		TimeFormat: tintTimeFormat(c.NoTime),
	}))
}

func tintTimeFormat(noTime bool) string {
	if noTime {
		return ""
	}
	return "15:04:05.000"
}

// discardLogger is the zero-value default for a Transport constructed
// without an explicit logger — library consumers should never pay for
// logging they didn't ask for.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

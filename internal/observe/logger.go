package observe

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds the process logger: a text handler writing to w (stderr
// when nil) at the given level. Pass a [slog.LevelVar] to change the level
// at runtime.
func NewLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

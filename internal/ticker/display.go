package ticker

import (
	"context"

	"github.com/rs/zerolog"
)

// LogDisplay writes frames to the log at debug level.
type LogDisplay struct {
	logger zerolog.Logger
}

// NewLogDisplay creates a display backed by the logger.
func NewLogDisplay(logger zerolog.Logger) *LogDisplay {
	return &LogDisplay{logger: logger.With().Str("component", "display").Logger()}
}

// Render implements Display.
func (d *LogDisplay) Render(_ context.Context, frame Frame) {
	d.logger.Debug().
		Str("app_id", frame.AppID).
		Str("title", frame.Title).
		Str("body", frame.Body).
		Int64("current", frame.Current).
		Int64("max", frame.Max).
		Msg("Countdown frame")
}

// MultiDisplay fans frames out to several displays.
type MultiDisplay []Display

// Render implements Display.
func (m MultiDisplay) Render(ctx context.Context, frame Frame) {
	for _, d := range m {
		d.Render(ctx, frame)
	}
}

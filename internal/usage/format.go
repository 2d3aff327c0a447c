package usage

import (
	"fmt"
	"time"
)

// FormatDuration renders a duration as "1h 30m", "1h", "5m" or "0m".
// Seconds are truncated.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int64(d / time.Hour)
	minutes := int64(d%time.Hour) / int64(time.Minute)

	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// millis converts a duration to whole milliseconds.
func millis(d time.Duration) int64 {
	return d.Milliseconds()
}

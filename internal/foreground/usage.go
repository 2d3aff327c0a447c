package foreground

import "time"

// Usage sums foreground time per app from ordered events between from and
// now. An app still in the foreground at the end counts up to now.
func Usage(events []Event, from, now time.Time) map[string]time.Duration {
	totals := make(map[string]time.Duration)
	open := make(map[string]time.Time)

	for _, ev := range events {
		if ev.Timestamp.Before(from) || ev.Timestamp.After(now) {
			continue
		}
		switch ev.Type {
		case MoveToForeground:
			if _, ok := open[ev.AppID]; !ok {
				open[ev.AppID] = ev.Timestamp
			}
		case MoveToBackground:
			start, ok := open[ev.AppID]
			if !ok {
				continue
			}
			totals[ev.AppID] += ev.Timestamp.Sub(start)
			delete(open, ev.AppID)
		}
	}

	for appID, start := range open {
		totals[appID] += now.Sub(start)
	}
	return totals
}

// StartOfDay returns local midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

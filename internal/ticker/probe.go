package ticker

import (
	"context"
	"time"

	"github.com/goodtune/appwarden/internal/clock"
	"github.com/goodtune/appwarden/internal/foreground"
)

// DefaultProbeWindow is the recent window used to re-check the foreground app
const DefaultProbeWindow = 5 * time.Second

// InteractivityChecker reports whether the device is in use.
type InteractivityChecker interface {
	IsInteractive(ctx context.Context) (bool, error)
}

// WindowResolver resolves the foreground app over a time window.
type WindowResolver interface {
	ResolveWindow(ctx context.Context, from, to time.Time) (foreground.Result, error)
}

// DeviceProbe checks the device through the interactivity checker and the
// foreground resolver. Errors count as a match so the countdown keeps going.
type DeviceProbe struct {
	checker  InteractivityChecker
	resolver WindowResolver
	window   time.Duration
	clock    clock.Clock
}

// NewDeviceProbe creates a probe. A nil checker treats the device as
// always interactive.
func NewDeviceProbe(checker InteractivityChecker, resolver WindowResolver, window time.Duration, clk clock.Clock) *DeviceProbe {
	if window <= 0 {
		window = DefaultProbeWindow
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &DeviceProbe{checker: checker, resolver: resolver, window: window, clock: clk}
}

// Interactive implements Probe.
func (p *DeviceProbe) Interactive(ctx context.Context) bool {
	if p.checker == nil {
		return true
	}
	interactive, err := p.checker.IsInteractive(ctx)
	if err != nil {
		return true
	}
	return interactive
}

// Foreground implements Probe.
func (p *DeviceProbe) Foreground(ctx context.Context) (string, bool) {
	now := p.clock.Now()
	result, err := p.resolver.ResolveWindow(ctx, now.Add(-p.window), now)
	if err != nil {
		return "", false
	}
	return result.AppID, result.Seen
}

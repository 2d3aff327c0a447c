package monitor

import "context"

// InteractivityChecker reports whether the device is in use: screen on and
// unlocked, system awake.
type InteractivityChecker interface {
	IsInteractive(ctx context.Context) (bool, error)
}

// AlwaysInteractive is used when no session manager is available.
type AlwaysInteractive struct{}

// IsInteractive implements InteractivityChecker.
func (AlwaysInteractive) IsInteractive(context.Context) (bool, error) {
	return true, nil
}

package usage

import (
	"context"

	"github.com/rs/zerolog"
)

// Presenter shows a blocking intervention for an app.
type Presenter interface {
	Present(ctx context.Context, prompt Prompt) error
}

// Notifier shows the status of the current limited app.
type Notifier interface {
	Update(ctx context.Context, n Notification)
	Clear(ctx context.Context)
}

// Exemptor decides whether an app is never enforced.
type Exemptor interface {
	Exempt(ctx context.Context, appID string) (bool, error)
}

// LogPresenter records prompts in the log. It is used when no desktop
// session is available.
type LogPresenter struct {
	logger zerolog.Logger
}

// NewLogPresenter creates a presenter that only logs.
func NewLogPresenter(logger zerolog.Logger) *LogPresenter {
	return &LogPresenter{logger: logger.With().Str("component", "presenter").Logger()}
}

// Present logs the prompt.
func (p *LogPresenter) Present(ctx context.Context, prompt Prompt) error {
	p.logger.Warn().
		Str("prompt_id", prompt.ID).
		Str("kind", string(prompt.Kind)).
		Str("app_id", prompt.AppID).
		Str("daily_usage", FormatDuration(prompt.DailyUsage)).
		Msg("Enforcement prompt")
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Update(context.Context, Notification) {}
func (nopNotifier) Clear(context.Context)                {}

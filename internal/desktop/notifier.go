// Package desktop shows the countdown and enforcement prompts as freedesktop
// notifications on the user's session bus and routes their actions back to
// the session engine.
package desktop

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/goodtune/appwarden/internal/ticker"
	"github.com/goodtune/appwarden/internal/usage"
	"github.com/rs/zerolog"
)

const (
	// DefaultAppName is sent as the notification app_name
	DefaultAppName = "appwarden"

	// DefaultOpenAnyway is the budget granted by "Open anyway" on a
	// blocked app
	DefaultOpenAnyway = 15 * time.Minute

	actionStart      = "start-"
	actionExtend     = "extend-"
	actionOpenAnyway = "open-anyway"
	actionKeepClosed = "keep-closed"

	urgencyLow      = byte(0)
	urgencyCritical = byte(2)
)

// Responder applies a prompt response.
type Responder interface {
	StartSession(ctx context.Context, appID string, d time.Duration) error
	GrantExtension(ctx context.Context, appID string, minutes int) error
	EndSession(ctx context.Context, appID string) error
	DismissPrompt(ctx context.Context) error
}

// Config holds desktop notification settings
type Config struct {
	AppName    string
	OpenAnyway time.Duration
}

// Notifier renders ticker frames and presents prompts.
type Notifier struct {
	bus        notificationBus
	conn       *dbus.Conn
	appName    string
	openAnyway time.Duration
	logger     zerolog.Logger

	mu        sync.Mutex
	responder Responder
	frameID   uint32
	pending   map[uint32]usage.Prompt
}

// New connects to the session bus.
func New(cfg Config, logger zerolog.Logger) (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}

	n := newNotifier(&dbusBus{
		obj:     conn.Object(notificationsName, notificationsPath),
		appName: cfg.AppName,
	}, cfg, logger)
	n.conn = conn
	return n, nil
}

func newNotifier(bus notificationBus, cfg Config, logger zerolog.Logger) *Notifier {
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.OpenAnyway <= 0 {
		cfg.OpenAnyway = DefaultOpenAnyway
	}
	return &Notifier{
		bus:        bus,
		appName:    cfg.AppName,
		openAnyway: cfg.OpenAnyway,
		logger:     logger.With().Str("component", "desktop").Logger(),
		pending:    make(map[uint32]usage.Prompt),
	}
}

// SetResponder sets where prompt actions are sent. The engine needs a
// presenter before it exists, so this is wired after construction.
func (n *Notifier) SetResponder(r Responder) {
	n.mu.Lock()
	n.responder = r
	n.mu.Unlock()
}

// Close releases the bus connection.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// Render implements ticker.Display. All frames share one notification that
// is replaced in place.
func (n *Notifier) Render(ctx context.Context, frame ticker.Frame) {
	hints := map[string]dbus.Variant{
		"urgency":   dbus.MakeVariant(urgencyLow),
		"transient": dbus.MakeVariant(false),
		"resident":  dbus.MakeVariant(true),
	}
	if frame.Max > 0 {
		hints["value"] = dbus.MakeVariant(progress(frame.Current, frame.Max))
	}

	n.mu.Lock()
	replaces := n.frameID
	n.mu.Unlock()

	id, err := n.bus.Notify(ctx, message{
		ReplacesID: replaces,
		Icon:       "appointment-soon",
		Summary:    frame.Title,
		Body:       frame.Body,
		Hints:      hints,
	})
	if err != nil {
		n.logger.Debug().Err(err).Msg("Failed to render countdown")
		return
	}

	n.mu.Lock()
	n.frameID = id
	n.mu.Unlock()
}

// Present implements usage.Presenter with a critical notification whose
// actions answer the prompt.
func (n *Notifier) Present(ctx context.Context, prompt usage.Prompt) error {
	msg := promptMessage(prompt)
	id, err := n.bus.Notify(ctx, msg)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.pending[id] = prompt
	n.mu.Unlock()

	n.logger.Info().
		Str("prompt_id", prompt.ID).
		Str("kind", string(prompt.Kind)).
		Str("app_id", prompt.AppID).
		Uint32("notification_id", id).
		Msg("Presented prompt")
	return nil
}

func promptMessage(prompt usage.Prompt) message {
	name := prompt.AppName
	if name == "" {
		name = prompt.AppID
	}
	body := fmt.Sprintf("Used %s today", usage.FormatDuration(prompt.DailyUsage))

	msg := message{
		Icon: "dialog-warning",
		Body: body,
		Hints: map[string]dbus.Variant{
			"urgency":  dbus.MakeVariant(urgencyCritical),
			"resident": dbus.MakeVariant(true),
			"category": dbus.MakeVariant("x-appwarden.prompt"),
		},
	}

	switch prompt.Kind {
	case usage.PromptAskTime:
		msg.Summary = fmt.Sprintf("How long for %s?", name)
		msg.Actions = []string{
			actionStart + "15", "15 minutes",
			actionStart + "30", "30 minutes",
			actionStart + "60", "1 hour",
			actionKeepClosed, "Not now",
		}
	case usage.PromptTimeUp:
		msg.Summary = fmt.Sprintf("Time's up for %s", name)
		msg.Actions = []string{
			actionExtend + "5", "5 more minutes",
			actionKeepClosed, "Close",
		}
	default:
		msg.Summary = fmt.Sprintf("%s is closed", name)
		msg.Actions = []string{
			actionOpenAnyway, "Open anyway",
			actionKeepClosed, "Keep closed",
		}
	}
	return msg
}

// Listen routes notification actions until ctx is cancelled.
func (n *Notifier) Listen(ctx context.Context) error {
	if n.conn == nil {
		return fmt.Errorf("no session bus connection")
	}

	for _, member := range []string{"ActionInvoked", "NotificationClosed"} {
		if err := n.conn.AddMatchSignal(
			dbus.WithMatchObjectPath(notificationsPath),
			dbus.WithMatchInterface(notificationsIface),
			dbus.WithMatchMember(member),
		); err != nil {
			return fmt.Errorf("failed to add match for %s: %w", member, err)
		}
	}

	c := make(chan *dbus.Signal, 16)
	n.conn.Signal(c)
	defer n.conn.RemoveSignal(c)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-c:
			if !ok {
				return fmt.Errorf("session bus connection closed")
			}
			n.handleSignal(ctx, sig)
		}
	}
}

func (n *Notifier) handleSignal(ctx context.Context, sig *dbus.Signal) {
	switch sig.Name {
	case notificationsIface + ".ActionInvoked":
		if len(sig.Body) < 2 {
			return
		}
		id, _ := sig.Body[0].(uint32)
		action, _ := sig.Body[1].(string)

		prompt, ok := n.take(id)
		if !ok {
			return
		}
		if err := n.respond(ctx, prompt, action); err != nil {
			n.logger.Error().
				Err(err).
				Str("prompt_id", prompt.ID).
				Str("action", action).
				Msg("Failed to apply prompt response")
		}
		if err := n.bus.CloseNotification(ctx, id); err != nil {
			n.logger.Debug().Err(err).Msg("Failed to close prompt")
		}

	case notificationsIface + ".NotificationClosed":
		if len(sig.Body) < 1 {
			return
		}
		id, _ := sig.Body[0].(uint32)

		// Closed without an answer: let the next tick ask again.
		prompt, ok := n.take(id)
		if !ok {
			return
		}
		n.logger.Info().Str("prompt_id", prompt.ID).Msg("Prompt dismissed")
		if r := n.getResponder(); r != nil {
			if err := r.DismissPrompt(ctx); err != nil {
				n.logger.Error().Err(err).Msg("Failed to dismiss prompt")
			}
		}
	}
}

func (n *Notifier) take(id uint32) (usage.Prompt, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prompt, ok := n.pending[id]
	if ok {
		delete(n.pending, id)
	}
	return prompt, ok
}

func (n *Notifier) getResponder() Responder {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.responder
}

func (n *Notifier) respond(ctx context.Context, prompt usage.Prompt, action string) error {
	r := n.getResponder()
	if r == nil {
		return fmt.Errorf("no responder configured")
	}

	n.logger.Info().
		Str("prompt_id", prompt.ID).
		Str("app_id", prompt.AppID).
		Str("action", action).
		Msg("Prompt answered")

	switch {
	case strings.HasPrefix(action, actionStart):
		minutes, err := strconv.Atoi(strings.TrimPrefix(action, actionStart))
		if err != nil {
			return fmt.Errorf("invalid action %q: %w", action, err)
		}
		return r.StartSession(ctx, prompt.AppID, time.Duration(minutes)*time.Minute)
	case strings.HasPrefix(action, actionExtend):
		minutes, err := strconv.Atoi(strings.TrimPrefix(action, actionExtend))
		if err != nil {
			return fmt.Errorf("invalid action %q: %w", action, err)
		}
		return r.GrantExtension(ctx, prompt.AppID, minutes)
	case action == actionOpenAnyway:
		return r.StartSession(ctx, prompt.AppID, n.openAnyway)
	case action == actionKeepClosed:
		return r.EndSession(ctx, prompt.AppID)
	default:
		// "default" is sent when the body is clicked.
		return r.DismissPrompt(ctx)
	}
}

func progress(current, total int64) int32 {
	if total <= 0 {
		return 0
	}
	return int32(min(100, max(0, current*100/total)))
}

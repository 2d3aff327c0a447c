package desktop

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsName  = "org.freedesktop.Notifications"
	notificationsPath  = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsIface = "org.freedesktop.Notifications"
)

// message is one org.freedesktop.Notifications.Notify call.
type message struct {
	ReplacesID uint32
	Icon       string
	Summary    string
	Body       string
	Actions    []string
	Hints      map[string]dbus.Variant
	Timeout    int32
}

type notificationBus interface {
	Notify(ctx context.Context, msg message) (uint32, error)
	CloseNotification(ctx context.Context, id uint32) error
}

type dbusBus struct {
	obj     dbus.BusObject
	appName string
}

func (b *dbusBus) Notify(ctx context.Context, msg message) (uint32, error) {
	actions := msg.Actions
	if actions == nil {
		actions = []string{}
	}
	hints := msg.Hints
	if hints == nil {
		hints = map[string]dbus.Variant{}
	}

	var id uint32
	err := b.obj.CallWithContext(ctx, notificationsIface+".Notify", 0,
		b.appName,
		msg.ReplacesID,
		msg.Icon,
		msg.Summary,
		msg.Body,
		actions,
		hints,
		msg.Timeout,
	).Store(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to send notification: %w", err)
	}
	return id, nil
}

func (b *dbusBus) CloseNotification(ctx context.Context, id uint32) error {
	call := b.obj.CallWithContext(ctx, notificationsIface+".CloseNotification", 0, id)
	if call.Err != nil {
		return fmt.Errorf("failed to close notification %d: %w", id, call.Err)
	}
	return nil
}

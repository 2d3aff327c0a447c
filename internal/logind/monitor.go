// Package logind tracks whether the local session is usable: awake, active
// and unlocked. It follows systemd-logind on the system bus.
package logind

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	busName      = "org.freedesktop.login1"
	managerPath  = dbus.ObjectPath("/org/freedesktop/login1")
	seatPath     = dbus.ObjectPath("/org/freedesktop/login1/seat/seat0")
	managerIface = "org.freedesktop.login1.Manager"
	sessionIface = "org.freedesktop.login1.Session"
	seatIface    = "org.freedesktop.login1.Seat"

	// AutoSession follows the active session of seat0.
	AutoSession = "auto"
)

// Monitor caches the lock, active and sleep state of one logind session.
type Monitor struct {
	conn   *dbus.Conn
	want   string
	logger zerolog.Logger

	mu       sync.RWMutex
	session  dbus.ObjectPath
	locked   bool
	active   bool
	sleeping bool
	onChange func()
}

// New connects to the system bus and loads the state of sessionID, or of
// the seat's active session when sessionID is "auto" or empty.
func New(sessionID string, logger zerolog.Logger) (*Monitor, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	m := newMonitor(conn, sessionID, logger)
	if err := m.refresh(); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func newMonitor(conn *dbus.Conn, sessionID string, logger zerolog.Logger) *Monitor {
	if sessionID == "" {
		sessionID = AutoSession
	}
	return &Monitor{
		conn:   conn,
		want:   sessionID,
		logger: logger.With().Str("component", "logind").Logger(),
	}
}

// SetOnChange registers fn to run whenever interactivity flips.
func (m *Monitor) SetOnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// IsInteractive reports whether the tracked session is active, unlocked and
// the system is not suspending. No session means nobody is using the
// device.
func (m *Monitor) IsInteractive(context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interactiveLocked(), nil
}

func (m *Monitor) interactiveLocked() bool {
	return m.session != "" && m.active && !m.locked && !m.sleeping
}

// Session returns the tracked session object path.
func (m *Monitor) Session() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return string(m.session)
}

// Close releases the bus connection.
func (m *Monitor) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}

// Watch follows logind signals until ctx is cancelled.
func (m *Monitor) Watch(ctx context.Context) error {
	for _, member := range []string{"SessionNew", "SessionRemoved", "PrepareForSleep"} {
		if err := m.conn.AddMatchSignal(
			dbus.WithMatchObjectPath(managerPath),
			dbus.WithMatchInterface(managerIface),
			dbus.WithMatchMember(member),
		); err != nil {
			return fmt.Errorf("failed to add match for %s: %w", member, err)
		}
	}

	// LockedHint and Active arrive as property changes on the session.
	if err := m.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, sessionIface),
	); err != nil {
		return fmt.Errorf("failed to add match for PropertiesChanged: %w", err)
	}

	// A seat switch changes which session is active.
	if err := m.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(seatPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("failed to add match for seat changes: %w", err)
	}

	c := make(chan *dbus.Signal, 16)
	m.conn.Signal(c)
	defer m.conn.RemoveSignal(c)

	m.logger.Info().Str("session", m.Session()).Msg("Watching logind session")

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-c:
			if !ok {
				return fmt.Errorf("system bus connection closed")
			}
			if m.handleSignal(sig) {
				if err := m.refresh(); err != nil {
					m.logger.Warn().Err(err).Msg("Failed to refresh logind session")
				}
			}
		}
	}
}

// handleSignal applies sig to the cached state and reports whether the
// session itself must be looked up again.
func (m *Monitor) handleSignal(sig *dbus.Signal) bool {
	switch sig.Name {
	case managerIface + ".SessionNew", managerIface + ".SessionRemoved":
		return true

	case managerIface + ".PrepareForSleep":
		if len(sig.Body) == 0 {
			return false
		}
		sleeping, _ := sig.Body[0].(bool)
		if sleeping {
			m.logger.Info().Msg("System is going to sleep")
		} else {
			m.logger.Info().Msg("System has woken up")
		}
		m.update(func() { m.sleeping = sleeping })

	case "org.freedesktop.DBus.Properties.PropertiesChanged":
		if len(sig.Body) < 2 {
			return false
		}
		iface, _ := sig.Body[0].(string)
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return false
		}

		if iface == seatIface {
			_, exists := changed["ActiveSession"]
			return exists && m.want == AutoSession
		}
		if iface != sessionIface || sig.Path != m.trackedSession() {
			return false
		}

		m.update(func() {
			if val, exists := changed["LockedHint"]; exists {
				if locked, ok := val.Value().(bool); ok {
					m.locked = locked
				}
			}
			if val, exists := changed["Active"]; exists {
				if active, ok := val.Value().(bool); ok {
					m.active = active
				}
			}
		})
	}
	return false
}

func (m *Monitor) trackedSession() dbus.ObjectPath {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// update runs fn under the lock and fires the change callback when
// interactivity flipped.
func (m *Monitor) update(fn func()) {
	m.mu.Lock()
	before := m.interactiveLocked()
	fn()
	after := m.interactiveLocked()
	onChange := m.onChange
	m.mu.Unlock()

	if before == after {
		return
	}
	m.logger.Info().Bool("interactive", after).Msg("Session interactivity changed")
	if onChange != nil {
		onChange()
	}
}

// refresh resolves the tracked session and reads its properties.
func (m *Monitor) refresh() error {
	path, err := m.resolveSession()
	if err != nil {
		return err
	}

	if path == "" {
		m.update(func() {
			m.session = ""
			m.locked = false
			m.active = false
		})
		return nil
	}

	obj := m.conn.Object(busName, path)
	locked, err := boolProperty(obj, sessionIface+".LockedHint")
	if err != nil {
		return err
	}
	active, err := boolProperty(obj, sessionIface+".Active")
	if err != nil {
		return err
	}

	m.update(func() {
		m.session = path
		m.locked = locked
		m.active = active
	})

	m.logger.Debug().
		Str("session", string(path)).
		Bool("locked", locked).
		Bool("active", active).
		Msg("Loaded logind session")
	return nil
}

func (m *Monitor) resolveSession() (dbus.ObjectPath, error) {
	if m.want != AutoSession {
		var path dbus.ObjectPath
		err := m.conn.Object(busName, managerPath).
			Call(managerIface+".GetSession", 0, m.want).
			Store(&path)
		if err != nil {
			return "", fmt.Errorf("failed to get session %s: %w", m.want, err)
		}
		return path, nil
	}

	variant, err := m.conn.Object(busName, seatPath).GetProperty(seatIface + ".ActiveSession")
	if err != nil {
		return "", fmt.Errorf("failed to get active session: %w", err)
	}
	return activeSessionPath(variant)
}

// activeSessionPath decodes the seat's ActiveSession (so) struct. An empty
// id means no session is active.
func activeSessionPath(v dbus.Variant) (dbus.ObjectPath, error) {
	fields, ok := v.Value().([]interface{})
	if !ok || len(fields) < 2 {
		return "", fmt.Errorf("unexpected ActiveSession value %v", v.Value())
	}
	id, _ := fields[0].(string)
	path, ok := fields[1].(dbus.ObjectPath)
	if !ok {
		return "", fmt.Errorf("unexpected ActiveSession path %v", fields[1])
	}
	if id == "" {
		return "", nil
	}
	return path, nil
}

func boolProperty(obj dbus.BusObject, name string) (bool, error) {
	variant, err := obj.GetProperty(name)
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", name, err)
	}
	value, ok := variant.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected type for %s", name)
	}
	return value, nil
}

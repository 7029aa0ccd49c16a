//go:build linux

package notify

import (
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notifyDest  = "org.freedesktop.Notifications"
	notifyPath  = "/org/freedesktop/Notifications"
	notifyIface = "org.freedesktop.Notifications"
)

// dbusNotifier talks to the session notification daemon and routes
// ActionInvoked signals back to whichever notification registered a
// handler for its id.
type dbusNotifier struct {
	conn *dbus.Conn
	obj  dbus.BusObject

	mu       sync.Mutex
	handlers map[uint32]func(string)
}

// New connects to the session bus. Without one (headless session, broken
// desktop) the returned Notifier drops everything.
func New() (Notifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return &stubNotifier{}, nil //nolint:nilerr // no session bus, notifications off
	}

	n := &dbusNotifier{
		conn:     conn,
		obj:      conn.Object(notifyDest, notifyPath),
		handlers: make(map[uint32]func(string)),
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(notifyPath),
		dbus.WithMatchInterface(notifyIface),
	); err == nil {
		ch := make(chan *dbus.Signal, 16)
		conn.Signal(ch)
		go n.dispatch(ch)
	}
	return n, nil
}

func (n *dbusNotifier) Notify(notif Notification) (uint32, error) {
	hints := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(byte(notif.Urgency)),
		"desktop-entry": dbus.MakeVariant("scrobbled"),
	}
	// The wire format interleaves keys and labels in one flat list.
	actions := make([]string, 0, len(notif.Actions)*2)
	for _, a := range notif.Actions {
		actions = append(actions, a.Key, a.Label)
	}

	call := n.obj.Call(notifyIface+".Notify", 0,
		"scrobbled", notif.ReplacesID, notif.Icon, notif.Title, notif.Body,
		actions, hints, notif.Timeout)
	if call.Err != nil {
		return 0, call.Err
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, err
	}

	if notif.OnAction != nil && len(notif.Actions) > 0 {
		n.mu.Lock()
		n.handlers[id] = notif.OnAction
		n.mu.Unlock()
	}
	return id, nil
}

func (n *dbusNotifier) Close(id uint32) error {
	n.mu.Lock()
	delete(n.handlers, id)
	n.mu.Unlock()
	return n.obj.Call(notifyIface+".CloseNotification", 0, id).Err
}

// dispatch routes notification daemon signals: a clicked action fires its
// handler once, a closed bubble forgets its handler.
func (n *dbusNotifier) dispatch(ch chan *dbus.Signal) {
	for sig := range ch {
		if len(sig.Body) < 1 {
			continue
		}
		id, ok := sig.Body[0].(uint32)
		if !ok {
			continue
		}
		switch sig.Name {
		case notifyIface + ".ActionInvoked":
			if len(sig.Body) != 2 {
				continue
			}
			key, ok := sig.Body[1].(string)
			if !ok {
				continue
			}
			n.mu.Lock()
			handler := n.handlers[id]
			delete(n.handlers, id)
			n.mu.Unlock()
			if handler != nil {
				handler(key)
			}
		case notifyIface + ".NotificationClosed":
			n.mu.Lock()
			delete(n.handlers, id)
			n.mu.Unlock()
		}
	}
}

// stubNotifier swallows everything; used when the session bus is absent.
type stubNotifier struct{}

func (s *stubNotifier) Notify(Notification) (uint32, error) { return 0, nil }
func (s *stubNotifier) Close(uint32) error                  { return nil }

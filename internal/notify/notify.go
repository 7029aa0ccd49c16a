// Package notify surfaces daemon events as freedesktop desktop
// notifications: now-playing updates, scrobble confirmations, delivery
// failures and new-app decision prompts.
package notify

// Urgency is the freedesktop urgency hint.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// Action is one clickable button on a notification. Key is what the server
// reports back when the user clicks, Label what they see. Servers without
// action support drop the buttons; the body text has to stand on its own.
type Action struct {
	Key   string
	Label string
}

// Notification is a single bubble. Timeout is in milliseconds: -1 asks for
// the server default, 0 pins the bubble until dismissed. A non-zero
// ReplacesID updates an earlier bubble in place instead of stacking.
type Notification struct {
	Title      string
	Body       string
	Icon       string // icon name, file path or URL
	Timeout    int32
	ReplacesID uint32
	Urgency    Urgency

	// Actions and OnAction make the bubble interactive. OnAction fires at
	// most once, on whatever goroutine receives the server's signal.
	Actions  []Action
	OnAction func(key string)
}

// Notifier delivers notifications to the desktop. Implementations swallow
// everything silently when no notification daemon is reachable, so callers
// never branch on desktop availability.
type Notifier interface {
	Notify(n Notification) (uint32, error)
	Close(id uint32) error
}

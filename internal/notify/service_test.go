package notify

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/llehouerou/scrobbled/internal/scrobble"
	"github.com/llehouerou/scrobbled/internal/session"
)

// chanNotifier records notifications on a channel so tests can wait for
// the fire-and-forget goroutines.
type chanNotifier struct {
	sent   chan Notification
	nextID atomic.Uint32
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{sent: make(chan Notification, 16)}
}

func (n *chanNotifier) Notify(notif Notification) (uint32, error) {
	n.sent <- notif
	return n.nextID.Add(1), nil
}

func (n *chanNotifier) Close(_ uint32) error { return nil }

func (n *chanNotifier) wait(t *testing.T) Notification {
	t.Helper()
	select {
	case notif := <-n.sent:
		return notif
	case <-time.After(time.Second):
		t.Fatal("no notification sent")
		return Notification{}
	}
}

func (n *chanNotifier) expectNone(t *testing.T) {
	t.Helper()
	select {
	case notif := <-n.sent:
		t.Fatalf("unexpected notification %q", notif.Title)
	case <-time.After(50 * time.Millisecond):
	}
}

func testTrack() scrobble.Track {
	return scrobble.Track{Title: "Song", Artist: "Artist"}
}

func TestNowPlaying_ReplacesPreviousBubble(t *testing.T) {
	n := newChanNotifier()
	s := NewService(n, true, zerolog.Nop())

	s.NowPlaying(session.NowPlaying{Track: testTrack(), State: session.Playing})
	first := n.wait(t)
	if first.ReplacesID != 0 {
		t.Errorf("first notification ReplacesID = %d, want 0", first.ReplacesID)
	}
	if first.Title != "Now playing" {
		t.Errorf("title = %q", first.Title)
	}

	s.NowPlaying(session.NowPlaying{Track: testTrack(), State: session.Paused})
	second := n.wait(t)
	if second.ReplacesID != 1 {
		t.Errorf("second notification ReplacesID = %d, want 1", second.ReplacesID)
	}
	if second.Title != "Paused" {
		t.Errorf("title = %q", second.Title)
	}
}

func TestNowPlaying_StoppedIsSilent(t *testing.T) {
	n := newChanNotifier()
	s := NewService(n, true, zerolog.Nop())

	s.NowPlaying(session.NowPlaying{State: session.Stopped})
	n.expectNone(t)
}

func TestService_Disabled(t *testing.T) {
	n := newChanNotifier()
	s := NewService(n, false, zerolog.Nop())

	s.NowPlaying(session.NowPlaying{Track: testTrack(), State: session.Playing})
	s.Scrobbled(scrobble.Record{Track: testTrack()})
	s.RequestDecision("spotify")
	n.expectNone(t)
}

func TestDeliveryFailed_OnlyPermanentNotifies(t *testing.T) {
	n := newChanNotifier()
	s := NewService(n, true, zerolog.Nop())
	rec := scrobble.Record{Track: testTrack()}

	s.DeliveryFailed(rec, "lastfm", errors.New("http 503"), false)
	n.expectNone(t)

	s.DeliveryFailed(rec, "lastfm", errors.New("bad session"), true)
	notif := n.wait(t)
	if notif.Urgency != UrgencyCritical {
		t.Errorf("urgency = %d, want critical", notif.Urgency)
	}
	if notif.Timeout != 0 {
		t.Errorf("timeout = %d, permanent failures should not expire", notif.Timeout)
	}
}

func TestRequestDecision_NamesTheApp(t *testing.T) {
	n := newChanNotifier()
	s := NewService(n, true, zerolog.Nop())

	s.RequestDecision("spotify")
	notif := n.wait(t)
	if notif.Title != "New app detected" {
		t.Errorf("title = %q", notif.Title)
	}
	// CLI fallback for notification servers without action buttons.
	if want := "-allow-app spotify"; !strings.Contains(notif.Body, want) {
		t.Errorf("body %q missing %q", notif.Body, want)
	}
}

func TestRequestDecision_ActionsResolveInProcess(t *testing.T) {
	n := newChanNotifier()
	s := NewService(n, true, zerolog.Nop())

	type answer struct {
		appID   string
		allowed bool
	}
	resolved := make(chan answer, 1)
	s.SetResolver(func(appID string, allowed bool) {
		resolved <- answer{appID, allowed}
	})

	s.RequestDecision("spotify")
	notif := n.wait(t)
	if len(notif.Actions) != 2 {
		t.Fatalf("prompt carries %d actions, want Allow and Ignore", len(notif.Actions))
	}
	if notif.Actions[0].Key != "allow" || notif.Actions[1].Key != "ignore" {
		t.Fatalf("action keys = %q, %q", notif.Actions[0].Key, notif.Actions[1].Key)
	}

	notif.OnAction("allow")
	select {
	case got := <-resolved:
		if got.appID != "spotify" || !got.allowed {
			t.Errorf("resolved %+v, want spotify allowed", got)
		}
	case <-time.After(time.Second):
		t.Fatal("clicking Allow never reached the resolver")
	}

	s.RequestDecision("firefox")
	notif = n.wait(t)
	notif.OnAction("ignore")
	select {
	case got := <-resolved:
		if got.appID != "firefox" || got.allowed {
			t.Errorf("resolved %+v, want firefox ignored", got)
		}
	case <-time.After(time.Second):
		t.Fatal("clicking Ignore never reached the resolver")
	}
}

func TestRequestDecision_NoResolverIsHarmless(t *testing.T) {
	n := newChanNotifier()
	s := NewService(n, true, zerolog.Nop())

	s.RequestDecision("spotify")
	n.wait(t).OnAction("allow")
}

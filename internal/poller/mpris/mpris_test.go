//go:build linux

package mpris

import (
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/llehouerou/scrobbled/internal/session"
)

func TestAppID(t *testing.T) {
	tests := []struct {
		busName string
		want    string
	}{
		{"org.mpris.MediaPlayer2.spotify", "spotify"},
		{"org.mpris.MediaPlayer2.vlc.instance7389", "vlc"},
		{"org.mpris.MediaPlayer2.chromium.instance12", "chromium"},
		{"org.mpris.MediaPlayer2.mpv", "mpv"},
	}
	for _, tt := range tests {
		if got := appID(tt.busName); got != tt.want {
			t.Errorf("appID(%q) = %q, want %q", tt.busName, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		status string
		want   session.PlaybackState
	}{
		{"Playing", session.Playing},
		{"Paused", session.Paused},
		{"Stopped", session.Stopped},
		{"", session.Stopped},
		{"garbage", session.Stopped},
	}
	for _, tt := range tests {
		if got := parseStatus(tt.status); got != tt.want {
			t.Errorf("parseStatus(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTrackFromMetadata(t *testing.T) {
	meta := map[string]dbus.Variant{
		"xesam:title":  dbus.MakeVariant("Song"),
		"xesam:album":  dbus.MakeVariant("Album"),
		"xesam:artist": dbus.MakeVariant([]string{"First", "Second"}),
	}
	track := trackFromMetadata(meta)
	if track.Title != "Song" || track.Album != "Album" {
		t.Errorf("track = %+v", track)
	}
	if track.Artist != "First, Second" {
		t.Errorf("artist = %q, want joined list", track.Artist)
	}

	// Some players send a plain string instead of the spec's string list.
	meta["xesam:artist"] = dbus.MakeVariant("Solo")
	if got := trackFromMetadata(meta).Artist; got != "Solo" {
		t.Errorf("artist = %q, want %q", got, "Solo")
	}
}

func TestMicroseconds(t *testing.T) {
	tests := []struct {
		v    dbus.Variant
		want time.Duration
	}{
		{dbus.MakeVariant(int64(200_000_000)), 200 * time.Second},
		{dbus.MakeVariant(uint64(1_000_000)), time.Second},
		{dbus.MakeVariant(int32(500_000)), 500 * time.Millisecond},
		{dbus.MakeVariant("garbage"), 0},
	}
	for _, tt := range tests {
		if got := microseconds(tt.v); got != tt.want {
			t.Errorf("microseconds(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

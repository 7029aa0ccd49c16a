package scrobble

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNewRecord_KeyStableAcrossRestarts(t *testing.T) {
	track := Track{Title: "Title", Artist: "Artist", Album: "Album"}
	start := time.Unix(1700000000, 0)

	a := NewRecord(track, 200*time.Second, start)
	b := NewRecord(track, 200*time.Second, start)
	if a.Key != b.Key {
		t.Errorf("same identity and start must derive the same key: %q vs %q", a.Key, b.Key)
	}
}

func TestNewRecord_RepeatPlayGetsDistinctKey(t *testing.T) {
	track := Track{Title: "Title", Artist: "Artist", Album: "Album"}

	first := NewRecord(track, 200*time.Second, time.Unix(1700000000, 0))
	second := NewRecord(track, 200*time.Second, time.Unix(1700000300, 0))
	if first.Key == second.Key {
		t.Error("two plays of the same track must produce distinct keys")
	}
}

func TestNewRecord_FieldSeparationInKey(t *testing.T) {
	start := time.Unix(1700000000, 0)
	a := NewRecord(Track{Title: "ab", Artist: "c"}, 0, start)
	b := NewRecord(Track{Title: "a", Artist: "bc"}, 0, start)
	if a.Key == b.Key {
		t.Error("field boundaries must be part of the key derivation")
	}
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"retryable", Retryablef("http 503"), false},
		{"permanent", Permanentf("bad credentials"), true},
		{"wrapped permanent", fmt.Errorf("submit: %w", Permanentf("rejected")), true},
		{"wrapped retryable", fmt.Errorf("submit: %w", Retryablef("timeout")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Permanent(tt.err); got != tt.want {
				t.Errorf("Permanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

//go:build linux

// Package mpris polls MPRIS players on the D-Bus session bus.
package mpris

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/llehouerou/scrobbled/internal/scrobble"
	"github.com/llehouerou/scrobbled/internal/session"
)

const (
	busNamePrefix   = "org.mpris.MediaPlayer2."
	objectPath      = "/org/mpris/MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
	propsInterface  = "org.freedesktop.DBus.Properties"
)

// Poller reads now-playing state from MPRIS players. When several players
// are present it prefers one that is actively playing.
type Poller struct {
	conn *dbus.Conn
}

func New() (*Poller, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Poller{conn: conn}, nil
}

func (p *Poller) Close() error {
	return p.conn.Close()
}

// Poll returns the most relevant player's state, or nil when no MPRIS
// player is on the bus.
func (p *Poller) Poll(ctx context.Context) (*session.Sample, error) {
	names, err := p.playerNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	var fallback *session.Sample
	for _, name := range names {
		sample, err := p.read(ctx, name)
		if err != nil {
			// One broken player must not hide the others.
			continue
		}
		if sample.State == session.Playing {
			return sample, nil
		}
		if fallback == nil {
			fallback = sample
		}
	}
	return fallback, nil
}

func (p *Poller) playerNames(ctx context.Context) ([]string, error) {
	var all []string
	err := p.conn.BusObject().CallWithContext(
		ctx, "org.freedesktop.DBus.ListNames", 0,
	).Store(&all)
	if err != nil {
		return nil, fmt.Errorf("list bus names: %w", err)
	}

	var players []string
	for _, name := range all {
		if strings.HasPrefix(name, busNamePrefix) {
			players = append(players, name)
		}
	}
	return players, nil
}

func (p *Poller) read(ctx context.Context, busName string) (*session.Sample, error) {
	obj := p.conn.Object(busName, objectPath)

	var props map[string]dbus.Variant
	err := obj.CallWithContext(
		ctx, propsInterface+".GetAll", 0, playerInterface,
	).Store(&props)
	if err != nil {
		return nil, fmt.Errorf("get player properties: %w", err)
	}

	sample := &session.Sample{
		State:      parseStatus(variantString(props["PlaybackStatus"])),
		AppID:      appID(busName),
		ObservedAt: time.Now(),
	}

	if meta, ok := props["Metadata"].Value().(map[string]dbus.Variant); ok {
		sample.Track = trackFromMetadata(meta)
		sample.Duration = microseconds(meta["mpris:length"])
		sample.ArtURL = variantString(meta["mpris:artUrl"])
	}

	// Many players serve a stale Position from GetAll; ask for it directly.
	var pos dbus.Variant
	err = obj.CallWithContext(
		ctx, propsInterface+".Get", 0, playerInterface, "Position",
	).Store(&pos)
	if err == nil {
		sample.Position = microseconds(pos)
	} else if v, ok := props["Position"]; ok {
		sample.Position = microseconds(v)
	}

	return sample, nil
}

// appID turns a bus name into a stable application id: the part after the
// MPRIS prefix, minus any per-process instance suffix VLC and friends add.
func appID(busName string) string {
	id := strings.TrimPrefix(busName, busNamePrefix)
	if i := strings.LastIndex(id, ".instance"); i > 0 {
		id = id[:i]
	}
	return id
}

func parseStatus(status string) session.PlaybackState {
	switch status {
	case "Playing":
		return session.Playing
	case "Paused":
		return session.Paused
	default:
		return session.Stopped
	}
}

func trackFromMetadata(meta map[string]dbus.Variant) scrobble.Track {
	track := scrobble.Track{
		Title: variantString(meta["xesam:title"]),
		Album: variantString(meta["xesam:album"]),
	}
	switch v := meta["xesam:artist"].Value().(type) {
	case []string:
		track.Artist = strings.Join(v, ", ")
	case string:
		track.Artist = v
	}
	return track
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

// microseconds converts an MPRIS time value to a duration. The spec says
// int64 but players disagree on the integer type.
func microseconds(v dbus.Variant) time.Duration {
	switch n := v.Value().(type) {
	case int64:
		return time.Duration(n) * time.Microsecond
	case uint64:
		return time.Duration(n) * time.Microsecond
	case int32:
		return time.Duration(n) * time.Microsecond
	case uint32:
		return time.Duration(n) * time.Microsecond
	case int:
		return time.Duration(n) * time.Microsecond
	case float64:
		return time.Duration(n * float64(time.Microsecond))
	default:
		return 0
	}
}

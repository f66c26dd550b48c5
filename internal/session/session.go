// Package session implements the AX.25 connected-mode session engine:
// the SABM/UA/DISC/DM handshake, modulo-8 I/S-frame sequencing,
// and the ack/REJ policy layered above the frame plane.
package session

import (
	"time"

	"github.com/na7dx/packetnode/internal/ax25"
)

// Key identifies a session by the channel it lives on and the base
// callsign of the remote station (SSID is not part of the key; a
// station's different SSIDs are treated as the same correspondent at
// the link layer here).
type Key struct {
	ChannelID  string
	RemoteBase string
}

// State is a session's link-level state. BBS-layer substates
// (awaiting-name, composing, ...) are tracked by the BBS package using
// the same Key, not here.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

const (
	// DefaultInactivityTimeout is how long a session may sit idle
	// before it is torn down.
	DefaultInactivityTimeout = 300 * time.Second
	// DefaultAckDeferWindow is the batching window for a deferred RR
	// ack when the peer did not request an immediate one.
	DefaultAckDeferWindow = 5 * time.Second
)

// Handlers are the session engine's event sinks.
type Handlers struct {
	// SendFrame hands a built frame to the channel for transmission.
	SendFrame func(channelID string, frame ax25.Frame)
	// OnConnect fires when a session reaches StateConnected, including
	// re-runs on a repeated SABM.
	OnConnect func(key Key)
	OnDisconnect func(key Key)
	// OnData delivers an in-order I-frame payload to the BBS layer.
	OnData func(key Key, payload []byte)
}

func fillHandlers(h Handlers) Handlers {
	if h.SendFrame == nil {
		h.SendFrame = func(string, ax25.Frame) {}
	}
	if h.OnConnect == nil {
		h.OnConnect = func(Key) {}
	}
	if h.OnDisconnect == nil {
		h.OnDisconnect = func(Key) {}
	}
	if h.OnData == nil {
		h.OnData = func(Key, []byte) {}
	}
	return h
}

// Config tunes session behavior; zero values select the defaults.
type Config struct {
	InactivityTimeout time.Duration
	AckDeferWindow    time.Duration
	// BBSDelay gates outbound I-frame sends, accommodating slow TNCs.
	BBSDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.AckDeferWindow <= 0 {
		c.AckDeferWindow = DefaultAckDeferWindow
	}
	return c
}

// snapshot is a read-only view of a session's state for diagnostics.
type snapshot struct {
	Key      Key
	State    State
	VS, VR   uint8
	RemoteNR uint8
}

// Package node implements the Channel Manager: the center of the frame
// plane. It owns channel adapters, runs the KISS/AX.25 receive
// pipeline, maintains the duplicate-suppression cache, and fans
// received frames out across configured routes with path servicing.
package node

import (
	"time"

	"github.com/na7dx/packetnode/internal/ax25"
	"github.com/na7dx/packetnode/internal/callsign"
)

// Role describes how a channel participates in path servicing.
type Role int

const (
	// RoleWide services any WIDEn-N hop up to the channel's MaxWideN.
	RoleWide Role = iota
	// RoleFillIn only services WIDE1-1: a fill-in digipeater's role in
	// a mixed wide/fill-in network.
	RoleFillIn
)

// IGate is the pseudo channel ID that marks a route as exiting through
// the APRS-IS gateway collaborator rather than another radio channel.
const IGate = "igate"

// ChannelConfig describes a channel's identity and path-servicing
// policy. It does not include the adapter itself, which is supplied
// separately to AddChannel.
type ChannelConfig struct {
	ID                 string
	Name               string
	Role               Role
	MaxWideN           int
	AppendDigiCallsign bool
	MyCall             callsign.Callsign
	DigiCallsigns      []callsign.Callsign
}

// Route fans frames received on From out to To. To may be IGate.
type Route struct {
	From string
	To   string
}

// FrameEvent is emitted for every successfully parsed, non-duplicate
// frame received on any channel.
type FrameEvent struct {
	Channel string
	Raw     []byte
	Parsed  ax25.Frame
	Ts      time.Time
}

// RawEvent is emitted when a channel yields bytes that fail to parse as
// an AX.25 frame.
type RawEvent struct {
	Channel string
	Raw     []byte
	Err     error
	Ts      time.Time
}

// IGateEvent is emitted when a frame is routed to the IGate pseudo
// channel, carrying the frame as received (no path servicing applied).
type IGateEvent struct {
	Channel string // source channel
	Parsed  ax25.Frame
	Raw     []byte
	Ts      time.Time
}

// TxEvent is emitted whenever the manager hands serviced bytes to a
// target channel's adapter.
type TxEvent struct {
	Channel string // target channel
	Parsed  ax25.Frame
	Raw     []byte
	Ts      time.Time
}

// Handlers are the manager's event sinks. Nil fields are no-ops.
type Handlers struct {
	OnFrame func(FrameEvent)
	OnRaw   func(RawEvent)
	OnIGate func(IGateEvent)
	OnTx    func(TxEvent)
	OnError func(channelID string, err error)
}

func fillHandlers(h Handlers) Handlers {
	if h.OnFrame == nil {
		h.OnFrame = func(FrameEvent) {}
	}
	if h.OnRaw == nil {
		h.OnRaw = func(RawEvent) {}
	}
	if h.OnIGate == nil {
		h.OnIGate = func(IGateEvent) {}
	}
	if h.OnTx == nil {
		h.OnTx = func(TxEvent) {}
	}
	if h.OnError == nil {
		h.OnError = func(string, error) {}
	}
	return h
}

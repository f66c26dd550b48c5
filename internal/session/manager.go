package session

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/na7dx/packetnode/internal/ax25"
	"github.com/na7dx/packetnode/internal/callsign"
)

// Manager owns every live session, keyed by (channel, remote_base),
// and dispatches inbound frames to the right session actor.
type Manager struct {
	logger *log.Logger
	cfg    Config
	h      Handlers

	mu       sync.Mutex
	sessions map[Key]*actor
}

// NewManager returns an empty session Manager.
func NewManager(logger *log.Logger, cfg Config, h Handlers) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		logger:   logger.With("component", "session-manager"),
		cfg:      cfg.withDefaults(),
		h:        fillHandlers(h),
		sessions: make(map[Key]*actor),
	}
}

// HandleFrame processes a frame received on channelID, addressed at
// myCall. Frames not addressed to myCall are ignored; path servicing
// and digipeating are the Channel Manager's concern, not this layer's.
func (m *Manager) HandleFrame(channelID string, myCall callsign.Callsign, f ax25.Frame) {
	if !f.Dest.Call.Equal(myCall) {
		return
	}
	key := Key{ChannelID: channelID, RemoteBase: f.Src.Call.Base}

	m.mu.Lock()
	a, exists := m.sessions[key]
	if !exists {
		if f.Control.Kind == ax25.KindU && f.Control.UT == ax25.UDISC {
			// Stateless DM: no session to create for a disconnect we
			// never saw connect.
			m.mu.Unlock()
			m.sendDM(channelID, myCall, f.Src.Call, f.Control.PF)
			return
		}
		if f.Control.Kind != ax25.KindU || f.Control.UT != ax25.USABM {
			m.mu.Unlock()
			return
		}
		// The actor drops itself from the registry when it cleans up, on
		// its own goroutine, so a session ended by DISC, a local
		// disconnect or the inactivity timeout never lingers.
		h := m.h
		h.OnDisconnect = func(k Key) {
			m.mu.Lock()
			if m.sessions[k] == a {
				delete(m.sessions, k)
			}
			m.mu.Unlock()
			m.h.OnDisconnect(k)
		}
		a = newActor(key, myCall, f.Src.Call, m.cfg, h, m.logger)
		m.sessions[key] = a
	}
	m.mu.Unlock()

	a.post(func() { a.handleFrame(f) })
	m.reapIfDisconnected(key, a)
}

func (m *Manager) sendDM(channelID string, myCall, peer callsign.Callsign, pf bool) {
	f := ax25.Frame{
		Dest:    ax25.Address{Call: peer},
		Src:     ax25.Address{Call: myCall, CH: true},
		Control: ax25.Control{Kind: ax25.KindU, UT: ax25.UDM, PF: pf},
	}
	m.h.SendFrame(channelID, f)
}

// reapIfDisconnected removes a from the registry once it has cleaned
// up, so a later SABM from the same peer starts a fresh actor.
func (m *Manager) reapIfDisconnected(key Key, a *actor) {
	a.post(func() {
		if a.Snapshot().State == StateDisconnected {
			m.mu.Lock()
			if m.sessions[key] == a {
				delete(m.sessions, key)
			}
			m.mu.Unlock()
		}
	})
}

// Send transmits payload on the session identified by key, if
// connected. pf requests an immediate poll/final bit on the I-frame.
func (m *Manager) Send(key Key, payload []byte, pf bool) bool {
	m.mu.Lock()
	a, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return false
	}
	a.post(func() { a.sendData(payload, pf) })
	return true
}

// Disconnect locally initiates teardown of the session identified by
// key: it sends DM and cleans up. Unlike a peer-initiated DISC, no UA
// is expected in reply. Returns false if the session does not exist.
func (m *Manager) Disconnect(key Key) bool {
	m.mu.Lock()
	a, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return false
	}
	a.post(a.localDisconnect)
	m.reapIfDisconnected(key, a)
	return true
}

// State returns a session's current link state and sequence counters,
// or a zero snapshot with StateDisconnected if the key is unknown.
func (m *Manager) State(key Key) (State, uint8, uint8) {
	m.mu.Lock()
	a, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return StateDisconnected, 0, 0
	}
	s := a.Snapshot()
	return s.State, s.VS, s.VR
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

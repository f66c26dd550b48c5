package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/na7dx/packetnode/internal/ax25"
	"github.com/na7dx/packetnode/internal/callsign"
	"github.com/na7dx/packetnode/internal/channel"
	"github.com/na7dx/packetnode/internal/dedup"
	"github.com/na7dx/packetnode/internal/kiss"
)

// recentRingSize is the bound on the in-memory recent-frames diagnostic
// ring.
const recentRingSize = 200

// ErrUnknownChannel surfaces as a false return from SendFrame for
// callers that only check the bool; sending to a missing channel never
// panics.
var ErrUnknownChannel = errors.New("node: unknown channel")

type channelEntry struct {
	cfg     ChannelConfig
	adapter channel.Adapter
	decoder *kiss.Decoder
	sendMu  sync.Mutex // serializes sends to this channel's adapter
}

// Manager is the channel manager: it owns every channel adapter,
// runs the KISS/AX.25 receive pipeline, and fans frames out across
// configured routes with path servicing. Safe for concurrent use.
type Manager struct {
	logger *log.Logger

	mu       sync.Mutex
	channels map[string]*channelEntry
	routes   []Route
	handlers Handlers

	dedup  *dedup.Cache
	recent *recentRing
	m      *nodeMetrics
}

// NewManager returns an empty Manager. reg receives the node's
// Prometheus collectors.
func NewManager(logger *log.Logger, reg prometheus.Registerer) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Manager{
		logger:   logger.With("component", "channel-manager"),
		channels: make(map[string]*channelEntry),
		handlers: fillHandlers(Handlers{}),
		dedup:    dedup.New(dedup.DefaultTTL, dedup.DefaultMaxEntries),
		recent:   newRecentRing(recentRingSize),
		m:        newNodeMetrics(reg),
	}
}

// SetHandlers replaces the manager's event sinks.
func (m *Manager) SetHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = fillHandlers(h)
}

func (m *Manager) handlersSnapshot() Handlers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers
}

// AddChannel registers a channel with its adapter and wires the
// receive pipeline to the adapter's data events. ctx governs the
// adapter's connection lifetime.
func (m *Manager) AddChannel(ctx context.Context, cfg ChannelConfig, adapter channel.Adapter) error {
	entry := &channelEntry{
		cfg:     cfg,
		adapter: adapter,
		decoder: kiss.NewDecoder(func(err error) {
			m.logger.Warn("kiss framing error", "channel", cfg.ID, "err", err)
		}),
	}

	m.mu.Lock()
	if _, exists := m.channels[cfg.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("node: channel %q already registered", cfg.ID)
	}
	m.channels[cfg.ID] = entry
	m.mu.Unlock()

	adapter.SetHandlers(channel.Handlers{
		OnOpen: func() { m.logger.Info("channel open", "channel", cfg.ID) },
		OnClose: func() {
			m.logger.Warn("channel closed", "channel", cfg.ID)
		},
		OnError: func(err error) {
			m.logger.Error("channel error", "channel", cfg.ID, "err", err)
			m.handlersSnapshot().OnError(cfg.ID, err)
		},
		OnData: func(data []byte) { m.handleData(cfg.ID, data) },
	})

	return adapter.Open(ctx)
}

// RemoveChannel closes and forgets a channel, dropping any routes that
// reference it.
func (m *Manager) RemoveChannel(id string) bool {
	m.mu.Lock()
	entry, ok := m.channels[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.channels, id)
	kept := m.routes[:0:0]
	for _, r := range m.routes {
		if r.From != id && r.To != id {
			kept = append(kept, r)
		}
	}
	m.routes = kept
	m.mu.Unlock()

	_ = entry.adapter.Close()
	return true
}

// AddRoute fans frames received on from out to to (to may be IGate).
// Duplicate routes are not added twice.
func (m *Manager) AddRoute(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.routes {
		if r.From == from && r.To == to {
			return
		}
	}
	m.routes = append(m.routes, Route{From: from, To: to})
}

// RemoveRoute removes a previously added route, reporting whether one
// existed.
func (m *Manager) RemoveRoute(from, to string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.routes {
		if r.From == from && r.To == to {
			m.routes = append(m.routes[:i], m.routes[i+1:]...)
			return true
		}
	}
	return false
}

// ListChannels returns the configuration of every registered channel.
func (m *Manager) ListChannels() []ChannelConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChannelConfig, 0, len(m.channels))
	for _, e := range m.channels {
		out = append(out, e.cfg)
	}
	return out
}

// SendFrame hands raw bytes to a channel's adapter, serialized with any
// other send to the same channel. It returns false for an unknown
// channel rather than erroring.
func (m *Manager) SendFrame(channelID string, raw []byte) bool {
	m.mu.Lock()
	entry, ok := m.channels[channelID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	entry.sendMu.Lock()
	defer entry.sendMu.Unlock()
	if err := entry.adapter.Send(raw); err != nil {
		m.logger.Warn("send failed", "channel", channelID, "err", err)
		return false
	}
	m.m.tx.WithLabelValues(channelID).Inc()
	return true
}

// APRSMessageParams composes a UI frame via SendAPRSMessage.
type APRSMessageParams struct {
	From    callsign.Callsign
	To      callsign.Callsign
	Payload []byte
	Channel string
	Path    []callsign.Callsign
}

// SendAPRSMessage composes a UI frame from params and sends it on
// params.Channel.
func (m *Manager) SendAPRSMessage(p APRSMessageParams) bool {
	f := ax25.NewUI(p.To, p.From, p.Path, 0xF0, p.Payload)
	raw, err := ax25.Build(f)
	if err != nil {
		m.logger.Error("build UI frame failed", "err", err)
		return false
	}
	return m.SendFrame(p.Channel, raw)
}

// CleanupSeen sweeps expired dedup entries and returns how many were
// removed. Intended to be called by the background dedup-GC task.
func (m *Manager) CleanupSeen(now time.Time) int {
	return m.dedup.Cleanup(now)
}

// SetSeenTTL updates the dedup cache's entry lifetime.
func (m *Manager) SetSeenTTL(d time.Duration) { m.dedup.SetTTL(d) }

// SetMaxSeenEntries updates the dedup cache's capacity.
func (m *Manager) SetMaxSeenEntries(n int) { m.dedup.SetMaxEntries(n) }

// Recent returns a snapshot of the recent-frames diagnostic ring,
// oldest first.
func (m *Manager) Recent() []FrameEvent { return m.recent.Snapshot() }

// GetMetrics returns a point-in-time snapshot of every counter for the
// given channel, plus the dedup cache's distinct-source gauge.
func (m *Manager) GetMetrics(channelID string) Snapshot {
	m.m.uniqueStations.Set(float64(m.dedup.UniqueSources()))

	m.mu.Lock()
	fromIDs := make([]string, 0, len(m.channels))
	for id := range m.channels {
		fromIDs = append(fromIDs, id)
	}
	m.mu.Unlock()

	return Snapshot{
		Channel:             channelID,
		Rx:                  counterValue(m.m.rx, channelID),
		Tx:                  counterValue(m.m.tx, channelID),
		DedupDrop:           counterValue(m.m.dedupDrop, channelID),
		ServicedWideBlocked: counterValue(m.m.servicedWideBlocked, channelID),
		MaxWideBlocked:      counterValue(m.m.maxWideBlocked, channelID),
		FillInBlocked:       counterValue(m.m.fillInBlocked, channelID),
		Digipeats:           m.m.digipeatsFor(channelID, fromIDs),
		UniqueStations:      float64(m.dedup.UniqueSources()),
	}
}

package chatsync

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/na7dx/packetnode/internal/chat"
	"github.com/na7dx/packetnode/internal/mesh"
)

// DefaultPeriodicInterval is how often the periodic catch-up sync
// runs.
const DefaultPeriodicInterval = 30 * time.Second

// DefaultPeriodicBatch caps how many messages a single periodic sync
// collects per room.
const DefaultPeriodicBatch = 100

const (
	outboundTTL = 5
	periodicTTL = 7
	maxRetries  = 3
	retryDelay  = 5 * time.Second
)

// WireMessage is the over-the-mesh representation of one chat message
// plus its causal metadata.
type WireMessage struct {
	ServerID  string      `json:"serverId"`
	Room      string      `json:"room"`
	MessageID string      `json:"messageId"`
	Username  string      `json:"username"`
	Text      string      `json:"text"`
	Timestamp int64       `json:"timestamp"`
	Clock     VectorClock `json:"clock"`
	Hash      string      `json:"hash"`
}

// syncPacketKind identifies a chatsync mesh.Packet's payload shape.
const syncPacketKind = "chatsync"

// DeliverFunc hands an admitted, merged message to the local chat
// store, marked as synced so it doesn't get rebroadcast.
type DeliverFunc func(room string, msg chat.Message, synced bool)

// Engine drives outbound publication and inbound admission of synced
// chat messages across a mesh.Transport.
type Engine struct {
	mu        sync.Mutex
	serverID  string
	clock     VectorClock
	seen      *SeenSet
	lastSync  map[string]time.Time
	transport mesh.Transport
	deliver   DeliverFunc
}

// NewEngine returns an Engine identified by serverID, publishing and
// receiving over transport.
func NewEngine(serverID string, transport mesh.Transport, deliver DeliverFunc) *Engine {
	e := &Engine{
		serverID:  serverID,
		clock:     make(VectorClock),
		seen:      NewSeenSet(),
		lastSync:  make(map[string]time.Time),
		transport: transport,
		deliver:   deliver,
	}
	transport.OnData(e.handlePacket)
	return e
}

// Publish sends a locally-originated chat message to the mesh. It
// increments this node's vector clock entry, builds a sync packet with
// a content hash, records that hash so a looped-back copy is ignored,
// and broadcasts at high priority with retry.
func (e *Engine) Publish(room string, msg chat.Message) error {
	e.mu.Lock()
	e.clock = e.clock.Increment(e.serverID)
	clock := e.clock.Clone()
	e.mu.Unlock()

	wire := WireMessage{
		ServerID:  e.serverID,
		Room:      room,
		MessageID: msg.ID,
		Username:  msg.Sender,
		Text:      msg.Text,
		Timestamp: msg.Timestamp.Unix(),
		Clock:     clock,
	}
	wire.Hash = Hash(wire.MessageID, wire.ServerID, wire.Username, wire.Text, wire.Timestamp)
	e.seen.SeenOrRecord(wire.Hash, msg.Timestamp)

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("chatsync: marshal: %w", err)
	}

	pkt := mesh.Packet{Kind: syncPacketKind, Data: data, Priority: mesh.PriorityHigh, TTL: outboundTTL}
	if err := e.transport.Broadcast(pkt); err != nil {
		// Retry in the background so a flaky transport never blocks the
		// chat path that triggered the publish.
		go e.retryBroadcast(pkt)
		return fmt.Errorf("chatsync: broadcast failed, retrying: %w", err)
	}
	return nil
}

// retryBroadcast re-attempts a failed broadcast up to maxRetries-1
// more times with retryDelay spacing, then gives up.
func (e *Engine) retryBroadcast(pkt mesh.Packet) {
	for attempt := 1; attempt < maxRetries; attempt++ {
		time.Sleep(retryDelay)
		if e.transport.Broadcast(pkt) == nil {
			return
		}
	}
}

// handlePacket is the transport's inbound data handler.
func (e *Engine) handlePacket(pkt mesh.Packet) {
	if pkt.Kind != syncPacketKind {
		return
	}
	var wire WireMessage
	if err := json.Unmarshal(pkt.Data, &wire); err != nil {
		return
	}
	e.admit(wire, time.Unix(wire.Timestamp, 0))
}

// admit runs the inbound pipeline: drop self-sourced packets, drop
// already-seen hashes, otherwise merge the clock and deliver without
// rebroadcasting.
func (e *Engine) admit(wire WireMessage, now time.Time) {
	if wire.ServerID == e.serverID {
		return
	}

	e.mu.Lock()
	if e.seen.SeenOrRecord(wire.Hash, now) {
		e.mu.Unlock()
		return
	}
	if e.clock.Dominates(wire.Clock) {
		// Remote clock is strictly older than what we've already
		// merged; the packet carries nothing causally new.
		e.mu.Unlock()
		return
	}
	e.clock = e.clock.Merge(wire.Clock)
	e.mu.Unlock()

	msg := chat.Message{
		ID:        wire.MessageID,
		Room:      wire.Room,
		Sender:    wire.Username,
		Text:      wire.Text,
		Timestamp: time.Unix(wire.Timestamp, 0),
	}
	if e.deliver != nil {
		e.deliver(wire.Room, msg, true)
	}
}

// PurgeSeen drops expired dedup hashes; wire this to the periodic
// background task.
func (e *Engine) PurgeSeen(now time.Time) int {
	return e.seen.Purge(now)
}

// HistoryFunc returns messages in room with a timestamp after since,
// capped at limit, oldest first. The chat Manager satisfies this via
// GetRoomHistory plus a timestamp filter at the call site.
type HistoryFunc func(room string, since time.Time, limit int) []chat.Message

// RunPeriodicSync collects up to DefaultPeriodicBatch messages per
// room added since the last periodic sync and republishes them at
// periodicTTL, so a node that missed a broadcast (e.g. it was offline)
// catches up.
func (e *Engine) RunPeriodicSync(rooms []string, history HistoryFunc, now time.Time) {
	for _, room := range rooms {
		e.mu.Lock()
		since, ok := e.lastSync[room]
		e.mu.Unlock()
		if !ok {
			since = now.Add(-DefaultPeriodicInterval)
		}

		msgs := history(room, since, DefaultPeriodicBatch)
		for _, msg := range msgs {
			e.publishAt(room, msg, periodicTTL)
		}

		e.mu.Lock()
		e.lastSync[room] = now
		e.mu.Unlock()
	}
}

func (e *Engine) publishAt(room string, msg chat.Message, ttl int) {
	e.mu.Lock()
	e.clock = e.clock.Increment(e.serverID)
	clock := e.clock.Clone()
	e.mu.Unlock()

	wire := WireMessage{
		ServerID:  e.serverID,
		Room:      room,
		MessageID: msg.ID,
		Username:  msg.Sender,
		Text:      msg.Text,
		Timestamp: msg.Timestamp.Unix(),
		Clock:     clock,
	}
	wire.Hash = Hash(wire.MessageID, wire.ServerID, wire.Username, wire.Text, wire.Timestamp)
	if e.seen.SeenOrRecord(wire.Hash, msg.Timestamp) {
		return
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return
	}
	_ = e.transport.Broadcast(mesh.Packet{Kind: syncPacketKind, Data: data, Priority: mesh.PriorityNormal, TTL: ttl})
}

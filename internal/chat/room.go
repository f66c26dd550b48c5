// Package chat implements the mesh chat layer: rooms, membership,
// moderation, per-user rate limiting, and bounded per-room history.
package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRateLimit is the default message allowance per user per
// RateWindow.
const DefaultRateLimit = 10

// RateWindow is the length of the fixed window rate limiting is
// measured over; a user's window starts at their first message and a
// new one starts with the first message after it has elapsed.
const RateWindow = 60 * time.Second

// DefaultMaxHistory bounds the per-room history ring.
const DefaultMaxHistory = 100

// EventKind identifies a chat lifecycle event.
type EventKind string

const (
	EventRoomCreated    EventKind = "room-created"
	EventRoomDeleted    EventKind = "room-deleted"
	EventUserJoined     EventKind = "user-joined"
	EventUserLeft       EventKind = "user-left"
	EventMessageSent    EventKind = "message-sent"
	EventPrivateMessage EventKind = "private-message-sent"
)

// Event is emitted for every chat lifecycle transition.
type Event struct {
	Kind      EventKind
	Room      string
	User      string
	Recipient string // for EventPrivateMessage
	Message   Message
}

// Message is one chat message recorded in a room's history.
type Message struct {
	ID        string
	Room      string
	Sender    string
	Text      string
	Timestamp time.Time
}

// EventFunc receives chat lifecycle events, e.g. for mesh
// synchronization or logging.
type EventFunc func(Event)

// RoomOptions configures a room at creation time. The zero value is a
// non-public, passwordless, non-persistent room with no capacity limit.
type RoomOptions struct {
	Description string
	Topic       string
	Password    string
	MaxUsers    int
	Persistent  bool
	Public      bool
	Creator     string
}

type member struct {
	muted bool
}

type room struct {
	name        string
	description string
	topic       string
	password    string
	maxUsers    int
	persistent  bool
	public      bool
	creator     string
	members     map[string]*member
	moderator   map[string]struct{}
	banned      map[string]struct{}
	history     []Message
}

func newRoom(name string, opts RoomOptions) *room {
	return &room{
		name:        name,
		description: opts.Description,
		topic:       opts.Topic,
		password:    opts.Password,
		maxUsers:    opts.MaxUsers,
		persistent:  opts.Persistent,
		public:      opts.Public,
		creator:     strings.ToUpper(opts.Creator),
		members:     make(map[string]*member),
		moderator:   make(map[string]struct{}),
		banned:      make(map[string]struct{}),
	}
}

// mayModerate reports whether user can exercise moderator powers in
// this room. The empty user is the node operator and always may.
func (r *room) mayModerate(user string) bool {
	if user == "" || user == r.creator {
		return true
	}
	_, ok := r.moderator[user]
	return ok
}

func (r *room) appendHistory(msg Message, maxHistory int) {
	r.history = append(r.history, msg)
	if len(r.history) > maxHistory {
		r.history = r.history[len(r.history)-maxHistory:]
	}
}

// rateState tracks the current fixed-window message count for one user.
type rateState struct {
	windowStart time.Time
	count       int
}

// Manager owns all rooms, per-user rate limiting state, and each
// user's current-room membership.
type Manager struct {
	mu         sync.Mutex
	rooms      map[string]*room
	rates      map[string]*rateState
	userRoom   map[string]string // each user is in at most one room
	rateLimit  int
	maxHistory int
	onEvent    EventFunc
}

// NewManager returns a chat Manager using the default rate limit and
// history bound. onEvent may be nil.
func NewManager(onEvent EventFunc) *Manager {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Manager{
		rooms:      make(map[string]*room),
		rates:      make(map[string]*rateState),
		userRoom:   make(map[string]string),
		rateLimit:  DefaultRateLimit,
		maxHistory: DefaultMaxHistory,
		onEvent:    onEvent,
	}
}

// SetRateLimit overrides the default per-user message allowance.
func (m *Manager) SetRateLimit(n int) {
	m.mu.Lock()
	m.rateLimit = n
	m.mu.Unlock()
}

// SetMaxHistory overrides the default per-room history bound.
func (m *Manager) SetMaxHistory(n int) {
	m.mu.Lock()
	m.maxHistory = n
	m.mu.Unlock()
}

// CreateRoom creates an empty public room named name with default
// options. Returns false if it already exists.
func (m *Manager) CreateRoom(name string) bool {
	return m.CreateRoomOpts(name, RoomOptions{Public: true})
}

// CreateRoomOpts creates a room with explicit options. Returns false
// if the room already exists.
func (m *Manager) CreateRoomOpts(name string, opts RoomOptions) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[name]; ok {
		return false
	}
	m.rooms[name] = newRoom(name, opts)
	m.onEvent(Event{Kind: EventRoomCreated, Room: name})
	return true
}

// DeleteRoom removes a room and all its state. Persistent rooms are
// refused; delete them by reconfiguring, not at runtime.
func (m *Manager) DeleteRoom(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[name]
	if !ok || r.persistent {
		return false
	}
	m.deleteRoomLocked(name)
	return true
}

// deleteRoomLocked drops the room and every member's current-room
// binding. Must be called with m.mu held.
func (m *Manager) deleteRoomLocked(name string) {
	r := m.rooms[name]
	for user := range r.members {
		delete(m.userRoom, user)
	}
	delete(m.rooms, name)
	m.onEvent(Event{Kind: EventRoomDeleted, Room: name})
}

// ErrBadPassword is returned by JoinRoom for a wrong room password.
var ErrBadPassword = fmt.Errorf("chat: wrong room password")

// ErrRoomFull is returned by JoinRoom when the room is at capacity.
var ErrRoomFull = fmt.Errorf("chat: room is full")

// JoinRoom adds user to room, creating the room if it doesn't exist.
// A user may be in only one room at a time: joining a new room leaves
// the old one first (auto-deleting it if it empties out and isn't
// persistent).
func (m *Manager) JoinRoom(roomName, user, password string) error {
	user = strings.ToUpper(user)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok {
		r = newRoom(roomName, RoomOptions{Public: true, Creator: user})
		m.rooms[roomName] = r
		m.onEvent(Event{Kind: EventRoomCreated, Room: roomName})
	}
	if _, banned := r.banned[user]; banned {
		return fmt.Errorf("chat: %s is banned from %s", user, roomName)
	}
	if r.password != "" && password != r.password {
		return ErrBadPassword
	}
	if _, already := r.members[user]; !already && r.maxUsers > 0 && len(r.members) >= r.maxUsers {
		return ErrRoomFull
	}

	if current, ok := m.userRoom[user]; ok && current != roomName {
		m.leaveLocked(current, user)
	}

	r.members[user] = &member{}
	m.userRoom[user] = roomName
	m.onEvent(Event{Kind: EventUserJoined, Room: roomName, User: user})
	return nil
}

// LeaveRoom removes user from room. A non-persistent room that empties
// out is deleted.
func (m *Manager) LeaveRoom(roomName, user string) {
	user = strings.ToUpper(user)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(roomName, user)
}

func (m *Manager) leaveLocked(roomName, user string) {
	r, ok := m.rooms[roomName]
	if !ok {
		return
	}
	if _, in := r.members[user]; !in {
		return
	}
	delete(r.members, user)
	delete(m.userRoom, user)
	m.onEvent(Event{Kind: EventUserLeft, Room: roomName, User: user})
	if !r.persistent && len(r.members) == 0 {
		m.deleteRoomLocked(roomName)
	}
}

// SetTopic sets a room's topic. Only the creator and moderators may;
// byUser == "" is the node operator and always may.
func (m *Manager) SetTopic(roomName, byUser, topic string) bool {
	byUser = strings.ToUpper(byUser)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok || !r.mayModerate(byUser) {
		return false
	}
	r.topic = topic
	return true
}

// Mod grants moderator status to user in room. Only the creator (or
// the operator) may.
func (m *Manager) Mod(roomName, byUser, user string) bool {
	byUser = strings.ToUpper(byUser)
	user = strings.ToUpper(user)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok || (byUser != "" && byUser != r.creator) {
		return false
	}
	r.moderator[user] = struct{}{}
	return true
}

// Unmod revokes moderator status. Only the creator (or the operator)
// may.
func (m *Manager) Unmod(roomName, byUser, user string) bool {
	byUser = strings.ToUpper(byUser)
	user = strings.ToUpper(user)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok || (byUser != "" && byUser != r.creator) {
		return false
	}
	delete(r.moderator, user)
	return true
}

// Ban removes user and prevents them from rejoining room. Moderators
// and the creator may ban.
func (m *Manager) Ban(roomName, byUser, user string) bool {
	byUser = strings.ToUpper(byUser)
	user = strings.ToUpper(user)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok || !r.mayModerate(byUser) {
		return false
	}
	r.banned[user] = struct{}{}
	if _, in := r.members[user]; in {
		delete(r.members, user)
		delete(m.userRoom, user)
		m.onEvent(Event{Kind: EventUserLeft, Room: roomName, User: user})
	}
	return true
}

// Mute silences user in room without removing them. Moderators and the
// creator may mute.
func (m *Manager) Mute(roomName, byUser, user string) bool {
	return m.setMuted(roomName, byUser, user, true)
}

// Unmute reverses Mute.
func (m *Manager) Unmute(roomName, byUser, user string) bool {
	return m.setMuted(roomName, byUser, user, false)
}

func (m *Manager) setMuted(roomName, byUser, user string, muted bool) bool {
	byUser = strings.ToUpper(byUser)
	user = strings.ToUpper(user)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok || !r.mayModerate(byUser) {
		return false
	}
	mem, ok := r.members[user]
	if !ok {
		return false
	}
	mem.muted = muted
	return true
}

// ErrRateLimited is returned by SendMessage when user has exceeded
// their message allowance within RateWindow.
var ErrRateLimited = fmt.Errorf("chat: rate limit exceeded")

// ErrMuted is returned by SendMessage when user is muted in the room.
var ErrMuted = fmt.Errorf("chat: user is muted")

// SendMessage posts text to roomName on behalf of user, subject to
// rate limiting and mute state.
func (m *Manager) SendMessage(roomName, user, text string, now time.Time) (Message, error) {
	user = strings.ToUpper(user)

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomName]
	if !ok {
		return Message{}, fmt.Errorf("chat: no such room %q", roomName)
	}
	if mem, ok := r.members[user]; ok && mem.muted {
		return Message{}, ErrMuted
	}
	if !m.allow(user, now) {
		return Message{}, ErrRateLimited
	}

	msg := Message{
		ID:        uuid.NewString(),
		Room:      roomName,
		Sender:    user,
		Text:      text,
		Timestamp: now,
	}
	r.appendHistory(msg, m.maxHistory)
	m.onEvent(Event{Kind: EventMessageSent, Room: roomName, User: user, Message: msg})
	return msg, nil
}

// allow applies the fixed-window rate limit. Must be called with
// m.mu held.
func (m *Manager) allow(user string, now time.Time) bool {
	st, ok := m.rates[user]
	if !ok || now.Sub(st.windowStart) >= RateWindow {
		m.rates[user] = &rateState{windowStart: now, count: 1}
		return true
	}
	if st.count >= m.rateLimit {
		return false
	}
	st.count++
	return true
}

// SendPrivate delivers a direct message from sender to recipient,
// bypassing room membership and rate-limited the same as room
// messages. Private messages aren't added to any room history.
func (m *Manager) SendPrivate(sender, recipient, text string, now time.Time) (Message, error) {
	sender = strings.ToUpper(sender)
	recipient = strings.ToUpper(recipient)

	m.mu.Lock()
	if !m.allow(sender, now) {
		m.mu.Unlock()
		return Message{}, ErrRateLimited
	}
	m.mu.Unlock()

	msg := Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		Timestamp: now,
	}
	m.onEvent(Event{Kind: EventPrivateMessage, User: sender, Recipient: recipient, Message: msg})
	return msg, nil
}

// DeliverSynced appends a message received from mesh chat sync
// directly into roomName's history, bypassing rate limiting and
// without emitting EventMessageSent; a synced message must not be
// re-published back to the mesh it just arrived from.
func (m *Manager) DeliverSynced(roomName string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok {
		r = newRoom(roomName, RoomOptions{Public: true})
		m.rooms[roomName] = r
	}
	r.appendHistory(msg, m.maxHistory)
}

// GetRoomHistory returns up to limit of the most recent messages in
// roomName, oldest first.
func (m *Manager) GetRoomHistory(roomName string, limit int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok {
		return nil
	}
	h := r.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]Message, len(h))
	copy(out, h)
	return out
}

// ListRooms returns every known room name.
func (m *Manager) ListRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		names = append(names, name)
	}
	return names
}

// Stats summarizes a room's live state.
type Stats struct {
	Room        string
	Topic       string
	Creator     string
	Persistent  bool
	MemberCount int
	HistoryLen  int
}

// GetStats returns Stats for roomName.
func (m *Manager) GetStats(roomName string) (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Room:        roomName,
		Topic:       r.topic,
		Creator:     r.creator,
		Persistent:  r.persistent,
		MemberCount: len(r.members),
		HistoryLen:  len(r.history),
	}, true
}

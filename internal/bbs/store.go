// Package bbs implements the APRS-message BBS: the message store
// with categories/priority/expiry, and the command-grammar session FSM
// layered on the AX.25 connected-mode session engine.
package bbs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/na7dx/packetnode/internal/persist"
)

// Category is the BBS message category.
type Category byte

const (
	CategoryPersonal  Category = 'P'
	CategoryBulletin  Category = 'B'
	CategoryTraffic   Category = 'T'
	CategoryEmergency Category = 'E'
	CategoryAnnounce  Category = 'A'
)

// Priority is the BBS message priority.
type Priority byte

const (
	PriorityHigh   Priority = 'H'
	PriorityNormal Priority = 'N'
	PriorityLow    Priority = 'L'
)

// DefaultExpiry returns the category's default time-to-live.
func DefaultExpiry(c Category) time.Duration {
	switch c {
	case CategoryPersonal:
		return 30 * 24 * time.Hour
	case CategoryBulletin:
		return 60 * 24 * time.Hour
	case CategoryTraffic:
		return 30 * 24 * time.Hour
	case CategoryEmergency:
		return 7 * 24 * time.Hour
	case CategoryAnnounce:
		return 90 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// Message is one stored BBS message.
type Message struct {
	Number    int
	Sender    string
	Recipient string
	Subject   string
	Content   string
	Category  Category
	Priority  Priority
	Tags      map[string]struct{}
	Timestamp time.Time
	ExpiresAt time.Time
	Read      bool
	ReadBy    map[string]struct{}
	Size      int
	ReplyTo   int // 0 means no reply-to
}

// NewMessageRequest is the caller-supplied content for AddMessage; the
// store assigns Number, Timestamp, and (if zero) ExpiresAt.
type NewMessageRequest struct {
	Sender    string
	Recipient string
	Subject   string
	Content   string
	Category  Category
	Priority  Priority
	ReplyTo   int
	ExpiresAt time.Time // zero selects the category default
}

// AlertFunc is invoked synchronously whenever a message is added, so
// the message alerter can emit its immediate "new message" alert.
type AlertFunc func(Message)

// Store is the BBS message store: single-writer mutations, concurrent
// reads, a monotonic messageNumber, and a debounced save to the
// persistence collaborator.
type Store struct {
	mu       sync.RWMutex
	messages map[int]*Message
	next     int

	persist     persist.Store
	saveDelay   time.Duration
	saveTimer   *time.Timer
	onAlert     AlertFunc
	onRetrieved func(base string)
}

// NewStore returns a Store backed by store (use internal/persist/memory
// for tests). onAlert may be nil.
func NewStore(store persist.Store, onAlert AlertFunc) *Store {
	if onAlert == nil {
		onAlert = func(Message) {}
	}
	return &Store{
		messages:    make(map[int]*Message),
		next:        1,
		persist:     store,
		saveDelay:   5 * time.Second,
		onAlert:     onAlert,
		onRetrieved: func(string) {},
	}
}

// SetOnRetrieved wires the callback invoked when a station reads one of
// its own personal messages. The message alerter resets that station's
// cool-down and burst counter here.
func (s *Store) SetOnRetrieved(fn func(base string)) {
	if fn == nil {
		fn = func(string) {}
	}
	s.mu.Lock()
	s.onRetrieved = fn
	s.mu.Unlock()
}

// persistedState is the JSON shape saved under persist.KeyBBS.
type persistedState struct {
	Messages []Message
	Next     int
}

// Load restores the store's state from its persistence collaborator at
// startup, then sweeps expired messages.
func (s *Store) Load(ctx context.Context) error {
	var state persistedState
	if err := s.persist.Load(ctx, persist.KeyBBS, &state); err != nil {
		if err == persist.ErrNotFound {
			return nil
		}
		return err
	}
	s.mu.Lock()
	for i := range state.Messages {
		m := state.Messages[i]
		s.messages[m.Number] = &m
	}
	if state.Next > s.next {
		s.next = state.Next
	}
	s.mu.Unlock()
	s.GC(time.Now())
	return nil
}

// scheduleSave debounces a save 5s after the last mutation, so every
// mutator returns with a save already scheduled. Must be called with
// s.mu held.
func (s *Store) scheduleSave() {
	if s.persist == nil {
		return
	}
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.saveDelay, s.flush)
}

func (s *Store) flush() {
	s.mu.RLock()
	state := persistedState{Next: s.next}
	for _, m := range s.messages {
		state.Messages = append(state.Messages, *m)
	}
	s.mu.RUnlock()
	_ = s.persist.Save(context.Background(), persist.KeyBBS, state)
}

// AddMessage assigns a message number and stores req, returning the
// assigned number.
func (s *Store) AddMessage(req NewMessageRequest) int {
	now := time.Now()
	s.GC(now)
	expires := req.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(DefaultExpiry(req.Category))
	}

	s.mu.Lock()
	n := s.next
	s.next++
	m := &Message{
		Number:    n,
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Content:   req.Content,
		Category:  req.Category,
		Priority:  req.Priority,
		ReplyTo:   req.ReplyTo,
		Tags:      make(map[string]struct{}),
		ReadBy:    make(map[string]struct{}),
		Timestamp: now,
		ExpiresAt: expires,
		Size:      len(req.Content),
	}
	s.messages[n] = m
	s.scheduleSave()
	s.mu.Unlock()

	s.onAlert(*m)
	return n
}

// MarkAsRead records reader in the message's readBy set and sets Read.
func (s *Store) MarkAsRead(number int, reader string) bool {
	s.mu.Lock()
	m, ok := s.messages[number]
	if !ok {
		s.mu.Unlock()
		return false
	}
	m.Read = true
	reader = strings.ToUpper(reader)
	m.ReadBy[reader] = struct{}{}
	readerBase, _, _ := strings.Cut(reader, "-")
	recipientBase, _, _ := strings.Cut(m.Recipient, "-")
	isPersonal := m.Category == CategoryPersonal && strings.EqualFold(readerBase, recipientBase)
	onRetrieved := s.onRetrieved
	s.scheduleSave()
	s.mu.Unlock()

	if isPersonal {
		onRetrieved(reader)
	}
	return true
}

// Delete removes a message by number.
func (s *Store) Delete(number int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[number]; !ok {
		return false
	}
	delete(s.messages, number)
	s.scheduleSave()
	return true
}

// Get returns a copy of a message by number.
func (s *Store) Get(number int) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[number]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// GC drops every message whose ExpiresAt is before now, returning how
// many were removed. Invoked at startup and on every add.
func (s *Store) GC(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for n, m := range s.messages {
		if now.After(m.ExpiresAt) {
			delete(s.messages, n)
			removed++
		}
	}
	if removed > 0 {
		s.scheduleSave()
	}
	return removed
}

// ListBulletins returns up to limit of the most recent category-B
// messages, newest first.
func (s *Store) ListBulletins(limit int) []Message {
	return s.listByFilter(limit, func(m *Message) bool { return m.Category == CategoryBulletin })
}

// ListPersonal returns personal messages addressed to any SSID of
// base (callsign-base equality), newest first.
func (s *Store) ListPersonal(base string, limit int) []Message {
	base = strings.ToUpper(base)
	return s.listByFilter(limit, func(m *Message) bool {
		if m.Category != CategoryPersonal {
			return false
		}
		recipientBase := m.Recipient
		if i := strings.IndexByte(recipientBase, '-'); i >= 0 {
			recipientBase = recipientBase[:i]
		}
		return strings.EqualFold(recipientBase, base)
	})
}

func (s *Store) listByFilter(limit int, keep func(*Message) bool) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UnreadSummary returns the unread personal-message count for every
// recipient base callsign that currently has at least one, for the
// alerter's periodic burst check.
func (s *Store) UnreadSummary() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, m := range s.messages {
		if m.Category != CategoryPersonal {
			continue
		}
		base := m.Recipient
		if i := strings.IndexByte(base, '-'); i >= 0 {
			base = base[:i]
		}
		base = strings.ToUpper(base)
		if _, read := m.ReadBy[base]; !read {
			out[base]++
		}
	}
	return out
}

// UnreadCountFor returns how many unread personal messages are
// addressed to base, for the Message Alerter.
func (s *Store) UnreadCountFor(base string) int {
	base = strings.ToUpper(base)
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.messages {
		if m.Category != CategoryPersonal {
			continue
		}
		recipientBase := m.Recipient
		if i := strings.IndexByte(recipientBase, '-'); i >= 0 {
			recipientBase = recipientBase[:i]
		}
		if strings.EqualFold(recipientBase, base) {
			if _, read := m.ReadBy[base]; !read {
				count++
			}
		}
	}
	return count
}

package bbs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/na7dx/packetnode/internal/persist"
)

// UserProfile is a station's captured BBS identity: its operator name
// and QTH, gathered once on first connect.
type UserProfile struct {
	Callsign  string
	Name      string
	QTH       string
	FirstSeen time.Time
}

// UserDirectory tracks which base callsigns have already been through
// the name/QTH capture flow, persisted under persist.KeyBBSUsers so a
// returning station is greeted, not re-interviewed, across restarts.
type UserDirectory struct {
	mu        sync.RWMutex
	users     map[string]UserProfile
	persist   persist.Store
	saveDelay time.Duration
	saveTimer *time.Timer
}

// NewUserDirectory returns a UserDirectory backed by store.
func NewUserDirectory(store persist.Store) *UserDirectory {
	return &UserDirectory{
		users:     make(map[string]UserProfile),
		persist:   store,
		saveDelay: 5 * time.Second,
	}
}

// Load restores the directory from its persistence collaborator.
func (d *UserDirectory) Load(ctx context.Context) error {
	var users []UserProfile
	if err := d.persist.Load(ctx, persist.KeyBBSUsers, &users); err != nil {
		if err == persist.ErrNotFound {
			return nil
		}
		return err
	}
	d.mu.Lock()
	for _, u := range users {
		d.users[u.Callsign] = u
	}
	d.mu.Unlock()
	return nil
}

// Known reports whether base has completed profile capture before.
func (d *UserDirectory) Known(base string) (UserProfile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[strings.ToUpper(base)]
	return u, ok
}

// Record stores a freshly-captured profile and schedules a debounced
// save, mirroring Store's own save cadence.
func (d *UserDirectory) Record(base, name, qth string, now time.Time) {
	base = strings.ToUpper(base)
	d.mu.Lock()
	d.users[base] = UserProfile{Callsign: base, Name: name, QTH: qth, FirstSeen: now}
	d.scheduleSave()
	d.mu.Unlock()
}

// scheduleSave must be called with d.mu held.
func (d *UserDirectory) scheduleSave() {
	if d.persist == nil {
		return
	}
	if d.saveTimer != nil {
		d.saveTimer.Stop()
	}
	d.saveTimer = time.AfterFunc(d.saveDelay, d.flush)
}

func (d *UserDirectory) flush() {
	d.mu.RLock()
	users := make([]UserProfile, 0, len(d.users))
	for _, u := range d.users {
		users = append(users, u)
	}
	d.mu.RUnlock()
	_ = d.persist.Save(context.Background(), persist.KeyBBSUsers, users)
}

package presence

import (
	"sync"
	"time"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
)

// OfflineFunc is invoked exactly once when a user's last connection is gone
// and the debounce window elapsed without a reconnect.
type OfflineFunc func(userID, email string)

type entry struct {
	email        string
	conns        map[string]struct{}
	lastSeen     time.Time
	offlineTimer *time.Timer
}

// Registry tracks which users hold live connections. A user is online iff its
// connection set is non-empty. Rebuilt from scratch on process restart.
type Registry struct {
	mu        sync.Mutex
	users     map[string]*entry
	debounce  time.Duration
	onOffline OfflineFunc
	sink      Sink
	log       *logging.Logger
}

func NewRegistry(debounce time.Duration, sink Sink, log *logging.Logger) *Registry {
	return &Registry{
		users:    make(map[string]*entry),
		debounce: debounce,
		sink:     sink,
		log:      log.With("component", "presence"),
	}
}

// OnOffline sets the offline broadcast hook. Must be called before the first
// connection is registered.
func (r *Registry) OnOffline(fn OfflineFunc) { r.onOffline = fn }

// Connect attributes a connection to a user and reports whether the user just
// came online. A pending offline debounce for the user is cancelled, so rapid
// reconnects produce no offline event.
func (r *Registry) Connect(userID, email, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		e = &entry{email: email, conns: make(map[string]struct{})}
		r.users[userID] = e
	}
	if e.offlineTimer != nil {
		e.offlineTimer.Stop()
		e.offlineTimer = nil
	}
	cameOnline := len(e.conns) == 0
	e.conns[connID] = struct{}{}
	e.lastSeen = time.Now()

	if cameOnline && r.sink != nil {
		go r.sink.Online(userID, email)
	}
	return cameOnline
}

// Disconnect removes a connection attribution. When it was the user's last
// connection the offline transition is scheduled after the debounce window.
func (r *Registry) Disconnect(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		return
	}
	delete(e.conns, connID)
	e.lastSeen = time.Now()
	if len(e.conns) > 0 {
		return
	}

	email := e.email
	e.offlineTimer = time.AfterFunc(r.debounce, func() {
		r.markOffline(userID, email)
	})
}

func (r *Registry) markOffline(userID, email string) {
	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok || len(e.conns) > 0 {
		r.mu.Unlock()
		return
	}
	lastSeen := e.lastSeen
	delete(r.users, userID)
	r.mu.Unlock()

	r.log.Info("user offline", "user_id", userID)
	if r.sink != nil {
		go r.sink.Offline(userID, email, lastSeen)
	}
	if r.onOffline != nil {
		r.onOffline(userID, email)
	}
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[userID]
	return ok && len(e.conns) > 0
}

// OnlineEmails lists the emails of every currently-online user.
func (r *Registry) OnlineEmails() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.users))
	for _, e := range r.users {
		if len(e.conns) > 0 {
			out = append(out, e.email)
		}
	}
	return out
}

func (r *Registry) LastSeen(userID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[userID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

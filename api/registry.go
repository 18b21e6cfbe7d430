package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/identity"
	"boardsync/store"
)

// StoreFactory builds the store that serves one signed-in session.
type StoreFactory func(sess *identity.Session) (*store.Store, error)

type sessionEntry struct {
	session  *identity.Session
	store    *store.Store
	lastUsed time.Time
}

// Registry owns one session and one Store per signed-in phone number.
type Registry struct {
	newStore StoreFactory
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(newStore StoreFactory, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{
		newStore: newStore,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]*sessionEntry),
	}
}

// Acquire returns the store for phone, creating it on first use. The
// session's token is refreshed on every call.
func (r *Registry) Acquire(phone, token string) (*store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, store.ErrClosed
	}
	if e, ok := r.entries[phone]; ok {
		if e.session.Token() != token {
			e.session.SignIn(domain.User{PhoneNumber: phone}, token)
		}
		e.lastUsed = r.now()
		return e.store, nil
	}

	sess := identity.NewSession()
	sess.SignIn(domain.User{PhoneNumber: phone}, token)
	st, err := r.newStore(sess)
	if err != nil {
		return nil, err
	}
	r.entries[phone] = &sessionEntry{session: sess, store: st, lastUsed: r.now()}
	r.logger.WithField("phone", phone).Info("session.opened")
	return st, nil
}

// Touch marks phone's session as in use, keeping it from idle eviction.
func (r *Registry) Touch(phone string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[phone]; ok {
		e.lastUsed = r.now()
	}
}

// Drop signs phone out and stops its store.
func (r *Registry) Drop(phone string) bool {
	r.mu.Lock()
	e, ok := r.entries[phone]
	delete(r.entries, phone)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.session.SignOut()
	e.store.Close()
	r.logger.WithField("phone", phone).Info("session.closed")
	return true
}

// Evict closes every session unused for longer than idle and reports how
// many were closed.
func (r *Registry) Evict(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	var stale []*sessionEntry
	for phone, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			stale = append(stale, e)
			delete(r.entries, phone)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		phone := e.session.PhoneNumber()
		e.session.SignOut()
		e.store.Close()
		r.logger.WithField("phone", phone).Info("session.evicted")
	}
	return len(stale)
}

// EvictIdle runs Evict every interval until ctx ends.
func (r *Registry) EvictIdle(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.Evict(idle); n > 0 {
				r.logger.WithField("evicted", n).Debug("session.sweep")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops every store. Later Acquire calls fail with store.ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*sessionEntry)
	r.closed = true
	r.mu.Unlock()
	for _, e := range entries {
		e.session.SignOut()
		e.store.Close()
	}
}

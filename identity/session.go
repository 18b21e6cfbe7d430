// Package identity holds who is signed in and how they got there: the
// per-user session, the phone one-time-code provider and the ID token
// verifier.
package identity

import (
	"strings"
	"sync"

	"boardsync/domain"
)

// Session is the identity context for one signed-in user. It is safe for
// concurrent use.
type Session struct {
	mu    sync.RWMutex
	phone string
	token string
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{}
}

// PhoneNumber returns the signed-in phone number, or "" when signed out.
func (s *Session) PhoneNumber() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phone
}

// Token returns the current ID token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SignedIn reports whether a phone number is attached to the session.
func (s *Session) SignedIn() bool {
	return s.PhoneNumber() != ""
}

// SignIn attaches user and its ID token to the session.
func (s *Session) SignIn(user domain.User, token string) {
	s.mu.Lock()
	s.phone = strings.TrimSpace(user.PhoneNumber)
	s.token = token
	s.mu.Unlock()
}

// SignOut forgets the user and the token.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.phone = ""
	s.token = ""
	s.mu.Unlock()
}

package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SessionKeeper holds a session for a service account, logging in again
// once the session is older than ttl or after Invalidate.
type SessionKeeper struct {
	client   *Client
	username string
	password string
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	session  string
	obtained time.Time
}

// NewSessionKeeper creates a keeper for username. A non-positive ttl means
// the session is reused until invalidated.
func NewSessionKeeper(client *Client, username, password string, ttl time.Duration) *SessionKeeper {
	return &SessionKeeper{
		client:   client,
		username: strings.TrimSpace(username),
		password: password,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Credential returns a live session credential, logging in when needed.
func (k *SessionKeeper) Credential(ctx context.Context) (Credential, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.session != "" && (k.ttl <= 0 || k.now().Sub(k.obtained) < k.ttl) {
		return Session(k.session), nil
	}
	res := k.client.Login(ctx, k.username, k.password)
	if !res.OK {
		return Credential{}, fmt.Errorf("login %s: %s", k.username, res.ErrorMessage)
	}
	session, ok := String(res.Data, SessionIDFields)
	if !ok || session == "" {
		return Credential{}, fmt.Errorf("login %s: no session in response", k.username)
	}
	k.session = session
	k.obtained = k.now()
	return Session(session), nil
}

// Invalidate drops the cached session so the next Credential logs in.
func (k *SessionKeeper) Invalidate() {
	k.mu.Lock()
	k.session = ""
	k.mu.Unlock()
}

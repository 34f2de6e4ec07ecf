// Package accounts persists one record per canonical chat identity together
// with the alias table that maps raw transport addresses onto it.
package accounts

import (
	"time"
)

// DefaultSessionTTL is used when neither the record nor the caller provides a lifetime.
const DefaultSessionTTL = 24 * time.Hour

// Account is the ledger credential state bound to one canonical identity.
type Account struct {
	CanonicalID string        `yaml:"canonical_id" json:"canonical_id"`
	Login       string        `yaml:"login,omitempty" json:"login,omitempty"`
	UserID      string        `yaml:"user_id,omitempty" json:"user_id,omitempty"`
	SessionID   string        `yaml:"session_id,omitempty" json:"session_id,omitempty"`
	Card        string        `yaml:"card,omitempty" json:"card,omitempty"`
	LoginTime   time.Time     `yaml:"login_time,omitempty" json:"login_time,omitempty"`
	SessionTTL  time.Duration `yaml:"session_ttl,omitempty" json:"session_ttl,omitempty"`
	CreatedAt   time.Time     `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt   time.Time     `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// TTL returns the record's session lifetime, falling back to def and then DefaultSessionTTL.
func (a Account) TTL(def time.Duration) time.Duration {
	if a.SessionTTL > 0 {
		return a.SessionTTL
	}
	if def > 0 {
		return def
	}
	return DefaultSessionTTL
}

// SessionExpired reports whether the session lifetime has elapsed at now.
// A session is expired once exactly TTL has passed since LoginTime.
func (a Account) SessionExpired(now time.Time, def time.Duration) bool {
	if a.LoginTime.IsZero() {
		return true
	}
	return now.Sub(a.LoginTime) >= a.TTL(def)
}

// SessionUsable reports whether the record can authenticate session commands.
func (a Account) SessionUsable(now time.Time, def time.Duration) bool {
	return a.SessionID != "" && !a.SessionExpired(now, def)
}

// CardUsable reports whether the record can authenticate card commands. Cards never expire.
func (a Account) CardUsable() bool {
	return a.Card != ""
}

// Field names a clearable account attribute.
type Field string

const (
	FieldLogin      Field = "login"
	FieldUserID     Field = "user_id"
	FieldSessionID  Field = "session_id"
	FieldCard       Field = "card"
	FieldLoginTime  Field = "login_time"
	FieldSessionTTL Field = "session_ttl"
)

// Patch is a partial update. Nil fields keep the stored value, set fields
// overwrite it, and fields listed in Clear are reset to their zero value.
// Clear wins over a set field of the same name.
//
// IfSessionID and IfLoginTime make the patch conditional: stores evaluate
// them against the current record inside their per-id critical section and
// leave the record untouched when either differs.
type Patch struct {
	Login      *string
	UserID     *string
	SessionID  *string
	Card       *string
	LoginTime  *time.Time
	SessionTTL *time.Duration
	Clear      []Field

	IfSessionID *string
	IfLoginTime *time.Time
}

// Ptr returns a pointer to v, for building patches inline.
func Ptr[T any](v T) *T {
	return &v
}

// ClearSession is the patch applied when a session is found expired or revoked.
func ClearSession() Patch {
	return Patch{Clear: []Field{FieldSessionID, FieldLoginTime}}
}

// ClearStaleSession clears the session seen in acc, but only if the stored
// record still carries that same session. A login that lands in between wins.
func ClearStaleSession(acc Account) Patch {
	p := ClearSession()
	p.IfSessionID = Ptr(acc.SessionID)
	p.IfLoginTime = Ptr(acc.LoginTime)
	return p
}

// Matches reports whether the patch's conditions hold for a.
func (p Patch) Matches(a Account) bool {
	if p.IfSessionID != nil && a.SessionID != *p.IfSessionID {
		return false
	}
	if p.IfLoginTime != nil && !a.LoginTime.Equal(*p.IfLoginTime) {
		return false
	}
	return true
}

// Apply overlays the patch on a and returns the result. Identity and timestamps
// are left to the store.
func (p Patch) Apply(a Account) Account {
	if p.Login != nil {
		a.Login = *p.Login
	}
	if p.UserID != nil {
		a.UserID = *p.UserID
	}
	if p.SessionID != nil {
		a.SessionID = *p.SessionID
	}
	if p.Card != nil {
		a.Card = *p.Card
	}
	if p.LoginTime != nil {
		a.LoginTime = *p.LoginTime
	}
	if p.SessionTTL != nil {
		a.SessionTTL = *p.SessionTTL
	}
	for _, field := range p.Clear {
		switch field {
		case FieldLogin:
			a.Login = ""
		case FieldUserID:
			a.UserID = ""
		case FieldSessionID:
			a.SessionID = ""
		case FieldCard:
			a.Card = ""
		case FieldLoginTime:
			a.LoginTime = time.Time{}
		case FieldSessionTTL:
			a.SessionTTL = 0
		}
	}
	return a
}


package ledger

import (
	"errors"
	"strings"
)

// ErrNoCredential is returned when an operation needs a credential and none is set.
var ErrNoCredential = errors.New("ledger credential is required")

// CredentialKind selects how a credential is attached to a request.
type CredentialKind string

const (
	CredentialNone    CredentialKind = ""
	CredentialSession CredentialKind = "session"
	CredentialCard    CredentialKind = "card"
)

// Credential authenticates a ledger call. Session tokens travel as a bearer
// header; card codes travel in the request body (query on GET).
type Credential struct {
	Kind  CredentialKind `json:"kind"`
	Token string         `json:"token"`
}

// Session returns a bearer credential.
func Session(token string) Credential {
	return Credential{Kind: CredentialSession, Token: strings.TrimSpace(token)}
}

// Card returns a card-code credential.
func Card(code string) Credential {
	return Credential{Kind: CredentialCard, Token: strings.TrimSpace(code)}
}

// IsZero reports whether the credential carries no token.
func (c Credential) IsZero() bool {
	return c.Kind == CredentialNone || c.Token == ""
}

// IsCard reports whether the credential uses the card endpoint family.
func (c Credential) IsCard() bool {
	return c.Kind == CredentialCard
}

// Destination is the receiving side of a transfer: a ledger user id or a card code.
type Destination struct {
	UserID string `json:"user_id,omitempty"`
	Card   string `json:"card,omitempty"`
}

// ToUser addresses a ledger user id.
func ToUser(id string) Destination { return Destination{UserID: strings.TrimSpace(id)} }

// ToCard addresses a card code.
func ToCard(code string) Destination { return Destination{Card: strings.TrimSpace(code)} }

// IsZero reports whether no destination is set.
func (d Destination) IsZero() bool {
	return d.UserID == "" && d.Card == ""
}

// String renders the destination for replies and logs.
func (d Destination) String() string {
	if d.Card != "" {
		return d.Card
	}
	return d.UserID
}

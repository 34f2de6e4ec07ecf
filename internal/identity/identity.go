// Package identity maps transport sender addresses onto canonical account ids.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"github.com/memohai/coinbot/internal/accounts"
)

// MinPhoneDigits is the shortest digit run treated as a phone-like identity.
// Shorter runs fall back to the bare token so usernames keep their own key.
const MinPhoneDigits = 6

// Normalize returns the canonical id for a raw transport address. The domain
// suffix (after '@') and the device suffix (after ':') are dropped and only
// digits are kept. If fewer than MinPhoneDigits digits remain, the bare token
// is returned verbatim.
func Normalize(raw string) string {
	bare := localPart(raw)
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, bare)
	if len(digits) >= MinPhoneDigits {
		return digits
	}
	return bare
}

// localPart strips the domain and device suffixes from raw.
func localPart(raw string) string {
	bare := strings.TrimSpace(raw)
	if i := strings.IndexByte(bare, '@'); i >= 0 {
		bare = bare[:i]
	}
	if i := strings.IndexByte(bare, ':'); i >= 0 {
		bare = bare[:i]
	}
	return strings.TrimSpace(bare)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Address builds the transport address for a subject on a channel.
func Address(channelType, subjectID string) string {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return ""
	}
	return subjectID + "@" + strings.ToLower(strings.TrimSpace(channelType))
}

// MentionAddress synthesizes the address an @token mention refers to.
func MentionAddress(channelType, token string) string {
	token = strings.TrimLeftFunc(strings.TrimSpace(token), func(r rune) bool {
		return r == '@' || unicode.IsSpace(r)
	})
	if token == "" {
		return ""
	}
	return Address(channelType, strings.ToLower(token))
}

// Variants lists every address a sender presents: the subject address and,
// when known, the username mention address.
func Variants(channelType, subjectID, username string) []string {
	out := make([]string, 0, 2)
	if addr := Address(channelType, subjectID); addr != "" {
		out = append(out, addr)
	}
	if addr := MentionAddress(channelType, username); addr != "" && !containsString(out, addr) {
		out = append(out, addr)
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Resolver finds accounts for raw addresses through the store and its alias table.
type Resolver struct {
	store  accounts.Store
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by store.
func NewResolver(log *slog.Logger, store accounts.Store) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		store:  store,
		logger: log.With(slog.String("component", "identity")),
	}
}

// ResolveAccount returns the account for raw, or accounts.ErrNotFound.
// Lookup order: canonical id, legacy raw-key record, alias table.
// Other errors come from the store and are returned as is.
func (r *Resolver) ResolveAccount(ctx context.Context, raw string) (accounts.Account, error) {
	raw = strings.TrimSpace(raw)
	id := Normalize(raw)
	if id == "" {
		return accounts.Account{}, accounts.ErrNotFound
	}
	acc, err := r.store.Get(ctx, id)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, accounts.ErrNotFound) {
		return accounts.Account{}, err
	}
	if migrator, ok := r.store.(accounts.LegacyMigrator); ok && raw != id {
		acc, err := migrator.MigrateLegacy(ctx, raw, id)
		if err == nil {
			return acc, nil
		}
		if !errors.Is(err, accounts.ErrNotFound) {
			return accounts.Account{}, err
		}
	}
	owner, err := r.store.LookupAlias(ctx, raw)
	if err != nil {
		return accounts.Account{}, err
	}
	acc, err = r.store.Get(ctx, owner)
	if errors.Is(err, accounts.ErrNotFound) {
		r.logger.Warn("alias points at missing account", slog.String("variant", raw), slog.String("id", owner))
	}
	return acc, err
}

// ResolveMention resolves an @token argument on a channel. The token is
// first looked up verbatim in the alias table, so a handle that merely
// contains digits never lands on the account those digits belong to. Only an
// all-digit token is then tried as a subject id.
func (r *Resolver) ResolveMention(ctx context.Context, channelType, token string) (accounts.Account, error) {
	addr := MentionAddress(channelType, token)
	if addr == "" {
		return accounts.Account{}, accounts.ErrNotFound
	}
	owner, err := r.store.LookupAlias(ctx, addr)
	switch {
	case err == nil:
		acc, err := r.store.Get(ctx, owner)
		if errors.Is(err, accounts.ErrNotFound) {
			r.logger.Warn("alias points at missing account", slog.String("variant", addr), slog.String("id", owner))
		}
		return acc, err
	case !errors.Is(err, accounts.ErrNotFound):
		return accounts.Account{}, err
	}
	if subject := localPart(addr); isDigits(subject) {
		return r.ResolveAccount(ctx, addr)
	}
	return accounts.Account{}, accounts.ErrNotFound
}

// RememberVariants maps every variant onto the account id, except the
// subject address whose local part already is id.
func (r *Resolver) RememberVariants(ctx context.Context, id string, variants ...string) error {
	var errs []error
	for _, variant := range variants {
		variant = strings.TrimSpace(variant)
		if variant == "" || localPart(variant) == id {
			continue
		}
		if err := r.store.RegisterAlias(ctx, id, variant); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

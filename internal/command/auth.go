package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/coinbot/internal/accounts"
	"github.com/memohai/coinbot/internal/identity"
	"github.com/memohai/coinbot/internal/ledger"
)

func (r *Router) cardMode() bool {
	return r.cfg.AuthMode == AuthCard
}

func (r *Router) loginHint() string {
	if r.cardMode() {
		return textCardFirst
	}
	return textLoginFirst
}

// requireAccount resolves the sender's account and its credential for the
// configured auth mode. An expired session is cleared before the
// re-login instruction is returned.
func (r *Router) requireAccount(ctx context.Context, inv *invocation) (accounts.Account, ledger.Credential, error) {
	acc, err := r.resolver.ResolveAccount(ctx, inv.sender)
	if errors.Is(err, accounts.ErrNotFound) {
		return accounts.Account{}, ledger.Credential{}, authRequired(r.loginHint())
	}
	if err != nil {
		return accounts.Account{}, ledger.Credential{}, fmt.Errorf("resolve account: %w", err)
	}

	if r.cardMode() {
		if !acc.CardUsable() {
			return accounts.Account{}, ledger.Credential{}, authRequired(textCardFirst)
		}
		r.remember(ctx, acc.CanonicalID, inv)
		return acc, ledger.Card(acc.Card), nil
	}

	if acc.SessionID == "" || acc.UserID == "" {
		return accounts.Account{}, ledger.Credential{}, authRequired(textLoginFirst)
	}
	if acc.SessionExpired(r.now(), r.cfg.SessionTTL) {
		if _, err := r.store.Merge(ctx, acc.CanonicalID, accounts.ClearStaleSession(acc)); err != nil {
			r.logger.Warn("clear expired session failed", slog.String("id", acc.CanonicalID), slog.Any("error", err))
		}
		return accounts.Account{}, ledger.Credential{}, authRequired(textSessionExpired)
	}
	r.remember(ctx, acc.CanonicalID, inv)
	return acc, ledger.Session(acc.SessionID), nil
}

// optionalCredential returns the sender's credential when one is usable, or
// the zero credential for public endpoints.
func (r *Router) optionalCredential(ctx context.Context, inv *invocation) ledger.Credential {
	acc, err := r.resolver.ResolveAccount(ctx, inv.sender)
	if err != nil {
		return ledger.Credential{}
	}
	if r.cardMode() {
		if acc.CardUsable() {
			return ledger.Card(acc.Card)
		}
		return ledger.Credential{}
	}
	if acc.SessionUsable(r.now(), r.cfg.SessionTTL) {
		return ledger.Session(acc.SessionID)
	}
	return ledger.Credential{}
}

// remember records the sender's address variants as aliases of id.
func (r *Router) remember(ctx context.Context, id string, inv *invocation) {
	if err := r.resolver.RememberVariants(ctx, id, inv.variants...); err != nil {
		r.logger.Warn("alias registration failed", slog.String("id", id), slog.Any("error", err))
	}
}

// senderID is the canonical account id of the invocation's author.
func senderID(inv *invocation) string {
	return identity.Normalize(inv.sender)
}

// mentionToken extracts the handle or subject id from "@name", "<@123>" or "<@!123>".
func mentionToken(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "<@") && strings.HasSuffix(arg, ">") {
		inner := strings.TrimPrefix(arg[2:len(arg)-1], "!")
		return inner, inner != ""
	}
	if strings.HasPrefix(arg, "@") && len(arg) > 1 {
		return arg[1:], true
	}
	return "", false
}

// resolveMention returns the account behind a mention argument. A mention
// nobody has logged in as yields notFound as a user-facing reply.
func (r *Router) resolveMention(ctx context.Context, inv *invocation, token, notFound string) (accounts.Account, error) {
	acc, err := r.resolver.ResolveMention(ctx, inv.channel.String(), token)
	if errors.Is(err, accounts.ErrNotFound) {
		return accounts.Account{}, userInput(notFound)
	}
	if err != nil {
		return accounts.Account{}, fmt.Errorf("resolve mention: %w", err)
	}
	return acc, nil
}

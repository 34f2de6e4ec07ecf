package ledger

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Endpoint helpers. Each picks the session or card family from the credential.

func unsupported(op string) Result {
	return Result{ErrorMessage: op + " is not available with card credentials"}
}

func missingCredential() Result {
	return Result{ErrorMessage: ErrNoCredential.Error()}
}

// Login exchanges a username and password for a session.
func (c *Client) Login(ctx context.Context, username, password string) Result {
	return c.Call(ctx, Credential{}, http.MethodPost, "/api/login", map[string]any{
		"username": username,
		"password": password,
	})
}

// Register creates a ledger account.
func (c *Client) Register(ctx context.Context, username, password string) Result {
	return c.Call(ctx, Credential{}, http.MethodPost, "/api/register", map[string]any{
		"username": username,
		"password": password,
	})
}

// Balance reads the balance of userID (session) or of the card itself (card).
func (c *Client) Balance(ctx context.Context, cred Credential, userID string) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	if cred.IsCard() {
		return c.Call(ctx, cred, http.MethodPost, "/api/card/info", nil)
	}
	return c.Call(ctx, cred, http.MethodGet, "/api/user/"+url.PathEscape(strings.TrimSpace(userID))+"/balance", nil)
}

// Transfer moves amount from the credential's account to dest.
func (c *Client) Transfer(ctx context.Context, cred Credential, dest Destination, amount float64) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	payload := map[string]any{"amount": amount}
	if dest.Card != "" {
		payload["toCard"] = dest.Card
	} else {
		payload["toId"] = dest.UserID
	}
	if cred.IsCard() {
		return c.Call(ctx, cred, http.MethodPost, "/api/card/pay", payload)
	}
	return c.Call(ctx, cred, http.MethodPost, "/api/transfer", payload)
}

// Claim collects the periodic reward.
func (c *Client) Claim(ctx context.Context, cred Credential) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	if cred.IsCard() {
		return c.Call(ctx, cred, http.MethodPost, "/api/card/claim", nil)
	}
	return c.Call(ctx, cred, http.MethodPost, "/api/claim", nil)
}

// ClaimStatus reports the remaining claim cooldown.
func (c *Client) ClaimStatus(ctx context.Context, cred Credential) Result {
	return c.Call(ctx, cred, http.MethodGet, "/api/claim/status", nil)
}

// IssueCard returns the session user's card code, creating one if needed.
func (c *Client) IssueCard(ctx context.Context, cred Credential) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	if cred.IsCard() {
		return unsupported("card issue")
	}
	return c.Call(ctx, cred, http.MethodPost, "/api/card", nil)
}

// CardInfo reads the card bound to cred.
func (c *Client) CardInfo(ctx context.Context, cred Credential) Result {
	if !cred.IsCard() || cred.IsZero() {
		return missingCredential()
	}
	return c.Call(ctx, cred, http.MethodPost, "/api/card/info", nil)
}

// ResetCard replaces the card code.
func (c *Client) ResetCard(ctx context.Context, cred Credential) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	return c.Call(ctx, cred, http.MethodPost, "/api/card/reset", nil)
}

// BillCreate invoices toID. fromID is only sent on the session family.
func (c *Client) BillCreate(ctx context.Context, cred Credential, fromID, toID string, amount float64, expires string) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	payload := map[string]any{"toId": toID, "amount": amount}
	if expires != "" {
		payload["time"] = expires
	}
	if cred.IsCard() {
		return c.Call(ctx, cred, http.MethodPost, "/api/bill/create/card", payload)
	}
	payload["fromId"] = fromID
	return c.Call(ctx, cred, http.MethodPost, "/api/bill/create", payload)
}

// BillList returns bills to pay and to receive for page.
func (c *Client) BillList(ctx context.Context, cred Credential, page int) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	payload := map[string]any{"page": page}
	if cred.IsCard() {
		return c.Call(ctx, cred, http.MethodPost, "/api/bill/list/card", payload)
	}
	return c.Call(ctx, cred, http.MethodPost, "/api/bill/list", payload)
}

// BillPay settles billID.
func (c *Client) BillPay(ctx context.Context, cred Credential, billID string) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	payload := map[string]any{"billId": billID}
	if cred.IsCard() {
		return c.Call(ctx, cred, http.MethodPost, "/api/bill/pay/card", payload)
	}
	return c.Call(ctx, cred, http.MethodPost, "/api/bill/pay", payload)
}

// BackupCreate makes sure recovery codes exist.
func (c *Client) BackupCreate(ctx context.Context, cred Credential) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	return c.Call(ctx, cred, http.MethodPost, "/api/backup/create", nil)
}

// BackupList returns the recovery codes.
func (c *Client) BackupList(ctx context.Context, cred Credential) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	return c.Call(ctx, cred, http.MethodPost, "/api/backup/list", nil)
}

// BackupRestore redeems a recovery code.
func (c *Client) BackupRestore(ctx context.Context, cred Credential, code string) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	return c.Call(ctx, cred, http.MethodPost, "/api/backup/restore", map[string]any{"backupId": code})
}

// Transactions returns one page of the session user's history.
func (c *Client) Transactions(ctx context.Context, cred Credential, page int) Result {
	if cred.IsZero() {
		return missingCredential()
	}
	if cred.IsCard() {
		return unsupported("history")
	}
	return c.Call(ctx, cred, http.MethodGet, "/api/transactions", map[string]any{"page": page})
}

// Rank returns the global ranking.
func (c *Client) Rank(ctx context.Context, cred Credential) Result {
	return c.Call(ctx, cred, http.MethodGet, "/api/rank", nil)
}

// TotalUsers returns the number of ledger accounts.
func (c *Client) TotalUsers(ctx context.Context, cred Credential) Result {
	return c.Call(ctx, cred, http.MethodGet, "/api/totalusers", nil)
}

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/coinbot/internal/accounts"
	"github.com/memohai/coinbot/internal/ledger"
)

func (r *Router) handleLogin(ctx context.Context, inv *invocation) (string, error) {
	if r.cardMode() {
		return textCardModeLogin, nil
	}
	if len(inv.args) < 2 {
		return "", userInput(textLoginUsage)
	}
	username, password := inv.args[0], inv.args[1]

	res := r.ledger.Login(ctx, username, password)
	if !res.OK {
		return "", remoteError("Erro ao tentar logar", res)
	}
	sessionID, _ := ledger.String(res.Data, ledger.SessionIDFields)
	userID, _ := ledger.String(res.Data, ledger.UserIDFields)
	if sessionID == "" || userID == "" {
		return "", userInput(textLoginFailed)
	}

	now := r.now().UTC()
	acc, err := r.store.Merge(ctx, senderID(inv), accounts.Patch{
		Login:     &username,
		UserID:    &userID,
		SessionID: &sessionID,
		LoginTime: &now,
	})
	if err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	r.remember(ctx, acc.CanonicalID, inv)

	reply := "✅ Logado como *" + username + "*"
	if bal := r.ledger.Balance(ctx, ledger.Session(sessionID), userID); bal.OK {
		if v, ok := ledger.Number(bal.Data, ledger.BalanceFields); ok {
			reply += "\n💰 Saldo: *" + ledger.FormatAmount(v) + "* coins"
		}
	}
	return reply, nil
}

func (r *Router) handleRegister(ctx context.Context, inv *invocation) (string, error) {
	if len(inv.args) < 2 {
		return "", userInput(textRegisterUsage)
	}
	username, password := inv.args[0], inv.args[1]
	res := r.ledger.Register(ctx, username, password)
	if !res.OK {
		return "", remoteError("Erro ao registrar", res)
	}
	if msg, ok := ledger.String(res.Data, []string{"error"}); ok {
		return "", &RemoteError{Action: "Erro ao registrar", Message: msg, StatusCode: res.StatusCode}
	}
	userID, ok := ledger.String(res.Data, ledger.UserIDFields)
	if !ok {
		userID = "?"
	}
	return "✅ Conta registrada com sucesso!\n\n" +
		"👤 Usuário: *" + username + "*\n" +
		"🆔 ID: " + userID + "\n\n" +
		"Agora faça login usando: `!login " + username + " <senha>`", nil
}

func (r *Router) handleLogout(ctx context.Context, inv *invocation) (string, error) {
	acc, err := r.resolver.ResolveAccount(ctx, inv.sender)
	if errors.Is(err, accounts.ErrNotFound) {
		return textNotLinked, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve account: %w", err)
	}
	if err := r.store.Remove(ctx, acc.CanonicalID); err != nil && !errors.Is(err, accounts.ErrNotFound) {
		return "", fmt.Errorf("remove account: %w", err)
	}
	return textLoggedOut, nil
}

func (r *Router) handleCard(ctx context.Context, inv *invocation) (string, error) {
	sub := ""
	if len(inv.args) > 0 {
		sub = strings.ToLower(inv.args[0])
	}
	if r.cardMode() && sub != "" && sub != "reset" {
		return r.bindCard(ctx, inv, inv.args[0])
	}

	acc, cred, err := r.requireAccount(ctx, inv)
	if err != nil {
		return "", err
	}
	if sub == "reset" {
		res := r.ledger.ResetCard(ctx, cred)
		if !res.OK {
			return "", remoteError("Erro ao resetar card", res)
		}
		code, ok := ledger.String(res.Data, ledger.CardCodeFields)
		if !ok {
			return "", &RemoteError{Action: "Erro ao resetar card", Message: "resposta sem código", StatusCode: res.StatusCode}
		}
		r.saveCard(ctx, acc.CanonicalID, code)
		return "🔁 Novo card gerado:\n`" + code + "`", nil
	}

	if r.cardMode() {
		return "💳 Seu card:\n`" + acc.Card + "`", nil
	}
	res := r.ledger.IssueCard(ctx, cred)
	if !res.OK {
		return "", remoteError("Erro ao obter card", res)
	}
	code, ok := ledger.String(res.Data, ledger.CardCodeFields)
	if !ok {
		return "", &RemoteError{Action: "Erro ao obter card", Message: "resposta sem código", StatusCode: res.StatusCode}
	}
	r.saveCard(ctx, acc.CanonicalID, code)
	return "💳 Seu card:\n`" + code + "`", nil
}

// bindCard links an existing card to the sender after the ledger confirms it.
func (r *Router) bindCard(ctx context.Context, inv *invocation, code string) (string, error) {
	code = strings.TrimSpace(code)
	if !isHexCode(code) {
		return "", userInput(textInvalidCard)
	}
	res := r.ledger.CardInfo(ctx, ledger.Card(code))
	if !res.OK {
		return "", remoteError("Erro ao validar card", res)
	}
	now := r.now().UTC()
	patch := accounts.Patch{Card: &code, LoginTime: &now}
	if userID, ok := ledger.String(res.Data, ledger.UserIDFields); ok {
		patch.UserID = &userID
	}
	if login, ok := ledger.String(res.Data, ledger.UsernameFields); ok {
		patch.Login = &login
	}
	acc, err := r.store.Merge(ctx, senderID(inv), patch)
	if err != nil {
		return "", fmt.Errorf("save card: %w", err)
	}
	r.remember(ctx, acc.CanonicalID, inv)

	reply := "💳 Card vinculado!"
	if v, ok := ledger.Number(res.Data, ledger.BalanceFields); ok {
		reply += "\n💰 Saldo: *" + ledger.FormatAmount(v) + "* coins"
	}
	return reply, nil
}

func (r *Router) saveCard(ctx context.Context, id, code string) {
	if _, err := r.store.Merge(ctx, id, accounts.Patch{Card: &code}); err != nil {
		r.logger.Warn("save card failed", slog.String("id", id), slog.Any("error", err))
	}
}

func (r *Router) handleBackup(ctx context.Context, inv *invocation) (string, error) {
	_, cred, err := r.requireAccount(ctx, inv)
	if err != nil {
		return "", err
	}
	if res := r.ledger.BackupCreate(ctx, cred); !res.OK {
		return "", remoteError("Erro ao buscar backups", res)
	}
	res := r.ledger.BackupList(ctx, cred)
	if !res.OK {
		return "", remoteError("Erro ao buscar backups", res)
	}
	codes := ledger.Strings(res.Data, ledger.BackupCodeFields)
	if len(codes) == 0 {
		return textNoBackups, nil
	}
	var b strings.Builder
	b.WriteString("📦 *Seus 12 códigos de backup:*\n")
	for i, code := range codes {
		fmt.Fprintf(&b, "\n%d. `%s`", i+1, code)
	}
	return b.String(), nil
}

func (r *Router) handleRestore(ctx context.Context, inv *invocation) (string, error) {
	if len(inv.args) < 1 {
		return "", userInput(textRestoreUsage)
	}
	acc, cred, err := r.requireAccount(ctx, inv)
	if err != nil {
		return "", err
	}
	if res := r.ledger.BackupRestore(ctx, cred, inv.args[0]); !res.OK {
		return "", remoteError("Erro ao restaurar backup", res)
	}
	balance := 0.0
	if res := r.ledger.Balance(ctx, cred, acc.UserID); res.OK {
		balance, _ = ledger.Number(res.Data, ledger.BalanceFields)
	}
	return "♻️ Backup restaurado!\n💰 Saldo atual: *" + ledger.FormatAmount(balance) + "* coins", nil
}

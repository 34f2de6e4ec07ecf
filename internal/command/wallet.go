package command

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/coinbot/internal/accounts"
	"github.com/memohai/coinbot/internal/ledger"
)

const (
	historyRows  = 10
	billRows     = 5
	textNoCardTx = "⚠️ Histórico não está disponível para cards."
)

func (r *Router) handleBalance(ctx context.Context, inv *invocation) (string, error) {
	acc, cred, err := r.requireAccount(ctx, inv)
	if err != nil {
		return "", err
	}
	res := r.ledger.Balance(ctx, cred, acc.UserID)
	if !res.OK {
		return "", remoteError("Erro ao buscar saldo", res)
	}
	balance, _ := ledger.Number(res.Data, ledger.BalanceFields)
	return "💰 Saldo: *" + ledger.FormatAmount(balance) + "* coins", nil
}

func (r *Router) handleView(ctx context.Context, inv *invocation) (string, error) {
	acc, cred, err := r.requireAccount(ctx, inv)
	if err != nil {
		return "", err
	}
	if len(inv.args) > 0 {
		if token, ok := mentionToken(inv.args[0]); ok {
			return r.viewOther(ctx, inv, cred, token)
		}
	}

	res := r.ledger.Balance(ctx, cred, acc.UserID)
	if !res.OK {
		return "", remoteError("Erro ao buscar saldo", res)
	}
	balance, _ := ledger.Number(res.Data, ledger.BalanceFields)
	lines := []string{
		"👤 *Usuário*: " + orDash(acc.Login),
		"🆔 *ID*: " + orDash(acc.UserID),
	}
	if r.cardMode() {
		lines = append(lines, "💳 *Card*: "+shortSecret(acc.Card))
	} else {
		lines = append(lines, "🔑 *Sessão*: "+shortSecret(acc.SessionID))
	}
	lines = append(lines, "💰 *Saldo*: "+ledger.FormatAmount(balance)+" coins")
	return strings.Join(lines, "\n"), nil
}

// viewOther shows a mentioned user's id and balance, read with the caller's
// credential. Card credentials can only read their own card, so the balance
// is omitted in card mode.
func (r *Router) viewOther(ctx context.Context, inv *invocation, cred ledger.Credential, token string) (string, error) {
	target, err := r.resolveMention(ctx, inv, token, textViewNoLogin)
	if err != nil {
		return "", err
	}
	if target.UserID == "" {
		return "", userInput(textViewNoLogin)
	}
	balance := "—"
	if !cred.IsCard() {
		res := r.ledger.Balance(ctx, cred, target.UserID)
		if !res.OK {
			return "", remoteError("Erro ao buscar saldo", res)
		}
		v, _ := ledger.Number(res.Data, ledger.BalanceFields)
		balance = ledger.FormatAmount(v)
	}
	return "👤 *Usuário*: " + orDash(target.Login) + "\n" +
		"🆔 *ID*: " + target.UserID + "\n" +
		"💰 *Saldo*: " + balance + " coins", nil
}

// handlePay validates the amount before anything else so a bad amount never
// reaches the ledger.
func (r *Router) handlePay(ctx context.Context, inv *invocation) (string, error) {
	if len(inv.args) < 2 {
		return "", userInput(textPayUsage)
	}
	amount, ok := parseAmount(inv.args[1])
	if !ok {
		return "", userInput(textInvalidAmount)
	}
	_, cred, err := r.requireAccount(ctx, inv)
	if err != nil {
		return "", err
	}
	dest, err := r.destination(ctx, inv, inv.args[0])
	if err != nil {
		return "", err
	}
	res := r.ledger.Transfer(ctx, cred, dest, amount)
	if !res.OK {
		return "", remoteError("Erro na transferência", res)
	}
	label := dest.UserID
	if dest.Card != "" {
		label = shortSecret(dest.Card)
	}
	return "✅ Enviado *" + ledger.FormatAmount(amount) + "* para *" + label + "*.", nil
}

// destination parses a transfer target: a numeric ledger id, a card code or
// a mention of a known user.
func (r *Router) destination(ctx context.Context, inv *invocation, raw string) (ledger.Destination, error) {
	if token, ok := mentionToken(raw); ok {
		target, err := r.resolveMention(ctx, inv, token, textNoLogin)
		if err != nil {
			return ledger.Destination{}, err
		}
		switch {
		case isDigits(target.UserID):
			return ledger.ToUser(target.UserID), nil
		case target.Card != "":
			return ledger.ToCard(target.Card), nil
		}
		return ledger.Destination{}, userInput(textNoLogin)
	}
	raw = strings.TrimSpace(raw)
	switch {
	case isDigits(raw):
		return ledger.ToUser(raw), nil
	case isCardCode(raw):
		return ledger.ToCard(raw), nil
	}
	return ledger.Destination{}, userInput(textInvalidID)
}

func (r *Router) handleClaim(ctx context.Context, inv *invocation) (string, error) {
	_, cred, err := r.requireAccount(ctx, inv)
	if err != nil {
		return "", err
	}
	res := r.ledger.Claim(ctx, cred)
	if !res.OK {
		// Any 4xx that reports time left is a cooldown, whatever the status.
		ms, hasCooldown := ledger.Number(res.Data, ledger.CooldownFields)
		if res.StatusCode == http.StatusTooManyRequests || (hasCooldown && res.StatusCode >= 400 && res.StatusCode < 500) {
			return "", &CooldownError{Remaining: time.Duration(ms * float64(time.Millisecond))}
		}
		return "", remoteError("Erro no claim", res)
	}
	claimed, _ := ledger.Number(res.Data, ledger.ClaimedFields)
	return "🎁 Claim feito! Você recebeu *" + ledger.FormatAmount(claimed) + "* coins.", nil
}

func (r *Router) handleHistory(ctx context.Context, inv *invocation) (string, error) {
	_, cred, err := r.requireAccount(ctx, inv)
	if err != nil {
		return "", err
	}
	if cred.IsCard() {
		return "", userInput(textNoCardTx)
	}
	page := parsePage(inv.args, 0)
	res := r.ledger.Transactions(ctx, cred, page)
	if !res.OK {
		return "", remoteError("Erro ao buscar histórico", res)
	}
	rows := ledger.Objects(res.Data, ledger.TransactionFields)
	if len(rows) == 0 {
		return textNoTransactions, nil
	}
	rows = rows[:min(len(rows), historyRows)]

	var b strings.Builder
	fmt.Fprintf(&b, "📜 *Transações (p.%s)*", pageLabel(res.Data, page))
	for _, row := range rows {
		b.WriteString("\n" + transactionLine(row))
	}
	return b.String(), nil
}

func transactionLine(row map[string]any) string {
	date, _ := ledger.String(row, ledger.DateFields)
	from, _ := ledger.String(row, ledger.FromIDFields)
	to, _ := ledger.String(row, ledger.ToIDFields)
	amount, _ := ledger.Number(row, ledger.AmountFields)
	return "• " + formatDate(date) + " — " + orQuestion(from) + " ➜ " + orQuestion(to) + " : " + ledger.FormatAmount(amount)
}

func (r *Router) handleCheck(ctx context.Context, inv *invocation) (string, error) {
	if len(inv.args) < 1 {
		return "", userInput(textCheckUsage)
	}
	id := inv.args[0]
	_, cred, err := r.requireAccount(ctx, inv)
	if err != nil {
		return "", err
	}
	res, found := r.ledger.LookupTransaction(ctx, cred, id, nil)
	if !found {
		return "🔎 Transação `" + id + "` não encontrada.", nil
	}
	return formatTransaction(id, res), nil
}

// formatTransaction renders a lookup result. Responses may wrap the record
// in a "transaction" object; unknown shapes fall back to the raw body.
func formatTransaction(id string, res ledger.Result) string {
	data := res.Data
	if inner, ok := data["transaction"].(map[string]any); ok {
		data = inner
	}
	var lines []string
	if from, ok := ledger.String(data, ledger.FromIDFields); ok {
		lines = append(lines, "📤 De: "+from)
	}
	if to, ok := ledger.String(data, ledger.ToIDFields); ok {
		lines = append(lines, "📥 Para: "+to)
	}
	if amount, ok := ledger.Number(data, ledger.AmountFields); ok {
		lines = append(lines, "💰 Valor: *"+ledger.FormatAmount(amount)+"* coins")
	}
	if date, ok := ledger.String(data, ledger.DateFields); ok {
		lines = append(lines, "🕒 Data: "+formatDate(date))
	}
	if len(lines) == 0 {
		raw := strings.TrimSpace(string(res.Raw))
		if len(raw) > 500 {
			raw = raw[:500] + "..."
		}
		lines = append(lines, "```"+raw+"```")
	}
	return "🔎 *Transação* `" + id + "`\n" + strings.Join(lines, "\n")
}

func (r *Router) handleBill(ctx context.Context, inv *invocation) (string, error) {
	acc, cred, err := r.requireAccount(ctx, inv)
	if err != nil {
		return "", err
	}
	sub := ""
	if len(inv.args) > 0 {
		sub = strings.ToLower(inv.args[0])
	}
	switch sub {
	case "create":
		return r.billCreate(ctx, inv, acc, cred)
	case "list":
		return r.billList(ctx, inv, cred)
	default:
		return "", userInput(textBillHelp)
	}
}

func (r *Router) billCreate(ctx context.Context, inv *invocation, acc accounts.Account, cred ledger.Credential) (string, error) {
	if len(inv.args) < 3 {
		return "", userInput(textBillUsage)
	}
	toID := inv.args[1]
	amount, ok := parseAmount(inv.args[2])
	if !isDigits(toID) || !ok {
		return "", userInput(textInvalidParams)
	}
	expires := ""
	if len(inv.args) > 3 {
		expires = inv.args[3]
	}
	res := r.ledger.BillCreate(ctx, cred, acc.UserID, toID, amount, expires)
	if !res.OK {
		return "", remoteError("Erro ao criar bill", res)
	}
	billID, _ := ledger.String(res.Data, ledger.BillIDFields)
	return "🧾 Bill criada! ID: `" + orQuestion(billID) + "` — valor *" + ledger.FormatAmount(amount) + "* para *" + toID + "*", nil
}

func (r *Router) billList(ctx context.Context, inv *invocation, cred ledger.Credential) (string, error) {
	page := parsePage(inv.args, 1)
	res := r.ledger.BillList(ctx, cred, page)
	if !res.OK {
		return "", remoteError("Erro ao listar bills", res)
	}
	label := pageLabel(res.Data, page)
	toPay := billLines(ledger.Objects(res.Data, ledger.ToPayFields), func(b map[string]any, id, amount string) string {
		to, _ := ledger.String(b, ledger.ToIDFields)
		return "• ID " + id + " — pagar " + amount + " para " + orQuestion(to)
	})
	toReceive := billLines(ledger.Objects(res.Data, ledger.ToReceiveFields), func(b map[string]any, id, amount string) string {
		from, _ := ledger.String(b, ledger.FromIDFields)
		return "• ID " + id + " — receber " + amount + " de " + orQuestion(from)
	})
	return "📥 *A pagar* (p." + label + ")\n" + orDash(toPay) + "\n\n" +
		"📤 *A receber* (p." + label + ")\n" + orDash(toReceive), nil
}

func billLines(bills []map[string]any, line func(b map[string]any, id, amount string) string) string {
	bills = bills[:min(len(bills), billRows)]
	out := make([]string, 0, len(bills))
	for _, b := range bills {
		id, _ := ledger.String(b, ledger.BillIDFields)
		amount, _ := ledger.Number(b, ledger.AmountFields)
		out = append(out, line(b, orQuestion(id), ledger.FormatAmount(amount)))
	}
	return strings.Join(out, "\n")
}

func (r *Router) handlePaybill(ctx context.Context, inv *invocation) (string, error) {
	if len(inv.args) < 1 {
		return "", userInput(textPaybillUsage)
	}
	billID := inv.args[0]
	_, cred, err := r.requireAccount(ctx, inv)
	if err != nil {
		return "", err
	}
	if res := r.ledger.BillPay(ctx, cred, billID); !res.OK {
		return "", remoteError("Erro ao pagar bill", res)
	}
	return "✅ Bill `" + billID + "` paga!", nil
}

func pageLabel(data map[string]any, fallback int) string {
	if v, ok := ledger.Number(data, ledger.PageFields); ok {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.Itoa(fallback)
}

// formatDate renders RFC 3339 strings and epoch milliseconds as
// "02/01/2006 15:04" UTC. Anything else is returned unchanged.
func formatDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "?"
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Format("02/01/2006 15:04")
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		return time.UnixMilli(n).UTC().Format("02/01/2006 15:04")
	}
	return raw
}

func orQuestion(s string) string {
	if strings.TrimSpace(s) == "" {
		return "?"
	}
	return s
}

package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memohai/coinbot/internal/ledger"
)

const rankRows = 25

var rankIDFields = []string{"id", "userId", "user_id"}

func (r *Router) handleHelp(context.Context, *invocation) (string, error) {
	return helpText, nil
}

// handleRank lists the top holders. The sender's credential is attached
// when available but not required.
func (r *Router) handleRank(ctx context.Context, inv *invocation) (string, error) {
	res := r.ledger.Rank(ctx, r.optionalCredential(ctx, inv))
	if !res.OK {
		return "", remoteError("Erro no rank", res)
	}
	rows := ledger.Objects(res.Data, ledger.RankingFields)
	rows = rows[:min(len(rows), rankRows)]

	var b strings.Builder
	b.WriteString("🌎 *Global Rank (Top 25)*")
	for i, row := range rows {
		name, ok := ledger.String(row, ledger.UsernameFields)
		if !ok {
			name, _ = ledger.String(row, rankIDFields)
		}
		coins, _ := ledger.Number(row, ledger.BalanceFields)
		fmt.Fprintf(&b, "\n%d. %s — %s", i+1, orQuestion(name), ledger.FormatAmount(coins))
	}
	total := "?"
	if v, ok := ledger.Number(res.Data, ledger.TotalCoinsFields); ok {
		total = ledger.FormatAmount(v)
	}
	b.WriteString("\n\n💠 *Total em circulação:* " + total + " coins")
	return b.String(), nil
}

// handleGlobal combines circulation, user count and claim cooldown. Only the
// rank call is required; the other two degrade to "?" or are omitted.
func (r *Router) handleGlobal(ctx context.Context, inv *invocation) (string, error) {
	cred := r.optionalCredential(ctx, inv)
	rank := r.ledger.Rank(ctx, cred)
	if !rank.OK {
		return "", remoteError("Erro em global", rank)
	}
	total := "?"
	if v, ok := ledger.Number(rank.Data, ledger.TotalCoinsFields); ok {
		total = ledger.FormatAmount(v)
	}
	users := "?"
	if res := r.ledger.TotalUsers(ctx, cred); res.OK {
		if v, ok := ledger.String(res.Data, ledger.TotalUsersFields); ok {
			users = v
		}
	}

	text := "🌎 *Estatísticas Globais*\n\n" +
		"💠 Total em circulação: *" + total + "* coins\n" +
		"👥 Total de usuários: *" + users + "*"
	if res := r.ledger.ClaimStatus(ctx, cred); res.OK {
		ms, _ := ledger.Number(res.Data, ledger.CooldownFields)
		if ms > 0 {
			text += "\n⏳ Próximo claim em " + HumanizeDuration(time.Duration(ms*float64(time.Millisecond)))
		} else {
			text += "\n✅ Claim disponível!"
		}
	}
	return text, nil
}

package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field alias lists. The ledger has renamed response fields across versions,
// so each value is read from the first present name in the order listed.
// The order is part of the compatibility contract and must not change.
var (
	ErrorFields       = []string{"error", "message", "msg", "detail", "err"}
	SessionIDFields   = []string{"sessionId", "session_id", "token"}
	UserIDFields      = []string{"userId", "user_id", "user", "id"}
	BalanceFields     = []string{"coins", "balance", "amount", "saldo"}
	ClaimedFields     = []string{"claimed", "amount", "reward"}
	CooldownFields    = []string{"nextClaimInMs", "cooldownRemainingMs", "cooldownMs", "remainingMs"}
	CardCodeFields    = []string{"cardCode", "newCode", "card", "code"}
	BillIDFields      = []string{"billId", "bill_id", "id"}
	BackupCodeFields  = []string{"backups", "codes"}
	TransactionFields = []string{"transactions", "history", "items"}
	TotalUsersFields  = []string{"totalUsers", "total_users", "users", "count"}
	TotalCoinsFields  = []string{"totalCoins", "total_coins", "total"}
	RankingFields     = []string{"rankings", "rank", "top"}
	PageFields        = []string{"page"}
	UsernameFields    = []string{"username", "name", "login"}
	ToPayFields       = []string{"toPay", "to_pay"}
	ToReceiveFields   = []string{"toReceive", "to_receive"}
	FromIDFields      = []string{"from_id", "fromId", "from"}
	ToIDFields        = []string{"to_id", "toId", "to"}
	DateFields        = []string{"date", "createdAt", "created_at", "timestamp"}
	AmountFields      = []string{"amount", "value", "coins"}
)

// Lookup returns the first value present (and non-null) under one of names.
func Lookup(data map[string]any, names []string) (any, bool) {
	for _, name := range names {
		v, ok := data[name]
		if ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first present field rendered as a non-empty string.
// Nested objects and lists are skipped.
func String(data map[string]any, names []string) (string, bool) {
	for _, name := range names {
		v, ok := data[name]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = strings.TrimSpace(val)
		case json.Number:
			s = val.String()
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(val)
		case map[string]any, []any:
			continue
		default:
			s = fmt.Sprint(val)
		}
		if s != "" {
			return s, true
		}
	}
	return "", false
}

// Number returns the first present field that parses as a finite number.
func Number(data map[string]any, names []string) (float64, bool) {
	for _, name := range names {
		v, ok := data[name]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

// List returns the first present field holding a JSON array.
func List(data map[string]any, names []string) ([]any, bool) {
	for _, name := range names {
		if items, ok := data[name].([]any); ok {
			return items, true
		}
	}
	return nil, false
}

// Objects returns the object elements of the first present list field.
func Objects(data map[string]any, names []string) []map[string]any {
	items, _ := List(data, names)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// Strings returns the scalar elements of the first present list field as strings.
func Strings(data map[string]any, names []string) []string {
	items, _ := List(data, names)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := String(map[string]any{"v": item}, []string{"v"}); ok {
			out = append(out, s)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = val
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

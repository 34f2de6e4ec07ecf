package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memohai/coinbot/internal/ledger"
)

// UserInputError is a usage or validation failure. Its message is the reply.
type UserInputError struct {
	Message string
}

func (e *UserInputError) Error() string { return e.Message }

// AuthRequiredError means the sender has no usable credential. Its message
// tells the user how to authenticate.
type AuthRequiredError struct {
	Message string
}

func (e *AuthRequiredError) Error() string { return e.Message }

// RemoteError is a failed ledger call. Action names what was attempted.
type RemoteError struct {
	Action     string
	Message    string
	StatusCode int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Action, e.Message, e.StatusCode)
}

// CooldownError is a rejected claim with the time left until the next one.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return "claim cooldown: " + e.Remaining.String()
}

func userInput(msg string) error { return &UserInputError{Message: msg} }

func authRequired(msg string) error { return &AuthRequiredError{Message: msg} }

func remoteError(action string, res ledger.Result) error {
	msg := strings.TrimSpace(res.ErrorMessage)
	if msg == "" {
		msg = "erro desconhecido"
	}
	return &RemoteError{Action: action, Message: msg, StatusCode: res.StatusCode}
}

// replyForError renders err for the chat. expected is false for faults
// that must be logged as errors.
func replyForError(err error) (reply string, expected bool) {
	var (
		input    *UserInputError
		auth     *AuthRequiredError
		cooldown *CooldownError
		remote   *RemoteError
	)
	switch {
	case errors.As(err, &input):
		return input.Message, true
	case errors.As(err, &auth):
		return auth.Message, true
	case errors.As(err, &cooldown):
		return "⏳ Em cooldown. Tente novamente em " + HumanizeDuration(cooldown.Remaining) + ".", true
	case errors.As(err, &remote):
		return "⚠️ " + remote.Action + ": " + remote.Message, true
	default:
		return textUnexpected, false
	}
}

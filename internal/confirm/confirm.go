// Package confirm mints the tokens operators need to resume trading. A token
// proves that a human typed the exact phrase for one specific action.
package confirm

import (
	"strings"

	gateerrors "github.com/ducminhle1904/risk-gate/internal/errors"
)

// Token is proof of an explicit confirmation. The zero value confirms nothing.
type Token struct {
	action string
}

// Check compares typed against phrase and returns a token bound to action.
func Check(action, phrase, typed string) (Token, error) {
	if action == "" || phrase == "" {
		return Token{}, gateerrors.NewConfigurationError("confirm", "Check", "action and phrase are required")
	}
	if strings.TrimSpace(typed) != phrase {
		return Token{}, gateerrors.NewConfirmationError("confirm", "Check",
			"confirmation phrase does not match; type exactly: "+phrase)
	}
	return Token{action: action}, nil
}

// For reports whether the token confirms action.
func (t Token) For(action string) bool {
	return t.action != "" && t.action == action
}

// IsZero reports whether the token is unconfirmed.
func (t Token) IsZero() bool {
	return t.action == ""
}

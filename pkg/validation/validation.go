package validation

import (
	"errors"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var (
	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
	phonePattern  = regexp.MustCompile(`^[1-9][0-9]{5,14}$`)
	nonDigits     = regexp.MustCompile(`[^0-9]`)
)

var (
	ErrUserIDEmpty            = errors.New("user id cannot be empty")
	ErrUserIDFormat           = errors.New("user id must be 1-64 characters of letters, digits, '.', '_' or '-'")
	ErrRecipientEmpty         = errors.New("recipient has no digits")
	ErrRecipientInternational = errors.New("must be in international format without leading 0")
	ErrRecipientLength        = errors.New("must contain 6 to 15 digits")
)

// ValidateUserID rejects identifiers that are unsafe to embed in a credential path.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDEmpty
	}
	if userID == "." || userID == ".." || !userIDPattern.MatchString(userID) {
		return ErrUserIDFormat
	}
	return nil
}

// NormalizeRecipient strips every non-digit character and returns the
// personal chat address, e.g. "+33 6 12 34 56 78" -> "33612345678@s.whatsapp.net".
func NormalizeRecipient(raw string) (string, error) {
	digits := nonDigits.ReplaceAllString(raw, "")
	if digits == "" {
		return "", ErrRecipientEmpty
	}
	if strings.HasPrefix(digits, "0") {
		return "", ErrRecipientInternational
	}
	if !phonePattern.MatchString(digits) {
		return "", ErrRecipientLength
	}
	return digits + "@" + types.DefaultUserServer, nil
}

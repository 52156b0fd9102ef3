package auth

import (
	"fmt"
	"strings"
)

// maxEmailLength is the RFC 5321 path limit.
const maxEmailLength = 254

// NormalizeEmail returns the contact key form of an address: trimmed and lower-cased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail performs the cheap structural checks the store relies on.
// Full syntax validation happens at the HTTP boundary.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > maxEmailLength {
		return fmt.Errorf("email must be at most %d characters long", maxEmailLength)
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return fmt.Errorf("email must contain a local part and a domain")
	}
	if strings.ContainsAny(email, " \t\r\n<>,") {
		return fmt.Errorf("email contains invalid characters")
	}
	return nil
}

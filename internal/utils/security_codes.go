package utils

import (
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	securityCodeCount  = 3
	securityCodeLength = 8
)

// GenerateSecurityCodes returns the one-time recovery codes handed out at
// registration. Each one can reset the password once.
func GenerateSecurityCodes() []string {
	codes := make([]string, securityCodeCount)
	for i := range codes {
		codes[i] = uuid.NewString()[:securityCodeLength]
	}
	return codes
}

// Truncate shortens s to at most limit runes, appending "..." when cut.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

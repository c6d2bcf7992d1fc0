package utils

import (
	"regexp"
	"strings"
)

var (
	emailRegex      = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	accessCodeRegex = regexp.MustCompile(`^[A-Z0-9]{4,32}$`)
)

func IsValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// NormalizeAccessCode trims whitespace and upper-cases a typed or scanned code.
func NormalizeAccessCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidAccessCode checks the shape of a normalized code. It says nothing
// about whether the code exists.
func IsValidAccessCode(code string) bool {
	return accessCodeRegex.MatchString(code)
}

// IsValidTreeKey rejects keys the realtime database cannot store.
func IsValidTreeKey(key string) bool {
	if key == "" || len(key) > 768 {
		return false
	}
	return !strings.ContainsAny(key, ".$#[]/")
}

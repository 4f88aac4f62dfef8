// Package validation holds the stateless credential format checks applied
// on registration and password changes.
package validation

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

const (
	MsgInvalidEmail    = "Invalid email address"
	MsgInvalidPassword = "Password must be at least 8 char, at least one letter and one number"
	MsgInvalidUsername = "Username can only contain alphanumeric characters and underscores"
)

const minPasswordLen = 8

var (
	emailRegexp    = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)
	usernameRegexp = regexp.MustCompile(`^\w+$`)
)

func ValidateEmail(email string) bool {
	return emailRegexp.MatchString(email)
}

// ValidatePassword requires at least 8 characters with at least one ASCII
// letter and one digit. Other characters, non-ASCII letters included, are
// allowed but do not count as the letter.
func ValidatePassword(password string) bool {
	if utf8.RuneCountInString(password) < minPasswordLen {
		return false
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case isASCIILetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	return hasLetter && hasDigit
}

func isASCIILetter(r rune) bool {
	return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
}

func ValidateUsername(username string) bool {
	return usernameRegexp.MatchString(username)
}

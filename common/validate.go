package common

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Word characters in the Unicode sense, not just ASCII.
var usernamePattern = regexp.MustCompile(`^[\p{L}\p{M}\p{N}_.@+-]+$`)

// ValidateUsername enforces the account name rules shared by signup and
// user management: at most 150 characters, the allowed character set,
// and "me" is reserved for the self-service endpoint.
func ValidateUsername(value string) error {
	if value == "" {
		return errors.New("username is required")
	}
	if utf8.RuneCountInString(value) > 150 {
		return errors.New("username must be at most 150 characters")
	}
	if strings.EqualFold(value, "me") {
		return errors.New("username \"me\" is not allowed")
	}
	if !usernamePattern.MatchString(value) {
		return errors.New("username may only contain letters, digits and .@+-_")
	}
	return nil
}

func ValidateEmail(value string) error {
	if value == "" {
		return errors.New("email is required")
	}
	if len(value) > 254 {
		return errors.New("email must be at most 254 characters")
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return errors.New("invalid email address")
	}
	return nil
}

var slugPattern = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)

func ValidateSlug(value string) error {
	if value == "" {
		return errors.New("slug is required")
	}
	if len(value) > 50 {
		return errors.New("slug must be at most 50 characters")
	}
	if !slugPattern.MatchString(value) {
		return errors.New("slug may only contain letters, digits, hyphens and underscores")
	}
	return nil
}

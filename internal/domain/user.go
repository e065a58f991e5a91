// Package domain contains core domain types for the Studiora application.
package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrUserNotFound is returned when no record exists for a user ID.
	ErrUserNotFound = errors.New("user not found")
	// ErrArtifactNotFound is returned when a generated document is missing from storage.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Language is a supported interface and lesson language tag.
type Language string

// Supported languages.
const (
	LanguageEnglish  Language = "en"
	LanguageRussian  Language = "ru"
	LanguageArmenian Language = "hy"
)

// DefaultLanguage is used whenever a tag is absent or unsupported.
const DefaultLanguage = LanguageEnglish

// Languages lists the supported tags in picker order.
var Languages = []Language{LanguageEnglish, LanguageRussian, LanguageArmenian}

// ParseLanguage returns the tag and whether it is supported.
func ParseLanguage(s string) (Language, bool) {
	// Region subtags ("en-US", "ru_RU") resolve to the base language.
	base, _, _ := strings.Cut(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"), "-")
	tag := Language(strings.ToLower(base))
	for _, l := range Languages {
		if l == tag {
			return l, true
		}
	}
	return DefaultLanguage, false
}

// NormalizeLanguage maps any tag to a supported one, defaulting to English.
func NormalizeLanguage(s string) Language {
	l, _ := ParseLanguage(s)
	return l
}

// User represents a chat user record.
type User struct {
	UserID       int64          `json:"telegram_id"`
	Username     string         `json:"username,omitempty"`
	FirstName    string         `json:"first_name,omitempty"`
	LastName     string         `json:"last_name,omitempty"`
	LanguageCode string         `json:"language_code,omitempty"`
	LastRequest  *LessonRequest `json:"last_request,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Language returns the user's stored language, defaulting to English.
func (u *User) Language() Language {
	return NormalizeLanguage(u.LanguageCode)
}

// HasPendingRequest returns true if a complete draft is saved for the user.
func (u *User) HasPendingRequest() bool {
	return u.LastRequest != nil && u.LastRequest.Complete()
}

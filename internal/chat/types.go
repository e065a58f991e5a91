// Package chat routes inbound chat events through the lesson conversation.
package chat

import (
	"context"
	"strconv"
	"strings"

	"github.com/ashureev/studiora/internal/domain"
	"github.com/ashureev/studiora/internal/identity"
)

// Commands understood by the engine.
const (
	CommandStart = "start"
	CommandHelp  = "help"
)

// Callback payloads carried by inline buttons.
const (
	CallbackConfirm    = "confirm_lesson"
	CallbackEdit       = "edit_lesson"
	CallbackCancel     = "cancel_lesson"
	CallbackSettings   = "open_settings"
	callbackLangPrefix = "set_lang:"
	callbackPagePrefix = "history_page:"
)

// LanguageCallback builds the payload of a language picker button.
func LanguageCallback(lang domain.Language) string {
	return callbackLangPrefix + string(lang)
}

// PageCallback builds the payload of a history navigation button.
func PageCallback(offset int) string {
	return callbackPagePrefix + strconv.Itoa(offset)
}

func parseLanguageCallback(data string) (domain.Language, bool) {
	tag, ok := strings.CutPrefix(data, callbackLangPrefix)
	if !ok {
		return "", false
	}
	return domain.ParseLanguage(tag)
}

func parsePageCallback(data string) (int, bool) {
	raw, ok := strings.CutPrefix(data, callbackPagePrefix)
	if !ok {
		return 0, false
	}
	offset, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return offset, true
}

// Update is one inbound event from a transport. Exactly one of Command,
// CallbackData and Text is expected to be set. Conversations are private,
// so the chat is addressed by the sender's user ID.
type Update struct {
	Profile      identity.Profile
	Command      string
	Text         string
	CallbackData string
}

// UserID returns the sender of the update.
func (u Update) UserID() int64 {
	return u.Profile.UserID
}

// Button is an inline button attached to a message.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Markup describes the controls attached to an outbound message.
// Inline buttons belong to the message; Menu replaces the persistent
// keyboard of the chat.
type Markup struct {
	Inline [][]Button `json:"inline,omitempty"`
	Menu   [][]string `json:"menu,omitempty"`
}

// Messenger delivers outbound messages through a transport.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, markup *Markup) (int, error)
	SendDocument(ctx context.Context, chatID int64, doc domain.Document, caption string) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Backend is the lesson API as seen by the engine.
type Backend interface {
	// GetUser returns domain.ErrUserNotFound when no record exists.
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	SaveDraft(ctx context.Context, userID int64, req domain.LessonRequest) error
	ClearDraft(ctx context.Context, userID int64) error
	GenerateLesson(ctx context.Context, userID int64, req domain.LessonRequest, lang domain.Language) (domain.Document, error)
	ListArtifacts(ctx context.Context, userID int64) ([]domain.Artifact, error)
	// FetchArtifact returns domain.ErrArtifactNotFound when the document is gone.
	FetchArtifact(ctx context.Context, userID int64, name string) (domain.Document, error)
}

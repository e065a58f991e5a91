package domain

import (
	"strings"
	"time"
)

// LessonRequest is the lesson-request triple collected from the user.
type LessonRequest struct {
	Topic        string `json:"topic"`
	CurrentLevel string `json:"current_level"`
	TargetLevel  string `json:"target_level"`
}

// Complete returns true if all three fields are non-empty.
func (r LessonRequest) Complete() bool {
	return strings.TrimSpace(r.Topic) != "" &&
		strings.TrimSpace(r.CurrentLevel) != "" &&
		strings.TrimSpace(r.TargetLevel) != ""
}

// Artifact is a generated document stored for a user.
type Artifact struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is a binary document ready for delivery.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

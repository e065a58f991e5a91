// Package session holds per-user conversational state for the lesson flow.
package session

import (
	"errors"
	"strings"
	"sync"

	"github.com/ashureev/studiora/internal/domain"
)

// State is a position in the lesson-request flow.
type State int

const (
	Idle State = iota
	AwaitingLessonDetails
	AwaitingConfirmation
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingLessonDetails:
		return "awaiting_lesson_details"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	default:
		return "unknown"
	}
}

// ErrMalformedDetails is returned when lesson details do not split into
// exactly three fields.
var ErrMalformedDetails = errors.New("lesson details must have exactly three fields")

// Session is the in-memory conversation state of one user.
// Draft is non-nil and complete whenever State is AwaitingConfirmation.
type Session struct {
	UserID int64
	State  State
	Draft  *domain.LessonRequest
}

// Reset returns the session to Idle and drops the local draft.
func (s *Session) Reset() {
	s.State = Idle
	s.Draft = nil
}

// AwaitDetails moves to AwaitingLessonDetails with no draft.
func (s *Session) AwaitDetails() {
	s.State = AwaitingLessonDetails
	s.Draft = nil
}

// AwaitConfirmation stores a complete draft and moves to AwaitingConfirmation.
func (s *Session) AwaitConfirmation(d domain.LessonRequest) {
	s.State = AwaitingConfirmation
	s.Draft = &d
}

// ParseDetails splits free text into topic, current level and target level.
// Newlines act as separators; empty segments are ignored.
func ParseDetails(text string) (domain.LessonRequest, error) {
	normalized := strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", ","), "\n", ",")

	var fields []string
	for _, part := range strings.Split(normalized, ",") {
		if part = strings.TrimSpace(part); part != "" {
			fields = append(fields, part)
		}
	}
	if len(fields) != 3 {
		return domain.LessonRequest{}, ErrMalformedDetails
	}
	return domain.LessonRequest{
		Topic:        fields[0],
		CurrentLevel: fields[1],
		TargetLevel:  fields[2],
	}, nil
}

type entry struct {
	mu      sync.Mutex
	session Session
}

// Registry owns every Session in the process. Entries are created on first
// use and never evicted, so memory grows with the number of distinct users.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]*entry)}
}

func (r *Registry) entry(userID int64) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{session: Session{UserID: userID, State: Idle}}
		r.entries[userID] = e
	}
	return e
}

// Acquire locks the user's session and returns it with its release func.
// Events for one user are processed one at a time; other users are not
// blocked. The session must not be used after release.
func (r *Registry) Acquire(userID int64) (*Session, func()) {
	e := r.entry(userID)
	e.mu.Lock()
	return &e.session, e.mu.Unlock
}

// Snapshot returns a copy of the user's session.
func (r *Registry) Snapshot(userID int64) Session {
	s, release := r.Acquire(userID)
	defer release()
	snap := *s
	if s.Draft != nil {
		d := *s.Draft
		snap.Draft = &d
	}
	return snap
}

// Len returns the number of sessions ever created.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

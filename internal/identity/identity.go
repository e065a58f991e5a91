// Package identity binds chat user identities to a language preference,
// provisioning a user record on first contact.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ashureev/studiora/internal/domain"
	"golang.org/x/sync/singleflight"
)

// UserStore is the subset of the user-record store the resolver needs.
type UserStore interface {
	// GetUser returns domain.ErrUserNotFound when no record exists.
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	UpdateLanguage(ctx context.Context, userID int64, lang domain.Language) error
}

// Profile is what the transport knows about the sender of an event.
type Profile struct {
	UserID       int64
	LanguageHint string
	Username     string
	FirstName    string
	LastName     string
}

// Resolver caches user languages for the process lifetime.
// Entries are never evicted.
type Resolver struct {
	store  UserStore
	logger *slog.Logger

	mu    sync.RWMutex
	langs map[int64]domain.Language

	lookups singleflight.Group
}

// NewResolver creates a resolver backed by store.
func NewResolver(store UserStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		logger: logger,
		langs:  make(map[int64]domain.Language),
	}
}

// Resolve returns the user's language, reading or provisioning the record
// on the first call for a user. Concurrent first calls share one lookup.
func (r *Resolver) Resolve(ctx context.Context, p Profile) (domain.Language, error) {
	if lang, ok := r.cached(p.UserID); ok {
		return lang, nil
	}

	v, err, _ := r.lookups.Do(strconv.FormatInt(p.UserID, 10), func() (interface{}, error) {
		if lang, ok := r.cached(p.UserID); ok {
			return lang, nil
		}
		lang, err := r.load(ctx, p)
		if err != nil {
			return nil, err
		}
		r.remember(p.UserID, lang)
		return lang, nil
	})
	if err != nil {
		return domain.DefaultLanguage, err
	}
	return v.(domain.Language), nil
}

func (r *Resolver) load(ctx context.Context, p Profile) (domain.Language, error) {
	user, err := r.store.GetUser(ctx, p.UserID)
	if err == nil {
		return user.Language(), nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return "", fmt.Errorf("lookup user %d: %w", p.UserID, err)
	}

	lang := domain.NormalizeLanguage(p.LanguageHint)
	newUser := &domain.User{
		UserID:       p.UserID,
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		LanguageCode: string(lang),
	}
	if err := r.store.CreateUser(ctx, newUser); err != nil {
		return "", fmt.Errorf("provision user %d: %w", p.UserID, err)
	}
	r.logger.Info("Provisioned user", "user_id", p.UserID, "language", lang)
	return lang, nil
}

// Language returns the cached language, or the default if unresolved.
func (r *Resolver) Language(userID int64) domain.Language {
	if lang, ok := r.cached(userID); ok {
		return lang
	}
	return domain.DefaultLanguage
}

// SetLanguage updates the cache immediately and persists the change in the
// background. The returned channel receives the persistence result; callers
// may discard it. Failures are logged either way.
func (r *Resolver) SetLanguage(ctx context.Context, userID int64, lang domain.Language) <-chan error {
	r.remember(userID, lang)

	done := make(chan error, 1)
	go func() {
		err := r.store.UpdateLanguage(context.WithoutCancel(ctx), userID, lang)
		if err != nil {
			r.logger.Warn("Failed to persist language change", "user_id", userID, "language", lang, "error", err)
		}
		done <- err
		close(done)
	}()
	return done
}

// Len returns the number of cached users.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.langs)
}

func (r *Resolver) cached(userID int64) (domain.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.langs[userID]
	return lang, ok
}

func (r *Resolver) remember(userID int64, lang domain.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.langs[userID] = lang
}

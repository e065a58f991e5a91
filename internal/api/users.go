package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/studiora/internal/domain"
)

type languageUpdate struct {
	LanguageCode string `json:"language_code"`
}

// GetUser returns a user record, or 404 when none exists.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load user", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		Error(w, http.StatusNotFound, domain.ErrUserNotFound.Error())
		return
	}
	JSON(w, http.StatusOK, user)
}

// CreateUser inserts a user. Creating an existing user is a no-op that
// returns 200 instead of 201.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var user domain.User
	if err := decodeJSON(w, r, &user); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if user.UserID <= 0 {
		Error(w, http.StatusBadRequest, "telegram_id is required")
		return
	}
	user.LanguageCode = string(domain.NormalizeLanguage(user.LanguageCode))
	user.LastRequest = nil

	created, err := h.repo.CreateUser(r.Context(), &user)
	if err != nil {
		h.logger.Error("Failed to create user", "user_id", user.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("User created", "user_id", user.UserID, "language", user.LanguageCode)
	}
	JSON(w, status, map[string]interface{}{"telegram_id": user.UserID, "created": created})
}

// UpdateLanguage stores a new language tag.
func (h *Handler) UpdateLanguage(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var body languageUpdate
	if err := decodeJSON(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	lang, ok := domain.ParseLanguage(body.LanguageCode)
	if !ok {
		Error(w, http.StatusBadRequest, "unsupported language")
		return
	}

	h.writeUpdate(w, userID, h.repo.UpdateLanguage(r.Context(), userID, lang))
}

// SaveLastRequest stores the user's pending lesson draft.
func (h *Handler) SaveLastRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var req domain.LessonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Complete() {
		Error(w, http.StatusBadRequest, "topic, current_level and target_level are required")
		return
	}

	h.writeUpdate(w, userID, h.repo.SaveLastRequest(r.Context(), userID, &req))
}

// ClearLastRequest removes the user's pending lesson draft.
func (h *Handler) ClearLastRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeUpdate(w, userID, h.repo.SaveLastRequest(r.Context(), userID, nil))
}

func (h *Handler) writeUpdate(w http.ResponseWriter, userID int64, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrUserNotFound):
		Error(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("Failed to update user", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to update user")
	}
}

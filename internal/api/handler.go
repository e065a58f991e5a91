// Package api provides HTTP handlers for the Studiora lesson API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/studiora/internal/domain"
	"github.com/ashureev/studiora/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize caps JSON request bodies.
const maxRequestBodySize = 64 << 10

// LessonGenerator produces a lesson document for a request.
type LessonGenerator interface {
	Generate(ctx context.Context, req domain.LessonRequest, lang domain.Language) (domain.Document, error)
}

// ArtifactFiles stores document bodies.
type ArtifactFiles interface {
	Save(userID int64, doc domain.Document) error
	// Open returns domain.ErrArtifactNotFound when the document is gone.
	Open(userID int64, name string) (domain.Document, error)
}

// Handler provides common handler utilities.
type Handler struct {
	repo      store.Repository
	files     ArtifactFiles
	generator LessonGenerator
	logger    *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, files ArtifactFiles, generator LessonGenerator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:      repo,
		files:     files,
		generator: generator,
		logger:    logger,
	}
}

// RegisterRoutes registers user, draft, lesson and artifact routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/users", h.CreateUser)
	r.Route("/users/{id}", func(r chi.Router) {
		r.Get("/", h.GetUser)
		r.Patch("/language", h.UpdateLanguage)
		r.Put("/last_request", h.SaveLastRequest)
		r.Delete("/last_request", h.ClearLastRequest)
		r.Post("/lessons", h.GenerateLesson)
		r.Get("/artifacts", h.ListArtifacts)
		r.Get("/artifacts/{name}", h.GetArtifact)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// userIDParam parses the {id} path parameter.
func userIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

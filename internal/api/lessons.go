package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ashureev/studiora/internal/domain"
	"github.com/go-chi/chi/v5"
)

type lessonRequest struct {
	domain.LessonRequest
	LanguageCode string `json:"language_code"`
}

// GenerateLesson generates a document for the request, stores and indexes
// it, and returns its bytes. The draft saved for the user is left alone;
// the caller clears it once the document has been delivered.
func (h *Handler) GenerateLesson(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var body lessonRequest
	if err := decodeJSON(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !body.Complete() {
		Error(w, http.StatusBadRequest, "topic, current_level and target_level are required")
		return
	}
	lang := domain.NormalizeLanguage(body.LanguageCode)

	doc, err := h.generator.Generate(r.Context(), body.LessonRequest, lang)
	if err != nil {
		h.logger.Error("Lesson generation failed", "user_id", userID, "topic", body.Topic, "error", err)
		Error(w, http.StatusBadGateway, "lesson generation failed")
		return
	}

	if err := h.files.Save(userID, doc); err != nil {
		h.logger.Error("Failed to store lesson", "user_id", userID, "document", doc.Name, "error", err)
		Error(w, http.StatusInternalServerError, "failed to store lesson")
		return
	}
	artifact := domain.Artifact{Name: doc.Name, CreatedAt: time.Now().UTC()}
	if err := h.repo.AddArtifact(r.Context(), userID, artifact); err != nil {
		h.logger.Error("Failed to index lesson", "user_id", userID, "document", doc.Name, "error", err)
		Error(w, http.StatusInternalServerError, "failed to store lesson")
		return
	}

	writeDocument(w, doc)
}

// ListArtifacts returns the user's documents, newest first.
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	artifacts, err := h.repo.ListArtifacts(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list artifacts", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}
	if artifacts == nil {
		artifacts = []domain.Artifact{}
	}
	JSON(w, http.StatusOK, artifacts)
}

// GetArtifact returns one stored document, or 404 when it no longer exists.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.files.Open(userID, chi.URLParam(r, "name"))
	if errors.Is(err, domain.ErrArtifactNotFound) {
		Error(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Failed to read artifact", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}
	writeDocument(w, doc)
}

func writeDocument(w http.ResponseWriter, doc domain.Document) {
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="lesson.html"; filename*=UTF-8''%s`, url.PathEscape(doc.Name)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Data)
}

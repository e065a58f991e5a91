// Package apiclient talks to the lesson API over HTTP.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ashureev/studiora/internal/domain"
)

// maxDocumentSize caps downloaded document bodies.
const maxDocumentSize = 20 << 20

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client is a lesson API client. Requests use the caller's context; the
// HTTP client timeout applies to everything except lesson generation,
// which is bounded by its context only.
type Client struct {
	baseURL string
	http    *http.Client
	long    *http.Client
}

// New creates a client for the API at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		long:    &http.Client{},
	}
}

// GetUser fetches a user record, returning domain.ErrUserNotFound on 404.
func (c *Client) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	var user domain.User
	err := c.doJSON(ctx, c.http, http.MethodGet, userPath(userID, ""), nil, &user)
	if isStatus(err, http.StatusNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser creates a user record. Existing users are left untouched.
func (c *Client) CreateUser(ctx context.Context, user *domain.User) error {
	body := map[string]interface{}{
		"telegram_id":   user.UserID,
		"username":      user.Username,
		"first_name":    user.FirstName,
		"last_name":     user.LastName,
		"language_code": user.LanguageCode,
	}
	return c.doJSON(ctx, c.http, http.MethodPost, "/users", body, nil)
}

// UpdateLanguage stores a new language tag.
func (c *Client) UpdateLanguage(ctx context.Context, userID int64, lang domain.Language) error {
	body := map[string]string{"language_code": string(lang)}
	return c.doJSON(ctx, c.http, http.MethodPatch, userPath(userID, "/language"), body, nil)
}

// SaveDraft persists the pending lesson request.
func (c *Client) SaveDraft(ctx context.Context, userID int64, req domain.LessonRequest) error {
	return c.doJSON(ctx, c.http, http.MethodPut, userPath(userID, "/last_request"), req, nil)
}

// ClearDraft removes the pending lesson request.
func (c *Client) ClearDraft(ctx context.Context, userID int64) error {
	return c.doJSON(ctx, c.http, http.MethodDelete, userPath(userID, "/last_request"), nil, nil)
}

// GenerateLesson asks the API for a new lesson document.
func (c *Client) GenerateLesson(ctx context.Context, userID int64, req domain.LessonRequest, lang domain.Language) (domain.Document, error) {
	body := map[string]string{
		"topic":         req.Topic,
		"current_level": req.CurrentLevel,
		"target_level":  req.TargetLevel,
		"language_code": string(lang),
	}
	return c.doDocument(ctx, c.long, http.MethodPost, userPath(userID, "/lessons"), body)
}

// ListArtifacts lists the user's stored documents.
func (c *Client) ListArtifacts(ctx context.Context, userID int64) ([]domain.Artifact, error) {
	var artifacts []domain.Artifact
	if err := c.doJSON(ctx, c.http, http.MethodGet, userPath(userID, "/artifacts"), nil, &artifacts); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// FetchArtifact downloads a stored document, returning
// domain.ErrArtifactNotFound on 404.
func (c *Client) FetchArtifact(ctx context.Context, userID int64, name string) (domain.Document, error) {
	doc, err := c.doDocument(ctx, c.http, http.MethodGet, userPath(userID, "/artifacts/"+url.PathEscape(name)), nil)
	if isStatus(err, http.StatusNotFound) {
		return domain.Document{}, domain.ErrArtifactNotFound
	}
	if err != nil {
		return domain.Document{}, err
	}
	doc.Name = name
	return doc, nil
}

func userPath(userID int64, suffix string) string {
	return "/users/" + strconv.FormatInt(userID, 10) + suffix
}

func isStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, in interface{}) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, hc *http.Client, method, path string, in, out interface{}) error {
	resp, err := c.send(ctx, hc, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) doDocument(ctx context.Context, hc *http.Client, method, path string, in interface{}) (domain.Document, error) {
	resp, err := c.send(ctx, hc, method, path, in)
	if err != nil {
		return domain.Document{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	return domain.Document{
		Name:        filenameFrom(resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// filenameFrom prefers the RFC 5987 filename* parameter.
func filenameFrom(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

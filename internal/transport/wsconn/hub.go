// Package wsconn carries chat conversations over WebSocket connections,
// one live connection per user. It mirrors the Telegram transport for web
// clients and local testing.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/studiora/internal/chat"
	"github.com/ashureev/studiora/internal/domain"
	"github.com/ashureev/studiora/internal/identity"
	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// ErrNotConnected is returned when the user has no live connection.
var ErrNotConnected = errors.New("user not connected")

// Handler consumes inbound chat updates.
type Handler interface {
	Handle(ctx context.Context, u chat.Update) error
}

// Inbound is a client frame.
type Inbound struct {
	Type    string `json:"type"` // command, text, callback
	Command string `json:"command,omitempty"`
	Text    string `json:"text,omitempty"`
	Data    string `json:"data,omitempty"`
}

// Outbound is a server frame.
type Outbound struct {
	Type        string       `json:"type"` // message, document, delete
	ID          int          `json:"id"`
	Text        string       `json:"text,omitempty"`
	Markup      *chat.Markup `json:"markup,omitempty"`
	Name        string       `json:"name,omitempty"`
	ContentType string       `json:"content_type,omitempty"`
	Data        []byte       `json:"data,omitempty"`
}

type client struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *client) write(ctx context.Context, frame Outbound) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, payload)
}

// Hub accepts WebSocket chat clients and implements chat.Messenger for them.
type Hub struct {
	logger  *slog.Logger
	handler Handler
	nextID  atomic.Int64

	mu      sync.RWMutex
	clients map[int64]*client
}

// NewHub creates an empty hub. SetHandler must be called before serving.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, clients: make(map[int64]*client)}
}

// SetHandler sets the consumer of inbound updates.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// ServeHTTP upgrades the request and runs the read loop. The user is
// identified by the user_id query parameter; language, username,
// first_name and last_name are optional profile hints. The id is not
// authenticated and shares the Telegram id space, so the endpoint must only
// be reachable by trusted clients.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	profile := identity.Profile{
		UserID:       userID,
		LanguageHint: q.Get("language"),
		Username:     q.Get("username"),
		FirstName:    q.Get("first_name"),
		LastName:     q.Get("last_name"),
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	c := &client{ws: ws}
	h.register(userID, c)
	defer h.unregister(userID, c)
	h.logger.Info("WebSocket chat connected", "user_id", userID, "ip", r.RemoteAddr)

	h.readLoop(r.Context(), ws, profile)
	h.logger.Info("WebSocket chat ended", "user_id", userID)
}

func (h *Hub) readLoop(ctx context.Context, ws *websocket.Conn, profile identity.Profile) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", profile.UserID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", profile.UserID)
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(message, &in); err != nil {
			h.logger.Debug("Ignoring malformed frame", "user_id", profile.UserID, "error", err)
			continue
		}

		u := chat.Update{Profile: profile}
		switch in.Type {
		case "command":
			u.Command = in.Command
		case "text":
			u.Text = in.Text
		case "callback":
			u.CallbackData = in.Data
		default:
			h.logger.Debug("Ignoring unknown frame type", "user_id", profile.UserID, "type", in.Type)
			continue
		}

		if err := h.handler.Handle(ctx, u); err != nil {
			h.logger.Error("Failed to handle update", "user_id", profile.UserID, "error", err)
		}
	}
}

func (h *Hub) register(userID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[userID]; ok {
		_ = old.ws.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
	h.clients[userID] = c
}

func (h *Hub) unregister(userID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == c {
		delete(h.clients, userID)
	}
}

func (h *Hub) lookup(userID int64) (*client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotConnected, userID)
	}
	return c, nil
}

// SendText sends a message frame and returns its id.
func (h *Hub) SendText(ctx context.Context, chatID int64, text string, markup *chat.Markup) (int, error) {
	c, err := h.lookup(chatID)
	if err != nil {
		return 0, err
	}
	id := int(h.nextID.Add(1))
	if err := c.write(ctx, Outbound{Type: "message", ID: id, Text: text, Markup: markup}); err != nil {
		return 0, fmt.Errorf("write message: %w", err)
	}
	return id, nil
}

// SendDocument sends a document frame and returns its id.
func (h *Hub) SendDocument(ctx context.Context, chatID int64, doc domain.Document, caption string) (int, error) {
	c, err := h.lookup(chatID)
	if err != nil {
		return 0, err
	}
	id := int(h.nextID.Add(1))
	frame := Outbound{
		Type:        "document",
		ID:          id,
		Text:        caption,
		Name:        doc.Name,
		ContentType: doc.ContentType,
		Data:        doc.Data,
	}
	if err := c.write(ctx, frame); err != nil {
		return 0, fmt.Errorf("write document: %w", err)
	}
	return id, nil
}

// DeleteMessage asks the client to remove a message.
func (h *Hub) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	c, err := h.lookup(chatID)
	if err != nil {
		return err
	}
	return c.write(ctx, Outbound{Type: "delete", ID: messageID})
}

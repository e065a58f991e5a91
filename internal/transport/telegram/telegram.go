// Package telegram connects the chat engine to the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/studiora/internal/chat"
	"github.com/ashureev/studiora/internal/domain"
	"github.com/ashureev/studiora/internal/identity"
	tele "gopkg.in/telebot.v4"
	"gopkg.in/telebot.v4/middleware"
)

// Handler consumes inbound chat updates.
type Handler interface {
	Handle(ctx context.Context, u chat.Update) error
}

// Config controls the Telegram connection.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe call at construction.
	Offline bool
}

// Transport receives updates by long polling and implements chat.Messenger.
type Transport struct {
	bot     *tele.Bot
	handler Handler
	logger  *slog.Logger
	ctx     context.Context
}

// New creates a transport. Call SetHandler before Run.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{logger: logger, ctx: context.Background()}

	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			var userID int64
			if c != nil && c.Sender() != nil {
				userID = c.Sender().ID
			}
			logger.Error("Telegram handler error", "user_id", userID, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	return t, nil
}

// SetHandler sets the consumer of inbound updates.
func (t *Transport) SetHandler(h Handler) {
	t.handler = h
}

// Run registers handlers and polls until ctx is done.
func (t *Transport) Run(ctx context.Context) {
	t.ctx = ctx
	t.bot.Use(middleware.Recover())

	t.bot.Handle("/"+chat.CommandStart, t.onCommand(chat.CommandStart))
	t.bot.Handle("/"+chat.CommandHelp, t.onCommand(chat.CommandHelp))
	t.bot.Handle(tele.OnText, t.onText)
	t.bot.Handle(tele.OnCallback, t.onCallback)

	go func() {
		<-ctx.Done()
		t.bot.Stop()
	}()

	t.logger.Info("Telegram polling started", "bot", t.bot.Me.Username)
	t.bot.Start()
	t.logger.Info("Telegram polling stopped")
}

// SetCommands publishes the command menu.
func (t *Transport) SetCommands(descriptions map[string]string) error {
	cmds := make([]tele.Command, 0, len(descriptions))
	for _, name := range []string{chat.CommandStart, chat.CommandHelp} {
		if d, ok := descriptions[name]; ok {
			cmds = append(cmds, tele.Command{Text: name, Description: d})
		}
	}
	return t.bot.SetCommands(cmds)
}

func (t *Transport) onCommand(name string) tele.HandlerFunc {
	return func(c tele.Context) error {
		u := UpdateFrom(c.Sender())
		u.Command = name
		return t.dispatch(u)
	}
}

func (t *Transport) onText(c tele.Context) error {
	text := c.Text()
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
		cmd, _, _ = strings.Cut(cmd, "@")
		u := UpdateFrom(c.Sender())
		u.Command = cmd
		return t.dispatch(u)
	}
	u := UpdateFrom(c.Sender())
	u.Text = text
	return t.dispatch(u)
}

func (t *Transport) onCallback(c tele.Context) error {
	if err := c.Respond(); err != nil {
		t.logger.Debug("Failed to answer callback", "error", err)
	}
	u := UpdateFrom(c.Sender())
	u.CallbackData = CallbackData(c.Callback())
	return t.dispatch(u)
}

// dispatch logs handler errors instead of returning them, so an event that
// failed is dropped rather than reported twice.
func (t *Transport) dispatch(u chat.Update) error {
	if u.Profile.UserID == 0 {
		return nil
	}
	if err := t.handler.Handle(t.ctx, u); err != nil {
		t.logger.Error("Failed to handle update", "user_id", u.UserID(), "error", err)
	}
	return nil
}

// UpdateFrom builds an update carrying the sender's profile.
func UpdateFrom(sender *tele.User) chat.Update {
	if sender == nil {
		return chat.Update{}
	}
	return chat.Update{Profile: identity.Profile{
		UserID:       sender.ID,
		LanguageHint: sender.LanguageCode,
		Username:     sender.Username,
		FirstName:    sender.FirstName,
		LastName:     sender.LastName,
	}}
}

// CallbackData returns the payload of a callback, without telebot's
// unique-endpoint prefix if one is present.
func CallbackData(cb *tele.Callback) string {
	if cb == nil {
		return ""
	}
	data := strings.TrimPrefix(cb.Data, "\f")
	if cb.Unique != "" {
		data = strings.TrimPrefix(data, cb.Unique+"|")
	}
	return data
}

// Markup converts engine controls to Telegram reply markup.
func Markup(m *chat.Markup) *tele.ReplyMarkup {
	if m == nil {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	for _, row := range m.Inline {
		buttons := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rm.InlineKeyboard = append(rm.InlineKeyboard, buttons)
	}
	for _, row := range m.Menu {
		buttons := make([]tele.ReplyButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tele.ReplyButton{Text: label})
		}
		rm.ReplyKeyboard = append(rm.ReplyKeyboard, buttons)
	}
	if len(rm.ReplyKeyboard) > 0 {
		rm.ResizeKeyboard = true
	}
	return rm
}

// SendText sends a text message and returns its id.
func (t *Transport) SendText(_ context.Context, chatID int64, text string, markup *chat.Markup) (int, error) {
	var opts []interface{}
	if rm := Markup(markup); rm != nil {
		opts = append(opts, rm)
	}
	msg, err := t.bot.Send(tele.ChatID(chatID), text, opts...)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return msg.ID, nil
}

// SendDocument uploads a document and returns its message id.
func (t *Transport) SendDocument(_ context.Context, chatID int64, doc domain.Document, caption string) (int, error) {
	file := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(doc.Data)),
		FileName: doc.Name,
		MIME:     doc.ContentType,
		Caption:  caption,
	}
	msg, err := t.bot.Send(tele.ChatID(chatID), file)
	if err != nil {
		return 0, fmt.Errorf("send document: %w", err)
	}
	return msg.ID, nil
}

// DeleteMessage deletes a message from the chat.
func (t *Transport) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	return t.bot.Delete(tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID})
}

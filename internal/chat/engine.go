package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/studiora/internal/domain"
	"github.com/ashureev/studiora/internal/ephemeral"
	"github.com/ashureev/studiora/internal/history"
	"github.com/ashureev/studiora/internal/i18n"
	"github.com/ashureev/studiora/internal/identity"
	"github.com/ashureev/studiora/internal/session"
)

// DefaultGenerationTimeout bounds one lesson generation.
const DefaultGenerationTimeout = 2 * time.Minute

var languageNames = map[domain.Language]string{
	domain.LanguageEnglish:  "English",
	domain.LanguageRussian:  "Русский",
	domain.LanguageArmenian: "Հայերեն",
}

// Config tunes the engine.
type Config struct {
	GenerationTimeout time.Duration
	PageSize          int
}

// Engine is the per-user conversation state machine.
type Engine struct {
	cfg      Config
	backend  Backend
	msgr     Messenger
	resolver *identity.Resolver
	tracker  *ephemeral.Tracker
	sessions *session.Registry
	catalog  *i18n.Catalog
	logger   *slog.Logger

	generations sync.WaitGroup
}

// NewEngine wires an engine. The resolver should be backed by the same user
// records that backend reads.
func NewEngine(cfg Config, backend Backend, msgr Messenger, resolver *identity.Resolver, catalog *i18n.Catalog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = history.DefaultLimit
	}
	return &Engine{
		cfg:      cfg,
		backend:  backend,
		msgr:     msgr,
		resolver: resolver,
		tracker:  ephemeral.NewTracker(msgr, logger),
		sessions: session.NewRegistry(),
		catalog:  catalog,
		logger:   logger,
	}
}

// Sessions exposes the session registry.
func (e *Engine) Sessions() *session.Registry {
	return e.sessions
}

// Wait blocks until every started generation has finished.
func (e *Engine) Wait() {
	e.generations.Wait()
}

// Handle processes one update. Events of one user are handled one at a
// time; lesson generation continues in the background after Handle returns.
// A failed language resolution drops the event without any reply.
func (e *Engine) Handle(ctx context.Context, u Update) error {
	userID := u.UserID()
	lang, err := e.resolver.Resolve(ctx, u.Profile)
	if err != nil {
		return fmt.Errorf("resolve language: %w", err)
	}

	s, release := e.sessions.Acquire(userID)
	defer release()

	switch {
	case u.Command == CommandStart:
		return e.handleStart(ctx, s, lang)
	case u.Command == CommandHelp:
		return e.handleHelp(ctx, userID, lang)
	case u.Command != "":
		e.logger.Debug("Ignoring unknown command", "user_id", userID, "command", u.Command)
		return nil
	case u.CallbackData != "":
		return e.handleCallback(ctx, s, lang, u.CallbackData)
	default:
		return e.handleText(ctx, s, lang, u.Text)
	}
}

func (e *Engine) handleStart(ctx context.Context, s *session.Session, lang domain.Language) error {
	e.tracker.Flush(ctx, s.UserID)
	s.Reset()

	if err := e.send(ctx, s.UserID, e.catalog.T("start_message", lang), e.mainMenu(lang)); err != nil {
		return err
	}
	return e.sendTransient(ctx, s.UserID, e.catalog.T("choose_language", lang), e.languagePicker())
}

func (e *Engine) handleHelp(ctx context.Context, userID int64, lang domain.Language) error {
	e.tracker.Flush(ctx, userID)
	return e.send(ctx, userID, e.catalog.T("cmd_help_description", lang), e.mainMenu(lang))
}

func (e *Engine) handleText(ctx context.Context, s *session.Session, lang domain.Language, text string) error {
	text = strings.TrimSpace(text)
	switch {
	case e.catalog.Matches(text, "btn_create_lesson"):
		return e.enterLessonCreation(ctx, s, lang)
	case e.catalog.Matches(text, "btn_history"):
		s.Reset()
		return e.showHistory(ctx, s.UserID, lang, 0)
	case e.catalog.Matches(text, "btn_user"):
		s.Reset()
		return e.showUserInfo(ctx, s.UserID, lang)
	case e.catalog.Matches(text, "btn_settings"):
		s.Reset()
		return e.showSettings(ctx, s.UserID, lang)
	}

	if s.State != session.AwaitingLessonDetails {
		e.logger.Debug("Ignoring text outside lesson capture", "user_id", s.UserID, "state", s.State.String())
		return nil
	}
	return e.captureDetails(ctx, s, lang, text)
}

func (e *Engine) handleCallback(ctx context.Context, s *session.Session, lang domain.Language, data string) error {
	if newLang, ok := parseLanguageCallback(data); ok {
		return e.changeLanguage(ctx, s.UserID, newLang)
	}
	if offset, ok := parsePageCallback(data); ok {
		return e.showHistory(ctx, s.UserID, lang, offset)
	}

	switch data {
	case CallbackSettings:
		return e.showSettings(ctx, s.UserID, lang)
	case CallbackConfirm, CallbackEdit, CallbackCancel:
		if s.State != session.AwaitingConfirmation || s.Draft == nil {
			e.logger.Debug("Ignoring stale confirmation action", "user_id", s.UserID, "action", data, "state", s.State.String())
			return nil
		}
	default:
		e.logger.Debug("Ignoring unknown callback", "user_id", s.UserID, "data", data)
		return nil
	}

	switch data {
	case CallbackConfirm:
		return e.confirm(ctx, s, lang)
	case CallbackEdit:
		return e.edit(ctx, s, lang)
	default:
		return e.cancel(ctx, s, lang)
	}
}

// enterLessonCreation re-reads the server draft so a draft saved by an
// earlier session or process is offered for confirmation.
func (e *Engine) enterLessonCreation(ctx context.Context, s *session.Session, lang domain.Language) error {
	e.tracker.Flush(ctx, s.UserID)

	user, err := e.backend.GetUser(ctx, s.UserID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return e.fail(ctx, s.UserID, lang, fmt.Errorf("load draft: %w", err))
	}
	if user != nil && user.HasPendingRequest() {
		s.AwaitConfirmation(*user.LastRequest)
		return e.renderConfirmation(ctx, s.UserID, lang, *s.Draft)
	}

	s.AwaitDetails()
	return e.renderPrompt(ctx, s.UserID, lang)
}

func (e *Engine) captureDetails(ctx context.Context, s *session.Session, lang domain.Language, text string) error {
	draft, err := session.ParseDetails(text)
	if err != nil {
		return e.sendTransient(ctx, s.UserID, e.catalog.T("expecting_lesson_details_format", lang), nil)
	}
	if err := e.backend.SaveDraft(ctx, s.UserID, draft); err != nil {
		return e.fail(ctx, s.UserID, lang, fmt.Errorf("save draft: %w", err))
	}

	e.tracker.Flush(ctx, s.UserID)
	s.AwaitConfirmation(draft)
	return e.renderConfirmation(ctx, s.UserID, lang, draft)
}

func (e *Engine) confirm(ctx context.Context, s *session.Session, lang domain.Language) error {
	e.tracker.Flush(ctx, s.UserID)

	draft := *s.Draft
	s.Reset()

	noticeID, err := e.msgr.SendText(ctx, s.UserID, e.catalog.T("generating_lesson", lang), nil)
	if err != nil {
		e.logger.Warn("Failed to send generation notice", "user_id", s.UserID, "error", err)
		noticeID = 0
	}

	userID := s.UserID
	genCtx := context.WithoutCancel(ctx)
	e.generations.Add(1)
	go func() {
		defer e.generations.Done()
		e.generate(genCtx, userID, lang, draft, noticeID)
	}()
	return nil
}

// generate runs outside the session lock with copies of everything it
// needs. It never writes session state.
func (e *Engine) generate(ctx context.Context, userID int64, lang domain.Language, draft domain.LessonRequest, noticeID int) {
	genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	doc, err := e.backend.GenerateLesson(genCtx, userID, draft, lang)
	if noticeID != 0 {
		if derr := e.msgr.DeleteMessage(ctx, userID, noticeID); derr != nil {
			e.logger.Debug("Generation notice not deleted", "user_id", userID, "error", derr)
		}
	}
	if err != nil {
		e.logger.Error("Lesson generation failed", "user_id", userID, "topic", draft.Topic, "duration", time.Since(start), "error", err)
		e.notify(ctx, userID, e.catalog.T("generation_failed", lang), e.mainMenu(lang))
		return
	}

	if _, err := e.msgr.SendDocument(ctx, userID, doc, draft.Topic); err != nil {
		e.logger.Error("Failed to deliver lesson", "user_id", userID, "document", doc.Name, "error", err)
		e.notify(ctx, userID, e.catalog.T("request_failed", lang), nil)
		return
	}
	if err := e.backend.ClearDraft(ctx, userID); err != nil {
		e.logger.Warn("Failed to clear consumed draft", "user_id", userID, "error", err)
	}

	e.logger.Info("Lesson delivered", "user_id", userID, "document", doc.Name, "duration", time.Since(start))
	e.notify(ctx, userID, e.catalog.T("lesson_sent_successfully", lang), e.mainMenu(lang))
}

func (e *Engine) edit(ctx context.Context, s *session.Session, lang domain.Language) error {
	e.tracker.Flush(ctx, s.UserID)
	if err := e.backend.ClearDraft(ctx, s.UserID); err != nil {
		return e.fail(ctx, s.UserID, lang, fmt.Errorf("clear draft: %w", err))
	}
	s.AwaitDetails()
	return e.renderPrompt(ctx, s.UserID, lang)
}

func (e *Engine) cancel(ctx context.Context, s *session.Session, lang domain.Language) error {
	e.tracker.Flush(ctx, s.UserID)
	if err := e.backend.ClearDraft(ctx, s.UserID); err != nil {
		return e.fail(ctx, s.UserID, lang, fmt.Errorf("clear draft: %w", err))
	}
	s.Reset()
	return e.send(ctx, s.UserID, e.catalog.T("lesson_cancelled", lang), e.mainMenu(lang))
}

func (e *Engine) changeLanguage(ctx context.Context, userID int64, lang domain.Language) error {
	e.tracker.Flush(ctx, userID)
	// Persistence is best-effort; the resolver logs failures.
	_ = e.resolver.SetLanguage(ctx, userID, lang)

	text := e.catalog.T("language_set", lang, "lang", languageNames[lang])
	return e.send(ctx, userID, text, e.mainMenu(lang))
}

func (e *Engine) showSettings(ctx context.Context, userID int64, lang domain.Language) error {
	e.tracker.Flush(ctx, userID)
	return e.sendTransient(ctx, userID, e.catalog.T("button_settings", lang), e.languagePicker())
}

func (e *Engine) showUserInfo(ctx context.Context, userID int64, lang domain.Language) error {
	e.tracker.Flush(ctx, userID)

	user, err := e.backend.GetUser(ctx, userID)
	if err != nil {
		return e.fail(ctx, userID, lang, fmt.Errorf("load user: %w", err))
	}

	orNone := func(v string) string {
		if v == "" {
			return e.catalog.T("none", lang)
		}
		return v
	}
	var b strings.Builder
	b.WriteString(e.catalog.T("user_info_title", lang))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s: %s\n", e.catalog.T("username", lang), orNone(user.Username))
	fmt.Fprintf(&b, "%s: %s\n", e.catalog.T("first_name", lang), orNone(user.FirstName))
	fmt.Fprintf(&b, "%s: %s\n", e.catalog.T("last_name", lang), orNone(user.LastName))
	fmt.Fprintf(&b, "%s: %s", e.catalog.T("language", lang), languageNames[user.Language()])

	markup := &Markup{Inline: [][]Button{{{Text: e.catalog.T("btn_settings", lang), Data: CallbackSettings}}}}
	return e.sendTransient(ctx, userID, b.String(), markup)
}

// showHistory delivers one page of past lessons followed by a tracked
// navigation message. Documents deleted from storage are skipped.
func (e *Engine) showHistory(ctx context.Context, userID int64, lang domain.Language, offset int) error {
	e.tracker.Flush(ctx, userID)

	artifacts, err := e.backend.ListArtifacts(ctx, userID)
	if err != nil {
		return e.fail(ctx, userID, lang, fmt.Errorf("list artifacts: %w", err))
	}

	page := history.Paginate(artifacts, offset, e.cfg.PageSize)
	if page.Empty() {
		return e.sendTransient(ctx, userID, e.catalog.T("no_lessons_found", lang), nil)
	}
	if len(page.Items) == 0 {
		// Stale offset after documents were removed.
		page = history.Paginate(artifacts, page.LastOffset(), e.cfg.PageSize)
	}

	for _, name := range page.Items {
		doc, err := e.backend.FetchArtifact(ctx, userID, name)
		if errors.Is(err, domain.ErrArtifactNotFound) {
			e.logger.Debug("Skipping missing artifact", "user_id", userID, "name", name)
			continue
		}
		if err != nil {
			return e.fail(ctx, userID, lang, fmt.Errorf("fetch artifact %s: %w", name, err))
		}
		id, err := e.msgr.SendDocument(ctx, userID, doc, "📄 "+name)
		if err != nil {
			return fmt.Errorf("send artifact %s: %w", name, err)
		}
		e.tracker.Track(userID, id)
	}

	var nav []Button
	if page.HasPrev() {
		nav = append(nav, Button{Text: "⬅️", Data: PageCallback(page.PrevOffset())})
	}
	if page.HasNext() {
		nav = append(nav, Button{Text: "➡️", Data: PageCallback(page.NextOffset())})
	}
	var markup *Markup
	if len(nav) > 0 {
		markup = &Markup{Inline: [][]Button{nav}}
	}

	text := e.catalog.T("page_info", lang,
		"current_page", strconv.Itoa(page.CurrentPage()),
		"total_pages", strconv.Itoa(page.TotalPages()))
	return e.sendTransient(ctx, userID, text, markup)
}

func (e *Engine) renderPrompt(ctx context.Context, userID int64, lang domain.Language) error {
	text := fmt.Sprintf("1. %s\n2. %s\n3. %s\n\n%s\n%s",
		e.catalog.T("ask_study_topic", lang),
		e.catalog.T("ask_current_level", lang),
		e.catalog.T("ask_target_level", lang),
		e.catalog.T("enter_all_in_one_message", lang),
		e.catalog.T("example_input", lang))
	return e.sendTransient(ctx, userID, text, nil)
}

func (e *Engine) renderConfirmation(ctx context.Context, userID int64, lang domain.Language, d domain.LessonRequest) error {
	text := fmt.Sprintf("%s\n\n%s: %s\n%s: %s\n%s: %s",
		e.catalog.T("confirm_lesson", lang),
		e.catalog.T("ask_study_topic", lang), d.Topic,
		e.catalog.T("ask_current_level", lang), d.CurrentLevel,
		e.catalog.T("ask_target_level", lang), d.TargetLevel)

	markup := &Markup{Inline: [][]Button{
		{
			{Text: e.catalog.T("btn_confirm", lang), Data: CallbackConfirm},
			{Text: e.catalog.T("btn_edit", lang), Data: CallbackEdit},
		},
		{{Text: e.catalog.T("btn_cancel", lang), Data: CallbackCancel}},
	}}
	return e.sendTransient(ctx, userID, text, markup)
}

func (e *Engine) mainMenu(lang domain.Language) *Markup {
	return &Markup{Menu: [][]string{
		{e.catalog.T("btn_create_lesson", lang)},
		{e.catalog.T("btn_history", lang), e.catalog.T("btn_user", lang)},
		{e.catalog.T("btn_settings", lang)},
	}}
}

func (e *Engine) languagePicker() *Markup {
	row := make([]Button, 0, len(domain.Languages))
	for _, l := range domain.Languages {
		row = append(row, Button{Text: languageNames[l], Data: LanguageCallback(l)})
	}
	return &Markup{Inline: [][]Button{row}}
}

func (e *Engine) send(ctx context.Context, userID int64, text string, markup *Markup) error {
	if _, err := e.msgr.SendText(ctx, userID, text, markup); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (e *Engine) sendTransient(ctx context.Context, userID int64, text string, markup *Markup) error {
	id, err := e.msgr.SendText(ctx, userID, text, markup)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	e.tracker.Track(userID, id)
	return nil
}

// fail shows the generic failure notice and returns cause.
func (e *Engine) fail(ctx context.Context, userID int64, lang domain.Language, cause error) error {
	e.notify(ctx, userID, e.catalog.T("request_failed", lang), nil)
	return cause
}

func (e *Engine) notify(ctx context.Context, userID int64, text string, markup *Markup) {
	if _, err := e.msgr.SendText(ctx, userID, text, markup); err != nil {
		e.logger.Warn("Failed to send notice", "user_id", userID, "error", err)
	}
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/studiora/internal/domain"
	"github.com/ashureev/studiora/internal/i18n"
	"github.com/ashureev/studiora/internal/identity"
	"github.com/ashureev/studiora/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	ID     int
	ChatID int64
	Text   string
	Markup *Markup
	Doc    *domain.Document
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	deleted []int
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string, markup *Markup) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, sentMessage{ID: m.nextID, ChatID: chatID, Text: text, Markup: markup})
	return m.nextID, nil
}

func (m *fakeMessenger) SendDocument(_ context.Context, chatID int64, doc domain.Document, caption string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, sentMessage{ID: m.nextID, ChatID: chatID, Text: caption, Doc: &doc})
	return m.nextID, nil
}

func (m *fakeMessenger) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *fakeMessenger) last() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

func (m *fakeMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.Text)
	}
	return out
}

func (m *fakeMessenger) documents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.Doc != nil {
			out = append(out, s.Doc.Name)
		}
	}
	return out
}

func (m *fakeMessenger) documentIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, s := range m.sent {
		if s.Doc != nil {
			out = append(out, s.ID)
		}
	}
	return out
}

func (m *fakeMessenger) wasDeleted(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deleted {
		if d == id {
			return true
		}
	}
	return false
}

// fakeBackend serves both the engine and the identity resolver.
type fakeBackend struct {
	mu        sync.Mutex
	users     map[int64]*domain.User
	artifacts map[int64][]domain.Artifact
	missing   map[string]bool

	getErr      error
	saveErr     error
	generateErr error
	// hang makes GenerateLesson wait for its context to end.
	hang bool

	creates   int
	saves     int
	clears    int
	generated []domain.LessonRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:     make(map[int64]*domain.User),
		artifacts: make(map[int64][]domain.Artifact),
		missing:   make(map[string]bool),
	}
}

func (b *fakeBackend) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	u, ok := b.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	if u.LastRequest != nil {
		d := *u.LastRequest
		cp.LastRequest = &d
	}
	return &cp, nil
}

func (b *fakeBackend) CreateUser(_ context.Context, user *domain.User) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	cp := *user
	b.users[user.UserID] = &cp
	return nil
}

func (b *fakeBackend) UpdateLanguage(_ context.Context, userID int64, lang domain.Language) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.users[userID]; ok {
		u.LanguageCode = string(lang)
	}
	return nil
}

func (b *fakeBackend) SaveDraft(_ context.Context, userID int64, req domain.LessonRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.saves++
	b.users[userID].LastRequest = &req
	return nil
}

func (b *fakeBackend) ClearDraft(_ context.Context, userID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clears++
	b.users[userID].LastRequest = nil
	return nil
}

func (b *fakeBackend) GenerateLesson(ctx context.Context, _ int64, req domain.LessonRequest, lang domain.Language) (domain.Document, error) {
	b.mu.Lock()
	b.generated = append(b.generated, req)
	hang := b.hang
	b.mu.Unlock()
	if hang {
		<-ctx.Done()
		return domain.Document{}, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.generateErr != nil {
		return domain.Document{}, b.generateErr
	}
	return domain.Document{
		Name:        strings.ToLower(strings.ReplaceAll(req.Topic, " ", "_")) + "_" + string(lang) + ".html",
		ContentType: "text/html",
		Data:        []byte("<html></html>"),
	}, nil
}

func (b *fakeBackend) ListArtifacts(_ context.Context, userID int64) ([]domain.Artifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Artifact(nil), b.artifacts[userID]...), nil
}

func (b *fakeBackend) FetchArtifact(_ context.Context, _ int64, name string) (domain.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.missing[name] {
		return domain.Document{}, domain.ErrArtifactNotFound
	}
	return domain.Document{Name: name, ContentType: "text/html", Data: []byte(name)}, nil
}

func (b *fakeBackend) draft(userID int64) *domain.LessonRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[userID]
	if !ok {
		return nil
	}
	return u.LastRequest
}

type harness struct {
	engine  *Engine
	backend *fakeBackend
	msgr    *fakeMessenger
	catalog *i18n.Catalog
}

func newHarness(t *testing.T, backend *fakeBackend) *harness {
	t.Helper()
	if backend == nil {
		backend = newFakeBackend()
	}
	msgr := &fakeMessenger{}
	catalog := i18n.Default()
	resolver := identity.NewResolver(backend, nil)
	engine := NewEngine(Config{GenerationTimeout: time.Second, PageSize: 5}, backend, msgr, resolver, catalog, nil)
	return &harness{engine: engine, backend: backend, msgr: msgr, catalog: catalog}
}

func (h *harness) send(t *testing.T, u Update) {
	t.Helper()
	if u.Profile.UserID == 0 {
		u.Profile.UserID = 1
	}
	require.NoError(t, h.engine.Handle(context.Background(), u))
}

func (h *harness) text(t *testing.T, text string) {
	h.send(t, Update{Text: text})
}

func (h *harness) callback(t *testing.T, data string) {
	h.send(t, Update{CallbackData: data})
}

func (h *harness) state() session.State {
	return h.engine.Sessions().Snapshot(1).State
}

func (h *harness) t(key string) string {
	return h.catalog.T(key, domain.LanguageEnglish)
}

func TestStart_ProvisionsNewUserIdle(t *testing.T) {
	h := newHarness(t, nil)

	h.send(t, Update{Command: CommandStart, Profile: identity.Profile{UserID: 1, FirstName: "Ann"}})

	require.Contains(t, h.backend.users, int64(1))
	assert.Equal(t, "en", h.backend.users[1].LanguageCode)
	assert.Equal(t, session.Idle, h.state())
	assert.Equal(t, []string{h.t("start_message"), h.t("choose_language")}, h.msgr.texts())

	picker := h.msgr.last().Markup
	require.NotNil(t, picker)
	assert.Equal(t, "set_lang:ru", picker.Inline[0][1].Data)
}

func TestLessonCapture_SavesDraftAndConfirms(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})

	h.text(t, h.t("btn_create_lesson"))
	assert.Equal(t, session.AwaitingLessonDetails, h.state())
	promptID := h.msgr.last().ID

	h.text(t, "Spanish Grammar, A2, B2")

	assert.Equal(t, session.AwaitingConfirmation, h.state())
	want := domain.LessonRequest{Topic: "Spanish Grammar", CurrentLevel: "A2", TargetLevel: "B2"}
	assert.Equal(t, &want, h.backend.draft(1))
	assert.True(t, h.msgr.wasDeleted(promptID), "prompt is retired when the confirm card renders")

	card := h.msgr.last()
	assert.Contains(t, card.Text, "Spanish Grammar")
	assert.Contains(t, card.Text, "A2")
	assert.Contains(t, card.Text, "B2")
	require.NotNil(t, card.Markup)
	assert.Equal(t, CallbackConfirm, card.Markup.Inline[0][0].Data)
	assert.Equal(t, CallbackEdit, card.Markup.Inline[0][1].Data)
	assert.Equal(t, CallbackCancel, card.Markup.Inline[1][0].Data)
}

func TestLessonCapture_MalformedInputReprompts(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})
	h.text(t, h.t("btn_create_lesson"))

	for _, input := range []string{"Physics, A1", "a, b, c, d", " , "} {
		h.text(t, input)
		assert.Equal(t, session.AwaitingLessonDetails, h.state())
		assert.Equal(t, h.t("expecting_lesson_details_format"), h.msgr.last().Text)
	}
	assert.Zero(t, h.backend.saves)
	assert.Nil(t, h.backend.draft(1))
}

func TestLessonCapture_SaveFailureKeepsState(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})
	h.text(t, h.t("btn_create_lesson"))

	h.backend.saveErr = errors.New("503 service unavailable")
	err := h.engine.Handle(context.Background(), Update{Profile: identity.Profile{UserID: 1}, Text: "Go, A1, B1"})

	require.Error(t, err)
	assert.Equal(t, session.AwaitingLessonDetails, h.state())
	assert.Equal(t, h.t("request_failed"), h.msgr.last().Text)
}

func TestCancel_ClearsDraftAndReturnsIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})
	h.text(t, h.t("btn_create_lesson"))
	h.text(t, "Spanish Grammar, A2, B2")
	cardID := h.msgr.last().ID

	h.callback(t, CallbackCancel)

	assert.Equal(t, session.Idle, h.state())
	assert.Nil(t, h.backend.draft(1))
	assert.Equal(t, h.t("lesson_cancelled"), h.msgr.last().Text)
	assert.True(t, h.msgr.wasDeleted(cardID))
}

func TestEdit_ClearsDraftAndReprompts(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})
	h.text(t, h.t("btn_create_lesson"))
	h.text(t, "Spanish Grammar, A2, B2")

	h.callback(t, CallbackEdit)

	assert.Equal(t, session.AwaitingLessonDetails, h.state())
	assert.Nil(t, h.backend.draft(1))
	assert.Contains(t, h.msgr.last().Text, h.t("example_input"))
}

func TestConfirm_DeliversDocumentAndClearsDraft(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})
	h.text(t, h.t("btn_create_lesson"))
	h.text(t, "Spanish Grammar, A2, B2")

	h.callback(t, CallbackConfirm)
	assert.Equal(t, session.Idle, h.state())
	h.engine.Wait()

	assert.Equal(t, []string{"spanish_grammar_en.html"}, h.msgr.documents())
	assert.Nil(t, h.backend.draft(1))
	assert.Equal(t, h.t("lesson_sent_successfully"), h.msgr.last().Text)
}

func TestConfirm_GenerationFailureKeepsServerDraft(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})
	h.text(t, h.t("btn_create_lesson"))
	h.text(t, "Spanish Grammar, A2, B2")
	h.backend.generateErr = context.DeadlineExceeded

	h.callback(t, CallbackConfirm)
	h.engine.Wait()

	assert.Equal(t, session.Idle, h.state())
	require.NotNil(t, h.backend.draft(1))
	assert.Equal(t, "Spanish Grammar", h.backend.draft(1).Topic)
	assert.Zero(t, h.backend.clears)
	assert.Empty(t, h.msgr.documents())
	assert.Equal(t, h.t("generation_failed"), h.msgr.last().Text)
}

func TestConfirm_GenerationTimeoutBoundsHungBackend(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.cfg.GenerationTimeout = 50 * time.Millisecond
	h.send(t, Update{Command: CommandStart})
	h.text(t, h.t("btn_create_lesson"))
	h.text(t, "Spanish Grammar, A2, B2")
	h.backend.mu.Lock()
	h.backend.hang = true
	h.backend.mu.Unlock()

	start := time.Now()
	h.callback(t, CallbackConfirm)
	assert.Equal(t, session.Idle, h.state())

	done := make(chan struct{})
	go func() {
		h.engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("generation was not bounded by the timeout")
	}

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, session.Idle, h.state())
	assert.Equal(t, h.t("generation_failed"), h.msgr.last().Text)
	require.NotNil(t, h.backend.draft(1))
	assert.Zero(t, h.backend.clears)
	assert.Empty(t, h.msgr.documents())
}

func TestConfirm_StaleButtonIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})
	sent := len(h.msgr.texts())

	h.callback(t, CallbackConfirm)
	h.engine.Wait()

	assert.Len(t, h.msgr.texts(), sent)
	assert.Empty(t, h.backend.generated)
}

func TestLessonCreation_ReusesSavedDraftAcrossRestart(t *testing.T) {
	backend := newFakeBackend()
	first := newHarness(t, backend)
	first.send(t, Update{Command: CommandStart})
	first.text(t, first.t("btn_create_lesson"))
	first.text(t, "Spanish Grammar, A2, B2")

	second := newHarness(t, backend)
	second.send(t, Update{Command: CommandStart})
	assert.Equal(t, session.Idle, second.state())

	second.text(t, second.t("btn_create_lesson"))

	snap := second.engine.Sessions().Snapshot(1)
	assert.Equal(t, session.AwaitingConfirmation, snap.State)
	require.NotNil(t, snap.Draft)
	assert.Equal(t, domain.LessonRequest{Topic: "Spanish Grammar", CurrentLevel: "A2", TargetLevel: "B2"}, *snap.Draft)
	assert.Equal(t, 1, backend.creates)
}

func TestStart_ClearsLocalStateButKeepsServerDraft(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})
	h.text(t, h.t("btn_create_lesson"))
	h.text(t, "Spanish Grammar, A2, B2")
	cardID := h.msgr.last().ID

	h.send(t, Update{Command: CommandStart})

	assert.Equal(t, session.Idle, h.state())
	assert.NotNil(t, h.backend.draft(1))
	assert.True(t, h.msgr.wasDeleted(cardID))
}

func TestResolveFailure_DropsEvent(t *testing.T) {
	backend := newFakeBackend()
	backend.getErr = errors.New("connection refused")
	h := newHarness(t, backend)

	err := h.engine.Handle(context.Background(), Update{Profile: identity.Profile{UserID: 1}, Command: CommandStart})

	require.Error(t, err)
	assert.Empty(t, h.msgr.texts())
	assert.Zero(t, h.engine.Sessions().Len())
}

func TestSetLanguage_SwitchesCatalogAndPersists(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})

	h.callback(t, LanguageCallback(domain.LanguageRussian))

	assert.Equal(t, h.catalog.T("language_set", domain.LanguageRussian, "lang", "Русский"), h.msgr.last().Text)
	assert.Equal(t, h.catalog.T("btn_create_lesson", domain.LanguageRussian), h.msgr.last().Markup.Menu[0][0])
	assert.Eventually(t, func() bool {
		u, err := h.backend.GetUser(context.Background(), 1)
		return err == nil && u.LanguageCode == "ru"
	}, time.Second, 10*time.Millisecond)

	h.text(t, h.catalog.T("btn_settings", domain.LanguageRussian))
	assert.Equal(t, h.catalog.T("button_settings", domain.LanguageRussian), h.msgr.last().Text)
}

func TestMenuLabelsMatchInAnyLanguage(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})

	h.text(t, h.catalog.T("btn_create_lesson", domain.LanguageArmenian))

	assert.Equal(t, session.AwaitingLessonDetails, h.state())
}

func TestUserInfo_ShowsNoneForMissingFields(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart, Profile: identity.Profile{UserID: 1, Username: "ann"}})

	h.text(t, h.t("btn_user"))

	card := h.msgr.last()
	assert.Contains(t, card.Text, "ann")
	assert.Contains(t, card.Text, h.t("first_name")+": "+h.t("none"))
	assert.Contains(t, card.Text, "English")
	assert.Equal(t, CallbackSettings, card.Markup.Inline[0][0].Data)
}

func TestHistory_PagesAndSkipsMissing(t *testing.T) {
	backend := newFakeBackend()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		backend.artifacts[1] = append(backend.artifacts[1], domain.Artifact{
			Name:      fmt.Sprintf("doc_%02d.html", i),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	backend.missing["doc_10.html"] = true
	h := newHarness(t, backend)
	h.send(t, Update{Command: CommandStart})

	h.text(t, h.t("btn_history"))

	assert.Equal(t, []string{"doc_11.html", "doc_09.html", "doc_08.html", "doc_07.html"}, h.msgr.documents())
	pageOne := h.msgr.documentIDs()
	nav := h.msgr.last()
	assert.Equal(t, h.catalog.T("page_info", domain.LanguageEnglish, "current_page", "1", "total_pages", "3"), nav.Text)
	require.Len(t, nav.Markup.Inline[0], 1)
	assert.Equal(t, PageCallback(5), nav.Markup.Inline[0][0].Data)

	h.callback(t, PageCallback(5))
	for _, id := range pageOne {
		assert.True(t, h.msgr.wasDeleted(id), "page 1 document %d removed on navigation", id)
	}
	assert.True(t, h.msgr.wasDeleted(nav.ID))
	nav = h.msgr.last()
	assert.Equal(t, h.catalog.T("page_info", domain.LanguageEnglish, "current_page", "2", "total_pages", "3"), nav.Text)
	require.Len(t, nav.Markup.Inline[0], 2)

	h.callback(t, PageCallback(10))
	nav = h.msgr.last()
	require.Len(t, nav.Markup.Inline[0], 1)
	assert.Equal(t, PageCallback(5), nav.Markup.Inline[0][0].Data)
}

func TestHistory_CaptionsDocumentsWithName(t *testing.T) {
	backend := newFakeBackend()
	backend.artifacts[1] = []domain.Artifact{{Name: "go_basics.html", CreatedAt: time.Now()}}
	h := newHarness(t, backend)
	h.send(t, Update{Command: CommandStart})

	h.text(t, h.t("btn_history"))

	assert.Contains(t, h.msgr.texts(), "📄 go_basics.html")
}

func TestHistory_StaleOffsetShowsLastPage(t *testing.T) {
	backend := newFakeBackend()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		backend.artifacts[1] = append(backend.artifacts[1], domain.Artifact{
			Name:      fmt.Sprintf("doc_%02d.html", i),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	h := newHarness(t, backend)
	h.send(t, Update{Command: CommandStart})

	h.callback(t, PageCallback(40))

	assert.Equal(t, []string{"doc_01.html", "doc_00.html"}, h.msgr.documents())
	nav := h.msgr.last()
	assert.Equal(t, h.catalog.T("page_info", domain.LanguageEnglish, "current_page", "2", "total_pages", "2"), nav.Text)
	require.Len(t, nav.Markup.Inline[0], 1)
	assert.Equal(t, PageCallback(0), nav.Markup.Inline[0][0].Data)
}

func TestHistory_Empty(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})

	h.text(t, h.t("btn_history"))

	assert.Equal(t, h.t("no_lessons_found"), h.msgr.last().Text)
	assert.Empty(t, h.msgr.documents())
}

func TestTextOutsideCaptureIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, Update{Command: CommandStart})
	sent := len(h.msgr.texts())

	h.text(t, "Spanish Grammar, A2, B2")

	assert.Len(t, h.msgr.texts(), sent)
	assert.Zero(t, h.backend.saves)
}

package lesson

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/ashureev/studiora/internal/domain"
	"github.com/lithammer/shortuuid/v4"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// ContentType of generated documents.
const ContentType = "text/html; charset=utf-8"

var promptLanguages = map[domain.Language]string{
	domain.LanguageEnglish:  "English",
	domain.LanguageRussian:  "Russian",
	domain.LanguageArmenian: "Armenian",
}

const systemPrompt = "You are an experienced teacher who writes clear, well-structured study lessons."

var documentTemplate = template.Must(template.New("lesson").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; max-width: 46rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.55; }
h1, h2, h3 { font-family: Helvetica, Arial, sans-serif; }
code, pre { background: #f4f4f4; border-radius: 3px; }
pre { padding: .75rem; overflow-x: auto; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: .25rem .5rem; }
</style>
</head>
<body>
{{.Body}}
<hr>
<p><small>{{.Level}} · {{.Generated}}</small></p>
</body>
</html>
`))

// Generator produces lesson documents.
type Generator struct {
	llm    Completer
	md     goldmark.Markdown
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerator creates a generator using llm for lesson text.
func NewGenerator(llm Completer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		llm:    llm,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger: logger,
		now:    time.Now,
	}
}

// Generate asks the model for a lesson and renders it to a standalone
// HTML document.
func (g *Generator) Generate(ctx context.Context, req domain.LessonRequest, lang domain.Language) (domain.Document, error) {
	start := g.now()
	text, err := g.llm.Complete(ctx, systemPrompt, BuildPrompt(req, lang))
	if err != nil {
		return domain.Document{}, fmt.Errorf("generate lesson text: %w", err)
	}

	var body bytes.Buffer
	if err := g.md.Convert([]byte(text), &body); err != nil {
		return domain.Document{}, fmt.Errorf("render lesson markdown: %w", err)
	}

	var out bytes.Buffer
	err = documentTemplate.Execute(&out, struct {
		Lang      string
		Title     string
		Body      template.HTML
		Level     string
		Generated string
	}{
		Lang:      string(lang),
		Title:     req.Topic,
		Body:      template.HTML(body.String()),
		Level:     req.CurrentLevel + " → " + req.TargetLevel,
		Generated: start.UTC().Format("2006-01-02"),
	})
	if err != nil {
		return domain.Document{}, fmt.Errorf("render lesson document: %w", err)
	}

	doc := domain.Document{
		Name:        DocumentName(req.Topic),
		ContentType: ContentType,
		Data:        out.Bytes(),
	}
	g.logger.Info("Lesson generated", "topic", req.Topic, "language", lang, "document", doc.Name, "duration", g.now().Sub(start))
	return doc, nil
}

// BuildPrompt returns the model instruction for a lesson request.
func BuildPrompt(req domain.LessonRequest, lang domain.Language) string {
	name, ok := promptLanguages[lang]
	if !ok {
		name = promptLanguages[domain.DefaultLanguage]
	}
	return fmt.Sprintf(`Create a detailed educational lesson.

Topic: %q
Current level: %s
Target level: %s
Lesson language: %s

The lesson must include:
1. Introduction
2. Key concepts and theory
3. Examples with explanations
4. Practice exercises (at least 3)
5. Summary and study tips
6. Self-check questions (5 questions with answers)

Requirements:
- Write the whole lesson in %s.
- Answer in Markdown only: headings, lists, emphasis, code blocks and tables.
- Start with a level-one heading containing the lesson title.
- Do not wrap the answer in a code fence.

Content must be understandable for a student at %s and help reach %s.`,
		req.Topic, req.CurrentLevel, req.TargetLevel, name, name, req.CurrentLevel, req.TargetLevel)
}

// DocumentName derives a unique file name from a topic: letters, digits,
// spaces and underscores survive, spaces become underscores.
func DocumentName(topic string) string {
	var b strings.Builder
	for _, r := range topic {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' {
			b.WriteRune(r)
		}
	}
	base := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_"))
	if base == "" {
		base = "lesson"
	}
	return base + "_" + shortuuid.New() + ".html"
}

// Package i18n provides localized interface strings.
package i18n

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ashureev/studiora/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed translations.yaml
var defaultTranslations []byte

// Catalog maps translation keys to per-language strings.
type Catalog struct {
	entries map[string]map[domain.Language]string
}

// Load parses a YAML catalog of the form key -> language -> text.
func Load(data []byte) (*Catalog, error) {
	raw := map[string]map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse translations: %w", err)
	}

	c := &Catalog{entries: make(map[string]map[domain.Language]string, len(raw))}
	for key, texts := range raw {
		byLang := make(map[domain.Language]string, len(texts))
		for tag, text := range texts {
			lang, ok := domain.ParseLanguage(tag)
			if !ok {
				return nil, fmt.Errorf("translation %q: unsupported language %q", key, tag)
			}
			byLang[lang] = text
		}
		c.entries[key] = byLang
	}
	return c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Load(defaultTranslations)
	if err != nil {
		panic("i18n: embedded translations are invalid: " + err.Error())
	}
	return c
}

// T returns the text for key in lang, falling back to English, then to "".
// params are name/value pairs substituted into {name} placeholders.
func (c *Catalog) T(key string, lang domain.Language, params ...string) string {
	texts := c.entries[key]
	text, ok := texts[lang]
	if !ok {
		text = texts[domain.DefaultLanguage]
	}
	if len(params) < 2 {
		return text
	}

	pairs := make([]string, 0, len(params))
	for i := 0; i+1 < len(params); i += 2 {
		pairs = append(pairs, "{"+params[i]+"}", params[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Matches reports whether text equals the translation of key in any language.
func (c *Catalog) Matches(text, key string) bool {
	if text == "" {
		return false
	}
	for _, t := range c.entries[key] {
		if t == text {
			return true
		}
	}
	return false
}

// Package i18n holds the bot texts. Every locales/<lang>.json file is a flat key to text map;
// texts use {name} placeholders filled by GetWithData.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
)

//go:embed locales/*.json
var localesFS embed.FS

// DefaultLanguage is used for users without a supported Telegram language and for broadcasts.
const DefaultLanguage = "ru"

// Localizer resolves texts by language and key. It is read-only after NewLocalizer.
type Localizer struct {
	translations map[string]map[string]string
	languages    []string
}

// NewLocalizer loads every embedded locale. The default language must be among them.
func NewLocalizer() (*Localizer, error) {
	entries, err := fs.ReadDir(localesFS, "locales")
	if err != nil {
		return nil, fmt.Errorf("failed to list locales: %w", err)
	}

	locale := &Localizer{translations: make(map[string]map[string]string, len(entries))}
	for _, entry := range entries {
		lang := strings.TrimSuffix(entry.Name(), path.Ext(entry.Name()))
		translations, err := readLocale(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to load language %s: %w", lang, err)
		}
		locale.translations[lang] = translations
		locale.languages = append(locale.languages, lang)
	}
	slices.Sort(locale.languages)

	if _, ok := locale.translations[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("default language %s has no locale file", DefaultLanguage)
	}
	return locale, nil
}

func readLocale(name string) (map[string]string, error) {
	data, err := localesFS.ReadFile(path.Join("locales", name))
	if err != nil {
		return nil, fmt.Errorf("failed to read locale file %s: %w", name, err)
	}

	var translations map[string]string
	if err = json.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal locale file %s: %w", name, err)
	}
	return translations, nil
}

// Get returns the text for key in lang.
// Missing keys fall back to the default language, then to the key itself.
func (l *Localizer) Get(lang, key string) string {
	if translation, ok := l.translations[lang][key]; ok {
		return translation
	}
	if translation, ok := l.translations[DefaultLanguage][key]; ok {
		return translation
	}
	return key
}

// GetWithData returns the text for key with every {name} placeholder replaced from data.
// Replacement is a single pass, so values that contain braces are left alone.
// Example: GetWithData("en", "submit.done", map[string]any{"client": 41256}).
func (l *Localizer) GetWithData(lang, key string, data map[string]any) string {
	pairs := make([]string, 0, 2*len(data)) //nolint:mnd // placeholder + value
	for name, value := range data {
		pairs = append(pairs, "{"+name+"}", fmt.Sprint(value))
	}
	return strings.NewReplacer(pairs...).Replace(l.Get(lang, key))
}

// Languages returns the loaded language codes, sorted.
func (l *Localizer) Languages() []string {
	return slices.Clone(l.languages)
}

// NormalizeLanguageCode maps a Telegram language code to a supported language.
func NormalizeLanguageCode(telegramLang string) string {
	if strings.HasPrefix(strings.ToLower(telegramLang), "en") {
		return "en"
	}
	return DefaultLanguage
}

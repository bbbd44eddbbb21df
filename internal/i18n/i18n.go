// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package i18n provides localized CLI messages for Keyless. Translations are
// YAML files embedded from locales/ and loaded into a go-i18n bundle.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var (
	mu        sync.RWMutex
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
	current   string
)

// Init loads every embedded locale and selects lang. An unknown language
// falls back to English.
func Init(lang string) {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + f.Name())
		if err != nil {
			continue
		}
		_, _ = b.ParseMessageFileBytes(data, f.Name())
	}

	lang = normalize(lang, b)
	mu.Lock()
	bundle = b
	localizer = i18n.NewLocalizer(b, lang)
	current = lang
	mu.Unlock()
}

// normalize returns lang when the bundle carries it, else "en".
func normalize(lang string, b *i18n.Bundle) string {
	lang = strings.TrimSpace(lang)
	for _, tag := range b.LanguageTags() {
		if strings.EqualFold(tag.String(), lang) {
			return tag.String()
		}
	}
	if base, err := language.ParseBase(strings.SplitN(lang, "-", 2)[0]); err == nil {
		for _, tag := range b.LanguageTags() {
			if tb, _ := tag.Base(); tb == base {
				return tag.String()
			}
		}
	}
	return "en"
}

// SetLang changes the active language.
func SetLang(lang string) {
	Init(lang)
}

// GetLang returns the active language tag.
func GetLang() string {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// GetAvailableLocales maps each embedded language tag to its name in that
// language.
func GetAvailableLocales() map[string]string {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	out := map[string]string{}
	for _, tag := range bundle.LanguageTags() {
		name := display.Self.Name(tag)
		if name == "" {
			name = tag.String()
		}
		out[tag.String()] = name
	}
	return out
}

// Languages returns the embedded language tags in sorted order.
func Languages() []string {
	av := GetAvailableLocales()
	out := make([]string, 0, len(av))
	for k := range av {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func ensure() {
	mu.RLock()
	ready := localizer != nil
	mu.RUnlock()
	if !ready {
		Init("en")
	}
}

// T translates messageID. A single map[string]any argument is passed as
// template data; other arguments are applied fmt-style to the translation.
// An unknown ID is returned as is.
func T(messageID string, args ...any) string {
	ensure()
	mu.RLock()
	loc := localizer
	mu.RUnlock()

	cfg := &i18n.LocalizeConfig{MessageID: messageID}
	if len(args) == 1 {
		if data, ok := args[0].(map[string]any); ok {
			cfg.TemplateData = data
			args = nil
		}
	}
	msg, err := loc.Localize(cfg)
	if err != nil {
		msg = messageID
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

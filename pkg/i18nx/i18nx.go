// Package i18nx resolves the caller's language and translates message keys
// through the x/text message catalog.
package i18nx

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// LangParam is the query parameter used to select a language.
	LangParam = "lang"
	// LangCookieName stores the user's language preference.
	LangCookieName = "tabauth_lang"
)

var (
	supported = []language.Tag{language.English, language.French}
	matcher   = language.NewMatcher(supported)
)

// Translator renders a message key in one language. Unknown keys are
// returned unchanged.
type Translator func(key string, args ...any) string

// Supported returns the list of supported language tags.
func Supported() []language.Tag {
	return append([]language.Tag(nil), supported...)
}

// Default returns the default language tag.
func Default() language.Tag { return language.English }

// New returns a Translator for tag.
func New(tag language.Tag) Translator {
	p := message.NewPrinter(Match(tag))
	return func(key string, args ...any) string {
		return p.Sprintf(key, args...)
	}
}

// Match maps any tags onto the closest supported one.
func Match(tags ...language.Tag) language.Tag {
	_, i, conf := matcher.Match(tags...)
	if conf == language.No {
		return Default()
	}
	return supported[i]
}

// Parse maps a raw tag string to a supported language.
func Parse(value string) (language.Tag, bool) {
	tag, err := language.Parse(strings.TrimSpace(value))
	if err != nil {
		return Default(), false
	}
	return Match(tag), true
}

// ResolveTag picks the request language from the lang query param, then the
// language cookie, then Accept-Language.
func ResolveTag(r *http.Request) language.Tag {
	if r == nil {
		return Default()
	}
	if v := r.URL.Query().Get(LangParam); v != "" {
		if tag, ok := Parse(v); ok {
			return tag
		}
	}
	if c, err := r.Cookie(LangCookieName); err == nil {
		if tag, ok := Parse(c.Value); ok {
			return tag
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			return Match(tags...)
		}
	}
	return Default()
}

// FromRequest is New(ResolveTag(r)).
func FromRequest(r *http.Request) Translator {
	return New(ResolveTag(r))
}

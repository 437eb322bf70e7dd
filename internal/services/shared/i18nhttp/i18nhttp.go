// Package i18nhttp picks the wallet locale for a request and exposes the
// language switcher options.
package i18nhttp

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/louisbranch/ledgerwallet/internal/platform/i18n/catalog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// LangParam is the query parameter used to select a language.
	LangParam = "lang"
	// LangCookieName stores the user's language preference.
	LangCookieName = "wallet_lang"
)

var (
	supported = []language.Tag{language.AmericanEnglish, language.BrazilianPortuguese}
	matcher   = language.NewMatcher(supported)
)

// LanguageOption represents a supported language option in UI surfaces.
type LanguageOption struct {
	Tag    string
	Label  string
	URL    string
	Active bool
}

// Supported returns the list of supported language tags.
func Supported() []language.Tag {
	return append([]language.Tag(nil), supported...)
}

// Default returns the default language tag.
func Default() language.Tag {
	return language.AmericanEnglish
}

// Printer returns a message printer for the supplied tag, backed by the
// embedded wallet catalog.
func Printer(tag language.Tag) *message.Printer {
	return catalog.Default().Printer(tag)
}

// ParseTag maps a user-supplied value onto a supported tag.
func ParseTag(value string) (language.Tag, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return language.Und, false
	}
	tag, err := language.Parse(value)
	if err != nil {
		return language.Und, false
	}
	matched, _, confidence := matcher.Match(tag)
	if confidence == language.No {
		return language.Und, false
	}
	return supportedTag(matched), true
}

// ResolveTag determines the best language tag for the request.
// The bool indicates whether the lang query param should be persisted as a cookie.
func ResolveTag(r *http.Request) (language.Tag, bool) {
	if r == nil {
		return Default(), false
	}

	if langValue := strings.TrimSpace(r.URL.Query().Get(LangParam)); langValue != "" {
		if tag, ok := ParseTag(langValue); ok {
			return tag, true
		}
	}

	if cookie, err := r.Cookie(LangCookieName); err == nil {
		if tag, ok := ParseTag(cookie.Value); ok {
			return tag, false
		}
	}

	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			matched, _, confidence := matcher.Match(tags...)
			if confidence != language.No {
				return supportedTag(matched), false
			}
		}
	}

	return Default(), false
}

// SetLanguageCookie persists the selected language on the response.
func SetLanguageCookie(w http.ResponseWriter, tag language.Tag) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     LangCookieName,
		Value:    tag.String(),
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// BuildLanguageOptions returns the switcher entries for path with the active
// tag marked. Labels come from the printer.
func BuildLanguageOptions(printer *message.Printer, path string, active language.Tag) []LanguageOption {
	options := make([]LanguageOption, 0, len(supported))
	for _, tag := range supported {
		label := tag.String()
		if printer != nil {
			label = printer.Sprintf(LanguageKeyLabel(tag))
		}
		options = append(options, LanguageOption{
			Tag:    tag.String(),
			Label:  label,
			URL:    LanguageURL(path, "", tag.String()),
			Active: tag == active,
		})
	}
	return options
}

// LanguageURL returns the current URL with the language param updated.
func LanguageURL(path string, rawQuery string, tag string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "/"
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		query = url.Values{}
	}
	query.Set(LangParam, tag)
	return (&url.URL{Path: path, RawQuery: query.Encode()}).String()
}

// LanguageKeyLabel maps a language tag to its catalog label key.
func LanguageKeyLabel(tag language.Tag) string {
	switch base, _ := tag.Base(); base.String() {
	case "pt":
		return "nav.lang_pt_br"
	case "en":
		return "nav.lang_en"
	default:
		return tag.String()
	}
}

// supportedTag strips the matcher's -u- extensions so the result compares
// equal to an entry of supported.
func supportedTag(matched language.Tag) language.Tag {
	base, _ := matched.Base()
	for _, tag := range supported {
		if b, _ := tag.Base(); b == base {
			return tag
		}
	}
	return Default()
}

// Package catalog holds the wallet's translated copy.
//
// Each locale lives in locales/<tag>/<namespace>.yaml as flat
// `message.id: "quoted text"` lines. Values are x/text format strings, so
// arguments like token amounts are formatted for the printer's language.
package catalog

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	xcatalog "golang.org/x/text/message/catalog"
)

// BaseLocale is the source locale every other locale translates.
const BaseLocale = "en-US"

//go:embed locales/*/*.yaml
var embedded embed.FS

// Bundle is a parsed set of locale catalogs.
type Bundle struct {
	messages map[string]map[string]string
	builder  *xcatalog.Builder
}

var (
	defaultOnce   sync.Once
	defaultBundle *Bundle
)

// Default returns the embedded bundle. Embedded catalogs are part of the
// binary, so a load failure panics.
func Default() *Bundle {
	defaultOnce.Do(func() {
		bundle, err := Load(embedded)
		if err != nil {
			panic(fmt.Sprintf("load embedded catalogs: %v", err))
		}
		defaultBundle = bundle
	})
	return defaultBundle
}

// Load parses every locales/*/*.yaml file in fsys. Keys must be unique
// within a locale across all of its files, and BaseLocale must exist.
func Load(fsys fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(fsys, "locales/*/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	b := &Bundle{messages: map[string]map[string]string{}}
	for _, p := range paths {
		locale := path.Base(path.Dir(p))
		if _, err := language.Parse(locale); err != nil {
			return nil, fmt.Errorf("catalog %s: locale directory %q: %w", p, locale, err)
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		messages, ok := b.messages[locale]
		if !ok {
			messages = map[string]string{}
			b.messages[locale] = messages
		}
		if err := parse(p, data, messages); err != nil {
			return nil, err
		}
	}
	if _, ok := b.messages[BaseLocale]; !ok {
		return nil, fmt.Errorf("base locale %s has no catalog", BaseLocale)
	}

	base := b.messages[BaseLocale]
	b.builder = xcatalog.NewBuilder(xcatalog.Fallback(language.MustParse(BaseLocale)))
	for _, locale := range b.Locales() {
		tag := language.MustParse(locale)
		// Untranslated keys are registered with the base text so printers
		// never fall through to the raw message id.
		merged := make(map[string]string, len(base))
		for key, value := range base {
			merged[key] = value
		}
		for key, value := range b.messages[locale] {
			merged[key] = value
		}
		for _, key := range sortedKeys(merged) {
			if err := b.builder.SetString(tag, key, merged[key]); err != nil {
				return nil, fmt.Errorf("register %s %q: %w", locale, key, err)
			}
		}
	}
	return b, nil
}

func parse(name string, data []byte, into map[string]string) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, raw, ok := strings.Cut(text, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("%s:%d: want `key: \"value\"`", name, line)
		}
		value, err := strconv.Unquote(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s:%d: value for %q must be a quoted string: %w", name, line, key, err)
		}
		if _, dup := into[key]; dup {
			return fmt.Errorf("%s:%d: duplicate key %q", name, line, key)
		}
		into[key] = value
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

// Printer returns a printer that formats with this bundle's messages.
// Keys missing from a locale print the BaseLocale text.
func (b *Bundle) Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(b.builder))
}

// HasLocale reports whether the bundle has a catalog for locale.
func (b *Bundle) HasLocale(locale string) bool {
	_, ok := b.messages[strings.TrimSpace(locale)]
	return ok
}

// Locales returns the locale identifiers in the bundle, sorted.
func (b *Bundle) Locales() []string {
	return sortedKeys(b.messages)
}

// Message returns the raw text for key, falling back to BaseLocale.
func (b *Bundle) Message(locale, key string) (string, bool) {
	if value, ok := b.messages[strings.TrimSpace(locale)][key]; ok {
		return value, true
	}
	value, ok := b.messages[BaseLocale][key]
	return value, ok
}

// MissingKeys lists base-locale keys that locale does not translate.
func (b *Bundle) MissingKeys(locale string) []string {
	translated := b.messages[strings.TrimSpace(locale)]
	var missing []string
	for _, key := range sortedKeys(b.messages[BaseLocale]) {
		if _, ok := translated[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

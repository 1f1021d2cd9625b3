package services

import (
	"regexp"
	"strings"
	"sync"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	nonSearchableRegex = regexp.MustCompile(`[^a-z0-9\s]+`)
	whitespaceRegex    = regexp.MustCompile(`\s+`)
)

// NormalizeName lowercases s, strips everything outside [a-z0-9\s] and
// collapses whitespace.
func NormalizeName(s string) string {
	lower := strings.ToLower(s)
	stripped := nonSearchableRegex.ReplaceAllString(lower, "")
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(stripped, " "))
}

// TitleCase returns the canonical display form of a property name.
func TitleCase(s string) string {
	fields := strings.Fields(s)
	return cases.Title(language.English).String(strings.Join(fields, " "))
}

type propertyEntry struct {
	key       string
	canonical string
}

// PropertyMap maps normalized property names to canonical display names.
// Entries are only ever added; iteration follows insertion order so names
// loaded from the registry take priority over names learned later.
type PropertyMap struct {
	mu      sync.RWMutex
	entries []propertyEntry
	index   map[string]int
}

// NewPropertyMap seeds the map from registry records.
func NewPropertyMap(records []models.PropertyRecord) *PropertyMap {
	m := &PropertyMap{index: make(map[string]int, len(records))}
	for _, rec := range records {
		m.Add(rec.Name)
	}
	return m
}

// Add inserts name and returns its canonical form. Re-adding a known key
// replaces its canonical value in place.
func (m *PropertyMap) Add(name string) string {
	key := NormalizeName(name)
	if key == "" {
		return ""
	}
	canonical := TitleCase(name)

	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[key]; ok {
		m.entries[i].canonical = canonical
		return canonical
	}
	m.index[key] = len(m.entries)
	m.entries = append(m.entries, propertyEntry{key: key, canonical: canonical})
	return canonical
}

// Match returns the canonical value of the first key, in insertion order,
// that is a substring of the normalized filename.
func (m *PropertyMap) Match(filename string) (string, bool) {
	normalized := NormalizeName(filename)
	if normalized == "" {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if strings.Contains(normalized, e.key) {
			return e.canonical, true
		}
	}
	return "", false
}

// Lookup returns the canonical value stored under name's normalized key.
func (m *PropertyMap) Lookup(name string) (string, bool) {
	key := NormalizeName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[key]
	if !ok {
		return "", false
	}
	return m.entries[i].canonical, true
}

// Len returns the number of entries.
func (m *PropertyMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Language tags the language a book is written in.
type Language string

const (
	LanguageVietnamese Language = "Vietnamese"
	LanguageEnglish    Language = "English"
	LanguageOther      Language = "other"
)

// UnknownField is the value used for absent title, author and category fields.
const UnknownField = "Unknown"

// ParseLanguage maps a free-form source value onto the Language enum.
func ParseLanguage(raw string) Language {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "vietnamese", "vi", "vi-vn", "tiếng việt":
		return LanguageVietnamese
	case "english", "en", "en-us", "en-gb", "tiếng anh":
		return LanguageEnglish
	default:
		return LanguageOther
	}
}

// BookRecord is one normalised catalog entry. Records are immutable once loaded.
type BookRecord struct {
	Title    string   `json:"title"`
	Author   string   `json:"author"`
	Category string   `json:"category"`
	Summary  string   `json:"summary"`
	Language Language `json:"language"`
}

// rawRecord mirrors the source mapping; every field is optional.
type rawRecord struct {
	Title    *string
	Author   *string
	Category *string
	Summary  *string
	Language *string
}

func (r rawRecord) normalize() BookRecord {
	rec := BookRecord{
		Title:    orDefault(r.Title, UnknownField),
		Author:   orDefault(r.Author, UnknownField),
		Category: orDefault(r.Category, UnknownField),
		Summary:  orDefault(r.Summary, ""),
		Language: LanguageOther,
	}
	if r.Language != nil {
		rec.Language = ParseLanguage(*r.Language)
	}
	return rec
}

func orDefault(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return fallback
	}
	return s
}

// Catalog is the ordered list of records grounding the assistant. It is either
// fully populated or empty.
type Catalog struct {
	records []BookRecord
}

// New copies records into a Catalog, preserving order.
func New(records []BookRecord) Catalog {
	if len(records) == 0 {
		return Catalog{}
	}
	return Catalog{records: append([]BookRecord(nil), records...)}
}

func (c Catalog) Len() int { return len(c.records) }

func (c Catalog) Empty() bool { return len(c.records) == 0 }

// Records returns a copy of the records in load order.
func (c Catalog) Records() []BookRecord {
	return append([]BookRecord(nil), c.records...)
}

// Fingerprint identifies the catalog content; equal catalogs share a fingerprint.
func (c Catalog) Fingerprint() string {
	h := sha256.New()
	for _, r := range c.records {
		for _, f := range []string{r.Title, r.Author, r.Category, r.Summary, string(r.Language)} {
			h.Write([]byte(f))
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Stats is the read-only counter projection shown next to the transcript.
type Stats struct {
	Total      int            `json:"total"`
	Vietnamese int            `json:"vietnamese"`
	English    int            `json:"english"`
	Other      int            `json:"other"`
	Categories map[string]int `json:"categories"`
}

func (c Catalog) Stats() Stats {
	s := Stats{Total: len(c.records), Categories: make(map[string]int)}
	for _, r := range c.records {
		switch r.Language {
		case LanguageVietnamese:
			s.Vietnamese++
		case LanguageEnglish:
			s.English++
		default:
			s.Other++
		}
		s.Categories[r.Category]++
	}
	return s
}

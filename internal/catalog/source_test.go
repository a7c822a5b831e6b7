package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFileSourceMissingFileIsUnavailable(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "library_database.json"))
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCatalogUnavailable), "err = %v", err)
}

func TestFileSourceDecodesJSONWithDefaults(t *testing.T) {
	path := writeFile(t, "books.json", `[
		{"title":"Dế Mèn","author":"Tô Hoài","category":"Fiction","summary":"Phiêu lưu ký","language":"Vietnamese"},
		{"title":"Dune","language":"english"},
		{}
	]`)

	records, err := NewFileSource(path).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, BookRecord{
		Title: "Dế Mèn", Author: "Tô Hoài", Category: "Fiction", Summary: "Phiêu lưu ký", Language: LanguageVietnamese,
	}, records[0])
	assert.Equal(t, "Dune", records[1].Title)
	assert.Equal(t, UnknownField, records[1].Author)
	assert.Equal(t, LanguageEnglish, records[1].Language)
	assert.Equal(t, BookRecord{
		Title: UnknownField, Author: UnknownField, Category: UnknownField, Language: LanguageOther,
	}, records[2])
}

func TestFileSourceDecodesYAML(t *testing.T) {
	path := writeFile(t, "books.yaml", `
- title: The Hobbit
  author: J.R.R. Tolkien
  category: Fantasy
  language: English
- title: Nhật ký Đặng Thùy Trâm
  language: vi
`)
	records, err := NewFileSource(path).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, LanguageEnglish, records[0].Language)
	assert.Equal(t, LanguageVietnamese, records[1].Language)
}

func TestFileSourceRejectsMalformedDocuments(t *testing.T) {
	cases := map[string]string{
		"invalid json":       `[{"title": `,
		"object root":        `{"title":"x"}`,
		"non mapping record": `[{"title":"ok"}, 42]`,
		"non string field":   `[{"title": 7}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, "books.json", body)
			_, err := NewFileSource(path).Fetch(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCatalogCorrupt), "err = %v", err)
		})
	}
}

func TestFileSourceNullDocumentIsEmpty(t *testing.T) {
	path := writeFile(t, "books.json", `null`)
	records, err := NewFileSource(path).Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseLanguage(t *testing.T) {
	assert.Equal(t, LanguageVietnamese, ParseLanguage(" Vietnamese "))
	assert.Equal(t, LanguageEnglish, ParseLanguage("EN"))
	assert.Equal(t, LanguageOther, ParseLanguage("French"))
	assert.Equal(t, LanguageOther, ParseLanguage(""))
}

func TestStatsScenarioSingleVietnameseBook(t *testing.T) {
	c := New([]BookRecord{{
		Title: "Dế Mèn", Author: "Tô Hoài", Category: "Fiction", Summary: "...", Language: LanguageVietnamese,
	}})
	s := c.Stats()
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Vietnamese)
	assert.Equal(t, 0, s.English)
	assert.Equal(t, map[string]int{"Fiction": 1}, s.Categories)
}

func TestCatalogFingerprintTracksContent(t *testing.T) {
	a := New([]BookRecord{{Title: "A"}})
	b := New([]BookRecord{{Title: "A"}})
	c := New([]BookRecord{{Title: "B"}})
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

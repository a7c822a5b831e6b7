package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Source produces raw catalog records from an external store. Implementations
// wrap ErrCatalogUnavailable or ErrCatalogCorrupt so the loader can classify failures.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]BookRecord, error)
}

// FileSource reads a UTF-8 JSON array or YAML sequence of record mappings.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: strings.TrimSpace(path)}
}

func (s *FileSource) Name() string { return "file:" + s.path }

func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Fetch(ctx context.Context) ([]BookRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	if s.path == "" {
		return nil, fmt.Errorf("%w: no catalog path configured", ErrCatalogUnavailable)
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrCatalogUnavailable, s.path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrCatalogUnavailable, s.path, err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrCatalogCorrupt, s.path)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	var root any
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &root); err != nil {
			return nil, fmt.Errorf("%w: decode yaml: %v", ErrCatalogCorrupt, err)
		}
	default:
		if err := json.Unmarshal(raw, &root); err != nil {
			return nil, fmt.Errorf("%w: decode json: %v", ErrCatalogCorrupt, err)
		}
	}
	return decodeRecords(root)
}

var recordKeys = []string{"title", "author", "category", "summary", "language"}

// decodeRecords validates a decoded document tree. Any element that is not a
// mapping, or a known key holding a non-string value, rejects the whole document.
func decodeRecords(root any) ([]BookRecord, error) {
	if root == nil {
		return nil, nil
	}
	items, ok := root.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: root is %T, want a list of records", ErrCatalogCorrupt, root)
	}

	out := make([]BookRecord, 0, len(items))
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: record %d is %T, want a mapping", ErrCatalogCorrupt, i, item)
		}
		var raw rawRecord
		for _, key := range recordKeys {
			v, present := fields[key]
			if !present || v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: record %d field %q is %T, want string", ErrCatalogCorrupt, i, key, v)
			}
			switch key {
			case "title":
				raw.Title = &s
			case "author":
				raw.Author = &s
			case "category":
				raw.Category = &s
			case "summary":
				raw.Summary = &s
			case "language":
				raw.Language = &s
			}
		}
		out = append(out, raw.normalize())
	}
	return out, nil
}

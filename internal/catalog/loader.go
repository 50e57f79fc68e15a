package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// file is the on-disk shape of a catalog document.
type file struct {
	Models []types.CatalogEntry `json:"models" yaml:"models" toml:"models"`
}

// Load reads a catalog file (.yaml/.yml, .json, .toml) and validates every
// entry. The returned slice is the immutable registry for the process.
func Load(path string) ([]types.CatalogEntry, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc file
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog extension: %s", ext)
	}
	if err := Validate(doc.Models); err != nil {
		return nil, err
	}
	return doc.Models, nil
}

// Validate checks ids, URLs, sizes and capability sets across entries.
func Validate(entries []types.CatalogEntry) error {
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("catalog entry %d: empty id", i)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("catalog entry %q: duplicate id", e.ID)
		}
		seen[e.ID] = struct{}{}
		if strings.TrimSpace(e.URL) == "" {
			return fmt.Errorf("catalog entry %q: empty url", e.ID)
		}
		if e.SizeBytes <= 0 {
			return fmt.Errorf("catalog entry %q: size_bytes must be positive", e.ID)
		}
		if len(e.Capabilities) == 0 {
			return fmt.Errorf("catalog entry %q: at least one capability required", e.ID)
		}
		for _, c := range e.Capabilities {
			if !types.KnownCapability(c) {
				return fmt.Errorf("catalog entry %q: unknown capability %q", e.ID, c)
			}
		}
	}
	return nil
}

// ByID returns the entry with the given id.
func ByID(entries []types.CatalogEntry, id string) (types.CatalogEntry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return types.CatalogEntry{}, false
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr"`
	CatalogPath string `json:"catalog_path" yaml:"catalog_path" toml:"catalog_path"`
	// Path to the SQLite file backing the asset cache.
	CacheDB string `json:"cache_db" yaml:"cache_db" toml:"cache_db"`
	// Whether assets above the large-asset threshold are persisted to the
	// application cache after download.
	CacheLargeAssets bool `json:"cache_large_assets" yaml:"cache_large_assets" toml:"cache_large_assets"`
	// Override of the large-asset threshold in MB (0 = default 500 MB).
	LargeAssetThresholdMB int    `json:"large_asset_threshold_mb" yaml:"large_asset_threshold_mb" toml:"large_asset_threshold_mb"`
	DefaultModel          string `json:"default_model" yaml:"default_model" toml:"default_model"`
	// Runtime backend tunables.
	CtxSize   int  `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads   int  `json:"threads" yaml:"threads" toml:"threads"`
	MaxImages int  `json:"max_images" yaml:"max_images" toml:"max_images"`
	AudioIn   bool `json:"audio_in" yaml:"audio_in" toml:"audio_in"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

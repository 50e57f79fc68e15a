package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\ncatalog_path: /tmp/catalog.yaml\ncache_db: /tmp/cache.db\ncache_large_assets: true\nlarge_asset_threshold_mb: 250\ndefault_model: m1\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.CatalogPath != "/tmp/catalog.yaml" || cfg.CacheDB != "/tmp/cache.db" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.CacheLargeAssets || cfg.LargeAssetThresholdMB != 250 || cfg.DefaultModel != "m1" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","cache_db":"/c.db","default_model":"m2","ctx_size":2048,"threads":4,"max_images":3,"audio_in":true}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.CacheDB != "/c.db" || cfg.DefaultModel != "m2" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.CtxSize != 2048 || cfg.Threads != 4 || cfg.MaxImages != 3 || !cfg.AudioIn {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\ncatalog_path=\"/x.toml\"\ncache_large_assets=false\ndefault_model=\"m3\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.CatalogPath != "/x.toml" || cfg.CacheLargeAssets || cfg.DefaultModel != "m3" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	if _, err := Load("/nonexistent/cfg.yaml"); err == nil {
		t.Fatalf("expected error on missing file")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	bad := writeTempFile(t, d, "bad.yaml", "addr: [unclosed")
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected yaml parse error")
	}
}

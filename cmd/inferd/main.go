package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/cache"
	"inferd/internal/catalog"
	"inferd/internal/common/fsutil"
	"inferd/internal/config"
	"inferd/internal/fetch"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
	"inferd/internal/runtime"
)

func main() {
	// Flags with environment variable defaults
	defaultAddr := ":8080"
	if v := os.Getenv("INFERD_ADDR"); v != "" {
		defaultAddr = v
	}
	addr := flag.String("addr", defaultAddr, "HTTP listen address, e.g. :8080")
	configPath := flag.String("config", os.Getenv("INFERD_CONFIG"), "Optional config file (.yaml/.json/.toml)")
	catalogPath := flag.String("catalog", "~/.inferd/catalog.yaml", "Model catalog file (.yaml/.json/.toml)")
	cacheDB := flag.String("cache-db", "~/.inferd/cache.db", "SQLite file backing the asset cache (empty disables persistence)")
	cacheLarge := flag.Bool("cache-large-assets", false, "Persist assets above the large-asset threshold to the cache")
	thresholdMB := flag.Int("large-asset-threshold-mb", 0, "Override of the large-asset threshold in MB (0 = default 500)")
	defaultModel := flag.String("default-model", "", "Default model id when request omits model")
	corsOrigins := flag.String("cors-origins", os.Getenv("INFERD_CORS_ORIGINS"), "Comma-separated allowed CORS origins (empty disables CORS)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()

	cfg := config.Config{
		Addr:                  *addr,
		CatalogPath:           *catalogPath,
		CacheDB:               *cacheDB,
		CacheLargeAssets:      *cacheLarge,
		LargeAssetThresholdMB: *thresholdMB,
		DefaultModel:          *defaultModel,
	}
	if *configPath != "" {
		p, err := fsutil.ExpandHome(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("expand config path")
		}
		fileCfg, err := config.Load(p)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
		}
		cfg = mergeConfig(fileCfg, cfg)
	}

	entries, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.CatalogPath).Msg("load catalog")
	}

	var store cache.Store
	if cfg.CacheDB != "" {
		dbPath, err := fsutil.ExpandHome(cfg.CacheDB)
		if err != nil {
			log.Fatal().Err(err).Msg("expand cache path")
		}
		if _, err := fsutil.EnsureDir(filepath.Dir(dbPath)); err != nil {
			log.Fatal().Err(err).Str("path", dbPath).Msg("prepare cache dir")
		}
		sq, err := cache.OpenSQLite(dbPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", dbPath).Msg("open cache")
		}
		defer sq.Close()
		store = sq
	} else {
		store = cache.NewMemoryStore()
	}

	var fetchOpts []fetch.Option
	fetchOpts = append(fetchOpts, fetch.WithLogger(log))
	if cfg.LargeAssetThresholdMB > 0 {
		fetchOpts = append(fetchOpts, fetch.WithThreshold(int64(cfg.LargeAssetThresholdMB)*1024*1024))
	}

	mgr := manager.NewWithConfig(manager.Config{
		Catalog:          entries,
		Store:            store,
		Fetcher:          fetch.New(store, fetchOpts...),
		DefaultModel:     cfg.DefaultModel,
		CacheLargeAssets: cfg.CacheLargeAssets,
		InitOptions: runtime.InitOptions{
			CtxSize:      cfg.CtxSize,
			Threads:      cfg.Threads,
			MaxImages:    cfg.MaxImages,
			SupportAudio: cfg.AudioIn,
		},
		Logger: log,
	})

	httpapi.SetLogger(log)
	if origins := splitCSV(*corsOrigins); len(origins) > 0 {
		httpapi.SetCORSOptions(true, origins,
			[]string{"GET", "POST", "DELETE", "OPTIONS"},
			[]string{"Accept", "Content-Type", "X-Log-Level"})
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	mux := httpapi.NewMux(mgr)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.Addr).Int("models", len(entries)).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := mgr.UnloadAll(); err != nil {
		log.Warn().Err(err).Msg("session unload during shutdown")
	}
}

// mergeConfig overlays non-zero flag values on top of the file config.
func mergeConfig(file, flags config.Config) config.Config {
	out := file
	if flags.Addr != "" {
		out.Addr = flags.Addr
	}
	if flags.CatalogPath != "" {
		out.CatalogPath = flags.CatalogPath
	}
	if flags.CacheDB != "" {
		out.CacheDB = flags.CacheDB
	}
	if flags.CacheLargeAssets {
		out.CacheLargeAssets = true
	}
	if flags.LargeAssetThresholdMB > 0 {
		out.LargeAssetThresholdMB = flags.LargeAssetThresholdMB
	}
	if flags.DefaultModel != "" {
		out.DefaultModel = flags.DefaultModel
	}
	return out
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

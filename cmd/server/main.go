// Command server runs the deckforge REST API standalone, grounded on the
// teacher's cmd/apiserver/main.go (flag-driven port/db-path, signal-based
// graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deckforge/deckforge/internal/analyzer"
	"github.com/deckforge/deckforge/internal/api"
	"github.com/deckforge/deckforge/internal/builder"
	"github.com/deckforge/deckforge/internal/cache"
	"github.com/deckforge/deckforge/internal/catalog"
	"github.com/deckforge/deckforge/internal/config"
	"github.com/deckforge/deckforge/internal/deckstore"
	"github.com/deckforge/deckforge/internal/formatrules"
	"github.com/deckforge/deckforge/internal/llm"
	"github.com/deckforge/deckforge/internal/modify"
	"github.com/deckforge/deckforge/internal/orchestrator"
	"github.com/deckforge/deckforge/internal/repository"
	"github.com/deckforge/deckforge/internal/vectorindex"
)

var (
	port       = flag.Int("port", 0, "API server port (default: from config)")
	dbPath     = flag.String("db-path", "", "Catalog database path (default: from config)")
	configPath = flag.String("config", "", "Path to config.toml (default: ~/.deckforge/config.toml)")
	rulesPath  = flag.String("rules-file", "", "Optional TOML file of format rule overrides, hot-reloaded on write")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Catalog.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	fmt.Println("deckforge - MTG deck construction service")
	fmt.Println("==========================================")
	fmt.Printf("Catalog: %s\n", cfg.Catalog.Path)

	connMaxLifetime, err := cfg.CatalogConnMaxLifetime()
	if err != nil {
		log.Fatalf("catalog conn_max_lifetime: %v", err)
	}
	busyTimeout, err := cfg.CatalogBusyTimeout()
	if err != nil {
		log.Fatalf("catalog busy_timeout: %v", err)
	}

	db, err := catalog.Open(&catalog.DBConfig{
		Path:            cfg.Catalog.Path,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
		BusyTimeout:     busyTimeout,
		JournalMode:     cfg.Catalog.JournalMode,
		Synchronous:     cfg.Catalog.Synchronous,
		AutoMigrate:     cfg.Catalog.AutoMigrate,
	})
	if err != nil {
		log.Fatalf("open catalog database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("error closing catalog database: %v", err)
		}
	}()

	if *rulesPath != "" {
		if err := formatrules.Reload(*rulesPath); err != nil {
			log.Printf("warning: initial format rules load failed: %v", err)
		}
		watcher, err := formatrules.WatchFile(*rulesPath, slog.Default())
		if err != nil {
			log.Printf("warning: format rules watcher not started: %v", err)
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	tieredCache := cache.NewTiered(cache.TieredConfig{
		HotCapacity:        cfg.Cache.HotCapacity,
		WarmCapacity:       cfg.Cache.WarmCapacity,
		ColdCapacity:       cfg.Cache.ColdCapacity,
		PromotionThreshold: cfg.Cache.PromotionThreshold,
	})
	catalogStore := catalog.NewStore(db)
	index := vectorindex.NewIndex(db)
	repo := repository.New(tieredCache, catalogStore, index, slog.Default())
	deckStore := deckstore.NewStore(db)

	requestTimeout, err := cfg.LLMRequestTimeout()
	if err != nil {
		log.Fatalf("llm request_timeout: %v", err)
	}
	inferenceTimeout, err := cfg.LLMInferenceTimeout()
	if err != nil {
		log.Fatalf("llm inference_timeout: %v", err)
	}
	provider := llm.NewOllamaProvider(&llm.OllamaConfig{
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		RequestTimeout:    requestTimeout,
		InferenceTimeout:  inferenceTimeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		MaxInFlight:       cfg.LLM.MaxInFlight,
	})

	b := builder.New(repo, provider, slog.Default())
	a := analyzer.New(provider, index, slog.Default())
	m := modify.New(repo, provider, b, a, slog.Default())
	orch := orchestrator.New(b, a, m)

	server := api.NewServer(api.Config{Port: cfg.Server.Port}, orch, deckStore)
	server.Start()

	fmt.Println()
	fmt.Printf("API server running at http://localhost:%d\n", cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println()
	fmt.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}

	fmt.Println("API server stopped.")
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.LoadFrom(*configPath)
	}
	return config.Load()
}

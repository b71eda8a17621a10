// Package main provides the entry point for the SAGE API server.
//
// The server answers natural-language questions about clinical study data:
// it classifies intent, resolves clinical terms and tables, generates and
// validates DuckDB SQL through a language model, executes it read-only, and
// returns the answer with a confidence breakdown and full audit provenance.
//
// Usage:
//
//	go run ./cmd/api
//
// Key environment variables:
//
//	DUCKDB_PATH       - study warehouse file
//	AUDIT_DB_PATH     - audit trail SQLite file
//	SETTINGS_DB_PATH  - settings SQLite file (default data/settings.db)
//	LLM_PROVIDER      - openai or ollama
//	LLM_MODEL         - model identifier
//	JWT_SECRET        - bearer token verification secret
//	API_PORT          - server port (default: 8080)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rshinytools/sage/internal/api"
	"github.com/rshinytools/sage/internal/audit"
	"github.com/rshinytools/sage/internal/cache"
	"github.com/rshinytools/sage/internal/config"
	"github.com/rshinytools/sage/internal/engine"
	"github.com/rshinytools/sage/internal/events"
	"github.com/rshinytools/sage/internal/llm"
	"github.com/rshinytools/sage/internal/settings"
	"github.com/rshinytools/sage/internal/warehouse"
)

// dictionaryColumns are the value columns scanned into the entity
// extractor's dictionary at startup.
var dictionaryColumns = []struct {
	table  string
	column string
}{
	{"ADAE", "AEDECOD"},
	{"AE", "AEDECOD"},
	{"ADCM", "CMDECOD"},
	{"ADLB", "PARAM"},
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.App)
	slog.SetDefault(logger.Logger)
	cfg.LogConfig(logger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	deps, cleanup, err := buildDependencies(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	deps.Audit.LogEvent(ctx, audit.Event{
		UserID:   "system",
		Username: "system",
		Action:   audit.ActionSystemStartup,
		Status:   audit.StatusSuccess,
	})

	server := api.NewServer(cfg, deps)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server error", slog.Any("error", err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	deps.Audit.LogEvent(context.Background(), audit.Event{
		UserID:   "system",
		Username: "system",
		Action:   audit.ActionSystemShutdown,
		Status:   audit.StatusSuccess,
	})

	logger.Info("API server stopped")
}

// buildDependencies constructs every service the server needs, in
// dependency order, and returns a cleanup function closing them in reverse.
func buildDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*api.Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	auditStore, err := audit.OpenStore(audit.StoreConfig{
		Path:      cfg.Audit.Path,
		SecretKey: cfg.Audit.SecretKey,
	})
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, func() { auditStore.Close() })

	auditService := audit.NewService(audit.ServiceConfig{
		Store:         auditStore,
		ExcludedPaths: cfg.Audit.ExcludedPaths,
		LogRequests:   cfg.Audit.LogRequests,
		LogQueries:    cfg.Audit.LogQueries,
		Logger:        logger,
	})

	settingsStore, err := settings.OpenStore(settings.StoreConfig{
		Path:   settingsPath(),
		Logger: logger,
	})
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, func() { settingsStore.Close() })

	warehouseClient, err := warehouse.NewClient(ctx, warehouse.ClientConfig{
		Path:         cfg.Data.Path,
		ReadOnly:     true,
		MemoryLimit:  cfg.Data.MemoryLimit,
		Threads:      cfg.Data.Threads,
		QueryTimeout: cfg.System.QueryTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, func() { warehouseClient.Close() })

	catalog, err := warehouseClient.Catalog(ctx)
	if err != nil {
		return nil, cleanup, err
	}
	logger.Info("warehouse catalog loaded", slog.Int("tables", len(catalog)))

	dictionary := buildDictionary(ctx, warehouseClient, catalog, logger)

	llmClient, err := llm.NewClient(cfg.LLM, logger)
	if err != nil {
		return nil, cleanup, err
	}

	rules, err := engine.LoadClinicalRules(cfg.System.RulesPath)
	if err != nil {
		return nil, cleanup, err
	}

	var queryCache *cache.QueryCache
	if cfg.System.CacheEnabled {
		queryCache = cache.NewQueryCache(cache.Config{
			MaxSize:    cfg.System.CacheMaxSize,
			DefaultTTL: cfg.System.CacheTTL,
		})
	}

	var sink engine.EventSink
	if cfg.Events.Enabled {
		publisher, err := events.NewPublisher(events.PublisherConfig{
			URL:           cfg.Events.URL,
			Name:          cfg.Events.Name,
			MaxReconnects: cfg.Events.MaxReconnects,
			ReconnectWait: cfg.Events.ReconnectWait,
			Logger:        logger,
		})
		if err != nil {
			// Events are best-effort; run without them.
			logger.Warn("NATS unavailable, continuing without events", slog.Any("error", err))
		} else {
			closers = append(closers, publisher.Close)
			sink = publisher
		}
	}

	pipeline := engine.NewPipeline(engine.PipelineConfig{
		Sanitizer: engine.NewSanitizer(engine.SanitizerConfig{
			MaxLength: cfg.System.MaxQuestionLength,
		}),
		Classifier: engine.NewIntentClassifier(engine.IntentClassifierConfig{
			Client: llmClient,
			Logger: logger,
		}),
		Extractor: engine.NewEntityExtractor(engine.EntityExtractorConfig{
			Dictionary:     dictionary,
			FuzzyThreshold: cfg.Dictionary.FuzzyThreshold,
			Logger:         logger,
		}),
		Resolver: engine.NewTableResolver(engine.TableResolverConfig{
			Rules:           rules,
			AvailableTables: catalog,
			Logger:          logger,
		}),
		Builder: engine.NewContextBuilder(engine.ContextBuilderConfig{
			TokenBudget: cfg.System.PromptTokenBudget,
		}),
		Generator: engine.NewSQLGenerator(engine.SQLGeneratorConfig{
			Client: llmClient,
			Logger: logger,
		}),
		Validator: engine.NewSQLValidator(engine.SQLValidatorConfig{
			Registry: catalog,
			MaxJoins: cfg.System.MaxJoins,
			RowLimit: cfg.System.SQLRowLimit,
		}),
		Executor: warehouseClient,
		Scorer: engine.NewConfidenceScorer(engine.ConfidenceScorerConfig{
			HighThreshold:   cfg.LLM.ConfidenceHighThreshold,
			MediumThreshold: cfg.LLM.ConfidenceMediumThreshold,
		}),
		Cache:          queryCache,
		CacheTTL:       cfg.System.CacheTTL,
		Auditor:        auditService,
		Events:         sink,
		MaxCorrections: cfg.System.MaxCorrectionAttempts,
		Logger:         logger,
	})

	return &api.Dependencies{
		Pipeline:  pipeline,
		Warehouse: warehouseClient,
		Cache:     queryCache,
		Audit:     auditService,
		Settings:  settingsStore,
		Logger:    logger,
	}, cleanup, nil
}

// buildDictionary scans the configured value columns present in the catalog.
func buildDictionary(ctx context.Context, client *warehouse.Client, catalog map[string][]string, logger *slog.Logger) []engine.DictionaryEntry {
	scanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var dictionary []engine.DictionaryEntry
	for _, dc := range dictionaryColumns {
		columns, ok := catalog[dc.table]
		if !ok || !containsColumn(columns, dc.column) {
			continue
		}
		values, err := client.ScanDistinct(scanCtx, dc.table, dc.column, 10000)
		if err != nil {
			logger.Warn("dictionary scan failed",
				slog.String("table", dc.table),
				slog.String("column", dc.column),
				slog.Any("error", err),
			)
			continue
		}
		for _, value := range values {
			dictionary = append(dictionary, engine.DictionaryEntry{
				Value:  value,
				Table:  dc.table,
				Column: dc.column,
			})
		}
	}

	logger.Info("value dictionary built", slog.Int("entries", len(dictionary)))
	return dictionary
}

// containsColumn reports whether columns holds name.
func containsColumn(columns []string, name string) bool {
	for _, col := range columns {
		if col == name {
			return true
		}
	}
	return false
}

// settingsPath resolves the settings store location.
func settingsPath() string {
	if path := os.Getenv("SETTINGS_DB_PATH"); path != "" {
		return path
	}
	return "data/settings.db"
}

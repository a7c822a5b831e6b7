package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/curator/internal/brain"
	"github.com/ent0n29/curator/internal/catalog"
	"github.com/ent0n29/curator/internal/config"
	"github.com/ent0n29/curator/internal/grounding"
	"github.com/ent0n29/curator/internal/httpapi"
	"github.com/ent0n29/curator/internal/observability"
	"github.com/ent0n29/curator/internal/persona"
	"github.com/ent0n29/curator/internal/session"
	"github.com/ent0n29/curator/internal/turn"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Grounding *grounding.Provider
	Brain     *brain.Manager
	Metrics   *observability.Metrics
	Watcher   *catalog.Watcher

	// Cleanup should be called on shutdown to release external resources (DB pool, file watcher).
	Cleanup func() error
}

// Build wires the service. Missing or rejected model credentials stop it
// before any session can be created.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace, cfg.UpstreamTimeout)

	client, err := brain.NewClient(ctx, brain.Config{
		Mode:          cfg.BrainMode,
		APIKey:        cfg.GeminiAPIKey,
		Model:         cfg.GeminiModel,
		HTTPURL:       cfg.BrainHTTPURL,
		VerifyOnStart: cfg.GeminiVerifyOnStart,
		Timeout:       cfg.UpstreamTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("model client init failed: %w", err)
	}
	logger.Info("model client ready", zap.String("client", client.Name()))

	source, closeSource, err := NewCatalogSource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog source init failed: %w", err)
	}

	loader := catalog.NewLoader(source, cfg.CatalogCacheTTL, logger)
	loader.SetLoadHook(func(c catalog.Catalog, cond catalog.Condition, changed bool) {
		metrics.ObserveCatalogLoad(string(cond.Kind), c.Len())
		if changed {
			stats := c.Stats()
			logger.Info("catalog content changed",
				zap.String("source", cond.Source),
				zap.Int("total", stats.Total),
				zap.Int("vietnamese", stats.Vietnamese),
				zap.Int("english", stats.English),
			)
		}
	})

	brainManager := brain.NewManager(client, logger)
	provider := grounding.NewProvider(loader, brainManager, persona.Curator, cfg.PersonaMaxInstructionChars, logger)

	sessions := session.NewManager(session.Config{
		InactivityTimeout: cfg.SessionInactivityTimeout,
		EndedRetention:    cfg.SessionEndedRetention,
		Resolver:          provider,
		Persona:           persona.Curator,
		HistoryLimit:      cfg.HistoryMaxTurns,
		UpstreamTimeout:   cfg.UpstreamTimeout,
		Logger:            logger,
		Hooks: turn.Hooks{
			OnStage:   metrics.ObserveStage,
			OnOutcome: metrics.ObserveTurn,
		},
	})
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	// Warm the cache so a missing catalog shows up in the startup log.
	if c, cond := loader.Load(ctx); !cond.OK() {
		logger.Warn("starting without grounding", zap.String("condition", string(cond.Kind)), zap.String("detail", cond.Detail))
	} else {
		logger.Info("catalog ready", zap.Int("records", c.Len()))
	}

	var watcher *catalog.Watcher
	if fs, ok := source.(*catalog.FileSource); ok && cfg.CatalogWatch {
		watcher, err = catalog.NewWatcher(fs.Path(), loader, func() {
			c, cond := loader.Load(context.Background())
			logger.Info("catalog reloaded from disk", zap.String("condition", string(cond.Kind)), zap.Int("records", c.Len()))
		}, logger)
		if err != nil {
			_ = closeSource()
			return nil, fmt.Errorf("catalog watcher init failed: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			_ = closeSource()
			return nil, fmt.Errorf("catalog watcher start failed: %w", err)
		}
	}

	api := httpapi.New(httpapi.Options{
		Config:    cfg,
		Sessions:  sessions,
		Catalog:   provider,
		BrainName: client.Name(),
		Metrics:   metrics,
		Logger:    logger,
	})

	cleanup := func() error {
		var errs []string
		if watcher != nil {
			watcher.Stop()
		}
		if err := closeSource(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Grounding: provider,
		Brain:     brainManager,
		Metrics:   metrics,
		Watcher:   watcher,
		Cleanup:   cleanup,
	}, nil
}

// NewCatalogSource opens Postgres when a database URL is configured, otherwise the catalog file.
func NewCatalogSource(ctx context.Context, cfg config.Config) (catalog.Source, func() error, error) {
	if strings.TrimSpace(cfg.CatalogDatabaseURL) == "" {
		return catalog.NewFileSource(cfg.CatalogPath), func() error { return nil }, nil
	}
	pg, err := catalog.NewPostgresSource(ctx, cfg.CatalogDatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.InitSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

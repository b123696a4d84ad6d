package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/wonny/altquant/internal/altdata"
	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/external/feed"
	"github.com/wonny/altquant/internal/optimizer"
	"github.com/wonny/altquant/internal/research"
	"github.com/wonny/altquant/internal/strategyconfig"
	"github.com/wonny/altquant/pkg/config"
	"github.com/wonny/altquant/pkg/database"
	"github.com/wonny/altquant/pkg/httputil"
	"github.com/wonny/altquant/pkg/logger"
	"github.com/wonny/altquant/pkg/metrics"
	"github.com/wonny/altquant/pkg/redis"
	"github.com/wonny/altquant/pkg/validate"
)

// app holds the wired dependencies shared by every command
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	redis    *redis.Client
	data     *altdata.Service
	research *research.Service
}

// newApp wires config → logger → redis → feed → altdata → store → presets → research
func newApp(ctx context.Context) (*app, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if presetsFile != "" {
		cfg.PresetsPath = presetsFile
	}

	// 2. Initialize logger
	log := logger.New(cfg)
	a := &app{cfg: cfg, log: log}

	// 3. Redis (disabled → no-op cache/rate limit)
	a.redis, err = redis.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	var rec *metrics.Recorder
	if cfg.MetricsEnabled {
		rec = metrics.Default()
	}

	// 4. HTTP client + feed
	httpClient := httputil.New(log).
		WithLocalLimit(cfg.AltData.RequestsPerSec, 1).
		WithRateLimiter(redis.NewRateLimiter(a.redis, "altquant"),
			redis.SeriesRateLimit("altdata", rateLimitPerSecond(cfg.AltData.RequestsPerSec)))
	feedClient := feed.NewClient(httpClient, cfg.AltData.BaseURL, cfg.AltData.APIKey, log)

	// 5. Pipeline
	a.data, err = altdata.NewService(altdata.Config{
		FetchConcurrency: cfg.AltData.FetchConcurrency,
		CacheTTL:         cfg.AltData.CacheTTL,
	}, feedClient, feedClient, redis.NewCache(a.redis, "altquant"), rec, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 6. Result store
	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 7. Presets
	catalog, err := loadCatalog(cfg.PresetsPath, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 8. Research facade
	rcfg := research.Config{
		Optimizer: optimizer.Config{
			DefaultWorkers:  cfg.Optimizer.DefaultWorkers,
			MaxCombinations: cfg.Optimizer.MaxCombinations,
			Timeout:         cfg.Optimizer.Timeout,
		},
		ResultBatchSize: cfg.Optimizer.ResultBatchSize,
	}
	if err := validate.Struct(ctx, &rcfg); err != nil {
		a.Close()
		return nil, fmt.Errorf("research config: %w", err)
	}
	a.research = research.NewService(rcfg, a.data, store, catalog, rec, log)

	return a, nil
}

func (a *app) openStore(ctx context.Context) (contracts.OptimizationStore, error) {
	if a.cfg.StoreBackend != "postgres" {
		a.log.Info("Using in-memory result store")
		return optimizer.NewMemoryStore(), nil
	}

	db, err := database.New(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.db = db
	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.log.Info("Connected to database")
	return optimizer.NewPostgresStore(db.Pool), nil
}

// loadCatalog returns nil when the presets file does not exist
func loadCatalog(path string, log *logger.Logger) (*strategyconfig.Catalog, error) {
	if path == "" {
		return nil, nil
	}
	f, _, err := strategyconfig.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.WithField("path", path).Warn("Presets file not found, continuing without presets")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load presets: %w", err)
	}
	for _, w := range strategyconfig.Warnings(f) {
		log.WithFields(map[string]interface{}{
			"preset": w.Preset,
			"code":   w.Code,
		}).Warn(w.Message)
	}
	return strategyconfig.NewCatalog(f)
}

// Close releases connections; running optimizations are not waited for
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis")
		}
	}
}

func rateLimitPerSecond(rps float64) int {
	if rps < 1 {
		return 1
	}
	return int(rps)
}

// parseDay parses a YYYY-MM-DD flag; empty returns def
func parseDay(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return contracts.Day(def), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// parseRangeFlags defaults to the last year
func parseRangeFlags(start, end string) (contracts.DateRange, error) {
	now := time.Now()
	e, err := parseDay(end, now)
	if err != nil {
		return contracts.DateRange{}, err
	}
	s, err := parseDay(start, e.AddDate(-1, 0, 0))
	if err != nil {
		return contracts.DateRange{}, err
	}
	return contracts.NewDateRange(s, e)
}

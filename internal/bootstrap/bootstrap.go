// Package bootstrap turns a validated common.Config into running components.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/essay-grader/internal/async"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/export"
	"github.com/joseph-ayodele/essay-grader/internal/llm/openai"
	"github.com/joseph-ayodele/essay-grader/internal/ocr"
	"github.com/joseph-ayodele/essay-grader/internal/pipeline"
	"github.com/joseph-ayodele/essay-grader/internal/provider"
	"github.com/joseph-ayodele/essay-grader/internal/provider/azurevision"
	"github.com/joseph-ayodele/essay-grader/internal/repository"
	"github.com/joseph-ayodele/essay-grader/internal/server"
	"github.com/joseph-ayodele/essay-grader/internal/storage"
)

// App holds everything a binary needs. Close releases what Open acquired.
type App struct {
	Config       *common.Config
	Logger       *slog.Logger
	Store        repository.EssayStore
	Images       storage.ImageStore
	Providers    *provider.Client
	Orchestrator *pipeline.Orchestrator
	Queue        *async.ScoringQueue
	Exporter     *export.Service
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg common.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, common.ErrInvalidInput)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			// Remove time and level attributes, keep message and other variables
			if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
				return slog.Attr{}
			}
			return a
		}
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("log format %q: %w", cfg.Format, common.ErrInvalidInput)
}

func OpenStore(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (repository.EssayStore, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := repository.Open(ctx, repository.Config{
			DSN:              cfg.DSN,
			MaxConns:         cfg.MaxConns,
			MinConns:         cfg.MinConns,
			MaxConnLifetime:  cfg.MaxConnLifetime,
			MaxConnIdleTime:  cfg.MaxConnIdleTime,
			DialTimeout:      cfg.DialTimeout,
			StatementTimeout: cfg.StatementTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(ctx, pool, logger)
	case "sqlite":
		return repository.OpenSQLite(ctx, cfg.DSN, logger)
	case "memory":
		logger.Warn("using in-memory essay store; data is lost on exit")
		return repository.NewMemoryStore(logger), nil
	}
	return nil, fmt.Errorf("store driver %q: %w", cfg.Driver, common.ErrInvalidInput)
}

func OpenImages(ctx context.Context, cfg common.ImageStoreConfig, logger *slog.Logger) (storage.ImageStore, error) {
	switch cfg.Driver {
	case "minio":
		return storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
		}, logger)
	case "memory":
		logger.Warn("using in-memory image store; images are lost on exit")
		return storage.NewMemory(), nil
	}
	return nil, fmt.Errorf("image driver %q: %w", cfg.Driver, common.ErrInvalidInput)
}

// NewProviders builds the extraction backend named in cfg and the chat
// analyzer, both behind the shared retry gate.
func NewProviders(cfg common.ProvidersConfig, logger *slog.Logger) (*provider.Client, error) {
	var ex provider.Extractor
	switch cfg.Extract.Backend {
	case "azure-vision":
		ex = azurevision.New(azurevision.Config{
			Endpoint:   cfg.Extract.Endpoint,
			APIKey:     cfg.Extract.APIKey,
			APIVersion: cfg.Extract.APIVersion,
			Language:   cfg.Extract.Language,
		}, &http.Client{}, logger)
	case "tesseract":
		ex = ocr.NewExtractor(ocr.Config{
			Tesseract:           cfg.Extract.Tesseract,
			TessdataDir:         cfg.Extract.TessdataDir,
			EnableTSVConfidence: true,
		}, logger)
	default:
		return nil, fmt.Errorf("extract backend %q: %w", cfg.Extract.Backend, common.ErrInvalidInput)
	}

	an := openai.NewClient(openai.Config{
		Endpoint:        cfg.Analyze.Endpoint,
		APIKey:          cfg.Analyze.APIKey,
		Deployment:      cfg.Analyze.Deployment,
		APIVersion:      cfg.Analyze.APIVersion,
		Temperature:     cfg.Analyze.Temperature,
		MaxTokens:       cfg.Analyze.MaxTokens,
		LenientOptional: true,
	}, logger)

	return provider.NewClient(ex, an, cfg, logger), nil
}

// RunTimeout is the longest a full extract-then-score run can legitimately
// take: every attempt of both capabilities timing out, with the longest
// backoff between attempts.
func RunTimeout(cfg common.ProvidersConfig) time.Duration {
	budget := func(p common.CallPolicy) time.Duration {
		attempts := max(p.MaxAttempts, 1)
		return time.Duration(attempts)*p.Timeout + time.Duration(attempts-1)*p.MaxDelay
	}
	return budget(cfg.Extract.Policy) + budget(cfg.Analyze.Policy)
}

// Open builds the whole application from cfg. On error everything opened so
// far is closed again.
func Open(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}
	fail := func(err error) (*App, error) {
		_ = app.Close(context.Background())
		return nil, err
	}

	var err error
	if app.Store, err = OpenStore(ctx, cfg.Store, logger); err != nil {
		return fail(fmt.Errorf("open store: %w", err))
	}
	if app.Images, err = OpenImages(ctx, cfg.Images, logger); err != nil {
		return fail(fmt.Errorf("open image store: %w", err))
	}
	if app.Providers, err = NewProviders(cfg.Providers, logger); err != nil {
		return fail(err)
	}

	app.Orchestrator = pipeline.NewOrchestrator(app.Store, app.Images,
		pipeline.NewExtractionStage(app.Providers, logger),
		pipeline.NewCorrectionScoringStage(app.Providers, logger),
		logger,
		pipeline.WithMaxImageBytes(cfg.Providers.Extract.MaxImageBytes),
		pipeline.WithRunTimeout(RunTimeout(cfg.Providers)),
	)
	app.Queue = async.NewScoringQueue(app.Orchestrator, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
	)
	app.Exporter = export.NewService(app.Store, logger)

	logger.Info("app.ready",
		"store", cfg.Store.Driver,
		"images", cfg.Images.Driver,
		"providers", app.Providers.Describe(),
	)
	return app, nil
}

// HTTPServer returns the HTTP API handler wired to this app.
func (a *App) HTTPServer() *server.Server {
	s := a.Config.Server
	return server.New(a.Orchestrator, a.Exporter, a.HealthChecks(), server.Config{
		Tokens:         a.Config.Auth.Tokens,
		CORSOrigins:    s.CORSOrigins,
		MaxBodyBytes:   s.MaxBodyBytes,
		MaxImageBytes:  a.Config.Providers.Extract.MaxImageBytes,
		RateLimitEvery: s.RateLimitEvery,
		RateLimitBurst: s.RateLimitBurst,
	}, a.Logger)
}

func (a *App) HealthChecks() map[string]server.HealthChecker {
	return map[string]server.HealthChecker{
		"database": a.Store,
		"images":   a.Images,
	}
}

// Recover resets runs cut short by a previous shutdown and queues every essay
// still waiting for a score.
func (a *App) Recover(ctx context.Context) error {
	n, err := a.Orchestrator.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted: %w", err)
	}
	ids, err := a.Orchestrator.PendingScoring(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	for _, id := range ids {
		if err := a.Queue.Enqueue(ctx, async.Job{EssayID: id, SubmittedAt: time.Now(), Reason: "recovery"}); err != nil {
			return fmt.Errorf("enqueue %s: %w", id, err)
		}
	}
	a.Logger.Info("app.recovered", "interrupted", n, "queued", len(ids))
	return nil
}

// Close drains the queue within ctx and releases the store.
func (a *App) Close(ctx context.Context) error {
	if a.Queue != nil {
		a.Queue.Shutdown(ctx)
	}
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

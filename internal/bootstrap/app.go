package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"claims-backend/internal/analyses"
	"claims-backend/internal/batches"
	"claims-backend/internal/claims"
	"claims-backend/internal/llm"
	openai "claims-backend/internal/llm/openai"
	"claims-backend/internal/queue"
	"claims-backend/internal/scoring"
	"claims-backend/internal/services/health"
	"claims-backend/internal/shared/auth"
	"claims-backend/internal/shared/config"
	"claims-backend/internal/shared/server"
	"claims-backend/internal/shared/storage/db"
	"claims-backend/internal/shared/storage/object"
	localstore "claims-backend/internal/shared/storage/object/local"
	s3store "claims-backend/internal/shared/storage/object/s3"
	"claims-backend/internal/shared/telemetry"
	"claims-backend/internal/source"
	"claims-backend/internal/source/drive"
	"claims-backend/internal/source/objectsource"
	"claims-backend/internal/templates"
)

// App holds shared dependencies.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	DB              *sql.DB
	Repo            claims.Repo
	Store           object.ObjectStore
	Source          source.Source
	Extractor       llm.Extractor
	Engine          *scoring.Engine
	Queue           queue.Client
	Signer          *auth.Signer
	Worker          *analyses.Worker
	Batches         *batches.Service
	Synthesizer     *templates.Synthesizer
	BatchHandler    *batches.Handler
	AnalysisHandler *analyses.Handler
	TemplateHandler *templates.Handler
}

// Options adjusts how Build wires the app.
type Options struct {
	// RunLocally ignores CA_SQS_QUEUE_URL and runs batches in process. Queue
	// consumers set it so a received batch is not enqueued again.
	RunLocally bool
	// Repo, Source and Extractor override the configured backends.
	Repo      claims.Repo
	Source    source.Source
	Extractor llm.Extractor
}

// Build prepares every dependency and the router.
func Build(cfg config.Config, opts Options) (*App, error) {
	ctx := context.Background()
	app := &App{Config: cfg}

	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.Env == "production")
	if err != nil {
		return nil, err
	}
	app.Signer = signer

	if err := buildRepo(ctx, app, opts); err != nil {
		return nil, err
	}
	table, err := scoring.LoadTableFile(cfg.StandardsTablePath)
	if err != nil {
		return nil, err
	}
	app.Engine = scoring.NewEngine(table)

	if err := buildSource(ctx, app, opts); err != nil {
		return nil, err
	}
	if err := buildExtractor(app, opts, table); err != nil {
		return nil, err
	}

	var dispatcher batches.Dispatcher
	if !opts.RunLocally && cfg.SQSQueueURL != "" {
		client, err := queue.NewSQSClient(ctx, cfg.SQSQueueURL, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		app.Queue = client
		dispatcher = &queue.Dispatcher{Client: client}
	}

	policy := analyses.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.BaseDelay = cfg.RetryBaseDelay
	policy.AttemptTimeout = cfg.AttemptTimeout

	app.Worker = &analyses.Worker{
		Repo:          app.Repo,
		Source:        app.Source,
		Extractor:     app.Extractor,
		Engine:        app.Engine,
		Policy:        policy,
		MinConfidence: cfg.MinConfidence,
	}
	app.Batches = &batches.Service{
		Repo:                     app.Repo,
		Source:                   app.Source,
		Worker:                   app.Worker,
		Dispatcher:               dispatcher,
		Concurrency:              cfg.WorkerConcurrency,
		SystemicFailureThreshold: cfg.SystemicFailureThreshold,
		ListPolicy:               policy,
	}
	app.Synthesizer = &templates.Synthesizer{Repo: app.Repo}

	app.BatchHandler = batches.NewHandler(app.Batches)
	app.AnalysisHandler = analyses.NewHandler(app.Repo)
	app.TemplateHandler = templates.NewHandler(app.Synthesizer)

	checks := map[string]health.Check{}
	if app.DB != nil {
		checks["database"] = app.DB.PingContext
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		Signer:          signer,
		Health:          health.NewService(checks),
		BatchHandler:    app.BatchHandler,
		AnalysisHandler: app.AnalysisHandler,
		TemplateHandler: app.TemplateHandler,
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":       cfg.Env,
		"database":  app.DB != nil,
		"source":    cfg.SourceProvider,
		"extractor": cfg.ExtractorProvider,
		"queue":     dispatcher != nil,
	})
	return app, nil
}

// Close releases the database pool, if any.
func (a *App) Close() error {
	if a == nil || a.DB == nil || db.IsLambdaRuntime() {
		return nil
	}
	return a.DB.Close()
}

func buildRepo(ctx context.Context, app *App, opts Options) error {
	if opts.Repo != nil {
		app.Repo = opts.Repo
		return nil
	}
	cfg := app.Config
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "DATABASE_URL empty"})
			app.Repo = claims.NewMemoryRepo()
			return nil
		}
		return fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.Open(ctx, cfg)
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "database connect failed", "err": err})
			app.Repo = claims.NewMemoryRepo()
			return nil
		}
		return err
	}
	app.DB = sqlDB
	app.Repo = &claims.PGRepo{DB: sqlDB}
	return nil
}

func buildSource(ctx context.Context, app *App, opts Options) error {
	if opts.Source != nil {
		app.Source = opts.Source
		return nil
	}
	cfg := app.Config
	switch cfg.SourceProvider {
	case "drive":
		if strings.TrimSpace(cfg.DriveCredentialsFile) == "" {
			return fmt.Errorf("SOURCE_PROVIDER=drive requires DRIVE_CREDENTIALS_FILE")
		}
		src, err := drive.NewFromCredentialsFile(ctx, cfg.DriveCredentialsFile, drive.Options{
			AllowedFolders: cfg.DriveAllowedFolders,
			MetadataTTL:    cfg.DriveCacheTTL,
		})
		if err != nil {
			return err
		}
		app.Source = src
	default:
		store, err := buildStore(ctx, cfg)
		if err != nil {
			return err
		}
		app.Store = store
		app.Source = objectsource.New(store, true)
	}
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildExtractor(app *App, opts Options, table *scoring.Table) error {
	cfg := app.Config
	var base llm.Extractor
	switch {
	case opts.Extractor != nil:
		app.Extractor = opts.Extractor
		return nil
	case cfg.ExtractorProvider == "openai":
		client, err := openai.NewClient(openai.Options{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.LLMModel,
			MaxChars:   cfg.ExtractorMaxChars,
			KnownTypes: table.ElementTypes(),
		})
		if err != nil {
			return err
		}
		base = client
	default:
		base = llm.Heuristic{Table: table}
	}
	app.Extractor = llm.NewRateLimited(base, cfg.ExtractorRPS, cfg.ExtractorBurst)
	return nil
}

package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/api/handlers"
	"github.com/cloo-solutions/interviewcoach/internal/api/middleware"
	"github.com/cloo-solutions/interviewcoach/internal/audio"
	"github.com/cloo-solutions/interviewcoach/internal/config"
	"github.com/cloo-solutions/interviewcoach/internal/database"
	"github.com/cloo-solutions/interviewcoach/internal/events"
	"github.com/cloo-solutions/interviewcoach/internal/feedback"
	"github.com/cloo-solutions/interviewcoach/internal/gateway"
	"github.com/cloo-solutions/interviewcoach/internal/jobs"
	"github.com/cloo-solutions/interviewcoach/internal/logger"
	"github.com/cloo-solutions/interviewcoach/internal/openai"
	"github.com/cloo-solutions/interviewcoach/internal/repository"
	"github.com/cloo-solutions/interviewcoach/internal/retrieval"
	"github.com/cloo-solutions/interviewcoach/internal/server"
	"github.com/cloo-solutions/interviewcoach/internal/session"
	"github.com/cloo-solutions/interviewcoach/internal/storage"
	"github.com/cloo-solutions/interviewcoach/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coaching server",
		Long:  "Start the interview coach HTTP and audio streaming server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("migrations", "migrations", "Directory holding the SQL migrations")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{Debug: cfg.Debug, FilePath: cfg.LogFile})
	defer func() { _ = log.Sync() }()

	if cfg.HasSentry() {
		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
		}, log)
		if err != nil {
			log.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		} else {
			defer shutdownTelemetry()
		}
	}

	if portFlag, _ := cmd.Flags().GetString("port"); portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	if !cfg.HasOpenAI() {
		return errors.New("COACH_OPENAI_API_KEY is required: transcription and feedback run on OpenAI")
	}
	aiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:             cfg.OpenAIAPIKey,
		BaseURL:            cfg.OpenAIBaseURL,
		ChatModel:          cfg.OpenAIChatModel,
		TranscriptionModel: cfg.OpenAIWhisperModel,
	})

	policy := func(timeout time.Duration) gateway.Policy {
		p := gateway.DefaultPolicy(timeout)
		p.MaxRetries = cfg.TransportRetries
		return p
	}
	gw := gateway.New(gateway.Config{
		Concurrency:         cfg.GatewayConcurrency,
		EmbeddingDimensions: aiClient.Dimensions(),
		Transcription:       policy(cfg.TranscriptionTimeout),
		Generation:          policy(cfg.GenerationTimeout),
		Embedding:           policy(cfg.EmbeddingTimeout),
	}, aiClient, aiClient, aiClient, log)

	index := retrieval.NewIndex()
	var reloadWorker *jobs.Worker
	if cfg.HasDatabase() {
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return err
		}
		defer pool.Close()
		log.Info("connected to database")

		if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
			dir, _ := cmd.Flags().GetString("migrations")
			if err := database.Migrate(cfg.DatabaseURL, dir, log); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		reloader := jobs.NewIndexReloader(repository.NewRetrievalDocumentRepository(pool), index, log)
		if err := reloader.Load(ctx); err != nil {
			log.Warn("retrieval index not loaded, feedback runs without reference material", zap.Error(err))
		}
		reloadWorker = jobs.NewWorker(reloader, jobs.WorkerConfig{Interval: cfg.IndexReloadInterval}, log)
		go reloadWorker.Start(ctx)
	} else {
		log.Info("no database configured, retrieval index is empty")
	}

	composer := feedback.NewComposer(feedback.Config{
		TopK:    cfg.TopK,
		Retries: cfg.ComposerRetries,
	}, gw, gw, index, log)

	deps := session.Deps{
		Transcriber: gw,
		Composer:    composer,
		Logger:      log,
	}

	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Info("audio archive ready", zap.String("bucket", cfg.S3Bucket))
		deps.AudioStore = storage.NewAudioArchive(s3Client, "sessions")
	}

	var publisher events.Publisher
	if cfg.HasNATS() {
		publisher, err = events.NewNATSPublisher(ctx, cfg.NATSURL, log)
		if err != nil {
			return err
		}
	} else {
		publisher = events.NewLogPublisher(log)
	}
	defer publisher.Close()
	deps.Publisher = publisher

	audioCfg := audio.DefaultConfig()
	audioCfg.Window = cfg.ReorderWindow
	audioCfg.EndGrace = cfg.EndGrace
	manager := session.NewManager(session.Config{
		Audio:     audioCfg,
		Linger:    cfg.SessionLinger,
		ResultTTL: cfg.ResultTTL,
	}, deps)

	routerCfg := server.RouterConfig{
		SessionHandler: handlers.NewSessionHandler(manager),
		AudioHandler:   handlers.NewAudioHandler(manager, handlers.AudioStreamConfig{}, log),
		ChatHandler:    handlers.NewChatHandler(gw),
		ActiveSessions: manager.Active,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Logger:         log,
	}
	var validators []middleware.AuthValidator
	if cfg.APIKey != "" {
		validators = append(validators, middleware.NewStaticKeyValidator(cfg.APIKey, "coach"))
	}
	if cfg.JWTSecret != "" {
		validators = append(validators, middleware.NewAccessTokenValidator(cfg.JWTSecret, cfg.JWTLeeway))
	}
	if len(validators) > 0 {
		routerCfg.AuthValidator = middleware.AnyOf(validators...)
	} else {
		log.Warn("neither COACH_API_KEY nor COACH_JWT_SECRET set, session routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	if reloadWorker != nil {
		reloadWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server forced to shutdown", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("session manager shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

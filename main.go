package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"podiumgo/internal/api"
	"podiumgo/internal/auth"
	"podiumgo/internal/blobstore"
	"podiumgo/internal/config"
	"podiumgo/internal/limiter"
	"podiumgo/internal/logger"
	"podiumgo/internal/media"
	"podiumgo/internal/metrics"
	"podiumgo/internal/redis"
	"podiumgo/internal/service/ai"
	"podiumgo/internal/service/coach"
	"podiumgo/internal/storage"
	"podiumgo/internal/worker"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "podiumgo",
	Short:         "podiumgo - presentation coaching backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $PODIUM_CONFIG or config.json)")
	rootCmd.AddCommand(serveCmd, migrateCmd, analyzeCmd, transcribeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	dbType := cfg.BasicConfig.DatabaseType
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "database %s migrated\n", cfg.BasicConfig.DatabaseType)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)
	b := cfg.BasicConfig

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database ready", "type", b.DatabaseType)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Warn("redis unavailable, using in-process counters", "error", err)
		} else {
			defer rdb.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	tokenCache := rdb
	if b.DisableRedisTokens {
		tokenCache = nil
	}
	authService := auth.NewService(db, tokenCache, time.Duration(b.TokenTTLHours)*time.Hour).WithLogger(log)

	var counters limiter.CounterStore = limiter.NewMemoryStore()
	if rdb != nil && b.UseRedisForLimits {
		counters = limiter.NewRedisStore(rdb)
	}
	quota := limiter.New(counters, time.Duration(cfg.Limits.WindowMinutes)*time.Minute)

	blobs, err := blobstore.New(db, blobstore.Config{
		Dir:     cfg.BlobDir(),
		BaseURL: b.PublicBaseURL,
		TTL:     time.Duration(b.BlobTTLMinutes) * time.Minute,
		Key:     b.BlobKey,
		MaxSize: int64(b.MaxUploadMB) << 20,
	}, log)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	ffmpeg := media.ExecRunner{Binary: b.FFmpegPath}
	if !ffmpeg.Available() {
		log.Warn("ffmpeg not found, recording analysis will fail", "binary", b.FFmpegPath)
	}
	pipeline, err := media.NewPipeline(media.PipelineConfig{
		TempDir:         cfg.TempDir(),
		FetchAttempts:   b.FetchAttempts,
		FetchDelay:      time.Duration(b.FetchDelaySeconds) * time.Second,
		MaxChunkBytes:   int64(cfg.Speech.MaxChunkMB) << 20,
		MaxChunkSeconds: cfg.Speech.MaxChunkSeconds,
	}, ffmpeg, media.NewWhisperClient(cfg.Speech.APIKey, cfg.Speech.BaseURL, cfg.Speech.Model), m, log)
	if err != nil {
		return fmt.Errorf("init media pipeline: %w", err)
	}

	janitor := blobstore.NewJanitor(log)
	if err := janitor.Add(b.SweepSchedule, "expired-blobs", blobs.SweepExpired); err != nil {
		return err
	}
	tempMaxAge := time.Duration(b.TempMaxAgeMinutes) * time.Minute
	if err := janitor.Add(b.SweepSchedule, "orphaned-temp-files", func(context.Context) (int, error) {
		return pipeline.Store().Sweep(tempMaxAge)
	}); err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	provider := b.AnalysisProvider
	chatModel, err := ai.NewChatModel(ctx, provider, cfg.Providers[provider])
	if err != nil {
		return err
	}
	analysisChat, err := ai.NewChat(ctx, chatModel, nil, log)
	if err != nil {
		return err
	}
	coachChat, err := ai.NewChat(ctx, chatModel, ai.InitTools(ctx, quota, log), log)
	if err != nil {
		return err
	}

	coachService := coach.NewService(db, log)
	analyst := coach.NewAnalyst(analysisChat, log)
	persona := coach.NewCoach(coachService, coachChat, analyst, log).
		WithDocuments(func(ctx context.Context, userID int64, sourceURL string) []ai.Document {
			blob, err := blobs.Owned(ctx, userID, sourceURL)
			if err != nil {
				return nil
			}
			return []ai.Document{{ID: blob.ID, FileName: blob.FileName, Path: blob.StoredPath}}
		})

	jobs := worker.NewDispatcher(worker.Config{
		MinWorkers:  b.MinWorkers,
		MaxWorkers:  b.MaxWorkers,
		QueueSize:   b.QueueSize,
		IdleTimeout: time.Duration(b.WorkerIdleSeconds) * time.Second,
	}, log)
	defer jobs.Close()

	handlers := api.NewHandler(api.Deps{
		DB:               db,
		Coach:            coachService,
		Auth:             authService,
		Blobs:            blobs,
		Media:            pipeline,
		Analyst:          analyst,
		Chat:             persona,
		Jobs:             jobs,
		Quota:            quota,
		Plans:            cfg.Limits.Plans,
		Metrics:          m,
		Log:              log,
		FFmpegReady:      ffmpeg.Available,
		MaxUploadBytes:   int64(b.MaxUploadMB) << 20,
		UserStorageBytes: int64(b.UserStorageMB) << 20,
		StreamTimeout:    time.Duration(b.StreamTimeoutMins) * time.Minute,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.RequestLogger(log), metrics.RequestMiddleware(m))
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              b.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", b.ServerAddress, "public_url", b.PublicBaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

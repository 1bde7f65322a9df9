// Package main runs the watch-and-earn rewards HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-rewards/backend/config"
	"github.com/aura-rewards/backend/internal/auth"
	"github.com/aura-rewards/backend/internal/history"
	"github.com/aura-rewards/backend/internal/media"
	"github.com/aura-rewards/backend/internal/middleware"
	"github.com/aura-rewards/backend/internal/realtime"
	"github.com/aura-rewards/backend/internal/rewards"
	"github.com/aura-rewards/backend/internal/session"
	"github.com/aura-rewards/backend/internal/wallet"
	"github.com/aura-rewards/backend/internal/worker"
	"github.com/aura-rewards/backend/pkg/database"
	"github.com/aura-rewards/backend/pkg/queue"
	"github.com/aura-rewards/backend/pkg/redis"
	"github.com/aura-rewards/backend/pkg/response"
	"github.com/aura-rewards/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			MediaBucket:          cfg.AWS.MediaBucket,
			AuditBucket:          cfg.AWS.AuditBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Media catalog
	mediaRepo := media.NewRepository(pool)
	mediaHandler := media.NewHandler(mediaRepo, s3Client, logger)

	// Watch history
	historyRepo := history.NewRepository(pool)
	historyHandler := history.NewHandler(historyRepo)

	// Wallet (external balance service + cached estimate)
	requestTimeout := time.Duration(cfg.Rewards.RequestTimeoutSec) * time.Second
	walletClient := wallet.NewClient(cfg.Rewards.WalletURL, cfg.Rewards.APIKey, requestTimeout)
	walletService := wallet.NewService(walletClient, rdb.Client, logger)
	walletHandler := wallet.NewHandler(walletService)

	// Rewards provider and audit persistence
	rewardsClient := rewards.NewClient(cfg.Rewards.ProviderURL, cfg.Rewards.APIKey, requestTimeout)
	rewardsRepo := rewards.NewRepository(pool)
	watchedCounter := rewards.NewWatchedCounter(rdb.Client, logger)
	rewardsHandler := rewards.NewHandler(rewardsRepo, watchedCounter, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewProcessor(rewardsRepo, s3Client, jobQueue, logger)

	// Session engine
	sessionCfg := session.Config{
		SeekThreshold:   cfg.Session.SeekThresholdSec,
		SeekSlack:       cfg.Session.SeekSlackSec,
		PauseEpisodeMax: time.Duration(cfg.Session.PauseEpisodeMaxSec) * time.Second,
		PauseCountMax:   cfg.Session.PauseCountMax,
		PauseTotalMax:   time.Duration(cfg.Session.PauseTotalMaxSec) * time.Second,
		MinFraction:     cfg.Session.MinWatchFraction,
		AutoAdvance:     time.Duration(cfg.Session.AutoAdvanceSec) * time.Second,
		CloseDelay:      time.Duration(cfg.Session.CloseDelaySec) * time.Second,
		StaleAfter:      time.Duration(cfg.Session.StaleAfterMin) * time.Minute,
	}
	settler := session.NewSettler(rewardsClient, rewardsRepo, historyRepo,
		walletService, watchedCounter, jobQueue, hub,
		cfg.Rewards.RewardAmount, cfg.Session.MinWatchFraction,
		cfg.Rewards.BalanceRetries, time.Duration(cfg.Rewards.BalanceRetryDelayMS)*time.Millisecond,
		logger)
	engine := session.NewEngine(sessionCfg, mediaRepo, historyRepo, settler, hub, logger)
	sessionHandler := session.NewHandler(engine, logger)

	jwtValidate := func(token string) (userID string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.UserID.String(), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public-with-optional-auth API: anonymous viewers browse and watch,
	// authenticated viewers additionally earn.
	api := router.Group("")
	api.Use(middleware.OptionalJWT(jwtService))
	{
		api.GET("/media", mediaHandler.List)
		api.GET("/media/:id", mediaHandler.GetByID)
		api.GET("/media/:id/watched", historyHandler.Watched)
		sessionHandler.RegisterRoutes(api)
	}

	// Protected API (JWT required)
	protected := router.Group("")
	protected.Use(middleware.JWT(jwtService))
	{
		protected.GET("/history", historyHandler.List)
		protected.GET("/wallet/balance", walletHandler.Balance)
		protected.GET("/me/stats", rewardsHandler.Stats)

		// Abuse review (admin only)
		protected.GET("/admin/failed-attempts", middleware.RequireRole("admin"), rewardsHandler.ListFailedAttempts)
	}

	// WebSocket telemetry (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate, engine))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background loops: stale-session reaper and the job processor.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go engine.Run(workerCtx)
	go processor.Run(workerCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lexhub-backend/internal/database"
	authHandler "lexhub-backend/internal/handler/http/auth"
	callHandler "lexhub-backend/internal/handler/http/call"
	chatHandler "lexhub-backend/internal/handler/http/chat"
	presenceHandler "lexhub-backend/internal/handler/http/presence"
	pushHandler "lexhub-backend/internal/handler/http/push"
	staffHandler "lexhub-backend/internal/handler/http/staff"
	wsHandler "lexhub-backend/internal/handler/ws"
	"lexhub-backend/internal/middleware"
	"lexhub-backend/internal/repository/cassandra"
	"lexhub-backend/internal/repository/cockroach"
	redisRepo "lexhub-backend/internal/repository/redis"
	"lexhub-backend/internal/service/call"
	"lexhub-backend/internal/service/chat"
	"lexhub-backend/internal/service/identity"
	"lexhub-backend/internal/service/notify"
	"lexhub-backend/internal/service/routing"
	"lexhub-backend/internal/service/storage"
	"lexhub-backend/internal/signaling/backend"
	"lexhub-backend/pkg/audit"
	"lexhub-backend/pkg/config"
	"lexhub-backend/pkg/jwt"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
	"lexhub-backend/pkg/push"
)

func main() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}

	// 3. Connect to Redis with degraded mode support
	database.InitRedisMetrics()
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	go redisDB.StartHealthCheck(ctx, 10*time.Second)
	logger.Info("Connected to Redis", zap.String("host", cfg.Redis.Host))

	// 4. Connect to CockroachDB (staff roster)
	poolConfig := database.DefaultDBConfig()
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.ConnectAttempts = 5
	db, err := database.NewDB(ctx, database.ConnString(cfg.Database.Host, cfg.Database.Port,
		cfg.Database.User, cfg.Database.Password, cfg.Database.Database, cfg.Database.SSLMode), poolConfig)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to CockroachDB")

	staffRepo := cockroach.NewStaffRepository(db.Pool)
	if err := staffRepo.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to prepare staff schema", zap.Error(err))
	}

	// 5. Connect to Cassandra (chat transcripts). Chats keep working without it.
	var archive chat.TranscriptArchive
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:       cfg.Cassandra.Hosts,
		Keyspace:    cfg.Cassandra.Keyspace,
		Consistency: cfg.Cassandra.Consistency,
		Username:    cfg.Cassandra.Username,
		Password:    cfg.Cassandra.Password,
		Timeout:     cfg.Cassandra.Timeout,
	})
	if err != nil {
		logger.Warn("Cassandra unavailable, transcripts will not be archived", zap.Error(err))
	} else {
		defer cassandraDB.Close()
		transcripts := cassandra.NewTranscriptRepository(cassandraDB)
		if err := transcripts.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to prepare transcript schema", zap.Error(err))
		}
		archive = transcripts
		logger.Info("Connected to Cassandra", zap.Strings("hosts", cfg.Cassandra.Hosts))
	}

	// 6. Connect to MinIO (chat attachments)
	minioClient, err := storage.NewMinioClient(storage.MinioConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		UseSSL:    cfg.MinIO.UseSSL,
		Bucket:    cfg.MinIO.Bucket,
	})
	if err != nil {
		logger.Fatal("Failed to create MinIO client", zap.Error(err))
	}
	if err := minioClient.EnsureBucket(ctx); err != nil {
		logger.Fatal("Failed to prepare attachment bucket", zap.Error(err))
	}

	// 7. Firebase and the signaling channel
	var app *firebase.App
	if cfg.Signaling.Backend == config.BackendFirestore || cfg.Push.Provider == string(push.ProviderTypeFCM) {
		app, err = database.NewFirebaseApp(ctx, &database.FirebaseConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsPath: cfg.Firebase.CredentialsPath,
		})
		if err != nil {
			logger.Fatal("Failed to initialize Firebase", zap.Error(err))
		}
	}
	ch, closeChannel, err := backend.Open(ctx, cfg.Signaling.Backend, app, redisDB)
	if err != nil {
		logger.Fatal("Failed to open signaling channel", zap.Error(err))
	}
	defer func() {
		if err := closeChannel(); err != nil {
			logger.Warn("Failed to close signaling channel", zap.Error(err))
		}
	}()
	if cfg.Signaling.Backend == config.BackendMemory {
		logger.Warn("Using in-memory signaling; calls only connect within this process")
	}

	// 8. Initialize services
	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry, cfg.JWT.AnonymousExpiry)
	identitySvc := identity.NewService(jwtManager, redisRepo.NewTokenRepository(redisDB), presenceRepo)
	roster := routing.NewCachedRoster(staffRepo, 5*time.Second)
	routingSvc := routing.NewService(roster, presenceRepo)
	storageSvc := storage.NewService(minioClient, cfg.MinIO.URLExpiry)
	chatSvc := chat.NewService(ch, routingSvc, archive, storageSvc)

	provider, err := push.NewProvider(ctx, push.ProviderType(cfg.Push.Provider), app, &push.APNsConfig{
		KeyPath:             cfg.Push.APNsKeyPath,
		KeyID:               cfg.Push.APNsKeyID,
		TeamID:              cfg.Push.APNsTeamID,
		CertificatePath:     cfg.Push.APNsCertPath,
		CertificatePassword: cfg.Push.APNsCertPass,
		BundleID:            cfg.Push.APNsBundleID,
		Production:          cfg.Push.APNsProduction,
	})
	if err != nil {
		logger.Fatal("Failed to initialize push provider", zap.Error(err))
	}
	pushSvc := push.NewService(provider, redisRepo.NewPushTokenRepository(redisDB))

	// 9. Background workers
	notifier := notify.NewNotifier(ch, pushSvc, presenceRepo, cfg.Signaling.RecencyWindow)
	go func() {
		if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Call notifier stopped", zap.Error(err))
		}
	}()
	janitor := call.NewJanitor(ch, cfg.Signaling.RecordTTL, cfg.Signaling.JanitorInterval)
	go janitor.Run(ctx)

	// 10. Initialize handlers
	appMetrics := metrics.NewHTTP(cfg.Server.ServiceName)
	upgrader := wsHandler.NewUpgrader(cfg.Server.AllowedOrigins)

	authHdlr := authHandler.NewHandler(identitySvc)
	presenceHdlr := presenceHandler.NewHandler(identitySvc)
	pushHdlr := pushHandler.NewHandler(pushSvc)
	auditLog := audit.NewLogger(redisDB)
	callHdlr := callHandler.NewHandler(ch, routingSvc, auditLog)
	chatHdlr := chatHandler.NewHandler(chatSvc)
	staffHdlr := staffHandler.NewHandler(roster, identitySvc, auditLog)
	callHub := wsHandler.NewCallHub(call.NewListener(ch, cfg.Signaling.RecencyWindow), identitySvc, upgrader, cfg.Server.MaxWSConns)
	chatHub := wsHandler.NewChatHub(chatSvc, upgrader)

	// 11. Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(nil); err != nil {
		logger.Warn("Failed to reset trusted proxies", zap.Error(err))
	}

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())
	router.Use(middleware.NewTimeoutMiddleware(30 * time.Second).Middleware())

	router.GET("/health", middleware.HealthCheck(cfg.Server.ServiceName,
		middleware.HealthProbe{Name: "redis", Degraded: redisDB.IsDegraded},
	))
	router.GET("/metrics", middleware.MetricsHandler())

	dbGuard := middleware.NewDBPoolLimiter(db, 0.9).Middleware()
	v1 := router.Group("/v1")
	v1.POST("/auth/anonymous", middleware.NewRateLimiter(redisDB, "anonymous", 10, time.Minute).Middleware(), authHdlr.Anonymous)

	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware(identitySvc))
	authed.Use(middleware.NewRateLimiter(redisDB, "api", 120, time.Minute).Middleware())
	{
		authed.POST("/auth/logout", authHdlr.Logout)
		authed.GET("/auth/me", authHdlr.Me)

		authed.POST("/presence/heartbeat", presenceHdlr.Heartbeat)
		authed.DELETE("/presence", presenceHdlr.Offline)

		authed.POST("/push/tokens", pushHdlr.RegisterToken)
		authed.GET("/push/tokens", pushHdlr.GetTokens)
		authed.DELETE("/push/tokens", pushHdlr.UnregisterToken)

		calls := authed.Group("/calls")
		calls.GET("/route", dbGuard, callHdlr.Route)
		calls.GET("/active", middleware.RequireStaff(), callHdlr.ListActive)
		calls.DELETE("/:id", callHdlr.ForceHangup)
		calls.GET("/ws/incoming", callHub.ServeWS)

		chats := authed.Group("/chat")
		chats.POST("/sessions", dbGuard, chatHdlr.CreateSession)
		chats.GET("/sessions/waiting", middleware.RequireStaff(), chatHdlr.WaitingSessions)
		chats.GET("/sessions/:id", chatHdlr.GetSession)
		chats.POST("/sessions/:id/join", middleware.RequireStaff(), chatHdlr.JoinSession)
		chats.POST("/sessions/:id/messages", chatHdlr.SendMessage)
		chats.GET("/sessions/:id/messages", chatHdlr.GetMessages)
		chats.POST("/sessions/:id/close", chatHdlr.CloseSession)
		chats.POST("/sessions/:id/attachments", chatHdlr.AttachmentUploadURL)
		chats.GET("/sessions/:id/attachments", chatHdlr.AttachmentDownloadURL)
		chats.GET("/ws", chatHub.ServeWS)

		admin := authed.Group("/admin/staff", staffHandler.RequireAdmin(), dbGuard)
		admin.GET("", staffHdlr.List)
		admin.PUT("/:id", staffHdlr.Upsert)
		admin.POST("/:id/deactivate", staffHdlr.Deactivate)
		admin.POST("/:id/token", staffHdlr.IssueToken)
		authed.GET("/admin/audit", staffHandler.RequireAdmin(), staffHdlr.AuditLog)
	}

	// 12. Start server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Support service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment),
			zap.String("signaling_backend", cfg.Signaling.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 13. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()

	logger.Info("Server exited")
}

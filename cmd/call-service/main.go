package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	callHandler "talentbridge-backend/internal/handler/http/call"
	wsHandler "talentbridge-backend/internal/handler/ws"
	"talentbridge-backend/internal/middleware"
	"talentbridge-backend/internal/repository/cockroach"
	callService "talentbridge-backend/internal/service/call"
	notificationService "talentbridge-backend/internal/service/notification"
	"talentbridge-backend/internal/storage"
	"talentbridge-backend/pkg/constants"
	"talentbridge-backend/pkg/database"
	"talentbridge-backend/pkg/env"
	"talentbridge-backend/pkg/jwt"
	"talentbridge-backend/pkg/logger"
	"talentbridge-backend/pkg/metrics"
)

func main() {
	ctx := context.Background()

	// 1. Logger
	logger.InitDefault()
	defer logger.Sync()

	// 2. JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(jwtSecret, 15*time.Minute)

	// 3. Connect to CockroachDB with exponential backoff retry
	dbConfig := &database.CockroachConfig{
		Host:     env.GetString("DB_HOST", "localhost"),
		Port:     env.GetInt("DB_PORT", 26257),
		User:     env.GetString("DB_USER", "root"),
		Password: env.GetStringFromFile("DB_PASSWORD", ""),
		Database: env.GetString("DB_NAME", "talentbridge"),
		SSLMode:  env.GetString("DB_SSLMODE", "disable"),
	}

	var db *database.CockroachDB
	var err error

	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err = database.NewCockroachDB(ctx, dbConfig)
	if err != nil {
		for attempt := 2; attempt <= maxRetries; attempt++ {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxDelay {
				delay = maxDelay
			}
			log.Printf("CockroachDB connection attempt %d failed: %v. Retrying in %v...", attempt-1, err, delay)
			time.Sleep(delay)

			db, err = database.NewCockroachDB(ctx, dbConfig)
			if err == nil {
				break
			}
		}
	}
	if err != nil {
		log.Fatalf("Failed to connect to CockroachDB after %d attempts: %v", maxRetries, err)
	}
	defer db.Close()
	log.Println("Connected to CockroachDB")

	// 4. Connect to Redis. Optional; without it the service runs
	// single-instance with no token revocation checks.
	redisConfig := &database.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
	}

	redisDB, err := database.NewRedisDB(redisConfig)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v", err)
		log.Println("Running single-instance without cross-instance signaling fan-out")
		redisDB = nil
	} else {
		defer redisDB.Close()
		log.Println("Connected to Redis")
	}

	// 5. Repositories
	callRepo := cockroach.NewCallRepository(db.Pool)
	directoryRepo := cockroach.NewDirectoryRepository(db.Pool)
	notificationRepo := cockroach.NewNotificationRepository(db.Pool)

	// 6. Metrics
	appMetrics := metrics.NewMetrics("call-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 7. Services
	notificationSvc := notificationService.NewService(notificationRepo, appMetrics)

	callSvc := callService.NewService(callRepo, directoryRepo, notificationSvc, &callService.Config{
		ICE: callService.ICEConfig{
			StunServers: env.GetStringSlice("STUN_SERVERS", []string{"stun:stun.l.google.com:19302"}),
			TurnServers: env.GetStringSlice("TURN_SERVERS", nil),
		},
		PendingTTL: env.GetDuration("CALL_PENDING_TTL", 0),
	})
	callSvc.SetMetrics(appMetrics)

	// Recording manifest archive. Optional; recording still works without
	// it, manifests are just not archived.
	minioEndpoint := env.GetString("MINIO_ENDPOINT", "")
	if minioEndpoint != "" {
		archive, err := storage.NewRecordingArchive(ctx,
			minioEndpoint,
			env.GetStringFromFile("MINIO_ACCESS_KEY", ""),
			env.GetStringFromFile("MINIO_SECRET_KEY", ""),
			env.GetString("MINIO_BUCKET", "call-recordings"),
			env.GetBool("MINIO_USE_SSL", false),
		)
		if err != nil {
			log.Printf("Warning: Failed to initialize recording archive: %v", err)
		} else {
			callSvc.SetRecordingArchiver(archive)
			log.Println("Recording manifest archive enabled")
		}
	}

	// 8. Signaling hub
	var hub *wsHandler.SignalingHub
	if redisDB != nil {
		hub = wsHandler.NewSignalingHub(callSvc, redisDB.Client, appMetrics)
	} else {
		hub = wsHandler.NewSignalingHub(callSvc, nil, appMetrics)
	}
	callSvc.SetRoomRegistry(hub)

	// 9. Handlers
	callHdlr := callHandler.NewHandler(callSvc)

	// 10. Router
	router := gin.New()

	trustedProxies := []string{"127.0.0.1"}
	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		trustedProxies = append(trustedProxies, proxies)
	}
	router.SetTrustedProxies(trustedProxies)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"time":    time.Now().UTC(),
		})
	})

	router.GET("/metrics", middleware.MetricsHandler())

	var revocationChecker middleware.RevocationChecker
	if redisDB != nil {
		revocationChecker = middleware.NewRedisRevocationChecker(redisDB.Client)
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		calls := v1.Group("/calls")
		{
			calls.POST("", callHdlr.StartCall)
			calls.GET("/history", callHdlr.GetCallHistory)
			calls.GET("/:id", callHdlr.GetCall)
			calls.PATCH("/:id", callHdlr.UpdateSettings)
			calls.POST("/:id/join", callHdlr.JoinCall)
			calls.POST("/:id/leave", callHdlr.LeaveCall)
			calls.POST("/:id/end", callHdlr.EndCall)
			calls.PATCH("/:id/media", callHdlr.UpdateMedia)
			calls.POST("/:id/screen-share", callHdlr.ScreenShare)
			calls.POST("/:id/recording", callHdlr.SetRecording)
			calls.POST("/:id/consent", callHdlr.RecordConsent)
			calls.POST("/:id/quality", callHdlr.ReportQuality)
		}

		v1.GET("/workspaces/:workspace_id/calls", callHdlr.GetActiveCalls)

		// WebSocket endpoint for call signaling
		v1.GET("/ws/signaling", hub.ServeWS)
	}

	// 11. Start server with graceful shutdown
	port := env.GetString("PORT", "8084")
	addr := fmt.Sprintf(":%s", port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("Call Service starting on port %s", port)
		log.Println("Signaling endpoint: /v1/ws/signaling")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

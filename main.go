package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"room-chat/internal/auth"
	"room-chat/internal/config"
	"room-chat/internal/db"
	"room-chat/internal/gateway"
	"room-chat/internal/handlers"
	"room-chat/internal/logging"
	"room-chat/internal/middleware"
	"room-chat/internal/observability"
	"room-chat/internal/persistence"
	"room-chat/internal/rabbitmq"
	"room-chat/internal/ratelimit"
	"room-chat/internal/registry"
	"room-chat/internal/repositories"
	"room-chat/internal/services"
	"room-chat/internal/telemetry"
	"room-chat/internal/ws"
)

const serviceName = "room-chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, !cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	database, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	userRepo := repositories.NewUserRepo(database)
	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hasher := auth.NewPasswordHasher(auth.DefaultBcryptCost)
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)

	bridge := rabbitmq.NewBridge(rabbitmq.BridgeConfig{
		URL:           cfg.AMQPURL,
		Queue:         cfg.AMQPQueue,
		AuditExchange: cfg.AMQPAuditExchange,
		RetryInterval: cfg.BrokerRetryInterval,
	}, nil)
	observability.SetPublisher(bridge)
	audit := telemetry.NewAuditEmitter(bridge, serviceName, cfg.Env)

	limiter := newLimiter(ctx, cfg)

	roomService := services.NewRoomService(roomRepo, hasher, audit)
	historyService := services.NewHistoryService(roomService, messageRepo)
	authService := services.NewAuthService(userRepo, hasher, tokens)

	gw := gateway.New(registry.New(cfg.RecentBufferSize), roomService, historyService, bridge, limiter, gateway.Config{
		HistoryLimit: cfg.JoinHistoryLimit,
		OutboxSize:   cfg.OutboxSize,
	})
	roomService.SetRealtime(gw)

	var workerState handlers.StateReporter
	var consumer *rabbitmq.Consumer
	if cfg.WorkerEnabled {
		worker := persistence.NewWorker(messageRepo)
		consumer = rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
			URL:           cfg.AMQPURL,
			Queue:         cfg.AMQPQueue,
			Prefetch:      cfg.WorkerPrefetch,
			RetryInterval: cfg.BrokerRetryInterval,
		}, nil, worker.Deliver)
		workerState = consumer
	}

	// the broker outlives the gateway so the outbox can flush on shutdown
	brokerCtx, stopBroker := context.WithCancel(context.Background())
	var brokerWG, gatewayWG sync.WaitGroup
	run := func(ctx context.Context, wg *sync.WaitGroup, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(brokerCtx, &brokerWG, bridge.Run)
	if consumer != nil {
		run(brokerCtx, &brokerWG, consumer.Run)
	}
	run(ctx, &gatewayWG, gw.Run)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logging.For("http")))
	router.Use(observability.HTTPMetricsMiddleware())

	authHandler := handlers.NewAuthHandler(authService)
	roomHandler := handlers.NewRoomHandler(roomService, historyService, gw)
	wsHandler := ws.NewHandler(gw, tokens)
	authMiddleware := middleware.AuthMiddleware(tokens)

	router.GET("/healthz", handlers.Health(bridge, workerState))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/auth/register", authHandler.Register)
	router.POST("/auth/login", authHandler.Login)

	rooms := router.Group("/rooms", authMiddleware)
	rooms.GET("", roomHandler.ListRooms)
	rooms.POST("/create", roomHandler.CreateRoom)
	rooms.POST("/join", roomHandler.JoinRoom)
	rooms.DELETE("/del/:id", roomHandler.DeleteRoom)
	rooms.POST("/leave/:id", roomHandler.LeaveRoom)
	rooms.GET("/:id/is_member", roomHandler.IsMember)
	rooms.POST("/:id/messages", roomHandler.PostMessage)
	rooms.GET("/:id/history", roomHandler.GetHistory)

	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, messageRepo, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	gatewayWG.Wait()
	stopBroker()
	brokerWG.Wait()
	if closer, ok := limiter.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer shutdown")
	}
}

func newLimiter(ctx context.Context, cfg *config.Config) ratelimit.Limiter {
	if cfg.RedisURL != "" {
		limiter, err := ratelimit.NewRedisLimiter(ctx, cfg.RedisURL, cfg.SendRateLimit, cfg.SendRateWindow)
		if err == nil {
			return limiter
		}
		log.Error().Err(err).Msg("redis unavailable, using in-memory rate limiter")
	}
	return ratelimit.NewMemoryLimiter(cfg.SendRateLimit, cfg.SendRateWindow)
}

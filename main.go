package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	gorillahandlers "github.com/gorilla/handlers"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"studybuddy-chat/internal/bus"
	"studybuddy-chat/internal/config"
	"studybuddy-chat/internal/db"
	"studybuddy-chat/internal/handlers"
	"studybuddy-chat/internal/middleware"
	"studybuddy-chat/internal/observability"
	"studybuddy-chat/internal/rabbitmq"
	"studybuddy-chat/internal/repositories"
	"studybuddy-chat/internal/telemetry"
	"studybuddy-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditKey, cfg.ServiceName, cfg.Environment)

	chatBus, err := newBus(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to start bus: %v", err)
	}
	log.Printf("bus backend=%s node=%s", cfg.BusBackend, chatBus.NodeID())

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	registry := ws.NewRegistry(chatBus)
	roomHandler := handlers.NewRoomHandler(roomRepo, messageRepo, registry, audit, cfg.HistoryLimit)
	chatWS := ws.NewChatWebSocketHandler(registry, messageRepo, userRepo, ws.Config{
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	router := gin.New()

	// middlewares
	router.Use(gin.Recovery(), gin.Logger(), otelgin.Middleware(cfg.ServiceName), observability.HTTPMetricsMiddleware())

	router.GET("/metrics", observability.MetricsHandler())
	router.GET("/healthz", healthz(database))

	api := router.Group("/studybuddy", middleware.Identity())
	api.GET("/rooms", roomHandler.ListRooms)
	api.POST("/rooms", roomHandler.AddRoom)
	api.GET("/rooms/:room_id", roomHandler.GetRoom)
	api.POST("/rooms/:room_id/leave", roomHandler.LeaveRoom)

	router.GET("/studybuddy/chat/rooms/:room_name", chatWS.Handle)
	router.GET("/studybuddy/chat/rooms/:room_name/", chatWS.Handle)

	handlers.RegisterDebugRoutes(router, audit, registry, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           withCORS(router, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("chat service listening addr=%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return chatBus.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
		if err := chatBus.Close(); err != nil {
			log.Printf("bus close: %v", err)
		}
		if err := publisher.Close(); err != nil {
			log.Printf("publisher close: %v", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func newBus(ctx context.Context, cfg config.Config) (*bus.Bus, error) {
	switch cfg.BusBackend {
	case config.BusAMQP:
		relay, err := bus.DialAMQPRelay(cfg.AMQPURL, cfg.BusAMQPExchange)
		if err != nil {
			return nil, err
		}
		return bus.New(bus.WithRelay(relay)), nil
	case config.BusRedis:
		relay, err := bus.DialRedisRelay(ctx, cfg.RedisAddr, cfg.BusRedisChannel)
		if err != nil {
			return nil, err
		}
		return bus.New(bus.WithRelay(relay)), nil
	default:
		return bus.New(), nil
	}
}

func healthz(database *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func withCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		return h
	}
	return gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(origins),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID", middleware.UserEmailHeader}),
		gorillahandlers.AllowCredentials(),
	)(h)
}

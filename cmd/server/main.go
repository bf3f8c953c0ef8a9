package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rajeee/chatdf/internal/config"
	"github.com/rajeee/chatdf/internal/datasetsvc"
	"github.com/rajeee/chatdf/internal/domain"
	"github.com/rajeee/chatdf/internal/filecache"
	"github.com/rajeee/chatdf/internal/logging"
	"github.com/rajeee/chatdf/internal/metrics"
	"github.com/rajeee/chatdf/internal/orchestrator"
	"github.com/rajeee/chatdf/internal/pushchannel"
	"github.com/rajeee/chatdf/internal/querycache"
	"github.com/rajeee/chatdf/internal/ratelimiter"
	"github.com/rajeee/chatdf/internal/repository"
	transportgrpc "github.com/rajeee/chatdf/internal/transport/grpc"
	transportws "github.com/rajeee/chatdf/internal/transport/websocket"
	"github.com/rajeee/chatdf/internal/workerpool"
)

// unconfiguredModel is the ChatModel wired in when no concrete model
// adapter has been configured. The upstream LLM client is out of scope
// (§1 Non-goals); this keeps the orchestrator constructible so every other
// wire path (HTTP, WebSocket, gRPC, persistence) can still be exercised.
type unconfiguredModel struct{}

func (unconfiguredModel) StreamChat(context.Context, orchestrator.ModelRequest, orchestrator.TokenEmitter, orchestrator.ToolExecutor, <-chan struct{}) (orchestrator.ModelStreamResult, error) {
	return orchestrator.ModelStreamResult{}, errors.New("chat model not configured")
}

func main() {
	logger := logging.New("info")
	log := logging.Component(logger, "main")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	gormDB, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("connecting to postgres: %v", err)
	}

	if err := repository.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatalf("applying migrations: %v", err)
	}

	redisOpts, err := redis.ParseURL(fmt.Sprintf("redis://%s", cfg.RedisAddr))
	if err != nil {
		log.Fatalf("parsing redis address: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	repo, err := repository.New(gormDB, cfg.PostgresDSN, redisClient, logging.Component(logger, "repository"))
	if err != nil {
		log.Fatalf("constructing repository: %v", err)
	}
	defer repo.Close()

	rawDB, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("opening raw postgres pool: %v", err)
	}
	defer rawDB.Close()

	promRegistry := prometheus.NewRegistry()
	appMetrics := metrics.New(promRegistry)

	fileCache, err := filecache.New(filecache.Config{
		Dir:              cfg.CacheDir,
		MaxFileBytes:     cfg.MaxFileBytes,
		MaxCacheBytes:    cfg.MaxCacheBytes,
		DownloadTimeout:  300 * time.Second,
		StaleTempFileAge: cfg.StaleTempFileAge,
		RetryAttempts:    3,
		RetryBaseDelay:   250 * time.Millisecond,
	}, logging.Component(logger, "filecache"))
	if err != nil {
		log.Fatalf("constructing file cache: %v", err)
	}

	workers, err := workerpool.New(workerpool.Config{
		Size:             cfg.WorkerPoolSize,
		MemoryLimitMB:    cfg.WorkerMemoryLimitMB,
		TaskTimeout:      cfg.WorkerTaskTimeout,
		MaxTasksPerSlot:  cfg.WorkerMaxTasks,
		AllowPrivateURLs: cfg.AllowPrivateURLs,
	}, fileCache, workerpool.NewSQLiteEngine(), appMetrics, logging.Component(logger, "workerpool"))
	if err != nil {
		log.Fatalf("constructing worker pool: %v", err)
	}
	defer func() { _ = workers.Shutdown(context.Background()) }()

	durableCache := querycache.NewPostgresDurableStore(rawDB, cfg.DurableCacheMaxSize)
	queryCache, err := querycache.New(querycache.Config{
		LayerACapacity: cfg.QueryCacheSize,
		LayerATTL:      cfg.QueryCacheTTL,
		LayerBTTL:      cfg.DurableCacheTTL,
	}, durableCache, appMetrics, logging.Component(logger, "querycache"))
	if err != nil {
		log.Fatalf("constructing query cache: %v", err)
	}

	limiterStore := ratelimiter.NewPostgresStore(rawDB)
	limiter := ratelimiter.New(limiterStore, cfg.TokenLimit, redisClient, appMetrics, logging.Component(logger, "ratelimiter"))

	datasets := datasetsvc.New(repo, workers)

	pushRegistry := pushchannel.New(pushchannel.DefaultConfig(), repo, appMetrics, logging.Component(logger, "pushchannel"))

	kafkaWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBroker),
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}
	defer kafkaWriter.Close()

	lock := domain.NewActiveConversationLock()
	orch := orchestrator.New(
		repo, datasets, limiter, queryCache, workers, pushRegistry, lock,
		unconfiguredModel{}, kafkaWriter, logging.Component(logger, "orchestrator"),
	)

	wsHandler := transportws.New(pushRegistry, orch, transportws.Config{
		WriteTimeout: pushchannel.DefaultConfig().WriteTimeout,
	}, logging.Component(logger, "websocket"))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(appMetrics.GinMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "chatdf", "timestamp": time.Now().Unix()})
	})

	router.GET("/ready", func(c *gin.Context) {
		if err := rawDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "database unavailable"})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))
	router.GET("/ws", wsHandler.HandleUpgrade)

	httpServer := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	grpcServer := transportgrpc.NewServer(logging.Component(logger, "grpc"))
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listening on grpc address: %v", err)
	}

	go func() {
		log.Infof("starting grpc server on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("serving grpc: %v", err)
		}
	}()

	go func() {
		log.Infof("starting http server on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serving http: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(transportgrpc.GracefulStopTimeout):
		grpcServer.Stop()
	}

	log.Info("servers stopped")
}

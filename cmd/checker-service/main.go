package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"checkhub/internal/checker/controller"
	"checkhub/internal/checker/linters"
	"checkhub/internal/checker/notifications"
	"checkhub/internal/checker/repository"
	"checkhub/internal/checker/sandbox"
	"checkhub/internal/checker/service"
	"checkhub/internal/checker/unittest"
	"checkhub/internal/common/cache"
	"checkhub/internal/common/db"
	"checkhub/internal/common/mq"
	"checkhub/pkg/utils/logger"
)

const defaultConfigPath = "configs/checker_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	conn := mysqlDB.Conn()

	redisClient, err := cache.NewRedisClient(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisClient.Close()
	}()

	var queue mq.MessageQueue
	if appCfg.Queue.Driver == "direct" {
		queue = mq.NewDirectQueue()
	} else {
		kafkaQueue, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		queue = kafkaQueue
	}
	defer func() {
		_ = queue.Close()
	}()

	scheduler, err := mq.NewDelayScheduler(redisClient, queue, appCfg.Checker.DelayKey, appCfg.Checker.DelayPollInterval)
	if err != nil {
		logger.Error(context.Background(), "init delay scheduler failed", zap.Error(err))
		return
	}

	var dockerClient *sandbox.DockerClient
	if appCfg.Sandbox.Backend != sandbox.BackendLocal {
		dockerClient, err = sandbox.NewDockerClient(context.Background())
		if err != nil {
			logger.Error(context.Background(), "init docker client failed", zap.Error(err))
			return
		}
		defer func() {
			_ = dockerClient.Close()
		}()
	}
	sandboxFactory := sandbox.NewFactory(appCfg.Sandbox, dockerClient)

	solutionRepo := repository.NewSolutionRepository(conn)
	commentRepo := repository.NewCommentRepository(conn)
	exerciseRepo := repository.NewExerciseRepository(conn)

	notifier := notifications.NewQueueNotifier(queue, appCfg.Checker.NotificationsTopic)
	registry := linters.DefaultRegistry()

	solutionSvc := service.NewSolutionService(
		solutionRepo, exerciseRepo, notifier, queue, scheduler, appCfg.Checker.MaxCheckDuration,
	)
	linterSvc := service.NewLinterService(
		solutionRepo, commentRepo, exerciseRepo, registry, sandboxFactory, notifier, appCfg.Checker.SystemUserID,
	)
	identicalSvc := service.NewIdenticalService(
		solutionRepo, commentRepo, exerciseRepo, notifier, appCfg.Checker.SystemUserID,
	)
	unitTestChecker := unittest.NewChecker(solutionRepo, exerciseRepo, sandboxFactory, notifier)

	tasks := service.NewTasks(queue, solutionSvc, linterSvc, identicalSvc, unitTestChecker)
	if err := tasks.Register(context.Background()); err != nil {
		logger.Error(context.Background(), "register task handlers failed", zap.Error(err))
		return
	}
	if err := queue.Start(); err != nil {
		logger.Error(context.Background(), "start queue consumer failed", zap.Error(err))
		return
	}
	scheduler.Start(context.Background())

	httpServer := buildHTTPServer(appCfg.Server, solutionSvc, commentRepo, mysqlDB, queue)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "checker http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	scheduler.Stop()
	_ = queue.Stop()
}

func buildHTTPServer(cfg ServerConfig, solutionSvc *service.SolutionService, comments repository.CommentRepository, mysqlDB *db.MySQL, queue mq.MessageQueue) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := mysqlDB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "reason": "database"})
			return
		}
		if err := queue.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "reason": "queue"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	api := router.Group("/api/v1")
	solutionController := controller.NewSolutionController(solutionSvc, comments)
	solutionController.RegisterRoutes(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"campus-im/internal/config"
	"campus-im/internal/handlers/chatserver"
	appKafka "campus-im/internal/kafka"
	kafkahandlers "campus-im/internal/kafka/handlers"
	"campus-im/internal/logger"
	"campus-im/internal/metrics"
	"campus-im/internal/middleware"
	"campus-im/internal/presence"
	appRedis "campus-im/internal/redis"
	"campus-im/internal/services"
	"campus-im/internal/storage"
	ws "campus-im/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径 (默认查找 ./config/config.yaml)")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogLevel == "debug"); err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}
	defer logger.Sync()

	if !cfg.Kafka.Enabled {
		// 没有 Kafka 时 chatserver 收不到任何事件，推送由 apiserver 进程内完成
		logger.Log.Fatal("chatserver 需要 KAFKA.ENABLED=true；未启用 Kafka 时请直接连接 apiserver 的 WebSocket 端点")
	}
	if cfg.Database.Type != "postgres" {
		logger.Log.Fatal("chatserver 需要共享的 PostgreSQL 来校验房间访问权限", zap.String("type", cfg.Database.Type))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化数据库连接（只读：访问校验与显示名）
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		logger.Log.Fatal("无法初始化数据库", zap.Error(err))
	}
	repos := storage.NewGormRepositories(db)
	membership := services.NewMembership(repos.Communities)
	userService := services.NewUserService(repos.Users)
	// chatserver 不写消息，发布器为空实现
	conversationService := services.NewConversationService(repos, membership, userService, services.NewNopPublisher(), cfg.Messaging)

	// 3. 输入状态
	tracker, closeTracker := newTracker(ctx, cfg)
	defer closeTracker()

	// 4. 初始化 WebSocket Hub
	hub := ws.NewHub()
	go hub.Run(ctx)
	logger.Log.Info("WebSocket Hub 已启动")

	fanout := chatserver.NewFanout(hub, tracker)
	wsHandler := chatserver.NewWebSocketHandler(hub, conversationService, userService, tracker, fanout, cfg)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		presence.Run(ctx, tracker, cfg.Presence.SweepInterval, fanout.TypingExpired)
	}()

	// 5. Kafka 出站事件消费者：每个实例使用独立的消费组，才能收到全部事件
	consumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
	if err != nil {
		logger.Log.Fatal("无法创建 Kafka 消费者", zap.Error(err))
	}
	defer consumer.Close()

	groupID := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, uuid.NewString())
	fanoutLogic := kafkahandlers.NewFanoutConsumerLogic(fanout)
	wg.Add(1)
	go func() {
		defer wg.Done()
		topics := []string{cfg.Kafka.WebSocketOutgoingTopic}
		logger.Log.Info("Kafka 出站消费者启动", zap.Strings("topics", topics), zap.String("group", groupID))
		if err := consumer.Consume(ctx, topics, groupID, fanoutLogic.HandleFanoutEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.Error("Kafka 出站消费者错误", zap.Error(err))
			stop()
		}
		logger.Log.Info("Kafka 出站消费者已停止")
	}()

	// 6. 配置 HTTP 服务器路由
	r := mux.NewRouter()
	r.Use(middleware.Observe)
	r.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:           serverAddr,
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ErrorLog:       logger.StdLog("http"),
	}

	go func() {
		logger.Log.Info("Chat 服务器启动", zap.String("addr", serverAddr), zap.String("path", cfg.Server.WebSocketPath))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Chat 服务器启动失败", zap.Error(err))
		}
	}()

	// 优雅关闭
	<-ctx.Done()
	logger.Log.Info("Chat 服务器准备关闭...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Log.Error("Chat 服务器关闭失败", zap.Error(err))
	}
	wg.Wait()
	logger.Log.Info("Chat 服务器已优雅关闭")
}

// newTracker 按 PRESENCE.BACKEND 创建输入状态存储。
func newTracker(ctx context.Context, cfg config.Config) (presence.Tracker, func()) {
	if cfg.Presence.Backend != "redis" {
		return presence.NewMemoryTracker(cfg.Presence.TypingTTL, nil), func() {}
	}
	client, err := appRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Log.Fatal("无法连接到 Redis", zap.Error(err))
	}
	logger.Log.Info("输入状态使用 Redis", zap.String("addr", cfg.Redis.Addr))
	return appRedis.NewTypingTracker(client, cfg.Presence.TypingTTL), func() {
		if err := client.Close(); err != nil {
			logger.Log.Warn("关闭 Redis 连接失败", zap.Error(err))
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"campus-im/internal/config"
	"campus-im/internal/handlers/apiserver"
	"campus-im/internal/handlers/chatserver"
	"campus-im/internal/imtypes"
	appKafka "campus-im/internal/kafka"
	"campus-im/internal/logger"
	"campus-im/internal/metrics"
	"campus-im/internal/middleware"
	"campus-im/internal/models"
	"campus-im/internal/presence"
	"campus-im/internal/services"
	"campus-im/internal/storage"
	"campus-im/internal/storage/memstore"
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
	logger.Log.Info("API 服务器配置加载成功", zap.String("app", cfg.AppName), zap.String("version", cfg.AppVersion))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化存储
	repos, err := openRepositories(cfg.Database)
	if err != nil {
		logger.Log.Fatal("无法初始化数据库", zap.Error(err))
	}

	membership := services.NewMembership(repos.Communities)
	userService := services.NewUserService(repos.Users)

	// 3. 事件发布：启用 Kafka 时写入出站 topic 由 chatserver 推送；
	// 否则在本进程内运行 Hub 并直接提供 WebSocket。
	var (
		publisher services.EventPublisher
		hub       *ws.Hub
		tracker   presence.Tracker
		fanout    *chatserver.Fanout
	)
	if cfg.Kafka.Enabled {
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
		if err != nil {
			logger.Log.Fatal("无法创建 Kafka 生产者", zap.Error(err))
		}
		defer producer.Close()
		publisher = appKafka.NewEventPublisher(producer, cfg.Kafka.WebSocketOutgoingTopic, 0)
		logger.Log.Info("Kafka 生产者初始化成功", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.WebSocketOutgoingTopic))
	} else {
		hub = ws.NewHub()
		go hub.Run(ctx)
		tracker = presence.NewMemoryTracker(cfg.Presence.TypingTTL, nil)
		fanout = chatserver.NewFanout(hub, tracker)
		go presence.Run(ctx, tracker, cfg.Presence.SweepInterval, fanout.TypingExpired)
		publisher = fanout
		logger.Log.Info("Kafka 未启用，使用进程内推送")
	}

	// 4. 初始化 Services
	conversationService := services.NewConversationService(repos, membership, userService, publisher, cfg.Messaging)
	moderationService := services.NewModerationService(repos, membership, publisher)
	reactionService := services.NewReactionService(repos, membership, conversationService, publisher, cfg.Messaging)

	var storageService imtypes.StorageService
	switch cfg.Storage.Type {
	case "local":
		local, err := storage.NewLocalStorageService(cfg.Storage)
		if err != nil {
			logger.Log.Fatal("无法初始化本地存储服务", zap.Error(err))
		}
		storageService = local
	case "", "none":
		logger.Log.Warn("未配置文件存储，上传接口不可用")
	default:
		logger.Log.Fatal("不支持的存储类型", zap.String("type", cfg.Storage.Type))
	}

	limiter := middleware.NewRateLimiter(cfg.Messaging.SendRatePerSecond, cfg.Messaging.SendBurst)
	go limiter.RunCleanup(time.Minute, ctx.Done())

	// 5. 设置 HTTP 路由
	r := mux.NewRouter()
	r.Use(middleware.Observe)

	apiserver.RegisterRoutes(r, apiserver.Deps{
		Conversations: conversationService,
		Moderation:    moderationService,
		Reactions:     reactionService,
		Users:         userService,
		Storage:       storageService,
		Limiter:       limiter,
	}, cfg)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	if hub != nil {
		wsHandler := chatserver.NewWebSocketHandler(hub, conversationService, userService, tracker, fanout, cfg)
		r.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)
		logger.Log.Info("WebSocket 端点已挂载", zap.String("path", cfg.Server.WebSocketPath))
	}

	// 上传文件的静态访问
	if cfg.Storage.Type == "local" {
		staticPath := strings.TrimSuffix(cfg.Storage.BaseURL, "/") + "/"
		r.PathPrefix(staticPath).Handler(http.StripPrefix(staticPath, http.FileServer(http.Dir(cfg.Storage.LocalPath))))
		logger.Log.Info("提供静态文件服务", zap.String("path", staticPath), zap.String("dir", cfg.Storage.LocalPath))
	}

	// 6. CORS
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}

	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        handlers.RecoveryHandler(handlers.RecoveryLogger(logger.StdLog("recovery")))(handlers.CORS(corsOptions...)(r)),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ErrorLog:       logger.StdLog("http"),
	}

	go func() {
		logger.Log.Info("API 服务器启动", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("API 服务器启动失败", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Log.Info("收到关闭信号，正在关闭 API 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Log.Error("API 服务器强制关闭", zap.Error(err))
		return
	}
	logger.Log.Info("API 服务器已成功关闭")
}

// openRepositories 按 DATABASE.TYPE 选择 PostgreSQL 或内存存储。
func openRepositories(cfg config.DatabaseConfig) (storage.Repositories, error) {
	if cfg.Type == "memory" {
		store := memstore.New()
		seedDemoDirectory(store)
		logger.Log.Warn("使用内存存储，重启后数据丢失")
		return store.Repositories(), nil
	}

	db, err := storage.InitDB(cfg)
	if err != nil {
		return storage.Repositories{}, err
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		logger.Log.Warn("数据库表迁移可能失败", zap.Error(err))
	}
	return storage.NewGormRepositories(db), nil
}

// seedDemoDirectory 在内存模式下写入几个用户和一个社区，方便本地联调。
// 用户与社区数据正式环境由外部服务维护。
func seedDemoDirectory(store *memstore.Store) {
	store.AddUser(1, "alice", "Alice")
	store.AddUser(2, "bob", "Bob")
	store.AddUser(3, "carol", "Carol")
	store.AddCommunity(1, "Campus")
	store.AddMember(1, 1, models.AdminRole)
	store.AddMember(1, 2, models.MemberRole)
	store.AddMember(1, 3, models.ModeratorRole)
}

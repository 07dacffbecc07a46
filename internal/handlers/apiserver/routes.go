package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"campus-im/internal/config"
	"campus-im/internal/imtypes"
	"campus-im/internal/middleware"
	"campus-im/internal/services"
)

// Deps 是注册 REST 路由所需的服务。
type Deps struct {
	Conversations services.ConversationService
	Moderation    services.ModerationService
	Reactions     services.ReactionService
	Users         services.UserDirectory
	Storage       imtypes.StorageService
	Limiter       *middleware.RateLimiter
}

// RegisterRoutes 在 r 下注册 /api/v1 路由，全部需要 Bearer 认证。
// 发送类接口额外经过按用户的限流。
func RegisterRoutes(r *mux.Router, deps Deps, cfg config.Config) {
	convoHandler := NewConversationHandler(deps.Conversations, deps.Moderation, deps.Reactions)
	msgHandler := NewMessageHandler(deps.Conversations, deps.Moderation, deps.Reactions)
	blockHandler := NewBlockHandler(deps.Conversations)
	userHandler := NewUserHandler(deps.Users)

	limited := func(fn http.HandlerFunc) http.Handler {
		if deps.Limiter == nil {
			return fn
		}
		return deps.Limiter.Middleware(fn)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return middleware.AuthMiddleware(next, cfg.Auth)
	})

	// 会话
	api.HandleFunc("/conversations", convoHandler.GetUserConversationsHandler).Methods(http.MethodGet)
	api.HandleFunc("/conversations/direct", convoHandler.OpenDirectConversationHandler).Methods(http.MethodPost)
	api.HandleFunc("/communities/{communityID:[0-9]+}/conversation", convoHandler.OpenGroupConversationHandler).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{conversationID:[0-9]+}/messages", convoHandler.GetConversationMessagesHandler).Methods(http.MethodGet)
	api.Handle("/conversations/{conversationID:[0-9]+}/messages", limited(convoHandler.SendMessageHandler)).Methods(http.MethodPost)
	api.Handle("/conversations/{conversationID:[0-9]+}/replies", limited(convoHandler.ReplyHandler)).Methods(http.MethodPost)
	api.Handle("/users/{userID:[0-9]+}/messages", limited(convoHandler.SendDirectMessageHandler)).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{conversationID:[0-9]+}/read", convoHandler.MarkReadHandler).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{conversationID:[0-9]+}/archive", convoHandler.ArchiveHandler).Methods(http.MethodPut)
	api.HandleFunc("/conversations/{conversationID:[0-9]+}", convoHandler.DeleteConversationHandler).Methods(http.MethodDelete)

	// 消息
	api.HandleFunc("/messages/{messageID:[0-9]+}", msgHandler.EditMessageHandler).Methods(http.MethodPatch)
	api.HandleFunc("/messages/{messageID:[0-9]+}", msgHandler.DeleteMessageHandler).Methods(http.MethodDelete)
	api.Handle("/messages/{messageID:[0-9]+}/reaction", limited(msgHandler.ReactHandler)).Methods(http.MethodPut)
	api.HandleFunc("/messages/{messageID:[0-9]+}/reaction", msgHandler.UnreactHandler).Methods(http.MethodDelete)

	// 屏蔽与用户目录
	api.HandleFunc("/blocks", blockHandler.ListBlockedHandler).Methods(http.MethodGet)
	api.HandleFunc("/blocks/{userID:[0-9]+}", blockHandler.BlockHandler).Methods(http.MethodPut)
	api.HandleFunc("/blocks/{userID:[0-9]+}", blockHandler.UnblockHandler).Methods(http.MethodDelete)
	api.HandleFunc("/users/search", userHandler.SearchUsersHandler).Methods(http.MethodGet)

	if deps.Storage != nil {
		uploadHandler := NewUploadHandler(deps.Storage, cfg.Storage)
		api.HandleFunc("/upload", uploadHandler.UploadFileHandler).Methods(http.MethodPost)
	}
}

package chatserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"campus-im/internal/auth"
	"campus-im/internal/config"
	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
	"campus-im/internal/models"
	"campus-im/internal/presence"
	"campus-im/internal/services"
	ws "campus-im/internal/websocket"
)

// AccessChecker 是 WebSocketHandler 用到的会话存储能力。
type AccessChecker interface {
	CanAccess(ctx context.Context, conversationID, userID uint) error
}

// WebSocketHandler 负责处理 WebSocket 连接请求和客户端控制帧。
type WebSocketHandler struct {
	hub     *ws.Hub
	access  AccessChecker
	users   services.UserDirectory
	tracker presence.Tracker
	fanout  *Fanout
	cfg     config.Config
	now     func() time.Time
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler，并注册断线时的输入状态清理。
func NewWebSocketHandler(hub *ws.Hub, access AccessChecker, users services.UserDirectory, tracker presence.Tracker, fanout *Fanout, cfg config.Config) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:     hub,
		access:  access,
		users:   users,
		tracker: tracker,
		fanout:  fanout,
		cfg:     cfg,
		now:     time.Now,
	}
	hub.OnDisconnect(h.onDisconnect)
	return h
}

// ServeWS 校验查询参数中的令牌，然后把连接升级为 WebSocket。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "缺少认证令牌", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateToken(token, h.cfg.Auth)
	if err != nil {
		logger.Log.Info("WebSocket 连接被拒绝：令牌无效", zap.Error(err))
		http.Error(w, "令牌无效", http.StatusUnauthorized)
		return
	}

	name := claims.Username
	if h.users != nil {
		if info, err := h.users.BasicInfo(r.Context(), claims.UserID); err == nil {
			name = info.DisplayName()
		}
	}

	ws.ServeWsPerConnection(h.hub, h.handleFrame, claims.UserID, name, w, r, h.cfg.WebSocket)
}

func (h *WebSocketHandler) handleFrame(ctx context.Context, c *ws.Client, frame imtypes.ClientFrame) {
	if frame.ConversationID == 0 {
		h.sendError(c, 0, imerrors.BadRequest("conversationId is required", nil))
		return
	}
	room := models.ConversationRoom(frame.ConversationID)

	switch frame.Action {
	case imtypes.ActionJoin:
		if err := h.access.CanAccess(ctx, frame.ConversationID, c.UserID); err != nil {
			h.sendError(c, frame.ConversationID, err)
			return
		}
		ack, err := json.Marshal(imtypes.Event{
			Type:           imtypes.EventRoomJoined,
			Room:           room,
			ConversationID: frame.ConversationID,
			Timestamp:      h.now(),
		})
		if err != nil {
			h.sendError(c, frame.ConversationID, err)
			return
		}
		h.hub.Join(c, room, ack)

	case imtypes.ActionLeave:
		h.hub.Leave(c, room)
		h.stopTyping(ctx, room, frame.ConversationID, c)
		c.SendEvent(imtypes.Event{Type: imtypes.EventRoomLeft, Room: room, ConversationID: frame.ConversationID, Timestamp: h.now()})

	case imtypes.ActionTyping:
		if !h.hub.InRoom(c, room) {
			h.sendError(c, frame.ConversationID, imerrors.NotAMember("join the conversation before typing"))
			return
		}
		started, err := h.tracker.StartTyping(ctx, room, c.UserID, c.UserName)
		if err != nil {
			logger.Log.Warn("记录输入状态失败", zap.String("room", room), zap.Uint("user_id", c.UserID), zap.Error(err))
			return
		}
		if started {
			h.fanout.broadcast(imtypes.Event{
				Type:           imtypes.EventTyping,
				Room:           room,
				ConversationID: frame.ConversationID,
				UserID:         c.UserID,
				UserName:       c.UserName,
				Timestamp:      h.now(),
			}, c)
		}

	case imtypes.ActionStopTyping:
		h.stopTyping(ctx, room, frame.ConversationID, c)

	default:
		h.sendError(c, frame.ConversationID, imerrors.BadRequest("unknown action "+string(frame.Action), nil))
	}
}

func (h *WebSocketHandler) stopTyping(ctx context.Context, room string, conversationID uint, c *ws.Client) {
	stopped, err := h.tracker.StopTyping(ctx, room, c.UserID)
	if err != nil {
		logger.Log.Warn("清除输入状态失败", zap.String("room", room), zap.Uint("user_id", c.UserID), zap.Error(err))
		return
	}
	if stopped {
		h.fanout.broadcast(imtypes.Event{
			Type:           imtypes.EventTypingStop,
			Room:           room,
			ConversationID: conversationID,
			UserID:         c.UserID,
			UserName:       c.UserName,
			Timestamp:      h.now(),
		}, c)
	}
}

// onDisconnect 清除断开连接在各会话房间中的输入状态。
func (h *WebSocketHandler) onDisconnect(c *ws.Client, rooms []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, room := range rooms {
		if id, ok := models.ParseConversationRoom(room); ok {
			h.stopTyping(ctx, room, id, c)
		}
	}
}

func (h *WebSocketHandler) sendError(c *ws.Client, conversationID uint, err error) {
	appErr := imerrors.From(err)
	if appErr.Code == imerrors.CodeInternal {
		logger.Log.Error("处理客户端帧失败", zap.Uint("user_id", c.UserID), zap.Error(err))
	}
	c.SendEvent(imtypes.Event{
		Type:           imtypes.EventError,
		ConversationID: conversationID,
		Code:           appErr.Code,
		Error:          appErr.Message,
		Timestamp:      h.now(),
	})
}

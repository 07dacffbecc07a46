package apiserver

import (
	"net/http"
	"strconv"

	"campus-im/internal/imerrors"
	"campus-im/internal/models"
	"campus-im/internal/services"
)

// ConversationHandler 封装了会话相关的 HTTP 处理器方法。
type ConversationHandler struct {
	convoService      services.ConversationService
	moderationService services.ModerationService
	reactionService   services.ReactionService
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(convoService services.ConversationService, moderationService services.ModerationService, reactionService services.ReactionService) *ConversationHandler {
	return &ConversationHandler{
		convoService:      convoService,
		moderationService: moderationService,
		reactionService:   reactionService,
	}
}

// GetUserConversationsHandler 获取当前用户的会话列表，?archived=true 返回已归档的会话。
func (h *ConversationHandler) GetUserConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	archived := false
	if raw := r.URL.Query().Get("archived"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeServiceError(w, r, imerrors.BadRequest("archived 参数无效", err))
			return
		}
		archived = v
	}

	summaries, err := h.convoService.ListConversationsForUser(r.Context(), userID, archived)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []*models.ConversationSummary{}
	}
	writeJSONResponse(w, http.StatusOK, summaries)
}

// OpenDirectConversationRequest 是获取/创建私聊会话的请求结构体。
type OpenDirectConversationRequest struct {
	UserID uint `json:"userId"`
}

// OpenDirectConversationHandler 获取或创建与目标用户的私聊会话。
func (h *ConversationHandler) OpenDirectConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req OpenDirectConversationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		writeServiceError(w, r, imerrors.BadRequest("目标用户ID不能为空", nil))
		return
	}

	conv, err := h.convoService.GetOrCreateDirectConversation(r.Context(), userID, req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, conv)
}

// OpenGroupConversationHandler 获取或创建社区的群聊会话，调用者必须是社区成员。
func (h *ConversationHandler) OpenGroupConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	communityID, ok := pathID(w, r, "communityID")
	if !ok {
		return
	}
	conv, err := h.convoService.GetOrCreateGroupConversation(r.Context(), communityID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, conv)
}

// GetConversationMessagesHandler 按游标分页获取消息，结果按时间正序。
func (h *ConversationHandler) GetConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "conversationID")
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeServiceError(w, r, imerrors.BadRequest("limit 参数无效", err))
			return
		}
		limit = v
	}
	var before *models.Cursor
	if raw := q.Get("before"); raw != "" {
		c, err := models.ParseCursor(raw)
		if err != nil {
			writeServiceError(w, r, imerrors.BadRequest("before 参数无效", err))
			return
		}
		before = &c
	}

	messages, err := h.convoService.ListMessages(r.Context(), conversationID, userID, limit, before)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	writeJSONResponse(w, http.StatusOK, messages)
}

// SendMessageRequest 是发送消息（含回复）的请求结构体。
type SendMessageRequest struct {
	Content     string             `json:"content"`
	MessageType models.MessageType `json:"messageType,omitempty"`
	Attachment  *models.Attachment `json:"attachment,omitempty"`
	ReplyToID   uint               `json:"replyToId,omitempty"`
	ClientMsgID string             `json:"clientMsgId,omitempty"`
}

func (req SendMessageRequest) payload() services.MessagePayload {
	return services.MessagePayload{
		Content:     req.Content,
		MessageType: req.MessageType,
		Attachment:  req.Attachment,
		ClientMsgID: req.ClientMsgID,
	}
}

// SendMessageHandler 向会话发送消息；带 replyToId 时按回复处理。
func (h *ConversationHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "conversationID")
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		msg *models.Message
		err error
	)
	if req.ReplyToID != 0 {
		msg, err = h.reactionService.Reply(r.Context(), conversationID, userID, req.payload(), req.ReplyToID)
	} else {
		msg, err = h.convoService.AppendMessage(r.Context(), conversationID, userID, req.payload())
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}

// ReplyHandler 发送一条回复，replyToId 必填。
func (h *ConversationHandler) ReplyHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "conversationID")
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ReplyToID == 0 {
		writeServiceError(w, r, imerrors.BadRequest("replyToId 不能为空", nil))
		return
	}
	msg, err := h.reactionService.Reply(r.Context(), conversationID, userID, req.payload(), req.ReplyToID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}

// SendDirectMessageHandler 直接向用户发消息，首次发送时隐式创建私聊会话。
func (h *ConversationHandler) SendDirectMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	recipientID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := h.convoService.SendDirectMessage(r.Context(), userID, recipientID, req.payload())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}

// MarkReadHandler 把会话中对方发来的消息标记为已读。
func (h *ConversationHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "conversationID")
	if !ok {
		return
	}
	if err := h.convoService.MarkRead(r.Context(), conversationID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ArchiveRequest 是归档/取消归档的请求结构体。
type ArchiveRequest struct {
	Archived bool `json:"archived"`
}

func (h *ConversationHandler) ArchiveHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "conversationID")
	if !ok {
		return
	}
	var req ArchiveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.convoService.SetArchived(r.Context(), conversationID, userID, req.Archived); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteConversationHandler 私聊按 ?scope=all|sent|received 清除调用者自己的视图；群聊由管理员清空历史。
func (h *ConversationHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "conversationID")
	if !ok {
		return
	}
	scope, err := services.ParseDeleteScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.moderationService.DeleteConversation(r.Context(), conversationID, userID, scope); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

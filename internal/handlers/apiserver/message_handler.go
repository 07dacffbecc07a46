package apiserver

import (
	"net/http"

	"campus-im/internal/models"
	"campus-im/internal/services"
)

// MessageHandler 处理针对单条消息的操作：编辑、删除、表情。
type MessageHandler struct {
	convoService      services.ConversationService
	moderationService services.ModerationService
	reactionService   services.ReactionService
}

func NewMessageHandler(convoService services.ConversationService, moderationService services.ModerationService, reactionService services.ReactionService) *MessageHandler {
	return &MessageHandler{
		convoService:      convoService,
		moderationService: moderationService,
		reactionService:   reactionService,
	}
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

// EditMessageHandler 作者编辑自己的消息。
func (h *MessageHandler) EditMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	var req EditMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := h.convoService.EditMessage(r.Context(), messageID, userID, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, msg)
}

// DeleteMessageHandler 软删除消息。重复删除返回 204。
func (h *MessageHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	if err := h.moderationService.DeleteMessage(r.Context(), messageID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ReactRequest struct {
	Emoji string `json:"emoji"`
}

// ReactHandler 设置调用者的表情（每人一个），返回完整列表。
func (h *MessageHandler) ReactHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	var req ReactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reactions, err := h.reactionService.React(r.Context(), messageID, userID, req.Emoji)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeReactions(w, reactions)
}

func (h *MessageHandler) UnreactHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	reactions, err := h.reactionService.Unreact(r.Context(), messageID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeReactions(w, reactions)
}

func writeReactions(w http.ResponseWriter, reactions []models.Reaction) {
	if reactions == nil {
		reactions = []models.Reaction{}
	}
	writeJSONResponse(w, http.StatusOK, reactions)
}

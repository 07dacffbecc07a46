package apiserver

import (
	"net/http"

	"campus-im/internal/models"
	"campus-im/internal/services"
)

// BlockHandler 管理当前用户的屏蔽列表。屏蔽后双方都不能在私聊中发消息，历史保留。
type BlockHandler struct {
	convoService services.ConversationService
}

func NewBlockHandler(convoService services.ConversationService) *BlockHandler {
	return &BlockHandler{convoService: convoService}
}

func (h *BlockHandler) ListBlockedHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	blocks, err := h.convoService.ListBlocked(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if blocks == nil {
		blocks = []*models.Block{}
	}
	writeJSONResponse(w, http.StatusOK, blocks)
}

func (h *BlockHandler) BlockHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	blockedID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	block, err := h.convoService.Block(r.Context(), userID, blockedID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, block)
}

func (h *BlockHandler) UnblockHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	blockedID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.convoService.Unblock(r.Context(), userID, blockedID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

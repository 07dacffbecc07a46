package apiserver

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"campus-im/internal/imerrors"
	"campus-im/internal/models"
	"campus-im/internal/services"
)

// UserHandler 封装了用户目录相关的 HTTP 处理器方法。
type UserHandler struct {
	users services.UserDirectory
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(users services.UserDirectory) *UserHandler {
	return &UserHandler{users: users}
}

// SearchUsersHandler 按用户名或昵称搜索用户，用于发起私聊。
func (h *UserHandler) SearchUsersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeServiceError(w, r, imerrors.BadRequest("搜索查询不能为空", nil))
		return
	}
	if utf8.RuneCountInString(query) < 2 {
		writeServiceError(w, r, imerrors.BadRequest("搜索查询太短 (至少2个字符)", nil))
		return
	}

	users, err := h.users.Search(r.Context(), query, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []models.UserBasicInfo{}
	}
	writeJSONResponse(w, http.StatusOK, users)
}

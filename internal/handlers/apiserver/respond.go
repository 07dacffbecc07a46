package apiserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"campus-im/internal/imerrors"
	"campus-im/internal/logger"
	"campus-im/internal/middleware"
)

// ErrorResponse 是所有错误响应的结构。
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 格式的响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// 头部已经发送，只能记录
			logger.Log.Warn("无法编码 JSON 响应", zap.Error(err))
		}
	}
}

// writeJSONError 是一个辅助函数，用于发送 JSON 格式的错误响应。
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}

// writeServiceError 把服务层错误渲染为 {"error","code"}；未分类的错误按 500 处理并记录。
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := imerrors.From(err)
	if appErr.Code == imerrors.CodeInternal {
		logger.Log.Error("请求处理失败",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSONResponse(w, appErr.Status, ErrorResponse{Error: appErr.Message, Code: appErr.Code})
}

// currentUser 返回已认证的用户ID；缺失时已写出 401。
func currentUser(w http.ResponseWriter, r *http.Request) (uint, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeServiceError(w, r, imerrors.Unauthorized("用户未认证"))
	}
	return userID, ok
}

// pathID 解析路径参数中的正整数ID；失败时已写出 400。
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 32)
	if err != nil || id == 0 {
		writeServiceError(w, r, imerrors.BadRequest("无效的"+name, err))
		return 0, false
	}
	return uint(id), true
}

// decodeBody 解码 JSON 请求体；失败时已写出 400。
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeServiceError(w, r, imerrors.BadRequest("请求体无效", err))
		return false
	}
	return true
}

package apiserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"campus-im/internal/config"
	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
)

const (
	defaultMaxMemory = 32 << 20 // 32 MB default max memory for multipart forms
)

// UploadHandler 封装了文件上传相关的 HTTP 处理器方法。
type UploadHandler struct {
	storageService imtypes.StorageService
	cfg            config.StorageConfig
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(storageService imtypes.StorageService, cfg config.StorageConfig) *UploadHandler {
	return &UploadHandler{
		storageService: storageService,
		cfg:            cfg,
	}
}

// UploadFileHandler 保存 multipart 表单中的 "file" 字段，返回 {url, size, mimeType, category, fileName}。
// 客户端随后把结果作为消息附件发送。
func (h *UploadHandler) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}

	maxUploadSize := h.cfg.MaxFileSizeMB << 20
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxMemory
	}
	// multipart 头部需要少量额外空间
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)

	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, fmt.Sprintf("上传文件过大，最大允许 %s", humanize.IBytes(uint64(maxUploadSize))), http.StatusRequestEntityTooLarge)
			return
		}
		writeServiceError(w, r, imerrors.BadRequest("解析表单失败", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeServiceError(w, r, imerrors.BadRequest("请求中缺少 'file' 字段", err))
		} else {
			writeServiceError(w, r, imerrors.BadRequest("获取文件失败", err))
		}
		return
	}
	defer file.Close()

	if header.Size > maxUploadSize {
		writeJSONError(w, fmt.Sprintf("上传文件过大，最大允许 %s", humanize.IBytes(uint64(maxUploadSize))), http.StatusRequestEntityTooLarge)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	logger.Log.Debug("收到上传文件",
		zap.String("name", header.Filename), zap.String("size", humanize.IBytes(uint64(header.Size))), zap.String("mime", mimeType))

	fileInfo, err := h.storageService.UploadFile(r.Context(), file, header.Size, header.Filename, mimeType)
	if err != nil {
		writeServiceError(w, r, imerrors.Internal("存储文件失败", err))
		return
	}
	writeJSONResponse(w, http.StatusOK, fileInfo)
}

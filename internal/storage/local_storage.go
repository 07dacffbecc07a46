package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"campus-im/internal/config"
	"campus-im/internal/imtypes"
	"campus-im/internal/models"
)

// LocalStorageService 实现了 imtypes.StorageService 接口。
type LocalStorageService struct {
	basePath string // 本地存储的基础路径，例如 "./uploads"
	baseURL  string // 用于构建文件访问 URL 的基础 URL，例如 "/uploads"
	maxBytes int64
}

// NewLocalStorageService 创建一个新的 LocalStorageService 实例。
func NewLocalStorageService(cfg config.StorageConfig) (*LocalStorageService, error) {
	if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
		return nil, fmt.Errorf("创建本地存储目录失败 '%s': %w", cfg.LocalPath, err)
	}
	return &LocalStorageService{
		basePath: cfg.LocalPath,
		baseURL:  cfg.BaseURL,
		maxBytes: cfg.MaxFileSizeMB << 20,
	}, nil
}

// UploadFile 将文件保存到本地文件系统。
func (s *LocalStorageService) UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*imtypes.FileInfo, error) {
	if s.maxBytes > 0 && fileSize > s.maxBytes {
		return nil, fmt.Errorf("文件过大: %d > %d", fileSize, s.maxBytes)
	}

	// 生成一个唯一的文件名，保留原始扩展名
	ext := filepath.Ext(fileName)
	if ext == "" {
		extensions, _ := mime.ExtensionsByType(mimeType)
		if len(extensions) > 0 {
			ext = extensions[0]
		}
	}
	uniqueFileName := uuid.New().String() + ext
	dstPath := filepath.Join(s.basePath, uniqueFileName)

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("创建目标文件失败 '%s': %w", dstPath, err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, reader)
	if err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("写入文件失败: %w", err)
	}
	if written != fileSize {
		os.Remove(dstPath)
		return nil, fmt.Errorf("文件大小不匹配: 预期 %d, 实际写入 %d", fileSize, written)
	}

	return &imtypes.FileInfo{
		URL:      strings.TrimSuffix(s.baseURL, "/") + "/" + url.PathEscape(uniqueFileName),
		Path:     dstPath,
		Size:     fileSize,
		MimeType: mimeType,
		Category: CategoryForMime(mimeType, fileName),
		FileName: fileName,
	}, nil
}

// CategoryForMime maps a MIME type (falling back to the file extension) to an attachment category.
func CategoryForMime(mimeType string, fileName string) models.AttachmentCategory {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if mt == "" || mt == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); byExt != "" {
			mt = byExt
		}
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return models.CategoryImage
	case strings.HasPrefix(mt, "audio/"):
		return models.CategoryAudio
	case strings.HasPrefix(mt, "video/"):
		return models.CategoryVideo
	case mt == "application/pdf":
		return models.CategoryPDF
	default:
		return models.CategoryFile
	}
}

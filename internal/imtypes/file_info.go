package imtypes

import "campus-im/internal/models"

// FileInfo 包含上传文件的基本信息和访问路径。
type FileInfo struct {
	URL      string                    `json:"url"`      // 可公开访问的文件 URL
	Path     string                    `json:"-"`        // 文件在存储系统中的路径或标识符
	Size     int64                     `json:"size"`     // 文件大小 (字节)
	MimeType string                    `json:"mimeType"` // 文件的 MIME 类型
	Category models.AttachmentCategory `json:"category"` // image/audio/video/file/pdf
	FileName string                    `json:"fileName"` // 原始文件名
}

// Attachment converts the upload result into the value a message carries.
func (f *FileInfo) Attachment() *models.Attachment {
	return &models.Attachment{URL: f.URL, Name: f.FileName, Size: f.Size, Category: f.Category}
}

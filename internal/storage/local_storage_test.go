package storage

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/config"
	"campus-im/internal/models"
)

func TestCategoryForMime(t *testing.T) {
	tests := []struct {
		mime, name string
		want       models.AttachmentCategory
	}{
		{"image/png", "a.png", models.CategoryImage},
		{"audio/mpeg", "a.mp3", models.CategoryAudio},
		{"video/mp4", "a.mp4", models.CategoryVideo},
		{"application/pdf", "a.pdf", models.CategoryPDF},
		{"application/pdf; charset=binary", "a", models.CategoryPDF},
		{"application/octet-stream", "notes.pdf", models.CategoryPDF},
		{"", "photo.jpg", models.CategoryImage},
		{"application/zip", "a.zip", models.CategoryFile},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CategoryForMime(tt.mime, tt.name), tt.mime+" "+tt.name)
	}
}

func TestLocalStorageUpload(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewLocalStorageService(config.StorageConfig{LocalPath: dir, BaseURL: "/uploads/", MaxFileSizeMB: 1})
	require.NoError(t, err)

	body := "hello campus"
	info, err := svc.UploadFile(context.Background(), strings.NewReader(body), int64(len(body)), "hello.txt", "text/plain")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(info.URL, "/uploads/"))
	assert.True(t, strings.HasSuffix(info.URL, ".txt"))
	assert.Equal(t, models.CategoryFile, info.Category)
	assert.Equal(t, "hello.txt", info.FileName)

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestLocalStorageRejectsSizeMismatch(t *testing.T) {
	svc, err := NewLocalStorageService(config.StorageConfig{LocalPath: t.TempDir(), BaseURL: "/uploads"})
	require.NoError(t, err)

	_, err = svc.UploadFile(context.Background(), strings.NewReader("abc"), 10, "a.bin", "")
	assert.Error(t, err)
}

// Package media stores uploaded attachments and returns a URL for them.
package media

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"getchat/internal/config"
	"getchat/internal/models"

	"go.uber.org/zap"
)

var (
	imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}
	videoExts = map[string]bool{".mp4": true, ".webm": true, ".mov": true}
)

// Uploader stores a file and returns the URL clients should use for it.
type Uploader interface {
	Upload(ctx context.Context, filename string, kind models.MediaType, r io.Reader) (string, error)
}

// MediaTypeFor classifies a file by extension. Only images and videos are
// accepted as attachments.
func MediaTypeFor(filename string) (models.MediaType, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case imageExts[ext]:
		return models.MediaImage, true
	case videoExts[ext]:
		return models.MediaVideo, true
	default:
		return "", false
	}
}

// New builds the uploader selected by MEDIA_PROVIDER
func New(cfg *config.Config, log *zap.Logger) (Uploader, error) {
	switch cfg.MediaProvider {
	case "local":
		return NewLocalUploader(cfg.UploadDir, "/uploads"), nil
	case "cloudinary":
		return NewCloudinaryUploader(cfg.Cloudinary, log), nil
	default:
		return nil, fmt.Errorf("unknown media provider %q", cfg.MediaProvider)
	}
}

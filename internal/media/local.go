package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"getchat/internal/models"

	"github.com/google/uuid"
)

// LocalUploader writes files under dir/<kind>s and serves them from baseURL.
type LocalUploader struct {
	dir     string
	baseURL string
}

func NewLocalUploader(dir, baseURL string) *LocalUploader {
	return &LocalUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

func (u *LocalUploader) Upload(_ context.Context, filename string, kind models.MediaType, r io.Reader) (string, error) {
	sub := string(kind) + "s"
	uploadPath := filepath.Join(u.dir, sub)
	if err := os.MkdirAll(uploadPath, 0755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	name := fmt.Sprintf("%s-%d%s", uuid.NewString(), time.Now().Unix(), ext)

	f, err := os.Create(filepath.Join(uploadPath, name))
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	return fmt.Sprintf("%s/%s/%s", u.baseURL, sub, name), nil
}

package media

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"getchat/internal/config"
	"getchat/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const cloudinaryAPI = "https://api.cloudinary.com/v1_1"

// CloudinaryUploader performs signed uploads to Cloudinary.
type CloudinaryUploader struct {
	cfg      config.Cloudinary
	endpoint string
	client   *http.Client
	log      *zap.Logger
	now      func() time.Time
}

func NewCloudinaryUploader(cfg config.Cloudinary, log *zap.Logger) *CloudinaryUploader {
	return &CloudinaryUploader{
		cfg:      cfg,
		endpoint: cloudinaryAPI,
		client:   &http.Client{Timeout: 60 * time.Second},
		log:      log,
		now:      time.Now,
	}
}

// sign follows Cloudinary's scheme: sha1 over the sorted params plus the secret.
func (u *CloudinaryUploader) sign(publicID, timestamp string) string {
	s := fmt.Sprintf("public_id=%s&timestamp=%s%s", publicID, timestamp, u.cfg.APISecret)
	return fmt.Sprintf("%x", sha1.Sum([]byte(s)))
}

func (u *CloudinaryUploader) Upload(ctx context.Context, filename string, kind models.MediaType, r io.Reader) (string, error) {
	publicID := uuid.NewString()
	if u.cfg.Folder != "" {
		publicID = u.cfg.Folder + "/" + publicID
	}
	timestamp := strconv.FormatInt(u.now().Unix(), 10)

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		err := writeUploadForm(form, map[string]string{
			"api_key":   u.cfg.APIKey,
			"public_id": publicID,
			"timestamp": timestamp,
			"signature": u.sign(publicID, timestamp),
		}, filename, r)
		pw.CloseWithError(err)
	}()

	endpoint := fmt.Sprintf("%s/%s/%s/upload", u.endpoint, u.cfg.CloudName, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	res, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudinary request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read cloudinary response: %w", err)
	}

	var cloudRes struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
		Error     struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &cloudRes); err != nil {
		return "", fmt.Errorf("parse cloudinary response (status %d): %w", res.StatusCode, err)
	}
	if res.StatusCode != http.StatusOK || cloudRes.Error.Message != "" {
		u.log.Warn("cloudinary upload rejected", zap.Int("status", res.StatusCode), zap.String("error", cloudRes.Error.Message))
		return "", fmt.Errorf("cloudinary upload failed with status %d: %s", res.StatusCode, cloudRes.Error.Message)
	}

	if cloudRes.SecureURL != "" {
		return cloudRes.SecureURL, nil
	}
	if cloudRes.URL != "" {
		return cloudRes.URL, nil
	}
	return "", fmt.Errorf("cloudinary returned no url")
}

func writeUploadForm(form *multipart.Writer, fields map[string]string, filename string, r io.Reader) error {
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return form.Close()
}

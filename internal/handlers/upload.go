package handlers

import (
	"fmt"
	"mime/multipart"

	"getchat/internal/media"
	"getchat/internal/middleware"
	"getchat/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// UploadFile stores an image or video attachment and returns its URL
func (h *Handler) UploadFile(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "No file uploaded")
	}

	url, kind, err := h.saveUpload(c, file)
	if err != nil {
		return err
	}

	return success(c, fiber.StatusCreated, fiber.Map{
		"filename":   file.Filename,
		"size":       file.Size,
		"media_type": kind,
		"url":        url,
	})
}

// UploadAvatar stores an image and makes it the caller's avatar
func (h *Handler) UploadAvatar(c *fiber.Ctx) error {
	file, err := c.FormFile("avatar")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "No avatar uploaded")
	}
	if kind, _ := media.MediaTypeFor(file.Filename); kind != models.MediaImage {
		return fail(c, fiber.StatusBadRequest, "Avatar must be an image")
	}

	url, _, err := h.saveUpload(c, file)
	if err != nil {
		return err
	}

	user, err := h.store.UpdateProfile(c.UserContext(), middleware.GetUserID(c), models.ProfileUpdate{AvatarURL: &url})
	if err != nil {
		return h.internalError(c, "Failed to update avatar", err)
	}
	return success(c, fiber.StatusOK, h.withPresence(user))
}

// saveUpload checks size and type and hands the file to the uploader.
// The returned error is already rendered for the client.
func (h *Handler) saveUpload(c *fiber.Ctx, file *multipart.FileHeader) (string, models.MediaType, error) {
	if h.maxUploadSize > 0 && file.Size > h.maxUploadSize {
		return "", "", fiber.NewError(fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("File size exceeds limit of %.2fMB", float64(h.maxUploadSize)/(1024*1024)))
	}

	kind, ok := media.MediaTypeFor(file.Filename)
	if !ok {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "Only image and video files are allowed")
	}

	f, err := file.Open()
	if err != nil {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "Failed to read file")
	}
	defer f.Close()

	url, err := h.uploader.Upload(c.UserContext(), file.Filename, kind, f)
	if err != nil {
		h.log.Error("upload failed", zap.String("filename", file.Filename), zap.Error(err))
		return "", "", fiber.NewError(fiber.StatusBadGateway, "Failed to store file")
	}
	return url, kind, nil
}

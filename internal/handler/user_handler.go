package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"okuri/internal/domain"
	"okuri/internal/middleware"
	"okuri/internal/service/user"
)

type UserHandler struct {
	userService user.Service
}

func NewUserHandler(userService user.Service) *UserHandler {
	return &UserHandler{userService: userService}
}

func (h *UserHandler) GetProfile(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	profile, err := h.userService.GetProfile(c.Context(), userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return middleware.NotFound("User not found")
		}
		return err
	}
	return c.JSON(profile)
}

func (h *UserHandler) UpdateProfile(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	var input domain.UpdateProfileInput
	if err := parseAndValidate(c, &input); err != nil {
		return err
	}

	profile, err := h.userService.UpdateProfile(c.Context(), userID, input)
	if err != nil {
		return err
	}
	return c.JSON(profile)
}

func (h *UserHandler) UploadAvatar(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return middleware.BadRequest("Missing avatar file")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return middleware.BadRequest("Unreadable avatar file")
	}
	defer file.Close()

	profile, err := h.userService.UploadAvatar(
		c.Context(), userID,
		fileHeader.Filename, fileHeader.Size, fileHeader.Header.Get("Content-Type"), file,
	)
	if err != nil {
		return err
	}
	return c.JSON(profile)
}

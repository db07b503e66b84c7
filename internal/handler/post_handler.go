package handler

import (
	"encoding/json"
	"errors"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"

	"okuri/internal/domain"
	"okuri/internal/middleware"
	"okuri/internal/service/post"
)

type PostHandler struct {
	postService post.Service
}

func NewPostHandler(postService post.Service) *PostHandler {
	return &PostHandler{postService: postService}
}

func mapPostError(err error) error {
	switch {
	case errors.Is(err, post.ErrPostNotFound):
		return middleware.NotFound("Post not found")
	case errors.Is(err, post.ErrNotAuthor):
		return middleware.Forbidden("Only the author can modify this post")
	}
	return err
}

func (h *PostHandler) Feed(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	category := domain.PostCategory(c.Query("category", string(domain.CategoryAll)))
	if !category.Valid() {
		return middleware.BadRequest("Invalid category")
	}

	page, err := h.postService.Feed(c.Context(), userID, familyID, category, getCursorParams(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *PostHandler) Get(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	postID, err := parseID(c, "postId")
	if err != nil {
		return err
	}

	found, err := h.postService.GetByID(c.Context(), userID, familyID, postID)
	if err != nil {
		return mapPostError(err)
	}
	return c.JSON(found)
}

// Create accepts multipart form data: a "post" JSON part plus any number of
// "images" file parts.
func (h *PostHandler) Create(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	var input domain.CreatePostInput
	if err := json.Unmarshal([]byte(c.FormValue("post")), &input); err != nil {
		return middleware.BadRequest("Invalid post payload")
	}
	if err := validate.Struct(&input); err != nil {
		return middleware.ValidationError(err.Error())
	}

	images, closeAll, err := openImageParts(c)
	if err != nil {
		return err
	}
	defer closeAll()

	created, err := h.postService.Create(c.Context(), userID, familyID, input, images)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *PostHandler) Update(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	postID, err := parseID(c, "postId")
	if err != nil {
		return err
	}

	var input domain.UpdatePostInput
	if err := json.Unmarshal([]byte(c.FormValue("post")), &input); err != nil {
		return middleware.BadRequest("Invalid post payload")
	}
	if err := validate.Struct(&input); err != nil {
		return middleware.ValidationError(err.Error())
	}

	images, closeAll, err := openImageParts(c)
	if err != nil {
		return err
	}
	defer closeAll()

	updated, err := h.postService.Update(c.Context(), userID, familyID, postID, input, images)
	if err != nil {
		return mapPostError(err)
	}
	return c.JSON(updated)
}

func (h *PostHandler) Delete(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	postID, err := parseID(c, "postId")
	if err != nil {
		return err
	}

	if err := h.postService.Delete(c.Context(), userID, familyID, postID); err != nil {
		return mapPostError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *PostHandler) ToggleLike(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	postID, err := parseID(c, "postId")
	if err != nil {
		return err
	}

	liked, err := h.postService.ToggleLike(c.Context(), userID, familyID, postID)
	if err != nil {
		return mapPostError(err)
	}
	return c.JSON(fiber.Map{"is_liked": liked})
}

func openImageParts(c *fiber.Ctx) ([]post.ImageUpload, func(), error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, func() {}, nil
	}

	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	var images []post.ImageUpload
	for _, fileHeader := range form.File["images"] {
		file, err := fileHeader.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, middleware.BadRequest("Unreadable image file")
		}
		opened = append(opened, file)
		images = append(images, post.ImageUpload{
			FileName:    fileHeader.Filename,
			Size:        fileHeader.Size,
			ContentType: fileHeader.Header.Get("Content-Type"),
			Reader:      file,
		})
	}
	return images, closeAll, nil
}

package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"okuri/internal/domain"
	"okuri/internal/middleware"
	"okuri/internal/service"
)

type Handlers struct {
	Auth    *AuthHandler
	User    *UserHandler
	Family  *FamilyHandler
	Post    *PostHandler
	Comment *CommentHandler
}

func NewHandlers(services *service.Services) *Handlers {
	return &Handlers{
		Auth:    NewAuthHandler(services.Auth),
		User:    NewUserHandler(services.User),
		Family:  NewFamilyHandler(services.Family),
		Post:    NewPostHandler(services.Post),
		Comment: NewCommentHandler(services.Comment),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func parseAndValidate(c *fiber.Ctx, input any) error {
	if err := c.BodyParser(input); err != nil {
		return middleware.BadRequest("Invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return middleware.ValidationError(err.Error())
	}
	return nil
}

func getCursorParams(c *fiber.Ctx) domain.CursorParams {
	params := domain.DefaultCursorParams()
	if cursor, err := strconv.ParseInt(c.Query("cursor"), 10, 64); err == nil {
		params.Cursor = cursor
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		params.Limit = limit
	}
	params.Validate()
	return params
}

func parseID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id < 1 {
		return 0, middleware.BadRequest("Invalid " + name)
	}
	return id, nil
}

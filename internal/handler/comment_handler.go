package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"okuri/internal/domain"
	"okuri/internal/middleware"
	"okuri/internal/service/comment"
)

type CommentHandler struct {
	commentService comment.Service
}

func NewCommentHandler(commentService comment.Service) *CommentHandler {
	return &CommentHandler{commentService: commentService}
}

func mapCommentError(err error) error {
	switch {
	case errors.Is(err, comment.ErrCommentNotFound):
		return middleware.NotFound("Comment not found")
	case errors.Is(err, comment.ErrPostNotFound):
		return middleware.NotFound("Post not found")
	case errors.Is(err, comment.ErrInvalidReply):
		return middleware.BadRequest("Reply references a comment outside this post")
	case errors.Is(err, comment.ErrNotAuthor):
		return middleware.Forbidden("Only the author can modify this comment")
	case errors.Is(err, comment.ErrListNotCached):
		return middleware.PreconditionFailed("Comment list was not fetched before mutating")
	}
	return err
}

// List returns the threaded view: root comments with their reply threads
// flattened one level deep.
func (h *CommentHandler) List(c *fiber.Ctx) error {
	familyID := middleware.GetFamilyID(c)

	postID, err := parseID(c, "postId")
	if err != nil {
		return err
	}

	comments, err := h.commentService.ListByPost(c.Context(), familyID, postID)
	if err != nil {
		return mapCommentError(err)
	}
	return c.JSON(domain.ThreadComments(comments))
}

func (h *CommentHandler) Create(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	postID, err := parseID(c, "postId")
	if err != nil {
		return err
	}

	var input domain.CreateCommentInput
	if err := parseAndValidate(c, &input); err != nil {
		return err
	}

	created, err := h.commentService.Create(c.Context(), familyID, userID, postID, input)
	if err != nil {
		return mapCommentError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *CommentHandler) Update(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	commentID, err := parseID(c, "commentId")
	if err != nil {
		return err
	}

	var input domain.UpdateCommentInput
	if err := parseAndValidate(c, &input); err != nil {
		return err
	}

	updated, err := h.commentService.Update(c.Context(), userID, commentID, input)
	if err != nil {
		return mapCommentError(err)
	}
	return c.JSON(updated)
}

func (h *CommentHandler) Delete(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	commentID, err := parseID(c, "commentId")
	if err != nil {
		return err
	}

	if err := h.commentService.Delete(c.Context(), userID, commentID); err != nil {
		return mapCommentError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

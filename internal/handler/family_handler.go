package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"okuri/internal/domain"
	"okuri/internal/middleware"
	"okuri/internal/service/family"
)

type FamilyHandler struct {
	familyService family.Service
}

func NewFamilyHandler(familyService family.Service) *FamilyHandler {
	return &FamilyHandler{familyService: familyService}
}

func mapFamilyError(err error) error {
	switch {
	case errors.Is(err, family.ErrFamilyNotFound):
		return middleware.NotFound("Family not found")
	case errors.Is(err, family.ErrInvalidInviteCode):
		return middleware.NotFound("Invalid invite code")
	case errors.Is(err, family.ErrAlreadyMember):
		return middleware.Conflict("Already a member of this family")
	case errors.Is(err, family.ErrNotMember):
		return middleware.Forbidden("Not a member of this family")
	case errors.Is(err, family.ErrNotAdmin):
		return middleware.Forbidden("Admin rights required")
	case errors.Is(err, family.ErrLastAdmin):
		return middleware.Conflict("Cannot leave as the only admin")
	case errors.Is(err, family.ErrCannotRemoveSelf):
		return middleware.BadRequest("Cannot remove yourself, leave instead")
	}
	return err
}

func (h *FamilyHandler) Bootstrap(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	result, err := h.familyService.Bootstrap(c.Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *FamilyHandler) Select(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	familyID, err := uuid.Parse(c.Params("familyId"))
	if err != nil {
		return middleware.BadRequest("Invalid family ID")
	}

	if err := h.familyService.SelectFamily(c.Context(), userID, familyID); err != nil {
		return mapFamilyError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *FamilyHandler) Create(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	var input domain.CreateFamilyInput
	if err := parseAndValidate(c, &input); err != nil {
		return err
	}

	created, err := h.familyService.Create(c.Context(), userID, input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *FamilyHandler) Get(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	found, err := h.familyService.GetByID(c.Context(), userID, familyID)
	if err != nil {
		return mapFamilyError(err)
	}
	return c.JSON(found)
}

func (h *FamilyHandler) Update(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	var input domain.UpdateFamilyInput
	if err := parseAndValidate(c, &input); err != nil {
		return err
	}

	updated, err := h.familyService.Update(c.Context(), userID, familyID, input)
	if err != nil {
		return mapFamilyError(err)
	}
	return c.JSON(updated)
}

func (h *FamilyHandler) UploadCover(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return middleware.BadRequest("Missing cover file")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return middleware.BadRequest("Unreadable cover file")
	}
	defer file.Close()

	updated, err := h.familyService.UploadCover(
		c.Context(), userID, familyID,
		fileHeader.Filename, fileHeader.Size, fileHeader.Header.Get("Content-Type"), file,
	)
	if err != nil {
		return mapFamilyError(err)
	}
	return c.JSON(updated)
}

func (h *FamilyHandler) Delete(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	if err := h.familyService.Delete(c.Context(), userID, familyID); err != nil {
		return mapFamilyError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *FamilyHandler) Join(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	var input domain.JoinFamilyInput
	if err := parseAndValidate(c, &input); err != nil {
		return err
	}

	member, err := h.familyService.Join(c.Context(), userID, input)
	if err != nil {
		return mapFamilyError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(member)
}

func (h *FamilyHandler) Leave(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	if err := h.familyService.Leave(c.Context(), userID, familyID); err != nil {
		return mapFamilyError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *FamilyHandler) Members(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	members, err := h.familyService.Members(c.Context(), userID, familyID)
	if err != nil {
		return mapFamilyError(err)
	}
	return c.JSON(members)
}

func (h *FamilyHandler) UpdateMember(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	var input domain.UpdateMemberInput
	if err := parseAndValidate(c, &input); err != nil {
		return err
	}

	member, err := h.familyService.UpdateMember(c.Context(), userID, familyID, input)
	if err != nil {
		return mapFamilyError(err)
	}
	return c.JSON(member)
}

func (h *FamilyHandler) UploadMemberAvatar(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return middleware.BadRequest("Missing avatar file")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return middleware.BadRequest("Unreadable avatar file")
	}
	defer file.Close()

	member, err := h.familyService.UploadMemberAvatar(
		c.Context(), userID, familyID,
		fileHeader.Filename, fileHeader.Size, fileHeader.Header.Get("Content-Type"), file,
	)
	if err != nil {
		return mapFamilyError(err)
	}
	return c.JSON(member)
}

func (h *FamilyHandler) GrantAdmin(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	targetUserID, err := uuid.Parse(c.Params("userId"))
	if err != nil {
		return middleware.BadRequest("Invalid user ID")
	}

	if err := h.familyService.GrantAdmin(c.Context(), userID, familyID, targetUserID); err != nil {
		return mapFamilyError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *FamilyHandler) RemoveMember(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	targetUserID, err := uuid.Parse(c.Params("userId"))
	if err != nil {
		return middleware.BadRequest("Invalid user ID")
	}

	if err := h.familyService.RemoveMember(c.Context(), userID, familyID, targetUserID); err != nil {
		return mapFamilyError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *FamilyHandler) RegenerateInviteCode(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	updated, err := h.familyService.RegenerateInviteCode(c.Context(), userID, familyID)
	if err != nil {
		return mapFamilyError(err)
	}
	return c.JSON(updated)
}

func (h *FamilyHandler) SendInvite(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	familyID := middleware.GetFamilyID(c)

	var input domain.InviteInput
	if err := parseAndValidate(c, &input); err != nil {
		return err
	}

	if err := h.familyService.SendInvite(c.Context(), userID, familyID, input); err != nil {
		return mapFamilyError(err)
	}
	return c.JSON(fiber.Map{"message": "Invite sent"})
}

package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"okuri/internal/domain"
	"okuri/internal/service/family"
)

const (
	FamilyIDContextKey = "family_id"
	MemberContextKey   = "family_member"
)

// FamilyMemberRequired resolves the :familyId route param and rejects users
// without a membership. Row-level checks beyond membership (author-only
// edits, admin rights) stay in the services.
func FamilyMemberRequired(familyService family.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		familyID, err := uuid.Parse(c.Params("familyId"))
		if err != nil {
			return BadRequest("Invalid family ID")
		}

		userID := GetCurrentUserID(c)
		member, err := familyService.GetMember(c.Context(), familyID, userID)
		if err != nil {
			return err
		}
		if member == nil {
			return Forbidden("Not a member of this family")
		}

		c.Locals(FamilyIDContextKey, familyID)
		c.Locals(MemberContextKey, member)

		return c.Next()
	}
}

func GetFamilyID(c *fiber.Ctx) uuid.UUID {
	familyID, ok := c.Locals(FamilyIDContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return familyID
}

func GetCurrentMember(c *fiber.Ctx) *domain.FamilyMember {
	member, ok := c.Locals(MemberContextKey).(*domain.FamilyMember)
	if !ok {
		return nil
	}
	return member
}

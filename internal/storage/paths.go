package storage

import (
	"fmt"

	"github.com/google/uuid"
)

// Object path layout, one folder per owning entity so whole entities can be
// cleaned up with a single prefix delete.

func UserAvatarPath(userID uuid.UUID) string {
	return fmt.Sprintf("users/%s/avatars", userID)
}

func FamilyCoverPath(familyID uuid.UUID) string {
	return fmt.Sprintf("families/%s/cover", familyID)
}

func MemberAvatarPath(familyID, userID uuid.UUID) string {
	return fmt.Sprintf("families/%s/members/%s", familyID, userID)
}

func PostImagesPath(familyID uuid.UUID, postID int64) string {
	return fmt.Sprintf("families/%s/posts/%d", familyID, postID)
}

func FamilyPath(familyID uuid.UUID) string {
	return fmt.Sprintf("families/%s", familyID)
}

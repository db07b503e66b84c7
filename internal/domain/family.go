package domain

import (
	"time"

	"github.com/google/uuid"
)

type Family struct {
	ID          uuid.UUID `json:"id" db:"family_id"`
	Name        string    `json:"name" db:"name"`
	Description *string   `json:"description" db:"description"`
	InviteCode  string    `json:"invite_code" db:"invite_code"`
	CoverURL    *string   `json:"cover_url" db:"cover_url"`
	CreatedBy   uuid.UUID `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// FamilyMember is a user's membership in one family, carrying the
// family-scoped display identity shown on posts and comments.
type FamilyMember struct {
	ID          uuid.UUID `json:"id" db:"member_id"`
	FamilyID    uuid.UUID `json:"family_id" db:"family_id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	DisplayName *string   `json:"display_name" db:"display_name"`
	FamilyRole  *string   `json:"family_role" db:"family_role"`
	AvatarURL   *string   `json:"avatar_url" db:"avatar_url"`
	IsAdmin     bool      `json:"is_admin" db:"is_admin"`
	JoinedAt    time.Time `json:"joined_at" db:"joined_at"`

	User *MemberUser `json:"user,omitempty"`
}

type MemberUser struct {
	ID          uuid.UUID  `json:"id" db:"user_id"`
	Email       string     `json:"email" db:"user_email"`
	DisplayName string     `json:"display_name" db:"user_display_name"`
	AvatarURL   *string    `json:"avatar_url" db:"user_avatar_url"`
	BirthDate   *time.Time `json:"birth_date" db:"user_birth_date"`
}

// Membership joins a member row with its family, as returned by the
// my-families listing.
type Membership struct {
	FamilyMember
	Family Family `json:"family"`
}

type CreateFamilyInput struct {
	Name        string  `json:"name" validate:"required,min=1,max=50"`
	Description *string `json:"description" validate:"omitempty,max=200"`
}

type UpdateFamilyInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=50"`
	Description *string `json:"description" validate:"omitempty,max=200"`
}

type JoinFamilyInput struct {
	InviteCode string `json:"invite_code" validate:"required,len=6"`
}

type UpdateMemberInput struct {
	DisplayName *string `json:"display_name" validate:"omitempty,min=1,max=50"`
	FamilyRole  *string `json:"family_role" validate:"omitempty,max=30"`
	AvatarURL   *string `json:"avatar_url"`
}

type InviteInput struct {
	Email string `json:"email" validate:"required,email"`
}

// BootstrapResult is the session-start prefetch: the profile, every
// membership, and the validated current family selection.
type BootstrapResult struct {
	User            *User        `json:"user"`
	Memberships     []Membership `json:"memberships"`
	CurrentFamilyID *uuid.UUID   `json:"current_family_id"`
}

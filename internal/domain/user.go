package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID              uuid.UUID  `json:"id" db:"user_id"`
	Email           string     `json:"email" db:"email"`
	PasswordHash    string     `json:"-" db:"password_hash"`
	DisplayName     string     `json:"display_name" db:"display_name"`
	AvatarURL       *string    `json:"avatar_url" db:"avatar_url"`
	BirthDate       *time.Time `json:"birth_date" db:"birth_date"`
	CurrentFamilyID *uuid.UUID `json:"current_family_id" db:"current_family_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`

	PasswordResetToken     *string    `json:"-" db:"password_reset_token"`
	PasswordResetExpiresAt *time.Time `json:"-" db:"password_reset_expires_at"`
}

type CreateUserInput struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"display_name" validate:"required,min=1,max=50"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UpdateProfileInput struct {
	DisplayName *string    `json:"display_name" validate:"omitempty,min=1,max=50"`
	AvatarURL   *string    `json:"avatar_url"`
	BirthDate   *time.Time `json:"birth_date"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type PostCategory string

const (
	CategoryAll     PostCategory = "all"
	CategoryGeneral PostCategory = "general"
	CategoryNotice  PostCategory = "notice"
)

func (c PostCategory) Valid() bool {
	switch c {
	case CategoryAll, CategoryGeneral, CategoryNotice, "":
		return true
	}
	return false
}

type Post struct {
	ID        int64          `json:"id" db:"post_id"`
	FamilyID  uuid.UUID      `json:"family_id" db:"family_id"`
	AuthorID  uuid.UUID      `json:"author_id" db:"author_id"`
	Content   string         `json:"content" db:"content"`
	ImageURLs pq.StringArray `json:"image_urls" db:"image_urls"`
	IsNotice  bool           `json:"is_notice" db:"is_notice"`
	LikeCount int            `json:"like_count" db:"like_count"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`

	// Derived per viewer, never stored on the row.
	IsLiked      bool          `json:"is_liked" db:"is_liked"`
	FamilyMember *FamilyMember `json:"family_member,omitempty" db:"-"`
}

type CreatePostInput struct {
	Content  string `json:"content" validate:"required,min=1,max=2000"`
	IsNotice bool   `json:"is_notice"`
}

type UpdatePostInput struct {
	Content           string   `json:"content" validate:"required,min=1,max=2000"`
	IsNotice          bool     `json:"is_notice"`
	ExistingImageURLs []string `json:"existing_image_urls"`
	DeletedImageURLs  []string `json:"deleted_image_urls"`
}

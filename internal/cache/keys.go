package cache

import (
	"fmt"

	"github.com/google/uuid"

	"okuri/internal/domain"
)

// Key is a structured cache address. Keys are built only through the
// constructors below so that prefix invalidation always matches the keys
// the read paths write. Post keys are scoped by viewer because the cached
// entity carries viewer-derived state (IsLiked).
type Key string

func (k Key) String() string { return string(k) }

func PostByID(viewerID uuid.UUID, postID int64) Key {
	return Key(fmt.Sprintf("post:%d:%s", postID, viewerID))
}

// PostEntityPrefix matches every viewer's copy of one post.
func PostEntityPrefix(postID int64) Key {
	return Key(fmt.Sprintf("post:%d:", postID))
}

// PostPage includes the limit: pages with the same cursor but different
// sizes hold different id windows and must never share an entry.
func PostPage(viewerID, familyID uuid.UUID, category domain.PostCategory, cursor int64, limit int) Key {
	if category == "" {
		category = domain.CategoryAll
	}
	return Key(fmt.Sprintf("postlist:%s:%s:%s:%d:%d", familyID, viewerID, category, cursor, limit))
}

// PostListPrefix matches every cached feed page of one family, across all
// viewers, categories and cursors.
func PostListPrefix(familyID uuid.UUID) Key {
	return Key(fmt.Sprintf("postlist:%s:", familyID))
}

func CommentsByPost(postID int64) Key {
	return Key(fmt.Sprintf("comments:%d", postID))
}

func FamilyByID(familyID uuid.UUID) Key {
	return Key(fmt.Sprintf("family:%s", familyID))
}

func FamilyMembers(familyID uuid.UUID) Key {
	return Key(fmt.Sprintf("family:%s:members", familyID))
}

func UserProfile(userID uuid.UUID) Key {
	return Key(fmt.Sprintf("profile:%s", userID))
}

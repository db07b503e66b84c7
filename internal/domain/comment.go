package domain

import (
	"time"

	"github.com/google/uuid"
)

// Comment is the flat row shape. A comment with no RootCommentID is a root
// comment; otherwise it is a reply, and ParentCommentID names its immediate
// parent (the root or another reply).
type Comment struct {
	ID              int64     `json:"id" db:"comment_id"`
	PostID          int64     `json:"post_id" db:"post_id"`
	AuthorID        uuid.UUID `json:"author_id" db:"author_id"`
	Content         string    `json:"content" db:"content"`
	ParentCommentID *int64    `json:"parent_comment_id" db:"parent_comment_id"`
	RootCommentID   *int64    `json:"root_comment_id" db:"root_comment_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`

	FamilyMember *FamilyMember `json:"family_member,omitempty" db:"-"`
}

// ThreadedComment is the derived read-only view: a root comment with every
// reply under its thread flattened into Children, regardless of actual reply
// depth. Each reply keeps a back-reference to its immediate parent so the
// presentation layer can render a mention.
type ThreadedComment struct {
	Comment
	Children      []ThreadedComment `json:"children"`
	ParentComment *Comment          `json:"parent_comment,omitempty"`
}

// ThreadComments converts a flat comment list into the threaded view. The
// input must be ordered ascending by creation time; replies then always
// follow their root, since a reply cannot predate the comment it answers.
//
// A reply whose root or parent is absent from the batch is skipped rather
// than surfaced as an error: the only way to produce one is a root deleted
// between the fetch and a concurrent reply insert, and rendering the rest
// of the thread beats failing the whole list.
func ThreadComments(comments []Comment) []ThreadedComment {
	result := []ThreadedComment{}

	for _, c := range comments {
		if c.RootCommentID == nil {
			result = append(result, ThreadedComment{Comment: c, Children: []ThreadedComment{}})
			continue
		}

		rootIdx := -1
		for i := range result {
			if result[i].ID == *c.RootCommentID {
				rootIdx = i
				break
			}
		}
		if rootIdx == -1 {
			continue
		}

		var parent *Comment
		for i := range comments {
			if c.ParentCommentID != nil && comments[i].ID == *c.ParentCommentID {
				parent = &comments[i]
				break
			}
		}
		if parent == nil {
			continue
		}

		result[rootIdx].Children = append(result[rootIdx].Children, ThreadedComment{
			Comment:       c,
			Children:      []ThreadedComment{},
			ParentComment: parent,
		})
	}

	return result
}

type CreateCommentInput struct {
	Content         string `json:"content" validate:"required,min=1,max=1000"`
	ParentCommentID *int64 `json:"parent_comment_id"`
	RootCommentID   *int64 `json:"root_comment_id"`
}

type UpdateCommentInput struct {
	Content string `json:"content" validate:"required,min=1,max=1000"`
}

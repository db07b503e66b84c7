package comment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"okuri/internal/cache"
	"okuri/internal/domain"
	"okuri/internal/repository"
)

var (
	ErrCommentNotFound = errors.New("comment not found")
	ErrPostNotFound    = errors.New("post not found")
	ErrNotAuthor       = errors.New("only the author can modify this comment")
	// ErrInvalidReply means a reply's root or parent reference does not
	// resolve to a comment of the same post.
	ErrInvalidReply = errors.New("reply references a comment outside this post")
	// ErrListNotCached means a comment creation arrived for a post whose
	// comment list was never fetched. The list is always read before a
	// comment can be composed, so this is a broken caller, not a race.
	ErrListNotCached = errors.New("comment list not cached for this post")
)

type Service interface {
	// ListByPost returns the flat list ordered ascending by creation time;
	// callers thread it with domain.ThreadComments for presentation.
	ListByPost(ctx context.Context, familyID uuid.UUID, postID int64) ([]domain.Comment, error)
	Create(ctx context.Context, familyID, authorID uuid.UUID, postID int64, input domain.CreateCommentInput) (*domain.Comment, error)
	Update(ctx context.Context, userID uuid.UUID, commentID int64, input domain.UpdateCommentInput) (*domain.Comment, error)
	Delete(ctx context.Context, userID uuid.UUID, commentID int64) error
}

type service struct {
	commentRepo repository.CommentRepository
	postRepo    repository.PostRepository
	memberRepo  repository.FamilyMemberRepository
	store       cache.Store
}

func NewService(commentRepo repository.CommentRepository, postRepo repository.PostRepository, memberRepo repository.FamilyMemberRepository, store cache.Store) Service {
	return &service{
		commentRepo: commentRepo,
		postRepo:    postRepo,
		memberRepo:  memberRepo,
		store:       store,
	}
}

// requirePost rejects post ids that do not belong to the route's family.
// The membership middleware only proves membership of the family in the
// URL; without this check any member could reach another family's threads
// by substituting a foreign post id.
func (s *service) requirePost(ctx context.Context, familyID uuid.UUID, postID int64) error {
	owner, err := s.postRepo.GetFamilyID(ctx, postID)
	if errors.Is(err, repository.ErrPostNotFound) {
		return ErrPostNotFound
	}
	if err != nil {
		return err
	}
	if owner != familyID {
		return ErrPostNotFound
	}
	return nil
}

func (s *service) ListByPost(ctx context.Context, familyID uuid.UUID, postID int64) ([]domain.Comment, error) {
	if err := s.requirePost(ctx, familyID, postID); err != nil {
		return nil, err
	}

	key := cache.CommentsByPost(postID)

	var cached []domain.Comment
	if ok, err := s.store.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	comments, err := s.commentRepo.ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	if err := s.joinMembers(ctx, familyID, comments); err != nil {
		return nil, err
	}

	if comments == nil {
		comments = []domain.Comment{}
	}
	_ = s.store.Set(ctx, key, comments)
	return comments, nil
}

func (s *service) Create(ctx context.Context, familyID, authorID uuid.UUID, postID int64, input domain.CreateCommentInput) (*domain.Comment, error) {
	if err := s.requirePost(ctx, familyID, postID); err != nil {
		return nil, err
	}
	if err := s.validateReply(ctx, postID, input); err != nil {
		return nil, err
	}

	comment := &domain.Comment{
		PostID:          postID,
		AuthorID:        authorID,
		Content:         input.Content,
		ParentCommentID: input.ParentCommentID,
		RootCommentID:   input.RootCommentID,
	}

	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return nil, err
	}

	member, err := s.memberRepo.GetByFamilyAndUser(ctx, familyID, authorID)
	if err != nil {
		return nil, err
	}
	comment.FamilyMember = member

	// The list was necessarily fetched before this comment could be
	// composed, so append in place instead of refetching.
	key := cache.CommentsByPost(postID)
	var comments []domain.Comment
	ok, err := s.store.Get(ctx, key, &comments)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListNotCached
	}

	comments = append(comments, *comment)
	if err := s.store.Set(ctx, key, comments); err != nil {
		return nil, err
	}

	return comment, nil
}

// validateReply checks that a reply's thread references resolve within the
// post before the row is inserted. A reply that slips through unchecked
// would persist but never render, since the threaded view drops entries
// whose root or parent is missing.
func (s *service) validateReply(ctx context.Context, postID int64, input domain.CreateCommentInput) error {
	if input.RootCommentID == nil && input.ParentCommentID == nil {
		return nil
	}
	if input.RootCommentID == nil || input.ParentCommentID == nil {
		return ErrInvalidReply
	}

	root, err := s.commentRepo.GetByID(ctx, *input.RootCommentID)
	if err != nil {
		return err
	}
	if root == nil || root.PostID != postID || root.RootCommentID != nil {
		return ErrInvalidReply
	}

	if *input.ParentCommentID == root.ID {
		return nil
	}
	parent, err := s.commentRepo.GetByID(ctx, *input.ParentCommentID)
	if err != nil {
		return err
	}
	if parent == nil || parent.PostID != postID || parent.RootCommentID == nil || *parent.RootCommentID != root.ID {
		return ErrInvalidReply
	}
	return nil
}

func (s *service) Update(ctx context.Context, userID uuid.UUID, commentID int64, input domain.UpdateCommentInput) (*domain.Comment, error) {
	comment, err := s.commentRepo.GetByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if comment == nil {
		return nil, ErrCommentNotFound
	}
	if comment.AuthorID != userID {
		return nil, ErrNotAuthor
	}

	comment.Content = input.Content
	if err := s.commentRepo.Update(ctx, comment); err != nil {
		return nil, err
	}

	// Scalar change on one entry: patch it in place by id. An absent list
	// is fine here; the row is updated and the next read fills fresh.
	key := cache.CommentsByPost(comment.PostID)
	var comments []domain.Comment
	ok, err := s.store.Get(ctx, key, &comments)
	if err != nil {
		return nil, err
	}
	if ok {
		for i := range comments {
			if comments[i].ID == comment.ID {
				member := comments[i].FamilyMember
				comments[i] = *comment
				comments[i].FamilyMember = member
				break
			}
		}
		if err := s.store.Set(ctx, key, comments); err != nil {
			return nil, err
		}
	}

	return comment, nil
}

func (s *service) Delete(ctx context.Context, userID uuid.UUID, commentID int64) error {
	comment, err := s.commentRepo.GetByID(ctx, commentID)
	if err != nil {
		return err
	}
	if comment == nil {
		return ErrCommentNotFound
	}
	if comment.AuthorID != userID {
		return ErrNotAuthor
	}

	if err := s.commentRepo.Delete(ctx, commentID); err != nil {
		return err
	}

	key := cache.CommentsByPost(comment.PostID)
	var comments []domain.Comment
	ok, err := s.store.Get(ctx, key, &comments)
	if err != nil || !ok {
		return nil
	}

	// Drop the comment and the thread it anchored; replies without their
	// root would only be skipped by the materializer anyway.
	kept := comments[:0]
	for _, c := range comments {
		if c.ID == commentID {
			continue
		}
		if c.RootCommentID != nil && *c.RootCommentID == commentID {
			continue
		}
		kept = append(kept, c)
	}
	return s.store.Set(ctx, key, kept)
}

func (s *service) joinMembers(ctx context.Context, familyID uuid.UUID, comments []domain.Comment) error {
	if len(comments) == 0 {
		return nil
	}

	seen := make(map[uuid.UUID]bool)
	var authorIDs []uuid.UUID
	for i := range comments {
		if !seen[comments[i].AuthorID] {
			seen[comments[i].AuthorID] = true
			authorIDs = append(authorIDs, comments[i].AuthorID)
		}
	}

	members, err := s.memberRepo.ListByFamilyAndUsers(ctx, familyID, authorIDs)
	if err != nil {
		return err
	}

	byUser := make(map[uuid.UUID]*domain.FamilyMember, len(members))
	for i := range members {
		byUser[members[i].UserID] = &members[i]
	}
	for i := range comments {
		comments[i].FamilyMember = byUser[comments[i].AuthorID]
	}
	return nil
}

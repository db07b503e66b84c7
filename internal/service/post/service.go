package post

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"okuri/internal/cache"
	"okuri/internal/domain"
	"okuri/internal/repository"
	"okuri/internal/storage"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrNotAuthor    = errors.New("only the author can modify this post")
)

// ImageUpload is one image file attached to a post create or update.
type ImageUpload struct {
	FileName    string
	Size        int64
	ContentType string
	Reader      io.Reader
}

type Service interface {
	Feed(ctx context.Context, viewerID, familyID uuid.UUID, category domain.PostCategory, params domain.CursorParams) (domain.CursorPage[domain.Post], error)
	GetByID(ctx context.Context, viewerID, familyID uuid.UUID, postID int64) (*domain.Post, error)
	Create(ctx context.Context, authorID, familyID uuid.UUID, input domain.CreatePostInput, images []ImageUpload) (*domain.Post, error)
	Update(ctx context.Context, userID, familyID uuid.UUID, postID int64, input domain.UpdatePostInput, newImages []ImageUpload) (*domain.Post, error)
	Delete(ctx context.Context, userID, familyID uuid.UUID, postID int64) error
	ToggleLike(ctx context.Context, userID, familyID uuid.UUID, postID int64) (bool, error)
}

type service struct {
	postRepo   repository.PostRepository
	memberRepo repository.FamilyMemberRepository
	store      cache.Store
	blobs      storage.BlobStore
}

func NewService(postRepo repository.PostRepository, memberRepo repository.FamilyMemberRepository, store cache.Store, blobs storage.BlobStore) Service {
	return &service{
		postRepo:   postRepo,
		memberRepo: memberRepo,
		store:      store,
		blobs:      blobs,
	}
}

// Feed serves one cursor page of a family's posts. Pages are cached
// normalized: the page entry holds post ids only, each id dereferencing a
// per-post entity entry. A page whose ids cannot all be dereferenced is
// treated as a miss and refetched, so the two forms never diverge silently.
func (s *service) Feed(ctx context.Context, viewerID, familyID uuid.UUID, category domain.PostCategory, params domain.CursorParams) (domain.CursorPage[domain.Post], error) {
	params.Validate()
	pageKey := cache.PostPage(viewerID, familyID, category, params.Cursor, params.Limit)

	var ids []int64
	if ok, err := s.store.Get(ctx, pageKey, &ids); err == nil && ok {
		if posts, ok := s.dereference(ctx, viewerID, ids); ok {
			return pageOf(posts, params.Limit), nil
		}
	}

	// The fill writes one entity entry per post, so it must be abandonable
	// by an optimistic writer just like a single-post fill. The entity ids
	// are unknown until the query returns; registering under the family's
	// list prefix gives writers one key to cancel.
	readCtx, done := s.store.RegisterRead(ctx, cache.PostListPrefix(familyID))
	defer done()

	posts, err := s.postRepo.List(readCtx, familyID, viewerID, category, params.Cursor, params.Limit)
	if err != nil {
		return domain.CursorPage[domain.Post]{}, err
	}

	if err := s.joinMembers(readCtx, familyID, posts); err != nil {
		return domain.CursorPage[domain.Post]{}, err
	}

	if readCtx.Err() == nil {
		ids = make([]int64, len(posts))
		for i := range posts {
			ids[i] = posts[i].ID
			_ = s.store.Set(ctx, cache.PostByID(viewerID, posts[i].ID), &posts[i])
		}
		_ = s.store.Set(ctx, pageKey, ids)
	}

	return pageOf(posts, params.Limit), nil
}

func (s *service) dereference(ctx context.Context, viewerID uuid.UUID, ids []int64) ([]domain.Post, bool) {
	posts := make([]domain.Post, 0, len(ids))
	for _, id := range ids {
		var post domain.Post
		ok, err := s.store.Get(ctx, cache.PostByID(viewerID, id), &post)
		if err != nil || !ok {
			return nil, false
		}
		posts = append(posts, post)
	}
	return posts, true
}

func pageOf(posts []domain.Post, limit int) domain.CursorPage[domain.Post] {
	var nextCursor int64
	if len(posts) > 0 {
		nextCursor = posts[len(posts)-1].ID
	}
	return domain.NewCursorPage(posts, nextCursor, len(posts) == limit)
}

func (s *service) GetByID(ctx context.Context, viewerID, familyID uuid.UUID, postID int64) (*domain.Post, error) {
	key := cache.PostByID(viewerID, postID)

	var cached domain.Post
	if ok, err := s.store.Get(ctx, key, &cached); err == nil && ok {
		return &cached, nil
	}

	// Register the fill so an optimistic writer can abandon it mid-flight.
	readCtx, done := s.store.RegisterRead(ctx, key)
	defer done()

	post, err := s.postRepo.GetByID(readCtx, postID, viewerID)
	if err != nil {
		return nil, err
	}
	if post == nil || post.FamilyID != familyID {
		return nil, ErrPostNotFound
	}

	// The author may have left the family; the post renders without an
	// identity in that case.
	member, err := s.memberRepo.GetByFamilyAndUser(readCtx, familyID, post.AuthorID)
	if err != nil {
		return nil, err
	}
	post.FamilyMember = member

	if readCtx.Err() == nil {
		_ = s.store.Set(ctx, key, post)
	}
	return post, nil
}

func (s *service) Create(ctx context.Context, authorID, familyID uuid.UUID, input domain.CreatePostInput, images []ImageUpload) (*domain.Post, error) {
	post := &domain.Post{
		FamilyID: familyID,
		AuthorID: authorID,
		Content:  input.Content,
		IsNotice: input.IsNotice,
	}

	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, err
	}

	if len(images) > 0 {
		urls, err := s.uploadImages(ctx, familyID, post.ID, images)
		if err != nil {
			// Compensate: the post must not survive without its images.
			// Cleanup of already-uploaded blobs is best effort.
			if cerr := s.blobs.RemoveFolder(ctx, storage.PostImagesPath(familyID, post.ID)); cerr != nil {
				log.Printf("Failed to clean up images of post %d: %v", post.ID, cerr)
			}
			if cerr := s.postRepo.Delete(ctx, post.ID); cerr != nil {
				log.Printf("Failed to delete post %d after image upload failure: %v", post.ID, cerr)
			}
			return nil, err
		}

		if err := s.postRepo.UpdateImageURLs(ctx, post.ID, urls); err != nil {
			return nil, err
		}
		post.ImageURLs = urls
	}

	// A new post is always newest-first: resetting the family's feed pages
	// is simpler than splicing it into every cached cursor window.
	_ = s.store.DeletePrefix(ctx, cache.PostListPrefix(familyID))

	return post, nil
}

func (s *service) uploadImages(ctx context.Context, familyID uuid.UUID, postID int64, images []ImageUpload) ([]string, error) {
	basePath := storage.PostImagesPath(familyID, postID)
	urls := make([]string, len(images))

	g, gctx := errgroup.WithContext(ctx)
	for i, image := range images {
		g.Go(func() error {
			path := fmt.Sprintf("%s/%d-%s-%s", basePath, time.Now().UnixMilli(), uuid.New(), image.FileName)
			url, err := s.blobs.Upload(gctx, path, image.Reader, image.Size, image.ContentType)
			if err != nil {
				return err
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

func (s *service) Update(ctx context.Context, userID, familyID uuid.UUID, postID int64, input domain.UpdatePostInput, newImages []ImageUpload) (*domain.Post, error) {
	post, err := s.postRepo.GetByID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if post == nil || post.FamilyID != familyID {
		return nil, ErrPostNotFound
	}
	if post.AuthorID != userID {
		return nil, ErrNotAuthor
	}

	prevNotice := post.IsNotice

	for _, url := range input.DeletedImageURLs {
		path, ok := s.blobs.PathFromURL(url)
		if !ok {
			continue
		}
		if err := s.blobs.Remove(ctx, path); err != nil {
			log.Printf("Failed to remove image %s: %v", path, err)
		}
	}

	finalURLs := append([]string{}, input.ExistingImageURLs...)
	if len(newImages) > 0 {
		newURLs, err := s.uploadImages(ctx, familyID, postID, newImages)
		if err != nil {
			return nil, err
		}
		finalURLs = append(finalURLs, newURLs...)
	}

	post.Content = input.Content
	post.IsNotice = input.IsNotice
	post.ImageURLs = finalURLs

	if err := s.postRepo.Update(ctx, post); err != nil {
		return nil, err
	}

	member, err := s.memberRepo.GetByFamilyAndUser(ctx, familyID, post.AuthorID)
	if err == nil {
		post.FamilyMember = member
	}

	// Patch the entity: other viewers' copies are dropped, the writer's is
	// rewritten in place. Feed pages are only touched when the notice flag
	// moved the post between categories.
	_ = s.store.DeletePrefix(ctx, cache.PostEntityPrefix(postID))
	_ = s.store.Set(ctx, cache.PostByID(userID, postID), post)

	if prevNotice != post.IsNotice {
		_ = s.store.DeletePrefix(ctx, cache.PostListPrefix(familyID))
	}

	return post, nil
}

func (s *service) Delete(ctx context.Context, userID, familyID uuid.UUID, postID int64) error {
	post, err := s.postRepo.GetByID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if post == nil || post.FamilyID != familyID {
		return ErrPostNotFound
	}
	if post.AuthorID != userID {
		return ErrNotAuthor
	}

	if err := s.postRepo.Delete(ctx, postID); err != nil {
		return err
	}

	_ = s.store.DeletePrefix(ctx, cache.PostEntityPrefix(postID))
	_ = s.store.Delete(ctx, cache.CommentsByPost(postID))
	_ = s.store.DeletePrefix(ctx, cache.PostListPrefix(familyID))

	// Best effort: an orphaned blob beats a post the user cannot delete.
	if err := s.blobs.RemoveFolder(ctx, storage.PostImagesPath(familyID, postID)); err != nil {
		log.Printf("Failed to remove images of post %d: %v", postID, err)
	}

	return nil
}

func (s *service) ToggleLike(ctx context.Context, userID, familyID uuid.UUID, postID int64) (bool, error) {
	// The route only proves membership of familyID; the post must actually
	// belong to that family.
	owner, err := s.postRepo.GetFamilyID(ctx, postID)
	if errors.Is(err, repository.ErrPostNotFound) {
		return false, ErrPostNotFound
	}
	if err != nil {
		return false, err
	}
	if owner != familyID {
		return false, ErrPostNotFound
	}

	liked, err := newLikeToggle(s.store, s.postRepo).Do(ctx, postID, familyID, userID)
	if errors.Is(err, repository.ErrPostNotFound) {
		return false, ErrPostNotFound
	}
	return liked, err
}

func (s *service) joinMembers(ctx context.Context, familyID uuid.UUID, posts []domain.Post) error {
	if len(posts) == 0 {
		return nil
	}

	seen := make(map[uuid.UUID]bool)
	var authorIDs []uuid.UUID
	for i := range posts {
		if !seen[posts[i].AuthorID] {
			seen[posts[i].AuthorID] = true
			authorIDs = append(authorIDs, posts[i].AuthorID)
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
	for i := range posts {
		posts[i].FamilyMember = byUser[posts[i].AuthorID]
	}
	return nil
}

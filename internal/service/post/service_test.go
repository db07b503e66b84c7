package post

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"okuri/internal/cache"
	"okuri/internal/domain"
	"okuri/internal/storage"
)

// fakeStore is an in-memory cache.Store that records which prefixes were
// reset and which in-flight reads were canceled.
type fakeStore struct {
	mu              sync.Mutex
	entries         map[cache.Key][]byte
	deletedKeys     []cache.Key
	deletedPrefixes []cache.Key
	canceled        []cache.Key
	reads           map[cache.Key][]context.CancelFunc
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: make(map[cache.Key][]byte),
		reads:   make(map[cache.Key][]context.CancelFunc),
	}
}

func (s *fakeStore) Get(ctx context.Context, key cache.Key, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *fakeStore) Set(ctx context.Context, key cache.Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = raw
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, keys ...cache.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
		s.deletedKeys = append(s.deletedKeys, key)
	}
	return nil
}

func (s *fakeStore) DeletePrefix(ctx context.Context, prefix cache.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedPrefixes = append(s.deletedPrefixes, prefix)
	for key := range s.entries {
		if strings.HasPrefix(key.String(), prefix.String()) {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *fakeStore) RegisterRead(ctx context.Context, key cache.Key) (context.Context, context.CancelFunc) {
	readCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[key] = append(s.reads[key], cancel)
	return readCtx, cancel
}

func (s *fakeStore) CancelReads(key cache.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, key)
	for _, cancel := range s.reads[key] {
		cancel()
	}
	delete(s.reads, key)
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) mustGetPost(t *testing.T, key cache.Key) domain.Post {
	t.Helper()
	var post domain.Post
	ok, err := s.Get(context.Background(), key, &post)
	assert.NoError(t, err)
	assert.True(t, ok, "expected cache entry for %s", key)
	return post
}

func (s *fakeStore) has(key cache.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

type mockPostRepo struct {
	mock.Mock
}

func (m *mockPostRepo) Create(ctx context.Context, post *domain.Post) error {
	args := m.Called(ctx, post)
	return args.Error(0)
}

func (m *mockPostRepo) GetByID(ctx context.Context, postID int64, viewerID uuid.UUID) (*domain.Post, error) {
	args := m.Called(ctx, postID, viewerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Post), args.Error(1)
}

func (m *mockPostRepo) List(ctx context.Context, familyID, viewerID uuid.UUID, category domain.PostCategory, cursor int64, limit int) ([]domain.Post, error) {
	args := m.Called(ctx, familyID, viewerID, category, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Post), args.Error(1)
}

func (m *mockPostRepo) Update(ctx context.Context, post *domain.Post) error {
	args := m.Called(ctx, post)
	return args.Error(0)
}

func (m *mockPostRepo) UpdateImageURLs(ctx context.Context, postID int64, imageURLs []string) error {
	args := m.Called(ctx, postID, imageURLs)
	return args.Error(0)
}

func (m *mockPostRepo) Delete(ctx context.Context, postID int64) error {
	args := m.Called(ctx, postID)
	return args.Error(0)
}

func (m *mockPostRepo) ToggleLike(ctx context.Context, postID int64, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, postID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockPostRepo) GetFamilyID(ctx context.Context, postID int64) (uuid.UUID, error) {
	args := m.Called(ctx, postID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type mockMemberRepo struct {
	mock.Mock
}

func (m *mockMemberRepo) Create(ctx context.Context, member *domain.FamilyMember) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *mockMemberRepo) GetByFamilyAndUser(ctx context.Context, familyID, userID uuid.UUID) (*domain.FamilyMember, error) {
	args := m.Called(ctx, familyID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FamilyMember), args.Error(1)
}

func (m *mockMemberRepo) ListByFamily(ctx context.Context, familyID uuid.UUID) ([]domain.FamilyMember, error) {
	args := m.Called(ctx, familyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FamilyMember), args.Error(1)
}

func (m *mockMemberRepo) ListByFamilyAndUsers(ctx context.Context, familyID uuid.UUID, userIDs []uuid.UUID) ([]domain.FamilyMember, error) {
	args := m.Called(ctx, familyID, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FamilyMember), args.Error(1)
}

func (m *mockMemberRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Membership, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Membership), args.Error(1)
}

func (m *mockMemberRepo) Update(ctx context.Context, member *domain.FamilyMember) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *mockMemberRepo) SetAdmin(ctx context.Context, id uuid.UUID, isAdmin bool) error {
	args := m.Called(ctx, id, isAdmin)
	return args.Error(0)
}

func (m *mockMemberRepo) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockMemberRepo) CountAdmins(ctx context.Context, familyID uuid.UUID) (int64, error) {
	args := m.Called(ctx, familyID)
	return args.Get(0).(int64), args.Error(1)
}

type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) Upload(ctx context.Context, path string, reader io.Reader, size int64, contentType string) (string, error) {
	args := m.Called(ctx, path, reader, size, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockBlobStore) Remove(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *mockBlobStore) RemoveFolder(ctx context.Context, prefix string) error {
	args := m.Called(ctx, prefix)
	return args.Error(0)
}

func (m *mockBlobStore) PathFromURL(publicURL string) (string, bool) {
	args := m.Called(publicURL)
	return args.String(0), args.Bool(1)
}

func TestFeed_SecondPageServedFromCache(t *testing.T) {
	postRepo := new(mockPostRepo)
	memberRepo := new(mockMemberRepo)
	store := newFakeStore()
	svc := NewService(postRepo, memberRepo, store, new(mockBlobStore))

	viewerID := uuid.New()
	familyID := uuid.New()
	member := domain.FamilyMember{ID: uuid.New(), FamilyID: familyID, UserID: viewerID}
	posts := []domain.Post{
		{ID: 3, FamilyID: familyID, AuthorID: viewerID, Content: "newest"},
		{ID: 2, FamilyID: familyID, AuthorID: viewerID, Content: "older"},
	}

	postRepo.On("List", mock.Anything, familyID, viewerID, domain.CategoryAll, int64(0), 10).
		Return(posts, nil).Once()
	memberRepo.On("ListByFamilyAndUsers", mock.Anything, familyID, []uuid.UUID{viewerID}).
		Return([]domain.FamilyMember{member}, nil).Once()

	first, err := svc.Feed(context.Background(), viewerID, familyID, domain.CategoryAll, domain.CursorParams{})
	assert.NoError(t, err)
	assert.Len(t, first.Data, 2)
	assert.Equal(t, int64(2), first.NextCursor)
	assert.False(t, first.HasMore)

	second, err := svc.Feed(context.Background(), viewerID, familyID, domain.CategoryAll, domain.CursorParams{})
	assert.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)

	postRepo.AssertExpectations(t)
	memberRepo.AssertExpectations(t)
}

func TestFeed_PageWithMissingEntityRefetches(t *testing.T) {
	postRepo := new(mockPostRepo)
	memberRepo := new(mockMemberRepo)
	store := newFakeStore()
	svc := NewService(postRepo, memberRepo, store, new(mockBlobStore))

	viewerID := uuid.New()
	familyID := uuid.New()
	pageKey := cache.PostPage(viewerID, familyID, domain.CategoryAll, 0, 10)

	// Page entry survives an entity eviction; the id no longer resolves.
	assert.NoError(t, store.Set(context.Background(), pageKey, []int64{7}))

	fresh := []domain.Post{{ID: 7, FamilyID: familyID, AuthorID: viewerID, Content: "refetched"}}
	postRepo.On("List", mock.Anything, familyID, viewerID, domain.CategoryAll, int64(0), 10).
		Return(fresh, nil).Once()
	memberRepo.On("ListByFamilyAndUsers", mock.Anything, familyID, mock.Anything).
		Return([]domain.FamilyMember{}, nil).Once()

	page, err := svc.Feed(context.Background(), viewerID, familyID, domain.CategoryAll, domain.CursorParams{})
	assert.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, "refetched", page.Data[0].Content)

	postRepo.AssertExpectations(t)
}

func TestFeed_PagesAreScopedByLimit(t *testing.T) {
	postRepo := new(mockPostRepo)
	memberRepo := new(mockMemberRepo)
	store := newFakeStore()
	svc := NewService(postRepo, memberRepo, store, new(mockBlobStore))

	viewerID := uuid.New()
	familyID := uuid.New()
	posts := []domain.Post{
		{ID: 3, FamilyID: familyID, AuthorID: viewerID},
		{ID: 2, FamilyID: familyID, AuthorID: viewerID},
	}

	postRepo.On("List", mock.Anything, familyID, viewerID, domain.CategoryAll, int64(0), 2).
		Return(posts, nil).Once()
	postRepo.On("List", mock.Anything, familyID, viewerID, domain.CategoryAll, int64(0), 3).
		Return(posts, nil).Once()
	memberRepo.On("ListByFamilyAndUsers", mock.Anything, familyID, mock.Anything).
		Return([]domain.FamilyMember{}, nil).Twice()

	narrow, err := svc.Feed(context.Background(), viewerID, familyID, domain.CategoryAll, domain.CursorParams{Limit: 2})
	assert.NoError(t, err)
	assert.True(t, narrow.HasMore)

	// A wider page with the same cursor must query again instead of reusing
	// the two-id window, which would report a false HasMore.
	wide, err := svc.Feed(context.Background(), viewerID, familyID, domain.CategoryAll, domain.CursorParams{Limit: 3})
	assert.NoError(t, err)
	assert.False(t, wide.HasMore)

	postRepo.AssertExpectations(t)
}

func TestFeed_FillAbandonedByLikeToggleDoesNotClobber(t *testing.T) {
	postRepo := new(mockPostRepo)
	memberRepo := new(mockMemberRepo)
	store := newFakeStore()
	svc := NewService(postRepo, memberRepo, store, new(mockBlobStore))

	viewerID := uuid.New()
	familyID := uuid.New()
	entityKey := cache.PostByID(viewerID, 1)
	assert.NoError(t, store.Set(context.Background(), entityKey, &domain.Post{ID: 1, FamilyID: familyID, LikeCount: 5, IsLiked: false}))

	stale := []domain.Post{{ID: 1, FamilyID: familyID, AuthorID: viewerID, LikeCount: 5, IsLiked: false}}
	postRepo.On("GetFamilyID", mock.Anything, int64(1)).Return(familyID, nil).Once()
	postRepo.On("ToggleLike", mock.Anything, int64(1), viewerID).Return(true, nil).Once()

	// The toggle lands while the fill's query result is already in hand;
	// the fill must notice the cancellation and keep its rows out of the
	// cache.
	postRepo.On("List", mock.Anything, familyID, viewerID, domain.CategoryAll, int64(0), 10).
		Run(func(mock.Arguments) {
			liked, err := svc.ToggleLike(context.Background(), viewerID, familyID, 1)
			assert.NoError(t, err)
			assert.True(t, liked)
		}).
		Return(stale, nil).Once()
	memberRepo.On("ListByFamilyAndUsers", mock.Anything, familyID, mock.Anything).
		Return([]domain.FamilyMember{}, nil).Once()

	_, err := svc.Feed(context.Background(), viewerID, familyID, domain.CategoryAll, domain.CursorParams{})
	assert.NoError(t, err)

	cached := store.mustGetPost(t, entityKey)
	assert.True(t, cached.IsLiked, "confirmed toggle must survive the abandoned fill")
	assert.Equal(t, 6, cached.LikeCount)
	assert.False(t, store.has(cache.PostPage(viewerID, familyID, domain.CategoryAll, 0, 10)))
}

func TestGetByID_CanceledFillIsNotCached(t *testing.T) {
	postRepo := new(mockPostRepo)
	memberRepo := new(mockMemberRepo)
	store := newFakeStore()
	svc := NewService(postRepo, memberRepo, store, new(mockBlobStore))

	viewerID := uuid.New()
	familyID := uuid.New()
	key := cache.PostByID(viewerID, 9)
	post := &domain.Post{ID: 9, FamilyID: familyID, AuthorID: viewerID}

	// A writer cancels the fill while the fetch is in flight.
	postRepo.On("GetByID", mock.Anything, int64(9), viewerID).
		Run(func(mock.Arguments) { store.CancelReads(key) }).
		Return(post, nil).Once()
	memberRepo.On("GetByFamilyAndUser", mock.Anything, familyID, viewerID).
		Return(nil, nil).Once()

	got, err := svc.GetByID(context.Background(), viewerID, familyID, 9)
	assert.NoError(t, err)
	assert.Equal(t, int64(9), got.ID)
	assert.False(t, store.has(key), "abandoned fill must not write the cache")
}

func TestGetByID_WrongFamilyNotFound(t *testing.T) {
	postRepo := new(mockPostRepo)
	memberRepo := new(mockMemberRepo)
	store := newFakeStore()
	svc := NewService(postRepo, memberRepo, store, new(mockBlobStore))

	viewerID := uuid.New()
	post := &domain.Post{ID: 4, FamilyID: uuid.New(), AuthorID: viewerID}
	postRepo.On("GetByID", mock.Anything, int64(4), viewerID).Return(post, nil).Once()

	_, err := svc.GetByID(context.Background(), viewerID, uuid.New(), 4)
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestCreate_ResetsFeedPages(t *testing.T) {
	postRepo := new(mockPostRepo)
	store := newFakeStore()
	svc := NewService(postRepo, new(mockMemberRepo), store, new(mockBlobStore))

	authorID := uuid.New()
	familyID := uuid.New()

	postRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Post")).
		Run(func(args mock.Arguments) { args.Get(1).(*domain.Post).ID = 42 }).
		Return(nil).Once()

	created, err := svc.Create(context.Background(), authorID, familyID, domain.CreatePostInput{Content: "hello"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), created.ID)
	assert.Contains(t, store.deletedPrefixes, cache.PostListPrefix(familyID))

	postRepo.AssertExpectations(t)
}

func TestCreate_FailedUploadDeletesPostAndBlobs(t *testing.T) {
	postRepo := new(mockPostRepo)
	blobs := new(mockBlobStore)
	store := newFakeStore()
	svc := NewService(postRepo, new(mockMemberRepo), store, blobs)

	authorID := uuid.New()
	familyID := uuid.New()
	uploadErr := errors.New("upload failed")

	postRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Post")).
		Run(func(args mock.Arguments) { args.Get(1).(*domain.Post).ID = 42 }).
		Return(nil).Once()
	blobs.On("Upload", mock.Anything, mock.MatchedBy(func(p string) bool { return strings.HasSuffix(p, "a.jpg") }),
		mock.Anything, mock.Anything, mock.Anything).Return("https://cdn.local/a.jpg", nil).Maybe()
	blobs.On("Upload", mock.Anything, mock.MatchedBy(func(p string) bool { return strings.HasSuffix(p, "b.jpg") }),
		mock.Anything, mock.Anything, mock.Anything).Return("", uploadErr).Once()
	blobs.On("RemoveFolder", mock.Anything, storage.PostImagesPath(familyID, 42)).Return(nil).Once()
	postRepo.On("Delete", mock.Anything, int64(42)).Return(nil).Once()

	images := []ImageUpload{
		{FileName: "a.jpg", Size: 3, ContentType: "image/jpeg", Reader: strings.NewReader("aaa")},
		{FileName: "b.jpg", Size: 3, ContentType: "image/jpeg", Reader: strings.NewReader("bbb")},
	}

	_, err := svc.Create(context.Background(), authorID, familyID, domain.CreatePostInput{Content: "with images"}, images)
	assert.ErrorIs(t, err, uploadErr)
	assert.NotContains(t, store.deletedPrefixes, cache.PostListPrefix(familyID))

	postRepo.AssertExpectations(t)
	blobs.AssertExpectations(t)
}

func TestUpdate_ContentOnlyLeavesFeedPagesAlone(t *testing.T) {
	postRepo := new(mockPostRepo)
	memberRepo := new(mockMemberRepo)
	store := newFakeStore()
	svc := NewService(postRepo, memberRepo, store, new(mockBlobStore))

	userID := uuid.New()
	familyID := uuid.New()
	stored := &domain.Post{ID: 5, FamilyID: familyID, AuthorID: userID, Content: "before", IsNotice: false}

	postRepo.On("GetByID", mock.Anything, int64(5), userID).Return(stored, nil).Once()
	postRepo.On("Update", mock.Anything, mock.AnythingOfType("*domain.Post")).Return(nil).Once()
	memberRepo.On("GetByFamilyAndUser", mock.Anything, familyID, userID).
		Return(&domain.FamilyMember{UserID: userID}, nil).Once()

	input := domain.UpdatePostInput{Content: "after", IsNotice: false}
	updated, err := svc.Update(context.Background(), userID, familyID, 5, input, nil)
	assert.NoError(t, err)
	assert.Equal(t, "after", updated.Content)

	assert.Contains(t, store.deletedPrefixes, cache.PostEntityPrefix(5))
	assert.NotContains(t, store.deletedPrefixes, cache.PostListPrefix(familyID))

	cached := store.mustGetPost(t, cache.PostByID(userID, 5))
	assert.Equal(t, "after", cached.Content)
}

func TestUpdate_NoticeFlipResetsFeedPages(t *testing.T) {
	postRepo := new(mockPostRepo)
	memberRepo := new(mockMemberRepo)
	store := newFakeStore()
	svc := NewService(postRepo, memberRepo, store, new(mockBlobStore))

	userID := uuid.New()
	familyID := uuid.New()
	stored := &domain.Post{ID: 5, FamilyID: familyID, AuthorID: userID, IsNotice: false}

	postRepo.On("GetByID", mock.Anything, int64(5), userID).Return(stored, nil).Once()
	postRepo.On("Update", mock.Anything, mock.AnythingOfType("*domain.Post")).Return(nil).Once()
	memberRepo.On("GetByFamilyAndUser", mock.Anything, familyID, userID).
		Return(&domain.FamilyMember{UserID: userID}, nil).Once()

	_, err := svc.Update(context.Background(), userID, familyID, 5, domain.UpdatePostInput{Content: "now a notice", IsNotice: true}, nil)
	assert.NoError(t, err)
	assert.Contains(t, store.deletedPrefixes, cache.PostListPrefix(familyID))
}

func TestUpdate_NotAuthorRejected(t *testing.T) {
	postRepo := new(mockPostRepo)
	store := newFakeStore()
	svc := NewService(postRepo, new(mockMemberRepo), store, new(mockBlobStore))

	userID := uuid.New()
	familyID := uuid.New()
	stored := &domain.Post{ID: 5, FamilyID: familyID, AuthorID: uuid.New()}
	postRepo.On("GetByID", mock.Anything, int64(5), userID).Return(stored, nil).Once()

	_, err := svc.Update(context.Background(), userID, familyID, 5, domain.UpdatePostInput{Content: "x"}, nil)
	assert.ErrorIs(t, err, ErrNotAuthor)
}

func TestDelete_CleansEveryCacheRegion(t *testing.T) {
	postRepo := new(mockPostRepo)
	blobs := new(mockBlobStore)
	store := newFakeStore()
	svc := NewService(postRepo, new(mockMemberRepo), store, blobs)

	userID := uuid.New()
	familyID := uuid.New()
	stored := &domain.Post{ID: 8, FamilyID: familyID, AuthorID: userID}

	postRepo.On("GetByID", mock.Anything, int64(8), userID).Return(stored, nil).Once()
	postRepo.On("Delete", mock.Anything, int64(8)).Return(nil).Once()
	blobs.On("RemoveFolder", mock.Anything, storage.PostImagesPath(familyID, 8)).Return(nil).Once()

	err := svc.Delete(context.Background(), userID, familyID, 8)
	assert.NoError(t, err)
	assert.Contains(t, store.deletedPrefixes, cache.PostEntityPrefix(8))
	assert.Contains(t, store.deletedPrefixes, cache.PostListPrefix(familyID))
	assert.Contains(t, store.deletedKeys, cache.CommentsByPost(8))

	blobs.AssertExpectations(t)
}

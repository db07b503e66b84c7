package family

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"okuri/internal/cache"
	"okuri/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[cache.Key][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[cache.Key][]byte)}
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
	}
	return nil
}

func (s *fakeStore) DeletePrefix(ctx context.Context, prefix cache.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key.String(), prefix.String()) {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *fakeStore) RegisterRead(ctx context.Context, key cache.Key) (context.Context, context.CancelFunc) {
	return context.WithCancel(ctx)
}

func (s *fakeStore) CancelReads(key cache.Key) {}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) has(key cache.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

type mockFamilyRepo struct {
	mock.Mock
}

func (m *mockFamilyRepo) Create(ctx context.Context, family *domain.Family, creator *domain.FamilyMember) error {
	args := m.Called(ctx, family, creator)
	return args.Error(0)
}

func (m *mockFamilyRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Family, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Family), args.Error(1)
}

func (m *mockFamilyRepo) GetByInviteCode(ctx context.Context, code string) (*domain.Family, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Family), args.Error(1)
}

func (m *mockFamilyRepo) Update(ctx context.Context, family *domain.Family) error {
	args := m.Called(ctx, family)
	return args.Error(0)
}

func (m *mockFamilyRepo) UpdateInviteCode(ctx context.Context, id uuid.UUID, code string) error {
	args := m.Called(ctx, id, code)
	return args.Error(0)
}

func (m *mockFamilyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
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

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepo) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) SetCurrentFamily(ctx context.Context, userID uuid.UUID, familyID *uuid.UUID) error {
	args := m.Called(ctx, userID, familyID)
	return args.Error(0)
}

func (m *mockUserRepo) SetPasswordResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	args := m.Called(ctx, userID, token, expiresAt)
	return args.Error(0)
}

func (m *mockUserRepo) GetByPasswordResetToken(ctx context.Context, token string) (*domain.User, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, userID, passwordHash)
	return args.Error(0)
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

type mockEmailService struct {
	mock.Mock
}

func (m *mockEmailService) SendPasswordResetEmail(ctx context.Context, toEmail, displayName, resetToken string) error {
	args := m.Called(ctx, toEmail, displayName, resetToken)
	return args.Error(0)
}

func (m *mockEmailService) SendFamilyInviteEmail(ctx context.Context, toEmail, familyName, inviterName, inviteCode string) error {
	args := m.Called(ctx, toEmail, familyName, inviterName, inviteCode)
	return args.Error(0)
}

func newTestService(familyRepo *mockFamilyRepo, memberRepo *mockMemberRepo, userRepo *mockUserRepo, store *fakeStore) Service {
	return NewService(familyRepo, memberRepo, userRepo, store, new(mockBlobStore), new(mockEmailService))
}

func membershipIn(familyID uuid.UUID) domain.Membership {
	return domain.Membership{
		FamilyMember: domain.FamilyMember{ID: uuid.New(), FamilyID: familyID},
		Family:       domain.Family{ID: familyID, Name: "fam"},
	}
}

func TestGenerateInviteCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generateInviteCode()
		assert.NoError(t, err)
		assert.Len(t, code, 6)
		for _, ch := range code {
			assert.Contains(t, inviteCodeAlphabet, string(ch))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestCreate_FirstFamilyBecomesCurrent(t *testing.T) {
	familyRepo := new(mockFamilyRepo)
	userRepo := new(mockUserRepo)
	svc := newTestService(familyRepo, new(mockMemberRepo), userRepo, newFakeStore())

	userID := uuid.New()
	familyRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Family"), mock.AnythingOfType("*domain.FamilyMember")).
		Run(func(args mock.Arguments) {
			creator := args.Get(2).(*domain.FamilyMember)
			assert.True(t, creator.IsAdmin)
			assert.Equal(t, userID, creator.UserID)
		}).
		Return(nil).Once()
	userRepo.On("GetByID", mock.Anything, userID).
		Return(&domain.User{ID: userID, CurrentFamilyID: nil}, nil).Once()
	userRepo.On("SetCurrentFamily", mock.Anything, userID, mock.AnythingOfType("*uuid.UUID")).
		Return(nil).Once()

	family, err := svc.Create(context.Background(), userID, domain.CreateFamilyInput{Name: "ours"})
	assert.NoError(t, err)
	assert.Len(t, family.InviteCode, 6)

	userRepo.AssertExpectations(t)
}

func TestCreate_ExistingSelectionUntouched(t *testing.T) {
	familyRepo := new(mockFamilyRepo)
	userRepo := new(mockUserRepo)
	svc := newTestService(familyRepo, new(mockMemberRepo), userRepo, newFakeStore())

	userID := uuid.New()
	already := uuid.New()
	familyRepo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	userRepo.On("GetByID", mock.Anything, userID).
		Return(&domain.User{ID: userID, CurrentFamilyID: &already}, nil).Once()

	_, err := svc.Create(context.Background(), userID, domain.CreateFamilyInput{Name: "second"})
	assert.NoError(t, err)
	userRepo.AssertNotCalled(t, "SetCurrentFamily", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoin_InvalidCode(t *testing.T) {
	familyRepo := new(mockFamilyRepo)
	svc := newTestService(familyRepo, new(mockMemberRepo), new(mockUserRepo), newFakeStore())

	familyRepo.On("GetByInviteCode", mock.Anything, "AAAAAA").Return(nil, nil).Once()

	_, err := svc.Join(context.Background(), uuid.New(), domain.JoinFamilyInput{InviteCode: "AAAAAA"})
	assert.ErrorIs(t, err, ErrInvalidInviteCode)
}

func TestJoin_AlreadyMember(t *testing.T) {
	familyRepo := new(mockFamilyRepo)
	memberRepo := new(mockMemberRepo)
	svc := newTestService(familyRepo, memberRepo, new(mockUserRepo), newFakeStore())

	userID := uuid.New()
	family := &domain.Family{ID: uuid.New(), InviteCode: "AAAAAA"}
	familyRepo.On("GetByInviteCode", mock.Anything, "AAAAAA").Return(family, nil).Once()
	memberRepo.On("GetByFamilyAndUser", mock.Anything, family.ID, userID).
		Return(&domain.FamilyMember{UserID: userID}, nil).Once()

	_, err := svc.Join(context.Background(), userID, domain.JoinFamilyInput{InviteCode: "AAAAAA"})
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestJoin_InvalidatesMemberListCache(t *testing.T) {
	familyRepo := new(mockFamilyRepo)
	memberRepo := new(mockMemberRepo)
	userRepo := new(mockUserRepo)
	store := newFakeStore()
	svc := newTestService(familyRepo, memberRepo, userRepo, store)

	userID := uuid.New()
	family := &domain.Family{ID: uuid.New(), InviteCode: "AAAAAA"}
	assert.NoError(t, store.Set(context.Background(), cache.FamilyMembers(family.ID), []domain.FamilyMember{}))

	familyRepo.On("GetByInviteCode", mock.Anything, "AAAAAA").Return(family, nil).Once()
	memberRepo.On("GetByFamilyAndUser", mock.Anything, family.ID, userID).Return(nil, nil).Once()
	memberRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.FamilyMember")).Return(nil).Once()
	userRepo.On("GetByID", mock.Anything, userID).
		Return(&domain.User{ID: userID, CurrentFamilyID: nil}, nil).Once()
	userRepo.On("SetCurrentFamily", mock.Anything, userID, mock.Anything).Return(nil).Once()

	member, err := svc.Join(context.Background(), userID, domain.JoinFamilyInput{InviteCode: "AAAAAA"})
	assert.NoError(t, err)
	assert.Equal(t, family.ID, member.FamilyID)
	assert.False(t, store.has(cache.FamilyMembers(family.ID)))
}

func TestLeave_LastAdminBlocked(t *testing.T) {
	memberRepo := new(mockMemberRepo)
	svc := newTestService(new(mockFamilyRepo), memberRepo, new(mockUserRepo), newFakeStore())

	userID := uuid.New()
	familyID := uuid.New()
	memberRepo.On("GetByFamilyAndUser", mock.Anything, familyID, userID).
		Return(&domain.FamilyMember{ID: uuid.New(), FamilyID: familyID, UserID: userID, IsAdmin: true}, nil).Once()
	memberRepo.On("CountAdmins", mock.Anything, familyID).Return(int64(1), nil).Once()

	err := svc.Leave(context.Background(), userID, familyID)
	assert.ErrorIs(t, err, ErrLastAdmin)
}

func TestLeave_ReselectsCurrentFamily(t *testing.T) {
	memberRepo := new(mockMemberRepo)
	userRepo := new(mockUserRepo)
	svc := newTestService(new(mockFamilyRepo), memberRepo, userRepo, newFakeStore())

	userID := uuid.New()
	familyID := uuid.New()
	otherFamilyID := uuid.New()
	memberID := uuid.New()

	memberRepo.On("GetByFamilyAndUser", mock.Anything, familyID, userID).
		Return(&domain.FamilyMember{ID: memberID, FamilyID: familyID, UserID: userID}, nil).Once()
	memberRepo.On("Delete", mock.Anything, memberID).Return(nil).Once()
	userRepo.On("GetByID", mock.Anything, userID).
		Return(&domain.User{ID: userID, CurrentFamilyID: &familyID}, nil).Once()
	memberRepo.On("ListByUser", mock.Anything, userID).
		Return([]domain.Membership{membershipIn(otherFamilyID)}, nil).Once()
	userRepo.On("SetCurrentFamily", mock.Anything, userID,
		mock.MatchedBy(func(id *uuid.UUID) bool { return id != nil && *id == otherFamilyID })).
		Return(nil).Once()

	err := svc.Leave(context.Background(), userID, familyID)
	assert.NoError(t, err)
	userRepo.AssertExpectations(t)
}

func TestRemoveMember_SelfRejected(t *testing.T) {
	memberRepo := new(mockMemberRepo)
	svc := newTestService(new(mockFamilyRepo), memberRepo, new(mockUserRepo), newFakeStore())

	userID := uuid.New()
	familyID := uuid.New()
	memberRepo.On("GetByFamilyAndUser", mock.Anything, familyID, userID).
		Return(&domain.FamilyMember{UserID: userID, IsAdmin: true}, nil).Once()

	err := svc.RemoveMember(context.Background(), userID, familyID, userID)
	assert.ErrorIs(t, err, ErrCannotRemoveSelf)
}

func TestGrantAdmin_RequiresAdmin(t *testing.T) {
	memberRepo := new(mockMemberRepo)
	svc := newTestService(new(mockFamilyRepo), memberRepo, new(mockUserRepo), newFakeStore())

	userID := uuid.New()
	familyID := uuid.New()
	memberRepo.On("GetByFamilyAndUser", mock.Anything, familyID, userID).
		Return(&domain.FamilyMember{UserID: userID, IsAdmin: false}, nil).Once()

	err := svc.GrantAdmin(context.Background(), userID, familyID, uuid.New())
	assert.ErrorIs(t, err, ErrNotAdmin)
}

func TestBootstrap_ValidSelectionKept(t *testing.T) {
	memberRepo := new(mockMemberRepo)
	userRepo := new(mockUserRepo)
	svc := newTestService(new(mockFamilyRepo), memberRepo, userRepo, newFakeStore())

	userID := uuid.New()
	familyID := uuid.New()
	userRepo.On("GetByID", mock.Anything, userID).
		Return(&domain.User{ID: userID, CurrentFamilyID: &familyID}, nil).Once()
	memberRepo.On("ListByUser", mock.Anything, userID).
		Return([]domain.Membership{membershipIn(familyID)}, nil).Once()

	result, err := svc.Bootstrap(context.Background(), userID)
	assert.NoError(t, err)
	assert.Equal(t, familyID, *result.CurrentFamilyID)
	userRepo.AssertNotCalled(t, "SetCurrentFamily", mock.Anything, mock.Anything, mock.Anything)
}

func TestBootstrap_StaleSelectionReplacedByFirstMembership(t *testing.T) {
	memberRepo := new(mockMemberRepo)
	userRepo := new(mockUserRepo)
	svc := newTestService(new(mockFamilyRepo), memberRepo, userRepo, newFakeStore())

	userID := uuid.New()
	staleID := uuid.New()
	firstID := uuid.New()
	secondID := uuid.New()

	userRepo.On("GetByID", mock.Anything, userID).
		Return(&domain.User{ID: userID, CurrentFamilyID: &staleID}, nil).Once()
	memberRepo.On("ListByUser", mock.Anything, userID).
		Return([]domain.Membership{membershipIn(firstID), membershipIn(secondID)}, nil).Once()
	userRepo.On("SetCurrentFamily", mock.Anything, userID,
		mock.MatchedBy(func(id *uuid.UUID) bool { return id != nil && *id == firstID })).
		Return(nil).Once()

	result, err := svc.Bootstrap(context.Background(), userID)
	assert.NoError(t, err)
	assert.Equal(t, firstID, *result.CurrentFamilyID)
	assert.Equal(t, firstID, *result.User.CurrentFamilyID)
	userRepo.AssertExpectations(t)
}

func TestBootstrap_NoMembershipsClearsSelection(t *testing.T) {
	memberRepo := new(mockMemberRepo)
	userRepo := new(mockUserRepo)
	svc := newTestService(new(mockFamilyRepo), memberRepo, userRepo, newFakeStore())

	userID := uuid.New()
	staleID := uuid.New()

	userRepo.On("GetByID", mock.Anything, userID).
		Return(&domain.User{ID: userID, CurrentFamilyID: &staleID}, nil).Once()
	memberRepo.On("ListByUser", mock.Anything, userID).
		Return([]domain.Membership{}, nil).Once()
	userRepo.On("SetCurrentFamily", mock.Anything, userID, (*uuid.UUID)(nil)).Return(nil).Once()

	result, err := svc.Bootstrap(context.Background(), userID)
	assert.NoError(t, err)
	assert.Nil(t, result.CurrentFamilyID)
	assert.Empty(t, result.Memberships)
	userRepo.AssertExpectations(t)
}

func TestGetByID_ServedFromCacheAfterFirstFetch(t *testing.T) {
	familyRepo := new(mockFamilyRepo)
	memberRepo := new(mockMemberRepo)
	store := newFakeStore()
	svc := newTestService(familyRepo, memberRepo, new(mockUserRepo), store)

	userID := uuid.New()
	familyID := uuid.New()
	family := &domain.Family{ID: familyID, Name: "cached"}

	memberRepo.On("GetByFamilyAndUser", mock.Anything, familyID, userID).
		Return(&domain.FamilyMember{UserID: userID}, nil).Twice()
	familyRepo.On("GetByID", mock.Anything, familyID).Return(family, nil).Once()

	first, err := svc.GetByID(context.Background(), userID, familyID)
	assert.NoError(t, err)
	second, err := svc.GetByID(context.Background(), userID, familyID)
	assert.NoError(t, err)
	assert.Equal(t, first, second)

	familyRepo.AssertExpectations(t)
}

func TestUpdate_PatchesCachedFamily(t *testing.T) {
	familyRepo := new(mockFamilyRepo)
	memberRepo := new(mockMemberRepo)
	store := newFakeStore()
	svc := newTestService(familyRepo, memberRepo, new(mockUserRepo), store)

	userID := uuid.New()
	familyID := uuid.New()
	family := &domain.Family{ID: familyID, Name: "before"}

	memberRepo.On("GetByFamilyAndUser", mock.Anything, familyID, userID).
		Return(&domain.FamilyMember{UserID: userID, IsAdmin: true}, nil).Once()
	familyRepo.On("GetByID", mock.Anything, familyID).Return(family, nil).Once()
	familyRepo.On("Update", mock.Anything, mock.AnythingOfType("*domain.Family")).Return(nil).Once()

	name := "after"
	updated, err := svc.Update(context.Background(), userID, familyID, domain.UpdateFamilyInput{Name: &name})
	assert.NoError(t, err)
	assert.Equal(t, "after", updated.Name)

	var cached domain.Family
	ok, err := store.Get(context.Background(), cache.FamilyByID(familyID), &cached)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "after", cached.Name)
}

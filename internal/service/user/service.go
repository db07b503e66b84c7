package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"okuri/internal/cache"
	"okuri/internal/domain"
	"okuri/internal/repository"
	"okuri/internal/storage"
)

var ErrUserNotFound = errors.New("user not found")

type Service interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, input domain.UpdateProfileInput) (*domain.User, error)
	UploadAvatar(ctx context.Context, userID uuid.UUID, fileName string, size int64, contentType string, reader io.Reader) (*domain.User, error)
}

type service struct {
	userRepo repository.UserRepository
	store    cache.Store
	blobs    storage.BlobStore
}

func NewService(userRepo repository.UserRepository, store cache.Store, blobs storage.BlobStore) Service {
	return &service{
		userRepo: userRepo,
		store:    store,
		blobs:    blobs,
	}
}

func (s *service) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	key := cache.UserProfile(userID)

	var cached domain.User
	if ok, err := s.store.Get(ctx, key, &cached); err == nil && ok {
		return &cached, nil
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	_ = s.store.Set(ctx, key, user)
	return user, nil
}

func (s *service) UpdateProfile(ctx context.Context, userID uuid.UUID, input domain.UpdateProfileInput) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if input.DisplayName != nil {
		user.DisplayName = *input.DisplayName
	}
	if input.AvatarURL != nil {
		user.AvatarURL = input.AvatarURL
	}
	if input.BirthDate != nil {
		user.BirthDate = input.BirthDate
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}

	// Scalar change on one entity: patch the entry in place.
	_ = s.store.Set(ctx, cache.UserProfile(userID), user)
	return user, nil
}

func (s *service) UploadAvatar(ctx context.Context, userID uuid.UUID, fileName string, size int64, contentType string, reader io.Reader) (*domain.User, error) {
	path := fmt.Sprintf("%s/%d-%s", storage.UserAvatarPath(userID), time.Now().UnixMilli(), fileName)

	url, err := s.blobs.Upload(ctx, path, reader, size, contentType)
	if err != nil {
		return nil, err
	}

	return s.UpdateProfile(ctx, userID, domain.UpdateProfileInput{AvatarURL: &url})
}

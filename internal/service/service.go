package service

import (
	"okuri/internal/cache"
	"okuri/internal/config"
	"okuri/internal/repository"
	"okuri/internal/service/auth"
	"okuri/internal/service/comment"
	"okuri/internal/service/email"
	"okuri/internal/service/family"
	"okuri/internal/service/post"
	"okuri/internal/service/user"
	"okuri/internal/storage"
)

type Services struct {
	Auth    auth.Service
	User    user.Service
	Family  family.Service
	Post    post.Service
	Comment comment.Service
	Email   email.Service
}

func NewServices(repos *repository.Repositories, store cache.Store, blobs storage.BlobStore, cfg *config.Config) *Services {
	emailService := email.NewService(cfg)
	authService := auth.NewService(repos.User, repos.Session, emailService, cfg)
	userService := user.NewService(repos.User, store, blobs)
	familyService := family.NewService(repos.Family, repos.FamilyMember, repos.User, store, blobs, emailService)
	postService := post.NewService(repos.Post, repos.FamilyMember, store, blobs)
	commentService := comment.NewService(repos.Comment, repos.Post, repos.FamilyMember, store)

	return &Services{
		Auth:    authService,
		User:    userService,
		Family:  familyService,
		Post:    postService,
		Comment: commentService,
		Email:   emailService,
	}
}

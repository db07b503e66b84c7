package repository

import (
	"github.com/jmoiron/sqlx"
)

type Repositories struct {
	User         UserRepository
	Session      SessionRepository
	Family       FamilyRepository
	FamilyMember FamilyMemberRepository
	Post         PostRepository
	Comment      CommentRepository
}

func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Session:      NewSessionRepository(db),
		Family:       NewFamilyRepository(db),
		FamilyMember: NewFamilyMemberRepository(db),
		Post:         NewPostRepository(db),
		Comment:      NewCommentRepository(db),
	}
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"okuri/internal/domain"
)

type PostRepository interface {
	Create(ctx context.Context, post *domain.Post) error
	// GetByID loads one post with the viewer's like state joined in.
	GetByID(ctx context.Context, postID int64, viewerID uuid.UUID) (*domain.Post, error)
	// GetFamilyID resolves the owning family of a post, for family-scope
	// checks on nested resources. Returns ErrPostNotFound for a missing row.
	GetFamilyID(ctx context.Context, postID int64) (uuid.UUID, error)
	// List returns up to limit posts of a family, newest first, starting
	// strictly below cursor when cursor > 0.
	List(ctx context.Context, familyID uuid.UUID, viewerID uuid.UUID, category domain.PostCategory, cursor int64, limit int) ([]domain.Post, error)
	Update(ctx context.Context, post *domain.Post) error
	UpdateImageURLs(ctx context.Context, postID int64, imageURLs []string) error
	Delete(ctx context.Context, postID int64) error
	// ToggleLike flips the viewer's like on a post atomically and returns
	// the resulting liked state. The post row is locked for the duration of
	// the check-then-act so concurrent toggles serialize instead of
	// double-counting.
	ToggleLike(ctx context.Context, postID int64, userID uuid.UUID) (bool, error)
}

var ErrPostNotFound = errors.New("post not found")

type postRepository struct {
	db *sqlx.DB
}

func NewPostRepository(db *sqlx.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *domain.Post) error {
	query := `
		INSERT INTO posts (family_id, author_id, content, image_urls, is_notice)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING post_id, like_count, created_at, updated_at`

	return r.db.QueryRowxContext(ctx, query,
		post.FamilyID, post.AuthorID, post.Content, post.ImageURLs, post.IsNotice,
	).Scan(&post.ID, &post.LikeCount, &post.CreatedAt, &post.UpdatedAt)
}

const postWithLikeQuery = `
	SELECT
		p.post_id, p.family_id, p.author_id, p.content, p.image_urls,
		p.is_notice, p.like_count, p.created_at, p.updated_at,
		EXISTS(
			SELECT 1 FROM post_likes l
			WHERE l.post_id = p.post_id AND l.user_id = $1
		) AS is_liked
	FROM posts p`

func (r *postRepository) GetByID(ctx context.Context, postID int64, viewerID uuid.UUID) (*domain.Post, error) {
	query := postWithLikeQuery + ` WHERE p.post_id = $2`

	var post domain.Post
	err := r.db.QueryRowxContext(ctx, query, viewerID, postID).Scan(
		&post.ID, &post.FamilyID, &post.AuthorID, &post.Content, &post.ImageURLs,
		&post.IsNotice, &post.LikeCount, &post.CreatedAt, &post.UpdatedAt, &post.IsLiked,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) GetFamilyID(ctx context.Context, postID int64) (uuid.UUID, error) {
	var familyID uuid.UUID
	err := r.db.GetContext(ctx, &familyID, `SELECT family_id FROM posts WHERE post_id = $1`, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrPostNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return familyID, nil
}

func (r *postRepository) List(ctx context.Context, familyID uuid.UUID, viewerID uuid.UUID, category domain.PostCategory, cursor int64, limit int) ([]domain.Post, error) {
	query := postWithLikeQuery + ` WHERE p.family_id = $2`
	args := []any{viewerID, familyID}

	switch category {
	case domain.CategoryNotice:
		query += ` AND p.is_notice = TRUE`
	case domain.CategoryGeneral:
		query += ` AND p.is_notice = FALSE`
	}

	if cursor > 0 {
		args = append(args, cursor)
		query += ` AND p.post_id < $3`
	}

	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY p.created_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var post domain.Post
		err := rows.Scan(
			&post.ID, &post.FamilyID, &post.AuthorID, &post.Content, &post.ImageURLs,
			&post.IsNotice, &post.LikeCount, &post.CreatedAt, &post.UpdatedAt, &post.IsLiked,
		)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (r *postRepository) Update(ctx context.Context, post *domain.Post) error {
	query := `
		UPDATE posts
		SET content = $2, is_notice = $3, image_urls = $4, updated_at = NOW()
		WHERE post_id = $1
		RETURNING updated_at`

	return r.db.QueryRowxContext(ctx, query,
		post.ID, post.Content, post.IsNotice, post.ImageURLs,
	).Scan(&post.UpdatedAt)
}

func (r *postRepository) UpdateImageURLs(ctx context.Context, postID int64, imageURLs []string) error {
	query := `UPDATE posts SET image_urls = $2, updated_at = NOW() WHERE post_id = $1`
	_, err := r.db.ExecContext(ctx, query, postID, pq.Array(imageURLs))
	return err
}

func (r *postRepository) Delete(ctx context.Context, postID int64) error {
	query := `DELETE FROM posts WHERE post_id = $1`
	_, err := r.db.ExecContext(ctx, query, postID)
	return err
}

func (r *postRepository) ToggleLike(ctx context.Context, postID int64, userID uuid.UUID) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var lockedID int64
	err = tx.GetContext(ctx, &lockedID, `SELECT post_id FROM posts WHERE post_id = $1 FOR UPDATE`, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrPostNotFound
	}
	if err != nil {
		return false, err
	}

	var hasLike bool
	err = tx.GetContext(ctx, &hasLike,
		`SELECT EXISTS(SELECT 1 FROM post_likes WHERE post_id = $1 AND user_id = $2)`,
		postID, userID,
	)
	if err != nil {
		return false, err
	}

	var liked bool
	if hasLike {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`, postID, userID); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET like_count = like_count - 1 WHERE post_id = $1`, postID); err != nil {
			return false, err
		}
		liked = false
	} else {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2)`, postID, userID); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET like_count = like_count + 1 WHERE post_id = $1`, postID); err != nil {
			return false, err
		}
		liked = true
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return liked, nil
}

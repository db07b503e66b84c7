package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"okuri/internal/domain"
)

type FamilyRepository interface {
	// Create inserts the family and its creator's admin membership in one
	// transaction; a family never exists without at least its creator.
	Create(ctx context.Context, family *domain.Family, creator *domain.FamilyMember) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Family, error)
	GetByInviteCode(ctx context.Context, code string) (*domain.Family, error)
	Update(ctx context.Context, family *domain.Family) error
	UpdateInviteCode(ctx context.Context, id uuid.UUID, code string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type familyRepository struct {
	db *sqlx.DB
}

func NewFamilyRepository(db *sqlx.DB) FamilyRepository {
	return &familyRepository{db: db}
}

func (r *familyRepository) Create(ctx context.Context, family *domain.Family, creator *domain.FamilyMember) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	familyQuery := `
		INSERT INTO families (family_id, name, description, invite_code, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	if err := tx.QueryRowxContext(ctx, familyQuery,
		family.ID, family.Name, family.Description, family.InviteCode, family.CreatedBy,
	).Scan(&family.CreatedAt, &family.UpdatedAt); err != nil {
		return err
	}

	memberQuery := `
		INSERT INTO family_members (member_id, family_id, user_id, display_name, family_role, is_admin)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING joined_at`

	if err := tx.QueryRowxContext(ctx, memberQuery,
		creator.ID, creator.FamilyID, creator.UserID, creator.DisplayName, creator.FamilyRole, creator.IsAdmin,
	).Scan(&creator.JoinedAt); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *familyRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Family, error) {
	var family domain.Family
	query := `SELECT * FROM families WHERE family_id = $1`

	err := r.db.GetContext(ctx, &family, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &family, nil
}

func (r *familyRepository) GetByInviteCode(ctx context.Context, code string) (*domain.Family, error) {
	var family domain.Family
	query := `SELECT * FROM families WHERE invite_code = $1`

	err := r.db.GetContext(ctx, &family, query, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &family, nil
}

func (r *familyRepository) Update(ctx context.Context, family *domain.Family) error {
	query := `
		UPDATE families
		SET name = $2, description = $3, cover_url = $4, updated_at = NOW()
		WHERE family_id = $1
		RETURNING updated_at`

	return r.db.QueryRowxContext(ctx, query,
		family.ID, family.Name, family.Description, family.CoverURL,
	).Scan(&family.UpdatedAt)
}

func (r *familyRepository) UpdateInviteCode(ctx context.Context, id uuid.UUID, code string) error {
	query := `UPDATE families SET invite_code = $2, updated_at = NOW() WHERE family_id = $1`
	_, err := r.db.ExecContext(ctx, query, id, code)
	return err
}

func (r *familyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	// Memberships, posts, likes and comments cascade via FK constraints.
	query := `DELETE FROM families WHERE family_id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"okuri/internal/domain"
)

type FamilyMemberRepository interface {
	Create(ctx context.Context, member *domain.FamilyMember) error
	GetByFamilyAndUser(ctx context.Context, familyID, userID uuid.UUID) (*domain.FamilyMember, error)
	ListByFamily(ctx context.Context, familyID uuid.UUID) ([]domain.FamilyMember, error)
	// ListByFamilyAndUsers fetches the members behind a batch of author ids,
	// for joining display identities onto posts and comments.
	ListByFamilyAndUsers(ctx context.Context, familyID uuid.UUID, userIDs []uuid.UUID) ([]domain.FamilyMember, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Membership, error)
	Update(ctx context.Context, member *domain.FamilyMember) error
	SetAdmin(ctx context.Context, id uuid.UUID, isAdmin bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountAdmins(ctx context.Context, familyID uuid.UUID) (int64, error)
}

type familyMemberRepository struct {
	db *sqlx.DB
}

func NewFamilyMemberRepository(db *sqlx.DB) FamilyMemberRepository {
	return &familyMemberRepository{db: db}
}

func (r *familyMemberRepository) Create(ctx context.Context, member *domain.FamilyMember) error {
	query := `
		INSERT INTO family_members (member_id, family_id, user_id, display_name, family_role, is_admin)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING joined_at`

	return r.db.QueryRowxContext(ctx, query,
		member.ID, member.FamilyID, member.UserID, member.DisplayName, member.FamilyRole, member.IsAdmin,
	).Scan(&member.JoinedAt)
}

func (r *familyMemberRepository) GetByFamilyAndUser(ctx context.Context, familyID, userID uuid.UUID) (*domain.FamilyMember, error) {
	var member domain.FamilyMember
	query := `SELECT * FROM family_members WHERE family_id = $1 AND user_id = $2`

	err := r.db.GetContext(ctx, &member, query, familyID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

const memberWithUserQuery = `
	SELECT
		m.member_id, m.family_id, m.user_id, m.display_name, m.family_role,
		m.avatar_url, m.is_admin, m.joined_at,
		u.user_id AS u_id, u.email AS u_email, u.display_name AS u_display_name,
		u.avatar_url AS u_avatar_url, u.birth_date AS u_birth_date
	FROM family_members m
	INNER JOIN users u ON m.user_id = u.user_id`

func (r *familyMemberRepository) ListByFamily(ctx context.Context, familyID uuid.UUID) ([]domain.FamilyMember, error) {
	query := memberWithUserQuery + `
	WHERE m.family_id = $1
	ORDER BY m.joined_at ASC`

	rows, err := r.db.QueryxContext(ctx, query, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMembersWithUser(rows)
}

func (r *familyMemberRepository) ListByFamilyAndUsers(ctx context.Context, familyID uuid.UUID, userIDs []uuid.UUID) ([]domain.FamilyMember, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}

	query := memberWithUserQuery + `
	WHERE m.family_id = $1 AND m.user_id = ANY($2)`

	rows, err := r.db.QueryxContext(ctx, query, familyID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMembersWithUser(rows)
}

func scanMembersWithUser(rows *sqlx.Rows) ([]domain.FamilyMember, error) {
	var members []domain.FamilyMember
	for rows.Next() {
		var m domain.FamilyMember
		var u domain.MemberUser
		err := rows.Scan(
			&m.ID, &m.FamilyID, &m.UserID, &m.DisplayName, &m.FamilyRole,
			&m.AvatarURL, &m.IsAdmin, &m.JoinedAt,
			&u.ID, &u.Email, &u.DisplayName, &u.AvatarURL, &u.BirthDate,
		)
		if err != nil {
			return nil, err
		}
		m.User = &u
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *familyMemberRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Membership, error) {
	query := `
		SELECT
			m.member_id, m.family_id, m.user_id, m.display_name, m.family_role,
			m.avatar_url, m.is_admin, m.joined_at,
			f.family_id AS f_id, f.name AS f_name, f.description AS f_description,
			f.invite_code AS f_invite_code, f.cover_url AS f_cover_url,
			f.created_by AS f_created_by, f.created_at AS f_created_at, f.updated_at AS f_updated_at
		FROM family_members m
		INNER JOIN families f ON m.family_id = f.family_id
		WHERE m.user_id = $1
		ORDER BY m.joined_at ASC`

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []domain.Membership
	for rows.Next() {
		var ms domain.Membership
		err := rows.Scan(
			&ms.ID, &ms.FamilyID, &ms.UserID, &ms.DisplayName, &ms.FamilyRole,
			&ms.AvatarURL, &ms.IsAdmin, &ms.JoinedAt,
			&ms.Family.ID, &ms.Family.Name, &ms.Family.Description,
			&ms.Family.InviteCode, &ms.Family.CoverURL,
			&ms.Family.CreatedBy, &ms.Family.CreatedAt, &ms.Family.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, ms)
	}
	return memberships, rows.Err()
}

func (r *familyMemberRepository) Update(ctx context.Context, member *domain.FamilyMember) error {
	query := `
		UPDATE family_members
		SET display_name = $2, family_role = $3, avatar_url = $4
		WHERE member_id = $1`

	_, err := r.db.ExecContext(ctx, query,
		member.ID, member.DisplayName, member.FamilyRole, member.AvatarURL,
	)
	return err
}

func (r *familyMemberRepository) SetAdmin(ctx context.Context, id uuid.UUID, isAdmin bool) error {
	query := `UPDATE family_members SET is_admin = $2 WHERE member_id = $1`
	_, err := r.db.ExecContext(ctx, query, id, isAdmin)
	return err
}

func (r *familyMemberRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM family_members WHERE member_id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *familyMemberRepository) CountAdmins(ctx context.Context, familyID uuid.UUID) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM family_members WHERE family_id = $1 AND is_admin = TRUE`
	err := r.db.GetContext(ctx, &count, query, familyID)
	return count, err
}

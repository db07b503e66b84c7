package family

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"okuri/internal/cache"
	"okuri/internal/domain"
	"okuri/internal/repository"
	"okuri/internal/service/email"
	"okuri/internal/storage"
)

var (
	ErrFamilyNotFound    = errors.New("family not found")
	ErrInvalidInviteCode = errors.New("invalid invite code")
	ErrAlreadyMember     = errors.New("already a member of this family")
	ErrNotMember         = errors.New("not a member of this family")
	ErrNotAdmin          = errors.New("admin rights required")
	ErrLastAdmin         = errors.New("cannot leave as the only admin")
	ErrCannotRemoveSelf  = errors.New("cannot remove yourself, leave instead")
)

// Invite codes avoid characters that read alike (0/O, 1/I/L).
const inviteCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const inviteCodeLength = 6

type Service interface {
	Create(ctx context.Context, userID uuid.UUID, input domain.CreateFamilyInput) (*domain.Family, error)
	GetByID(ctx context.Context, userID, familyID uuid.UUID) (*domain.Family, error)
	Update(ctx context.Context, userID, familyID uuid.UUID, input domain.UpdateFamilyInput) (*domain.Family, error)
	UploadCover(ctx context.Context, userID, familyID uuid.UUID, fileName string, size int64, contentType string, reader io.Reader) (*domain.Family, error)
	Delete(ctx context.Context, userID, familyID uuid.UUID) error
	Join(ctx context.Context, userID uuid.UUID, input domain.JoinFamilyInput) (*domain.FamilyMember, error)
	Leave(ctx context.Context, userID, familyID uuid.UUID) error
	Members(ctx context.Context, userID, familyID uuid.UUID) ([]domain.FamilyMember, error)
	GetMember(ctx context.Context, familyID, userID uuid.UUID) (*domain.FamilyMember, error)
	UpdateMember(ctx context.Context, userID, familyID uuid.UUID, input domain.UpdateMemberInput) (*domain.FamilyMember, error)
	UploadMemberAvatar(ctx context.Context, userID, familyID uuid.UUID, fileName string, size int64, contentType string, reader io.Reader) (*domain.FamilyMember, error)
	GrantAdmin(ctx context.Context, userID, familyID, targetUserID uuid.UUID) error
	RemoveMember(ctx context.Context, userID, familyID, targetUserID uuid.UUID) error
	RegenerateInviteCode(ctx context.Context, userID, familyID uuid.UUID) (*domain.Family, error)
	SendInvite(ctx context.Context, userID, familyID uuid.UUID, input domain.InviteInput) error
	Bootstrap(ctx context.Context, userID uuid.UUID) (*domain.BootstrapResult, error)
	SelectFamily(ctx context.Context, userID, familyID uuid.UUID) error
}

type service struct {
	familyRepo repository.FamilyRepository
	memberRepo repository.FamilyMemberRepository
	userRepo   repository.UserRepository
	store      cache.Store
	blobs      storage.BlobStore
	email      email.Service
}

func NewService(
	familyRepo repository.FamilyRepository,
	memberRepo repository.FamilyMemberRepository,
	userRepo repository.UserRepository,
	store cache.Store,
	blobs storage.BlobStore,
	emailService email.Service,
) Service {
	return &service{
		familyRepo: familyRepo,
		memberRepo: memberRepo,
		userRepo:   userRepo,
		store:      store,
		blobs:      blobs,
		email:      emailService,
	}
}

func generateInviteCode() (string, error) {
	buf := make([]byte, inviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, inviteCodeLength)
	for i, b := range buf {
		code[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(code), nil
}

func (s *service) Create(ctx context.Context, userID uuid.UUID, input domain.CreateFamilyInput) (*domain.Family, error) {
	code, err := generateInviteCode()
	if err != nil {
		return nil, err
	}

	family := &domain.Family{
		ID:          uuid.New(),
		Name:        input.Name,
		Description: input.Description,
		InviteCode:  code,
		CreatedBy:   userID,
	}
	creator := &domain.FamilyMember{
		ID:       uuid.New(),
		FamilyID: family.ID,
		UserID:   userID,
		IsAdmin:  true,
	}

	if err := s.familyRepo.Create(ctx, family, creator); err != nil {
		return nil, err
	}

	// First family becomes the current selection.
	user, err := s.userRepo.GetByID(ctx, userID)
	if err == nil && user != nil && user.CurrentFamilyID == nil {
		if err := s.userRepo.SetCurrentFamily(ctx, userID, &family.ID); err != nil {
			log.Printf("Failed to set current family after create: %v", err)
		}
	}

	return family, nil
}

func (s *service) GetByID(ctx context.Context, userID, familyID uuid.UUID) (*domain.Family, error) {
	if _, err := s.requireMember(ctx, familyID, userID); err != nil {
		return nil, err
	}

	key := cache.FamilyByID(familyID)
	var cached domain.Family
	if ok, err := s.store.Get(ctx, key, &cached); err == nil && ok {
		return &cached, nil
	}

	family, err := s.familyRepo.GetByID(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}

	_ = s.store.Set(ctx, key, family)
	return family, nil
}

func (s *service) Update(ctx context.Context, userID, familyID uuid.UUID, input domain.UpdateFamilyInput) (*domain.Family, error) {
	if _, err := s.requireAdmin(ctx, familyID, userID); err != nil {
		return nil, err
	}

	family, err := s.familyRepo.GetByID(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}

	if input.Name != nil {
		family.Name = *input.Name
	}
	if input.Description != nil {
		family.Description = input.Description
	}

	if err := s.familyRepo.Update(ctx, family); err != nil {
		return nil, err
	}

	_ = s.store.Set(ctx, cache.FamilyByID(familyID), family)
	return family, nil
}

func (s *service) UploadCover(ctx context.Context, userID, familyID uuid.UUID, fileName string, size int64, contentType string, reader io.Reader) (*domain.Family, error) {
	if _, err := s.requireAdmin(ctx, familyID, userID); err != nil {
		return nil, err
	}

	family, err := s.familyRepo.GetByID(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}

	if family.CoverURL != nil {
		if path, ok := s.blobs.PathFromURL(*family.CoverURL); ok {
			if err := s.blobs.Remove(ctx, path); err != nil {
				log.Printf("Failed to remove previous family cover: %v", err)
			}
		}
	}

	path := fmt.Sprintf("%s/%d-%s", storage.FamilyCoverPath(familyID), time.Now().UnixMilli(), fileName)
	url, err := s.blobs.Upload(ctx, path, reader, size, contentType)
	if err != nil {
		return nil, err
	}

	family.CoverURL = &url
	if err := s.familyRepo.Update(ctx, family); err != nil {
		return nil, err
	}

	_ = s.store.Set(ctx, cache.FamilyByID(familyID), family)
	return family, nil
}

func (s *service) Delete(ctx context.Context, userID, familyID uuid.UUID) error {
	if _, err := s.requireAdmin(ctx, familyID, userID); err != nil {
		return err
	}

	if err := s.familyRepo.Delete(ctx, familyID); err != nil {
		return err
	}

	_ = s.store.Delete(ctx, cache.FamilyByID(familyID), cache.FamilyMembers(familyID))
	_ = s.store.DeletePrefix(ctx, cache.PostListPrefix(familyID))

	// Blob cleanup is best effort; an orphaned folder beats a family the
	// admin cannot delete.
	if err := s.blobs.RemoveFolder(ctx, storage.FamilyPath(familyID)); err != nil {
		log.Printf("Failed to remove family storage folder: %v", err)
	}

	return nil
}

func (s *service) Join(ctx context.Context, userID uuid.UUID, input domain.JoinFamilyInput) (*domain.FamilyMember, error) {
	family, err := s.familyRepo.GetByInviteCode(ctx, input.InviteCode)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrInvalidInviteCode
	}

	existing, err := s.memberRepo.GetByFamilyAndUser(ctx, family.ID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyMember
	}

	member := &domain.FamilyMember{
		ID:       uuid.New(),
		FamilyID: family.ID,
		UserID:   userID,
	}
	if err := s.memberRepo.Create(ctx, member); err != nil {
		return nil, err
	}

	_ = s.store.Delete(ctx, cache.FamilyMembers(family.ID))

	user, err := s.userRepo.GetByID(ctx, userID)
	if err == nil && user != nil && user.CurrentFamilyID == nil {
		if err := s.userRepo.SetCurrentFamily(ctx, userID, &family.ID); err != nil {
			log.Printf("Failed to set current family after join: %v", err)
		}
	}

	return member, nil
}

func (s *service) Leave(ctx context.Context, userID, familyID uuid.UUID) error {
	member, err := s.requireMember(ctx, familyID, userID)
	if err != nil {
		return err
	}

	if member.IsAdmin {
		admins, err := s.memberRepo.CountAdmins(ctx, familyID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}

	if err := s.memberRepo.Delete(ctx, member.ID); err != nil {
		return err
	}

	_ = s.store.Delete(ctx, cache.FamilyMembers(familyID))

	user, err := s.userRepo.GetByID(ctx, userID)
	if err == nil && user != nil && user.CurrentFamilyID != nil && *user.CurrentFamilyID == familyID {
		if err := s.clearOrReselect(ctx, userID); err != nil {
			log.Printf("Failed to reselect current family after leave: %v", err)
		}
	}

	return nil
}

func (s *service) Members(ctx context.Context, userID, familyID uuid.UUID) ([]domain.FamilyMember, error) {
	if _, err := s.requireMember(ctx, familyID, userID); err != nil {
		return nil, err
	}

	key := cache.FamilyMembers(familyID)
	var cached []domain.FamilyMember
	if ok, err := s.store.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	members, err := s.memberRepo.ListByFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}

	_ = s.store.Set(ctx, key, members)
	return members, nil
}

func (s *service) GetMember(ctx context.Context, familyID, userID uuid.UUID) (*domain.FamilyMember, error) {
	return s.memberRepo.GetByFamilyAndUser(ctx, familyID, userID)
}

func (s *service) UpdateMember(ctx context.Context, userID, familyID uuid.UUID, input domain.UpdateMemberInput) (*domain.FamilyMember, error) {
	member, err := s.requireMember(ctx, familyID, userID)
	if err != nil {
		return nil, err
	}

	if input.DisplayName != nil {
		member.DisplayName = input.DisplayName
	}
	if input.FamilyRole != nil {
		member.FamilyRole = input.FamilyRole
	}
	if input.AvatarURL != nil {
		member.AvatarURL = input.AvatarURL
	}

	if err := s.memberRepo.Update(ctx, member); err != nil {
		return nil, err
	}

	_ = s.store.Delete(ctx, cache.FamilyMembers(familyID))
	return member, nil
}

func (s *service) UploadMemberAvatar(ctx context.Context, userID, familyID uuid.UUID, fileName string, size int64, contentType string, reader io.Reader) (*domain.FamilyMember, error) {
	if _, err := s.requireMember(ctx, familyID, userID); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/%d-%s", storage.MemberAvatarPath(familyID, userID), time.Now().UnixMilli(), fileName)
	url, err := s.blobs.Upload(ctx, path, reader, size, contentType)
	if err != nil {
		return nil, err
	}

	return s.UpdateMember(ctx, userID, familyID, domain.UpdateMemberInput{AvatarURL: &url})
}

func (s *service) GrantAdmin(ctx context.Context, userID, familyID, targetUserID uuid.UUID) error {
	if _, err := s.requireAdmin(ctx, familyID, userID); err != nil {
		return err
	}

	target, err := s.memberRepo.GetByFamilyAndUser(ctx, familyID, targetUserID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrNotMember
	}

	if err := s.memberRepo.SetAdmin(ctx, target.ID, true); err != nil {
		return err
	}

	_ = s.store.Delete(ctx, cache.FamilyMembers(familyID))
	return nil
}

func (s *service) RemoveMember(ctx context.Context, userID, familyID, targetUserID uuid.UUID) error {
	if _, err := s.requireAdmin(ctx, familyID, userID); err != nil {
		return err
	}
	if userID == targetUserID {
		return ErrCannotRemoveSelf
	}

	target, err := s.memberRepo.GetByFamilyAndUser(ctx, familyID, targetUserID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrNotMember
	}

	if err := s.memberRepo.Delete(ctx, target.ID); err != nil {
		return err
	}

	_ = s.store.Delete(ctx, cache.FamilyMembers(familyID))
	return nil
}

func (s *service) RegenerateInviteCode(ctx context.Context, userID, familyID uuid.UUID) (*domain.Family, error) {
	if _, err := s.requireAdmin(ctx, familyID, userID); err != nil {
		return nil, err
	}

	family, err := s.familyRepo.GetByID(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}

	code, err := generateInviteCode()
	if err != nil {
		return nil, err
	}

	if err := s.familyRepo.UpdateInviteCode(ctx, familyID, code); err != nil {
		return nil, err
	}

	family.InviteCode = code
	_ = s.store.Set(ctx, cache.FamilyByID(familyID), family)
	return family, nil
}

func (s *service) SendInvite(ctx context.Context, userID, familyID uuid.UUID, input domain.InviteInput) error {
	member, err := s.requireMember(ctx, familyID, userID)
	if err != nil {
		return err
	}

	family, err := s.familyRepo.GetByID(ctx, familyID)
	if err != nil {
		return err
	}
	if family == nil {
		return ErrFamilyNotFound
	}

	inviterName := ""
	if member.DisplayName != nil {
		inviterName = *member.DisplayName
	}
	if inviterName == "" {
		if user, err := s.userRepo.GetByID(ctx, userID); err == nil && user != nil {
			inviterName = user.DisplayName
		}
	}

	go func() {
		if err := s.email.SendFamilyInviteEmail(context.Background(), input.Email, family.Name, inviterName, family.InviteCode); err != nil {
			log.Printf("Failed to send family invite email: %v", err)
		}
	}()

	return nil
}

// Bootstrap is the session-start prefetch: profile plus memberships, with
// the persisted family selection checked against the membership list. A
// stale id pointing at a family the user no longer belongs to is never
// trusted; it is replaced by the first membership, or cleared.
func (s *service) Bootstrap(ctx context.Context, userID uuid.UUID) (*domain.BootstrapResult, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New("user not found")
	}

	memberships, err := s.memberRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	current := user.CurrentFamilyID
	valid := false
	for _, m := range memberships {
		if current != nil && m.FamilyID == *current {
			valid = true
			break
		}
	}

	if !valid {
		if len(memberships) > 0 {
			current = &memberships[0].FamilyID
		} else {
			current = nil
		}
		if err := s.userRepo.SetCurrentFamily(ctx, userID, current); err != nil {
			return nil, err
		}
		user.CurrentFamilyID = current
	}

	return &domain.BootstrapResult{
		User:            user,
		Memberships:     memberships,
		CurrentFamilyID: current,
	}, nil
}

func (s *service) SelectFamily(ctx context.Context, userID, familyID uuid.UUID) error {
	if _, err := s.requireMember(ctx, familyID, userID); err != nil {
		return err
	}
	return s.userRepo.SetCurrentFamily(ctx, userID, &familyID)
}

func (s *service) clearOrReselect(ctx context.Context, userID uuid.UUID) error {
	memberships, err := s.memberRepo.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(memberships) == 0 {
		return s.userRepo.SetCurrentFamily(ctx, userID, nil)
	}
	return s.userRepo.SetCurrentFamily(ctx, userID, &memberships[0].FamilyID)
}

func (s *service) requireMember(ctx context.Context, familyID, userID uuid.UUID) (*domain.FamilyMember, error) {
	member, err := s.memberRepo.GetByFamilyAndUser(ctx, familyID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotMember
	}
	return member, nil
}

func (s *service) requireAdmin(ctx context.Context, familyID, userID uuid.UUID) (*domain.FamilyMember, error) {
	member, err := s.requireMember(ctx, familyID, userID)
	if err != nil {
		return nil, err
	}
	if !member.IsAdmin {
		return nil, ErrNotAdmin
	}
	return member, nil
}

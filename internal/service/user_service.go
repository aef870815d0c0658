package service

import (
	"context"
	"errors"

	"github.com/authkit/credential-session-service/internal/domain"
	"github.com/authkit/credential-session-service/internal/observability"
	"github.com/authkit/credential-session-service/internal/repository"
)

// UserUpdateInput carries the only profile fields a caller may change.
// Anything not listed here, the hashed password and the verification flag
// above all, cannot be reached through an update request.
type UserUpdateInput struct {
	Username *string
	Email    *string
	IsActive *bool
}

type UserListInput struct {
	Page     int
	PageSize int
	Email    string
	Verified *bool
}

// UserService exposes profile reads and the allow-listed profile update.
type UserService struct {
	users  repository.UserRepository
	tokens *TokenService
}

func NewUserService(users repository.UserRepository, tokens *TokenService) *UserService {
	return &UserService{users: users, tokens: tokens}
}

func (s *UserService) Get(ctx context.Context, id uint) (*domain.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.users.FindByUsername(ctx, username)
}

func (s *UserService) List(ctx context.Context, in UserListInput) (repository.PageResult[domain.User], error) {
	return s.users.ListPaged(ctx, repository.UserListQuery{
		PageRequest: repository.PageRequest{Page: in.Page, PageSize: in.PageSize},
		Email:       in.Email,
		Verified:    in.Verified,
	})
}

// Update copies the provided fields onto the stored record. Identity fields
// are checked for collisions against other accounts before the write.
func (s *UserService) Update(ctx context.Context, id uint, in UserUpdateInput) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Username != nil && *in.Username != user.Username {
		if other, err := s.users.FindByUsername(ctx, *in.Username); err == nil && other.ID != id {
			return nil, &DuplicateIdentityError{Field: "username"}
		} else if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
		user.Username = *in.Username
	}
	if in.Email != nil && *in.Email != user.Email {
		if other, err := s.users.FindByEmail(ctx, *in.Email); err == nil && other.ID != id {
			return nil, &DuplicateIdentityError{Field: "email"}
		} else if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
		user.Email = *in.Email
	}
	if in.IsActive != nil {
		user.IsActive = *in.IsActive
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	observability.AuditEvent(ctx, "user.updated", "user_id", user.ID)
	return user, nil
}

// Delete soft-deletes the account and revokes its live sessions so the
// record disappears and the bearer tokens die together.
func (s *UserService) Delete(ctx context.Context, id uint) error {
	if _, err := s.users.FindByID(ctx, id); err != nil {
		return err
	}
	if _, err := s.tokens.RevokeAll(ctx, id); err != nil {
		return err
	}
	if err := s.users.SoftDelete(ctx, id); err != nil {
		return err
	}
	observability.AuditEvent(ctx, "user.deleted", "user_id", id)
	return nil
}

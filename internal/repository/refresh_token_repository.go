package repository

import (
	"context"
	"errors"
	"time"

	"github.com/authkit/credential-session-service/internal/domain"
	"github.com/authkit/credential-session-service/internal/observability"

	"gorm.io/gorm"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error
	FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	ListActiveByUserID(ctx context.Context, userID uint) ([]domain.RefreshToken, error)
	TouchLastUsed(ctx context.Context, id uint, usedAt time.Time) error
	RevokeByHash(ctx context.Context, hash string) (bool, error)
	RevokeAllByUserID(ctx context.Context, userID uint) (int64, error)
}

type GormRefreshTokenRepository struct{ db *gorm.DB }

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db}
}

func (r *GormRefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	err := r.db.WithContext(ctx).Create(token).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "success")
	return nil
}

func (r *GormRefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "not_found")
			return nil, ErrRefreshTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "success")
	return &t, nil
}

func (r *GormRefreshTokenRepository) ListActiveByUserID(ctx context.Context, userID uint) ([]domain.RefreshToken, error) {
	var tokens []domain.RefreshToken
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_revoked = ? AND expires_at > ?", userID, false, time.Now()).
		Order("created_at DESC").
		Find(&tokens).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "list_active_by_user_id", "error")
		return tokens, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "list_active_by_user_id", "success")
	return tokens, nil
}

func (r *GormRefreshTokenRepository) TouchLastUsed(ctx context.Context, id uint, usedAt time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("id = ?", id).
		Update("last_used_at", usedAt).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "touch_last_used", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "touch_last_used", "success")
	return nil
}

// RevokeByHash revokes a single token. It reports false without error when
// the token does not exist or is already revoked.
func (r *GormRefreshTokenRepository) RevokeByHash(ctx context.Context, hash string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("token_hash = ? AND is_revoked = ?", hash, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_hash", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_hash", "not_found")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_hash", "success")
	return true, nil
}

// RevokeAllByUserID revokes every non-revoked token owned by the user in a
// single UPDATE and returns how many were revoked.
func (r *GormRefreshTokenRepository) RevokeAllByUserID(ctx context.Context, userID uint) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_all_by_user_id", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_all_by_user_id", "success")
	return res.RowsAffected, nil
}

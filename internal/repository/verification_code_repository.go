package repository

import (
	"context"
	"errors"

	"github.com/authkit/credential-session-service/internal/domain"
	"github.com/authkit/credential-session-service/internal/observability"

	"gorm.io/gorm"
)

var ErrVerificationCodeNotFound = errors.New("verification code not found")

type VerificationCodeRepository interface {
	Create(ctx context.Context, code *domain.VerificationCode) error
	// FindLatestOutstanding returns the most recently created unused code for
	// the (user, purpose) pair. This is the pinned selection rule when several
	// outstanding codes exist.
	FindLatestOutstanding(ctx context.Context, userID uint, purpose domain.CodePurpose) (*domain.VerificationCode, error)
	Update(ctx context.Context, code *domain.VerificationCode) error
}

type GormVerificationCodeRepository struct{ db *gorm.DB }

func NewVerificationCodeRepository(db *gorm.DB) VerificationCodeRepository {
	return &GormVerificationCodeRepository{db: db}
}

func (r *GormVerificationCodeRepository) Create(ctx context.Context, code *domain.VerificationCode) error {
	err := r.db.WithContext(ctx).Create(code).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "verification_code", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "verification_code", "create", "success")
	return nil
}

func (r *GormVerificationCodeRepository) FindLatestOutstanding(ctx context.Context, userID uint, purpose domain.CodePurpose) (*domain.VerificationCode, error) {
	var c domain.VerificationCode
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND purpose = ? AND is_used = ?", userID, purpose, false).
		Order("created_at DESC").
		Order("id DESC").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "verification_code", "find_latest_outstanding", "not_found")
			return nil, ErrVerificationCodeNotFound
		}
		observability.RecordRepositoryOperation(ctx, "verification_code", "find_latest_outstanding", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "verification_code", "find_latest_outstanding", "success")
	return &c, nil
}

func (r *GormVerificationCodeRepository) Update(ctx context.Context, code *domain.VerificationCode) error {
	err := r.db.WithContext(ctx).Save(code).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "verification_code", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "verification_code", "update", "success")
	return nil
}

package repository

import (
	"context"
	"testing"

	"github.com/authkit/credential-session-service/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.RefreshToken{}, &domain.VerificationCode{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mustBuildUser(username, email string) *domain.User {
	return &domain.User{
		Username:       username,
		Email:          email,
		HashedPassword: "x",
		IsActive:       true,
	}
}

func mustCreateUser(t *testing.T, db *gorm.DB, username, email string) *domain.User {
	t.Helper()
	u := &domain.User{
		Username:       username,
		Email:          email,
		HashedPassword: "x",
		IsActive:       true,
	}
	if err := NewUserRepository(db).Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

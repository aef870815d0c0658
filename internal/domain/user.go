package domain

import (
	"time"

	"gorm.io/gorm"
)

const (
	// Failures below this threshold never lock the account.
	lockoutThreshold = 10
	// Hard cap on a computed lock duration.
	maxLockSeconds = 365 * 24 * 60 * 60
)

type User struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	Username       string `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Email          string `gorm:"size:100;uniqueIndex;not null" json:"email"`
	HashedPassword string `gorm:"size:255;not null" json:"-"`

	IsActive    bool `gorm:"default:true" json:"is_active"`
	IsVerified  bool `gorm:"default:false" json:"is_verified"`
	IsSuperuser bool `gorm:"default:false" json:"is_superuser"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	FailedLoginCount  int        `gorm:"default:0" json:"-"`
	LastFailedLoginAt *time.Time `json:"-"`
	LockUntil         *time.Time `json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// LockDuration computes the lock window earned by a number of consecutive
// failed logins. Below the threshold there is no lock; from the threshold on
// the wait doubles per failure, capped at one year.
func LockDuration(failedCount int) time.Duration {
	if failedCount < lockoutThreshold {
		return 0
	}
	exp := failedCount - lockoutThreshold
	// 2^39 seconds already exceeds the cap; avoid overflowing the shift.
	if exp > 39 {
		return maxLockSeconds * time.Second
	}
	seconds := int64(1) << uint(exp)
	if seconds > maxLockSeconds {
		seconds = maxLockSeconds
	}
	return time.Duration(seconds) * time.Second
}

func (u *User) IsLoginLocked(now time.Time) bool {
	return u.LockUntil != nil && now.Before(*u.LockUntil)
}

// RemainingLockSeconds reports the whole seconds left on the active lock,
// zero when no lock is in effect.
func (u *User) RemainingLockSeconds(now time.Time) int {
	if u.LockUntil == nil {
		return 0
	}
	remaining := int(u.LockUntil.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RegisterFailedLogin bumps the failure counter and arms the lock when the
// new count earns a positive duration. A zero-duration result leaves any
// previously set LockUntil in place; only a successful login clears it.
func (u *User) RegisterFailedLogin(now time.Time) {
	u.FailedLoginCount++
	u.LastFailedLoginAt = &now
	if d := LockDuration(u.FailedLoginCount); d > 0 {
		until := now.Add(d)
		u.LockUntil = &until
	}
}

// RegisterSuccessfulLogin resets all failure bookkeeping and stamps the
// login time.
func (u *User) RegisterSuccessfulLogin(now time.Time) {
	u.FailedLoginCount = 0
	u.LastFailedLoginAt = nil
	u.LockUntil = nil
	u.LastLoginAt = &now
}

package domain

import "time"

type CodePurpose string

const (
	PurposeEmailVerification CodePurpose = "email_verification"
	PurposePasswordReset     CodePurpose = "password_reset"
)

const DefaultCodeMaxAttempts = 5

type VerificationCode struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"index;not null" json:"user_id"`

	Code      string      `gorm:"size:10;index;not null" json:"-"`
	Purpose   CodePurpose `gorm:"size:20;index;not null" json:"purpose"`
	ExpiresAt time.Time   `gorm:"index;not null" json:"expires_at"`

	IsUsed bool       `gorm:"index;default:false" json:"is_used"`
	UsedAt *time.Time `json:"used_at,omitempty"`

	Attempts    int `gorm:"default:0" json:"attempts"`
	MaxAttempts int `gorm:"default:5" json:"max_attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Valid reports whether the code can still be consumed: single use, within
// its attempt budget and before expiry.
func (c *VerificationCode) Valid(now time.Time) bool {
	if c.IsUsed {
		return false
	}
	if c.Attempts >= c.MaxAttempts {
		return false
	}
	return now.Before(c.ExpiresAt)
}

// AttemptsExhausted reports whether the retry budget is spent.
func (c *VerificationCode) AttemptsExhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

func (c *VerificationCode) MarkUsed(now time.Time) {
	c.IsUsed = true
	c.UsedAt = &now
}

package domain

import "time"

type RefreshToken struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"index;not null" json:"user_id"`

	TokenHash string    `gorm:"size:128;uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`

	DeviceName string `gorm:"size:100" json:"device_name"`
	DeviceType string `gorm:"size:50" json:"device_type"`
	IPAddress  string `gorm:"size:45" json:"ip_address"`
	UserAgent  string `gorm:"size:512" json:"user_agent"`

	IsRevoked bool       `gorm:"index;default:false" json:"is_revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`

	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Valid reports whether the token can still mint access credentials.
// Revocation is monotonic; an expired token never becomes valid again.
func (t *RefreshToken) Valid(now time.Time) bool {
	if t.IsRevoked {
		return false
	}
	return now.Before(t.ExpiresAt)
}

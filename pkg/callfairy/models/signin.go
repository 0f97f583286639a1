package models

import (
	"strings"
	"time"
)

// EmailVerificationToken confirms ownership of a newly registered address.
type EmailVerificationToken struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Token     string    `gorm:"uniqueIndex;not null;size:100" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	IsUsed    bool      `json:"is_used"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

// Usable reports whether the token can still activate its user.
func (t *EmailVerificationToken) Usable(now time.Time) bool {
	return !t.IsUsed && now.Before(t.ExpiresAt)
}

// AllowedEmailDomain restricts Google sign-in when at least one active row exists.
type AllowedEmailDomain struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Domain    string    `gorm:"uniqueIndex;not null" json:"domain"`
	IsActive  bool      `json:"is_active"`
}

// NormalizeDomain lowercases a domain and strips a leading "@".
func NormalizeDomain(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "@")
}

// GoogleSignInAudit records every Google sign-in attempt, successful or not.
type GoogleSignInAudit struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UserID    *uint     `gorm:"index" json:"user_id"`
	Email     string    `gorm:"index" json:"email"`
	Domain    string    `json:"domain"`
	Subject   string    `json:"subject"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
}

// TOTPDevice holds a user's authenticator secret. Login requires a code only
// once the device is confirmed.
type TOTPDevice struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Secret    string    `gorm:"not null" json:"-"`
	Confirmed bool      `json:"confirmed"`
}

// Package identity holds the blocked-user list consulted before an
// authenticated requester may act.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// Block reasons used by operators.
const (
	ReasonManual = "MANUAL_BLOCK"
	ReasonFraud  = "FRAUD"
	ReasonAbuse  = "ABUSE"
)

// BlockedUser is one entry of the block list, keyed by lower-cased email.
type BlockedUser struct {
	Email     string     `json:"email"`
	Reason    string     `json:"reason"`
	BlockedBy string     `json:"blockedBy"`
	BlockedAt time.Time  `json:"blockedAt"`
	Active    bool       `json:"isActive"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewBlockedUser builds an active entry. A zero duration never expires.
func NewBlockedUser(email, reason, blockedBy string, duration time.Duration, notes string, now time.Time) (*BlockedUser, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, shared.ErrValidation.Withf("invalid email %q", email)
	}
	if reason == "" {
		reason = ReasonManual
	}
	if blockedBy == "" {
		blockedBy = "ADMIN"
	}
	u := &BlockedUser{
		Email:     email,
		Reason:    reason,
		BlockedBy: blockedBy,
		BlockedAt: now.UTC(),
		Active:    true,
		Notes:     notes,
	}
	if duration > 0 {
		exp := now.Add(duration).UTC()
		u.ExpiresAt = &exp
	}
	return u, nil
}

// IsBlocked reports whether the entry is in force at now.
func (u *BlockedUser) IsBlocked(now time.Time) bool {
	if u == nil || !u.Active {
		return false
	}
	return u.ExpiresAt == nil || now.Before(*u.ExpiresAt)
}

// BlockedUserRepository persists the block list.
type BlockedUserRepository interface {
	Save(ctx context.Context, u *BlockedUser) error
	// FindByEmail returns shared.ErrNotFound when the email was never blocked.
	FindByEmail(ctx context.Context, email string) (*BlockedUser, error)
	Delete(ctx context.Context, email string) error
	ListActive(ctx context.Context) ([]*BlockedUser, error)
}

package identity

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/identity"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// BlockedUserService manages the block list consulted before a requester
// may publish order events.
type BlockedUserService struct {
	repo   identity.BlockedUserRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewBlockedUserService creates a new blocked user service
func NewBlockedUserService(repo identity.BlockedUserRepository, logger *zap.Logger) *BlockedUserService {
	return &BlockedUserService{repo: repo, logger: logger, now: time.Now}
}

// BlockInput contains input for blocking a user
type BlockInput struct {
	Email     string
	Reason    string
	BlockedBy string
	// Days bounds the block; zero blocks until removed.
	Days  int
	Notes string
}

// BlockedUserDTO represents a block list entry
type BlockedUserDTO struct {
	Email     string     `json:"email"`
	Reason    string     `json:"reason"`
	BlockedBy string     `json:"blocked_by"`
	BlockedAt time.Time  `json:"blocked_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

func toDTO(u *identity.BlockedUser) BlockedUserDTO {
	return BlockedUserDTO{
		Email:     u.Email,
		Reason:    u.Reason,
		BlockedBy: u.BlockedBy,
		BlockedAt: u.BlockedAt,
		ExpiresAt: u.ExpiresAt,
		Notes:     u.Notes,
	}
}

// Block adds or replaces the entry for input.Email.
func (s *BlockedUserService) Block(ctx context.Context, input BlockInput) (*BlockedUserDTO, error) {
	if input.Days < 0 {
		return nil, shared.ErrValidation.Withf("days must not be negative")
	}
	u, err := identity.NewBlockedUser(
		input.Email,
		input.Reason,
		input.BlockedBy,
		time.Duration(input.Days)*24*time.Hour,
		input.Notes,
		s.now(),
	)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, u); err != nil {
		s.logger.Error("Failed to save blocked user", zap.String("email", u.Email), zap.Error(err))
		return nil, err
	}

	s.logger.Info("User blocked",
		zap.String("email", u.Email),
		zap.String("reason", u.Reason),
		zap.String("blocked_by", u.BlockedBy))
	dto := toDTO(u)
	return &dto, nil
}

// Unblock removes the entry. Unblocking an unknown email succeeds.
func (s *BlockedUserService) Unblock(ctx context.Context, email string) error {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return shared.ErrValidation.Withf("email is required")
	}
	if err := s.repo.Delete(ctx, email); err != nil {
		return err
	}
	s.logger.Info("User unblocked", zap.String("email", email))
	return nil
}

// IsBlocked reports whether email is currently blocked. A store failure is
// logged and treated as not blocked so an outage of the block list does not
// lock every requester out.
func (s *BlockedUserService) IsBlocked(ctx context.Context, email string) bool {
	u, err := s.repo.FindByEmail(ctx, identity.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("Block list lookup failed, allowing request",
				zap.String("email", identity.NormalizeEmail(email)),
				zap.Error(err))
		}
		return false
	}
	return u.IsBlocked(s.now())
}

// Get returns the entry for email, or shared.ErrNotFound.
func (s *BlockedUserService) Get(ctx context.Context, email string) (*BlockedUserDTO, error) {
	u, err := s.repo.FindByEmail(ctx, identity.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	dto := toDTO(u)
	return &dto, nil
}

// List returns the entries in force, newest first. Entries past their
// expiry are left out even if the store has not removed them yet.
func (s *BlockedUserService) List(ctx context.Context) ([]BlockedUserDTO, error) {
	users, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]BlockedUserDTO, 0, len(users))
	for _, u := range users {
		if u.IsBlocked(now) {
			out = append(out, toDTO(u))
		}
	}
	return out, nil
}

package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

func TestNewBlockedUser(t *testing.T) {
	now := time.Now()
	u, err := NewBlockedUser(" Bad@Example.COM ", "", "", 48*time.Hour, "chargebacks", now)
	require.NoError(t, err)

	assert.Equal(t, "bad@example.com", u.Email)
	assert.Equal(t, ReasonManual, u.Reason)
	assert.Equal(t, "ADMIN", u.BlockedBy)
	require.NotNil(t, u.ExpiresAt)
	assert.True(t, u.IsBlocked(now.Add(time.Hour)))
	assert.False(t, u.IsBlocked(now.Add(49*time.Hour)))
}

func TestBlockedUser_Permanent(t *testing.T) {
	u, err := NewBlockedUser("x@y.z", ReasonFraud, "ops", 0, "", time.Now())
	require.NoError(t, err)
	assert.Nil(t, u.ExpiresAt)
	assert.True(t, u.IsBlocked(time.Now().AddDate(10, 0, 0)))

	u.Active = false
	assert.False(t, u.IsBlocked(time.Now()))

	var missing *BlockedUser
	assert.False(t, missing.IsBlocked(time.Now()))
}

func TestNewBlockedUser_InvalidEmail(t *testing.T) {
	_, err := NewBlockedUser("nobody", "", "", 0, "", time.Now())
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/identity"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// ConnectionDirectory implements connection.Directory in memory.
type ConnectionDirectory struct {
	mu    sync.RWMutex
	conns map[string]connection.Connection
}

func NewConnectionDirectory() *ConnectionDirectory {
	return &ConnectionDirectory{conns: make(map[string]connection.Connection)}
}

func (d *ConnectionDirectory) Put(_ context.Context, conn connection.Connection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[conn.ConnectionID] = conn
	return nil
}

func (d *ConnectionDirectory) Get(_ context.Context, connectionID string) (connection.Connection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conns[connectionID]
	if !ok {
		return connection.Connection{}, shared.ErrNotFound.Withf("connection %s not found", connectionID)
	}
	return c, nil
}

func (d *ConnectionDirectory) Delete(_ context.Context, connectionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, connectionID)
	return nil
}

var _ connection.Directory = (*ConnectionDirectory)(nil)

// BlockedUserRepository implements identity.BlockedUserRepository in memory.
type BlockedUserRepository struct {
	mu    sync.RWMutex
	users map[string]identity.BlockedUser
}

func NewBlockedUserRepository() *BlockedUserRepository {
	return &BlockedUserRepository{users: make(map[string]identity.BlockedUser)}
}

func (r *BlockedUserRepository) Save(_ context.Context, u *identity.BlockedUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[identity.NormalizeEmail(u.Email)] = *u
	return nil
}

func (r *BlockedUserRepository) FindByEmail(_ context.Context, email string) (*identity.BlockedUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[identity.NormalizeEmail(email)]
	if !ok {
		return nil, shared.ErrNotFound.Withf("%s is not blocked", email)
	}
	return &u, nil
}

func (r *BlockedUserRepository) Delete(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, identity.NormalizeEmail(email))
	return nil
}

func (r *BlockedUserRepository) ListActive(_ context.Context) ([]*identity.BlockedUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*identity.BlockedUser
	for _, u := range r.users {
		if u.Active {
			u := u
			out = append(out, &u)
		}
	}
	slices.SortFunc(out, func(a, b *identity.BlockedUser) int { return strings.Compare(a.Email, b.Email) })
	return out, nil
}

var _ identity.BlockedUserRepository = (*BlockedUserRepository)(nil)

package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/okian/rosecast/internal/domain/types"
)

// User is a directory entry.
type User = types.User

// Directory resolves user identities presented by clients.
type Directory interface {
	// Resolve returns the user for id. A blank username is filled from the
	// directory; a non-blank one is used as given.
	Resolve(ctx context.Context, id, username string) (User, error)
	// Put registers or renames a user.
	Put(ctx context.Context, u User) error
}

// MemoryDirectory is an in-memory Directory. Unless strict, unknown users
// are registered on first use.
type MemoryDirectory struct {
	strict bool

	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory(opts ...DirectoryOption) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *MemoryDirectory) Put(_ context.Context, u User) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidUser)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
	return nil
}

func (d *MemoryDirectory) Resolve(ctx context.Context, id, username string) (User, error) {
	if strings.TrimSpace(id) == "" {
		return User{}, fmt.Errorf("%w: empty id", ErrInvalidUser)
	}
	d.mu.RLock()
	u, ok := d.users[id]
	d.mu.RUnlock()

	switch {
	case ok && username == "":
		return u, nil
	case ok:
		u.Username = username
		return u, d.Put(ctx, u)
	case d.strict:
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if username == "" {
		username = id
	}
	u = User{ID: id, Username: username}
	return u, d.Put(ctx, u)
}

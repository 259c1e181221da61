package users

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/giftcard-ledger/pkg/models"
)

var (
	// ErrUserNotFound is returned when no user has the requested id
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateUser is returned when the handle or email is taken
	ErrDuplicateUser = errors.New("user handle or email already registered")
)

// Directory answers the user lookups the ledger needs
type Directory interface {
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

// CreateUserRequest registers a card holder
type CreateUserRequest struct {
	Handle string `json:"handle" validate:"required,min=3,max=64"`
	Email  string `json:"email" validate:"required,email,max=255"`
}

// MemoryDirectory is a Directory kept in process memory
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]models.User
	now   func() time.Time
}

// NewMemoryDirectory returns a directory seeded with users
func NewMemoryDirectory(seed ...models.User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[uuid.UUID]models.User), now: time.Now}
	for _, u := range seed {
		d.users[u.ID] = u
	}
	return d
}

func (d *MemoryDirectory) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[id]
	return ok, nil
}

func (d *MemoryDirectory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (d *MemoryDirectory) CreateUser(ctx context.Context, user *models.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.users {
		if strings.EqualFold(existing.Handle, user.Handle) || strings.EqualFold(existing.Email, user.Email) {
			return ErrDuplicateUser
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = d.now().UTC()
	d.users[user.ID] = *user
	return nil
}

// Users lists every user ordered by handle
func (d *MemoryDirectory) Users() []models.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

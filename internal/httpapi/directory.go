package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carelink/internal/session"
)

// ErrUserNotFound is returned when no directory entry matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// User is the directory record the auth surface needs: identity, role, and
// the stored credential hash. Profile data lives elsewhere.
type User struct {
	ID           string
	Email        string
	Role         session.Role
	PasswordHash string
}

// UserDirectory resolves login identifiers to credential records.
type UserDirectory interface {
	LookupByEmail(ctx context.Context, email string) (User, error)
}

// NormalizeEmail lowercases and trims an email for directory lookups.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// PostgresDirectory reads user credentials from the carelink.users table.
// The pgx pool is owned by the caller; this directory must not close it.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory constructs a directory over an existing pool.
func NewPostgresDirectory(pool *pgxpool.Pool) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("httpapi: nil db pool")
	}
	return &PostgresDirectory{pool: pool}, nil
}

func (d *PostgresDirectory) LookupByEmail(ctx context.Context, email string) (User, error) {
	const q = `
SELECT id, email, role, password_hash
FROM carelink.users
WHERE email = $1`

	var u User
	var role string
	err := d.pool.QueryRow(ctx, q, NormalizeEmail(email)).Scan(&u.ID, &u.Email, &role, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}

	r, ok := session.ParseRole(role)
	if !ok {
		return User{}, ErrUserNotFound
	}
	u.Role = r
	return u, nil
}

// MemoryDirectory is an in-memory UserDirectory for development and tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDirectory constructs an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]User)}
}

// Put inserts or replaces a directory entry keyed by normalized email.
func (d *MemoryDirectory) Put(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[NormalizeEmail(u.Email)] = u
}

func (d *MemoryDirectory) LookupByEmail(_ context.Context, email string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[NormalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

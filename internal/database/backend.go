package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a doId has no stored object.
var ErrNotFound = errors.New("database object not found")

// ErrExists is returned by Create when the doId is already stored;
// the caller must allocate a fresh id and try again.
var ErrExists = errors.New("database object already exists")

// Backend is one persistence strategy for database objects plus the
// account-name directory.
type Backend interface {
	// Exists reports whether doId has a stored object.
	Exists(ctx context.Context, doId uint32) (bool, error)
	// Load reads one object; ErrNotFound when absent.
	Load(ctx context.Context, doId uint32) (*Object, error)
	// Save writes one object, creating or overwriting.
	Save(ctx context.Context, o *Object) error
	// Create writes a brand-new object. The write is exclusive on
	// doId: when a concurrent creation claimed the id first, the
	// loser gets ErrExists and nothing is overwritten.
	Create(ctx context.Context, o *Object) error
	// NextDoId computes the next free id (monotonic, gap-tolerant),
	// starting at FirstDoId.
	NextDoId(ctx context.Context) (uint32, error)

	// SetAccount maps an account name to its Account object doId.
	SetAccount(ctx context.Context, name string, doId uint32) error
	// GetAccount resolves an account name; ok=false when unknown.
	GetAccount(ctx context.Context, name string) (doId uint32, ok bool, err error)

	// Close releases backend resources.
	Close() error
}

// FirstDoId is the lowest id ever allocated for a persistent object.
const FirstDoId uint32 = 10000000

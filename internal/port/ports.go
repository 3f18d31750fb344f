// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import "context"

// OwnerDirectory confirms that an owner identifier exists.
// Implemented by the identity collaborator (static registry, Supabase, HTTP API).
type OwnerDirectory interface {
	OwnerExists(ctx context.Context, ownerID string) (bool, error)
}

// NumberGenerator produces candidate account numbers. Candidates may collide;
// uniqueness is enforced by the LedgerStore.
type NumberGenerator interface {
	Generate() string
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/boddenberg/bank-ledger-go/internal/port"
)

// OwnerRegistry is a static port.OwnerDirectory, used in development and tests.
type OwnerRegistry struct {
	mu     sync.RWMutex
	owners map[string]struct{}
}

var _ port.OwnerDirectory = (*OwnerRegistry)(nil)

// NewOwnerRegistry creates a registry seeded with ownerIDs. Blank ids are skipped.
func NewOwnerRegistry(ownerIDs ...string) *OwnerRegistry {
	r := &OwnerRegistry{owners: make(map[string]struct{}, len(ownerIDs))}
	for _, id := range ownerIDs {
		r.Add(id)
	}
	return r
}

// Add registers an owner id.
func (r *OwnerRegistry) Add(ownerID string) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return
	}
	r.mu.Lock()
	r.owners[ownerID] = struct{}{}
	r.mu.Unlock()
}

func (r *OwnerRegistry) OwnerExists(_ context.Context, ownerID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.owners[ownerID]
	return ok, nil
}

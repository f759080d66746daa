package repository

import (
	"context"
	"sync"
)

// MemoryLedger implements InventoryLedger in process memory. It backs
// single-node deployments and tests; one mutex covers all resources so
// multi-resource claims stay all-or-nothing.
type MemoryLedger struct {
	mu        sync.Mutex
	resources map[string]*ResourceUsage
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		resources: make(map[string]*ResourceUsage),
	}
}

func (l *MemoryLedger) resource(resourceID string, limit int64) *ResourceUsage {
	usage, ok := l.resources[resourceID]
	if !ok {
		usage = &ResourceUsage{ResourceID: resourceID, Limit: limit}
		l.resources[resourceID] = usage
	} else {
		usage.Limit = limit
	}
	return usage
}

// TryClaim atomically claims capacity on all resources or none
func (l *MemoryLedger) TryClaim(ctx context.Context, claims []Claim) (*ClaimRejection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range claims {
		usage := l.resource(c.ResourceID, c.Limit)
		if usage.Limit < 0 {
			continue
		}
		available := usage.Limit - usage.Held - usage.Confirmed
		if available < 0 {
			available = 0
		}
		if c.Quantity > available {
			return &ClaimRejection{
				ResourceID: c.ResourceID,
				Requested:  c.Quantity,
				Available:  available,
			}, nil
		}
	}

	for _, c := range claims {
		l.resources[c.ResourceID].Held += c.Quantity
	}
	return nil, nil
}

// Release returns held capacity to the pool, flooring at zero
func (l *MemoryLedger) Release(ctx context.Context, claims []Claim) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range claims {
		usage, ok := l.resources[c.ResourceID]
		if !ok {
			continue
		}
		usage.Held -= c.Quantity
		if usage.Held < 0 {
			usage.Held = 0
		}
	}
	return nil
}

// Commit converts held claims into confirmed counts
func (l *MemoryLedger) Commit(ctx context.Context, claims []Claim) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range claims {
		usage := l.resource(c.ResourceID, c.Limit)
		release := c.Quantity
		if release > usage.Held {
			release = usage.Held
		}
		usage.Held -= release
		usage.Confirmed += c.Quantity
	}
	return nil
}

// Usage returns a copy of the resource's counters
func (l *MemoryLedger) Usage(ctx context.Context, resourceID string) (*ResourceUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage, ok := l.resources[resourceID]
	if !ok {
		return &ResourceUsage{ResourceID: resourceID, Limit: -1}, nil
	}
	copied := *usage
	return &copied, nil
}

// SeedResource initializes a resource's counters
func (l *MemoryLedger) SeedResource(ctx context.Context, resourceID string, limit, confirmed int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage := l.resource(resourceID, limit)
	usage.Confirmed = confirmed
	return nil
}

// Ensure MemoryLedger implements InventoryLedger
var _ InventoryLedger = (*MemoryLedger)(nil)

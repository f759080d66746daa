package repository

import (
	"context"
	"sync"
	"testing"

	"startline/internal/domain"
)

func TestMemoryLedgerTryClaim(t *testing.T) {
	tests := []struct {
		name       string
		seed       map[string][2]int64 // resource -> {limit, confirmed}
		claims     []Claim
		wantReject string
	}{
		{
			name:   "grants within capacity",
			claims: []Claim{{ResourceID: "race:r1", Quantity: 2, Limit: 10}},
		},
		{
			name:   "unlimited always grants",
			claims: []Claim{{ResourceID: "race:r1", Quantity: 1000, Limit: -1}},
		},
		{
			name:       "rejects when full",
			seed:       map[string][2]int64{"race:r1": {5, 5}},
			claims:     []Claim{{ResourceID: "race:r1", Quantity: 1, Limit: 5}},
			wantReject: "race:r1",
		},
		{
			name: "all or nothing across resources",
			seed: map[string][2]int64{"choice:c1": {1, 1}},
			claims: []Claim{
				{ResourceID: "race:r1", Quantity: 1, Limit: 10},
				{ResourceID: "choice:c1", Quantity: 1, Limit: 1},
			},
			wantReject: "choice:c1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ledger := NewMemoryLedger()
			for res, v := range tt.seed {
				if err := ledger.SeedResource(ctx, res, v[0], v[1]); err != nil {
					t.Fatalf("SeedResource() error = %v", err)
				}
			}

			rejection, err := ledger.TryClaim(ctx, tt.claims)
			if err != nil {
				t.Fatalf("TryClaim() error = %v", err)
			}

			if tt.wantReject == "" {
				if rejection != nil {
					t.Fatalf("TryClaim() rejected %s, want grant", rejection.ResourceID)
				}
				return
			}

			if rejection == nil {
				t.Fatal("TryClaim() granted, want rejection")
			}
			if rejection.ResourceID != tt.wantReject {
				t.Errorf("rejected resource = %s, want %s", rejection.ResourceID, tt.wantReject)
			}

			// A rejection must leave no partial holds behind
			for _, c := range tt.claims {
				usage, _ := ledger.Usage(ctx, c.ResourceID)
				seeded := tt.seed[c.ResourceID]
				if usage.Held != 0 {
					t.Errorf("resource %s held = %d after rejection, want 0", c.ResourceID, usage.Held)
				}
				if usage.Confirmed != seeded[1] {
					t.Errorf("resource %s confirmed = %d, want %d", c.ResourceID, usage.Confirmed, seeded[1])
				}
			}
		})
	}
}

func TestMemoryLedgerNoOverselling(t *testing.T) {
	const (
		capacity   = 10
		goroutines = 100
	)

	ctx := context.Background()
	ledger := NewMemoryLedger()
	resource := domain.RaceResource("r1")

	var wg sync.WaitGroup
	granted := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rejection, err := ledger.TryClaim(ctx, []Claim{
				{ResourceID: resource, Quantity: 1, Limit: capacity},
			})
			if err == nil && rejection == nil {
				granted <- struct{}{}
			}
		}()
	}

	wg.Wait()
	close(granted)

	grantCount := len(granted)
	if grantCount != capacity {
		t.Errorf("granted %d claims for capacity %d", grantCount, capacity)
	}

	usage, err := ledger.Usage(ctx, resource)
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if usage.Held+usage.Confirmed > capacity {
		t.Errorf("held+confirmed = %d exceeds capacity %d", usage.Held+usage.Confirmed, capacity)
	}
}

func TestMemoryLedgerReleaseRestoresCapacity(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	claims := []Claim{{ResourceID: "race:r1", Quantity: 1, Limit: 1}}

	if rejection, _ := ledger.TryClaim(ctx, claims); rejection != nil {
		t.Fatal("first claim should grant")
	}
	if rejection, _ := ledger.TryClaim(ctx, claims); rejection == nil {
		t.Fatal("second claim should reject while hold is live")
	}

	if err := ledger.Release(ctx, claims); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if rejection, _ := ledger.TryClaim(ctx, claims); rejection != nil {
		t.Error("claim after release should grant")
	}
}

func TestMemoryLedgerCommitKeepsCapacityDeducted(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	claims := []Claim{{ResourceID: "race:r1", Quantity: 1, Limit: 1}}

	if rejection, _ := ledger.TryClaim(ctx, claims); rejection != nil {
		t.Fatal("claim should grant")
	}
	if err := ledger.Commit(ctx, claims); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	usage, _ := ledger.Usage(ctx, "race:r1")
	if usage.Held != 0 {
		t.Errorf("held = %d after commit, want 0", usage.Held)
	}
	if usage.Confirmed != 1 {
		t.Errorf("confirmed = %d after commit, want 1", usage.Confirmed)
	}

	if rejection, _ := ledger.TryClaim(ctx, claims); rejection == nil {
		t.Error("claim after commit should still reject, capacity is permanently used")
	}
}

func TestMemoryLedgerDoubleReleaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	claims := []Claim{{ResourceID: "race:r1", Quantity: 2, Limit: 5}}

	if rejection, _ := ledger.TryClaim(ctx, claims); rejection != nil {
		t.Fatal("claim should grant")
	}
	if err := ledger.Release(ctx, claims); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := ledger.Release(ctx, claims); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}

	usage, _ := ledger.Usage(ctx, "race:r1")
	if usage.Held != 0 {
		t.Errorf("held = %d, want 0", usage.Held)
	}
	if usage.Available() != 5 {
		t.Errorf("available = %d, want 5", usage.Available())
	}
}

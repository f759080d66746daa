package repository

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	pkgredis "startline/pkg/redis"
	"startline/pkg/telemetry"
)

//go:embed scripts/claim_resources.lua
var claimResourcesScript string

//go:embed scripts/release_resources.lua
var releaseResourcesScript string

//go:embed scripts/commit_resources.lua
var commitResourcesScript string

// Script names for caching
const (
	scriptClaimResources   = "claim_resources"
	scriptReleaseResources = "release_resources"
	scriptCommitResources  = "commit_resources"
)

// RedisLedger implements InventoryLedger on Redis. Each resource is a hash
// holding limit, held and confirmed counters; all-or-nothing claims run as
// a single Lua script so concurrent claimants serialize on the server.
type RedisLedger struct {
	client *pkgredis.Client
}

// NewRedisLedger creates a new RedisLedger
func NewRedisLedger(client *pkgredis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func inventoryKey(resourceID string) string {
	return fmt.Sprintf("inventory:%s", resourceID)
}

// LoadScripts loads all Lua scripts into Redis
func (r *RedisLedger) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptClaimResources:   claimResourcesScript,
		scriptReleaseResources: releaseResourcesScript,
		scriptCommitResources:  commitResourcesScript,
	}

	for name, script := range scripts {
		if _, err := r.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load script %s: %w", name, err)
		}
	}

	return nil
}

// TryClaim atomically claims capacity on all resources or none. A non-nil
// rejection with a nil error means a resource could not grant its quantity.
func (r *RedisLedger) TryClaim(ctx context.Context, claims []Claim) (*ClaimRejection, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.try_claim")
	defer span.End()

	span.SetAttributes(attribute.Int("resource_count", len(claims)))

	if len(claims) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil, nil
	}

	keys := make([]string, 0, len(claims))
	args := make([]interface{}, 0, len(claims)*2)
	for _, c := range claims {
		keys = append(keys, inventoryKey(c.ResourceID))
		args = append(args, c.Quantity, c.Limit)
	}

	result := r.client.EvalWithFallback(ctx, scriptClaimResources, claimResourcesScript, keys, args...)
	if result.Err() != nil {
		span.RecordError(result.Err())
		span.SetStatus(codes.Error, result.Err().Error())
		return nil, fmt.Errorf("failed to execute claim_resources script: %w", result.Err())
	}

	values, err := result.Slice()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse script result: %w", err)
	}

	if len(values) < 2 {
		span.SetStatus(codes.Error, "unexpected result length")
		return nil, fmt.Errorf("unexpected script result length: %d", len(values))
	}

	success, _ := toInt64(values[0])
	if success == 1 {
		span.SetStatus(codes.Ok, "")
		return nil, nil
	}

	index, _ := toInt64(values[1])
	available := int64(0)
	if len(values) > 2 {
		available, _ = toInt64(values[2])
	}
	if index < 1 || index > int64(len(claims)) {
		span.SetStatus(codes.Error, "rejection index out of range")
		return nil, fmt.Errorf("claim rejection index out of range: %d", index)
	}

	rejected := claims[index-1]
	span.SetAttributes(
		attribute.String("rejected_resource", rejected.ResourceID),
		attribute.Int64("available", available),
	)
	span.SetStatus(codes.Error, "capacity exceeded")
	return &ClaimRejection{
		ResourceID: rejected.ResourceID,
		Requested:  rejected.Quantity,
		Available:  available,
	}, nil
}

// Release returns held capacity to the pool
func (r *RedisLedger) Release(ctx context.Context, claims []Claim) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.release")
	defer span.End()

	span.SetAttributes(attribute.Int("resource_count", len(claims)))

	if len(claims) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	keys := make([]string, 0, len(claims))
	args := make([]interface{}, 0, len(claims))
	for _, c := range claims {
		keys = append(keys, inventoryKey(c.ResourceID))
		args = append(args, c.Quantity)
	}

	result := r.client.EvalWithFallback(ctx, scriptReleaseResources, releaseResourcesScript, keys, args...)
	if result.Err() != nil {
		span.RecordError(result.Err())
		span.SetStatus(codes.Error, result.Err().Error())
		return fmt.Errorf("failed to execute release_resources script: %w", result.Err())
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Commit converts held claims into permanent confirmed counts
func (r *RedisLedger) Commit(ctx context.Context, claims []Claim) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.commit")
	defer span.End()

	span.SetAttributes(attribute.Int("resource_count", len(claims)))

	if len(claims) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	keys := make([]string, 0, len(claims))
	args := make([]interface{}, 0, len(claims))
	for _, c := range claims {
		keys = append(keys, inventoryKey(c.ResourceID))
		args = append(args, c.Quantity)
	}

	result := r.client.EvalWithFallback(ctx, scriptCommitResources, commitResourcesScript, keys, args...)
	if result.Err() != nil {
		span.RecordError(result.Err())
		span.SetStatus(codes.Error, result.Err().Error())
		return fmt.Errorf("failed to execute commit_resources script: %w", result.Err())
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Usage returns the ledger's counters for a resource. Unknown resources
// report an unlimited, unused entry.
func (r *RedisLedger) Usage(ctx context.Context, resourceID string) (*ResourceUsage, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.usage")
	defer span.End()

	span.SetAttributes(attribute.String("resource_id", resourceID))

	data, err := r.client.HGetAll(ctx, inventoryKey(resourceID)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get resource usage: %w", err)
	}

	usage := &ResourceUsage{ResourceID: resourceID, Limit: -1}
	if v, ok := data["limit"]; ok {
		usage.Limit, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := data["held"]; ok {
		usage.Held, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := data["confirmed"]; ok {
		usage.Confirmed, _ = strconv.ParseInt(v, 10, 64)
	}

	span.SetAttributes(
		attribute.Int64("held", usage.Held),
		attribute.Int64("confirmed", usage.Confirmed),
	)
	span.SetStatus(codes.Ok, "")
	return usage, nil
}

// SeedResource initializes a resource's counters (for catalog sync)
func (r *RedisLedger) SeedResource(ctx context.Context, resourceID string, limit, confirmed int64) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.seed_resource")
	defer span.End()

	span.SetAttributes(
		attribute.String("resource_id", resourceID),
		attribute.Int64("limit", limit),
		attribute.Int64("confirmed", confirmed),
	)

	err := r.client.HSet(ctx, inventoryKey(resourceID),
		"limit", limit,
		"confirmed", confirmed,
	).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to seed resource: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Helper function to convert interface{} to int64
func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Ensure RedisLedger implements InventoryLedger
var _ InventoryLedger = (*RedisLedger)(nil)

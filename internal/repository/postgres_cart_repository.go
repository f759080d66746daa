package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"startline/internal/domain"
	"startline/pkg/telemetry"
)

// PostgresCartRepository implements CartRepository using PostgreSQL with pgxpool
type PostgresCartRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCartRepository creates a new PostgresCartRepository
func NewPostgresCartRepository(pool *pgxpool.Pool) *PostgresCartRepository {
	return &PostgresCartRepository{pool: pool}
}

// Create creates a new cart record in the database
func (r *PostgresCartRepository) Create(ctx context.Context, cart *domain.Cart) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.cart.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("cart_id", cart.ID),
		attribute.String("user_id", cart.UserID),
		attribute.String("event_id", cart.EventID),
	)

	query := `
		INSERT INTO carts (
			id, event_id, user_id, status, total_cents, currency,
			version, reserved_at, expires_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`

	_, err := r.pool.Exec(ctx, query,
		cart.ID,
		cart.EventID,
		cart.UserID,
		cart.Status.String(),
		cart.TotalCents,
		cart.Currency,
		cart.Version,
		cart.ReservedAt,
		cart.ExpiresAt,
		cart.CreatedAt,
		cart.UpdatedAt,
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create cart: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByID retrieves a cart with its items
func (r *PostgresCartRepository) GetByID(ctx context.Context, id string) (*domain.Cart, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.cart.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("cart_id", id))

	query := `
		SELECT id, event_id, user_id, status, total_cents, currency,
			version, payment_id, reserved_at, expires_at, created_at, updated_at
		FROM carts
		WHERE id = $1
	`

	cart := &domain.Cart{}
	var status string
	var paymentID *string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&cart.ID,
		&cart.EventID,
		&cart.UserID,
		&status,
		&cart.TotalCents,
		&cart.Currency,
		&cart.Version,
		&paymentID,
		&cart.ReservedAt,
		&cart.ExpiresAt,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrCartNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	cart.Status = domain.CartStatus(status)
	if paymentID != nil {
		cart.PaymentID = *paymentID
	}

	items, err := r.getItems(ctx, []string{cart.ID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	cart.Items = items[cart.ID]

	span.SetAttributes(attribute.Int("item_count", len(cart.Items)))
	span.SetStatus(codes.Ok, "")
	return cart, nil
}

// GetByUserID retrieves carts for a user, newest first
func (r *PostgresCartRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Cart, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.cart.get_by_user_id")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	query := `
		SELECT id, event_id, user_id, status, total_cents, currency,
			version, payment_id, reserved_at, expires_at, created_at, updated_at
		FROM carts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get carts by user ID: %w", err)
	}
	defer rows.Close()

	carts, err := scanCarts(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := r.attachItems(ctx, carts); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(carts)))
	span.SetStatus(codes.Ok, "")
	return carts, nil
}

// AddItem inserts the item and persists the recomputed cart total in one
// transaction, guarded by the cart version so concurrent edits conflict
// instead of clobbering each other.
func (r *PostgresCartRepository) AddItem(ctx context.Context, cart *domain.Cart, item *domain.CartItem) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.cart.add_item")
	defer span.End()

	span.SetAttributes(
		attribute.String("cart_id", cart.ID),
		attribute.String("item_id", item.ID),
		attribute.String("race_id", item.RaceID),
	)

	participant, err := json.Marshal(item.Participant)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal participant: %w", err)
	}
	selectedOptions, err := json.Marshal(item.SelectedOptions)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal selected options: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO cart_items (
			id, cart_id, race_id, license_type_id, participant, selected_options,
			base_cents, options_cents, commission_cents, total_cents, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`

	_, err = tx.Exec(ctx, insertQuery,
		item.ID,
		cart.ID,
		item.RaceID,
		item.LicenseTypeID,
		participant,
		selectedOptions,
		item.BaseCents,
		item.OptionsCents,
		item.CommissionCents,
		item.TotalCents,
		item.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to insert cart item: %w", err)
	}

	if err := r.updateTotalTx(ctx, tx, cart); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// RemoveItem deletes the item and persists the recomputed cart total
// transactionally under the cart version guard.
func (r *PostgresCartRepository) RemoveItem(ctx context.Context, cart *domain.Cart, itemID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.cart.remove_item")
	defer span.End()

	span.SetAttributes(
		attribute.String("cart_id", cart.ID),
		attribute.String("item_id", itemID),
	)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, itemID, cart.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete cart item: %w", err)
	}
	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "item not found")
		return domain.ErrItemNotFound
	}

	if err := r.updateTotalTx(ctx, tx, cart); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// updateTotalTx writes the recomputed total under the version guard. The
// status guard keeps item edits off reserved and terminal carts.
func (r *PostgresCartRepository) updateTotalTx(ctx context.Context, tx pgx.Tx, cart *domain.Cart) error {
	query := `
		UPDATE carts SET
			total_cents = $2,
			version = version + 1,
			updated_at = $3
		WHERE id = $1 AND version = $4 AND status = 'active'
	`

	result, err := tx.Exec(ctx, query, cart.ID, cart.TotalCents, time.Now(), cart.Version)
	if err != nil {
		return fmt.Errorf("failed to update cart total: %w", err)
	}

	if result.RowsAffected() == 0 {
		var status string
		var version int64
		err := tx.QueryRow(ctx, "SELECT status, version FROM carts WHERE id = $1", cart.ID).Scan(&status, &version)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrCartNotFound
			}
			return fmt.Errorf("failed to check cart status: %w", err)
		}
		if status != domain.CartStatusActive.String() {
			return domain.ErrCartNotActive
		}
		return domain.ErrVersionConflict
	}

	cart.Version++
	return nil
}

// MarkReserved transitions active → reserved, setting the hold window. The
// status guard makes concurrent reserve attempts race safely.
func (r *PostgresCartRepository) MarkReserved(ctx context.Context, id string, reservedAt, expiresAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.cart.mark_reserved")
	defer span.End()

	span.SetAttributes(attribute.String("cart_id", id))

	query := `
		UPDATE carts SET
			status = 'reserved',
			reserved_at = $2,
			expires_at = $3,
			version = version + 1,
			updated_at = $4
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.pool.Exec(ctx, query, id, reservedAt, expiresAt, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to mark cart reserved: %w", err)
	}

	if result.RowsAffected() == 0 {
		err := r.diagnoseTransition(ctx, id, domain.CartStatusActive)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ExtendReservation refreshes the hold window while it is still live
func (r *PostgresCartRepository) ExtendReservation(ctx context.Context, id string, expiresAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.cart.extend_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("cart_id", id))

	query := `
		UPDATE carts SET
			expires_at = $2,
			version = version + 1,
			updated_at = $3
		WHERE id = $1 AND status = 'reserved' AND expires_at > $3
	`

	now := time.Now()
	result, err := r.pool.Exec(ctx, query, id, expiresAt, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to extend reservation: %w", err)
	}

	if result.RowsAffected() == 0 {
		err := r.diagnoseTransition(ctx, id, domain.CartStatusReserved)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// MarkExpired transitions reserved → expired. Exactly one of the sweeper
// and a concurrent checkout wins this update.
func (r *PostgresCartRepository) MarkExpired(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.cart.mark_expired")
	defer span.End()

	span.SetAttributes(attribute.String("cart_id", id))

	// expires_at is cleared with the flip: it only has meaning while a
	// hold is live.
	query := `
		UPDATE carts SET
			status = 'expired',
			expires_at = NULL,
			version = version + 1,
			updated_at = $2
		WHERE id = $1 AND status IN ('active', 'reserved')
	`

	result, err := r.pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to mark cart expired: %w", err)
	}

	if result.RowsAffected() == 0 {
		err := r.diagnoseTransition(ctx, id, domain.CartStatusReserved)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// MarkCompleted transitions reserved → completed with the payment reference
func (r *PostgresCartRepository) MarkCompleted(ctx context.Context, id, paymentID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.cart.mark_completed")
	defer span.End()

	span.SetAttributes(
		attribute.String("cart_id", id),
		attribute.String("payment_id", paymentID),
	)

	query := `
		UPDATE carts SET
			status = 'completed',
			payment_id = $2,
			version = version + 1,
			updated_at = $3
		WHERE id = $1 AND status = 'reserved'
	`

	result, err := r.pool.Exec(ctx, query, id, nullString(paymentID), time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to mark cart completed: %w", err)
	}

	if result.RowsAffected() == 0 {
		err := r.diagnoseTransition(ctx, id, domain.CartStatusReserved)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetExpiredCarts gets reserved carts whose hold has lapsed, with items so
// the caller can release every held claim
func (r *PostgresCartRepository) GetExpiredCarts(ctx context.Context, limit int) ([]*domain.Cart, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.cart.get_expired")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	query := `
		SELECT id, event_id, user_id, status, total_cents, currency,
			version, payment_id, reserved_at, expires_at, created_at, updated_at
		FROM carts
		WHERE status = 'reserved'
			AND expires_at IS NOT NULL
			AND expires_at < $1
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, time.Now(), limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get expired carts: %w", err)
	}
	defer rows.Close()

	carts, err := scanCarts(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := r.attachItems(ctx, carts); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(carts)))
	span.SetStatus(codes.Ok, "")
	return carts, nil
}

// diagnoseTransition maps a zero-row conditional update to a typed error
func (r *PostgresCartRepository) diagnoseTransition(ctx context.Context, id string, wantStatus domain.CartStatus) error {
	var status string
	err := r.pool.QueryRow(ctx, "SELECT status FROM carts WHERE id = $1", id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrCartNotFound
		}
		return fmt.Errorf("failed to check cart status: %w", err)
	}

	switch domain.CartStatus(status) {
	case domain.CartStatusExpired:
		return domain.ErrCartExpired
	case domain.CartStatusCompleted:
		return domain.ErrIllegalTransition
	case wantStatus:
		// Status matches but the guard still failed, the hold must have
		// lapsed between checks.
		return domain.ErrCartExpired
	default:
		return domain.ErrIllegalTransition
	}
}

// getItems loads items for the given cart ids, keyed by cart id
func (r *PostgresCartRepository) getItems(ctx context.Context, cartIDs []string) (map[string][]domain.CartItem, error) {
	if len(cartIDs) == 0 {
		return map[string][]domain.CartItem{}, nil
	}

	query := `
		SELECT id, cart_id, race_id, license_type_id, participant, selected_options,
			base_cents, options_cents, commission_cents, total_cents, created_at
		FROM cart_items
		WHERE cart_id = ANY($1)
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, cartIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]domain.CartItem)
	for rows.Next() {
		var item domain.CartItem
		var participant, selectedOptions []byte
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.RaceID,
			&item.LicenseTypeID,
			&participant,
			&selectedOptions,
			&item.BaseCents,
			&item.OptionsCents,
			&item.CommissionCents,
			&item.TotalCents,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		if err := json.Unmarshal(participant, &item.Participant); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participant: %w", err)
		}
		if len(selectedOptions) > 0 {
			if err := json.Unmarshal(selectedOptions, &item.SelectedOptions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal selected options: %w", err)
			}
		}
		items[item.CartID] = append(items[item.CartID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart items: %w", err)
	}

	return items, nil
}

func (r *PostgresCartRepository) attachItems(ctx context.Context, carts []*domain.Cart) error {
	ids := make([]string, 0, len(carts))
	for _, cart := range carts {
		ids = append(ids, cart.ID)
	}
	items, err := r.getItems(ctx, ids)
	if err != nil {
		return err
	}
	for _, cart := range carts {
		cart.Items = items[cart.ID]
	}
	return nil
}

// scanCarts scans rows into Cart structs
func scanCarts(rows pgx.Rows) ([]*domain.Cart, error) {
	var carts []*domain.Cart
	for rows.Next() {
		cart := &domain.Cart{}
		var status string
		var paymentID *string
		err := rows.Scan(
			&cart.ID,
			&cart.EventID,
			&cart.UserID,
			&status,
			&cart.TotalCents,
			&cart.Currency,
			&cart.Version,
			&paymentID,
			&cart.ReservedAt,
			&cart.ExpiresAt,
			&cart.CreatedAt,
			&cart.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart: %w", err)
		}
		cart.Status = domain.CartStatus(status)
		if paymentID != nil {
			cart.PaymentID = *paymentID
		}
		carts = append(carts, cart)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating carts: %w", err)
	}

	return carts, nil
}

// Helper function to convert empty string to nil pointer
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Ensure PostgresCartRepository implements CartRepository
var _ CartRepository = (*PostgresCartRepository)(nil)

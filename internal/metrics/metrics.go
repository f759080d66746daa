package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"startline/pkg/telemetry"
)

var (
	// Cart lifecycle counters
	CartsReserved  *telemetry.Counter
	CartsCompleted *telemetry.Counter
	CartsExpired   *telemetry.Counter
	CartsFailed    *telemetry.Counter

	ItemsAdded   *telemetry.Counter
	ItemsRemoved *telemetry.Counter

	// Error tracking counters
	ErrorsTotal       *telemetry.Counter
	SlowRequestsTotal *telemetry.Counter

	// Histograms
	HoldDuration     *telemetry.Histogram
	CheckoutDuration *telemetry.Histogram
	RequestDuration  *telemetry.Histogram

	// Gauges
	ActiveHolds *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all cart metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	CartsReserved, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "cart_reservations_total",
		Description: "Total number of carts reserved",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	CartsCompleted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "cart_completions_total",
		Description: "Total number of carts completed at checkout",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	CartsExpired, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "cart_expirations_total",
		Description: "Total number of expired reservations",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	CartsFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "cart_failures_total",
		Description: "Total number of failed reservations and checkouts",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ItemsAdded, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "cart_items_added_total",
		Description: "Total number of items added to carts",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ItemsRemoved, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "cart_items_removed_total",
		Description: "Total number of items removed from carts",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	// Hold lifetime, reservation to completion
	HoldDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "cart_hold_duration_seconds",
		Description: "Duration from reservation to completion",
		Unit:        "s",
	}, []float64{1, 5, 10, 30, 60, 120, 300, 600, 900})
	if err != nil {
		return err
	}

	CheckoutDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "cart_checkout_duration_seconds",
		Description: "Time spent inside the checkout pipeline",
		Unit:        "s",
	}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30})
	if err != nil {
		return err
	}

	// Request duration histogram for latency tracking (p50, p90, p99)
	RequestDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "cart_request_duration_seconds",
		Description: "HTTP request duration in seconds",
		Unit:        "s",
	}, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	if err != nil {
		return err
	}

	ErrorsTotal, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "cart_errors_total",
		Description: "Total number of errors by type",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	SlowRequestsTotal, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "cart_slow_requests_total",
		Description: "Total number of slow requests (>1s)",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ActiveHolds, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "cart_active_holds",
		Description: "Current number of live reservation holds",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	return nil
}

// RecordReservation records a cart reservation metric
func RecordReservation(ctx context.Context, eventID string, itemCount int) {
	if CartsReserved != nil {
		CartsReserved.Inc(ctx,
			attribute.String("event_id", eventID),
			attribute.Int("item_count", itemCount),
		)
	}
	if ActiveHolds != nil {
		ActiveHolds.Inc(ctx)
	}
}

// RecordCompletion records a successful checkout metric
func RecordCompletion(ctx context.Context, eventID string, holdSeconds float64) {
	if CartsCompleted != nil {
		CartsCompleted.Inc(ctx,
			attribute.String("event_id", eventID),
		)
	}
	if HoldDuration != nil {
		HoldDuration.Record(ctx, holdSeconds,
			attribute.String("event_id", eventID),
		)
	}
	if ActiveHolds != nil {
		ActiveHolds.Dec(ctx)
	}
}

// RecordExpiration records reservation expiration metrics
func RecordExpiration(ctx context.Context, eventID string, count int64) {
	if CartsExpired != nil {
		CartsExpired.Add(ctx, count,
			attribute.String("event_id", eventID),
		)
	}
	if ActiveHolds != nil {
		ActiveHolds.Add(ctx, -count)
	}
}

// RecordFailure records a reservation or checkout failure metric
func RecordFailure(ctx context.Context, eventID, reason string) {
	if CartsFailed != nil {
		CartsFailed.Inc(ctx,
			attribute.String("event_id", eventID),
			attribute.String("reason", reason),
		)
	}
}

// RecordItemAdded records an item added to a cart
func RecordItemAdded(ctx context.Context, raceID string) {
	if ItemsAdded != nil {
		ItemsAdded.Inc(ctx,
			attribute.String("race_id", raceID),
		)
	}
}

// RecordItemRemoved records an item removed from a cart
func RecordItemRemoved(ctx context.Context, raceID string) {
	if ItemsRemoved != nil {
		ItemsRemoved.Inc(ctx,
			attribute.String("race_id", raceID),
		)
	}
}

// RecordCheckoutDuration records time spent inside the checkout pipeline
func RecordCheckoutDuration(ctx context.Context, eventID string, durationSeconds float64) {
	if CheckoutDuration != nil {
		CheckoutDuration.Record(ctx, durationSeconds,
			attribute.String("event_id", eventID),
		)
	}
}

// RecordError records an error by type and operation
func RecordError(ctx context.Context, errorType, operation string) {
	if ErrorsTotal != nil {
		ErrorsTotal.Inc(ctx,
			attribute.String("error_type", errorType),
			attribute.String("operation", operation),
		)
	}
}

// RecordRequestDuration records HTTP request duration and tracks slow requests
func RecordRequestDuration(ctx context.Context, operation string, durationSeconds float64) {
	if RequestDuration != nil {
		RequestDuration.Record(ctx, durationSeconds,
			attribute.String("operation", operation),
		)
	}
	// Track slow requests (>1s)
	if durationSeconds > 1.0 && SlowRequestsTotal != nil {
		SlowRequestsTotal.Inc(ctx,
			attribute.String("operation", operation),
		)
	}
}

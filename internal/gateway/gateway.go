package gateway

import (
	"context"
)

// ChargeRequest is a payment charge in the currency's smallest unit
type ChargeRequest struct {
	// AmountCents is the charge amount in the smallest currency unit
	AmountCents int64

	// Currency is the ISO currency code (lowercase, e.g. "eur")
	Currency string

	// Method is the payment method chosen by the user
	Method string

	// IdempotencyKey makes retried charges safe. Gateways must return the
	// original result for a repeated key instead of charging twice.
	IdempotencyKey string

	// Description appears on the payment statement
	Description string

	// Metadata is attached to the gateway transaction
	Metadata map[string]string
}

// ChargeResponse is the gateway's answer to a charge
type ChargeResponse struct {
	Success       bool
	TransactionID string
	Status        string
	FailureReason string
	FailureCode   string
	Metadata      map[string]string
}

// TransactionInfo describes a past gateway transaction
type TransactionInfo struct {
	TransactionID string
	Status        string
	AmountCents   int64
	Currency      string
	Method        string
	CreatedAt     string
	Metadata      map[string]string
}

// PaymentGateway abstracts the payment provider
type PaymentGateway interface {
	// Charge processes a payment. A declined payment is a successful call
	// with Success=false, not an error; errors mean the outcome is unknown.
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error)

	// Refund refunds part or all of a transaction
	Refund(ctx context.Context, transactionID string, amountCents int64) error

	// GetTransaction retrieves transaction details
	GetTransaction(ctx context.Context, transactionID string) (*TransactionInfo, error)

	// Name returns the gateway name
	Name() string
}

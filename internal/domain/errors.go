package domain

import "errors"

// Domain errors
var (
	// Cart errors
	ErrCartNotFound      = errors.New("cart not found")
	ErrCartExpired       = errors.New("cart has expired")
	ErrCartNotActive     = errors.New("cart is not active")
	ErrCartNotReserved   = errors.New("cart is not reserved")
	ErrCartEmpty         = errors.New("cart has no items")
	ErrIllegalTransition = errors.New("illegal cart status transition")
	ErrVersionConflict   = errors.New("cart was modified concurrently")
	ErrItemNotFound      = errors.New("cart item not found")
	ErrMaxItemsExceeded  = errors.New("maximum cart items exceeded")

	// Capacity errors
	ErrCapacityExceeded = errors.New("insufficient capacity available")
	ErrResourceFull     = errors.New("resource is full")

	// Pricing errors
	ErrPricingUnavailable   = errors.New("no pricing period is currently active")
	ErrPricingNotConfigured = errors.New("no price configured for this license type")
	ErrNegativePrice        = errors.New("computed price is negative")

	// Checkout errors
	ErrPaymentFailed      = errors.New("payment failed")
	ErrAlreadyRegistered  = errors.New("participant already registered")
	ErrRegistrationClosed = errors.New("registration is closed")

	// License errors
	ErrLicenseNotVerified = errors.New("license could not be verified")

	// Catalog errors
	ErrRaceNotFound   = errors.New("race not found")
	ErrOptionNotFound = errors.New("race option not found")
	ErrChoiceNotFound = errors.New("option choice not found")

	// Validation errors
	ErrInvalidCartID      = errors.New("invalid cart id")
	ErrInvalidUserID      = errors.New("invalid user id")
	ErrInvalidRaceID      = errors.New("invalid race id")
	ErrInvalidCartStatus  = errors.New("invalid cart status")
	ErrInvalidLicenseType = errors.New("invalid license type")
	ErrInvalidParticipant = errors.New("participant name is required")
	ErrInvalidOption      = errors.New("invalid option selection")
	ErrInvalidQuantity    = errors.New("quantity must be greater than zero")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrRaceNotFound) ||
		errors.Is(err, ErrOptionNotFound) ||
		errors.Is(err, ErrChoiceNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidCartID) ||
		errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidRaceID) ||
		errors.Is(err, ErrInvalidCartStatus) ||
		errors.Is(err, ErrInvalidLicenseType) ||
		errors.Is(err, ErrInvalidParticipant) ||
		errors.Is(err, ErrInvalidOption) ||
		errors.Is(err, ErrInvalidQuantity)
}

// IsCapacityError checks if the error is a capacity error
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrResourceFull)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrMaxItemsExceeded)
}

// IsPricingError checks if the error is a pricing configuration error
func IsPricingError(err error) bool {
	return errors.Is(err, ErrPricingUnavailable) ||
		errors.Is(err, ErrPricingNotConfigured)
}

// IsExpiredError checks if the error is an expiration error
func IsExpiredError(err error) bool {
	return errors.Is(err, ErrCartExpired)
}

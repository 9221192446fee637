package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired means the caller has no valid token and should sign in.
	ErrAuthRequired = errors.New("AUTH_REQUIRED")
	// ErrNetwork covers timeouts, 5xx responses and connectivity failures.
	ErrNetwork = errors.New("network error")
	// ErrValidation covers malformed input such as a bad quantity or ack id.
	ErrValidation = errors.New("validation error")
	// ErrConnectionExhausted is reported once the SSE retry budget is spent.
	ErrConnectionExhausted = errors.New("max reconnection attempts reached")

	ErrItemNotInCart = fmt.Errorf("%w: item not in cart", ErrValidation)
	ErrInvalidPromo  = fmt.Errorf("%w: invalid promo code", ErrValidation)
)

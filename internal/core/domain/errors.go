package domain

import "errors"

// Outcome taxonomy. Each maps to a distinct response class at the HTTP
// boundary; ErrDependency is never reinterpreted as ErrInsufficientStock
// and vice versa.
var (
	ErrBadRequest        = errors.New("bad request")
	ErrItemNotFound      = errors.New("item not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDependency        = errors.New("dependency error")
)

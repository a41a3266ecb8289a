package app

import "errors"

var (
	// ErrInvalidInput marks malformed or missing request fields. Wrapped
	// with field detail at each call site; always a client error.
	ErrInvalidInput = errors.New("invalid input")

	ErrBookNotFound = errors.New("book not found")
	ErrUserNotFound = errors.New("user not found")
	ErrLoanNotFound = errors.New("loan not found")

	// ErrBookNotAvailable is returned when an issue request loses the
	// availability gate, either because the book is already out or because
	// a concurrent issue won the race.
	ErrBookNotAvailable = errors.New("book not available")
	// ErrLoanAlreadyReturned indicates the loan is closed.
	ErrLoanAlreadyReturned = errors.New("loan already returned")

	ErrISBNExists  = errors.New("isbn already in catalog")
	ErrEmailExists = errors.New("email already registered")
)

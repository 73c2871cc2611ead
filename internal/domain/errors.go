package domain

import "errors"

// RecoverableError defines an interface for errors that have a documented
// fallback and must never fail the surrounding operation
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable checks if an error carries a fallback contract
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return false
}

// QuoteError wraps a failure of the external quote source. Always
// recoverable: callers fall back to a local value (symbol name, average
// cost) instead of propagating it.
type QuoteError struct {
	Op  string // Operation that failed (e.g., "quote", "profile")
	Err error  // Underlying error
}

func (e *QuoteError) Error() string {
	return "quote source " + e.Op + ": " + e.Err.Error()
}

func (e *QuoteError) IsRecoverable() bool {
	return true
}

func (e *QuoteError) Unwrap() error {
	return ErrQuoteUnavailable
}

// NewQuoteError wraps an upstream quote source failure
func NewQuoteError(op string, err error) *QuoteError {
	return &QuoteError{Op: op, Err: err}
}

// ValidationError reports malformed trade input (never recoverable)
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *ValidationError) IsRecoverable() bool {
	return false
}

// PersistenceError wraps a store read/write failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps a storage failure
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

var (
	// ErrInsufficientFunds is returned when a buy would drive the cash balance negative
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares is returned when a sell exceeds the held share count
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrPositionNotFound is returned when selling a symbol the user does not hold
	ErrPositionNotFound = errors.New("position not found")

	// ErrTransactionNotFound is returned when a transaction lookup misses
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrQuoteUnavailable is returned when the quote source fails. Recoverable:
	// callers must apply their documented fallback instead of failing the trade.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrLockTimeout is returned when a keyed lock cannot be acquired within the bounded wait
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrUpstreamUnavailable is returned when the market data connection has
	// exhausted its reconnect attempts and needs an explicit reconnect.
	ErrUpstreamUnavailable = errors.New("market data upstream unavailable")

	// ErrDuplicateWatchlistEntry is returned when a symbol is already on the watchlist
	ErrDuplicateWatchlistEntry = errors.New("symbol already in watchlist")

	// ErrWatchlistEntryNotFound is returned when removing a symbol not on the watchlist
	ErrWatchlistEntryNotFound = errors.New("symbol not found in watchlist")
)

package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ParseError represents a malformed inbound payload. The event is dropped
// and processing continues; a parse failure never takes a pane down.
type ParseError struct {
	Exchange string
	Err      error
}

func (e *ParseError) Error() string {
	return "parse error [" + e.Exchange + "]: " + e.Err.Error()
}

func (e *ParseError) IsRetriable() bool {
	return false
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError wraps a payload decoding failure
func NewParseError(exchange string, err error) *ParseError {
	return &ParseError{Exchange: exchange, Err: err}
}

// SequenceGapError represents a book-delta ordering violation. It is
// retriable: the reconstructor recovers by discarding state and resyncing
// from a fresh snapshot.
type SequenceGapError struct {
	Expected int64
	Got      int64
	Reason   string // "gap", "crossed", "overflow", "reset"
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap (%s): expected %d, got %d", e.Reason, e.Expected, e.Got)
}

func (e *SequenceGapError) IsRetriable() bool {
	return true
}

// NewCrossedBookError marks a post-apply best_bid >= best_ask violation.
// It is handled identically to a sequence gap.
func NewCrossedBookError(lastID int64) *SequenceGapError {
	return &SequenceGapError{Expected: lastID, Got: lastID, Reason: "crossed"}
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidTickSize is returned when a pane is configured with tick_size <= 0
	ErrInvalidTickSize = errors.New("tick size must be positive")

	// ErrEmptyTimeframes is returned when a pane is configured with no timeframes
	ErrEmptyTimeframes = errors.New("at least one timeframe is required")

	// ErrInvalidTimeframe is returned for an unsupported candle interval
	ErrInvalidTimeframe = errors.New("invalid timeframe")

	// ErrPaneNotFound is returned when a query names an unknown pane
	ErrPaneNotFound = errors.New("pane not found")

	// ErrSessionClosed is returned when an event is routed to an unsubscribed pane
	ErrSessionClosed = errors.New("session closed")

	// ErrNotSynced is returned while the order book has no consistent state yet
	ErrNotSynced = errors.New("order book not synced")
)

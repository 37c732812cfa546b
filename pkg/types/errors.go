// Package types holds sentinel error values and wire-level types shared
// across the core packages (events, provider, tooltypes) without those
// packages importing one another.
package types

import "github.com/pkg/errors"

// Sentinel errors checked with errors.Is/errors.As (the standard errors
// package) by callers, and wrapped with additional context via
// github.com/pkg/errors at the point they are returned.
var (
	// ErrStorage names the EventStore failure class (sqlite I/O, migration
	// failures, constraint violations). SQLiteEventStore does not wrap its
	// errors with ErrStorage, so errors.Is(err, ErrStorage) does not match
	// them.
	ErrStorage = errors.New("storage error")

	// ErrProviderTransport marks a ProviderAdapter failure that is safe to
	// retry (network errors, 5xx, rate limiting) per the one-retry policy.
	ErrProviderTransport = errors.New("provider transport error")

	// ErrProviderSemantic marks a ProviderAdapter failure that retrying
	// would not fix (malformed tool-call input, schema rejection).
	ErrProviderSemantic = errors.New("provider semantic error")

	// ErrBusy is returned when an operation is attempted against an Agent
	// that already has a turn in flight.
	ErrBusy = errors.New("busy with an in-progress turn")

	// ErrIterationLimit is returned when a turn's tool-call loop exceeds
	// its configured maximum without reaching completion.
	ErrIterationLimit = errors.New("exceeded maximum tool iterations for this turn")

	// ErrBudgetExceeded marks a context window that has grown past what a
	// provider can accept even after compaction.
	ErrBudgetExceeded = errors.New("token budget exceeded")
)

// Package analyzer defines the long-running workers of the gateway.
package analyzer

import (
	"context"
	"errors"
)

var (
	// ErrOutOfRange is returned if the next state version does not fall
	// within the analyzer's configured range.
	ErrOutOfRange = errors.New("state version out of configured range")

	// ErrNothingCommitted is returned if the ledger has not been extended
	// yet. This indicates to begin from the start of the ledger.
	ErrNothingCommitted = errors.New("no committed transactions")
)

// Analyzer is a worker that extends the indexed ledger.
type Analyzer interface {
	// Start starts the analyzer. It returns when ctx is cancelled, the
	// configured range is exhausted, or a fatal error occurs.
	Start(ctx context.Context)

	// Name returns the name of the analyzer.
	Name() string
}

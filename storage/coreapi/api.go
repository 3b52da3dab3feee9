// Package coreapi models the committed transaction stream served by a node's
// core API, and defines the interface through which the gateway reads it.
package coreapi

import (
	"context"
	"errors"
)

var (
	// ErrUnknownTransactionKind is returned for a ledger transaction whose
	// kind this gateway does not understand.
	ErrUnknownTransactionKind = errors.New("unknown transaction kind")

	// ErrUnknownSubstateKind is returned for a substate whose type this
	// gateway does not understand.
	ErrUnknownSubstateKind = errors.New("unknown substate kind")

	// ErrMalformedSubstate is returned when substate data does not decode
	// as its declared type.
	ErrMalformedSubstate = errors.New("malformed substate")
)

// TransactionSource provides the committed transaction stream of one node.
type TransactionSource interface {
	// Transactions returns up to limit committed transactions, in state
	// version order, starting at fromStateVersion. Fewer transactions are
	// returned when the node has not committed that many yet.
	Transactions(ctx context.Context, fromStateVersion int64, limit int) ([]CommittedTransaction, error)

	// LatestStateVersion returns the highest state version committed by the node.
	LatestStateVersion(ctx context.Context) (int64, error)

	// Close releases the resources held by the source.
	Close() error
}

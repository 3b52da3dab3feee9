package extension

import (
	"errors"

	"github.com/ledgerindex/gateway/storage/coreapi"
)

var (
	// ErrConcurrentDown is returned when a substate is already down. The
	// down was applied by another writer (or an earlier attempt) and the
	// caller skips it.
	ErrConcurrentDown = errors.New("substate already down")

	// ErrInvalidDownPosition is returned when a down would not come strictly
	// after the up of the same substate.
	ErrInvalidDownPosition = errors.New("substate down position not after up position")

	// ErrSubstateNotFound is returned when a non-virtual substate is downed
	// but was never upped.
	ErrSubstateNotFound = errors.New("substate not found")

	// ErrInconsistentLedger is returned when the input does not continue the
	// ledger stored in the database.
	ErrInconsistentLedger = errors.New("inconsistent ledger")

	// ErrEntityNotResolved is returned when an address that must exist has no
	// entity.
	ErrEntityNotResolved = errors.New("entity not resolved")
)

var fatalErrors = []error{
	ErrInvalidDownPosition,
	ErrSubstateNotFound,
	ErrInconsistentLedger,
	ErrEntityNotResolved,
	coreapi.ErrUnknownTransactionKind,
	coreapi.ErrUnknownSubstateKind,
	coreapi.ErrMalformedSubstate,
}

// IsFatal reports whether err means the input or the stored ledger is
// malformed. Retrying the same batch cannot succeed.
func IsFatal(err error) bool {
	for _, fatal := range fatalErrors {
		if errors.Is(err, fatal) {
			return true
		}
	}
	return false
}

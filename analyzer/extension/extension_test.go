package extension

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerindex/gateway/storage/coreapi"
)

func TestIsFatal(t *testing.T) {
	for _, err := range []error{
		ErrSubstateNotFound,
		ErrInvalidDownPosition,
		fmt.Errorf("batch 3: %w", ErrInconsistentLedger),
		fmt.Errorf("wrapped: %w", coreapi.ErrUnknownTransactionKind),
		coreapi.ErrUnknownSubstateKind,
	} {
		require.True(t, IsFatal(err), err.Error())
	}
	require.False(t, IsFatal(ErrConcurrentDown))
	require.False(t, IsFatal(fmt.Errorf("connection reset")))
	require.False(t, IsFatal(nil))
}

func TestSequencesAreIndependent(t *testing.T) {
	s := &Sequences{Entity: 10, KeyValueStoreEntryHistory: 200, KeyValueStoreAggregateHistory: 100, Substate: 1}

	require.Equal(t, int64(200), s.NextKeyValueStoreEntryHistory())
	require.Equal(t, int64(201), s.NextKeyValueStoreEntryHistory())
	require.Equal(t, int64(100), s.NextKeyValueStoreAggregateHistory())
	require.Equal(t, int64(10), s.NextEntity())
	require.Equal(t, int64(0), s.NextLedgerTransactionMarker())
	require.Equal(t, int64(1), s.NextSubstate())

	require.Equal(t, Sequences{
		Entity:                        11,
		KeyValueStoreEntryHistory:     202,
		KeyValueStoreAggregateHistory: 101,
		LedgerTransactionMarker:       1,
		Substate:                      2,
	}, *s)
}

func TestPositionAfter(t *testing.T) {
	p := Position{StateVersion: 5, GroupIndex: 0, IndexInGroup: 3}
	require.True(t, Position{StateVersion: 6}.After(p))
	require.True(t, Position{StateVersion: 5, IndexInGroup: 4}.After(p))
	require.True(t, Position{StateVersion: 5, GroupIndex: 1}.After(p))
	require.False(t, p.After(p))
	require.False(t, Position{StateVersion: 5, IndexInGroup: 2}.After(p))
	require.False(t, Position{StateVersion: 4, IndexInGroup: 9}.After(p))
}

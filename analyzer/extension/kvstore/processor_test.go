package kvstore

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

const storeAddress = "internal_keyvaluestore_tdx_1"

func entryID(k string) coreapi.SubstateID {
	return coreapi.SubstateID{
		EntityType:      coreapi.EntityInternalKeyValueStore,
		EntityAddress:   storeAddress,
		PartitionNumber: 64,
		SubstateType:    coreapi.SubstateGenericKeyValueStoreEntry,
		SubstateKey:     coreapi.SubstateKey{KeyType: coreapi.KeyTypeMap, KeyHex: hex.EncodeToString([]byte(k))},
	}
}

func entryUpsert(t *testing.T, k, value string) *coreapi.UpsertedSubstate {
	data, err := coreapi.NewSubstateData(coreapi.SubstateGenericKeyValueStoreEntry, false, nil, map[string]interface{}{
		"key":   map[string]interface{}{"key_hex": hex.EncodeToString([]byte(k))},
		"value": map[string]interface{}{"data": map[string]interface{}{"raw_hex": hex.EncodeToString([]byte(value))}},
	})
	require.NoError(t, err)
	return &coreapi.UpsertedSubstate{SubstateID: entryID(k), Value: coreapi.SubstateValue{SubstateData: data}}
}

func newStore(t *testing.T, pctx *extension.ProcessorContext) (*extension.ReferencedEntities, *extension.ReferencedEntity) {
	refs := extension.NewReferencedEntities()
	refs.ObserveAddress(storeAddress, 1)
	require.NoError(t, extension.NewEntityResolver(nil, log.NewDiscardLogger()).Resolve(context.Background(), pctx, refs))
	store, err := refs.MustGet(storeAddress)
	require.NoError(t, err)
	require.True(t, store.IsNew())
	return refs, store
}

func pos(sv int64) extension.Position {
	return extension.Position{StateVersion: sv}
}

func TestProcessorStoreCreatedInBatch(t *testing.T) {
	pctx := &extension.ProcessorContext{
		Sequences:   &extension.Sequences{Entity: 7, KeyValueStoreEntryHistory: 10, KeyValueStoreAggregateHistory: 10},
		Logger:      log.NewDiscardLogger(),
		EmptyLedger: true,
	}
	refs, store := newStore(t, pctx)
	p := NewProcessor(pctx, refs)

	k1v1, k2v1, k1v2 := entryUpsert(t, "k1", "a"), entryUpsert(t, "k2", "b"), entryUpsert(t, "k1", "c")
	k2 := entryID("k2")
	require.NoError(t, p.ScanUpsert(k1v1, 1))
	require.NoError(t, p.ScanUpsert(k2v1, 1))
	require.NoError(t, p.ScanUpsert(k1v2, 2))
	require.NoError(t, p.ScanDelete(&k2, 3))

	// A store created by this batch has nothing stored, so no query runs
	// against the nil transaction.
	require.NoError(t, p.LoadDependencies(context.Background()))
	require.Empty(t, p.mostRecentEntries)
	require.Empty(t, p.mostRecentAggregates)

	require.NoError(t, p.VisitUpsert(k1v1, store, pos(1), true))
	require.NoError(t, p.VisitUpsert(k2v1, store, pos(1), true))
	require.NoError(t, p.VisitUpsert(k1v2, store, pos(2), false))
	require.NoError(t, p.VisitDelete(&k2, store, pos(3)))
	require.NoError(t, p.ProcessChanges())

	require.Len(t, p.entriesToAdd, 4)
	for i, want := range []struct {
		sv      int64
		key     string
		value   []byte
		deleted bool
	}{
		{1, "k1", []byte("a"), false},
		{1, "k2", []byte("b"), false},
		{2, "k1", []byte("c"), false},
		{3, "k2", nil, true},
	} {
		e := p.entriesToAdd[i]
		require.Equal(t, int64(10+i), e.ID)
		require.Equal(t, want.sv, e.FromStateVersion)
		require.Equal(t, int64(7), e.StoreID)
		require.Equal(t, []byte(want.key), e.Key)
		require.Equal(t, want.value, e.Value)
		require.Equal(t, want.deleted, e.IsDeleted)
	}

	require.Equal(t, []aggregateSummary{
		{ID: 10, StateVersion: 1, Store: 7, Entries: []int64{10, 11}},
		{ID: 11, StateVersion: 2, Store: 7, Entries: []int64{11, 12}},
		{ID: 12, StateVersion: 3, Store: 7, Entries: []int64{12}},
	}, summarize(p.aggregatesToAdd))
}

func TestProcessorIgnoresOtherSubstates(t *testing.T) {
	pctx := &extension.ProcessorContext{
		Sequences:   &extension.Sequences{Entity: 1, KeyValueStoreEntryHistory: 1, KeyValueStoreAggregateHistory: 1},
		Logger:      log.NewDiscardLogger(),
		EmptyLedger: true,
	}
	refs, store := newStore(t, pctx)
	p := NewProcessor(pctx, refs)

	field := entryUpsert(t, "k1", "a")
	field.SubstateID.SubstateType = coreapi.SubstateTypeInfo
	require.NoError(t, p.ScanUpsert(field, 1))
	require.NoError(t, p.VisitUpsert(field, store, pos(1), true))
	require.NoError(t, p.ProcessChanges())

	require.Zero(t, p.lookups.Len())
	require.Empty(t, p.entriesToAdd)
	require.Empty(t, p.aggregatesToAdd)
}

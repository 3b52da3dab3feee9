// Package kvstore maintains the versioned history of key-value store
// entries, and per store an aggregate listing the live entries at every
// state version the store changed.
package kvstore

import (
	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/common/orderedmap"
)

// Change is one write to a key-value store. A nil Value removes the key.
type Change struct {
	StoreID      int64
	StateVersion int64
	Key          []byte
	Value        []byte
	IsLocked     bool
}

// IsTombstone reports whether the change removes the key.
func (c *Change) IsTombstone() bool {
	return c.Value == nil
}

// ChangeKey identifies the writes that collapse into one Change.
type ChangeKey struct {
	StoreID      int64
	StateVersion int64
	Key          string
}

// Lookup identifies one entry of one store across versions.
type Lookup struct {
	StoreID int64
	Key     string
}

// EntryHistory is one row of key_value_store_entry_history.
type EntryHistory struct {
	ID               int64
	FromStateVersion int64
	StoreID          int64
	Key              []byte
	Value            []byte
	IsDeleted        bool
	IsLocked         bool
}

// AggregateHistory is one row of key_value_store_aggregate_history: the ids
// of the live entries of a store as of FromStateVersion.
type AggregateHistory struct {
	ID               int64
	FromStateVersion int64
	StoreID          int64
	EntryIDs         []int64
}

type aggregateKey struct {
	storeID      int64
	stateVersion int64
}

// Aggregate turns ordered changes into new entry history rows and new
// aggregate history rows. Each aggregate is derived from the previous one
// of its store: the batch's own latest, else the stored one from
// mostRecentAggregates, else empty. The input maps are not modified.
func Aggregate(
	seq *extension.Sequences,
	changes *orderedmap.Map[ChangeKey, Change],
	mostRecentEntries map[Lookup]*EntryHistory,
	mostRecentAggregates map[int64]*AggregateHistory,
) (entries []*EntryHistory, aggregates []*AggregateHistory) {
	if changes.Len() == 0 {
		return nil, nil
	}
	latestEntry := make(map[Lookup]*EntryHistory)
	latestAggregate := make(map[int64]*AggregateHistory)
	byVersion := make(map[aggregateKey]*AggregateHistory)

	changes.Range(func(_ ChangeKey, c Change) bool {
		lookup := Lookup{StoreID: c.StoreID, Key: string(c.Key)}
		entry := &EntryHistory{
			ID:               seq.NextKeyValueStoreEntryHistory(),
			FromStateVersion: c.StateVersion,
			StoreID:          c.StoreID,
			Key:              c.Key,
			Value:            c.Value,
			IsDeleted:        c.IsTombstone(),
			IsLocked:         c.IsLocked,
		}
		entries = append(entries, entry)

		previous, ok := latestEntry[lookup]
		if !ok {
			previous = mostRecentEntries[lookup]
		}
		latestEntry[lookup] = entry

		ak := aggregateKey{storeID: c.StoreID, stateVersion: c.StateVersion}
		aggregate, ok := byVersion[ak]
		if !ok {
			base, ok := latestAggregate[c.StoreID]
			if !ok {
				base = mostRecentAggregates[c.StoreID]
			}
			aggregate = &AggregateHistory{
				ID:               seq.NextKeyValueStoreAggregateHistory(),
				FromStateVersion: c.StateVersion,
				StoreID:          c.StoreID,
			}
			if base != nil {
				aggregate.EntryIDs = append(make([]int64, 0, len(base.EntryIDs)+1), base.EntryIDs...)
			} else {
				aggregate.EntryIDs = []int64{}
			}
			byVersion[ak] = aggregate
			latestAggregate[c.StoreID] = aggregate
			aggregates = append(aggregates, aggregate)
		}

		if previous != nil {
			aggregate.EntryIDs = remove(aggregate.EntryIDs, previous.ID)
		}
		if !c.IsTombstone() {
			aggregate.EntryIDs = append(aggregate.EntryIDs, entry.ID)
		}
		return true
	})
	return entries, aggregates
}

func remove(ids []int64, id int64) []int64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

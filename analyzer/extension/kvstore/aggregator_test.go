package kvstore

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/common/orderedmap"
)

func key(n int) []byte {
	return []byte(fmt.Sprintf("k%d", n))
}

func set(store int64, sv int64, k int, value string) Change {
	return Change{StoreID: store, StateVersion: sv, Key: key(k), Value: []byte(value)}
}

func del(store int64, sv int64, k int) Change {
	return Change{StoreID: store, StateVersion: sv, Key: key(k)}
}

func prepare(changes ...Change) *orderedmap.Map[ChangeKey, Change] {
	m := orderedmap.New[ChangeKey, Change]()
	for _, c := range changes {
		m.Set(ChangeKey{StoreID: c.StoreID, StateVersion: c.StateVersion, Key: string(c.Key)}, c)
	}
	return m
}

func newSequences() *extension.Sequences {
	return &extension.Sequences{KeyValueStoreEntryHistory: 200, KeyValueStoreAggregateHistory: 100}
}

type aggregateSummary struct {
	ID, StateVersion, Store int64
	Entries                 []int64
}

func summarize(aggregates []*AggregateHistory) []aggregateSummary {
	out := make([]aggregateSummary, 0, len(aggregates))
	for _, a := range aggregates {
		out = append(out, aggregateSummary{ID: a.ID, StateVersion: a.FromStateVersion, Store: a.StoreID, Entries: a.EntryIDs})
	}
	return out
}

// seedTwoKeys is a store 10 holding k1 (entry 100) and k2 (entry 101) in aggregate 50.
func seedTwoKeys() (map[Lookup]*EntryHistory, map[int64]*AggregateHistory) {
	entries := map[Lookup]*EntryHistory{
		{StoreID: 10, Key: "k1"}: {ID: 100, FromStateVersion: 100, StoreID: 10, Key: key(1), Value: []byte("a")},
		{StoreID: 10, Key: "k2"}: {ID: 101, FromStateVersion: 100, StoreID: 10, Key: key(2), Value: []byte("b")},
	}
	aggregates := map[int64]*AggregateHistory{
		10: {ID: 50, FromStateVersion: 100, StoreID: 10, EntryIDs: []int64{100, 101}},
	}
	return entries, aggregates
}

func TestAggregateNoChanges(t *testing.T) {
	seq := newSequences()
	entries, aggregates := Aggregate(seq, prepare(), nil, nil)
	require.Empty(t, entries)
	require.Empty(t, aggregates)
	require.Equal(t, *newSequences(), *seq)
}

func TestAggregateNewStores(t *testing.T) {
	entries, aggregates := Aggregate(newSequences(), prepare(
		set(10, 100, 1, "a"),
		set(10, 100, 2, "b"),
		set(10, 100, 3, "c"),
		set(11, 100, 1, "d"),
		set(11, 100, 10, "e"),
		set(12, 110, 10, "f"),
	), map[Lookup]*EntryHistory{}, map[int64]*AggregateHistory{})

	require.Len(t, entries, 6)
	for i, e := range entries {
		require.Equal(t, int64(200+i), e.ID)
		require.False(t, e.IsDeleted)
	}
	require.Equal(t, []aggregateSummary{
		{ID: 100, StateVersion: 100, Store: 10, Entries: []int64{200, 201, 202}},
		{ID: 101, StateVersion: 100, Store: 11, Entries: []int64{203, 204}},
		{ID: 102, StateVersion: 110, Store: 12, Entries: []int64{205}},
	}, summarize(aggregates))
}

func TestAggregateDeleteExistingKey(t *testing.T) {
	seedEntries, seedAggregates := seedTwoKeys()
	entries, aggregates := Aggregate(newSequences(), prepare(del(10, 200, 1)), seedEntries, seedAggregates)

	require.Len(t, entries, 1)
	require.Equal(t, &EntryHistory{ID: 200, FromStateVersion: 200, StoreID: 10, Key: key(1), IsDeleted: true}, entries[0])
	require.Equal(t, []aggregateSummary{
		{ID: 100, StateVersion: 200, Store: 10, Entries: []int64{101}},
	}, summarize(aggregates))

	// The stored aggregate is shared, not modified.
	require.Equal(t, []int64{100, 101}, seedAggregates[10].EntryIDs)
}

func TestAggregateDeleteAndRecreate(t *testing.T) {
	seedEntries, seedAggregates := seedTwoKeys()
	entries, aggregates := Aggregate(newSequences(), prepare(
		del(10, 200, 1),
		set(10, 250, 1, "x"),
		del(10, 300, 1),
		set(10, 350, 1, "y"),
	), seedEntries, seedAggregates)

	require.Len(t, entries, 4)
	require.True(t, entries[0].IsDeleted)
	require.Equal(t, []byte("x"), entries[1].Value)
	require.True(t, entries[2].IsDeleted)
	require.Nil(t, entries[2].Value)
	require.Equal(t, []aggregateSummary{
		{ID: 100, StateVersion: 200, Store: 10, Entries: []int64{101}},
		{ID: 101, StateVersion: 250, Store: 10, Entries: []int64{101, 201}},
		{ID: 102, StateVersion: 300, Store: 10, Entries: []int64{101}},
		{ID: 103, StateVersion: 350, Store: 10, Entries: []int64{101, 203}},
	}, summarize(aggregates))
}

func TestAggregateTwoContainers(t *testing.T) {
	_, aggregates := Aggregate(newSequences(), prepare(
		set(1, 5, 1, "a"),
		set(2, 5, 1, "b"),
		set(1, 6, 2, "c"),
	), nil, nil)

	require.Equal(t, []aggregateSummary{
		{ID: 100, StateVersion: 5, Store: 1, Entries: []int64{200}},
		{ID: 101, StateVersion: 5, Store: 2, Entries: []int64{201}},
		{ID: 102, StateVersion: 6, Store: 1, Entries: []int64{200, 202}},
	}, summarize(aggregates))
}

func TestAggregateCombined(t *testing.T) {
	seedEntries, seedAggregates := seedTwoKeys()
	entries, aggregates := Aggregate(newSequences(), prepare(
		set(20, 100, 1, "a"),
		set(20, 100, 2, "b"),
		set(20, 100, 3, "c"),
		set(21, 100, 1, "d"),
		set(21, 100, 10, "e"),
		set(22, 110, 10, "f"),
		set(20, 200, 6, "g"),
		set(32, 200, 367, "h"),

		del(10, 200, 1),
		set(10, 250, 1, "11"),
		del(10, 300, 1),
		set(10, 350, 1, "12"),
		del(10, 400, 1),
		del(10, 400, 2),
		set(10, 401, 1, "13"),
	), seedEntries, seedAggregates)

	require.Len(t, entries, 15)
	require.Equal(t, int64(214), entries[14].ID)
	require.Equal(t, []aggregateSummary{
		{ID: 100, StateVersion: 100, Store: 20, Entries: []int64{200, 201, 202}},
		{ID: 101, StateVersion: 100, Store: 21, Entries: []int64{203, 204}},
		{ID: 102, StateVersion: 110, Store: 22, Entries: []int64{205}},
		{ID: 103, StateVersion: 200, Store: 20, Entries: []int64{200, 201, 202, 206}},
		{ID: 104, StateVersion: 200, Store: 32, Entries: []int64{207}},
		{ID: 105, StateVersion: 200, Store: 10, Entries: []int64{101}},
		{ID: 106, StateVersion: 250, Store: 10, Entries: []int64{101, 209}},
		{ID: 107, StateVersion: 300, Store: 10, Entries: []int64{101}},
		{ID: 108, StateVersion: 350, Store: 10, Entries: []int64{101, 211}},
		{ID: 109, StateVersion: 400, Store: 10, Entries: []int64{}},
		{ID: 110, StateVersion: 401, Store: 10, Entries: []int64{214}},
	}, summarize(aggregates))
}

func TestAggregateCollapsesSameVersionWrites(t *testing.T) {
	entries, aggregates := Aggregate(newSequences(), prepare(
		set(1, 5, 1, "first"),
		set(1, 5, 2, "other"),
		set(1, 5, 1, "last"),
	), nil, nil)

	require.Len(t, entries, 2)
	require.Equal(t, key(1), entries[0].Key)
	require.Equal(t, []byte("last"), entries[0].Value)
	require.Equal(t, []aggregateSummary{
		{ID: 100, StateVersion: 5, Store: 1, Entries: []int64{200, 201}},
	}, summarize(aggregates))
}

func TestAggregateIsDeterministic(t *testing.T) {
	changes := prepare(set(1, 5, 1, "a"), del(1, 6, 1), set(2, 6, 3, "b"))
	e1, a1 := Aggregate(newSequences(), changes, nil, nil)
	e2, a2 := Aggregate(newSequences(), changes, nil, nil)
	require.Equal(t, e1, e2)
	require.Equal(t, a1, a2)
}

// liveAt computes, by brute force over all entries written so far, the live
// entry ids of store as of stateVersion.
func liveAt(entries []*EntryHistory, store int64, stateVersion int64) []int64 {
	latest := map[string]*EntryHistory{}
	for _, e := range entries {
		if e.StoreID != store || e.FromStateVersion > stateVersion {
			continue
		}
		if prev, ok := latest[string(e.Key)]; !ok || e.ID > prev.ID {
			latest[string(e.Key)] = e
		}
	}
	live := []int64{}
	for _, e := range latest {
		if !e.IsDeleted {
			live = append(live, e.ID)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })
	return live
}

func sorted(ids []int64) []int64 {
	out := append([]int64{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func drawChanges(t *rapid.T) []Change {
	n := rapid.IntRange(0, 40).Draw(t, "n").(int)
	changes := make([]Change, 0, n)
	sv := int64(1)
	for i := 0; i < n; i++ {
		sv += int64(rapid.IntRange(0, 2).Draw(t, "advance").(int))
		store := int64(rapid.IntRange(1, 3).Draw(t, "store").(int))
		k := rapid.IntRange(0, 4).Draw(t, "key").(int)
		if rapid.Bool().Draw(t, "tombstone").(bool) {
			changes = append(changes, del(store, sv, k))
		} else {
			changes = append(changes, set(store, sv, k, fmt.Sprintf("v%d", i)))
		}
	}
	return changes
}

func TestAggregateMatchesBruteForce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		changes := drawChanges(t)
		entries, aggregates := Aggregate(newSequences(), prepare(changes...), nil, nil)

		for _, a := range aggregates {
			expected := liveAt(entries, a.StoreID, a.FromStateVersion)
			if got := sorted(a.EntryIDs); fmt.Sprint(got) != fmt.Sprint(expected) {
				t.Fatalf("store %d at %d: got %v, want %v", a.StoreID, a.FromStateVersion, got, expected)
			}
		}
	})
}

func TestAggregateSplitBatchesMatchSingleBatch(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		changes := drawChanges(t)
		split := rapid.IntRange(0, len(changes)).Draw(t, "split").(int)
		// Same-version writes never straddle batches.
		for split > 0 && split < len(changes) && changes[split].StateVersion == changes[split-1].StateVersion {
			split--
		}

		_, whole := Aggregate(newSequences(), prepare(changes...), nil, nil)

		seq := newSequences()
		firstEntries, firstAggregates := Aggregate(seq, prepare(changes[:split]...), nil, nil)
		storedEntries := map[Lookup]*EntryHistory{}
		for _, e := range firstEntries {
			storedEntries[Lookup{StoreID: e.StoreID, Key: string(e.Key)}] = e
		}
		storedAggregates := map[int64]*AggregateHistory{}
		for _, a := range firstAggregates {
			storedAggregates[a.StoreID] = a
		}
		_, secondAggregates := Aggregate(seq, prepare(changes[split:]...), storedEntries, storedAggregates)

		parts := append(firstAggregates, secondAggregates...)
		if len(parts) != len(whole) {
			t.Fatalf("got %d aggregates across batches, want %d", len(parts), len(whole))
		}
		for i := range whole {
			if fmt.Sprint(summarize(parts[i:i+1])) != fmt.Sprint(summarize(whole[i:i+1])) {
				t.Fatalf("aggregate %d differs: %v vs %v", i, summarize(parts[i:i+1]), summarize(whole[i:i+1]))
			}
		}
	})
}

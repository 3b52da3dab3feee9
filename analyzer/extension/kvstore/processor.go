package kvstore

import (
	"context"
	"fmt"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/analyzer/queries"
	"github.com/ledgerindex/gateway/common/orderedmap"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

var (
	entryColumns = []string{
		"id", "from_state_version", "key_value_store_entity_id", "key", "value", "is_deleted", "is_locked",
	}
	aggregateColumns = []string{
		"id", "from_state_version", "key_value_store_entity_id", "entry_ids",
	}
)

type addressLookup struct {
	address string
	key     string
}

// Processor maintains the key-value store entry and aggregate histories.
type Processor struct {
	pctx   *extension.ProcessorContext
	refs   *extension.ReferencedEntities
	logger *log.Logger

	lookups *orderedmap.Map[addressLookup, struct{}]
	changes *orderedmap.Map[ChangeKey, Change]

	mostRecentEntries    map[Lookup]*EntryHistory
	mostRecentAggregates map[int64]*AggregateHistory

	entriesToAdd    []*EntryHistory
	aggregatesToAdd []*AggregateHistory
}

var (
	_ extension.Processor       = (*Processor)(nil)
	_ extension.SubstateScanner = (*Processor)(nil)
	_ extension.UpsertVisitor   = (*Processor)(nil)
	_ extension.DeleteVisitor   = (*Processor)(nil)
)

func NewProcessor(pctx *extension.ProcessorContext, refs *extension.ReferencedEntities) *Processor {
	return &Processor{
		pctx:                 pctx,
		refs:                 refs,
		logger:               pctx.Logger.WithModule("kvstore_processor"),
		lookups:              orderedmap.New[addressLookup, struct{}](),
		changes:              orderedmap.New[ChangeKey, Change](),
		mostRecentEntries:    make(map[Lookup]*EntryHistory),
		mostRecentAggregates: make(map[int64]*AggregateHistory),
	}
}

func isEntry(id *coreapi.SubstateID) bool {
	return id.SubstateType == coreapi.SubstateGenericKeyValueStoreEntry
}

func (p *Processor) scan(id *coreapi.SubstateID) error {
	if !isEntry(id) {
		return nil
	}
	key, err := id.KeyBytes()
	if err != nil {
		return err
	}
	p.lookups.GetOrAdd(addressLookup{address: id.EntityAddress, key: string(key)}, func(addressLookup) struct{} { return struct{}{} })
	return nil
}

func (p *Processor) ScanUpsert(s *coreapi.UpsertedSubstate, _ int64) error {
	return p.scan(&s.SubstateID)
}

func (p *Processor) ScanDelete(id *coreapi.SubstateID, _ int64) error {
	return p.scan(id)
}

// LoadDependencies reads the latest stored entry of every touched key and
// the latest stored aggregate of every touched store. Stores created by
// this batch have nothing stored.
func (p *Processor) LoadDependencies(ctx context.Context) error {
	var (
		storeIDs []int64
		keys     [][]byte
	)
	seenStores := make(map[int64]struct{})
	for _, l := range p.lookups.Keys() {
		store, err := p.refs.MustGet(l.address)
		if err != nil {
			return err
		}
		if store.IsNew() {
			continue
		}
		storeIDs = append(storeIDs, store.ID())
		keys = append(keys, []byte(l.key))
		seenStores[store.ID()] = struct{}{}
	}
	if len(storeIDs) == 0 {
		return nil
	}

	rows, err := p.pctx.Tx.Query(ctx, queries.MostRecentKeyValueStoreEntries, storeIDs, keys)
	if err != nil {
		return fmt.Errorf("querying key-value store entries: %w", err)
	}
	for rows.Next() {
		var e EntryHistory
		if err = rows.Scan(&e.ID, &e.FromStateVersion, &e.StoreID, &e.Key, &e.Value, &e.IsDeleted, &e.IsLocked); err != nil {
			rows.Close()
			return fmt.Errorf("scanning key-value store entry: %w", err)
		}
		p.mostRecentEntries[Lookup{StoreID: e.StoreID, Key: string(e.Key)}] = &e
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return err
	}

	stores := make([]int64, 0, len(seenStores))
	for id := range seenStores {
		stores = append(stores, id)
	}
	sql, args, err := queries.SelectMostRecentAggregates(stores)
	if err != nil {
		return err
	}
	rows, err = p.pctx.Tx.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("querying key-value store aggregates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a AggregateHistory
		if err = rows.Scan(&a.ID, &a.FromStateVersion, &a.StoreID, &a.EntryIDs); err != nil {
			return fmt.Errorf("scanning key-value store aggregate: %w", err)
		}
		p.mostRecentAggregates[a.StoreID] = &a
	}
	return rows.Err()
}

func (p *Processor) record(c Change) {
	p.changes.Set(ChangeKey{StoreID: c.StoreID, StateVersion: c.StateVersion, Key: string(c.Key)}, c)
}

func (p *Processor) VisitUpsert(s *coreapi.UpsertedSubstate, store *extension.ReferencedEntity, pos extension.Position, _ bool) error {
	if !isEntry(&s.SubstateID) {
		return nil
	}
	key, err := s.SubstateID.KeyBytes()
	if err != nil {
		return err
	}
	entry, err := s.Value.SubstateData.KeyValueStoreEntry()
	if err != nil {
		return err
	}
	value, err := entry.ValueBytes()
	if err != nil {
		return err
	}
	p.record(Change{
		StoreID:      store.ID(),
		StateVersion: pos.StateVersion,
		Key:          key,
		Value:        value,
		IsLocked:     entry.IsLocked,
	})
	return nil
}

func (p *Processor) VisitDelete(id *coreapi.SubstateID, store *extension.ReferencedEntity, pos extension.Position) error {
	if !isEntry(id) {
		return nil
	}
	key, err := id.KeyBytes()
	if err != nil {
		return err
	}
	p.record(Change{StoreID: store.ID(), StateVersion: pos.StateVersion, Key: key})
	return nil
}

func (p *Processor) ProcessChanges() error {
	p.entriesToAdd, p.aggregatesToAdd = Aggregate(p.pctx.Sequences, p.changes, p.mostRecentEntries, p.mostRecentAggregates)
	p.logger.Debug("aggregated key-value store changes",
		"changes", p.changes.Len(),
		"entries", len(p.entriesToAdd),
		"aggregates", len(p.aggregatesToAdd),
	)
	return nil
}

func (p *Processor) SaveEntities(ctx context.Context) (int, error) {
	entries := make([][]interface{}, 0, len(p.entriesToAdd))
	for _, e := range p.entriesToAdd {
		entries = append(entries, []interface{}{e.ID, e.FromStateVersion, e.StoreID, e.Key, e.Value, e.IsDeleted, e.IsLocked})
	}
	n, err := p.pctx.CopyRows(ctx, "key_value_store_entry_history", entryColumns, entries)
	if err != nil {
		return 0, err
	}

	aggregates := make([][]interface{}, 0, len(p.aggregatesToAdd))
	for _, a := range p.aggregatesToAdd {
		aggregates = append(aggregates, []interface{}{a.ID, a.FromStateVersion, a.StoreID, a.EntryIDs})
	}
	m, err := p.pctx.CopyRows(ctx, "key_value_store_aggregate_history", aggregateColumns, aggregates)
	if err != nil {
		return 0, err
	}
	return n + m, nil
}

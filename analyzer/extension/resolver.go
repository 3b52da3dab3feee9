package extension

import (
	"context"
	"fmt"

	"github.com/ledgerindex/gateway/analyzer/queries"
	"github.com/ledgerindex/gateway/cache/kvstore"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

// Entities never change once written, so a cached copy stays valid for as
// long as the database is not wiped.
type storedEntity struct {
	ID               int64
	FromStateVersion int64
	Type             coreapi.EntityType
	IsGlobal         bool
	ParentID         *int64
	GlobalAncestorID *int64
	OuterObjectID    *int64
}

// EntityResolver assigns database ids to the batch's referenced entities.
type EntityResolver struct {
	cache  kvstore.KVStore
	logger *log.Logger
}

// NewEntityResolver creates a resolver. cache may be nil.
func NewEntityResolver(cache kvstore.KVStore, logger *log.Logger) *EntityResolver {
	return &EntityResolver{cache: cache, logger: logger.WithModule("entity_resolver")}
}

func entityCacheKey(address string) kvstore.CacheKey {
	return kvstore.GenerateCacheKey("entity", address)
}

func (e *ReferencedEntity) applyStored(s *storedEntity) {
	e.FromStateVersion = s.FromStateVersion
	e.Type = s.Type
	e.IsGlobal = s.IsGlobal
	e.resolve(s.ID, s.ParentID, s.GlobalAncestorID, s.OuterObjectID)
}

// Resolve looks up existing entities (cache first, then the database) and
// creates the observed entities that do not exist yet. Mentioned-only
// addresses without an entity stay unresolved.
func (r *EntityResolver) Resolve(ctx context.Context, pctx *ProcessorContext, refs *ReferencedEntities) error {
	var missing []string
	for _, e := range refs.All() {
		if r.cache != nil {
			stored, ok, err := kvstore.Get[storedEntity](r.cache, entityCacheKey(e.Address))
			switch {
			case err != nil:
				r.logger.Warn("ignoring unreadable cached entity", "address", e.Address, "err", err)
			case ok:
				e.applyStored(stored)
				continue
			}
		}
		missing = append(missing, e.Address)
	}

	if !pctx.EmptyLedger {
		if err := r.loadExisting(ctx, pctx, refs, missing); err != nil {
			return err
		}
	}

	created, err := r.createObserved(pctx.Sequences, refs)
	if err != nil {
		return err
	}
	r.logger.Debug("resolved entities", "referenced", refs.Len(), "created", len(created), "queried", len(missing))
	return nil
}

// createObserved assigns ids to the observed entities that do not exist
// yet, in first-reference order, and links them to their parent, global
// ancestor and outer object.
func (r *EntityResolver) createObserved(seq *Sequences, refs *ReferencedEntities) ([]*ReferencedEntity, error) {
	for _, e := range refs.All() {
		if e.resolved || !e.observed {
			continue
		}
		e.isNew = true
		e.id = seq.NextEntity()
		e.resolved = true
	}

	created := refs.NewEntities()
	for _, e := range created {
		if parent, ok := refs.parents[e.Address]; ok {
			p, err := refs.MustGet(parent)
			if err != nil {
				return nil, fmt.Errorf("parent of %s: %w", e.Address, err)
			}
			id := p.ID()
			e.parentID = &id
		}
		if outer, ok := refs.outerObjects[e.Address]; ok {
			o, err := refs.MustGet(outer)
			if err != nil {
				return nil, fmt.Errorf("outer object of %s: %w", e.Address, err)
			}
			id := o.ID()
			e.outerObjectID = &id
		}
	}
	for _, e := range created {
		if _, err := r.globalAncestor(refs, e, 0); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// Ownership chains are shallow; anything deeper is a cycle.
const maxOwnershipDepth = 64

// globalAncestor computes (and records on new entities) the closest global
// ancestor of e.
func (r *EntityResolver) globalAncestor(refs *ReferencedEntities, e *ReferencedEntity, depth int) (*int64, error) {
	if !e.isNew || e.IsGlobal || e.globalAncestorID != nil {
		return e.globalAncestorID, nil
	}
	if depth > maxOwnershipDepth {
		return nil, fmt.Errorf("%w: ownership cycle at %s", ErrInconsistentLedger, e.Address)
	}
	parentAddress, ok := refs.parents[e.Address]
	if !ok {
		return nil, nil
	}
	parent, err := refs.MustGet(parentAddress)
	if err != nil {
		return nil, err
	}
	if parent.IsGlobal {
		id := parent.ID()
		e.globalAncestorID = &id
		return e.globalAncestorID, nil
	}
	ancestor, err := r.globalAncestor(refs, parent, depth+1)
	if err != nil {
		return nil, err
	}
	e.globalAncestorID = ancestor
	return ancestor, nil
}

func (r *EntityResolver) loadExisting(ctx context.Context, pctx *ProcessorContext, refs *ReferencedEntities, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	sql, args, err := queries.SelectEntitiesByAddress(addresses)
	if err != nil {
		return err
	}
	rows, err := pctx.Tx.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			stored  storedEntity
			address string
		)
		if err = rows.Scan(
			&stored.ID,
			&stored.FromStateVersion,
			&address,
			&stored.Type,
			&stored.IsGlobal,
			&stored.ParentID,
			&stored.GlobalAncestorID,
			&stored.OuterObjectID,
		); err != nil {
			return fmt.Errorf("scanning entity: %w", err)
		}
		e, ok := refs.Get(address)
		if !ok {
			return fmt.Errorf("database returned unrequested entity %s", address)
		}
		e.applyStored(&stored)
		if r.cache != nil {
			if err = kvstore.Put(r.cache, entityCacheKey(address), stored); err != nil {
				r.logger.Warn("failed to cache entity", "address", address, "err", err)
			}
		}
	}
	return rows.Err()
}

// SaveNewEntities writes the entities created by the batch.
func SaveNewEntities(ctx context.Context, pctx *ProcessorContext, refs *ReferencedEntities) (int, error) {
	created := refs.NewEntities()
	rows := make([][]interface{}, 0, len(created))
	for _, e := range created {
		rows = append(rows, e.entityRow())
	}
	return pctx.CopyRows(ctx, "entities", queries.EntityColumns, rows)
}

package extension

import (
	"fmt"

	"github.com/ledgerindex/gateway/common/orderedmap"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

// ReferencedEntity is an entity touched by the batch. Its database id is
// known only after the batch's entities are resolved.
type ReferencedEntity struct {
	Address          string
	Type             coreapi.EntityType
	IsGlobal         bool
	FromStateVersion int64

	// observed entities appear in state updates or events and are created
	// when missing; the others were only mentioned (e.g. in a manifest).
	observed bool
	resolved bool
	isNew    bool

	id               int64
	parentID         *int64
	globalAncestorID *int64
	outerObjectID    *int64
}

// IsResolved reports whether the entity has a database id.
func (e *ReferencedEntity) IsResolved() bool {
	return e.resolved
}

// IsNew reports whether the entity is created by this batch.
func (e *ReferencedEntity) IsNew() bool {
	return e.isNew
}

// ID returns the database id. It panics before resolution.
func (e *ReferencedEntity) ID() int64 {
	if !e.resolved {
		panic(fmt.Sprintf("entity %s used before resolution", e.Address))
	}
	return e.id
}

// GlobalAncestorID returns the closest global ancestor, if known.
func (e *ReferencedEntity) GlobalAncestorID() (int64, bool) {
	if e.globalAncestorID == nil {
		return 0, false
	}
	return *e.globalAncestorID, true
}

// OuterObjectID returns the outer object (for vaults, the resource), if known.
func (e *ReferencedEntity) OuterObjectID() (int64, bool) {
	if e.outerObjectID == nil {
		return 0, false
	}
	return *e.outerObjectID, true
}

// AffectedGlobalEntityID is the entity itself when global, else its global
// ancestor.
func (e *ReferencedEntity) AffectedGlobalEntityID() (int64, bool) {
	if e.IsGlobal {
		return e.ID(), true
	}
	return e.GlobalAncestorID()
}

func (e *ReferencedEntity) resolve(id int64, parentID, globalAncestorID, outerObjectID *int64) {
	e.id = id
	e.parentID = parentID
	e.globalAncestorID = globalAncestorID
	e.outerObjectID = outerObjectID
	e.resolved = true
}

// entityRow renders the entity in queries.EntityColumns order.
func (e *ReferencedEntity) entityRow() []interface{} {
	return []interface{}{
		e.id, e.FromStateVersion, e.Address, string(e.Type), e.IsGlobal,
		e.parentID, e.globalAncestorID, e.outerObjectID,
	}
}

// ReferencedEntities is the batch-scoped address to entity dictionary.
type ReferencedEntities struct {
	entities *orderedmap.Map[string, *ReferencedEntity]

	parents      map[string]string
	outerObjects map[string]string
}

func NewReferencedEntities() *ReferencedEntities {
	return &ReferencedEntities{
		entities:     orderedmap.New[string, *ReferencedEntity](),
		parents:      make(map[string]string),
		outerObjects: make(map[string]string),
	}
}

func (r *ReferencedEntities) getOrAdd(ref coreapi.EntityReference, stateVersion int64) *ReferencedEntity {
	e, _ := r.entities.GetOrAdd(ref.EntityAddress, func(address string) *ReferencedEntity {
		return &ReferencedEntity{
			Address:          address,
			Type:             ref.EntityType,
			IsGlobal:         ref.IsGlobal || ref.EntityType.IsGlobal(),
			FromStateVersion: stateVersion,
		}
	})
	if e.Type == coreapi.EntityUnknown && ref.EntityType != coreapi.EntityUnknown {
		e.Type = ref.EntityType
		e.IsGlobal = e.IsGlobal || ref.EntityType.IsGlobal()
	}
	return e
}

// Observe records an entity that takes part in the batch's state changes.
func (r *ReferencedEntities) Observe(ref coreapi.EntityReference, stateVersion int64) *ReferencedEntity {
	e := r.getOrAdd(ref, stateVersion)
	e.observed = true
	return e
}

// ObserveAddress is Observe for an address whose type is inferred.
func (r *ReferencedEntities) ObserveAddress(address string, stateVersion int64) *ReferencedEntity {
	return r.Observe(referenceFromAddress(address), stateVersion)
}

// Mention records an address that is only resolved if it already exists or
// is observed elsewhere in the batch.
func (r *ReferencedEntities) Mention(address string, stateVersion int64) *ReferencedEntity {
	return r.getOrAdd(referenceFromAddress(address), stateVersion)
}

func referenceFromAddress(address string) coreapi.EntityReference {
	kind := coreapi.AddressKind(address)
	return coreapi.EntityReference{EntityType: kind, IsGlobal: kind.IsGlobal(), EntityAddress: address}
}

// SetParent records that child is owned by parent.
func (r *ReferencedEntities) SetParent(child, parent string) {
	r.parents[child] = parent
}

// SetOuterObject records the outer object of an inner object.
func (r *ReferencedEntities) SetOuterObject(entity, outer string) {
	r.outerObjects[entity] = outer
}

// Get returns the entity for address, resolved or not.
func (r *ReferencedEntities) Get(address string) (*ReferencedEntity, bool) {
	return r.entities.Get(address)
}

// GetResolved returns the entity for address if it has a database id.
func (r *ReferencedEntities) GetResolved(address string) (*ReferencedEntity, bool) {
	e, ok := r.entities.Get(address)
	if !ok || !e.resolved {
		return nil, false
	}
	return e, true
}

// MustGet returns the resolved entity for address.
func (r *ReferencedEntities) MustGet(address string) (*ReferencedEntity, error) {
	e, ok := r.GetResolved(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotResolved, address)
	}
	return e, nil
}

// All returns every entity in first-reference order.
func (r *ReferencedEntities) All() []*ReferencedEntity {
	return r.entities.Values()
}

// Len returns the number of distinct addresses referenced.
func (r *ReferencedEntities) Len() int {
	return r.entities.Len()
}

// NewEntities returns the entities created by the batch, in id order.
func (r *ReferencedEntities) NewEntities() []*ReferencedEntity {
	var created []*ReferencedEntity
	for _, e := range r.entities.Values() {
		if e.isNew {
			created = append(created, e)
		}
	}
	return created
}

// ScanTransaction observes every entity a transaction's receipt touches.
func (r *ReferencedEntities) ScanTransaction(tx *coreapi.CommittedTransaction) error {
	sv := tx.StateVersion()
	updates := &tx.Receipt.StateUpdates

	for _, ref := range updates.NewGlobalEntities {
		r.Observe(ref, sv)
	}
	for _, group := range [][]coreapi.UpsertedSubstate{updates.CreatedSubstates, updates.UpdatedSubstates} {
		for i := range group {
			if err := r.scanUpsert(&group[i], sv); err != nil {
				return err
			}
		}
	}
	for i := range updates.DeletedSubstates {
		r.Observe(updates.DeletedSubstates[i].SubstateID.EntityReference(), sv)
	}
	for i := range tx.Receipt.Events {
		emitter := &tx.Receipt.Events[i].Type.Emitter
		switch emitter.Type {
		case coreapi.EmitterMethod:
			if emitter.Entity == nil {
				return fmt.Errorf("state version %d: method event emitter without entity", sv)
			}
			r.Observe(*emitter.Entity, sv)
		case coreapi.EmitterFunction:
			r.ObserveAddress(emitter.PackageAddress, sv)
		default:
			return fmt.Errorf("state version %d: unknown event emitter type %q", sv, emitter.Type)
		}
	}
	return nil
}

func (r *ReferencedEntities) scanUpsert(s *coreapi.UpsertedSubstate, sv int64) error {
	if !s.SubstateID.SubstateType.IsKnown() {
		return fmt.Errorf("%w: %q at state version %d", coreapi.ErrUnknownSubstateKind, s.SubstateID.SubstateType, sv)
	}
	owner := r.Observe(s.SubstateID.EntityReference(), sv)
	for _, owned := range s.Value.SubstateData.OwnedEntities {
		r.Observe(owned, sv)
		r.SetParent(owned.EntityAddress, owner.Address)
	}
	if s.SubstateID.SubstateType == coreapi.SubstateTypeInfo {
		info, err := s.Value.SubstateData.TypeInfo()
		if err != nil {
			return fmt.Errorf("state version %d: %w", sv, err)
		}
		if info.Details.OuterObject != "" {
			r.ObserveAddress(info.Details.OuterObject, sv)
			r.SetOuterObject(owner.Address, info.Details.OuterObject)
		}
	}
	return nil
}

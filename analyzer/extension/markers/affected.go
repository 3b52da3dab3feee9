package markers

import (
	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/common/orderedmap"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

// entitiesByVersion collects distinct entity ids per state version, both in
// first-seen order.
type entitiesByVersion struct {
	m *orderedmap.Map[int64, *orderedmap.Map[int64, struct{}]]
}

func newEntitiesByVersion() entitiesByVersion {
	return entitiesByVersion{m: orderedmap.New[int64, *orderedmap.Map[int64, struct{}]]()}
}

func (e entitiesByVersion) add(stateVersion int64, entityID int64) {
	ids, _ := e.m.GetOrAdd(stateVersion, func(int64) *orderedmap.Map[int64, struct{}] {
		return orderedmap.New[int64, struct{}]()
	})
	ids.GetOrAdd(entityID, func(int64) struct{} { return struct{}{} })
}

func (e entitiesByVersion) get(stateVersion int64) []int64 {
	ids, ok := e.m.Get(stateVersion)
	if !ok {
		return nil
	}
	return ids.Keys()
}

// AffectedGlobalEntities tracks, per transaction, the global entities whose
// substates (or whose inner objects' substates) changed.
type AffectedGlobalEntities struct {
	affected entitiesByVersion
}

var (
	_ extension.UpsertVisitor = (*AffectedGlobalEntities)(nil)
	_ extension.DeleteVisitor = (*AffectedGlobalEntities)(nil)
)

func NewAffectedGlobalEntities() *AffectedGlobalEntities {
	return &AffectedGlobalEntities{affected: newEntitiesByVersion()}
}

func (a *AffectedGlobalEntities) visit(entity *extension.ReferencedEntity, stateVersion int64) {
	// Inner objects without a global ancestor (e.g. key-value stores created
	// detached) affect no global entity.
	if id, ok := entity.AffectedGlobalEntityID(); ok {
		a.affected.add(stateVersion, id)
	}
}

func (a *AffectedGlobalEntities) VisitUpsert(_ *coreapi.UpsertedSubstate, entity *extension.ReferencedEntity, pos extension.Position, _ bool) error {
	a.visit(entity, pos.StateVersion)
	return nil
}

func (a *AffectedGlobalEntities) VisitDelete(_ *coreapi.SubstateID, entity *extension.ReferencedEntity, pos extension.Position) error {
	a.visit(entity, pos.StateVersion)
	return nil
}

// Get returns the affected global entities of the transaction at
// stateVersion.
func (a *AffectedGlobalEntities) Get(stateVersion int64) []int64 {
	return a.affected.get(stateVersion)
}

func (a *AffectedGlobalEntities) createMarkers(seq *extension.Sequences) []Marker {
	var out []Marker
	a.affected.m.Range(func(sv int64, ids *orderedmap.Map[int64, struct{}]) bool {
		for _, id := range ids.Keys() {
			out = append(out, &AffectedGlobalEntityMarker{
				Header:   Header{ID: seq.NextLedgerTransactionMarker(), StateVersion: sv},
				EntityID: id,
			})
		}
		return true
	})
	return out
}

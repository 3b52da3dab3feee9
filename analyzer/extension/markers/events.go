package markers

import (
	"fmt"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/common"
	"github.com/ledgerindex/gateway/common/orderedmap"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

type vaultEvent struct {
	stateVersion     int64
	eventType        EventType
	entityID         int64
	resourceEntityID int64
	quantity         common.TokenAmount
}

// eventMarkers turns vault withdrawals and deposits into event markers
// keyed by the vault's global owner and its resource.
type eventMarkers struct {
	events []vaultEvent
}

func (p *eventMarkers) VisitDecodedEvent(event extension.DecodedEvent, vault *extension.ReferencedEntity, stateVersion int64) error {
	owner, ok := vault.AffectedGlobalEntityID()
	if !ok {
		return fmt.Errorf("%w: vault %s has no global ancestor", extension.ErrEntityNotResolved, vault.Address)
	}
	resource, ok := vault.OuterObjectID()
	if !ok {
		return fmt.Errorf("%w: vault %s has no resource", extension.ErrEntityNotResolved, vault.Address)
	}
	eventType := EventDeposit
	if event.Kind.IsWithdrawal() {
		eventType = EventWithdrawal
	}
	p.events = append(p.events, vaultEvent{
		stateVersion:     stateVersion,
		eventType:        eventType,
		entityID:         owner,
		resourceEntityID: resource,
		quantity:         event.Quantity,
	})
	return nil
}

func (p *eventMarkers) createMarkers(seq *extension.Sequences) []Marker {
	out := make([]Marker, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, &EventMarker{
			Header:           Header{ID: seq.NextLedgerTransactionMarker(), StateVersion: e.stateVersion},
			EventType:        e.eventType,
			EntityID:         e.entityID,
			ResourceEntityID: e.resourceEntityID,
			Quantity:         e.quantity,
		})
	}
	return out
}

// globalEmitterMarkers records, per transaction, the distinct global
// entities that emitted events.
type globalEmitterMarkers struct {
	refs     *extension.ReferencedEntities
	emitters entitiesByVersion
}

func (p *globalEmitterMarkers) VisitEvent(event *coreapi.Event, stateVersion int64) error {
	address, err := event.Type.Emitter.Address()
	if err != nil {
		return fmt.Errorf("state version %d: %w", stateVersion, err)
	}
	emitter, err := p.refs.MustGet(address)
	if err != nil {
		return err
	}
	if id, ok := emitter.AffectedGlobalEntityID(); ok {
		p.emitters.add(stateVersion, id)
	}
	return nil
}

func (p *globalEmitterMarkers) createMarkers(seq *extension.Sequences) []Marker {
	var out []Marker
	p.emitters.m.Range(func(sv int64, ids *orderedmap.Map[int64, struct{}]) bool {
		for _, id := range ids.Keys() {
			out = append(out, &EventGlobalEmitterMarker{
				Header:   Header{ID: seq.NextLedgerTransactionMarker(), StateVersion: sv},
				EntityID: id,
			})
		}
		return true
	})
	return out
}

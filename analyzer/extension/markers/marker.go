// Package markers builds the ledger transaction marker index: one row per
// fact about a transaction that queries filter on.
package markers

import (
	"github.com/ledgerindex/gateway/analyzer/extension/manifest"
	"github.com/ledgerindex/gateway/common"
)

type Discriminator string

const (
	DiscriminatorEvent                Discriminator = "event"
	DiscriminatorManifestAddress      Discriminator = "manifest_address"
	DiscriminatorOrigin               Discriminator = "origin"
	DiscriminatorAffectedGlobalEntity Discriminator = "affected_global_entity"
	DiscriminatorEventGlobalEmitter   Discriminator = "event_global_emitter"
	DiscriminatorManifestClass        Discriminator = "manifest_class"
	DiscriminatorEpochChange          Discriminator = "epoch_change"
)

type EventType string

const (
	EventWithdrawal EventType = "withdrawal"
	EventDeposit    EventType = "deposit"
)

type OperationType string

const (
	OperationResourceInUse          OperationType = "resource_in_use"
	OperationAccountDepositedInto   OperationType = "account_deposited_into"
	OperationAccountWithdrawnFrom   OperationType = "account_withdrawn_from"
	OperationAccountOwnerMethodCall OperationType = "account_owner_method_call"
	OperationBadgePresented         OperationType = "badge_presented"
)

type OriginType string

const (
	OriginUser        OriginType = "user"
	OriginEpochChange OriginType = "epoch_change"
)

// Marker is one row of the marker index. The set of implementations is
// closed: every kind is defined in this package.
type Marker interface {
	MarkerHeader() Header
	Discriminator() Discriminator
	// fields returns the kind-specific columns, markerColumns order after
	// the header and discriminator.
	fields() markerFields
}

// Header holds the columns shared by every marker.
type Header struct {
	ID           int64
	StateVersion int64
}

func (h Header) MarkerHeader() Header { return h }

type markerFields struct {
	entityID         *int64
	eventType        *EventType
	resourceEntityID *int64
	quantity         *common.TokenAmount
	operationType    *OperationType
	originType       *OriginType
	manifestClass    *manifest.Class
	isMostSpecific   *bool
	epochChange      *bool
}

var markerColumns = []string{
	"id", "state_version", "discriminator",
	"entity_id", "event_type", "resource_entity_id", "quantity", "operation_type",
	"origin_type", "manifest_class", "is_most_specific", "epoch_change",
}

// nullable maps an unset pointer to SQL NULL and a set one to its text.
func nullable[T ~string](v *T) interface{} {
	if v == nil {
		return nil
	}
	return string(*v)
}

func row(m Marker) []interface{} {
	h := m.MarkerHeader()
	f := m.fields()
	var quantity interface{}
	if f.quantity != nil {
		quantity = *f.quantity
	}
	return []interface{}{
		h.ID, h.StateVersion, string(m.Discriminator()),
		f.entityID, nullable(f.eventType), f.resourceEntityID, quantity, nullable(f.operationType),
		nullable(f.originType), nullable(f.manifestClass), f.isMostSpecific, f.epochChange,
	}
}

// EventMarker records a resource moving in or out of a global entity's vault.
type EventMarker struct {
	Header
	EventType        EventType
	EntityID         int64
	ResourceEntityID int64
	Quantity         common.TokenAmount
}

func (m *EventMarker) Discriminator() Discriminator { return DiscriminatorEvent }

func (m *EventMarker) fields() markerFields {
	return markerFields{
		entityID:         &m.EntityID,
		eventType:        &m.EventType,
		resourceEntityID: &m.ResourceEntityID,
		quantity:         &m.Quantity,
	}
}

// ManifestAddressMarker records how a manifest uses an entity.
type ManifestAddressMarker struct {
	Header
	OperationType OperationType
	EntityID      int64
}

func (m *ManifestAddressMarker) Discriminator() Discriminator { return DiscriminatorManifestAddress }

func (m *ManifestAddressMarker) fields() markerFields {
	return markerFields{entityID: &m.EntityID, operationType: &m.OperationType}
}

// OriginMarker records who originated a transaction.
type OriginMarker struct {
	Header
	OriginType OriginType
}

func (m *OriginMarker) Discriminator() Discriminator { return DiscriminatorOrigin }

func (m *OriginMarker) fields() markerFields {
	return markerFields{originType: &m.OriginType}
}

// AffectedGlobalEntityMarker records a global entity whose state changed.
type AffectedGlobalEntityMarker struct {
	Header
	EntityID int64
}

func (m *AffectedGlobalEntityMarker) Discriminator() Discriminator {
	return DiscriminatorAffectedGlobalEntity
}

func (m *AffectedGlobalEntityMarker) fields() markerFields {
	return markerFields{entityID: &m.EntityID}
}

// EventGlobalEmitterMarker records a global entity that emitted events,
// directly or through one of its inner objects.
type EventGlobalEmitterMarker struct {
	Header
	EntityID int64
}

func (m *EventGlobalEmitterMarker) Discriminator() Discriminator {
	return DiscriminatorEventGlobalEmitter
}

func (m *EventGlobalEmitterMarker) fields() markerFields {
	return markerFields{entityID: &m.EntityID}
}

// ManifestClassMarker records a class of the transaction's manifest.
type ManifestClassMarker struct {
	Header
	ManifestClass  manifest.Class
	IsMostSpecific bool
}

func (m *ManifestClassMarker) Discriminator() Discriminator { return DiscriminatorManifestClass }

func (m *ManifestClassMarker) fields() markerFields {
	return markerFields{manifestClass: &m.ManifestClass, isMostSpecific: &m.IsMostSpecific}
}

// EpochChangeMarker flags the transaction that ended an epoch.
type EpochChangeMarker struct {
	Header
	EpochChange bool
}

func (m *EpochChangeMarker) Discriminator() Discriminator { return DiscriminatorEpochChange }

func (m *EpochChangeMarker) fields() markerFields {
	return markerFields{epochChange: &m.EpochChange}
}

package markers

import (
	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/analyzer/extension/manifest"
	"github.com/ledgerindex/gateway/log"
)

// manifestMarkers turns the analyzed manifests into address and class
// markers. Address markers exist only for successful transactions.
type manifestMarkers struct {
	manifests *manifest.Processor
	refs      *extension.ReferencedEntities
	logger    *log.Logger
}

func (p *manifestMarkers) addressMarker(seq *extension.Sequences, sv int64, op OperationType, entity *extension.ReferencedEntity) Marker {
	return &ManifestAddressMarker{
		Header:        Header{ID: seq.NextLedgerTransactionMarker(), StateVersion: sv},
		OperationType: op,
		EntityID:      entity.ID(),
	}
}

// mustExist emits a marker per address; each must have an entity.
func (p *manifestMarkers) mustExist(seq *extension.Sequences, sv int64, op OperationType, addresses []string) ([]Marker, error) {
	out := make([]Marker, 0, len(addresses))
	for _, address := range addresses {
		entity, err := p.refs.MustGet(address)
		if err != nil {
			return nil, err
		}
		out = append(out, p.addressMarker(seq, sv, op, entity))
	}
	return out, nil
}

// accounts emits a marker per account with an entity. Pre-allocated
// accounts exist without an entity until their first state change, so
// unresolved accounts are skipped.
func (p *manifestMarkers) accounts(seq *extension.Sequences, sv int64, op OperationType, addresses []string) []Marker {
	out := make([]Marker, 0, len(addresses))
	for _, address := range addresses {
		entity, ok := p.refs.GetResolved(address)
		if !ok {
			p.logger.Debug("no entity for manifest account", "state_version", sv, "address", address, "operation", op)
			continue
		}
		out = append(out, p.addressMarker(seq, sv, op, entity))
	}
	return out
}

func (p *manifestMarkers) createMarkers(seq *extension.Sequences) ([]Marker, error) {
	var out []Marker
	for _, sv := range p.manifests.StateVersions() {
		r, _ := p.manifests.Result(sv)
		if r.Addresses == nil {
			continue
		}
		proofs, err := p.mustExist(seq, sv, OperationBadgePresented, r.Addresses.ProofResources())
		if err != nil {
			return nil, err
		}
		out = append(out, proofs...)
		resources, err := p.mustExist(seq, sv, OperationResourceInUse, r.Addresses.Resources)
		if err != nil {
			return nil, err
		}
		out = append(out, resources...)
		out = append(out, p.accounts(seq, sv, OperationAccountOwnerMethodCall, r.Addresses.AccountsRequiringAuth)...)
		out = append(out, p.accounts(seq, sv, OperationAccountDepositedInto, r.Addresses.AccountsDepositedInto)...)
		out = append(out, p.accounts(seq, sv, OperationAccountWithdrawnFrom, r.Addresses.AccountsWithdrawnFrom)...)
	}

	for _, sv := range p.manifests.StateVersions() {
		for i, class := range p.manifests.Classes(sv) {
			out = append(out, &ManifestClassMarker{
				Header:         Header{ID: seq.NextLedgerTransactionMarker(), StateVersion: sv},
				ManifestClass:  class,
				IsMostSpecific: i == 0,
			})
		}
	}
	return out, nil
}

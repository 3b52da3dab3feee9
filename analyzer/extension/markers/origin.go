package markers

import (
	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

type transactionFact struct {
	stateVersion int64
	origin       OriginType
}

// originMarkers records user transactions and the round updates that
// changed the epoch.
type originMarkers struct {
	origins []transactionFact
}

func (p *originMarkers) VisitTransaction(tx *coreapi.CommittedTransaction, stateVersion int64) error {
	switch {
	case tx.LedgerTransaction.Type == coreapi.KindUser:
		p.origins = append(p.origins, transactionFact{stateVersion: stateVersion, origin: OriginUser})
	case tx.LedgerTransaction.Type == coreapi.KindRoundUpdate && tx.Receipt.NextEpoch != nil:
		p.origins = append(p.origins, transactionFact{stateVersion: stateVersion, origin: OriginEpochChange})
	}
	return nil
}

func (p *originMarkers) createMarkers(seq *extension.Sequences) []Marker {
	out := make([]Marker, 0, len(p.origins))
	for _, o := range p.origins {
		out = append(out, &OriginMarker{
			Header:     Header{ID: seq.NextLedgerTransactionMarker(), StateVersion: o.stateVersion},
			OriginType: o.origin,
		})
	}
	return out
}

// epochChangeMarkers flags every transaction whose receipt starts a new
// epoch, whatever its kind.
type epochChangeMarkers struct {
	stateVersions []int64
}

func (p *epochChangeMarkers) VisitTransaction(tx *coreapi.CommittedTransaction, stateVersion int64) error {
	if tx.Receipt.NextEpoch != nil {
		p.stateVersions = append(p.stateVersions, stateVersion)
	}
	return nil
}

func (p *epochChangeMarkers) createMarkers(seq *extension.Sequences) []Marker {
	out := make([]Marker, 0, len(p.stateVersions))
	for _, sv := range p.stateVersions {
		out = append(out, &EpochChangeMarker{
			Header:      Header{ID: seq.NextLedgerTransactionMarker(), StateVersion: sv},
			EpochChange: true,
		})
	}
	return out
}

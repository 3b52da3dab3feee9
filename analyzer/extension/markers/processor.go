package markers

import (
	"context"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/analyzer/extension/manifest"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

const markersTable = "ledger_transaction_markers"

// Processor maintains the ledger transaction marker index. It scans
// manifests through the manifest processor and takes affected entities from
// the shared AffectedGlobalEntities.
type Processor struct {
	pctx *extension.ProcessorContext

	manifests *manifest.Processor
	affected  *AffectedGlobalEntities

	emitters    *globalEmitterMarkers
	events      *eventMarkers
	manifestMks *manifestMarkers
	origins     *originMarkers
	epochs      *epochChangeMarkers

	markers []Marker
}

var (
	_ extension.Processor           = (*Processor)(nil)
	_ extension.TransactionScanner  = (*Processor)(nil)
	_ extension.TransactionVisitor  = (*Processor)(nil)
	_ extension.UpsertVisitor       = (*Processor)(nil)
	_ extension.DeleteVisitor       = (*Processor)(nil)
	_ extension.EventVisitor        = (*Processor)(nil)
	_ extension.DecodedEventVisitor = (*Processor)(nil)
)

func NewProcessor(
	pctx *extension.ProcessorContext,
	refs *extension.ReferencedEntities,
	manifests *manifest.Processor,
	affected *AffectedGlobalEntities,
) *Processor {
	return &Processor{
		pctx:      pctx,
		manifests: manifests,
		affected:  affected,
		emitters:  &globalEmitterMarkers{refs: refs, emitters: newEntitiesByVersion()},
		events:    &eventMarkers{},
		manifestMks: &manifestMarkers{
			manifests: manifests,
			refs:      refs,
			logger:    pctx.Logger.WithModule("manifest_markers"),
		},
		origins: &originMarkers{},
		epochs:  &epochChangeMarkers{},
	}
}

func (p *Processor) ScanTransactions(ctx context.Context, txs []coreapi.CommittedTransaction) error {
	return p.manifests.ScanTransactions(ctx, txs)
}

func (p *Processor) LoadDependencies(context.Context) error {
	return nil
}

func (p *Processor) VisitTransaction(tx *coreapi.CommittedTransaction, stateVersion int64) error {
	if err := p.origins.VisitTransaction(tx, stateVersion); err != nil {
		return err
	}
	return p.epochs.VisitTransaction(tx, stateVersion)
}

func (p *Processor) VisitUpsert(s *coreapi.UpsertedSubstate, entity *extension.ReferencedEntity, pos extension.Position, created bool) error {
	return p.affected.VisitUpsert(s, entity, pos, created)
}

func (p *Processor) VisitDelete(id *coreapi.SubstateID, entity *extension.ReferencedEntity, pos extension.Position) error {
	return p.affected.VisitDelete(id, entity, pos)
}

func (p *Processor) VisitEvent(event *coreapi.Event, stateVersion int64) error {
	return p.emitters.VisitEvent(event, stateVersion)
}

func (p *Processor) VisitDecodedEvent(event extension.DecodedEvent, emitter *extension.ReferencedEntity, stateVersion int64) error {
	return p.events.VisitDecodedEvent(event, emitter, stateVersion)
}

// ProcessChanges assigns marker ids: emitters, affected entities, events,
// manifests, origins and epoch changes, each in state version order.
func (p *Processor) ProcessChanges() error {
	seq := p.pctx.Sequences
	p.markers = append(p.markers, p.emitters.createMarkers(seq)...)
	p.markers = append(p.markers, p.affected.createMarkers(seq)...)
	p.markers = append(p.markers, p.events.createMarkers(seq)...)
	fromManifests, err := p.manifestMks.createMarkers(seq)
	if err != nil {
		return err
	}
	p.markers = append(p.markers, fromManifests...)
	p.markers = append(p.markers, p.origins.createMarkers(seq)...)
	p.markers = append(p.markers, p.epochs.createMarkers(seq)...)
	return nil
}

// Markers returns the markers built by ProcessChanges.
func (p *Processor) Markers() []Marker {
	return p.markers
}

func (p *Processor) SaveEntities(ctx context.Context) (int, error) {
	rows := make([][]interface{}, 0, len(p.markers))
	for _, m := range p.markers {
		rows = append(rows, row(m))
	}
	return p.pctx.CopyRows(ctx, markersTable, markerColumns, rows)
}

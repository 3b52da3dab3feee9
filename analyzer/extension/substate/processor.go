package substate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/analyzer/queries"
	"github.com/ledgerindex/gateway/common/orderedmap"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

const tableName = "substates"

// storedDown is the down of a substate upped by an earlier batch.
type storedDown struct {
	key          Key
	substateType coreapi.SubstateType
	pos          extension.Position
}

// Processor maintains the substates table. Substates upped within the batch
// are tracked in memory; downs of older substates are applied to the
// database with a compare-and-swap update.
type Processor struct {
	pctx   *extension.ProcessorContext
	logger *log.Logger

	// Latest in-batch row per key.
	latest *orderedmap.Map[Key, *Substate]
	// Every in-batch row, in up order.
	rows        []*Substate
	storedDowns []storedDown
	// Keys with a queued stored down.
	storedDownKeys map[Key]struct{}
}

var (
	_ extension.Processor     = (*Processor)(nil)
	_ extension.UpsertVisitor = (*Processor)(nil)
	_ extension.DeleteVisitor = (*Processor)(nil)
)

func NewProcessor(pctx *extension.ProcessorContext) *Processor {
	return &Processor{
		pctx:   pctx,
		logger: pctx.Logger.WithModule("substate_processor"),
		latest: orderedmap.New[Key, *Substate](),

		storedDownKeys: make(map[Key]struct{}),
	}
}

func (p *Processor) LoadDependencies(ctx context.Context) error {
	return nil
}

func keyOf(id *coreapi.SubstateID, entity *extension.ReferencedEntity) (Key, []byte, error) {
	identifier, err := id.KeyBytes()
	if err != nil {
		return Key{}, nil, err
	}
	return Key{
		EntityID:        entity.ID(),
		PartitionNumber: id.PartitionNumber,
		Identifier:      string(identifier),
	}, identifier, nil
}

// markDown downs the current version of key, in memory if it was upped by
// this batch, else by queueing a database down.
func (p *Processor) markDown(key Key, identifier []byte, substateType coreapi.SubstateType, pos extension.Position) error {
	if current, ok := p.latest.Get(key); ok {
		err := current.MarkDown(identifier, pos)
		if errors.Is(err, extension.ErrConcurrentDown) {
			return fmt.Errorf("%w: substate %x downed twice in one batch", extension.ErrInconsistentLedger, identifier)
		}
		return err
	}
	if _, ok := p.storedDownKeys[key]; ok {
		return fmt.Errorf("%w: stored substate %x downed twice in one batch", extension.ErrInconsistentLedger, identifier)
	}
	p.storedDownKeys[key] = struct{}{}
	p.storedDowns = append(p.storedDowns, storedDown{key: key, substateType: substateType, pos: pos})
	return nil
}

func (p *Processor) VisitUpsert(s *coreapi.UpsertedSubstate, entity *extension.ReferencedEntity, pos extension.Position, created bool) error {
	key, identifier, err := keyOf(&s.SubstateID, entity)
	if err != nil {
		return err
	}
	if !created {
		if err = p.markDown(key, identifier, s.SubstateID.SubstateType, pos); err != nil {
			return err
		}
	} else if current, ok := p.latest.Get(key); ok && current.IsUp() {
		return fmt.Errorf("%w: substate %x created while up", extension.ErrInconsistentLedger, identifier)
	}

	row := &Substate{
		ID:           p.pctx.Sequences.NextSubstate(),
		Key:          key,
		SubstateType: s.SubstateID.SubstateType,
	}
	row.MarkUp(identifier, pos)
	p.latest.Set(key, row)
	p.rows = append(p.rows, row)
	return nil
}

func (p *Processor) VisitDelete(id *coreapi.SubstateID, entity *extension.ReferencedEntity, pos extension.Position) error {
	key, identifier, err := keyOf(id, entity)
	if err != nil {
		return err
	}
	return p.markDown(key, identifier, id.SubstateType, pos)
}

func (p *Processor) ProcessChanges() error {
	return nil
}

func (p *Processor) SaveEntities(ctx context.Context) (int, error) {
	downed, err := p.applyStoredDowns(ctx)
	if err != nil {
		return 0, err
	}
	rows := make([][]interface{}, 0, len(p.rows))
	for _, s := range p.rows {
		rows = append(rows, s.row())
	}
	copied, err := p.pctx.CopyRows(ctx, tableName, columns, rows)
	if err != nil {
		return 0, err
	}
	return downed + copied, nil
}

// applyStoredDowns downs substates of earlier batches. A down that matches
// no live row is classified by re-reading the substate: a virtual substate
// that was never materialized gets a row upped and downed at the same
// position; a substate already down was handled by another writer and is
// skipped.
func (p *Processor) applyStoredDowns(ctx context.Context) (int, error) {
	if len(p.storedDowns) == 0 {
		return 0, nil
	}
	batch := &storage.QueryBatch{}
	for _, d := range p.storedDowns {
		batch.Queue(queries.MarkSubstateDown,
			d.key.EntityID,
			int32(d.key.PartitionNumber),
			[]byte(d.key.Identifier),
			d.pos.StateVersion,
			int32(d.pos.GroupIndex),
			int32(d.pos.IndexInGroup),
		)
	}
	results := p.pctx.Tx.SendBatch(ctx, batch)
	var missed []storedDown
	downed := 0
	for _, d := range p.storedDowns {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("marking substate %x down: %w", d.key.Identifier, err)
		}
		if tag.RowsAffected() == 0 {
			missed = append(missed, d)
			continue
		}
		downed++
	}
	if err := results.Close(); err != nil {
		return 0, err
	}

	var materialized [][]interface{}
	for _, d := range missed {
		var (
			id          int64
			upVersion   int64
			downVersion *int64
		)
		err := p.pctx.Tx.QueryRow(ctx, queries.LatestSubstate,
			d.key.EntityID, int32(d.key.PartitionNumber), []byte(d.key.Identifier),
		).Scan(&id, &upVersion, &downVersion)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			identifier := []byte(d.key.Identifier)
			if !IsVirtual(identifier) {
				return 0, fmt.Errorf("%w: %x of entity %d at state version %d",
					extension.ErrSubstateNotFound, identifier, d.key.EntityID, d.pos.StateVersion)
			}
			row := &Substate{ID: p.pctx.Sequences.NextSubstate(), Key: d.key, SubstateType: d.substateType}
			row.MarkUp(identifier, d.pos)
			if err = row.MarkDown(identifier, d.pos); err != nil {
				return 0, err
			}
			materialized = append(materialized, row.row())
		case err != nil:
			return 0, fmt.Errorf("reading substate %x: %w", d.key.Identifier, err)
		case downVersion != nil:
			p.logger.Warn("substate already down, skipping",
				"substate_id", id,
				"entity_id", d.key.EntityID,
				"down_state_version", *downVersion,
				"attempted_state_version", d.pos.StateVersion,
			)
			if p.pctx.Metrics != nil {
				p.pctx.Metrics.SubstateConflicts().Inc()
			}
		default:
			return 0, fmt.Errorf("%w: substate %d is up but could not be downed", extension.ErrInconsistentLedger, id)
		}
	}
	copied, err := p.pctx.CopyRows(ctx, tableName, columns, materialized)
	if err != nil {
		return 0, err
	}
	return downed + copied, nil
}

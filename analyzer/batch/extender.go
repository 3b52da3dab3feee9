package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/analyzer/extension/kvstore"
	"github.com/ledgerindex/gateway/analyzer/extension/manifest"
	"github.com/ledgerindex/gateway/analyzer/extension/markers"
	"github.com/ledgerindex/gateway/analyzer/extension/substate"
	"github.com/ledgerindex/gateway/analyzer/extension/transactions"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/metrics"
	"github.com/ledgerindex/gateway/storage"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

// Result describes a committed batch.
type Result struct {
	BatchID   uuid.UUID
	RowsAdded int

	// ReadDuration covers loading the stored state the batch builds upon,
	// ContentDuration the in-memory processing and WriteDuration the
	// writes and the commit.
	ReadDuration    time.Duration
	ContentDuration time.Duration
	WriteDuration   time.Duration

	// Summary is the new watermark.
	Summary *extension.TransactionSummary
}

// Extender appends batches of committed transactions to the stored ledger.
// Each batch is written in a single database transaction, together with the
// advanced watermark; a failed batch leaves no trace.
type Extender struct {
	target   storage.TargetStorage
	resolver *extension.EntityResolver
	logger   *log.Logger
	metrics  *metrics.ExtensionMetrics

	now func() time.Time
}

// NewExtender creates an extender writing into target. resolver caches
// entity lookups across batches.
func NewExtender(target storage.TargetStorage, resolver *extension.EntityResolver, logger *log.Logger, m *metrics.ExtensionMetrics) *Extender {
	return &Extender{
		target:   target,
		resolver: resolver,
		logger:   logger.WithModule("extender"),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Watermark returns the summary of the last stored transaction, or nil on
// an empty ledger.
func (e *Extender) Watermark(ctx context.Context) (*extension.TransactionSummary, error) {
	return extension.LoadSummary(ctx, e.target)
}

// batchProcessors are the processors of one batch, in visiting order.
type batchProcessors struct {
	refs         *extension.ReferencedEntities
	transactions *transactions.Processor
	all          []extension.Processor
}

func newBatchProcessors(pctx *extension.ProcessorContext, last *extension.TransactionSummary) *batchProcessors {
	refs := extension.NewReferencedEntities()
	manifests := manifest.NewProcessor(pctx, refs)
	affected := markers.NewAffectedGlobalEntities()
	txs := transactions.NewProcessor(pctx, refs, manifests, affected, last)
	return &batchProcessors{
		refs:         refs,
		transactions: txs,
		all: []extension.Processor{
			substate.NewProcessor(pctx),
			kvstore.NewProcessor(pctx, refs),
			markers.NewProcessor(pctx, refs, manifests, affected),
			txs,
		},
	}
}

func validate(txs []coreapi.CommittedTransaction, last *extension.TransactionSummary) error {
	if len(txs) == 0 {
		return fmt.Errorf("empty batch")
	}
	if last != nil && txs[0].StateVersion() != last.StateVersion+1 {
		return fmt.Errorf("%w: batch starts at state version %d, ledger ends at %d",
			extension.ErrInconsistentLedger, txs[0].StateVersion(), last.StateVersion)
	}
	for i := range txs {
		if i > 0 && txs[i].StateVersion() != txs[i-1].StateVersion()+1 {
			return fmt.Errorf("%w: state version %d follows %d",
				extension.ErrInconsistentLedger, txs[i].StateVersion(), txs[i-1].StateVersion())
		}
		if err := txs[i].LedgerTransaction.Validate(); err != nil {
			return fmt.Errorf("state version %d: %w", txs[i].StateVersion(), err)
		}
	}
	return nil
}

func (b *batchProcessors) scan(ctx context.Context, txs []coreapi.CommittedTransaction) error {
	for i := range txs {
		if err := b.refs.ScanTransaction(&txs[i]); err != nil {
			return err
		}
	}
	for _, p := range b.all {
		if s, ok := p.(extension.TransactionScanner); ok {
			if err := s.ScanTransactions(ctx, txs); err != nil {
				return err
			}
		}
	}
	for _, p := range b.all {
		s, ok := p.(extension.SubstateScanner)
		if !ok {
			continue
		}
		for i := range txs {
			sv := txs[i].StateVersion()
			updates := &txs[i].Receipt.StateUpdates
			for _, group := range [][]coreapi.UpsertedSubstate{updates.CreatedSubstates, updates.UpdatedSubstates} {
				for j := range group {
					if err := s.ScanUpsert(&group[j], sv); err != nil {
						return err
					}
				}
			}
			for j := range updates.DeletedSubstates {
				if err := s.ScanDelete(&updates.DeletedSubstates[j].SubstateID, sv); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (b *batchProcessors) visitUpserts(group []coreapi.UpsertedSubstate, created bool, pos *extension.Position) error {
	for i := range group {
		s := &group[i]
		entity, err := b.refs.MustGet(s.SubstateID.EntityAddress)
		if err != nil {
			return err
		}
		for _, p := range b.all {
			if v, ok := p.(extension.UpsertVisitor); ok {
				if err := v.VisitUpsert(s, entity, *pos, created); err != nil {
					return err
				}
			}
		}
		pos.IndexInGroup++
	}
	return nil
}

// visit feeds one transaction to every processor. Operations are numbered
// created, updated, then deleted substates within a single group.
func (b *batchProcessors) visit(tx *coreapi.CommittedTransaction, logger *log.Logger) error {
	sv := tx.StateVersion()
	for _, p := range b.all {
		if v, ok := p.(extension.TransactionVisitor); ok {
			if err := v.VisitTransaction(tx, sv); err != nil {
				return err
			}
		}
	}

	updates := &tx.Receipt.StateUpdates
	pos := extension.Position{StateVersion: sv}
	if err := b.visitUpserts(updates.CreatedSubstates, true, &pos); err != nil {
		return err
	}
	if err := b.visitUpserts(updates.UpdatedSubstates, false, &pos); err != nil {
		return err
	}
	for i := range updates.DeletedSubstates {
		id := &updates.DeletedSubstates[i].SubstateID
		entity, err := b.refs.MustGet(id.EntityAddress)
		if err != nil {
			return err
		}
		for _, p := range b.all {
			if v, ok := p.(extension.DeleteVisitor); ok {
				if err := v.VisitDelete(id, entity, pos); err != nil {
					return err
				}
			}
		}
		pos.IndexInGroup++
	}

	for i := range tx.Receipt.Events {
		event := &tx.Receipt.Events[i]
		for _, p := range b.all {
			if v, ok := p.(extension.EventVisitor); ok {
				if err := v.VisitEvent(event, sv); err != nil {
					return err
				}
			}
		}
		decoded, ok, err := extension.DecodeEvent(event)
		if err != nil {
			logger.Warn("skipping undecodable event", "state_version", sv, "event", event.Type.Name, "err", err)
			continue
		}
		if !ok {
			continue
		}
		emitter, err := b.refs.MustGet(event.Type.Emitter.Entity.EntityAddress)
		if err != nil {
			return err
		}
		for _, p := range b.all {
			if v, ok := p.(extension.DecodedEventVisitor); ok {
				if err := v.VisitDecodedEvent(decoded, emitter, sv); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *Extender) observe(phase string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.BatchPhase(phase).Observe(d.Seconds())
	}
}

// Extend writes txs, which must directly follow the stored ledger, and
// advances the watermark to the last of them.
func (e *Extender) Extend(ctx context.Context, txs []coreapi.CommittedTransaction) (*Result, error) {
	res := &Result{BatchID: uuid.New()}
	logger := e.logger.With("batch_id", res.BatchID)
	if len(txs) > 0 {
		logger = logger.With(
			"from_state_version", txs[0].StateVersion(),
			"to_state_version", txs[len(txs)-1].StateVersion(),
		)
	}
	start := time.Now()

	dbTx, err := e.target.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = dbTx.Rollback(ctx) }()

	last, err := extension.LoadSummary(ctx, dbTx)
	if err != nil {
		return nil, err
	}
	if err = validate(txs, last); err != nil {
		return nil, err
	}
	seq, err := extension.LoadSequences(ctx, dbTx)
	if err != nil {
		return nil, err
	}
	pctx := &extension.ProcessorContext{
		Sequences:   seq,
		Tx:          dbTx,
		Logger:      logger,
		Metrics:     e.metrics,
		EmptyLedger: last == nil,
		Now:         e.now(),
	}
	procs := newBatchProcessors(pctx, last)

	if err = procs.scan(ctx, txs); err != nil {
		return nil, err
	}
	if err = e.resolver.Resolve(ctx, pctx, procs.refs); err != nil {
		return nil, fmt.Errorf("resolving entities: %w", err)
	}
	for _, p := range procs.all {
		if err = p.LoadDependencies(ctx); err != nil {
			return nil, err
		}
	}
	res.ReadDuration = time.Since(start)

	contentStart := time.Now()
	for i := range txs {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		if err = procs.visit(&txs[i], logger); err != nil {
			return nil, err
		}
	}
	for _, p := range procs.all {
		if err = p.ProcessChanges(); err != nil {
			return nil, err
		}
	}
	res.ContentDuration = time.Since(contentStart)

	writeStart := time.Now()
	n, err := extension.SaveNewEntities(ctx, pctx, procs.refs)
	if err != nil {
		return nil, fmt.Errorf("saving entities: %w", err)
	}
	res.RowsAdded += n
	for _, p := range procs.all {
		if n, err = p.SaveEntities(ctx); err != nil {
			return nil, err
		}
		res.RowsAdded += n
	}
	if err = seq.Save(ctx, dbTx); err != nil {
		return nil, err
	}
	res.Summary = procs.transactions.LastSummary()
	if err = res.Summary.Save(ctx, dbTx); err != nil {
		return nil, err
	}
	if err = dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing batch: %w", err)
	}
	res.WriteDuration = time.Since(writeStart)

	e.observe("read", res.ReadDuration)
	e.observe("content", res.ContentDuration)
	e.observe("write", res.WriteDuration)
	if e.metrics != nil {
		e.metrics.CommittedStateVersion().Set(float64(res.Summary.StateVersion))
	}
	logger.Debug("extended ledger",
		"rows_added", res.RowsAdded,
		"read_ms", res.ReadDuration.Milliseconds(),
		"content_ms", res.ContentDuration.Milliseconds(),
		"write_ms", res.WriteDuration.Milliseconds(),
	)
	return res, nil
}

package transactions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/analyzer/extension/manifest"
	"github.com/ledgerindex/gateway/analyzer/extension/markers"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

// Processor builds a ledger_transactions row for every transaction. Each row
// continues the summary of the one before it, starting from the stored
// watermark.
type Processor struct {
	pctx   *extension.ProcessorContext
	refs   *extension.ReferencedEntities
	logger *log.Logger

	manifests *manifest.Processor
	affected  *markers.AffectedGlobalEntities

	last         *extension.TransactionSummary
	transactions []*LedgerTransaction
}

var (
	_ extension.Processor          = (*Processor)(nil)
	_ extension.TransactionVisitor = (*Processor)(nil)
)

// NewProcessor creates a processor continuing from last, the summary of the
// most recent stored transaction, or nil on an empty ledger.
func NewProcessor(
	pctx *extension.ProcessorContext,
	refs *extension.ReferencedEntities,
	manifests *manifest.Processor,
	affected *markers.AffectedGlobalEntities,
	last *extension.TransactionSummary,
) *Processor {
	if last == nil {
		last = extension.PreGenesisSummary(pctx.Now)
	}
	return &Processor{
		pctx:      pctx,
		refs:      refs,
		logger:    pctx.Logger.WithModule("ledger_transactions"),
		manifests: manifests,
		affected:  affected,
		last:      last,
	}
}

func (p *Processor) LoadDependencies(context.Context) error {
	return nil
}

// currentTime returns the proposer timestamp written by tx, if any. An
// unreadable current-time substate is skipped, leaving the round update
// timestamp in place.
func (p *Processor) currentTime(tx *coreapi.CommittedTransaction, stateVersion int64) *time.Time {
	updates := &tx.Receipt.StateUpdates
	var ts *time.Time
	for _, group := range [][]coreapi.UpsertedSubstate{updates.CreatedSubstates, updates.UpdatedSubstates} {
		for i := range group {
			data := &group[i].Value.SubstateData
			if data.SubstateType != coreapi.SubstateConsensusManagerCurrentTime {
				continue
			}
			ms, err := data.CurrentTime()
			if err != nil {
				p.logger.Warn("ignoring unreadable current time substate",
					"state_version", stateVersion,
					"entity_address", group[i].SubstateID.EntityAddress,
					"err", err,
				)
				continue
			}
			t := time.UnixMilli(ms).UTC()
			ts = &t
		}
	}
	return ts
}

// normalize clamps a round timestamp so that normalized timestamps never go
// back in time and never pass the time the transaction was indexed. When
// lastNormalized is itself after created, lastNormalized wins.
func normalize(roundTimestamp, lastNormalized, created time.Time) time.Time {
	switch {
	case roundTimestamp.Before(lastNormalized):
		return lastNormalized
	case roundTimestamp.After(created):
		return created
	default:
		return roundTimestamp
	}
}

// next computes the summary of tx from the summary of its predecessor.
func (p *Processor) next(tx *coreapi.CommittedTransaction, stateVersion int64) (*extension.TransactionSummary, error) {
	last := p.last
	epoch, roundInEpoch := last.Epoch, last.RoundInEpoch
	roundTimestamp := last.RoundTimestamp
	isStartOfEpoch, isStartOfRound := false, false

	if rut := tx.LedgerTransaction.RoundUpdateTransaction; tx.LedgerTransaction.Type == coreapi.KindRoundUpdate {
		if rut.Epoch < last.Epoch || (rut.Epoch == last.Epoch && rut.RoundInEpoch < last.RoundInEpoch) {
			return nil, fmt.Errorf("%w: round update at state version %d goes back from epoch %d round %d to epoch %d round %d",
				extension.ErrInconsistentLedger, stateVersion, last.Epoch, last.RoundInEpoch, rut.Epoch, rut.RoundInEpoch)
		}
		isStartOfEpoch = rut.Epoch != last.Epoch
		isStartOfRound = true
		epoch, roundInEpoch = rut.Epoch, rut.RoundInEpoch
		roundTimestamp = time.UnixMilli(rut.ProposerTimestampMs).UTC()
	}
	if ts := p.currentTime(tx, stateVersion); ts != nil {
		roundTimestamp = *ts
	}
	if last.NormalizedRoundTimestamp.After(p.pctx.Now) {
		p.logger.Warn("previous normalized round timestamp is in the future, clock went back",
			"state_version", stateVersion,
			"last_normalized_round_timestamp", last.NormalizedRoundTimestamp,
			"now", p.pctx.Now,
		)
	}

	s := &extension.TransactionSummary{
		StateVersion:             stateVersion,
		Epoch:                    epoch,
		RoundInEpoch:             roundInEpoch,
		IndexInEpoch:             last.IndexInEpoch + 1,
		IndexInRound:             last.IndexInRound + 1,
		RoundTimestamp:           roundTimestamp,
		NormalizedRoundTimestamp: normalize(roundTimestamp, last.NormalizedRoundTimestamp, p.pctx.Now),
		CreatedTimestamp:         p.pctx.Now,
		TransactionTreeHash:      tx.ResultantStateIdentifiers.TransactionTreeHash,
		ReceiptTreeHash:          tx.ResultantStateIdentifiers.ReceiptTreeHash,
		StateTreeHash:            tx.ResultantStateIdentifiers.StateTreeHash,
	}
	if isStartOfEpoch {
		s.IndexInEpoch = 0
	}
	if isStartOfRound {
		s.IndexInRound = 0
	}
	return s, nil
}

func (p *Processor) events(tx *coreapi.CommittedTransaction, lt *LedgerTransaction) error {
	emitters := make([]coreapi.EventEmitter, 0, len(tx.Receipt.Events))
	lt.ReceiptEventNames = make([]string, 0, len(tx.Receipt.Events))
	lt.ReceiptEventEmitterIDs = make([]int64, 0, len(tx.Receipt.Events))
	for i := range tx.Receipt.Events {
		event := &tx.Receipt.Events[i]
		address, err := event.Type.Emitter.Address()
		if err != nil {
			return fmt.Errorf("state version %d: %w", lt.StateVersion, err)
		}
		emitter, err := p.refs.MustGet(address)
		if err != nil {
			return err
		}
		emitters = append(emitters, event.Type.Emitter)
		lt.ReceiptEventNames = append(lt.ReceiptEventNames, event.Type.Name)
		lt.ReceiptEventEmitterIDs = append(lt.ReceiptEventEmitterIDs, emitter.ID())
	}
	raw, err := json.Marshal(emitters)
	if err != nil {
		return fmt.Errorf("state version %d: event emitters: %w", lt.StateVersion, err)
	}
	lt.ReceiptEventEmitters = raw
	return nil
}

func (p *Processor) userTransaction(tx *coreapi.CommittedTransaction, stateVersion int64) *UserTransaction {
	n := tx.LedgerTransaction.NotarizedTransaction
	u := &UserTransaction{
		PayloadHash:          n.HashBech32m,
		IntentHash:           n.SignedIntent.Intent.HashBech32m,
		SignedIntentHash:     n.SignedIntent.HashBech32m,
		Message:              n.SignedIntent.Intent.Message,
		ManifestInstructions: n.SignedIntent.Intent.Instructions,
	}
	payload, err := n.PayloadBytes()
	if err != nil {
		p.logger.Warn("undecodable transaction payload, storing none", "state_version", stateVersion, "err", err)
	} else {
		u.RawPayload = payload
	}
	return u
}

func (p *Processor) VisitTransaction(tx *coreapi.CommittedTransaction, stateVersion int64) error {
	discriminator, ok := discriminators[tx.LedgerTransaction.Type]
	if !ok {
		return fmt.Errorf("%w: %q at state version %d", coreapi.ErrUnknownTransactionKind, tx.LedgerTransaction.Type, stateVersion)
	}
	summary, err := p.next(tx, stateVersion)
	if err != nil {
		return err
	}

	receipt := &tx.Receipt
	feeSummary, err := json.Marshal(receipt.FeeSummary)
	if err != nil {
		return fmt.Errorf("state version %d: fee summary: %w", stateVersion, err)
	}
	stateUpdates, err := json.Marshal(receipt.StateUpdates)
	if err != nil {
		return fmt.Errorf("state version %d: state updates: %w", stateVersion, err)
	}
	var nextEpoch json.RawMessage
	if receipt.NextEpoch != nil {
		if nextEpoch, err = json.Marshal(receipt.NextEpoch); err != nil {
			return fmt.Errorf("state version %d: next epoch: %w", stateVersion, err)
		}
	}

	lt := &LedgerTransaction{
		StateVersion:             stateVersion,
		Discriminator:            discriminator,
		Epoch:                    summary.Epoch,
		RoundInEpoch:             summary.RoundInEpoch,
		IndexInEpoch:             summary.IndexInEpoch,
		IndexInRound:             summary.IndexInRound,
		FeePaid:                  receipt.FeeSummary.TotalFee(),
		TipPaid:                  receipt.FeeSummary.TotalTip(),
		RoundTimestamp:           summary.RoundTimestamp,
		CreatedTimestamp:         summary.CreatedTimestamp,
		NormalizedRoundTimestamp: summary.NormalizedRoundTimestamp,
		TransactionTreeHash:      summary.TransactionTreeHash,
		ReceiptTreeHash:          summary.ReceiptTreeHash,
		StateTreeHash:            summary.StateTreeHash,
		ReceiptStatus:            receiptStatus(receipt.Status),
		ReceiptFeeSummary:        feeSummary,
		ReceiptStateUpdates:      stateUpdates,
		ReceiptCostingParameters: receipt.CostingParameters,
		ReceiptFeeSource:         receipt.FeeSource,
		ReceiptFeeDestination:    receipt.FeeDestination,
		ReceiptNextEpoch:         nextEpoch,
		ReceiptOutput:            receipt.Output,
		ReceiptErrorMessage:      receipt.ErrorMessage,
		BalanceChanges:           tx.BalanceChanges,
	}
	if err := p.events(tx, lt); err != nil {
		return err
	}
	if tx.LedgerTransaction.Type == coreapi.KindUser {
		lt.User = p.userTransaction(tx, stateVersion)
	}

	p.transactions = append(p.transactions, lt)
	p.last = summary
	return nil
}

// ProcessChanges completes the rows with what is only known once the whole
// batch was visited.
func (p *Processor) ProcessChanges() error {
	for _, lt := range p.transactions {
		affected := p.affected.Get(lt.StateVersion)
		if affected == nil {
			affected = []int64{}
		}
		lt.AffectedGlobalEntities = affected
		if lt.User != nil {
			lt.User.ManifestClasses = p.manifests.Classes(lt.StateVersion)
		}
	}
	return nil
}

// Transactions returns the rows built so far.
func (p *Processor) Transactions() []*LedgerTransaction {
	return p.transactions
}

// LastSummary is the summary of the last visited transaction, or of the
// watermark when nothing was visited.
func (p *Processor) LastSummary() *extension.TransactionSummary {
	return p.last
}

func (p *Processor) SaveEntities(ctx context.Context) (int, error) {
	rows := make([][]interface{}, 0, len(p.transactions))
	for _, lt := range p.transactions {
		rows = append(rows, lt.row())
	}
	return p.pctx.CopyRows(ctx, transactionsTable, transactionColumns, rows)
}

package manifest

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

// Result is what the indexer keeps of one user transaction's manifest.
type Result struct {
	Classes []Class
	// Addresses is nil unless the transaction succeeded.
	Addresses *Addresses
}

// Processor parses the manifests of a batch's user transactions and feeds
// the addresses of successful ones to the referenced entities.
type Processor struct {
	refs   *extension.ReferencedEntities
	logger *log.Logger

	results       map[int64]*Result
	stateVersions []int64
}

var _ extension.TransactionScanner = (*Processor)(nil)

func NewProcessor(pctx *extension.ProcessorContext, refs *extension.ReferencedEntities) *Processor {
	return &Processor{
		refs:    refs,
		logger:  pctx.Logger.WithModule("manifest_processor"),
		results: make(map[int64]*Result),
	}
}

func (p *Processor) analyze(tx *coreapi.CommittedTransaction) *Result {
	notarized := tx.LedgerTransaction.NotarizedTransaction
	m, err := Parse(notarized.SignedIntent.Intent.Instructions)
	if err != nil {
		p.logger.Warn("skipping unparsable manifest",
			"state_version", tx.StateVersion(),
			"intent_hash", notarized.SignedIntent.Intent.HashBech32m,
			"err", err,
		)
		return nil
	}
	r := &Result{Classes: Classify(m)}
	if tx.Receipt.Status == coreapi.StatusSucceeded {
		r.Addresses = Extract(m)
	}
	return r
}

// ScanTransactions parses manifests in parallel. Results are merged in
// state version order, so referenced entities see the same sequence of
// mentions regardless of scheduling.
func (p *Processor) ScanTransactions(ctx context.Context, txs []coreapi.CommittedTransaction) error {
	results := make([]*Result, len(txs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))
	for i := range txs {
		if txs[i].LedgerTransaction.Type != coreapi.KindUser {
			continue
		}
		// Redeclare `i` for unclobbered use within goroutine.
		i := i
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			results[i] = p.analyze(&txs[i])
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, r := range results {
		if r == nil {
			continue
		}
		sv := txs[i].StateVersion()
		p.results[sv] = r
		p.stateVersions = append(p.stateVersions, sv)
		if r.Addresses == nil {
			continue
		}
		for _, address := range r.Addresses.All {
			p.refs.Mention(address, sv)
		}
	}
	return nil
}

// StateVersions returns the state versions with a parsed manifest, ascending.
func (p *Processor) StateVersions() []int64 {
	return p.stateVersions
}

// Result returns the analysis of the manifest committed at stateVersion.
func (p *Processor) Result(stateVersion int64) (*Result, bool) {
	r, ok := p.results[stateVersion]
	return r, ok
}

// Classes returns the manifest classes of the transaction at stateVersion.
func (p *Processor) Classes(stateVersion int64) []Class {
	if r, ok := p.results[stateVersion]; ok {
		return r.Classes
	}
	return nil
}

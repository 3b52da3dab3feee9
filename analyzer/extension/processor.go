package extension

import (
	"context"

	"github.com/ledgerindex/gateway/storage/coreapi"
)

// Position locates an operation on the ledger. Operations of a transaction
// are numbered created, then updated, then deleted substates.
type Position struct {
	StateVersion int64
	GroupIndex   int
	IndexInGroup int
}

// After reports whether p is strictly later than o.
func (p Position) After(o Position) bool {
	if p.StateVersion != o.StateVersion {
		return p.StateVersion > o.StateVersion
	}
	if p.GroupIndex != o.GroupIndex {
		return p.GroupIndex > o.GroupIndex
	}
	return p.IndexInGroup > o.IndexInGroup
}

// Processor is one concern of the ledger extension. For every batch the
// driver calls LoadDependencies, then the visitor methods the processor
// implements for each transaction in ascending state version, then
// ProcessChanges, then SaveEntities.
type Processor interface {
	// LoadDependencies reads the database state the batch builds upon.
	LoadDependencies(ctx context.Context) error
	// ProcessChanges turns everything visited into rows to write.
	ProcessChanges() error
	// SaveEntities writes the rows and returns how many were written.
	SaveEntities(ctx context.Context) (int, error)
}

// TransactionScanner sees the whole batch before entity resolution.
type TransactionScanner interface {
	ScanTransactions(ctx context.Context, txs []coreapi.CommittedTransaction) error
}

// SubstateScanner sees every state update before entity resolution.
type SubstateScanner interface {
	ScanUpsert(substate *coreapi.UpsertedSubstate, stateVersion int64) error
	ScanDelete(id *coreapi.SubstateID, stateVersion int64) error
}

type TransactionVisitor interface {
	VisitTransaction(tx *coreapi.CommittedTransaction, stateVersion int64) error
}

// UpsertVisitor sees created (created is true) and updated substates.
type UpsertVisitor interface {
	VisitUpsert(substate *coreapi.UpsertedSubstate, entity *ReferencedEntity, pos Position, created bool) error
}

type DeleteVisitor interface {
	VisitDelete(id *coreapi.SubstateID, entity *ReferencedEntity, pos Position) error
}

type EventVisitor interface {
	VisitEvent(event *coreapi.Event, stateVersion int64) error
}

type DecodedEventVisitor interface {
	VisitDecodedEvent(event DecodedEvent, emitter *ReferencedEntity, stateVersion int64) error
}

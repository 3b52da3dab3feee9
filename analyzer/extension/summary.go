package extension

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerindex/gateway/analyzer/queries"
	"github.com/ledgerindex/gateway/storage"
)

// TransactionSummary describes the last committed transaction. It is
// carried from batch to batch and persisted as the ledger watermark.
type TransactionSummary struct {
	StateVersion             int64
	Epoch                    int64
	RoundInEpoch             int64
	IndexInEpoch             int64
	IndexInRound             int64
	RoundTimestamp           time.Time
	NormalizedRoundTimestamp time.Time
	CreatedTimestamp         time.Time
	TransactionTreeHash      string
	ReceiptTreeHash          string
	StateTreeHash            string
}

// Querier is the read side shared by storage.TargetStorage and storage.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// LoadSummary returns the persisted watermark, or nil on an empty ledger.
func LoadSummary(ctx context.Context, q Querier) (*TransactionSummary, error) {
	var s TransactionSummary
	err := q.QueryRow(ctx, queries.SelectWatermark).Scan(
		&s.StateVersion,
		&s.Epoch,
		&s.RoundInEpoch,
		&s.IndexInEpoch,
		&s.IndexInRound,
		&s.RoundTimestamp,
		&s.NormalizedRoundTimestamp,
		&s.CreatedTimestamp,
		&s.TransactionTreeHash,
		&s.ReceiptTreeHash,
		&s.StateTreeHash,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("loading ledger watermark: %w", err)
	}
	return &s, nil
}

// Save advances the watermark to s.
func (s *TransactionSummary) Save(ctx context.Context, tx storage.Tx) error {
	if _, err := tx.Exec(ctx, queries.UpsertWatermark,
		s.StateVersion,
		s.Epoch,
		s.RoundInEpoch,
		s.IndexInEpoch,
		s.IndexInRound,
		s.RoundTimestamp,
		s.NormalizedRoundTimestamp,
		s.CreatedTimestamp,
		s.TransactionTreeHash,
		s.ReceiptTreeHash,
		s.StateTreeHash,
	); err != nil {
		return fmt.Errorf("saving ledger watermark: %w", err)
	}
	return nil
}

// PreGenesisSummary is the summary the first transaction of an empty ledger
// builds upon. Its indexes are -1 so that the first transaction gets 0.
func PreGenesisSummary(now time.Time) *TransactionSummary {
	return &TransactionSummary{
		IndexInEpoch:             -1,
		IndexInRound:             -1,
		RoundTimestamp:           time.Unix(0, 0).UTC(),
		NormalizedRoundTimestamp: time.Unix(0, 0).UTC(),
		CreatedTimestamp:         now,
	}
}

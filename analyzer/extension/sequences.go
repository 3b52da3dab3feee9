package extension

import (
	"context"
	"fmt"

	"github.com/ledgerindex/gateway/analyzer/queries"
	"github.com/ledgerindex/gateway/storage"
)

// Sequences holds the next id of every output table. A single instance is
// shared by reference between the processors of a batch; each processor
// only draws from the sequences of the tables it writes.
type Sequences struct {
	Entity                        int64
	KeyValueStoreEntryHistory     int64
	KeyValueStoreAggregateHistory int64
	LedgerTransactionMarker       int64
	Substate                      int64
}

func next(seq *int64) int64 {
	id := *seq
	*seq++
	return id
}

func (s *Sequences) NextEntity() int64 { return next(&s.Entity) }

func (s *Sequences) NextKeyValueStoreEntryHistory() int64 {
	return next(&s.KeyValueStoreEntryHistory)
}

func (s *Sequences) NextKeyValueStoreAggregateHistory() int64 {
	return next(&s.KeyValueStoreAggregateHistory)
}

func (s *Sequences) NextLedgerTransactionMarker() int64 { return next(&s.LedgerTransactionMarker) }

func (s *Sequences) NextSubstate() int64 { return next(&s.Substate) }

// LoadSequences reserves the next id of every table inside tx.
func LoadSequences(ctx context.Context, tx storage.Tx) (*Sequences, error) {
	var s Sequences
	if err := tx.QueryRow(ctx, queries.NextSequenceValues).Scan(
		&s.Entity,
		&s.KeyValueStoreEntryHistory,
		&s.KeyValueStoreAggregateHistory,
		&s.LedgerTransactionMarker,
		&s.Substate,
	); err != nil {
		return nil, fmt.Errorf("loading sequences: %w", err)
	}
	return &s, nil
}

// Save stores the sequences so that the next LoadSequences continues
// exactly where this batch stopped.
func (s *Sequences) Save(ctx context.Context, tx storage.Tx) error {
	if _, err := tx.Exec(ctx, queries.SetSequenceValues,
		s.Entity,
		s.KeyValueStoreEntryHistory,
		s.KeyValueStoreAggregateHistory,
		s.LedgerTransactionMarker,
		s.Substate,
	); err != nil {
		return fmt.Errorf("saving sequences: %w", err)
	}
	return nil
}

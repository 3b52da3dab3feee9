package api

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/analyzer/queries"
	"github.com/ledgerindex/gateway/common"
	"github.com/ledgerindex/gateway/storage"
)

// LedgerState is the committed ledger watermark as served by the API.
type LedgerState struct {
	StateVersion             int64     `json:"state_version"`
	Epoch                    int64     `json:"epoch"`
	RoundInEpoch             int64     `json:"round_in_epoch"`
	IndexInEpoch             int64     `json:"index_in_epoch"`
	IndexInRound             int64     `json:"index_in_round"`
	RoundTimestamp           time.Time `json:"round_timestamp"`
	NormalizedRoundTimestamp time.Time `json:"normalized_round_timestamp"`
	CreatedTimestamp         time.Time `json:"created_timestamp"`
	TransactionTreeHash      string    `json:"transaction_tree_hash"`
	ReceiptTreeHash          string    `json:"receipt_tree_hash"`
	StateTreeHash            string    `json:"state_tree_hash"`
}

func newLedgerState(s *extension.TransactionSummary) *LedgerState {
	if s == nil {
		return nil
	}
	return &LedgerState{
		StateVersion:             s.StateVersion,
		Epoch:                    s.Epoch,
		RoundInEpoch:             s.RoundInEpoch,
		IndexInEpoch:             s.IndexInEpoch,
		IndexInRound:             s.IndexInRound,
		RoundTimestamp:           s.RoundTimestamp,
		NormalizedRoundTimestamp: s.NormalizedRoundTimestamp,
		CreatedTimestamp:         s.CreatedTimestamp,
		TransactionTreeHash:      s.TransactionTreeHash,
		ReceiptTreeHash:          s.ReceiptTreeHash,
		StateTreeHash:            s.StateTreeHash,
	}
}

// TransactionSummary is one recently committed ledger transaction.
type TransactionSummary struct {
	StateVersion             int64              `json:"state_version"`
	Kind                     string             `json:"kind"`
	Epoch                    int64              `json:"epoch"`
	RoundInEpoch             int64              `json:"round_in_epoch"`
	NormalizedRoundTimestamp time.Time          `json:"normalized_round_timestamp"`
	ReceiptStatus            string             `json:"receipt_status"`
	FeePaid                  common.TokenAmount `json:"fee_paid"`
}

// Status is the body of GET /v1/status.
type Status struct {
	// LedgerState is nil until the first batch is committed.
	LedgerState        *LedgerState         `json:"ledger_state"`
	RecentTransactions []TransactionSummary `json:"recent_transactions"`
}

// StatusSource reads what the status endpoint reports.
type StatusSource interface {
	Watermark(ctx context.Context) (*extension.TransactionSummary, error)
	RecentTransactions(ctx context.Context, limit uint64) ([]TransactionSummary, error)
}

// StorageStatusSource reads the status from the gateway database.
type StorageStatusSource struct {
	db storage.TargetStorage
}

var _ StatusSource = (*StorageStatusSource)(nil)

func NewStorageStatusSource(db storage.TargetStorage) *StorageStatusSource {
	return &StorageStatusSource{db: db}
}

func (s *StorageStatusSource) Watermark(ctx context.Context) (*extension.TransactionSummary, error) {
	return extension.LoadSummary(ctx, s.db)
}

func (s *StorageStatusSource) RecentTransactions(ctx context.Context, limit uint64) ([]TransactionSummary, error) {
	sql, args, err := queries.SelectTransactionSummaries(limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []TransactionSummary{}
	for rows.Next() {
		var t TransactionSummary
		if err := rows.Scan(
			&t.StateVersion,
			&t.Kind,
			&t.Epoch,
			&t.RoundInEpoch,
			&t.NormalizedRoundTimestamp,
			&t.ReceiptStatus,
			&t.FeePaid,
		); err != nil {
			return nil, fmt.Errorf("scanning transaction summary: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

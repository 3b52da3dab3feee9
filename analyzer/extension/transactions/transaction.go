// Package transactions maintains the ledger_transactions table: one row per
// committed transaction, positioned in its epoch and round.
package transactions

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ledgerindex/gateway/analyzer/extension/manifest"
	"github.com/ledgerindex/gateway/common"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

const transactionsTable = "ledger_transactions"

var transactionColumns = []string{
	"state_version", "discriminator", "epoch", "round_in_epoch", "index_in_epoch", "index_in_round",
	"fee_paid", "tip_paid", "affected_global_entities",
	"round_timestamp", "created_timestamp", "normalized_round_timestamp",
	"transaction_tree_hash", "receipt_tree_hash", "state_tree_hash",
	"receipt_status", "receipt_fee_summary", "receipt_state_updates", "receipt_costing_parameters",
	"receipt_fee_source", "receipt_fee_destination", "receipt_next_epoch", "receipt_output",
	"receipt_error_message", "receipt_event_emitters", "receipt_event_names", "receipt_event_emitter_ids",
	"balance_changes",
	"payload_hash", "intent_hash", "signed_intent_hash", "message", "raw_payload",
	"manifest_instructions", "manifest_classes",
}

var discriminators = map[coreapi.TransactionKind]string{
	coreapi.KindGenesis:     "genesis",
	coreapi.KindUser:        "user",
	coreapi.KindRoundUpdate: "round_update",
	coreapi.KindFlash:       "flash",
}

// LedgerTransaction is a row of ledger_transactions.
type LedgerTransaction struct {
	StateVersion  int64
	Discriminator string
	Epoch         int64
	RoundInEpoch  int64
	IndexInEpoch  int64
	IndexInRound  int64

	FeePaid                common.TokenAmount
	TipPaid                common.TokenAmount
	AffectedGlobalEntities []int64

	RoundTimestamp           time.Time
	CreatedTimestamp         time.Time
	NormalizedRoundTimestamp time.Time

	TransactionTreeHash string
	ReceiptTreeHash     string
	StateTreeHash       string

	ReceiptStatus            string
	ReceiptFeeSummary        json.RawMessage
	ReceiptStateUpdates      json.RawMessage
	ReceiptCostingParameters json.RawMessage
	ReceiptFeeSource         json.RawMessage
	ReceiptFeeDestination    json.RawMessage
	ReceiptNextEpoch         json.RawMessage
	ReceiptOutput            json.RawMessage
	ReceiptErrorMessage      *string
	ReceiptEventEmitters     json.RawMessage
	ReceiptEventNames        []string
	ReceiptEventEmitterIDs   []int64
	BalanceChanges           json.RawMessage

	// User is set for user transactions only.
	User *UserTransaction
}

type UserTransaction struct {
	PayloadHash          string
	IntentHash           string
	SignedIntentHash     string
	Message              json.RawMessage
	RawPayload           []byte
	ManifestInstructions string
	ManifestClasses      []manifest.Class
}

func jsonb(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (lt *LedgerTransaction) row() []interface{} {
	r := []interface{}{
		lt.StateVersion, lt.Discriminator, lt.Epoch, lt.RoundInEpoch, lt.IndexInEpoch, lt.IndexInRound,
		lt.FeePaid, lt.TipPaid, lt.AffectedGlobalEntities,
		lt.RoundTimestamp, lt.CreatedTimestamp, lt.NormalizedRoundTimestamp,
		lt.TransactionTreeHash, lt.ReceiptTreeHash, lt.StateTreeHash,
		lt.ReceiptStatus, lt.ReceiptFeeSummary, lt.ReceiptStateUpdates, jsonb(lt.ReceiptCostingParameters),
		jsonb(lt.ReceiptFeeSource), jsonb(lt.ReceiptFeeDestination), jsonb(lt.ReceiptNextEpoch), jsonb(lt.ReceiptOutput),
		lt.ReceiptErrorMessage, lt.ReceiptEventEmitters, lt.ReceiptEventNames, lt.ReceiptEventEmitterIDs,
		jsonb(lt.BalanceChanges),
	}
	if lt.User == nil {
		return append(r, nil, nil, nil, nil, nil, nil, nil)
	}
	u := lt.User
	classes := make([]string, 0, len(u.ManifestClasses))
	for _, c := range u.ManifestClasses {
		classes = append(classes, string(c))
	}
	var payload interface{}
	if u.RawPayload != nil {
		payload = u.RawPayload
	}
	return append(r,
		u.PayloadHash, u.IntentHash, u.SignedIntentHash, jsonb(u.Message), payload,
		u.ManifestInstructions, classes,
	)
}

func receiptStatus(s coreapi.TransactionStatus) string {
	return strings.ToLower(string(s))
}

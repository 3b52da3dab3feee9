package coreapi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ledgerindex/gateway/common"
)

// TransactionKind discriminates the payload of a LedgerTransaction.
type TransactionKind string

const (
	KindGenesis     TransactionKind = "Genesis"
	KindUser        TransactionKind = "User"
	KindRoundUpdate TransactionKind = "RoundUpdate"
	KindFlash       TransactionKind = "Flash"
)

// TransactionStatus is the outcome reported in a receipt.
type TransactionStatus string

const (
	StatusSucceeded TransactionStatus = "Succeeded"
	StatusFailed    TransactionStatus = "Failed"
)

// CommittedTransaction is one entry of the committed transaction stream.
type CommittedTransaction struct {
	ResultantStateIdentifiers ResultantStateIdentifiers `json:"resultant_state_identifiers"`
	LedgerTransaction         LedgerTransaction         `json:"ledger_transaction"`
	Receipt                   Receipt                   `json:"receipt"`
	BalanceChanges            json.RawMessage           `json:"balance_changes,omitempty"`
}

// StateVersion is the version at which the transaction was committed.
func (t *CommittedTransaction) StateVersion() int64 {
	return t.ResultantStateIdentifiers.StateVersion
}

// ResultantStateIdentifiers identify the ledger state after a transaction.
type ResultantStateIdentifiers struct {
	StateVersion        int64  `json:"state_version"`
	StateTreeHash       string `json:"state_tree_hash"`
	TransactionTreeHash string `json:"transaction_tree_hash"`
	ReceiptTreeHash     string `json:"receipt_tree_hash"`
}

// LedgerTransaction is the payload of a committed transaction. Exactly one
// of the kind-specific fields is set, as indicated by Type.
type LedgerTransaction struct {
	Type       TransactionKind `json:"type"`
	PayloadHex string          `json:"payload_hex"`

	RoundUpdateTransaction *RoundUpdateTransaction `json:"round_update_transaction,omitempty"`
	NotarizedTransaction   *NotarizedTransaction   `json:"notarized_transaction,omitempty"`
}

// Validate checks that the kind is known and carries its payload.
func (lt *LedgerTransaction) Validate() error {
	switch lt.Type {
	case KindGenesis, KindFlash:
		return nil
	case KindRoundUpdate:
		if lt.RoundUpdateTransaction == nil {
			return fmt.Errorf("round update transaction without round_update_transaction")
		}
		return nil
	case KindUser:
		if lt.NotarizedTransaction == nil {
			return fmt.Errorf("user transaction without notarized_transaction")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransactionKind, lt.Type)
	}
}

// RoundUpdateTransaction starts a new consensus round.
type RoundUpdateTransaction struct {
	Epoch               int64 `json:"epoch"`
	RoundInEpoch        int64 `json:"round_in_epoch"`
	ProposerTimestampMs int64 `json:"proposer_timestamp_ms"`
}

// NotarizedTransaction is a user-submitted transaction.
type NotarizedTransaction struct {
	HashBech32m  string       `json:"hash_bech32m"`
	PayloadHex   string       `json:"payload_hex"`
	SignedIntent SignedIntent `json:"signed_intent"`
}

// PayloadBytes returns the decoded raw payload.
func (n *NotarizedTransaction) PayloadBytes() ([]byte, error) {
	return hex.DecodeString(n.PayloadHex)
}

type SignedIntent struct {
	HashBech32m string `json:"hash_bech32m"`
	Intent      Intent `json:"intent"`
}

type Intent struct {
	HashBech32m  string            `json:"hash_bech32m"`
	Instructions string            `json:"instructions"`
	BlobsHex     map[string]string `json:"blobs_hex,omitempty"`
	Message      json.RawMessage   `json:"message,omitempty"`
}

// Receipt is the engine receipt of a committed transaction.
type Receipt struct {
	Status            TransactionStatus `json:"status"`
	FeeSummary        FeeSummary        `json:"fee_summary"`
	CostingParameters json.RawMessage   `json:"costing_parameters,omitempty"`
	FeeSource         json.RawMessage   `json:"fee_source,omitempty"`
	FeeDestination    json.RawMessage   `json:"fee_destination,omitempty"`
	StateUpdates      StateUpdates      `json:"state_updates"`
	Events            []Event           `json:"events,omitempty"`
	Output            json.RawMessage   `json:"output,omitempty"`
	NextEpoch         *NextEpoch        `json:"next_epoch,omitempty"`
	ErrorMessage      *string           `json:"error_message,omitempty"`
}

// FeeSummary breaks down the XRD costs of a transaction.
type FeeSummary struct {
	ExecutionCostUnitsConsumed    int64              `json:"execution_cost_units_consumed"`
	FinalizationCostUnitsConsumed int64              `json:"finalization_cost_units_consumed"`
	XrdTotalExecutionCost         common.TokenAmount `json:"xrd_total_execution_cost"`
	XrdTotalFinalizationCost      common.TokenAmount `json:"xrd_total_finalization_cost"`
	XrdTotalRoyaltyCost           common.TokenAmount `json:"xrd_total_royalty_cost"`
	XrdTotalStorageCost           common.TokenAmount `json:"xrd_total_storage_cost"`
	XrdTotalTippingCost           common.TokenAmount `json:"xrd_total_tipping_cost"`
}

// TotalFee is everything the fee payer was charged, tip included.
func (f FeeSummary) TotalFee() common.TokenAmount {
	return f.XrdTotalExecutionCost.
		Add(f.XrdTotalFinalizationCost).
		Add(f.XrdTotalRoyaltyCost).
		Add(f.XrdTotalStorageCost).
		Add(f.XrdTotalTippingCost)
}

// TotalTip is the tipping part of TotalFee.
func (f FeeSummary) TotalTip() common.TokenAmount {
	return f.XrdTotalTippingCost
}

// NextEpoch is reported by the receipt of the transaction ending an epoch.
type NextEpoch struct {
	Epoch      int64           `json:"epoch"`
	Validators json.RawMessage `json:"validators,omitempty"`
}

// StateUpdates lists the substate-level effects of a transaction.
type StateUpdates struct {
	CreatedSubstates  []UpsertedSubstate `json:"created_substates"`
	UpdatedSubstates  []UpsertedSubstate `json:"updated_substates"`
	DeletedSubstates  []DeletedSubstate  `json:"deleted_substates"`
	NewGlobalEntities []EntityReference  `json:"new_global_entities"`
}

// EntityReference identifies an entity by address.
type EntityReference struct {
	EntityType    EntityType `json:"entity_type"`
	IsGlobal      bool       `json:"is_global"`
	EntityAddress string     `json:"entity_address"`
}

// SubstateKeyType is the kind of key within a partition.
type SubstateKeyType string

const (
	KeyTypeField  SubstateKeyType = "Field"
	KeyTypeMap    SubstateKeyType = "Map"
	KeyTypeSorted SubstateKeyType = "Sorted"
)

type SubstateKey struct {
	KeyType SubstateKeyType `json:"key_type"`
	KeyHex  string          `json:"key_hex"`
}

// SubstateID addresses a substate: entity, partition, key.
type SubstateID struct {
	EntityType      EntityType   `json:"entity_type"`
	EntityAddress   string       `json:"entity_address"`
	PartitionNumber int          `json:"partition_number"`
	SubstateType    SubstateType `json:"substate_type"`
	SubstateKey     SubstateKey  `json:"substate_key"`
}

// KeyBytes returns the decoded substate key.
func (id *SubstateID) KeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(id.SubstateKey.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: substate key of %s: %v", ErrMalformedSubstate, id.EntityAddress, err)
	}
	return key, nil
}

// EntityReference returns the reference to the entity owning the substate.
func (id *SubstateID) EntityReference() EntityReference {
	return EntityReference{
		EntityType:    id.EntityType,
		IsGlobal:      id.EntityType.IsGlobal(),
		EntityAddress: id.EntityAddress,
	}
}

// UpsertedSubstate is a created or updated substate.
type UpsertedSubstate struct {
	SubstateID    SubstateID     `json:"substate_id"`
	Value         SubstateValue  `json:"value"`
	PreviousValue *SubstateValue `json:"previous_value,omitempty"`
}

type SubstateValue struct {
	SubstateHex      string       `json:"substate_hex"`
	SubstateDataHash string       `json:"substate_data_hash"`
	SubstateData     SubstateData `json:"substate_data"`
}

// DeletedSubstate is a substate removed by a transaction.
type DeletedSubstate struct {
	SubstateID    SubstateID     `json:"substate_id"`
	PreviousValue *SubstateValue `json:"previous_value,omitempty"`
}

// Event is an event emitted during execution.
type Event struct {
	Type EventType `json:"type"`
	Data EventData `json:"data"`
}

type EventType struct {
	Emitter EventEmitter `json:"emitter"`
	Name    string       `json:"name"`
}

// EmitterKind distinguishes method emitters (an entity) from function
// emitters (a blueprint of a package).
type EmitterKind string

const (
	EmitterMethod   EmitterKind = "Method"
	EmitterFunction EmitterKind = "Function"
)

type EventEmitter struct {
	Type           EmitterKind      `json:"type"`
	Entity         *EntityReference `json:"entity,omitempty"`
	ObjectModuleID string           `json:"object_module_id,omitempty"`
	PackageAddress string           `json:"package_address,omitempty"`
	BlueprintName  string           `json:"blueprint_name,omitempty"`
}

// Address returns the address of the emitting entity or package.
func (e *EventEmitter) Address() (string, error) {
	switch e.Type {
	case EmitterMethod:
		if e.Entity == nil {
			return "", fmt.Errorf("method emitter without entity")
		}
		return e.Entity.EntityAddress, nil
	case EmitterFunction:
		if e.PackageAddress == "" {
			return "", fmt.Errorf("function emitter without package address")
		}
		return e.PackageAddress, nil
	default:
		return "", fmt.Errorf("unknown event emitter type %q", e.Type)
	}
}

type EventData struct {
	RawHex           string          `json:"raw_hex"`
	ProgrammaticJSON json.RawMessage `json:"programmatic_json,omitempty"`
}

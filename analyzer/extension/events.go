package extension

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerindex/gateway/common"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

// DecodedEventKind is the kind of a natively understood event.
type DecodedEventKind int

const (
	FungibleVaultWithdrawal DecodedEventKind = iota
	FungibleVaultDeposit
	NonFungibleVaultWithdrawal
	NonFungibleVaultDeposit
)

// IsWithdrawal reports whether the event moves resources out of a vault.
func (k DecodedEventKind) IsWithdrawal() bool {
	return k == FungibleVaultWithdrawal || k == NonFungibleVaultWithdrawal
}

// DecodedEvent is a vault event with its quantity: the amount for fungible
// vaults, the number of ids for non-fungible ones.
type DecodedEvent struct {
	Kind     DecodedEventKind
	Quantity common.TokenAmount
}

const (
	withdrawEventName = "WithdrawEvent"
	depositEventName  = "DepositEvent"
)

// programmaticValue is the subset of the programmatic JSON encoding needed
// to read vault events.
type programmaticValue struct {
	Kind     string              `json:"kind"`
	Value    json.RawMessage     `json:"value,omitempty"`
	Fields   []programmaticValue `json:"fields,omitempty"`
	Elements []json.RawMessage   `json:"elements,omitempty"`
}

// DecodeEvent decodes the natively understood events. ok is false for any
// other event. A malformed payload of a recognized event is an error; the
// caller degrades by skipping the event.
func DecodeEvent(event *coreapi.Event) (decoded DecodedEvent, ok bool, err error) {
	emitter := &event.Type.Emitter
	if emitter.Type != coreapi.EmitterMethod || emitter.Entity == nil {
		return DecodedEvent{}, false, nil
	}

	var fungible bool
	switch emitter.Entity.EntityType {
	case coreapi.EntityInternalFungibleVault:
		fungible = true
	case coreapi.EntityInternalNonFungibleVault:
		fungible = false
	default:
		return DecodedEvent{}, false, nil
	}

	var withdrawal bool
	switch event.Type.Name {
	case withdrawEventName:
		withdrawal = true
	case depositEventName:
		withdrawal = false
	default:
		return DecodedEvent{}, false, nil
	}

	decoded.Kind = kindOf(fungible, withdrawal)
	if len(event.Data.ProgrammaticJSON) == 0 {
		return DecodedEvent{}, false, fmt.Errorf("%s of %s: no programmatic payload", event.Type.Name, emitter.Entity.EntityAddress)
	}
	var payload programmaticValue
	if err = json.Unmarshal(event.Data.ProgrammaticJSON, &payload); err != nil {
		return DecodedEvent{}, false, fmt.Errorf("%s of %s: %w", event.Type.Name, emitter.Entity.EntityAddress, err)
	}
	if payload.Kind != "Tuple" || len(payload.Fields) != 1 {
		return DecodedEvent{}, false, fmt.Errorf("%s of %s: expected a single-field tuple", event.Type.Name, emitter.Entity.EntityAddress)
	}
	field := payload.Fields[0]

	if fungible {
		if field.Kind != "Decimal" {
			return DecodedEvent{}, false, fmt.Errorf("%s of %s: expected Decimal, got %s", event.Type.Name, emitter.Entity.EntityAddress, field.Kind)
		}
		var amount string
		if err = json.Unmarshal(field.Value, &amount); err != nil {
			return DecodedEvent{}, false, fmt.Errorf("%s of %s: %w", event.Type.Name, emitter.Entity.EntityAddress, err)
		}
		if decoded.Quantity, err = common.ParseTokenAmount(amount); err != nil {
			return DecodedEvent{}, false, fmt.Errorf("%s of %s: %w", event.Type.Name, emitter.Entity.EntityAddress, err)
		}
		return decoded, true, nil
	}

	if field.Kind != "Array" {
		return DecodedEvent{}, false, fmt.Errorf("%s of %s: expected Array, got %s", event.Type.Name, emitter.Entity.EntityAddress, field.Kind)
	}
	decoded.Quantity = common.NewTokenAmountFromInt64(int64(len(field.Elements)))
	return decoded, true, nil
}

func kindOf(fungible, withdrawal bool) DecodedEventKind {
	switch {
	case fungible && withdrawal:
		return FungibleVaultWithdrawal
	case fungible:
		return FungibleVaultDeposit
	case withdrawal:
		return NonFungibleVaultWithdrawal
	default:
		return NonFungibleVaultDeposit
	}
}

package coreapi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SubstateType is the engine-level type of a substate value.
type SubstateType string

const (
	SubstateTypeInfo                     SubstateType = "TypeInfoModuleFieldTypeInfo"
	SubstateGenericKeyValueStoreEntry    SubstateType = "GenericKeyValueStoreEntry"
	SubstateConsensusManagerState        SubstateType = "ConsensusManagerFieldState"
	SubstateConsensusManagerCurrentTime  SubstateType = "ConsensusManagerFieldCurrentTime"
	SubstateConsensusManagerConfig       SubstateType = "ConsensusManagerFieldConfig"
	SubstateConsensusManagerValidatorSet SubstateType = "ConsensusManagerFieldCurrentValidatorSet"
	SubstateFungibleVaultBalance         SubstateType = "FungibleVaultFieldBalance"
	SubstateFungibleVaultFrozenStatus    SubstateType = "FungibleVaultFieldFrozenStatus"
	SubstateNonFungibleVaultBalance      SubstateType = "NonFungibleVaultFieldBalance"
	SubstateNonFungibleVaultContents     SubstateType = "NonFungibleVaultContentsIndexEntry"
	SubstateFungibleResourceSupply       SubstateType = "FungibleResourceManagerFieldTotalSupply"
	SubstateFungibleResourceDivisibility SubstateType = "FungibleResourceManagerFieldDivisibility"
	SubstateNonFungibleResourceSupply    SubstateType = "NonFungibleResourceManagerFieldTotalSupply"
	SubstateNonFungibleResourceIDType    SubstateType = "NonFungibleResourceManagerFieldIdType"
	SubstateNonFungibleResourceData      SubstateType = "NonFungibleResourceManagerDataEntry"
	SubstateAccountState                 SubstateType = "AccountFieldState"
	SubstateAccountVaultEntry            SubstateType = "AccountVaultEntry"
	SubstateAccountResourcePreference    SubstateType = "AccountResourcePreferenceEntry"
	SubstateAccountAuthorizedDepositor   SubstateType = "AccountAuthorizedDepositorEntry"
	SubstateAccountLockerAccountClaims   SubstateType = "AccountLockerAccountClaimsEntry"
	SubstateValidatorState               SubstateType = "ValidatorFieldState"
	SubstateValidatorProtocolUpdate      SubstateType = "ValidatorFieldProtocolUpdateReadinessSignal"
	SubstateMetadataEntry                SubstateType = "MetadataModuleEntry"
	SubstateRoleAssignmentOwner          SubstateType = "RoleAssignmentModuleFieldOwnerRole"
	SubstateRoleAssignmentRule           SubstateType = "RoleAssignmentModuleRuleEntry"
	SubstateRoyaltyState                 SubstateType = "RoyaltyModuleFieldState"
	SubstateRoyaltyMethodEntry           SubstateType = "RoyaltyModuleMethodRoyaltyEntry"
	SubstatePackageRoyaltyAccumulator    SubstateType = "PackageFieldRoyaltyAccumulator"
	SubstatePackageCodeVMType            SubstateType = "PackageCodeVmTypeEntry"
	SubstatePackageCodeOriginal          SubstateType = "PackageCodeOriginalCodeEntry"
	SubstatePackageCodeInstrumented      SubstateType = "PackageCodeInstrumentedCodeEntry"
	SubstatePackageBlueprintDefinition   SubstateType = "PackageBlueprintDefinitionEntry"
	SubstatePackageBlueprintDependencies SubstateType = "PackageBlueprintDependenciesEntry"
	SubstatePackageBlueprintRoyalty      SubstateType = "PackageBlueprintRoyaltyEntry"
	SubstatePackageBlueprintAuthTemplate SubstateType = "PackageBlueprintAuthTemplateEntry"
	SubstateSchemaEntry                  SubstateType = "SchemaEntry"
	SubstateGenericScryptoComponentState SubstateType = "GenericScryptoComponentFieldState"
	SubstateOneResourcePoolState         SubstateType = "OneResourcePoolFieldState"
	SubstateTwoResourcePoolState         SubstateType = "TwoResourcePoolFieldState"
	SubstateMultiResourcePoolState       SubstateType = "MultiResourcePoolFieldState"
	SubstateAccessControllerState        SubstateType = "AccessControllerFieldState"
	SubstateTransactionTrackerState      SubstateType = "TransactionTrackerFieldState"
	SubstateTransactionTrackerEntry      SubstateType = "TransactionTrackerCollectionEntry"
	SubstateBootLoaderVMBoot             SubstateType = "BootLoaderModuleFieldVmBoot"
	SubstateBootLoaderSystemBoot         SubstateType = "BootLoaderModuleFieldSystemBoot"
	SubstateBootLoaderKernelBoot         SubstateType = "BootLoaderModuleFieldKernelBoot"
	SubstateBootLoaderTransactionBoot    SubstateType = "BootLoaderModuleFieldTransactionValidationConfiguration"
	SubstateBootLoaderProtocolUpdate     SubstateType = "BootLoaderModuleFieldProtocolUpdateStatusSummary"
)

var knownSubstateTypes = map[SubstateType]struct{}{}

func init() {
	for _, t := range []SubstateType{
		SubstateTypeInfo, SubstateGenericKeyValueStoreEntry,
		SubstateConsensusManagerState, SubstateConsensusManagerCurrentTime,
		SubstateConsensusManagerConfig, SubstateConsensusManagerValidatorSet,
		SubstateFungibleVaultBalance, SubstateFungibleVaultFrozenStatus,
		SubstateNonFungibleVaultBalance, SubstateNonFungibleVaultContents,
		SubstateFungibleResourceSupply, SubstateFungibleResourceDivisibility,
		SubstateNonFungibleResourceSupply, SubstateNonFungibleResourceIDType,
		SubstateNonFungibleResourceData, SubstateAccountState,
		SubstateAccountVaultEntry, SubstateAccountResourcePreference,
		SubstateAccountAuthorizedDepositor, SubstateAccountLockerAccountClaims,
		SubstateValidatorState, SubstateValidatorProtocolUpdate,
		SubstateMetadataEntry, SubstateRoleAssignmentOwner, SubstateRoleAssignmentRule,
		SubstateRoyaltyState, SubstateRoyaltyMethodEntry, SubstatePackageRoyaltyAccumulator,
		SubstatePackageCodeVMType, SubstatePackageCodeOriginal, SubstatePackageCodeInstrumented,
		SubstatePackageBlueprintDefinition, SubstatePackageBlueprintDependencies,
		SubstatePackageBlueprintRoyalty, SubstatePackageBlueprintAuthTemplate,
		SubstateSchemaEntry, SubstateGenericScryptoComponentState,
		SubstateOneResourcePoolState, SubstateTwoResourcePoolState, SubstateMultiResourcePoolState,
		SubstateAccessControllerState, SubstateTransactionTrackerState, SubstateTransactionTrackerEntry,
		SubstateBootLoaderVMBoot, SubstateBootLoaderSystemBoot, SubstateBootLoaderKernelBoot,
		SubstateBootLoaderTransactionBoot, SubstateBootLoaderProtocolUpdate,
	} {
		knownSubstateTypes[t] = struct{}{}
	}
}

// IsKnown reports whether the gateway understands substates of this type.
func (t SubstateType) IsKnown() bool {
	_, ok := knownSubstateTypes[t]
	return ok
}

// SubstateData is the decoded value of a substate. The common header is
// parsed eagerly; type-specific content is decoded on demand by the
// accessors below.
type SubstateData struct {
	SubstateType  SubstateType      `json:"substate_type"`
	IsLocked      bool              `json:"is_locked"`
	OwnedEntities []EntityReference `json:"owned_entities,omitempty"`

	raw json.RawMessage
}

type substateDataHeader struct {
	SubstateType  SubstateType      `json:"substate_type"`
	IsLocked      bool              `json:"is_locked"`
	OwnedEntities []EntityReference `json:"owned_entities,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *SubstateData) UnmarshalJSON(b []byte) error {
	var h substateDataHeader
	if err := json.Unmarshal(b, &h); err != nil {
		return err
	}
	*d = SubstateData{
		SubstateType:  h.SubstateType,
		IsLocked:      h.IsLocked,
		OwnedEntities: h.OwnedEntities,
		raw:           append(json.RawMessage(nil), b...),
	}
	return nil
}

// MarshalJSON implements json.Marshaler, reproducing the original document.
func (d SubstateData) MarshalJSON() ([]byte, error) {
	if d.raw != nil {
		return d.raw, nil
	}
	return json.Marshal(substateDataHeader{
		SubstateType:  d.SubstateType,
		IsLocked:      d.IsLocked,
		OwnedEntities: d.OwnedEntities,
	})
}

// MarshalBinary implements encoding.BinaryMarshaler, used by the CBOR cache.
func (d SubstateData) MarshalBinary() ([]byte, error) {
	return d.MarshalJSON()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *SubstateData) UnmarshalBinary(b []byte) error {
	return d.UnmarshalJSON(b)
}

// NewSubstateData builds substate data from a type-specific payload. Used
// by tests and fixtures.
func NewSubstateData(t SubstateType, isLocked bool, owned []EntityReference, payload map[string]interface{}) (SubstateData, error) {
	doc := map[string]interface{}{
		"substate_type": t,
		"is_locked":     isLocked,
	}
	if len(owned) > 0 {
		doc["owned_entities"] = owned
	}
	for k, v := range payload {
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return SubstateData{}, err
	}
	var d SubstateData
	return d, d.UnmarshalJSON(raw)
}

func (d *SubstateData) decode(expected SubstateType, v interface{}) error {
	if d.SubstateType != expected {
		return fmt.Errorf("%w: substate is %s, not %s", ErrMalformedSubstate, d.SubstateType, expected)
	}
	if err := json.Unmarshal(d.raw, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedSubstate, expected, err)
	}
	return nil
}

// TypeInfo is the content of a TypeInfoModuleFieldTypeInfo substate.
type TypeInfo struct {
	Details struct {
		Type          string `json:"type"`
		BlueprintName string `json:"blueprint_name,omitempty"`
		OuterObject   string `json:"outer_object,omitempty"`
		Global        bool   `json:"global"`
	} `json:"details"`
}

// TypeInfo decodes the type info of an entity.
func (d *SubstateData) TypeInfo() (*TypeInfo, error) {
	var v struct {
		Value TypeInfo `json:"value"`
	}
	if err := d.decode(SubstateTypeInfo, &v); err != nil {
		return nil, err
	}
	return &v.Value, nil
}

// KeyValueStoreEntry is the content of a GenericKeyValueStoreEntry substate.
// A nil Value marks the entry as removed.
type KeyValueStoreEntry struct {
	KeyHex   string
	ValueHex *string
	IsLocked bool
}

// KeyValueStoreEntry decodes a generic key-value store entry.
func (d *SubstateData) KeyValueStoreEntry() (*KeyValueStoreEntry, error) {
	var v struct {
		Key struct {
			KeyHex string `json:"key_hex"`
		} `json:"key"`
		Value *struct {
			Data struct {
				RawHex string `json:"raw_hex"`
			} `json:"data"`
		} `json:"value"`
	}
	if err := d.decode(SubstateGenericKeyValueStoreEntry, &v); err != nil {
		return nil, err
	}
	entry := &KeyValueStoreEntry{KeyHex: v.Key.KeyHex, IsLocked: d.IsLocked}
	if v.Value != nil {
		entry.ValueHex = &v.Value.Data.RawHex
	}
	return entry, nil
}

// KeyBytes returns the decoded key.
func (e *KeyValueStoreEntry) KeyBytes() ([]byte, error) {
	return hex.DecodeString(e.KeyHex)
}

// ValueBytes returns the decoded value, or nil for a removed entry.
func (e *KeyValueStoreEntry) ValueBytes() ([]byte, error) {
	if e.ValueHex == nil {
		return nil, nil
	}
	value, err := hex.DecodeString(*e.ValueHex)
	if err != nil {
		return nil, fmt.Errorf("%w: key-value store entry value: %v", ErrMalformedSubstate, err)
	}
	return value, nil
}

// ConsensusManagerState is the content of a ConsensusManagerFieldState substate.
type ConsensusManagerState struct {
	Epoch int64 `json:"epoch"`
	Round int64 `json:"round"`
}

// ConsensusManagerState decodes the consensus manager state.
func (d *SubstateData) ConsensusManagerState() (*ConsensusManagerState, error) {
	var v struct {
		Value ConsensusManagerState `json:"value"`
	}
	if err := d.decode(SubstateConsensusManagerState, &v); err != nil {
		return nil, err
	}
	return &v.Value, nil
}

// CurrentTime decodes the proposer timestamp, in unix milliseconds, of a
// ConsensusManagerFieldCurrentTime substate.
func (d *SubstateData) CurrentTime() (int64, error) {
	var v struct {
		Value struct {
			ProposerTimestampMs int64 `json:"proposer_timestamp_ms"`
		} `json:"value"`
	}
	if err := d.decode(SubstateConsensusManagerCurrentTime, &v); err != nil {
		return 0, err
	}
	return v.Value.ProposerTimestampMs, nil
}

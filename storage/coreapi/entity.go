package coreapi

import "strings"

// EntityType is the engine-level type of an entity.
type EntityType string

const (
	EntityGlobalPackage                  EntityType = "GlobalPackage"
	EntityGlobalConsensusManager         EntityType = "GlobalConsensusManager"
	EntityGlobalValidator                EntityType = "GlobalValidator"
	EntityGlobalGenericComponent         EntityType = "GlobalGenericComponent"
	EntityGlobalAccount                  EntityType = "GlobalAccount"
	EntityGlobalIdentity                 EntityType = "GlobalIdentity"
	EntityGlobalAccessController         EntityType = "GlobalAccessController"
	EntityGlobalVirtualSecp256k1Account  EntityType = "GlobalVirtualSecp256k1Account"
	EntityGlobalVirtualEd25519Account    EntityType = "GlobalVirtualEd25519Account"
	EntityGlobalVirtualSecp256k1Identity EntityType = "GlobalVirtualSecp256k1Identity"
	EntityGlobalVirtualEd25519Identity   EntityType = "GlobalVirtualEd25519Identity"
	EntityGlobalFungibleResource         EntityType = "GlobalFungibleResource"
	EntityGlobalNonFungibleResource      EntityType = "GlobalNonFungibleResource"
	EntityGlobalOneResourcePool          EntityType = "GlobalOneResourcePool"
	EntityGlobalTwoResourcePool          EntityType = "GlobalTwoResourcePool"
	EntityGlobalMultiResourcePool        EntityType = "GlobalMultiResourcePool"
	EntityGlobalTransactionTracker       EntityType = "GlobalTransactionTracker"
	EntityGlobalAccountLocker            EntityType = "GlobalAccountLocker"
	EntityInternalFungibleVault          EntityType = "InternalFungibleVault"
	EntityInternalNonFungibleVault       EntityType = "InternalNonFungibleVault"
	EntityInternalGenericComponent       EntityType = "InternalGenericComponent"
	EntityInternalKeyValueStore          EntityType = "InternalKeyValueStore"
	EntityUnknown                        EntityType = ""
)

// IsGlobal reports whether entities of this type have a global address.
func (t EntityType) IsGlobal() bool {
	return strings.HasPrefix(string(t), "Global")
}

// IsAccount reports whether the type is an (allocated or pre-allocated) account.
func (t EntityType) IsAccount() bool {
	switch t {
	case EntityGlobalAccount, EntityGlobalVirtualSecp256k1Account, EntityGlobalVirtualEd25519Account:
		return true
	}
	return false
}

// IsVault reports whether the type is a fungible or non-fungible vault.
func (t EntityType) IsVault() bool {
	return t == EntityInternalFungibleVault || t == EntityInternalNonFungibleVault
}

// Address prefixes of the human-readable address encoding, in match order.
var addressPrefixes = []struct {
	prefix string
	typ    EntityType
}{
	{"internal_vault_", EntityInternalFungibleVault},
	{"internal_keyvaluestore_", EntityInternalKeyValueStore},
	{"internal_component_", EntityInternalGenericComponent},
	{"account_", EntityGlobalAccount},
	{"identity_", EntityGlobalIdentity},
	{"resource_", EntityGlobalFungibleResource},
	{"package_", EntityGlobalPackage},
	{"component_", EntityGlobalGenericComponent},
	{"validator_", EntityGlobalValidator},
	{"consensusmanager_", EntityGlobalConsensusManager},
	{"accesscontroller_", EntityGlobalAccessController},
	{"pool_", EntityGlobalMultiResourcePool},
	{"transactiontracker_", EntityGlobalTransactionTracker},
	{"locker_", EntityGlobalAccountLocker},
}

// AddressKind returns the broad entity type implied by an address prefix.
// The human-readable encoding does not distinguish fungible from
// non-fungible resources, or the pool variants, so the result is the
// representative type of its family. EntityUnknown is returned for
// unrecognized prefixes.
func AddressKind(address string) EntityType {
	for _, p := range addressPrefixes {
		if strings.HasPrefix(address, p.prefix) {
			return p.typ
		}
	}
	return EntityUnknown
}

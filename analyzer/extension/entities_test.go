package extension

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerindex/gateway/cache/kvstore"
	"github.com/ledgerindex/gateway/common"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

func mustSubstateData(t *testing.T, st coreapi.SubstateType, owned []coreapi.EntityReference, payload map[string]interface{}) coreapi.SubstateData {
	data, err := coreapi.NewSubstateData(st, false, owned, payload)
	require.NoError(t, err)
	return data
}

// accountWithVaultTx creates an account owning a new fungible vault of an
// existing resource, and emits a deposit event from the vault.
func accountWithVaultTx(t *testing.T) *coreapi.CommittedTransaction {
	account := coreapi.EntityReference{EntityType: coreapi.EntityGlobalAccount, IsGlobal: true, EntityAddress: "account_tdx_1"}
	vault := coreapi.EntityReference{EntityType: coreapi.EntityInternalFungibleVault, EntityAddress: "internal_vault_tdx_1"}

	tx := &coreapi.CommittedTransaction{}
	tx.ResultantStateIdentifiers.StateVersion = 7
	tx.LedgerTransaction.Type = coreapi.KindGenesis
	tx.Receipt.StateUpdates.NewGlobalEntities = []coreapi.EntityReference{account}
	tx.Receipt.StateUpdates.CreatedSubstates = []coreapi.UpsertedSubstate{
		{
			SubstateID: coreapi.SubstateID{
				EntityType: account.EntityType, EntityAddress: account.EntityAddress,
				SubstateType: coreapi.SubstateAccountVaultEntry,
			},
			Value: coreapi.SubstateValue{SubstateData: mustSubstateData(t, coreapi.SubstateAccountVaultEntry, []coreapi.EntityReference{vault}, nil)},
		},
		{
			SubstateID: coreapi.SubstateID{
				EntityType: vault.EntityType, EntityAddress: vault.EntityAddress,
				SubstateType: coreapi.SubstateTypeInfo,
			},
			Value: coreapi.SubstateValue{SubstateData: mustSubstateData(t, coreapi.SubstateTypeInfo, nil, map[string]interface{}{
				"value": map[string]interface{}{
					"details": map[string]interface{}{"type": "Object", "outer_object": "resource_tdx_xrd", "global": false},
				},
			})},
		},
	}
	tx.Receipt.Events = []coreapi.Event{{
		Type: coreapi.EventType{
			Emitter: coreapi.EventEmitter{Type: coreapi.EmitterMethod, Entity: &vault},
			Name:    "DepositEvent",
		},
	}}
	return tx
}

func TestScanTransactionObservesEntities(t *testing.T) {
	refs := NewReferencedEntities()
	require.NoError(t, refs.ScanTransaction(accountWithVaultTx(t)))
	refs.Mention("component_tdx_unknown", 7)

	var addresses []string
	for _, e := range refs.All() {
		addresses = append(addresses, e.Address)
	}
	require.Equal(t, []string{"account_tdx_1", "internal_vault_tdx_1", "resource_tdx_xrd", "component_tdx_unknown"}, addresses)
	require.Equal(t, "account_tdx_1", refs.parents["internal_vault_tdx_1"])
	require.Equal(t, "resource_tdx_xrd", refs.outerObjects["internal_vault_tdx_1"])

	resource, ok := refs.Get("resource_tdx_xrd")
	require.True(t, ok)
	require.True(t, resource.IsGlobal)
	require.Equal(t, coreapi.EntityGlobalFungibleResource, resource.Type)
}

func TestScanTransactionRejectsUnknownSubstate(t *testing.T) {
	tx := accountWithVaultTx(t)
	tx.Receipt.StateUpdates.UpdatedSubstates = []coreapi.UpsertedSubstate{{
		SubstateID: coreapi.SubstateID{EntityAddress: "account_tdx_1", SubstateType: "MysteryField"},
	}}
	err := NewReferencedEntities().ScanTransaction(tx)
	require.ErrorIs(t, err, coreapi.ErrUnknownSubstateKind)
	require.True(t, IsFatal(err))
}

func TestCreateObservedLinksNewEntities(t *testing.T) {
	refs := NewReferencedEntities()
	require.NoError(t, refs.ScanTransaction(accountWithVaultTx(t)))
	refs.Mention("component_tdx_unknown", 7)

	// The resource already exists.
	resource, _ := refs.Get("resource_tdx_xrd")
	resource.resolve(3, nil, nil, nil)

	seq := &Sequences{Entity: 100}
	resolver := NewEntityResolver(nil, log.NewDiscardLogger())
	created, err := resolver.createObserved(seq, refs)
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.Equal(t, int64(102), seq.Entity)

	account, vault := created[0], created[1]
	require.Equal(t, int64(100), account.ID())
	require.Equal(t, int64(101), vault.ID())
	require.Equal(t, common.Ptr(int64(100)), vault.parentID)
	require.Equal(t, common.Ptr(int64(3)), vault.outerObjectID)

	affected, ok := vault.AffectedGlobalEntityID()
	require.True(t, ok)
	require.Equal(t, int64(100), affected)
	affected, ok = account.AffectedGlobalEntityID()
	require.True(t, ok)
	require.Equal(t, int64(100), affected)

	_, ok = refs.GetResolved("component_tdx_unknown")
	require.False(t, ok, "mentioned-only addresses are never created")
	_, err = refs.MustGet("component_tdx_unknown")
	require.ErrorIs(t, err, ErrEntityNotResolved)

	row := vault.entityRow()
	require.Equal(t, []interface{}{
		int64(101), int64(7), "internal_vault_tdx_1", "InternalFungibleVault", false,
		common.Ptr(int64(100)), common.Ptr(int64(100)), common.Ptr(int64(3)),
	}, row)
}

func TestResolveFromCache(t *testing.T) {
	cache, err := kvstore.OpenKVStore(log.NewDiscardLogger(), "entities", t.TempDir(), nil)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, kvstore.Put(cache, entityCacheKey("account_tdx_1"), storedEntity{
		ID: 5, FromStateVersion: 1, Type: coreapi.EntityGlobalAccount, IsGlobal: true,
	}))
	require.NoError(t, kvstore.Put(cache, entityCacheKey("internal_vault_tdx_1"), storedEntity{
		ID: 6, FromStateVersion: 1, Type: coreapi.EntityInternalFungibleVault,
		ParentID: common.Ptr(int64(5)), GlobalAncestorID: common.Ptr(int64(5)), OuterObjectID: common.Ptr(int64(2)),
	}))

	refs := NewReferencedEntities()
	refs.ObserveAddress("account_tdx_1", 9)
	refs.ObserveAddress("internal_vault_tdx_1", 9)

	pctx := &ProcessorContext{Sequences: &Sequences{Entity: 50}, Logger: log.NewDiscardLogger()}
	resolver := NewEntityResolver(cache, log.NewDiscardLogger())
	require.NoError(t, resolver.Resolve(context.Background(), pctx, refs))

	vault, err := refs.MustGet("internal_vault_tdx_1")
	require.NoError(t, err)
	require.False(t, vault.IsNew())
	require.Equal(t, int64(6), vault.ID())
	require.Equal(t, int64(1), vault.FromStateVersion)
	resourceID, ok := vault.OuterObjectID()
	require.True(t, ok)
	require.Equal(t, int64(2), resourceID)
	require.Empty(t, refs.NewEntities())
	require.Equal(t, int64(50), pctx.Sequences.Entity)
}

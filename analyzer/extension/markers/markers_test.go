package markers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/analyzer/extension/manifest"
	"github.com/ledgerindex/gateway/common"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

var vaultRef = coreapi.EntityReference{EntityType: coreapi.EntityInternalFungibleVault, EntityAddress: "internal_vault_tdx_1"}

func userTx(sv int64, instructions string) coreapi.CommittedTransaction {
	var tx coreapi.CommittedTransaction
	tx.ResultantStateIdentifiers.StateVersion = sv
	tx.LedgerTransaction.Type = coreapi.KindUser
	tx.LedgerTransaction.NotarizedTransaction = &coreapi.NotarizedTransaction{}
	tx.LedgerTransaction.NotarizedTransaction.SignedIntent.Intent.Instructions = instructions
	tx.Receipt.Status = coreapi.StatusSucceeded
	return tx
}

func epochChangeTx(sv int64) coreapi.CommittedTransaction {
	var tx coreapi.CommittedTransaction
	tx.ResultantStateIdentifiers.StateVersion = sv
	tx.LedgerTransaction.Type = coreapi.KindRoundUpdate
	tx.LedgerTransaction.RoundUpdateTransaction = &coreapi.RoundUpdateTransaction{Epoch: 3}
	tx.Receipt.NextEpoch = &coreapi.NextEpoch{Epoch: 4}
	return tx
}

type fixture struct {
	pctx *extension.ProcessorContext
	refs *extension.ReferencedEntities
	p    *Processor
}

// newFixture scans txs, then resolves an account owning a vault of an
// existing resource on top of whatever the manifests mentioned.
func newFixture(t *testing.T, txs []coreapi.CommittedTransaction, vaultParent string) *fixture {
	refs := extension.NewReferencedEntities()
	pctx := &extension.ProcessorContext{
		Sequences:   &extension.Sequences{Entity: 1, LedgerTransactionMarker: 1},
		Logger:      log.NewDiscardLogger(),
		EmptyLedger: true,
	}
	p := NewProcessor(pctx, refs, manifest.NewProcessor(pctx, refs), NewAffectedGlobalEntities())
	require.NoError(t, p.ScanTransactions(context.Background(), txs))

	refs.ObserveAddress("account_tdx_1", 1)
	refs.ObserveAddress("resource_tdx_xrd", 1)
	refs.Observe(vaultRef, 1)
	if vaultParent != "" {
		refs.SetParent(vaultRef.EntityAddress, vaultParent)
	}
	refs.SetOuterObject(vaultRef.EntityAddress, "resource_tdx_xrd")
	require.NoError(t, extension.NewEntityResolver(nil, log.NewDiscardLogger()).Resolve(context.Background(), pctx, refs))
	return &fixture{pctx: pctx, refs: refs, p: p}
}

func (f *fixture) entity(t *testing.T, address string) *extension.ReferencedEntity {
	e, err := f.refs.MustGet(address)
	require.NoError(t, err)
	return e
}

const transfer = `
CALL_METHOD Address("account_tdx_1") "lock_fee" Decimal("1");
CALL_METHOD Address("account_tdx_1") "withdraw" Address("resource_tdx_xrd") Decimal("100.5");
TAKE_ALL_FROM_WORKTOP Address("resource_tdx_xrd") Bucket("b");
CALL_METHOD Address("account_tdx_ghost") "try_deposit_or_abort" Bucket("b") Enum<0u8>();
`

func TestProcessChanges(t *testing.T) {
	txs := []coreapi.CommittedTransaction{userTx(10, transfer), epochChangeTx(11)}
	f := newFixture(t, txs, "account_tdx_1")
	account, vault := f.entity(t, "account_tdx_1"), f.entity(t, vaultRef.EntityAddress)
	require.Equal(t, int64(1), account.ID())
	require.Equal(t, int64(2), f.entity(t, "resource_tdx_xrd").ID())

	for i := range txs {
		require.NoError(t, f.p.VisitTransaction(&txs[i], txs[i].StateVersion()))
	}
	pos := extension.Position{StateVersion: 10}
	require.NoError(t, f.p.VisitUpsert(&coreapi.UpsertedSubstate{}, vault, pos, false))
	require.NoError(t, f.p.VisitUpsert(&coreapi.UpsertedSubstate{}, account, pos, false))
	require.NoError(t, f.p.VisitEvent(&coreapi.Event{Type: coreapi.EventType{
		Emitter: coreapi.EventEmitter{Type: coreapi.EmitterMethod, Entity: &vaultRef},
		Name:    "WithdrawEvent",
	}}, 10))
	amount, err := common.ParseTokenAmount("100.5")
	require.NoError(t, err)
	require.NoError(t, f.p.VisitDecodedEvent(extension.DecodedEvent{Kind: extension.FungibleVaultWithdrawal, Quantity: amount}, vault, 10))

	require.NoError(t, f.p.ProcessChanges())
	h := func(id, sv int64) Header { return Header{ID: id, StateVersion: sv} }
	require.Equal(t, []Marker{
		&EventGlobalEmitterMarker{Header: h(1, 10), EntityID: 1},
		&AffectedGlobalEntityMarker{Header: h(2, 10), EntityID: 1},
		&EventMarker{Header: h(3, 10), EventType: EventWithdrawal, EntityID: 1, ResourceEntityID: 2, Quantity: amount},
		&ManifestAddressMarker{Header: h(4, 10), OperationType: OperationResourceInUse, EntityID: 2},
		&ManifestAddressMarker{Header: h(5, 10), OperationType: OperationAccountOwnerMethodCall, EntityID: 1},
		&ManifestAddressMarker{Header: h(6, 10), OperationType: OperationAccountWithdrawnFrom, EntityID: 1},
		&ManifestClassMarker{Header: h(7, 10), ManifestClass: manifest.ClassTransfer, IsMostSpecific: true},
		&ManifestClassMarker{Header: h(8, 10), ManifestClass: manifest.ClassGeneral},
		&OriginMarker{Header: h(9, 10), OriginType: OriginUser},
		&OriginMarker{Header: h(10, 11), OriginType: OriginEpochChange},
		&EpochChangeMarker{Header: h(11, 11), EpochChange: true},
	}, f.p.Markers())
	require.Equal(t, int64(12), f.pctx.Sequences.LedgerTransactionMarker)
	require.Equal(t, []int64{1}, f.p.affected.Get(10))
	require.Empty(t, f.p.affected.Get(11))
}

func TestUnresolvedManifestResourceIsFatal(t *testing.T) {
	txs := []coreapi.CommittedTransaction{userTx(10, `
CALL_METHOD Address("account_tdx_1") "withdraw" Address("resource_tdx_missing") Decimal("1");
`)}
	f := newFixture(t, txs, "account_tdx_1")
	err := f.p.ProcessChanges()
	require.ErrorIs(t, err, extension.ErrEntityNotResolved)
	require.True(t, extension.IsFatal(err))
}

func TestVaultEventWithoutOwner(t *testing.T) {
	f := newFixture(t, nil, "")
	vault := f.entity(t, vaultRef.EntityAddress)
	err := f.p.VisitDecodedEvent(extension.DecodedEvent{Kind: extension.FungibleVaultDeposit, Quantity: common.NewTokenAmountFromInt64(1)}, vault, 3)
	require.ErrorIs(t, err, extension.ErrEntityNotResolved)
}

func TestRow(t *testing.T) {
	amount := common.NewTokenAmountFromInt64(7)
	require.Equal(t, []interface{}{
		int64(3), int64(10), "event",
		common.Ptr(int64(1)), "deposit", common.Ptr(int64(2)), amount, nil,
		nil, nil, (*bool)(nil), (*bool)(nil),
	}, row(&EventMarker{Header: Header{ID: 3, StateVersion: 10}, EventType: EventDeposit, EntityID: 1, ResourceEntityID: 2, Quantity: amount}))

	require.Equal(t, []interface{}{
		int64(4), int64(11), "manifest_class",
		(*int64)(nil), nil, (*int64)(nil), nil, nil,
		nil, "general", common.Ptr(false), (*bool)(nil),
	}, row(&ManifestClassMarker{Header: Header{ID: 4, StateVersion: 11}, ManifestClass: manifest.ClassGeneral}))
	require.Len(t, markerColumns, 12)
}

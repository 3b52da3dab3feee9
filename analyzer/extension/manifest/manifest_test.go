package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

const transferManifest = `
CALL_METHOD
    Address("account_tdx_2_1alice")
    "lock_fee"
    Decimal("5")
;
CALL_METHOD
    Address("account_tdx_2_1alice")
    "withdraw"
    Address("resource_tdx_2_1xrd")
    Decimal("100.5")
;
TAKE_FROM_WORKTOP
    Address("resource_tdx_2_1xrd")
    Decimal("100.5")
    Bucket("bucket1")
;
CALL_METHOD
    Address("account_tdx_2_1bob")
    "try_deposit_or_abort"
    Bucket("bucket1")
    Enum<0u8>()
;
`

const stakeManifest = `
CALL_METHOD Address("account_tdx_2_1alice") "lock_fee" Decimal("5");
CALL_METHOD Address("account_tdx_2_1alice") "withdraw" Address("resource_tdx_2_1xrd") Decimal("1000");
TAKE_ALL_FROM_WORKTOP Address("resource_tdx_2_1xrd") Bucket("xrd");
CALL_METHOD Address("validator_tdx_2_1v") "stake" Bucket("xrd");
CALL_METHOD Address("account_tdx_2_1alice") "deposit_batch" Expression("ENTIRE_WORKTOP");
`

const badgeManifest = `
CALL_METHOD Address("account_tdx_2_1alice") "lock_fee" Decimal("5");
CALL_METHOD Address("account_tdx_2_1alice") "create_proof_of_non_fungibles"
    Address("resource_tdx_2_1badge")
    Array<NonFungibleLocalId>(NonFungibleLocalId("#1#"));
CALL_METHOD Address("component_tdx_2_1dex") "swap"
    Map<String, Tuple>("a" => Tuple(Address("resource_tdx_2_1xrd"), 1u32), "b" => Tuple(Address("resource_tdx_2_1usd"), 2u32));
`

const settingsManifest = `
CALL_METHOD Address("account_tdx_2_1alice") "lock_fee" Decimal("5");
CALL_METHOD Address("account_tdx_2_1alice") "set_default_deposit_rule" Enum<DefaultDepositRule::Reject>();
`

func mustParse(t *testing.T, src string) *Manifest {
	m, err := Parse(src)
	require.NoError(t, err)
	return m
}

func TestParse(t *testing.T) {
	m := mustParse(t, transferManifest)
	require.Len(t, m.Instructions, 4)

	withdraw := m.Instructions[1]
	require.Equal(t, "CALL_METHOD", withdraw.Name)
	target, ok := withdraw.Target()
	require.True(t, ok)
	require.Equal(t, "account_tdx_2_1alice", target)
	method, ok := withdraw.Method()
	require.True(t, ok)
	require.Equal(t, "withdraw", method)
	require.Equal(t, Value{Kind: KindConstructor, Name: "Decimal", Args: []Value{{Kind: KindString, Text: "100.5"}}}, withdraw.Args[3])

	deposit := m.Instructions[3]
	require.Equal(t, KindConstructor, deposit.Args[3].Kind)
	require.Equal(t, "Enum", deposit.Args[3].Name)
	require.Empty(t, deposit.Args[3].Args)
}

func TestParseNestedValues(t *testing.T) {
	m := mustParse(t, badgeManifest)
	require.Len(t, m.Instructions, 3)
	swap := m.Instructions[2]
	require.Equal(t, []string{"resource_tdx_2_1xrd", "resource_tdx_2_1usd"}, swap.Args[2].Addresses())

	_, ok := swap.Method()
	require.True(t, ok)
}

func TestParseNamedAddressIsNotAnEntity(t *testing.T) {
	m := mustParse(t, `
ALLOCATE_GLOBAL_ADDRESS Address("package_tdx_2_1p") "Package" AddressReservation("r") NamedAddress("a");
CALL_FUNCTION Address("a") "Blueprint" "new" "escaped \" quote";
`)
	require.Len(t, m.Instructions, 2)
	call := m.Instructions[1]
	require.Equal(t, KindConstructor, call.Args[0].Kind)
	require.Empty(t, call.Args[0].Addresses())
	require.Equal(t, `escaped " quote`, call.Args[3].Text)
}

func TestParseErrors(t *testing.T) {
	for name, src := range map[string]string{
		"unterminated instruction": `CALL_METHOD Address("account_tdx_2_1a") "lock_fee"`,
		"unterminated string":      `CALL_METHOD Address("account_tdx_2_1a;`,
		"unbalanced parenthesis":   `CALL_METHOD Decimal("1";`,
		"unexpected character":     `CALL_METHOD @;`,
		"missing instruction name": `"lock_fee";`,
	} {
		_, err := Parse(src)
		require.ErrorIs(t, err, ErrInvalidManifest, name)
	}

	m, err := Parse("  \n ")
	require.NoError(t, err)
	require.Empty(t, m.Instructions)
}

func TestExtract(t *testing.T) {
	a := Extract(mustParse(t, transferManifest))
	require.Equal(t, []string{"account_tdx_2_1alice", "resource_tdx_2_1xrd", "account_tdx_2_1bob"}, a.All)
	require.Equal(t, []string{"resource_tdx_2_1xrd"}, a.Resources)
	require.Equal(t, []string{"account_tdx_2_1alice", "account_tdx_2_1bob"}, a.Accounts)
	require.Equal(t, []string{"account_tdx_2_1alice"}, a.AccountsRequiringAuth)
	require.Equal(t, []string{"account_tdx_2_1alice"}, a.AccountsWithdrawnFrom)
	require.Equal(t, []string{"account_tdx_2_1bob"}, a.AccountsDepositedInto)
	require.Empty(t, a.PresentedProofs)

	a = Extract(mustParse(t, badgeManifest))
	require.Equal(t, []PresentedProof{{Account: "account_tdx_2_1alice", Resource: "resource_tdx_2_1badge"}}, a.PresentedProofs)
	require.Equal(t, []string{"resource_tdx_2_1badge"}, a.ProofResources())
	require.Equal(t, []string{"resource_tdx_2_1badge", "resource_tdx_2_1xrd", "resource_tdx_2_1usd"}, a.Resources)
	require.Contains(t, a.All, "component_tdx_2_1dex")
}

func TestClassify(t *testing.T) {
	for name, tc := range map[string]struct {
		src      string
		expected []Class
	}{
		"transfer":         {transferManifest, []Class{ClassTransfer, ClassGeneral}},
		"stake":            {stakeManifest, []Class{ClassValidatorStake, ClassGeneral}},
		"component call":   {badgeManifest, []Class{ClassGeneral}},
		"deposit settings": {settingsManifest, []Class{ClassAccountDepositSettingsUpdate}},
		"unstake": {`
CALL_METHOD Address("account_tdx_2_1a") "withdraw" Address("resource_tdx_2_1lsu") Decimal("1");
TAKE_ALL_FROM_WORKTOP Address("resource_tdx_2_1lsu") Bucket("lsu");
CALL_METHOD Address("validator_tdx_2_1v") "unstake" Bucket("lsu");
CALL_METHOD Address("account_tdx_2_1a") "deposit_batch" Expression("ENTIRE_WORKTOP");
`, []Class{ClassValidatorUnstake, ClassGeneral}},
		"pool contribution": {`
CALL_METHOD Address("account_tdx_2_1a") "withdraw" Address("resource_tdx_2_1xrd") Decimal("1");
TAKE_ALL_FROM_WORKTOP Address("resource_tdx_2_1xrd") Bucket("b");
CALL_METHOD Address("pool_tdx_2_1p") "contribute" Bucket("b");
CALL_METHOD Address("account_tdx_2_1a") "deposit_batch" Expression("ENTIRE_WORKTOP");
`, []Class{ClassPoolContribution, ClassGeneral}},
		"withdraw only is not a transfer": {`
CALL_METHOD Address("account_tdx_2_1a") "withdraw" Address("resource_tdx_2_1xrd") Decimal("1");
`, []Class{ClassGeneral}},
		"package publishing": {`
PUBLISH_PACKAGE Tuple() Map<String, Tuple>() Map<String, String>();
`, nil},
	} {
		require.Equal(t, tc.expected, Classify(mustParse(t, tc.src)), name)
	}
}

func userTx(sv int64, instructions string, status coreapi.TransactionStatus) coreapi.CommittedTransaction {
	var tx coreapi.CommittedTransaction
	tx.ResultantStateIdentifiers.StateVersion = sv
	tx.LedgerTransaction.Type = coreapi.KindUser
	tx.LedgerTransaction.NotarizedTransaction = &coreapi.NotarizedTransaction{}
	tx.LedgerTransaction.NotarizedTransaction.SignedIntent.Intent.Instructions = instructions
	tx.Receipt.Status = status
	return tx
}

func TestProcessorScansInOrder(t *testing.T) {
	refs := extension.NewReferencedEntities()
	pctx := &extension.ProcessorContext{Sequences: &extension.Sequences{}, Logger: log.NewDiscardLogger()}
	p := NewProcessor(pctx, refs)

	var round coreapi.CommittedTransaction
	round.ResultantStateIdentifiers.StateVersion = 11
	round.LedgerTransaction.Type = coreapi.KindRoundUpdate

	txs := []coreapi.CommittedTransaction{
		userTx(10, transferManifest, coreapi.StatusSucceeded),
		round,
		userTx(12, stakeManifest, coreapi.StatusFailed),
		userTx(13, `CALL_METHOD @;`, coreapi.StatusSucceeded),
		userTx(14, badgeManifest, coreapi.StatusSucceeded),
	}
	require.NoError(t, p.ScanTransactions(context.Background(), txs))

	require.Equal(t, []int64{10, 12, 14}, p.StateVersions())
	require.Equal(t, []Class{ClassTransfer, ClassGeneral}, p.Classes(10))
	require.Nil(t, p.Classes(11))
	require.Nil(t, p.Classes(13), "unparsable manifests are skipped")

	failed, ok := p.Result(12)
	require.True(t, ok)
	require.Equal(t, []Class{ClassValidatorStake, ClassGeneral}, failed.Classes)
	require.Nil(t, failed.Addresses, "failed transactions only keep their classes")

	// Mentions follow state version order: the transfer's addresses first.
	var mentioned []string
	for _, e := range refs.All() {
		mentioned = append(mentioned, e.Address)
	}
	require.Equal(t, []string{
		"account_tdx_2_1alice", "resource_tdx_2_1xrd", "account_tdx_2_1bob",
		"resource_tdx_2_1badge", "component_tdx_2_1dex", "resource_tdx_2_1usd",
	}, mentioned)
	_, ok = refs.Get("validator_tdx_2_1v")
	require.False(t, ok)
}

func TestProcessorHonorsCancellation(t *testing.T) {
	p := NewProcessor(&extension.ProcessorContext{Logger: log.NewDiscardLogger()}, extension.NewReferencedEntities())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.ScanTransactions(ctx, []coreapi.CommittedTransaction{userTx(1, transferManifest, coreapi.StatusSucceeded)})
	require.ErrorIs(t, err, context.Canceled)
}

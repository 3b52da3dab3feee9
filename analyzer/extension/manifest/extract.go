package manifest

import (
	"github.com/ledgerindex/gateway/common/orderedmap"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

// Account methods grouped by what they tell about the account.
var (
	withdrawMethods = map[string]bool{
		"withdraw":                            true,
		"withdraw_non_fungibles":              true,
		"lock_fee_and_withdraw":               true,
		"lock_fee_and_withdraw_non_fungibles": true,
	}
	depositMethods = map[string]bool{
		"deposit":                     true,
		"deposit_batch":               true,
		"try_deposit_or_abort":        true,
		"try_deposit_batch_or_abort":  true,
		"try_deposit_or_refund":       true,
		"try_deposit_batch_or_refund": true,
	}
	proofMethods = map[string]bool{
		"create_proof_of_amount":        true,
		"create_proof_of_non_fungibles": true,
	}
	feeMethods = map[string]bool{
		"lock_fee":            true,
		"lock_contingent_fee": true,
	}
	depositSettingsMethods = map[string]bool{
		"set_default_deposit_rule":    true,
		"set_resource_preference":     true,
		"remove_resource_preference":  true,
		"add_authorized_depositor":    true,
		"remove_authorized_depositor": true,
	}
	// Owner-only methods besides the withdraw, proof, fee and settings ones.
	ownerMethods = map[string]bool{
		"deposit":            true,
		"deposit_batch":      true,
		"burn":               true,
		"burn_non_fungibles": true,
		"securify":           true,
	}
)

func requiresAuth(method string) bool {
	return withdrawMethods[method] || proofMethods[method] || feeMethods[method] ||
		depositSettingsMethods[method] || ownerMethods[method]
}

// PresentedProof is a proof created from an account's resource.
type PresentedProof struct {
	Account  string
	Resource string
}

// Addresses are the addresses a manifest references, each list distinct
// and in order of first appearance.
type Addresses struct {
	All                   []string
	Resources             []string
	Accounts              []string
	AccountsRequiringAuth []string
	AccountsWithdrawnFrom []string
	AccountsDepositedInto []string
	PresentedProofs       []PresentedProof
}

// ProofResources returns the distinct resources of the presented proofs.
func (a *Addresses) ProofResources() []string {
	s := newSet[string]()
	for _, p := range a.PresentedProofs {
		s.add(p.Resource)
	}
	return s.items()
}

type set[T comparable] struct {
	m *orderedmap.Map[T, struct{}]
}

func newSet[T comparable]() set[T] {
	return set[T]{m: orderedmap.New[T, struct{}]()}
}

func (s set[T]) add(v T) {
	s.m.GetOrAdd(v, func(T) struct{} { return struct{}{} })
}

func (s set[T]) items() []T {
	return s.m.Keys()
}

// Extract collects the addresses referenced by m.
func Extract(m *Manifest) *Addresses {
	var (
		all         = newSet[string]()
		resources   = newSet[string]()
		accounts    = newSet[string]()
		requireAuth = newSet[string]()
		withdrawn   = newSet[string]()
		deposited   = newSet[string]()
		proofs      = newSet[PresentedProof]()
	)

	for i := range m.Instructions {
		in := &m.Instructions[i]
		for j := range in.Args {
			for _, addr := range in.Args[j].Addresses() {
				all.add(addr)
				switch kind := coreapi.AddressKind(addr); {
				case kind == coreapi.EntityGlobalFungibleResource:
					resources.add(addr)
				case kind.IsAccount():
					accounts.add(addr)
				}
			}
		}

		target, ok := in.Target()
		if !ok || !coreapi.AddressKind(target).IsAccount() {
			continue
		}
		method, ok := in.Method()
		if !ok {
			continue
		}
		if requiresAuth(method) {
			requireAuth.add(target)
		}
		if withdrawMethods[method] {
			withdrawn.add(target)
		}
		if depositMethods[method] {
			deposited.add(target)
		}
		if proofMethods[method] && len(in.Args) > 2 && in.Args[2].Kind == KindAddress {
			proofs.add(PresentedProof{Account: target, Resource: in.Args[2].Text})
		}
	}

	return &Addresses{
		All:                   all.items(),
		Resources:             resources.items(),
		Accounts:              accounts.items(),
		AccountsRequiringAuth: requireAuth.items(),
		AccountsWithdrawnFrom: withdrawn.items(),
		AccountsDepositedInto: deposited.items(),
		PresentedProofs:       proofs.items(),
	}
}

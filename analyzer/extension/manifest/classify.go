package manifest

import "github.com/ledgerindex/gateway/storage/coreapi"

// Class is a kind of manifest recognized by the indexer.
type Class string

const (
	ClassGeneral                      Class = "general"
	ClassTransfer                     Class = "transfer"
	ClassValidatorStake               Class = "validator_stake"
	ClassValidatorUnstake             Class = "validator_unstake"
	ClassValidatorClaim               Class = "validator_claim"
	ClassAccountDepositSettingsUpdate Class = "account_deposit_settings_update"
	ClassPoolContribution             Class = "pool_contribution"
	ClassPoolRedemption               Class = "pool_redemption"
)

// classOrder lists the classes most specific first.
var classOrder = []Class{
	ClassAccountDepositSettingsUpdate,
	ClassValidatorStake,
	ClassValidatorUnstake,
	ClassValidatorClaim,
	ClassPoolContribution,
	ClassPoolRedemption,
	ClassTransfer,
	ClassGeneral,
}

// Instructions that only move things between the worktop, buckets and the
// auth zone. Every class allows them.
var supportingInstructions = map[string]bool{
	"TAKE_FROM_WORKTOP":                            true,
	"TAKE_NON_FUNGIBLES_FROM_WORKTOP":              true,
	"TAKE_ALL_FROM_WORKTOP":                        true,
	"RETURN_TO_WORKTOP":                            true,
	"ASSERT_WORKTOP_CONTAINS":                      true,
	"ASSERT_WORKTOP_CONTAINS_ANY":                  true,
	"ASSERT_WORKTOP_CONTAINS_NON_FUNGIBLES":        true,
	"POP_FROM_AUTH_ZONE":                           true,
	"PUSH_TO_AUTH_ZONE":                            true,
	"CREATE_PROOF_FROM_AUTH_ZONE_OF_AMOUNT":        true,
	"CREATE_PROOF_FROM_AUTH_ZONE_OF_NON_FUNGIBLES": true,
	"CREATE_PROOF_FROM_AUTH_ZONE_OF_ALL":           true,
	"CREATE_PROOF_FROM_BUCKET_OF_AMOUNT":           true,
	"CREATE_PROOF_FROM_BUCKET_OF_NON_FUNGIBLES":    true,
	"CREATE_PROOF_FROM_BUCKET_OF_ALL":              true,
	"CLONE_PROOF":                                  true,
	"DROP_PROOF":                                   true,
	"DROP_NAMED_PROOFS":                            true,
	"DROP_AUTH_ZONE_PROOFS":                        true,
	"DROP_AUTH_ZONE_REGULAR_PROOFS":                true,
	"DROP_AUTH_ZONE_SIGNATURE_PROOFS":              true,
	"DROP_ALL_PROOFS":                              true,
}

// Instructions a general manifest must not contain.
var nonGeneralInstructions = map[string]bool{
	"ALLOCATE_GLOBAL_ADDRESS":     true,
	"CALL_ROYALTY_METHOD":         true,
	"CALL_METADATA_METHOD":        true,
	"CALL_ROLE_ASSIGNMENT_METHOD": true,
	"CALL_DIRECT_VAULT_METHOD":    true,
	"PUBLISH_PACKAGE":             true,
	"PUBLISH_PACKAGE_ADVANCED":    true,
}

type callPredicate func(target coreapi.EntityType, method string) bool

// classRule describes one specific class: every call must be allowed and
// each required predicate must match at least one call.
type classRule struct {
	allowed  callPredicate
	required []callPredicate
}

func isAccountTransfer(target coreapi.EntityType, method string) bool {
	return target.IsAccount() && (withdrawMethods[method] || depositMethods[method] || feeMethods[method])
}

func callOn(kind coreapi.EntityType, method string) callPredicate {
	return func(target coreapi.EntityType, m string) bool {
		return target == kind && m == method
	}
}

func transferOr(other callPredicate) callPredicate {
	return func(target coreapi.EntityType, method string) bool {
		return isAccountTransfer(target, method) || other(target, method)
	}
}

var classRules = map[Class]classRule{
	ClassAccountDepositSettingsUpdate: {
		allowed: func(target coreapi.EntityType, method string) bool {
			return target.IsAccount() && (depositSettingsMethods[method] || feeMethods[method])
		},
		required: []callPredicate{func(target coreapi.EntityType, method string) bool {
			return target.IsAccount() && depositSettingsMethods[method]
		}},
	},
	ClassValidatorStake: {
		allowed:  transferOr(callOn(coreapi.EntityGlobalValidator, "stake")),
		required: []callPredicate{callOn(coreapi.EntityGlobalValidator, "stake")},
	},
	ClassValidatorUnstake: {
		allowed:  transferOr(callOn(coreapi.EntityGlobalValidator, "unstake")),
		required: []callPredicate{callOn(coreapi.EntityGlobalValidator, "unstake")},
	},
	ClassValidatorClaim: {
		allowed:  transferOr(callOn(coreapi.EntityGlobalValidator, "claim_xrd")),
		required: []callPredicate{callOn(coreapi.EntityGlobalValidator, "claim_xrd")},
	},
	ClassPoolContribution: {
		allowed:  transferOr(callOn(coreapi.EntityGlobalMultiResourcePool, "contribute")),
		required: []callPredicate{callOn(coreapi.EntityGlobalMultiResourcePool, "contribute")},
	},
	ClassPoolRedemption: {
		allowed:  transferOr(callOn(coreapi.EntityGlobalMultiResourcePool, "redeem")),
		required: []callPredicate{callOn(coreapi.EntityGlobalMultiResourcePool, "redeem")},
	},
	ClassTransfer: {
		allowed: isAccountTransfer,
		required: []callPredicate{
			func(target coreapi.EntityType, method string) bool {
				return target.IsAccount() && withdrawMethods[method]
			},
			func(target coreapi.EntityType, method string) bool {
				return target.IsAccount() && depositMethods[method]
			},
		},
	},
}

func (r classRule) matches(m *Manifest) bool {
	found := make([]bool, len(r.required))
	for i := range m.Instructions {
		in := &m.Instructions[i]
		if supportingInstructions[in.Name] {
			continue
		}
		target, ok := in.Target()
		if !ok {
			return false
		}
		method, ok := in.Method()
		if !ok {
			return false
		}
		kind := coreapi.AddressKind(target)
		if !r.allowed(kind, method) {
			return false
		}
		for j, required := range r.required {
			if required(kind, method) {
				found[j] = true
			}
		}
	}
	for _, f := range found {
		if !f {
			return false
		}
	}
	return len(found) > 0
}

func isGeneral(m *Manifest) bool {
	for i := range m.Instructions {
		in := &m.Instructions[i]
		if nonGeneralInstructions[in.Name] {
			return false
		}
		target, ok := in.Target()
		if !ok || !coreapi.AddressKind(target).IsAccount() {
			continue
		}
		method, ok := in.Method()
		if !ok {
			continue
		}
		if depositSettingsMethods[method] || method == "securify" {
			return false
		}
	}
	return true
}

// Classify returns the classes m belongs to, most specific first.
func Classify(m *Manifest) []Class {
	var classes []Class
	for _, class := range classOrder {
		var ok bool
		if class == ClassGeneral {
			ok = isGeneral(m)
		} else {
			ok = classRules[class].matches(m)
		}
		if ok {
			classes = append(classes, class)
		}
	}
	return classes
}

package multisig

import (
	"sort"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/intents"
)

// Approvals is the multisig outcome: the set of approver addresses plus two
// running weights, one global and one for the intent's role. An address
// appears at most once; re-approving fails, and so does withdrawing an
// approval that was never given.
type Approvals struct {
	Approved    []string `json:"approved"`
	TotalWeight uint64   `json:"total_weight"`
	RoleWeight  uint64   `json:"role_weight"`
}

// NewApprovals returns the empty outcome attached at intent creation.
func NewApprovals() *Approvals {
	return &Approvals{}
}

func (o *Approvals) has(addr string) bool {
	for _, a := range o.Approved {
		if a == addr {
			return true
		}
	}
	return false
}

func (o *Approvals) add(addr string) {
	o.Approved = append(o.Approved, addr)
	sort.Strings(o.Approved)
}

func (o *Approvals) remove(addr string) {
	kept := o.Approved[:0]
	for _, a := range o.Approved {
		if a != addr {
			kept = append(kept, a)
		}
	}
	o.Approved = kept
}

// Approve records the caller's approval on a pending intent, adding the
// member's weight to the global total and, if the member holds the
// intent's role, to the role total.
func Approve(acct *account.Account, key, caller string) error {
	cfg, err := configOf(acct)
	if err != nil {
		return err
	}
	member, ok := cfg.Member(caller)
	if !ok {
		return fault.Newf(fault.KindAuthorization, fault.CodeNotMember,
			"%s is not a member of account %s", caller, acct.ID())
	}

	in, found := acct.Intent(key)
	if !found {
		return fault.Newf(fault.KindStateConflict, fault.CodeIntentNotFound, "no live intent %q", key)
	}
	holdsRole := member.HasRole(in.Role)

	return acct.UpdateOutcome(key, func(outcome any) (any, error) {
		o, ok := outcome.(*Approvals)
		if !ok {
			return nil, fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
				"intent %q does not carry a multisig outcome", key)
		}
		if o.has(caller) {
			return nil, fault.Newf(fault.KindStateConflict, fault.CodeAlreadyApproved,
				"%s already approved intent %q", caller, key)
		}
		o.add(caller)
		o.TotalWeight += member.Weight
		if holdsRole {
			o.RoleWeight += member.Weight
		}
		return o, nil
	})
}

// Disapprove withdraws a prior approval, reversing exactly what Approve
// added.
func Disapprove(acct *account.Account, key, caller string) error {
	cfg, err := configOf(acct)
	if err != nil {
		return err
	}
	member, ok := cfg.Member(caller)
	if !ok {
		return fault.Newf(fault.KindAuthorization, fault.CodeNotMember,
			"%s is not a member of account %s", caller, acct.ID())
	}

	in, found := acct.Intent(key)
	if !found {
		return fault.Newf(fault.KindStateConflict, fault.CodeIntentNotFound, "no live intent %q", key)
	}
	holdsRole := member.HasRole(in.Role)

	return acct.UpdateOutcome(key, func(outcome any) (any, error) {
		o, ok := outcome.(*Approvals)
		if !ok {
			return nil, fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
				"intent %q does not carry a multisig outcome", key)
		}
		if !o.has(caller) {
			return nil, fault.Newf(fault.KindStateConflict, fault.CodeNotApproved,
				"%s has no approval on intent %q to withdraw", caller, key)
		}
		o.remove(caller)
		o.TotalWeight -= member.Weight
		if holdsRole {
			o.RoleWeight -= member.Weight
		}
		return o, nil
	})
}

// Validate decides whether the accumulated approvals satisfy the policy:
// the global threshold, or the role threshold when one is configured for
// the intent's role. Pure; same inputs, same answer.
func Validate(cfg Config, role string, outcome any) error {
	o, ok := outcome.(*Approvals)
	if !ok {
		return fault.New(fault.KindPolicy, fault.CodeInvalidConfig,
			"outcome is not a multisig approval record")
	}
	if o.TotalWeight >= cfg.GlobalThreshold {
		return nil
	}
	if threshold, configured := cfg.RoleThresholds[role]; configured && o.RoleWeight >= threshold {
		return nil
	}
	return fault.Newf(fault.KindPolicy, fault.CodeThresholdNotMet,
		"approvals carry weight %d of %d global (role %q: %d)",
		o.TotalWeight, cfg.GlobalThreshold, role, o.RoleWeight)
}

// Execute validates and consumes the outcome of a pending intent against
// the account's multisig policy and issues the executable.
func Execute(acct *account.Account, key string) (*intents.Executable, error) {
	cfg, err := configOf(acct)
	if err != nil {
		return nil, err
	}
	return acct.Execute(key, func(role string, outcome any) error {
		return Validate(cfg, role, outcome)
	})
}

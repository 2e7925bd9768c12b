package upgrades

import (
	"encoding/json"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/intents"
	"github.com/Covault-Labs/covault/core/pkg/vault"
)

// Action kinds and the role tags of upgrade-class intents.
const (
	KindUpgrade  = "upgrades.upgrade"
	KindRestrict = "upgrades.restrict"
	RoleUpgrade  = "upgrades::upgrade"
	RoleRestrict = "upgrades::restrict"
)

// Origin markers. Unexported: only this package can redeem its actions.
type upgradeOrigin struct{}

type restrictOrigin struct{}

// UpgradeAction is the payload of an upgrade intent: which package, the
// digest of the approved bytecode, and the earliest instant the upgrade
// may run. UpgradeTime is fixed at proposal time from the capability's
// delay; approvals cannot shorten it.
type UpgradeAction struct {
	Name        string    `json:"name"`
	Digest      string    `json:"digest"`
	UpgradeTime time.Time `json:"upgrade_time"`
}

// RestrictAction is the payload of a policy restriction intent.
type RestrictAction struct {
	Name   string `json:"name"`
	Policy Policy `json:"policy"`
}

// Ticket is the live, single-use authorization handed to the hosting
// platform to perform the code swap. It rides between ExecuteUpgrade and
// ConfirmUpgrade: the capability it carries is out of the vault on loan,
// and the confirm must be the executable's very next step.
type Ticket struct {
	// ExecutableID and Cursor pin the ticket to the exact drain position
	// it was minted at; processing anything else in between voids it.
	ExecutableID string `json:"executable_id"`
	Cursor       int    `json:"cursor"`

	Receipt vault.Receipt `json:"receipt"`
	Cap     Cap           `json:"cap"`
	Digest  string        `json:"digest"`
}

// RequestUpgrade opens an upgrade intent for a tracked package. The
// upgrade time is computed here, now plus the capability's delay, and
// rides in the action payload where approvals cannot change it. The
// outcome comes from whichever governance strategy runs the account.
func RequestUpgrade(acct *account.Account, auth account.Auth, p intents.Params, outcome any, name, digest string) error {
	c, err := CapOf(acct, name)
	if err != nil {
		return err
	}
	if digest == "" {
		return fault.New(fault.KindPolicy, fault.CodeInvalidConfig, "an upgrade needs a bytecode digest")
	}
	payload := UpgradeAction{
		Name:        name,
		Digest:      digest,
		UpgradeTime: acct.Now().Add(c.Delay),
	}
	p.Role = RoleUpgrade
	in, err := acct.CreateIntent(auth, p, outcome)
	if err != nil {
		return err
	}
	if _, err := acct.AttachAction(in, KindUpgrade, upgradeOrigin{}, payload); err != nil {
		return err
	}
	return acct.StoreIntent(in)
}

// ExecuteUpgrade redeems the upgrade action and takes the capability out
// of the vault, returning the ticket the platform swaps code against.
// Before the upgrade time it fails TooEarly without consuming anything,
// so the same executable can be retried once the timelock passes.
func ExecuteUpgrade(acct *account.Account, exec *intents.Executable) (Ticket, error) {
	next, ok := exec.Peek()
	if !ok {
		return Ticket{}, fault.Newf(fault.KindCompletion, fault.CodeActionsNotDrained,
			"executable %s has no actions left", exec.ID)
	}
	if next.Kind == KindUpgrade {
		var head UpgradeAction
		if err := json.Unmarshal(next.Payload, &head); err != nil {
			return Ticket{}, fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
				"upgrade payload is malformed", err)
		}
		if now := acct.Now(); now.Before(head.UpgradeTime) {
			return Ticket{}, fault.Newf(fault.KindTiming, fault.CodeTooEarly,
				"upgrade of %q is locked until %s", head.Name, head.UpgradeTime.Format(time.RFC3339))
		}
	}

	action, err := exec.ProcessAction(acct.ID(), acct.Deps(), Proof(), upgradeOrigin{})
	if err != nil {
		return Ticket{}, err
	}
	var payload UpgradeAction
	if err := json.Unmarshal(action.Payload, &payload); err != nil {
		return Ticket{}, fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
			"upgrade payload is malformed", err)
	}

	raw, receipt, err := acct.TakeAsset(Proof(), capKey(payload.Name))
	if err != nil {
		return Ticket{}, err
	}
	c, ok := raw.(Cap)
	if !ok {
		return Ticket{}, fault.Newf(fault.KindStateConflict, fault.CodeReceiptMismatch,
			"asset under %q is not an upgrade capability", capKey(payload.Name))
	}
	return Ticket{
		ExecutableID: exec.ID,
		Cursor:       exec.Processed(),
		Receipt:      receipt,
		Cap:          c,
		Digest:       payload.Digest,
	}, nil
}

// ConfirmUpgrade commits a performed upgrade: the capability returns to
// the vault with the version bumped and the address the platform reports,
// and the name-to-address index follows. It must be the very next step
// after ExecuteUpgrade on the same executable; the ticket's pinned drain
// position enforces that without any extra flag.
func ConfirmUpgrade(acct *account.Account, exec *intents.Executable, t Ticket, newAddr string) error {
	if t.ExecutableID != exec.ID {
		return fault.Newf(fault.KindStateConflict, fault.CodeTicketMismatch,
			"ticket was minted by executable %s, not %s", t.ExecutableID, exec.ID)
	}
	if t.Cursor != exec.Processed() {
		return fault.Newf(fault.KindStateConflict, fault.CodeTicketMismatch,
			"executable %s processed another action since the upgrade ran", exec.ID)
	}
	if newAddr == "" {
		return fault.New(fault.KindPolicy, fault.CodeInvalidConfig,
			"the platform must report the upgraded package address")
	}

	c := t.Cap
	c.PackageAddr = newAddr
	c.Version++
	if err := acct.GiveBackAsset(Proof(), c, t.Receipt); err != nil {
		return err
	}
	return acct.PutData(Proof(), indexKey(c.PackageName),
		IndexEntry{Addr: newAddr, Version: c.Version})
}

// DeleteUpgrade drains one expired upgrade action. The capability never
// left the vault at proposal time, so draining is release enough.
func DeleteUpgrade(bundle *intents.Expired) error {
	_, err := bundle.Next(upgradeOrigin{})
	return err
}

// RequestRestrict opens an intent tightening a package's policy. The
// transition is validated now, at proposal time, against the current
// capability.
func RequestRestrict(acct *account.Account, auth account.Auth, p intents.Params, outcome any, name string, next Policy) error {
	c, err := CapOf(acct, name)
	if err != nil {
		return err
	}
	if err := Restrict(c.Policy, next); err != nil {
		return err
	}
	p.Role = RoleRestrict
	in, err := acct.CreateIntent(auth, p, outcome)
	if err != nil {
		return err
	}
	if _, err := acct.AttachAction(in, KindRestrict, restrictOrigin{}, RestrictAction{Name: name, Policy: next}); err != nil {
		return err
	}
	return acct.StoreIntent(in)
}

// ExecuteRestrict redeems the restriction action. The transition is
// re-validated against the capability as it stands today, since another
// restriction may have landed since proposal. Tightening to immutable
// destroys the capability and freezes the index entry; the name can
// never be locked again.
func ExecuteRestrict(acct *account.Account, exec *intents.Executable) error {
	action, err := exec.ProcessAction(acct.ID(), acct.Deps(), Proof(), restrictOrigin{})
	if err != nil {
		return err
	}
	var payload RestrictAction
	if err := json.Unmarshal(action.Payload, &payload); err != nil {
		return fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
			"restrict payload is malformed", err)
	}

	raw, err := acct.RemoveAsset(Proof(), capKey(payload.Name))
	if err != nil {
		return err
	}
	c, ok := raw.(Cap)
	if !ok {
		return fault.Newf(fault.KindStateConflict, fault.CodeReceiptMismatch,
			"asset under %q is not an upgrade capability", capKey(payload.Name))
	}
	if err := Restrict(c.Policy, payload.Policy); err != nil {
		// Put the capability back before surfacing the stale transition.
		if lockErr := acct.LockAsset(Proof(), capKey(payload.Name), c); lockErr != nil {
			return lockErr
		}
		return err
	}

	if payload.Policy == PolicyImmutable {
		entry, found, err := Index(acct, payload.Name)
		if err != nil {
			return err
		}
		if !found {
			entry = IndexEntry{Addr: c.PackageAddr, Version: c.Version}
		}
		entry.Frozen = true
		return acct.PutData(Proof(), indexKey(payload.Name), entry)
	}

	c.Policy = payload.Policy
	return acct.LockAsset(Proof(), capKey(payload.Name), c)
}

// DeleteRestrict drains one expired restriction action.
func DeleteRestrict(bundle *intents.Expired) error {
	_, err := bundle.Next(restrictOrigin{})
	return err
}

package upgrades

import (
	"testing"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/hostclock"
	"github.com/Covault-Labs/covault/core/pkg/intents"
	"github.com/Covault-Labs/covault/core/pkg/multisig"
)

var start = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

// A one-member multisig governs the test account so upgrade intents can
// be approved with a single call.
func newTestAccount(t *testing.T) (*account.Account, *hostclock.Manual) {
	t.Helper()
	clock := hostclock.NewManual(start)
	core, err := deps.ParseRecord(deps.CoreName, "covault:pkg:core", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	table := deps.MustTable(core, multisig.Record(), Record())
	cfg := multisig.Config{
		Members:         []multisig.Member{{Addr: "alice", Weight: 1}},
		GlobalThreshold: 1,
	}
	acct, err := account.New("registry", cfg, table, account.WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	return acct, clock
}

func auth(t *testing.T, acct *account.Account) account.Auth {
	t.Helper()
	a, err := multisig.Authenticate(acct, "alice")
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func params(key string) intents.Params {
	return intents.Params{
		Key:          key,
		Description:  "package maintenance",
		ExecuteAfter: start,
		ExpiresAt:    start.Add(2 * time.Hour),
	}
}

func lockTestCap(t *testing.T, acct *account.Account, name string, delay time.Duration) {
	t.Helper()
	err := LockCap(acct, auth(t, acct), Cap{
		PackageName: name,
		PackageAddr: "0xA1",
		Version:     1,
		Policy:      PolicyCompatible,
		Delay:       delay,
	})
	if err != nil {
		t.Fatalf("LockCap %q: %v", name, err)
	}
}

func approveAndIssue(t *testing.T, acct *account.Account, key string) *intents.Executable {
	t.Helper()
	if err := multisig.Approve(acct, key, "alice"); err != nil {
		t.Fatal(err)
	}
	exec, err := multisig.Execute(acct, key)
	if err != nil {
		t.Fatalf("Execute %q: %v", key, err)
	}
	return exec
}

func TestRestrictTransitions(t *testing.T) {
	cases := []struct {
		from, to Policy
		code     string
	}{
		{PolicyCompatible, PolicyAdditive, ""},
		{PolicyCompatible, PolicyDepOnly, ""},
		{PolicyCompatible, PolicyImmutable, ""},
		{PolicyAdditive, PolicyDepOnly, ""},
		{PolicyDepOnly, PolicyImmutable, ""},
		{PolicyAdditive, PolicyCompatible, fault.CodeInvalidPolicy},
		{PolicyCompatible, Policy(7), fault.CodeInvalidPolicy},
		{PolicyAdditive, PolicyAdditive, fault.CodePolicyNotRestrict},
		{PolicyDepOnly, PolicyAdditive, fault.CodePolicyNotRestrict},
		{PolicyImmutable, PolicyImmutable, fault.CodePolicyNotRestrict},
	}
	for _, c := range cases {
		err := Restrict(c.from, c.to)
		if c.code == "" && err != nil {
			t.Errorf("Restrict(%s, %s): %v", c.from, c.to, err)
		}
		if c.code != "" && !fault.IsCode(err, c.code) {
			t.Errorf("Restrict(%s, %s): want %s, got %v", c.from, c.to, c.code, err)
		}
	}
}

func TestLockCap(t *testing.T) {
	acct, _ := newTestAccount(t)
	lockTestCap(t, acct, "amm", 1000*time.Second)

	if has, err := HasCap(acct, "amm"); err != nil || !has {
		t.Fatalf("HasCap = %v, %v", has, err)
	}
	entry, found, err := Index(acct, "amm")
	if err != nil || !found {
		t.Fatalf("Index = %v, %v", found, err)
	}
	if entry.Addr != "0xA1" || entry.Version != 1 || entry.Frozen {
		t.Fatalf("index entry %+v", entry)
	}

	err = LockCap(acct, auth(t, acct), Cap{PackageName: "amm", PackageAddr: "0xB1", Policy: PolicyCompatible})
	if !fault.IsCode(err, fault.CodeAlreadyLocked) {
		t.Fatalf("relock: want %s, got %v", fault.CodeAlreadyLocked, err)
	}

	err = LockCap(acct, account.Auth{}, Cap{PackageName: "other", PackageAddr: "0xC1"})
	if !fault.IsCode(err, fault.CodeNotMember) {
		t.Fatalf("no auth: want %s, got %v", fault.CodeNotMember, err)
	}

	err = LockCap(acct, auth(t, acct), Cap{PackageName: "frozen", PackageAddr: "0xD1", Policy: PolicyImmutable})
	if !fault.IsCode(err, fault.CodeInvalidPolicy) {
		t.Fatalf("immutable lock: want %s, got %v", fault.CodeInvalidPolicy, err)
	}
}

func TestUpgradeTimelock(t *testing.T) {
	acct, clock := newTestAccount(t)
	lockTestCap(t, acct, "amm", 1000*time.Second)

	digest := DigestModules([]byte("module one"), []byte("module two"))
	if err := RequestUpgrade(acct, auth(t, acct), params("ship-v2"), multisig.NewApprovals(), "amm", digest); err != nil {
		t.Fatalf("RequestUpgrade: %v", err)
	}
	exec := approveAndIssue(t, acct, "ship-v2")

	// One tick before the timelock elapses: refused, nothing consumed.
	clock.Advance(999 * time.Second)
	if _, err := ExecuteUpgrade(acct, exec); !fault.IsCode(err, fault.CodeTooEarly) {
		t.Fatalf("want %s, got %v", fault.CodeTooEarly, err)
	}
	if exec.Processed() != 0 {
		t.Fatal("a refused upgrade must not consume the action")
	}

	clock.Advance(1 * time.Second)
	ticket, err := ExecuteUpgrade(acct, exec)
	if err != nil {
		t.Fatalf("ExecuteUpgrade at the deadline: %v", err)
	}
	if ticket.Digest != digest || ticket.Cap.PackageName != "amm" {
		t.Fatalf("ticket %+v", ticket)
	}
	// The capability is out on loan while the platform swaps code.
	if has, _ := HasCap(acct, "amm"); has {
		t.Fatal("capability must be out of the vault during the upgrade")
	}

	if err := ConfirmUpgrade(acct, exec, ticket, "0xA2"); err != nil {
		t.Fatalf("ConfirmUpgrade: %v", err)
	}
	if _, err := acct.ConfirmExecution(exec); err != nil {
		t.Fatalf("ConfirmExecution: %v", err)
	}

	c, err := CapOf(acct, "amm")
	if err != nil {
		t.Fatal(err)
	}
	if c.PackageAddr != "0xA2" || c.Version != 2 || c.Policy != PolicyCompatible {
		t.Fatalf("capability after upgrade %+v", c)
	}
	entry, _, _ := Index(acct, "amm")
	if entry.Addr != "0xA2" || entry.Version != 2 {
		t.Fatalf("index after upgrade %+v", entry)
	}
}

func TestConfirmMustBeTheNextStep(t *testing.T) {
	acct, clock := newTestAccount(t)
	lockTestCap(t, acct, "amm", 0)
	lockTestCap(t, acct, "lending", 0)

	// One intent carrying two upgrade actions back to back.
	a := auth(t, acct)
	in, err := acct.CreateIntent(a, params("ship-both"), multisig.NewApprovals())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"amm", "lending"} {
		payload := UpgradeAction{Name: name, Digest: DigestModules([]byte(name)), UpgradeTime: start}
		if _, err := acct.AttachAction(in, KindUpgrade, upgradeOrigin{}, payload); err != nil {
			t.Fatal(err)
		}
	}
	if err := acct.StoreIntent(in); err != nil {
		t.Fatal(err)
	}
	exec := approveAndIssue(t, acct, "ship-both")
	clock.Advance(time.Second)

	first, err := ExecuteUpgrade(acct, exec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ExecuteUpgrade(acct, exec)
	if err != nil {
		t.Fatal(err)
	}

	// The first ticket went stale the moment the second action ran.
	err = ConfirmUpgrade(acct, exec, first, "0xA2")
	if !fault.IsCode(err, fault.CodeTicketMismatch) {
		t.Fatalf("stale ticket: want %s, got %v", fault.CodeTicketMismatch, err)
	}
	if err := ConfirmUpgrade(acct, exec, second, "0xB2"); err != nil {
		t.Fatalf("fresh ticket: %v", err)
	}

	// A ticket is bound to the executable that minted it.
	lockTestCap(t, acct, "oracle", 0)
	digest := DigestModules([]byte("oracle"))
	if err := RequestUpgrade(acct, auth(t, acct), params("ship-oracle"), multisig.NewApprovals(), "oracle", digest); err != nil {
		t.Fatal(err)
	}
	other := approveAndIssue(t, acct, "ship-oracle")
	err = ConfirmUpgrade(acct, other, second, "0xB3")
	if !fault.IsCode(err, fault.CodeTicketMismatch) {
		t.Fatalf("foreign ticket: want %s, got %v", fault.CodeTicketMismatch, err)
	}
}

func TestRestrictEndToEnd(t *testing.T) {
	acct, clock := newTestAccount(t)
	lockTestCap(t, acct, "amm", 0)

	// Proposal-time validation mirrors execution-time validation.
	err := RequestRestrict(acct, auth(t, acct), params("loosen"), multisig.NewApprovals(), "amm", PolicyCompatible)
	if !fault.IsCode(err, fault.CodeInvalidPolicy) {
		t.Fatalf("loosening: want %s, got %v", fault.CodeInvalidPolicy, err)
	}

	if err := RequestRestrict(acct, auth(t, acct), params("tighten"), multisig.NewApprovals(), "amm", PolicyAdditive); err != nil {
		t.Fatalf("RequestRestrict: %v", err)
	}
	exec := approveAndIssue(t, acct, "tighten")
	clock.Advance(time.Second)
	if err := ExecuteRestrict(acct, exec); err != nil {
		t.Fatalf("ExecuteRestrict: %v", err)
	}
	if _, err := acct.ConfirmExecution(exec); err != nil {
		t.Fatal(err)
	}

	c, err := CapOf(acct, "amm")
	if err != nil {
		t.Fatal(err)
	}
	if c.Policy != PolicyAdditive {
		t.Fatalf("policy after restrict %s", c.Policy)
	}
}

func TestStaleRestrictLeavesCapLocked(t *testing.T) {
	acct, clock := newTestAccount(t)
	lockTestCap(t, acct, "amm", 0)

	// Two identical tightenings proposed side by side; the second is
	// stale by the time it executes.
	for _, key := range []string{"r1", "r2"} {
		if err := RequestRestrict(acct, auth(t, acct), params(key), multisig.NewApprovals(), "amm", PolicyAdditive); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(time.Second)

	exec1 := approveAndIssue(t, acct, "r1")
	if err := ExecuteRestrict(acct, exec1); err != nil {
		t.Fatal(err)
	}
	if _, err := acct.ConfirmExecution(exec1); err != nil {
		t.Fatal(err)
	}

	exec2 := approveAndIssue(t, acct, "r2")
	if err := ExecuteRestrict(acct, exec2); !fault.IsCode(err, fault.CodePolicyNotRestrict) {
		t.Fatalf("stale restrict: want %s, got %v", fault.CodePolicyNotRestrict, err)
	}
	if has, _ := HasCap(acct, "amm"); !has {
		t.Fatal("a refused restrict must leave the capability locked")
	}
	c, _ := CapOf(acct, "amm")
	if c.Policy != PolicyAdditive {
		t.Fatalf("policy disturbed: %s", c.Policy)
	}
}

func TestImmutableDestroysTheCapability(t *testing.T) {
	acct, clock := newTestAccount(t)
	lockTestCap(t, acct, "amm", 0)

	if err := RequestRestrict(acct, auth(t, acct), params("seal"), multisig.NewApprovals(), "amm", PolicyImmutable); err != nil {
		t.Fatal(err)
	}
	exec := approveAndIssue(t, acct, "seal")
	clock.Advance(time.Second)
	if err := ExecuteRestrict(acct, exec); err != nil {
		t.Fatalf("ExecuteRestrict: %v", err)
	}
	if _, err := acct.ConfirmExecution(exec); err != nil {
		t.Fatal(err)
	}

	if has, _ := HasCap(acct, "amm"); has {
		t.Fatal("immutable must destroy the capability")
	}
	entry, found, err := Index(acct, "amm")
	if err != nil || !found {
		t.Fatalf("index entry must survive: %v, %v", found, err)
	}
	if !entry.Frozen || entry.Addr != "0xA1" || entry.Version != 1 {
		t.Fatalf("frozen entry %+v", entry)
	}

	// The name is burned forever.
	err = LockCap(acct, auth(t, acct), Cap{PackageName: "amm", PackageAddr: "0xZ9", Policy: PolicyCompatible})
	if !fault.IsCode(err, fault.CodeAlreadyLocked) {
		t.Fatalf("relock after immutable: want %s, got %v", fault.CodeAlreadyLocked, err)
	}

	// Upgrades can no longer even be proposed.
	_, err = CapOf(acct, "amm")
	if !fault.IsCode(err, fault.CodeNoLock) {
		t.Fatalf("want %s, got %v", fault.CodeNoLock, err)
	}
}

func TestExpiredUpgradeDrains(t *testing.T) {
	acct, clock := newTestAccount(t)
	lockTestCap(t, acct, "amm", 0)

	digest := DigestModules([]byte("v2"))
	if err := RequestUpgrade(acct, auth(t, acct), params("stale"), multisig.NewApprovals(), "amm", digest); err != nil {
		t.Fatal(err)
	}

	clock.Advance(3 * time.Hour)
	bundle, err := acct.DeleteExpired("stale")
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if err := DeleteUpgrade(bundle); err != nil {
		t.Fatalf("DeleteUpgrade: %v", err)
	}
	if err := bundle.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	// The capability never moved.
	if has, _ := HasCap(acct, "amm"); !has {
		t.Fatal("expiry must leave the capability locked")
	}
}

func TestDigestModules(t *testing.T) {
	a := DigestModules([]byte("one"), []byte("two"))
	if len(a) != 64 {
		t.Fatalf("digest length %d", len(a))
	}
	if b := DigestModules([]byte("one"), []byte("two")); b != a {
		t.Fatal("digest must be deterministic")
	}
	if c := DigestModules([]byte("two"), []byte("one")); c == a {
		t.Fatal("digest must depend on module order")
	}
}

package account

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/hostclock"
	"github.com/Covault-Labs/covault/core/pkg/intents"
	"github.com/Covault-Labs/covault/core/pkg/vault"
)

type testOrigin struct{}

type testConfig struct {
	Threshold uint64 `json:"threshold"`
}

type testOutcome struct {
	Weight uint64 `json:"weight"`
}

type testCap struct {
	Power int `json:"power"`
}

var start = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func testTable(t *testing.T) *deps.Table {
	t.Helper()
	core, err := deps.ParseRecord(deps.CoreName, "addr-core", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	plug, err := deps.ParseRecord("covault_test", "addr-test", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	return deps.MustTable(core, plug)
}

func newTestAccount(t *testing.T) (*Account, *hostclock.Manual) {
	t.Helper()
	clock := hostclock.NewManual(start)
	acct, err := New("acct-1", testConfig{Threshold: 2}, testTable(t), WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return acct, clock
}

func proofFor(t *testing.T, acct *Account, name string) deps.VersionProof {
	t.Helper()
	proof, err := acct.Deps().ProofFor(name)
	if err != nil {
		t.Fatal(err)
	}
	return proof
}

func params(key string) intents.Params {
	return intents.Params{
		Key:          key,
		Description:  "rotate the signers",
		Role:         "test::main",
		ExecuteAfter: start.Add(time.Minute),
		ExpiresAt:    start.Add(time.Hour),
	}
}

func storedIntent(t *testing.T, acct *Account, key string) *intents.Intent {
	t.Helper()
	auth := MintAuth("acct-1", "alice")
	in, err := acct.CreateIntent(auth, params(key), &testOutcome{})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if _, err := acct.AttachAction(in, "noop", testOrigin{}, map[string]string{"v": "1"}); err != nil {
		t.Fatalf("AttachAction: %v", err)
	}
	if err := acct.StoreIntent(in); err != nil {
		t.Fatalf("StoreIntent: %v", err)
	}
	return in
}

func TestNewRequiresCoreDependency(t *testing.T) {
	bare, err := deps.ParseRecord("covault_test", "addr-test", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New("acct-1", nil, deps.MustTable(bare)); err == nil {
		t.Fatal("a table without the core dependency must be rejected")
	}
}

func TestAuthChecks(t *testing.T) {
	acct, _ := newTestAccount(t)

	if _, err := acct.CreateIntent(Auth{}, params("k"), nil); !fault.IsCode(err, fault.CodeNotMember) {
		t.Fatalf("zero auth: want %s, got %v", fault.CodeNotMember, err)
	}
	foreign := MintAuth("acct-2", "mallory")
	if _, err := acct.CreateIntent(foreign, params("k"), nil); !fault.IsCode(err, fault.CodeWrongAccount) {
		t.Fatalf("foreign auth: want %s, got %v", fault.CodeWrongAccount, err)
	}
}

func TestStoreIntentKeyUniqueness(t *testing.T) {
	acct, _ := newTestAccount(t)
	storedIntent(t, acct, "upgrade-1")

	auth := MintAuth("acct-1", "bob")
	dup, err := acct.CreateIntent(auth, params("upgrade-1"), &testOutcome{})
	if err != nil {
		t.Fatal(err)
	}
	if err := acct.StoreIntent(dup); !fault.IsCode(err, fault.CodeIntentKeyTaken) {
		t.Fatalf("want %s, got %v", fault.CodeIntentKeyTaken, err)
	}
}

func TestUpdateOutcomeLifecycle(t *testing.T) {
	acct, clock := newTestAccount(t)
	storedIntent(t, acct, "spend-1")

	err := acct.UpdateOutcome("spend-1", func(o any) (any, error) {
		oc := o.(*testOutcome)
		oc.Weight += 3
		return oc, nil
	})
	if err != nil {
		t.Fatalf("UpdateOutcome: %v", err)
	}

	if err := acct.UpdateOutcome("missing", func(o any) (any, error) { return o, nil }); !fault.IsCode(err, fault.CodeIntentNotFound) {
		t.Fatalf("want %s, got %v", fault.CodeIntentNotFound, err)
	}

	// Consume the outcome, then mutations must fail.
	clock.Advance(2 * time.Minute)
	validated := false
	_, err = acct.Execute("spend-1", func(role string, o any) error {
		validated = true
		if role != "test::main" {
			t.Fatalf("validate got role %q", role)
		}
		if o.(*testOutcome).Weight != 3 {
			t.Fatalf("validate got outcome %+v", o)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !validated {
		t.Fatal("validate callback must run")
	}

	err = acct.UpdateOutcome("spend-1", func(o any) (any, error) { return o, nil })
	if !fault.IsCode(err, fault.CodeExecutableIssued) {
		t.Fatalf("want %s, got %v", fault.CodeExecutableIssued, err)
	}
}

func TestExecuteTimingAndSecondExecutable(t *testing.T) {
	acct, clock := newTestAccount(t)
	storedIntent(t, acct, "spend-1")
	pass := func(string, any) error { return nil }

	// Too early.
	if _, err := acct.Execute("spend-1", pass); !fault.IsCode(err, fault.CodeTooEarly) {
		t.Fatalf("want %s, got %v", fault.CodeTooEarly, err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := acct.Execute("spend-1", pass); err != nil {
		t.Fatalf("Execute in window: %v", err)
	}

	// A second executable while one is outstanding is refused.
	if _, err := acct.Execute("spend-1", pass); !fault.IsCode(err, fault.CodeExecutableIssued) {
		t.Fatalf("want %s, got %v", fault.CodeExecutableIssued, err)
	}

	// Past expiry.
	storedIntent(t, acct, "spend-2")
	clock.Advance(2 * time.Hour)
	if _, err := acct.Execute("spend-2", pass); !fault.IsCode(err, fault.CodeExpired) {
		t.Fatalf("want %s, got %v", fault.CodeExpired, err)
	}
}

func TestExecuteValidationFailureLeavesOutcome(t *testing.T) {
	acct, clock := newTestAccount(t)
	storedIntent(t, acct, "spend-1")
	clock.Advance(2 * time.Minute)

	boom := errors.New("threshold not reached")
	if _, err := acct.Execute("spend-1", func(string, any) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("validator error must propagate, got %v", err)
	}

	// The intent is still pending and its outcome still mutable.
	in, _ := acct.Intent("spend-1")
	if in.Status != intents.StatusPending {
		t.Fatalf("status = %s after failed validation", in.Status)
	}
	if err := acct.UpdateOutcome("spend-1", func(o any) (any, error) { return o, nil }); err != nil {
		t.Fatalf("outcome must remain mutable: %v", err)
	}
}

func TestConfirmExecutionEmitsReceipt(t *testing.T) {
	acct, clock := newTestAccount(t)
	in := storedIntent(t, acct, "spend-1")
	clock.Advance(2 * time.Minute)

	exec, err := acct.Execute("spend-1", func(string, any) error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	// Confirming before draining fails.
	if _, err := acct.ConfirmExecution(exec); !fault.IsCode(err, fault.CodeActionsRemaining) {
		t.Fatalf("want %s, got %v", fault.CodeActionsRemaining, err)
	}

	proof := proofFor(t, acct, "covault_test")
	if _, err := exec.ProcessAction(acct.ID(), acct.Deps(), proof, testOrigin{}); err != nil {
		t.Fatal(err)
	}

	receipt, err := acct.ConfirmExecution(exec)
	if err != nil {
		t.Fatalf("ConfirmExecution: %v", err)
	}
	if receipt.IntentKey != "spend-1" || receipt.AccountID != "acct-1" {
		t.Fatalf("receipt misbound: %+v", receipt)
	}
	if len(receipt.ActionDigests) != 1 || receipt.ActionDigests[0] != in.Actions[0].Digest {
		t.Fatalf("receipt digests %v", receipt.ActionDigests)
	}
	if receipt.ContentHash == "" {
		t.Fatal("receipt must carry a content hash")
	}

	// The intent is retired.
	if _, live := acct.Intent("spend-1"); live {
		t.Fatal("intent must be removed after confirmation")
	}
}

func TestDeleteExpired(t *testing.T) {
	acct, clock := newTestAccount(t)
	storedIntent(t, acct, "spend-1")

	if _, err := acct.DeleteExpired("spend-1"); !fault.IsCode(err, fault.CodeNotExpired) {
		t.Fatalf("want %s, got %v", fault.CodeNotExpired, err)
	}

	clock.Advance(2 * time.Hour)
	bundle, err := acct.DeleteExpired("spend-1")
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if _, live := acct.Intent("spend-1"); live {
		t.Fatal("expired intent must leave the live table")
	}
	if bundle.Remaining() != 1 {
		t.Fatalf("bundle holds %d actions", bundle.Remaining())
	}
	if _, err := bundle.Next(testOrigin{}); err != nil {
		t.Fatal(err)
	}
	if err := bundle.Destroy(); err != nil {
		t.Fatal(err)
	}
}

func TestGatedVaultWrappers(t *testing.T) {
	acct, _ := newTestAccount(t)
	good := proofFor(t, acct, "covault_test")
	key := vault.Key{Module: "test", Name: "cap"}

	if err := acct.LockAsset(good, key, testCap{Power: 9}); err != nil {
		t.Fatalf("LockAsset: %v", err)
	}
	ok, err := acct.HasAsset(good, key)
	if err != nil || !ok {
		t.Fatalf("HasAsset = %v, %v", ok, err)
	}

	// A proof for a version the account never pinned is shut out of every
	// wrapper.
	stale := good
	bumped := good.Version.IncMinor()
	stale.Version = &bumped
	if err := acct.LockAsset(stale, key, testCap{}); !fault.IsCode(err, fault.CodeUnknownDependency) {
		t.Fatalf("stale LockAsset: want %s, got %v", fault.CodeUnknownDependency, err)
	}
	if _, err := acct.BorrowAsset(stale, key); !fault.IsCode(err, fault.CodeUnknownDependency) {
		t.Fatalf("stale BorrowAsset: want %s, got %v", fault.CodeUnknownDependency, err)
	}
	if _, _, err := acct.TakeAsset(stale, key); !fault.IsCode(err, fault.CodeUnknownDependency) {
		t.Fatalf("stale TakeAsset: want %s, got %v", fault.CodeUnknownDependency, err)
	}
	if err := acct.PutData(stale, key, testCap{}); !fault.IsCode(err, fault.CodeUnknownDependency) {
		t.Fatalf("stale PutData: want %s, got %v", fault.CodeUnknownDependency, err)
	}

	// The borrow cycle through the wrappers.
	val, receipt, err := acct.TakeAsset(good, key)
	if err != nil {
		t.Fatalf("TakeAsset: %v", err)
	}
	if err := acct.GiveBackAsset(good, val, receipt); err != nil {
		t.Fatalf("GiveBackAsset: %v", err)
	}
	got, err := acct.RemoveAsset(good, key)
	if err != nil {
		t.Fatalf("RemoveAsset: %v", err)
	}
	if got.(testCap).Power != 9 {
		t.Fatalf("removed %#v", got)
	}
}

func TestReplaceDepsRevokesMidIntent(t *testing.T) {
	acct, clock := newTestAccount(t)
	storedIntent(t, acct, "spend-1")
	clock.Advance(2 * time.Minute)

	exec, err := acct.Execute("spend-1", func(string, any) error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	// Drop the plug-in between issuance and draining.
	proof := proofFor(t, acct, "covault_test")
	coreOnly, err := acct.Deps().Without("covault_test")
	if err != nil {
		t.Fatal(err)
	}
	coreProof, err := acct.Deps().ProofFor(deps.CoreName)
	if err != nil {
		t.Fatal(err)
	}
	if err := acct.ReplaceDeps(coreProof, coreOnly); err != nil {
		t.Fatalf("ReplaceDeps: %v", err)
	}

	_, err = exec.ProcessAction(acct.ID(), acct.Deps(), proof, testOrigin{})
	if !fault.IsCode(err, fault.CodeUnknownDependency) {
		t.Fatalf("revocation must bite on the next action: got %v", err)
	}
}

func TestReplaceConfigGateChecked(t *testing.T) {
	acct, _ := newTestAccount(t)

	bogus := deps.VersionProof{Name: "covault_test", Addr: "addr-evil", Version: semver.MustParse("1.0.0")}
	if err := acct.ReplaceConfig(bogus, testConfig{Threshold: 1}); !fault.IsCode(err, fault.CodeUnknownDependency) {
		t.Fatalf("want %s, got %v", fault.CodeUnknownDependency, err)
	}

	good := proofFor(t, acct, "covault_test")
	if err := acct.ReplaceConfig(good, testConfig{Threshold: 5}); err != nil {
		t.Fatalf("ReplaceConfig: %v", err)
	}
	if acct.Config().(testConfig).Threshold != 5 {
		t.Fatal("config swap did not land")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	acct, clock := newTestAccount(t)

	reg := vault.NewRegistry()
	vault.RegisterJSON[testConfig](reg)
	vault.RegisterJSON[*testOutcome](reg)
	vault.RegisterJSON[testCap](reg)

	proof := proofFor(t, acct, "covault_test")
	if err := acct.LockAsset(proof, vault.Key{Module: "test", Name: "cap"}, testCap{Power: 3}); err != nil {
		t.Fatal(err)
	}
	storedIntent(t, acct, "spend-1")
	if err := acct.UpdateOutcome("spend-1", func(o any) (any, error) {
		o.(*testOutcome).Weight = 7
		return o, nil
	}); err != nil {
		t.Fatal(err)
	}

	state, err := acct.Snapshot(reg)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// The state is plain JSON.
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatal(err)
	}
	var decoded State
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	revived, err := FromState(decoded, reg, WithClock(clock))
	if err != nil {
		t.Fatalf("FromState: %v", err)
	}

	if revived.ID() != "acct-1" {
		t.Fatalf("revived id %q", revived.ID())
	}
	if revived.Config().(testConfig).Threshold != 2 {
		t.Fatalf("revived config %+v", revived.Config())
	}
	if !revived.Deps().Contains("covault_test") {
		t.Fatal("revived deps missing plug-in")
	}

	in, ok := revived.Intent("spend-1")
	if !ok {
		t.Fatal("revived account lost the intent")
	}
	if in.Outcome.(*testOutcome).Weight != 7 {
		t.Fatalf("revived outcome %+v", in.Outcome)
	}
	if len(in.Actions) != 1 {
		t.Fatalf("revived actions %v", in.Actions)
	}

	// And the revived account still executes.
	clock.Advance(2 * time.Minute)
	exec, err := revived.Execute("spend-1", func(string, any) error { return nil })
	if err != nil {
		t.Fatalf("Execute on revived account: %v", err)
	}
	if _, err := exec.ProcessAction(revived.ID(), revived.Deps(), proof, testOrigin{}); err != nil {
		t.Fatal(err)
	}
	if _, err := revived.ConfirmExecution(exec); err != nil {
		t.Fatal(err)
	}
}

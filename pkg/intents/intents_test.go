package intents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
)

// Origin markers standing in for two different plug-ins.
type spendOrigin struct{}

type mintOrigin struct{}

type spendPayload struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

var (
	t0     = time.Unix(10_000, 0).UTC()
	open   = t0.Add(1 * time.Minute)
	expiry = t0.Add(1 * time.Hour)
)

func testParams() Params {
	return Params{
		Key:          "treasury-spend-1",
		Description:  "pay the auditor",
		Role:         "treasury::spend",
		ExecuteAfter: open,
		ExpiresAt:    expiry,
	}
}

func testTable(t *testing.T) *deps.Table {
	t.Helper()
	core, err := deps.ParseRecord(deps.CoreName, "addr-core", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	spend, err := deps.ParseRecord("covault_spend", "addr-spend", "1.2.0")
	if err != nil {
		t.Fatal(err)
	}
	return deps.MustTable(core, spend)
}

func spendProof(t *testing.T, table *deps.Table) deps.VersionProof {
	t.Helper()
	proof, err := table.ProofFor("covault_spend")
	if err != nil {
		t.Fatal(err)
	}
	return proof
}

func mustAction(t *testing.T, kind string, origin any, payload any) Action {
	t.Helper()
	a, err := NewAction(kind, origin, payload)
	if err != nil {
		t.Fatalf("NewAction(%s): %v", kind, err)
	}
	return a
}

func buildIntent(t *testing.T, n int) *Intent {
	t.Helper()
	in, err := New("acct-1", "alice", testParams(), "outcome", t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < n; i++ {
		a := mustAction(t, "spend", spendOrigin{}, spendPayload{Recipient: "bob", Amount: uint64(i + 1)})
		if err := in.AttachAction(a); err != nil {
			t.Fatalf("AttachAction %d: %v", i, err)
		}
	}
	return in
}

func TestNewRejectsBadWindows(t *testing.T) {
	p := testParams()
	p.ExpiresAt = p.ExecuteAfter
	if _, err := New("acct-1", "alice", p, nil, t0); err == nil {
		t.Fatal("zero-length execution window must be rejected")
	}

	p = testParams()
	p.Key = ""
	if _, err := New("acct-1", "alice", p, nil, t0); err == nil {
		t.Fatal("empty key must be rejected")
	}
}

func TestActionDigestIsStable(t *testing.T) {
	a := mustAction(t, "spend", spendOrigin{}, spendPayload{Recipient: "bob", Amount: 5})
	b := mustAction(t, "spend", spendOrigin{}, spendPayload{Recipient: "bob", Amount: 5})
	if a.Digest != b.Digest {
		t.Fatal("identical actions must share a digest")
	}
	c := mustAction(t, "spend", spendOrigin{}, spendPayload{Recipient: "bob", Amount: 6})
	if a.Digest == c.Digest {
		t.Fatal("different payloads must not share a digest")
	}
}

func TestSealFreezesActions(t *testing.T) {
	in := buildIntent(t, 1)
	in.Seal()

	a := mustAction(t, "spend", spendOrigin{}, spendPayload{})
	err := in.AttachAction(a)
	if !fault.IsKind(err, fault.KindStateConflict) {
		t.Fatalf("attach after seal: want state conflict, got %v", err)
	}
}

func TestIssueTiming(t *testing.T) {
	in := buildIntent(t, 1)

	if _, err := in.Issue(open.Add(-time.Second)); !fault.IsCode(err, fault.CodeTooEarly) {
		t.Fatalf("before window: want %s, got %v", fault.CodeTooEarly, err)
	}
	if _, err := in.Issue(expiry); !fault.IsCode(err, fault.CodeExpired) {
		t.Fatalf("at expiry: want %s, got %v", fault.CodeExpired, err)
	}
	if _, err := in.Issue(open); err != nil {
		t.Fatalf("at window open: %v", err)
	}
}

func TestIssueConsumesOutcomeAndBlocksSecond(t *testing.T) {
	in := buildIntent(t, 1)

	exec, err := in.Issue(open)
	if err != nil {
		t.Fatal(err)
	}
	if in.Outcome != nil {
		t.Fatal("Issue must consume the outcome")
	}
	if in.Status != StatusExecuting {
		t.Fatalf("status = %s, want executing", in.Status)
	}
	if exec.Issuer.AccountID != "acct-1" || exec.Issuer.IntentKey != "treasury-spend-1" {
		t.Fatalf("issuer misbound: %+v", exec.Issuer)
	}

	_, err = in.Issue(open)
	if !fault.IsCode(err, fault.CodeExecutableIssued) {
		t.Fatalf("second issue: want %s, got %v", fault.CodeExecutableIssued, err)
	}
}

func TestProcessActionOrderAndDrain(t *testing.T) {
	const n = 3
	in := buildIntent(t, n)
	table := testTable(t)
	proof := spendProof(t, table)

	exec, err := in.Issue(open)
	if err != nil {
		t.Fatal(err)
	}

	// Finish before draining fails.
	if err := exec.Finish(); !fault.IsCode(err, fault.CodeActionsRemaining) {
		t.Fatalf("premature finish: want %s, got %v", fault.CodeActionsRemaining, err)
	}

	for i := 0; i < n; i++ {
		a, err := exec.ProcessAction("acct-1", table, proof, spendOrigin{})
		if err != nil {
			t.Fatalf("ProcessAction %d: %v", i, err)
		}
		var p spendPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			t.Fatal(err)
		}
		if p.Amount != uint64(i+1) {
			t.Fatalf("action %d out of order: amount %d", i, p.Amount)
		}
	}

	if exec.Remaining() != 0 {
		t.Fatalf("Remaining = %d", exec.Remaining())
	}
	if _, err := exec.ProcessAction("acct-1", table, proof, spendOrigin{}); err == nil {
		t.Fatal("draining past the end must fail")
	}
	if err := exec.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := exec.Finish(); err == nil {
		t.Fatal("double finish must fail")
	}
}

func TestProcessActionChecksGateEveryCall(t *testing.T) {
	in := buildIntent(t, 2)
	table := testTable(t)
	proof := spendProof(t, table)

	exec, err := in.Issue(open)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := exec.ProcessAction("acct-1", table, proof, spendOrigin{}); err != nil {
		t.Fatal(err)
	}

	// Revoke the plug-in between actions. The next call must fail.
	revoked, err := table.Without("covault_spend")
	if err != nil {
		t.Fatal(err)
	}
	_, err = exec.ProcessAction("acct-1", revoked, proof, spendOrigin{})
	if !fault.IsCode(err, fault.CodeUnknownDependency) {
		t.Fatalf("want %s, got %v", fault.CodeUnknownDependency, err)
	}
}

func TestProcessActionIdentityChecks(t *testing.T) {
	in := buildIntent(t, 1)
	table := testTable(t)
	proof := spendProof(t, table)

	exec, err := in.Issue(open)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := exec.ProcessAction("acct-2", table, proof, spendOrigin{}); !fault.IsCode(err, fault.CodeWrongAccount) {
		t.Fatalf("wrong account: want %s, got %v", fault.CodeWrongAccount, err)
	}
	if _, err := exec.ProcessAction("acct-1", table, proof, mintOrigin{}); !fault.IsCode(err, fault.CodeWrongOrigin) {
		t.Fatalf("wrong origin: want %s, got %v", fault.CodeWrongOrigin, err)
	}

	// The failed attempts must not have advanced the cursor.
	if exec.Processed() != 0 {
		t.Fatalf("cursor moved on failed checks: %d", exec.Processed())
	}
	if _, err := exec.ProcessAction("acct-1", table, proof, spendOrigin{}); err != nil {
		t.Fatalf("valid call after failures: %v", err)
	}
}

func TestExpireDrain(t *testing.T) {
	in := buildIntent(t, 2)

	if _, err := in.ExpireInto(expiry.Add(-time.Second)); !fault.IsCode(err, fault.CodeNotExpired) {
		t.Fatalf("live intent: want %s, got %v", fault.CodeNotExpired, err)
	}

	bundle, err := in.ExpireInto(expiry)
	if err != nil {
		t.Fatalf("ExpireInto: %v", err)
	}

	if err := bundle.Destroy(); !fault.IsCode(err, fault.CodeActionsNotDrained) {
		t.Fatalf("destroy undrained: want %s, got %v", fault.CodeActionsNotDrained, err)
	}

	if _, err := bundle.Next(mintOrigin{}); !fault.IsCode(err, fault.CodeWrongOrigin) {
		t.Fatalf("foreign drain: want %s, got %v", fault.CodeWrongOrigin, err)
	}

	for bundle.Remaining() > 0 {
		if _, err := bundle.Next(spendOrigin{}); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if err := bundle.Destroy(); err != nil {
		t.Fatalf("Destroy after drain: %v", err)
	}
}

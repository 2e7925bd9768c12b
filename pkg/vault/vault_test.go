package vault

import (
	"testing"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/hostclock"
)

type treasuryCap struct {
	Currency string `json:"currency"`
	Supply   uint64 `json:"supply"`
}

type appConfig struct {
	Threshold int `json:"threshold"`
}

var capKey = Key{Module: "treasury", Name: "cap"}

func newTestVault() *Vault {
	return New("acct-1", hostclock.Fixed{At: time.Unix(5000, 0).UTC()})
}

func TestLockBorrowRemove(t *testing.T) {
	v := newTestVault()
	if err := v.Lock(capKey, treasuryCap{Currency: "USD", Supply: 100}); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !v.Has(capKey) {
		t.Fatal("Has must be true after Lock")
	}

	view, err := v.Borrow(capKey)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if view.(treasuryCap).Supply != 100 {
		t.Fatalf("borrowed view %#v", view)
	}
	if !v.Has(capKey) {
		t.Fatal("Borrow must not move the asset")
	}

	got, err := v.Remove(capKey)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got.(treasuryCap).Currency != "USD" {
		t.Fatalf("removed %#v", got)
	}
	if v.Has(capKey) {
		t.Fatal("Remove must clear the key")
	}
}

func TestDoubleLockFails(t *testing.T) {
	v := newTestVault()
	if err := v.Lock(capKey, treasuryCap{}); err != nil {
		t.Fatal(err)
	}
	err := v.Lock(capKey, treasuryCap{})
	if !fault.IsCode(err, fault.CodeAlreadyLocked) {
		t.Fatalf("want %s, got %v", fault.CodeAlreadyLocked, err)
	}
	if !fault.IsKind(err, fault.KindStateConflict) {
		t.Fatalf("want state conflict kind, got %v", fault.KindOf(err))
	}

	// A different asset type changes nothing.
	if err := v.Lock(capKey, appConfig{}); !fault.IsCode(err, fault.CodeAlreadyLocked) {
		t.Fatalf("want %s regardless of type, got %v", fault.CodeAlreadyLocked, err)
	}
}

func TestBorrowMissing(t *testing.T) {
	v := newTestVault()
	if _, err := v.Borrow(capKey); !fault.IsCode(err, fault.CodeNoLock) {
		t.Fatalf("want %s, got %v", fault.CodeNoLock, err)
	}
	if _, err := v.Remove(capKey); !fault.IsCode(err, fault.CodeNoLock) {
		t.Fatalf("want %s, got %v", fault.CodeNoLock, err)
	}
	if _, _, err := v.Take(capKey); !fault.IsCode(err, fault.CodeNoLock) {
		t.Fatalf("want %s, got %v", fault.CodeNoLock, err)
	}
}

func TestTakeGiveBackRoundTrip(t *testing.T) {
	v := newTestVault()
	if err := v.Lock(capKey, treasuryCap{Currency: "USD", Supply: 100}); err != nil {
		t.Fatal(err)
	}

	val, receipt, err := v.Take(capKey)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	cap, ok := val.(treasuryCap)
	if !ok || cap.Supply != 100 {
		t.Fatalf("unexpected asset %#v", val)
	}
	if receipt.AccountID != "acct-1" || receipt.Key != capKey {
		t.Fatalf("receipt misbound: %+v", receipt)
	}
	if !v.OnLoan(capKey) {
		t.Fatal("key must be on loan while borrowed")
	}
	if v.Has(capKey) {
		t.Fatal("a loaned asset must not be present")
	}

	cap.Supply = 90
	if err := v.GiveBack(cap, receipt); err != nil {
		t.Fatalf("GiveBack: %v", err)
	}
	if v.OnLoan(capKey) {
		t.Fatal("loan must clear on return")
	}
	if !v.Has(capKey) {
		t.Fatal("asset must be re-locked under the same key")
	}

	view, err := v.Borrow(capKey)
	if err != nil {
		t.Fatal(err)
	}
	if view.(treasuryCap).Supply != 90 {
		t.Fatal("mutated asset must persist across the round trip")
	}
}

func TestSecondTakeFailsWhileOnLoan(t *testing.T) {
	v := newTestVault()
	if err := v.Lock(capKey, treasuryCap{}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := v.Take(capKey); err != nil {
		t.Fatal(err)
	}

	_, _, err := v.Take(capKey)
	if !fault.IsCode(err, fault.CodeAlreadyLocked) {
		t.Fatalf("want %s, got %v", fault.CodeAlreadyLocked, err)
	}

	// Lock, Borrow and Remove are also shut out while the loan is open.
	if err := v.Lock(capKey, treasuryCap{}); !fault.IsCode(err, fault.CodeAlreadyLocked) {
		t.Fatalf("Lock during loan: want %s, got %v", fault.CodeAlreadyLocked, err)
	}
	if _, err := v.Borrow(capKey); !fault.IsCode(err, fault.CodeAlreadyLocked) {
		t.Fatalf("Borrow during loan: want %s, got %v", fault.CodeAlreadyLocked, err)
	}
	if _, err := v.Remove(capKey); !fault.IsCode(err, fault.CodeAlreadyLocked) {
		t.Fatalf("Remove during loan: want %s, got %v", fault.CodeAlreadyLocked, err)
	}
}

func TestGiveBackRejectsForeignReceipt(t *testing.T) {
	v := newTestVault()
	other := New("acct-2", hostclock.Fixed{At: time.Unix(5000, 0).UTC()})

	if err := other.Lock(capKey, treasuryCap{}); err != nil {
		t.Fatal(err)
	}
	val, receipt, err := other.Take(capKey)
	if err != nil {
		t.Fatal(err)
	}

	err = v.GiveBack(val, receipt)
	if !fault.IsCode(err, fault.CodeWrongAccount) {
		t.Fatalf("want %s, got %v", fault.CodeWrongAccount, err)
	}
	if !fault.IsKind(err, fault.KindAuthorization) {
		t.Fatalf("want authorization kind, got %v", fault.KindOf(err))
	}
}

func TestGiveBackRejectsWrongType(t *testing.T) {
	v := newTestVault()
	if err := v.Lock(capKey, treasuryCap{}); err != nil {
		t.Fatal(err)
	}
	_, receipt, err := v.Take(capKey)
	if err != nil {
		t.Fatal(err)
	}

	err = v.GiveBack(appConfig{Threshold: 2}, receipt)
	if !fault.IsCode(err, fault.CodeReceiptMismatch) {
		t.Fatalf("want %s, got %v", fault.CodeReceiptMismatch, err)
	}
}

func TestGiveBackRedeemsReceiptOnce(t *testing.T) {
	v := newTestVault()
	if err := v.Lock(capKey, treasuryCap{}); err != nil {
		t.Fatal(err)
	}
	val, receipt, err := v.Take(capKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.GiveBack(val, receipt); err != nil {
		t.Fatal(err)
	}

	// Take again so the key is on loan, then replay the stale receipt.
	val2, _, err := v.Take(capKey)
	if err != nil {
		t.Fatal(err)
	}
	err = v.GiveBack(val2, receipt)
	if !fault.IsCode(err, fault.CodeReceiptConsumed) {
		t.Fatalf("want %s, got %v", fault.CodeReceiptConsumed, err)
	}
}

func TestGiveBackWithoutLoan(t *testing.T) {
	v := newTestVault()
	err := v.GiveBack(treasuryCap{}, Receipt{ID: "r", AccountID: "acct-1", Key: capKey})
	if !fault.IsCode(err, fault.CodeNoLock) {
		t.Fatalf("want %s, got %v", fault.CodeNoLock, err)
	}
}

func TestDataHasNoLocking(t *testing.T) {
	v := newTestVault()
	k := Key{Module: "app", Name: "config"}

	v.PutData(k, appConfig{Threshold: 2})
	v.PutData(k, appConfig{Threshold: 3}) // replace is fine

	got, ok := v.GetData(k)
	if !ok || got.(appConfig).Threshold != 3 {
		t.Fatalf("GetData = %#v, %v", got, ok)
	}

	v.RemoveData(k)
	if _, ok := v.GetData(k); ok {
		t.Fatal("data should be gone")
	}
}

func TestSnapshotRestoreKeepsLoans(t *testing.T) {
	clock := hostclock.Fixed{At: time.Unix(7000, 0).UTC()}
	v := New("acct-9", clock)

	reg := NewRegistry()
	RegisterJSON[treasuryCap](reg)
	RegisterJSON[appConfig](reg)

	stored := Key{Module: "treasury", Name: "reserve"}
	if err := v.Lock(stored, treasuryCap{Currency: "EUR", Supply: 7}); err != nil {
		t.Fatal(err)
	}
	if err := v.Lock(capKey, treasuryCap{Currency: "USD", Supply: 1}); err != nil {
		t.Fatal(err)
	}
	borrowed, receipt, err := v.Take(capKey)
	if err != nil {
		t.Fatal(err)
	}
	v.PutData(Key{Module: "app", Name: "config"}, appConfig{Threshold: 4})

	snap, err := v.Snapshot(reg)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored, err := FromSnapshot(snap, reg, clock)
	if err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}

	// The stored asset survives.
	view, err := restored.Borrow(stored)
	if err != nil {
		t.Fatalf("Borrow restored: %v", err)
	}
	if view.(treasuryCap).Supply != 7 {
		t.Fatalf("restored asset %#v", view)
	}

	// The outstanding loan survives: the key is still reserved and the
	// original receipt still closes it.
	if !restored.OnLoan(capKey) {
		t.Fatal("restored vault must keep the loan open")
	}
	if _, _, err := restored.Take(capKey); !fault.IsCode(err, fault.CodeAlreadyLocked) {
		t.Fatalf("want %s, got %v", fault.CodeAlreadyLocked, err)
	}
	if err := restored.GiveBack(borrowed, receipt); err != nil {
		t.Fatalf("original receipt must close the restored loan: %v", err)
	}

	// Data survives.
	got, ok := restored.GetData(Key{Module: "app", Name: "config"})
	if !ok || got.(appConfig).Threshold != 4 {
		t.Fatalf("restored data %#v, %v", got, ok)
	}
}

func TestSnapshotNeedsCodec(t *testing.T) {
	v := newTestVault()
	if err := v.Lock(capKey, treasuryCap{}); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Snapshot(NewRegistry()); err == nil {
		t.Fatal("snapshot without a codec must fail")
	}
}

func TestKeysDeterministic(t *testing.T) {
	v := newTestVault()
	if err := v.Lock(Key{Module: "b", Name: "x"}, treasuryCap{}); err != nil {
		t.Fatal(err)
	}
	v.PutData(Key{Module: "a", Name: "y"}, appConfig{})

	keys := v.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys = %v", keys)
	}
	if keys[0].Module != "a" || keys[1].Module != "b" {
		t.Fatalf("Keys must sort deterministically, got %v", keys)
	}
}

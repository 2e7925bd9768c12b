// Package vault is the managed storage attached to every account. It holds
// two kinds of entries: assets, linear capability values locked under a key
// with at most one holder at a time, and data, plain keyed values with no
// locking discipline.
//
// Assets leave the vault through Take and come back through GiveBack. The
// receipt minted by Take is bound to the account, the key, and the asset's
// type identity, and is redeemed exactly once. While a receipt is
// outstanding the key stays reserved: locking over it, taking it again, or
// removing it all fail instead of handing the same resource out twice.
package vault

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/hostclock"
	"github.com/Covault-Labs/covault/core/pkg/witness"
)

// Key addresses an entry. Module namespaces keys so that two plug-ins
// using the same short name never collide.
type Key struct {
	Module string `json:"module"`
	Name   string `json:"name"`
}

func (k Key) String() string { return k.Module + "::" + k.Name }

// Receipt proves an outstanding borrow. It is minted by Take and accepted
// exactly once by GiveBack on the same account, for the same key, carrying
// a value of the same type that left.
type Receipt struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id"`
	Key       Key            `json:"key"`
	Asset     witness.TypeID `json:"asset"`
	TakenAt   time.Time      `json:"taken_at"`
}

type entry struct {
	value  any
	typeID witness.TypeID
}

type loan struct {
	receiptID string
	typeID    witness.TypeID
	takenAt   time.Time
}

// Vault is the managed store of one account.
type Vault struct {
	mu        sync.Mutex
	accountID string
	clock     hostclock.Clock
	assets    map[Key]entry
	loans     map[Key]loan
	data      map[Key]any
}

// New creates an empty vault for the given account. A nil clock defaults
// to wall time.
func New(accountID string, clock hostclock.Clock) *Vault {
	if clock == nil {
		clock = hostclock.Wall{}
	}
	return &Vault{
		accountID: accountID,
		clock:     clock,
		assets:    make(map[Key]entry),
		loans:     make(map[Key]loan),
		data:      make(map[Key]any),
	}
}

// AccountID returns the owning account.
func (v *Vault) AccountID() string { return v.accountID }

// Lock stores an asset under key. The key must be vacant: no stored asset
// and no outstanding borrow.
func (v *Vault) Lock(key Key, value any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, out := v.loans[key]; out {
		return fault.Newf(fault.KindStateConflict, fault.CodeAlreadyLocked,
			"asset %s is out on loan", key)
	}
	if _, exists := v.assets[key]; exists {
		return fault.Newf(fault.KindStateConflict, fault.CodeAlreadyLocked,
			"asset already locked at %s", key)
	}
	v.assets[key] = entry{value: value, typeID: witness.Of(value)}
	return nil
}

// Has reports whether an asset is locked at key. An asset out on loan is
// absent until it comes back.
func (v *Vault) Has(key Key) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.assets[key]
	return ok
}

// Borrow returns the asset locked at key without moving it. The returned
// value is a shared view; mutation goes through Take and GiveBack.
func (v *Vault) Borrow(key Key) (any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.assets[key]
	if !ok {
		if _, out := v.loans[key]; out {
			return nil, fault.Newf(fault.KindStateConflict, fault.CodeAlreadyLocked,
				"asset %s is out on loan", key)
		}
		return nil, fault.Newf(fault.KindStateConflict, fault.CodeNoLock,
			"no asset locked at %s", key)
	}
	return e.value, nil
}

// Remove permanently clears the key and returns the asset.
func (v *Vault) Remove(key Key) (any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, out := v.loans[key]; out {
		return nil, fault.Newf(fault.KindStateConflict, fault.CodeAlreadyLocked,
			"asset %s is out on loan", key)
	}
	e, ok := v.assets[key]
	if !ok {
		return nil, fault.Newf(fault.KindStateConflict, fault.CodeNoLock,
			"no asset locked at %s", key)
	}
	delete(v.assets, key)
	return e.value, nil
}

// Take removes the asset at key and mints a receipt for its return. While
// the receipt is outstanding the key is reserved.
func (v *Vault) Take(key Key) (any, Receipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, out := v.loans[key]; out {
		return nil, Receipt{}, fault.Newf(fault.KindStateConflict, fault.CodeAlreadyLocked,
			"asset %s is out on loan", key)
	}
	e, ok := v.assets[key]
	if !ok {
		return nil, Receipt{}, fault.Newf(fault.KindStateConflict, fault.CodeNoLock,
			"no asset locked at %s", key)
	}

	r := Receipt{
		ID:        uuid.NewString(),
		AccountID: v.accountID,
		Key:       key,
		Asset:     e.typeID,
		TakenAt:   v.clock.Now(),
	}
	delete(v.assets, key)
	v.loans[key] = loan{receiptID: r.ID, typeID: e.typeID, takenAt: r.TakenAt}
	return e.value, r, nil
}

// GiveBack re-locks a borrowed asset and redeems the receipt. The receipt
// must belong to this account, name a key with an outstanding loan, and
// the value's type must match what left the vault.
func (v *Vault) GiveBack(value any, r Receipt) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if r.AccountID != v.accountID {
		return fault.Newf(fault.KindAuthorization, fault.CodeWrongAccount,
			"receipt belongs to account %s, vault is %s", r.AccountID, v.accountID)
	}
	l, out := v.loans[r.Key]
	if !out {
		return fault.Newf(fault.KindStateConflict, fault.CodeNoLock,
			"no outstanding borrow for %s", r.Key)
	}
	if l.receiptID != r.ID {
		return fault.Newf(fault.KindStateConflict, fault.CodeReceiptConsumed,
			"receipt %s is not the live receipt for %s", r.ID, r.Key)
	}
	if got := witness.Of(value); got != l.typeID {
		return fault.Newf(fault.KindAuthorization, fault.CodeReceiptMismatch,
			"returning %s where %s left", got, l.typeID)
	}

	delete(v.loans, r.Key)
	v.assets[r.Key] = entry{value: value, typeID: l.typeID}
	return nil
}

// OnLoan reports whether key has an outstanding borrow.
func (v *Vault) OnLoan(key Key) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, out := v.loans[key]
	return out
}

// AssetType returns the type identity of the asset at key, whether locked
// in place or out on loan.
func (v *Vault) AssetType(key Key) (witness.TypeID, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e, ok := v.assets[key]; ok {
		return e.typeID, true
	}
	if l, out := v.loans[key]; out {
		return l.typeID, true
	}
	return "", false
}

// PutData stores a plain value. Existing data at the key is replaced.
func (v *Vault) PutData(key Key, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data[key] = value
}

// GetData returns the plain value at key.
func (v *Vault) GetData(key Key) (any, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.data[key]
	return val, ok
}

// RemoveData deletes the plain value at key.
func (v *Vault) RemoveData(key Key) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.data, key)
}

// Keys returns every key currently known to the vault: locked assets,
// loaned assets, and data, sorted for deterministic iteration.
func (v *Vault) Keys() []Key {
	v.mu.Lock()
	defer v.mu.Unlock()

	seen := make(map[Key]struct{}, len(v.assets)+len(v.loans)+len(v.data))
	for k := range v.assets {
		seen[k] = struct{}{}
	}
	for k := range v.loans {
		seen[k] = struct{}{}
	}
	for k := range v.data {
		seen[k] = struct{}{}
	}
	out := make([]Key, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

//go:build property
// +build property

// Package vault_test contains property-based tests for the linear asset
// discipline: one holder per key, receipts redeemed exactly once.
package vault_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/vault"
)

// TestVaultSingleHolder verifies a key holds at most one asset.
// Property: after Lock(k) succeeds, every further Lock(k) fails AlreadyLocked
// until the key is cleared.
func TestVaultSingleHolder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a locked key refuses every further lock", prop.ForAll(
		func(module, name, first, second string) bool {
			v := vault.New("acct-prop", nil)
			key := vault.Key{Module: module, Name: name}

			if err := v.Lock(key, first); err != nil {
				return false
			}
			if !v.Has(key) {
				return false
			}
			if err := v.Lock(key, second); !fault.IsCode(err, fault.CodeAlreadyLocked) {
				return false
			}

			// The stored value is untouched by the refused lock.
			got, err := v.Borrow(key)
			return err == nil && got == first
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestVaultLoanRoundTrip verifies Take and GiveBack are exact inverses.
// Property: Lock(k, x); Take(k) -> (x, r); GiveBack(x', r) restores the key
// with x', and while the loan is out every access to k fails AlreadyLocked.
func TestVaultLoanRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("take then give back restores the key", prop.ForAll(
		func(module, name, original, replacement string) bool {
			v := vault.New("acct-prop", nil)
			key := vault.Key{Module: module, Name: name}

			if err := v.Lock(key, original); err != nil {
				return false
			}
			taken, receipt, err := v.Take(key)
			if err != nil || taken != original {
				return false
			}

			// The key is reserved, not vacant, while the loan is out.
			if v.Has(key) {
				return false
			}
			if !v.OnLoan(key) {
				return false
			}
			if err := v.Lock(key, replacement); !fault.IsCode(err, fault.CodeAlreadyLocked) {
				return false
			}
			if _, _, err := v.Take(key); !fault.IsCode(err, fault.CodeAlreadyLocked) {
				return false
			}
			if _, err := v.Remove(key); !fault.IsCode(err, fault.CodeAlreadyLocked) {
				return false
			}

			if err := v.GiveBack(replacement, receipt); err != nil {
				return false
			}
			got, err := v.Borrow(key)
			return err == nil && got == replacement && !v.OnLoan(key)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestVaultReceiptSingleUse verifies a receipt is redeemed at most once.
// Property: after GiveBack(x, r) succeeds, GiveBack(y, r) always fails.
func TestVaultReceiptSingleUse(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a redeemed receipt never redeems again", prop.ForAll(
		func(name, value string) bool {
			v := vault.New("acct-prop", nil)
			key := vault.Key{Module: "prop", Name: name}

			if err := v.Lock(key, value); err != nil {
				return false
			}
			taken, receipt, err := v.Take(key)
			if err != nil {
				return false
			}
			if err := v.GiveBack(taken, receipt); err != nil {
				return false
			}

			// Second redemption fails no matter how the key looks now.
			err = v.GiveBack(taken, receipt)
			return fault.IsCode(err, fault.CodeNoLock) || fault.IsCode(err, fault.CodeReceiptConsumed)
		},
		gen.AlphaString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestVaultKeysSortedComplete verifies the key listing is total and ordered.
// Property: Keys() contains every locked asset and every data key exactly
// once, sorted by the key's string form.
func TestVaultKeysSortedComplete(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("Keys is sorted and complete", prop.ForAll(
		func(names []string) bool {
			v := vault.New("acct-prop", nil)

			want := make(map[string]struct{})
			for i, n := range names {
				key := vault.Key{Module: "prop", Name: n}
				if i%2 == 0 {
					if err := v.Lock(key, i); err != nil {
						continue // duplicate name, first lock holds
					}
				} else {
					v.PutData(key, i)
				}
				want[key.String()] = struct{}{}
			}

			keys := v.Keys()
			if len(keys) != len(want) {
				return false
			}
			for i, k := range keys {
				if _, ok := want[k.String()]; !ok {
					return false
				}
				if i > 0 && keys[i-1].String() >= k.String() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

package account

import (
	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/vault"
)

// Every vault entry point a plug-in can reach goes through these wrappers,
// and each one re-checks the dependency gate first. A stale or unapproved
// build of a plug-in can hold valid-looking keys and still touch nothing.

func (a *Account) gate(proof deps.VersionProof) error {
	a.mu.Lock()
	table := a.deps
	a.mu.Unlock()
	return table.Check(proof)
}

// LockAsset stores an asset in the vault.
func (a *Account) LockAsset(proof deps.VersionProof, key vault.Key, value any) error {
	if err := a.gate(proof); err != nil {
		return err
	}
	return a.vault.Lock(key, value)
}

// HasAsset reports whether an asset is locked at key.
func (a *Account) HasAsset(proof deps.VersionProof, key vault.Key) (bool, error) {
	if err := a.gate(proof); err != nil {
		return false, err
	}
	return a.vault.Has(key), nil
}

// BorrowAsset returns a read view of the asset at key.
func (a *Account) BorrowAsset(proof deps.VersionProof, key vault.Key) (any, error) {
	if err := a.gate(proof); err != nil {
		return nil, err
	}
	return a.vault.Borrow(key)
}

// RemoveAsset permanently clears the key and returns the asset.
func (a *Account) RemoveAsset(proof deps.VersionProof, key vault.Key) (any, error) {
	if err := a.gate(proof); err != nil {
		return nil, err
	}
	return a.vault.Remove(key)
}

// TakeAsset removes the asset for temporary use and mints its receipt.
func (a *Account) TakeAsset(proof deps.VersionProof, key vault.Key) (any, vault.Receipt, error) {
	if err := a.gate(proof); err != nil {
		return nil, vault.Receipt{}, err
	}
	return a.vault.Take(key)
}

// GiveBackAsset returns a borrowed asset and redeems the receipt.
func (a *Account) GiveBackAsset(proof deps.VersionProof, value any, r vault.Receipt) error {
	if err := a.gate(proof); err != nil {
		return err
	}
	return a.vault.GiveBack(value, r)
}

// PutData stores a plain data record.
func (a *Account) PutData(proof deps.VersionProof, key vault.Key, value any) error {
	if err := a.gate(proof); err != nil {
		return err
	}
	a.vault.PutData(key, value)
	return nil
}

// Data reads a plain data record.
func (a *Account) Data(proof deps.VersionProof, key vault.Key) (any, bool, error) {
	if err := a.gate(proof); err != nil {
		return nil, false, err
	}
	val, ok := a.vault.GetData(key)
	return val, ok, nil
}

// RemoveData deletes a plain data record.
func (a *Account) RemoveData(proof deps.VersionProof, key vault.Key) error {
	if err := a.gate(proof); err != nil {
		return err
	}
	a.vault.RemoveData(key)
	return nil
}

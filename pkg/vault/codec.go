package vault

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/hostclock"
	"github.com/Covault-Labs/covault/core/pkg/witness"
)

// Codec serializes one asset or data type. Vault values are opaque to the
// engine; persistence needs an explicit codec per type, assembled at wiring
// time by whoever composes the governance packages.
type Codec struct {
	Type      witness.TypeID
	Marshal   func(v any) ([]byte, error)
	Unmarshal func(b []byte) (any, error)
}

// Registry maps type identities to codecs.
type Registry struct {
	byType map[witness.TypeID]Codec
}

// NewRegistry creates an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[witness.TypeID]Codec)}
}

// Add registers a codec. Re-registering a type replaces the previous codec.
func (r *Registry) Add(c Codec) {
	r.byType[c.Type] = c
}

// Lookup returns the codec for a type identity.
func (r *Registry) Lookup(id witness.TypeID) (Codec, bool) {
	c, ok := r.byType[id]
	return c, ok
}

// RegisterJSON registers the stock encoding/json codec for T. Values round
// trip as *T is unmarshalled then dereferenced, so vault contents restored
// from a snapshot compare equal to what was stored.
func RegisterJSON[T any](r *Registry) witness.TypeID {
	id := witness.For[T]()
	r.Add(Codec{
		Type: id,
		Marshal: func(v any) ([]byte, error) {
			return json.Marshal(v)
		},
		Unmarshal: func(b []byte) (any, error) {
			var out T
			if err := json.Unmarshal(b, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	})
	return id
}

// AssetRecord is the serialized form of one stored asset.
type AssetRecord struct {
	Key  Key             `json:"key"`
	Type witness.TypeID  `json:"type"`
	Body json.RawMessage `json:"body"`
}

// LoanRecord is the serialized form of one outstanding borrow.
type LoanRecord struct {
	Key       Key            `json:"key"`
	ReceiptID string         `json:"receipt_id"`
	Type      witness.TypeID `json:"type"`
	TakenAt   time.Time      `json:"taken_at"`
}

// DataRecord is the serialized form of one plain value.
type DataRecord struct {
	Key  Key             `json:"key"`
	Type witness.TypeID  `json:"type"`
	Body json.RawMessage `json:"body"`
}

// Snapshot is the full serializable state of a vault.
type Snapshot struct {
	AccountID string        `json:"account_id"`
	Assets    []AssetRecord `json:"assets"`
	Loans     []LoanRecord  `json:"loans"`
	Data      []DataRecord  `json:"data"`
}

// Snapshot serializes the vault with the given codec registry. Every stored
// value must have a registered codec.
func (v *Vault) Snapshot(reg *Registry) (Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Snapshot{AccountID: v.accountID}

	for k, e := range v.assets {
		c, ok := reg.Lookup(e.typeID)
		if !ok {
			return Snapshot{}, fault.Newf(fault.KindStateConflict, fault.CodeInvalidConfig,
				"no codec registered for asset type %s at %s", e.typeID, k)
		}
		body, err := c.Marshal(e.value)
		if err != nil {
			return Snapshot{}, fmt.Errorf("vault: marshal asset %s: %w", k, err)
		}
		s.Assets = append(s.Assets, AssetRecord{Key: k, Type: e.typeID, Body: body})
	}
	for k, l := range v.loans {
		s.Loans = append(s.Loans, LoanRecord{Key: k, ReceiptID: l.receiptID, Type: l.typeID, TakenAt: l.takenAt})
	}
	for k, val := range v.data {
		id := witness.Of(val)
		c, ok := reg.Lookup(id)
		if !ok {
			return Snapshot{}, fault.Newf(fault.KindStateConflict, fault.CodeInvalidConfig,
				"no codec registered for data type %s at %s", id, k)
		}
		body, err := c.Marshal(val)
		if err != nil {
			return Snapshot{}, fmt.Errorf("vault: marshal data %s: %w", k, err)
		}
		s.Data = append(s.Data, DataRecord{Key: k, Type: id, Body: body})
	}

	sort.Slice(s.Assets, func(i, j int) bool { return s.Assets[i].Key.String() < s.Assets[j].Key.String() })
	sort.Slice(s.Loans, func(i, j int) bool { return s.Loans[i].Key.String() < s.Loans[j].Key.String() })
	sort.Slice(s.Data, func(i, j int) bool { return s.Data[i].Key.String() < s.Data[j].Key.String() })
	return s, nil
}

// FromSnapshot rebuilds a vault, outstanding borrows included, so a
// restored account refuses the same double-takes the live one did.
func FromSnapshot(s Snapshot, reg *Registry, clock hostclock.Clock) (*Vault, error) {
	v := New(s.AccountID, clock)

	for _, rec := range s.Assets {
		c, ok := reg.Lookup(rec.Type)
		if !ok {
			return nil, fault.Newf(fault.KindStateConflict, fault.CodeInvalidConfig,
				"no codec registered for asset type %s at %s", rec.Type, rec.Key)
		}
		val, err := c.Unmarshal(rec.Body)
		if err != nil {
			return nil, fmt.Errorf("vault: unmarshal asset %s: %w", rec.Key, err)
		}
		v.assets[rec.Key] = entry{value: val, typeID: rec.Type}
	}
	for _, rec := range s.Loans {
		v.loans[rec.Key] = loan{receiptID: rec.ReceiptID, typeID: rec.Type, takenAt: rec.TakenAt}
	}
	for _, rec := range s.Data {
		c, ok := reg.Lookup(rec.Type)
		if !ok {
			return nil, fault.Newf(fault.KindStateConflict, fault.CodeInvalidConfig,
				"no codec registered for data type %s at %s", rec.Type, rec.Key)
		}
		val, err := c.Unmarshal(rec.Body)
		if err != nil {
			return nil, fmt.Errorf("vault: unmarshal data %s: %w", rec.Key, err)
		}
		v.data[rec.Key] = val
	}
	return v, nil
}

package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/canonicalize"
)

// Record kinds the keeper archives.
const (
	RecordReceipt = "receipt"
	RecordExpired = "expired_intent"
)

// Record is the archived envelope. Kind discriminates the body so a
// record fetched by address can be decoded without out-of-band context.
type Record struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// ExpiredRecord is the archived trace of a swept intent: what died,
// when it died, and the digests of the actions that were drained.
type ExpiredRecord struct {
	AccountID     string    `json:"account_id"`
	IntentKey     string    `json:"intent_key"`
	Role          string    `json:"role"`
	ActionDigests []string  `json:"action_digests"`
	ExpiredAt     time.Time `json:"expired_at"`
}

// Keeper writes governance records to the archive as canonical JSON.
// Because the bytes are canonical, a record's archive address is
// reproducible from its content alone, and anyone holding the record
// can recompute the address it must live at.
type Keeper struct {
	store Store
}

// NewKeeper wraps a content-addressed store.
func NewKeeper(store Store) *Keeper {
	return &Keeper{store: store}
}

func (k *Keeper) keep(ctx context.Context, kind string, body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal %s record: %w", kind, err)
	}
	data, err := canonicalize.JCS(Record{Kind: kind, Body: raw})
	if err != nil {
		return "", fmt.Errorf("canonicalize %s record: %w", kind, err)
	}
	return k.store.Store(ctx, data)
}

// load fetches a record and checks the bytes against the address they
// were requested by, so a corrupted backend cannot serve a forged
// record silently.
func (k *Keeper) load(ctx context.Context, addr, kind string) (json.RawMessage, error) {
	data, err := k.store.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if got := canonicalize.Digest(data); got != addr {
		return nil, fmt.Errorf("archive record %s failed its integrity check (bytes hash to %s)", addr, got)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", addr, err)
	}
	if rec.Kind != kind {
		return nil, fmt.Errorf("record %s is a %s, not a %s", addr, rec.Kind, kind)
	}
	return rec.Body, nil
}

// KeepReceipt archives an execution receipt and returns its address.
func (k *Keeper) KeepReceipt(ctx context.Context, r account.Receipt) (string, error) {
	return k.keep(ctx, RecordReceipt, r)
}

// Receipt loads an archived execution receipt by address.
func (k *Keeper) Receipt(ctx context.Context, addr string) (account.Receipt, error) {
	body, err := k.load(ctx, addr, RecordReceipt)
	if err != nil {
		return account.Receipt{}, err
	}
	var r account.Receipt
	if err := json.Unmarshal(body, &r); err != nil {
		return account.Receipt{}, fmt.Errorf("decode receipt %s: %w", addr, err)
	}
	return r, nil
}

// KeepExpired archives the trace of a swept intent and returns its
// address.
func (k *Keeper) KeepExpired(ctx context.Context, rec ExpiredRecord) (string, error) {
	return k.keep(ctx, RecordExpired, rec)
}

// Expired loads an archived expiry trace by address.
func (k *Keeper) Expired(ctx context.Context, addr string) (ExpiredRecord, error) {
	body, err := k.load(ctx, addr, RecordExpired)
	if err != nil {
		return ExpiredRecord{}, err
	}
	var rec ExpiredRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return ExpiredRecord{}, fmt.Errorf("decode expiry record %s: %w", addr, err)
	}
	return rec, nil
}

// Package intents implements the proposal lifecycle: a named, time-boxed
// batch of serialized actions moves from assembly through approval to a
// single-use execution cursor, or to an explicit expiry drain.
//
// The package holds pure state machines. It never reads the wall clock,
// never logs, and never touches storage; the account layer supplies time,
// authorization, and outcome validation around these types.
package intents

import (
	"encoding/json"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/canonicalize"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/witness"
)

// Status of a stored intent. Draft is implicit: an intent not yet sealed
// into an account's live table.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
)

// Action is one step of an intent. Payload is opaque cargo owned by the
// plug-in that attached it; Origin records the plug-in's marker type so
// nobody else can redeem the step; Digest is the canonical hash of kind
// and payload, quoted in receipts.
type Action struct {
	Kind    string          `json:"kind"`
	Origin  witness.TypeID  `json:"origin"`
	Payload json.RawMessage `json:"payload"`
	Digest  string          `json:"digest"`
}

// NewAction serializes payload and binds it to the origin marker's type.
// The marker value itself is discarded; only its identity is kept.
func NewAction(kind string, origin any, payload any) (Action, error) {
	originID := witness.Of(origin)
	if originID == "" {
		return Action{}, fault.New(fault.KindAuthorization, fault.CodeWrongOrigin,
			"action origin marker has no type identity")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Action{}, fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
			"action payload is not serializable", err)
	}
	digest, err := canonicalize.CanonicalHash(struct {
		Kind    string          `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}{Kind: kind, Payload: raw})
	if err != nil {
		return Action{}, fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
			"action payload cannot be canonicalized", err)
	}
	return Action{Kind: kind, Origin: originID, Payload: raw, Digest: digest}, nil
}

// Params are the caller-chosen attributes of a new intent.
type Params struct {
	Key          string    `json:"key"`
	Description  string    `json:"description"`
	Role         string    `json:"role"`
	ExecuteAfter time.Time `json:"execute_after"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Intent is a named batch of actions plus one mutable Outcome. The Outcome
// is opaque here; the governance package that created it owns its shape
// and its validation.
type Intent struct {
	Key          string    `json:"key"`
	Description  string    `json:"description"`
	Role         string    `json:"role"`
	AccountID    string    `json:"account_id"`
	Creator      string    `json:"creator"`
	CreatedAt    time.Time `json:"created_at"`
	ExecuteAfter time.Time `json:"execute_after"`
	ExpiresAt    time.Time `json:"expires_at"`
	Actions      []Action  `json:"actions"`
	Outcome      any       `json:"outcome"`
	Status       Status    `json:"status"`
	Sealed       bool      `json:"sealed"`
}

// New creates a Pending intent in its assembly phase. The expiry must lie
// after the execute-after gate so every intent has a nonzero execution
// window. Descriptions are NFC-normalized so they hash stably.
func New(accountID, creator string, p Params, outcome any, now time.Time) (*Intent, error) {
	if p.Key == "" {
		return nil, fault.New(fault.KindPolicy, fault.CodeInvalidConfig,
			"intent key must not be empty")
	}
	if !p.ExpiresAt.After(p.ExecuteAfter) {
		return nil, fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"intent %q expires at %s, before it becomes executable at %s",
			p.Key, p.ExpiresAt.Format(time.RFC3339), p.ExecuteAfter.Format(time.RFC3339))
	}
	desc, err := canonicalize.NormalizeText(p.Description)
	if err != nil {
		return nil, fault.Wrap(fault.KindPolicy, fault.CodeInvalidConfig,
			"intent description is not valid UTF-8", err)
	}
	return &Intent{
		Key:          p.Key,
		Description:  desc,
		Role:         p.Role,
		AccountID:    accountID,
		Creator:      creator,
		CreatedAt:    now,
		ExecuteAfter: p.ExecuteAfter,
		ExpiresAt:    p.ExpiresAt,
		Outcome:      outcome,
		Status:       StatusPending,
	}, nil
}

// AttachAction appends an action in insertion order. Only unsealed intents
// accept actions: once stored in the account's live table the batch is
// frozen, so approvers always see the final action list.
func (in *Intent) AttachAction(a Action) error {
	if in.Sealed {
		return fault.Newf(fault.KindStateConflict, fault.CodeIntentKeyTaken,
			"intent %q is sealed, actions can no longer be attached", in.Key)
	}
	if in.Status != StatusPending {
		return fault.Newf(fault.KindStateConflict, fault.CodeExecutableIssued,
			"intent %q is %s", in.Key, in.Status)
	}
	in.Actions = append(in.Actions, a)
	return nil
}

// Seal freezes the action list. The account layer calls this when the
// intent is stored.
func (in *Intent) Seal() { in.Sealed = true }

// Expired reports whether the intent's expiration has passed.
func (in *Intent) Expired(now time.Time) bool {
	return !now.Before(in.ExpiresAt)
}

// ExecutableAt reports whether the execute-after gate has opened and the
// intent has not expired.
func (in *Intent) ExecutableAt(now time.Time) bool {
	return !now.Before(in.ExecuteAfter) && !in.Expired(now)
}

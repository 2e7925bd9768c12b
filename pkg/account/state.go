package account

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/canonicalize"
	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/intents"
	"github.com/Covault-Labs/covault/core/pkg/vault"
	"github.com/Covault-Labs/covault/core/pkg/witness"
)

// ValueBlob carries one opaque governance value together with its type
// identity, so the owning package's codec can revive it.
type ValueBlob struct {
	Type witness.TypeID  `json:"type"`
	Body json.RawMessage `json:"body"`
}

// IntentState is the serialized form of one live intent.
type IntentState struct {
	Key          string          `json:"key"`
	Description  string          `json:"description"`
	Role         string          `json:"role"`
	Creator      string          `json:"creator"`
	CreatedAt    time.Time       `json:"created_at"`
	ExecuteAfter time.Time       `json:"execute_after"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Actions      []intents.Action `json:"actions"`
	Status       intents.Status  `json:"status"`
	Sealed       bool            `json:"sealed"`
	Outcome      *ValueBlob      `json:"outcome,omitempty"`
}

// State is the full serializable form of an account, the unit the host
// substrate loads and commits atomically.
type State struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Config   ValueBlob         `json:"config"`
	Deps     []deps.Record     `json:"deps"`
	Vault    vault.Snapshot    `json:"vault"`
	Intents  []IntentState     `json:"intents"`
}

// ContentHash returns the canonical hash of the state, for substrate
// integrity checks.
func (s State) ContentHash() (string, error) {
	h, err := canonicalize.CanonicalHash(s)
	if err != nil {
		return "", err
	}
	return "sha256:" + h, nil
}

func encodeValue(value any, reg *vault.Registry) (ValueBlob, error) {
	if value == nil {
		return ValueBlob{}, nil
	}
	id := witness.Of(value)
	codec, ok := reg.Lookup(id)
	if !ok {
		return ValueBlob{}, fault.Newf(fault.KindStateConflict, fault.CodeInvalidConfig,
			"no codec registered for %s", id)
	}
	body, err := codec.Marshal(value)
	if err != nil {
		return ValueBlob{}, fmt.Errorf("account: marshal %s: %w", id, err)
	}
	return ValueBlob{Type: id, Body: body}, nil
}

func decodeValue(blob ValueBlob, reg *vault.Registry) (any, error) {
	if blob.Type == "" {
		return nil, nil
	}
	codec, ok := reg.Lookup(blob.Type)
	if !ok {
		return nil, fault.Newf(fault.KindStateConflict, fault.CodeInvalidConfig,
			"no codec registered for %s", blob.Type)
	}
	value, err := codec.Unmarshal(blob.Body)
	if err != nil {
		return nil, fmt.Errorf("account: unmarshal %s: %w", blob.Type, err)
	}
	return value, nil
}

// Snapshot serializes the account. The registry must cover the config
// type, every outcome type in flight, and every vault value; governance
// packages contribute their codecs at wiring time.
func (a *Account) Snapshot(reg *vault.Registry) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg, err := encodeValue(a.config, reg)
	if err != nil {
		return State{}, err
	}
	vs, err := a.vault.Snapshot(reg)
	if err != nil {
		return State{}, err
	}

	s := State{
		ID:       a.id,
		Metadata: make(map[string]string, len(a.metadata)),
		Config:   cfg,
		Deps:     a.deps.Records(),
		Vault:    vs,
	}
	for k, v := range a.metadata {
		s.Metadata[k] = v
	}

	for _, key := range sortedIntentKeys(a.intents) {
		in := a.intents[key]
		var outcome *ValueBlob
		if in.Outcome != nil {
			blob, err := encodeValue(in.Outcome, reg)
			if err != nil {
				return State{}, err
			}
			outcome = &blob
		}
		s.Intents = append(s.Intents, IntentState{
			Key:          in.Key,
			Description:  in.Description,
			Role:         in.Role,
			Creator:      in.Creator,
			CreatedAt:    in.CreatedAt,
			ExecuteAfter: in.ExecuteAfter,
			ExpiresAt:    in.ExpiresAt,
			Actions:      in.Actions,
			Status:       in.Status,
			Sealed:       in.Sealed,
			Outcome:      outcome,
		})
	}
	return s, nil
}

func sortedIntentKeys(m map[string]*intents.Intent) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromState revives an account from its serialized form.
func FromState(s State, reg *vault.Registry, opts ...Option) (*Account, error) {
	config, err := decodeValue(s.Config, reg)
	if err != nil {
		return nil, err
	}
	table, err := deps.NewTable(s.Deps...)
	if err != nil {
		return nil, err
	}

	a, err := New(s.ID, config, table, opts...)
	if err != nil {
		return nil, err
	}
	for k, v := range s.Metadata {
		a.metadata[k] = v
	}

	a.vault, err = vault.FromSnapshot(s.Vault, reg, a.clock)
	if err != nil {
		return nil, err
	}

	for _, is := range s.Intents {
		var outcome any
		if is.Outcome != nil {
			outcome, err = decodeValue(*is.Outcome, reg)
			if err != nil {
				return nil, err
			}
		}
		a.intents[is.Key] = &intents.Intent{
			Key:          is.Key,
			Description:  is.Description,
			Role:         is.Role,
			AccountID:    s.ID,
			Creator:      is.Creator,
			CreatedAt:    is.CreatedAt,
			ExecuteAfter: is.ExecuteAfter,
			ExpiresAt:    is.ExpiresAt,
			Actions:      is.Actions,
			Outcome:      outcome,
			Status:       is.Status,
			Sealed:       is.Sealed,
		}
	}
	return a, nil
}

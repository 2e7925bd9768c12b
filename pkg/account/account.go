// Package account implements the root custodial entity. An Account owns a
// governance configuration, a dependency table, a managed vault, and the
// set of live intents. Every mutating entry point either requires an Auth
// minted by a governance package or a version proof checked against the
// dependency gate, so neither outside callers nor unvetted plug-in builds
// can reach the vault directly.
package account

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/canonicalize"
	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/hostclock"
	"github.com/Covault-Labs/covault/core/pkg/intents"
	"github.com/Covault-Labs/covault/core/pkg/vault"
)

// Auth is the opaque proof that a caller passed the account's governance
// authentication. The engine never inspects how it was earned; governance
// packages mint one after verifying the caller against their configuration
// and are the only sanctioned callers of MintAuth.
type Auth struct {
	accountID string
	addr      string
}

// MintAuth binds an authenticated caller address to an account. Governance
// packages call this after membership verification succeeds.
func MintAuth(accountID, addr string) Auth {
	return Auth{accountID: accountID, addr: addr}
}

// AccountID returns the account the auth was minted for.
func (a Auth) AccountID() string { return a.accountID }

// Addr returns the authenticated caller address.
func (a Auth) Addr() string { return a.addr }

// Admission describes a proposal step for the admission hook.
type Admission struct {
	AccountID string
	Actor     string
	Role      string
	Kind      string
}

// AdmissionHook vets proposal steps before they enter an intent. Policy
// engines plug in here; a nil hook admits everything.
type AdmissionHook interface {
	Admit(ad Admission) error
}

// PayloadHook vets serialized action payloads at attach time. Schema
// registries plug in here; a nil hook accepts everything.
type PayloadHook interface {
	ValidatePayload(kind string, payload json.RawMessage) error
}

// Account is the root custodial entity. Exactly one exists per governed
// resource pool; it is created once and never deleted by the engine.
type Account struct {
	mu       sync.Mutex
	id       string
	metadata map[string]string
	config   any
	deps     *deps.Table
	vault    *vault.Vault
	intents  map[string]*intents.Intent

	clock     hostclock.Clock
	admission AdmissionHook
	payload   PayloadHook
}

// Option configures an Account at construction.
type Option func(*Account)

// WithClock injects the time source. Defaults to wall time.
func WithClock(c hostclock.Clock) Option {
	return func(a *Account) { a.clock = c }
}

// WithAdmissionHook installs a proposal admission policy.
func WithAdmissionHook(h AdmissionHook) Option {
	return func(a *Account) { a.admission = h }
}

// WithPayloadHook installs an action payload validator.
func WithPayloadHook(h PayloadHook) Option {
	return func(a *Account) { a.payload = h }
}

// WithMetadata sets descriptive metadata. Values are NFC-normalized.
func WithMetadata(md map[string]string) Option {
	return func(a *Account) {
		for k, v := range md {
			a.metadata[k] = canonicalize.MustNormalizeText(v)
		}
	}
}

// New creates an account with a governance configuration and an initial
// dependency table. The table must at least authorize the engine itself.
func New(id string, config any, table *deps.Table, opts ...Option) (*Account, error) {
	if id == "" {
		return nil, fault.New(fault.KindPolicy, fault.CodeInvalidConfig, "account id must not be empty")
	}
	if table == nil || !table.Contains(deps.CoreName) {
		return nil, fault.Newf(fault.KindDependency, fault.CodeInvalidConfig,
			"the dependency table must authorize %s", deps.CoreName)
	}
	a := &Account{
		id:       id,
		metadata: make(map[string]string),
		config:   config,
		deps:     table,
		intents:  make(map[string]*intents.Intent),
		clock:    hostclock.Wall{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.vault = vault.New(id, a.clock)
	return a, nil
}

// ID returns the account identity.
func (a *Account) ID() string { return a.id }

// Now reads the injected clock.
func (a *Account) Now() time.Time { return a.clock.Now() }

// Config returns the current governance configuration.
func (a *Account) Config() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// Deps returns the current dependency table.
func (a *Account) Deps() *deps.Table {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deps
}

// Metadata returns a copy of the descriptive metadata.
func (a *Account) Metadata() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.metadata))
	for k, v := range a.metadata {
		out[k] = v
	}
	return out
}

// SetMetadata stores one descriptive entry. Requires an auth.
func (a *Account) SetMetadata(auth Auth, key, value string) error {
	if err := a.requireAuth(auth); err != nil {
		return err
	}
	norm, err := canonicalize.NormalizeText(value)
	if err != nil {
		return fault.Wrap(fault.KindPolicy, fault.CodeInvalidConfig,
			"metadata value is not valid UTF-8", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metadata[key] = norm
	return nil
}

// Authorize checks an auth against this account. Plug-ins gate their own
// auth-class entry points with it.
func (a *Account) Authorize(auth Auth) error {
	return a.requireAuth(auth)
}

func (a *Account) requireAuth(auth Auth) error {
	if auth.accountID == "" {
		return fault.New(fault.KindAuthorization, fault.CodeNotMember,
			"caller presented no auth")
	}
	if auth.accountID != a.id {
		return fault.Newf(fault.KindAuthorization, fault.CodeWrongAccount,
			"auth was minted for account %s, this is %s", auth.accountID, a.id)
	}
	return nil
}

// CreateIntent starts a Pending intent in its assembly phase. The intent
// is not live until StoreIntent.
func (a *Account) CreateIntent(auth Auth, p intents.Params, outcome any) (*intents.Intent, error) {
	if err := a.requireAuth(auth); err != nil {
		return nil, err
	}
	return intents.New(a.id, auth.Addr(), p, outcome, a.clock.Now())
}

// AttachAction serializes a payload, runs the admission and payload hooks,
// and appends the action to a draft intent.
func (a *Account) AttachAction(in *intents.Intent, kind string, origin any, payload any) (intents.Action, error) {
	if in.AccountID != a.id {
		return intents.Action{}, fault.Newf(fault.KindAuthorization, fault.CodeWrongAccount,
			"intent %q belongs to account %s", in.Key, in.AccountID)
	}
	action, err := intents.NewAction(kind, origin, payload)
	if err != nil {
		return intents.Action{}, err
	}
	if a.payload != nil {
		if err := a.payload.ValidatePayload(kind, action.Payload); err != nil {
			return intents.Action{}, fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
				"action payload rejected", err)
		}
	}
	if a.admission != nil {
		ad := Admission{AccountID: a.id, Actor: in.Creator, Role: in.Role, Kind: kind}
		if err := a.admission.Admit(ad); err != nil {
			return intents.Action{}, fault.Wrap(fault.KindPolicy, fault.CodeAdmissionDenied,
				"action not admitted", err)
		}
	}
	if err := in.AttachAction(action); err != nil {
		return intents.Action{}, err
	}
	return action, nil
}

// StoreIntent seals the draft and moves it into the live table. Keys are
// unique per account.
func (a *Account) StoreIntent(in *intents.Intent) error {
	if in.AccountID != a.id {
		return fault.Newf(fault.KindAuthorization, fault.CodeWrongAccount,
			"intent %q belongs to account %s", in.Key, in.AccountID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.intents[in.Key]; taken {
		return fault.Newf(fault.KindStateConflict, fault.CodeIntentKeyTaken,
			"intent key %q is already live", in.Key)
	}
	in.Seal()
	a.intents[in.Key] = in
	return nil
}

// Intent returns a live intent by key.
func (a *Account) Intent(key string) (*intents.Intent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	in, ok := a.intents[key]
	return in, ok
}

// IntentKeys lists the live intent keys, sorted.
func (a *Account) IntentKeys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.intents))
	for k := range a.intents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UpdateOutcome applies a governance mutation (an approval, a vote) to a
// pending intent's outcome. Mutations are refused once the outcome has
// been consumed by Execute.
func (a *Account) UpdateOutcome(key string, mutate func(outcome any) (any, error)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	in, ok := a.intents[key]
	if !ok {
		return fault.Newf(fault.KindStateConflict, fault.CodeIntentNotFound,
			"no live intent %q", key)
	}
	if in.Status != intents.StatusPending {
		return fault.Newf(fault.KindStateConflict, fault.CodeExecutableIssued,
			"intent %q is %s, its outcome is consumed", key, in.Status)
	}
	next, err := mutate(in.Outcome)
	if err != nil {
		return err
	}
	in.Outcome = next
	return nil
}

// Execute validates and consumes the outcome of a live intent, then issues
// its one executable. The validate callback receives the intent's role and
// outcome; governance packages supply it. While an executable is
// outstanding a second Execute fails with a state conflict.
func (a *Account) Execute(key string, validate func(role string, outcome any) error) (*intents.Executable, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	in, ok := a.intents[key]
	if !ok {
		return nil, fault.Newf(fault.KindStateConflict, fault.CodeIntentNotFound,
			"no live intent %q", key)
	}

	now := a.clock.Now()
	if in.Status == intents.StatusExecuting {
		return nil, fault.Newf(fault.KindStateConflict, fault.CodeExecutableIssued,
			"intent %q already has an outstanding executable", key)
	}
	if now.Before(in.ExecuteAfter) {
		return nil, fault.Newf(fault.KindTiming, fault.CodeTooEarly,
			"intent %q is executable from %s", key, in.ExecuteAfter.Format(time.RFC3339))
	}
	if in.Expired(now) {
		return nil, fault.Newf(fault.KindTiming, fault.CodeExpired,
			"intent %q expired at %s", key, in.ExpiresAt.Format(time.RFC3339))
	}
	if err := validate(in.Role, in.Outcome); err != nil {
		return nil, err
	}
	return in.Issue(now)
}

// Receipt records a fully drained execution.
type Receipt struct {
	AccountID     string    `json:"account_id"`
	IntentKey     string    `json:"intent_key"`
	Role          string    `json:"role"`
	ActionDigests []string  `json:"action_digests"`
	CompletedAt   time.Time `json:"completed_at"`
	ContentHash   string    `json:"content_hash"`
}

// ConfirmExecution finishes a drained executable, retires its intent, and
// emits the execution receipt. It fails while any action is unprocessed.
func (a *Account) ConfirmExecution(exec *intents.Executable) (Receipt, error) {
	if exec.Issuer.AccountID != a.id {
		return Receipt{}, fault.Newf(fault.KindAuthorization, fault.CodeWrongAccount,
			"executable %s was issued by account %s", exec.ID, exec.Issuer.AccountID)
	}
	if err := exec.Finish(); err != nil {
		return Receipt{}, err
	}

	a.mu.Lock()
	delete(a.intents, exec.Issuer.IntentKey)
	a.mu.Unlock()

	r := Receipt{
		AccountID:     a.id,
		IntentKey:     exec.Issuer.IntentKey,
		Role:          exec.Issuer.Role,
		ActionDigests: exec.ActionDigests(),
		CompletedAt:   a.clock.Now(),
	}
	hash, err := canonicalize.CanonicalHash(r)
	if err != nil {
		return Receipt{}, err
	}
	r.ContentHash = "sha256:" + hash
	return r, nil
}

// DeleteExpired removes a dead intent and returns its drain bundle. Anyone
// may call it; expiry needs no auth.
func (a *Account) DeleteExpired(key string) (*intents.Expired, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	in, ok := a.intents[key]
	if !ok {
		return nil, fault.Newf(fault.KindStateConflict, fault.CodeIntentNotFound,
			"no live intent %q", key)
	}
	bundle, err := in.ExpireInto(a.clock.Now())
	if err != nil {
		return nil, err
	}
	delete(a.intents, key)
	return bundle, nil
}

// ReplaceConfig swaps the governance configuration. Only a gate-cleared
// plug-in may call it, from inside a validated action-processing step; the
// new value is built off to the side and swapped in atomically.
func (a *Account) ReplaceConfig(proof deps.VersionProof, config any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.deps.Check(proof); err != nil {
		return err
	}
	a.config = config
	return nil
}

// ReplaceDeps swaps the dependency table under the same discipline.
func (a *Account) ReplaceDeps(proof deps.VersionProof, table *deps.Table) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.deps.Check(proof); err != nil {
		return err
	}
	if table == nil || !table.Contains(deps.CoreName) {
		return fault.Newf(fault.KindDependency, fault.CodeInvalidConfig,
			"the dependency table must authorize %s", deps.CoreName)
	}
	a.deps = table
	return nil
}

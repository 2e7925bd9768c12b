// Package substrate is the host layer the engine assumes: durable storage
// for serialized account state and a runtime that serializes all mutating
// work against one account into a single total order. Engine operations
// never touch storage themselves; the runtime loads an account, hands it
// to the caller's function, and persists the result only if that function
// succeeds, which is what makes every engine call all-or-nothing.
package substrate

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/vault"
)

// Store is the persistence contract for serialized account state.
type Store interface {
	Get(ctx context.Context, id string) ([]byte, bool, error)
	Put(ctx context.Context, id string, state []byte) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// MemoryStore keeps state in process. Good for tests and embedding.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, id string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[id]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(state))
	copy(out, state)
	return out, true, nil
}

func (m *MemoryStore) Put(_ context.Context, id string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(state))
	copy(stored, state)
	m.states[id] = stored
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Runtime serializes account work. Each account gets one logical thread
// of execution: a process-local mutex always, plus an optional
// distributed lease when several runtime instances share a store.
type Runtime struct {
	store    Store
	registry *vault.Registry
	opts     []account.Option

	lease    Lease
	leaseTTL time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLease installs a distributed lease taken around every mutating run.
func WithLease(l Lease, ttl time.Duration) RuntimeOption {
	return func(r *Runtime) {
		r.lease = l
		r.leaseTTL = ttl
	}
}

// WithAccountOptions sets the options applied to every account the
// runtime revives: the clock and any admission or payload hooks.
func WithAccountOptions(opts ...account.Option) RuntimeOption {
	return func(r *Runtime) { r.opts = append(r.opts, opts...) }
}

// NewRuntime builds a runtime over a store. The registry must know every
// value type the hosted accounts persist; governance packages contribute
// theirs through their RegisterCodecs functions.
func NewRuntime(store Store, registry *vault.Registry, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		store:    store,
		registry: registry,
		leaseTTL: 30 * time.Second,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) lock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Create builds a fresh account and persists its initial state. Fails
// StateConflict if the id is already hosted. Extra options apply to this
// account only, on top of the runtime-wide ones; metadata set here
// survives revival because it rides in the persisted state.
func (r *Runtime) Create(ctx context.Context, id string, config any, table *deps.Table, opts ...account.Option) error {
	l := r.lock(id)
	l.Lock()
	defer l.Unlock()

	if _, found, err := r.store.Get(ctx, id); err != nil {
		return err
	} else if found {
		return fault.Newf(fault.KindStateConflict, fault.CodeAccountExists,
			"account %s already exists", id)
	}
	all := make([]account.Option, 0, len(r.opts)+len(opts))
	all = append(all, r.opts...)
	all = append(all, opts...)
	acct, err := account.New(id, config, table, all...)
	if err != nil {
		return err
	}
	return r.persist(ctx, acct)
}

// Do loads the account, runs fn against it under the account's lock, and
// persists the mutated state. If fn fails nothing is written, so a failed
// engine call leaves the stored state exactly as it was.
func (r *Runtime) Do(ctx context.Context, id string, fn func(*account.Account) error) error {
	l := r.lock(id)
	l.Lock()
	defer l.Unlock()

	if r.lease != nil {
		token, err := r.lease.Acquire(ctx, id, r.leaseTTL)
		if err != nil {
			return err
		}
		defer func() { _ = r.lease.Release(ctx, id, token) }()
	}

	acct, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(acct); err != nil {
		return err
	}
	return r.persist(ctx, acct)
}

// View loads the account and runs fn read-only; nothing is written back.
func (r *Runtime) View(ctx context.Context, id string, fn func(*account.Account) error) error {
	acct, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	return fn(acct)
}

// Accounts lists the hosted account ids.
func (r *Runtime) Accounts(ctx context.Context) ([]string, error) {
	return r.store.List(ctx)
}

func (r *Runtime) load(ctx context.Context, id string) (*account.Account, error) {
	raw, found, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fault.Newf(fault.KindStateConflict, fault.CodeAccountNotFound,
			"account %s is not hosted here", id)
	}
	var state account.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fault.Wrap(fault.KindStateConflict, fault.CodeAccountNotFound,
			"stored state is unreadable", err)
	}
	return account.FromState(state, r.registry, r.opts...)
}

func (r *Runtime) persist(ctx context.Context, acct *account.Account) error {
	state, err := acct.Snapshot(r.registry)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, acct.ID(), raw)
}

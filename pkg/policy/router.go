package policy

import (
	"sync"

	"github.com/Covault-Labs/covault/core/pkg/account"
)

// Router dispatches admission checks to the engine bound to the account.
// A host serving many accounts installs one Router as the runtime-wide
// admission hook and binds each account to the engine compiled for its
// governance profile. Accounts without a binding admit everything, which
// matches the engine's nil-hook default.
type Router struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRouter returns a router with no bindings.
func NewRouter() *Router {
	return &Router{engines: make(map[string]*Engine)}
}

// Bind routes the account's admission checks to the engine. A nil engine
// clears the binding.
func (r *Router) Bind(accountID string, e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e == nil {
		delete(r.engines, accountID)
		return
	}
	r.engines[accountID] = e
}

// Admit implements account.AdmissionHook.
func (r *Router) Admit(ad account.Admission) error {
	r.mu.RLock()
	e := r.engines[ad.AccountID]
	r.mu.RUnlock()
	if e == nil {
		return nil
	}
	return e.Admit(ad)
}

package console

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/config"
	"github.com/Covault-Labs/covault/core/pkg/daovote"
	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/identity"
	"github.com/Covault-Labs/covault/core/pkg/multisig"
	"github.com/Covault-Labs/covault/core/pkg/observability"
	"github.com/Covault-Labs/covault/core/pkg/upgrades"
)

// ---------------------------------------------------------------------------
// Views and request types
// ---------------------------------------------------------------------------

// accountView is the JSON shape of one hosted account.
type accountView struct {
	ID       string            `json:"id"`
	Strategy string            `json:"strategy"`
	Profile  string            `json:"profile,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Deps     []deps.Record     `json:"deps"`
	Intents  []string          `json:"intents"`
	Config   any               `json:"config"`
}

type accountsListResponse struct {
	Accounts []string `json:"accounts"`
	Total    int      `json:"total"`
}

type createAccountRequest struct {
	ID       string            `json:"id"`
	Profile  string            `json:"profile"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type lockCapRequest struct {
	Name    string     `json:"name"`
	Addr    string     `json:"addr"`
	Version uint64     `json:"version"`
	Policy  string     `json:"policy"`
	Delay   string     `json:"delay"`
	Stake   *stakeBody `json:"stake,omitempty"`
}

type capView struct {
	Name  string             `json:"name"`
	Cap   *upgrades.Cap      `json:"cap,omitempty"`
	Index upgrades.IndexEntry `json:"index"`
}

// stakeBody is a DAO caller's staked position, supplied with requests on
// daovote accounts. The staking ledger is external to the engine; the
// caller reports the position and the policy decides what it is worth.
type stakeBody struct {
	Amount     uint64     `json:"amount"`
	UnstakedAt *time.Time `json:"unstaked_at,omitempty"`
}

func (b *stakeBody) toStake() daovote.Stake {
	if b == nil {
		return daovote.Stake{}
	}
	return daovote.Stake{Amount: b.Amount, UnstakedAt: b.UnstakedAt}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// callerAddr reads the authenticated principal's address off the request.
func callerAddr(r *http.Request) (string, bool) {
	p, ok := identity.FromContext(r.Context())
	if !ok || p.Addr == "" {
		return "", false
	}
	return p.Addr, true
}

// strategyName reports which governance strategy a config value belongs
// to.
func strategyName(cfg any) string {
	switch cfg.(type) {
	case multisig.Config:
		return config.StrategyMultisig
	case daovote.Config:
		return config.StrategyDAO
	default:
		return ""
	}
}

// mintAuth authenticates the caller against the account's governance
// strategy. Daovote accounts take the caller's reported stake into
// account for callers not on the role roster.
func mintAuth(acct *account.Account, caller string, stake *stakeBody) (account.Auth, error) {
	switch acct.Config().(type) {
	case multisig.Config:
		return multisig.Authenticate(acct, caller)
	case daovote.Config:
		return daovote.Authenticate(acct, caller, stake.toStake())
	default:
		return account.Auth{}, fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"account %s carries no recognized governance strategy", acct.ID())
	}
}

func viewOf(acct *account.Account) accountView {
	md := acct.Metadata()
	return accountView{
		ID:       acct.ID(),
		Strategy: strategyName(acct.Config()),
		Profile:  md[metadataProfileKey],
		Metadata: md,
		Deps:     acct.Deps().Records(),
		Intents:  acct.IntentKeys(),
		Config:   acct.Config(),
	}
}

// ---------------------------------------------------------------------------
// Account handlers
// ---------------------------------------------------------------------------

// handleAccounts serves GET (list) and POST (create) on /api/accounts.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ids, err := s.runtime.Accounts(r.Context())
		if err != nil {
			WriteInternal(w, err)
			return
		}
		writeJSON(w, http.StatusOK, accountsListResponse{Accounts: ids, Total: len(ids)})
	case http.MethodPost:
		s.handleCreateAccount(w, r)
	default:
		WriteMethodNotAllowed(w)
	}
}

// handleCreateAccount bootstraps an account from a governance profile:
// the profile's policy becomes the config, and the dependency table
// authorizes the engine, the profile's strategy package, and the upgrade
// engine.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body: "+err.Error())
		return
	}
	if req.ID == "" || req.Profile == "" {
		WriteBadRequest(w, "id and profile are required")
		return
	}
	profile, ok := s.profiles[req.Profile]
	if !ok {
		WriteBadRequest(w, "unknown profile "+req.Profile)
		return
	}

	var (
		cfg      any
		strategy deps.Record
		err      error
	)
	switch profile.Strategy {
	case config.StrategyMultisig:
		cfg, err = profile.MultisigConfig()
		strategy = multisig.Record()
	case config.StrategyDAO:
		cfg, err = profile.DAOConfig()
		strategy = daovote.Record()
	default:
		WriteBadRequest(w, "profile names unknown strategy "+profile.Strategy)
		return
	}
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	table, err := deps.NewTable(deps.CoreRecord(), strategy, upgrades.Record())
	if err != nil {
		WriteInternal(w, err)
		return
	}

	md := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		md[k] = v
	}
	md[metadataProfileKey] = req.Profile

	ctx, done := s.track(r, "console.create_account",
		observability.AccountOperation(req.ID, profile.Strategy)...)
	err = s.runtime.Create(ctx, req.ID, cfg, table, account.WithMetadata(md))
	done(err)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	if s.admission != nil {
		s.admission.Bind(req.ID, s.engines[req.Profile])
	}
	s.logger.Info("account created", "account", req.ID, "profile", req.Profile)

	view, err := s.viewAccount(ctx, req.ID)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) viewAccount(ctx context.Context, id string) (accountView, error) {
	var view accountView
	err := s.runtime.View(ctx, id, func(acct *account.Account) error {
		view = viewOf(acct)
		return nil
	})
	return view, err
}

// handleAccountSubtree routes everything under /api/accounts/{id}.
func (s *Server) handleAccountSubtree(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/accounts/")
	if len(segments) == 0 {
		s.handleAccounts(w, r)
		return
	}
	id := segments[0]
	rest := segments[1:]

	switch {
	case len(rest) == 0:
		s.handleAccountGet(w, r, id)
	case rest[0] == "intents":
		s.handleIntentSubtree(w, r, id, rest[1:])
	case rest[0] == "caps":
		s.handleCapSubtree(w, r, id, rest[1:])
	case rest[0] == "sweep" && len(rest) == 1:
		s.handleSweepAll(w, r, id)
	default:
		WriteNotFound(w, "no such resource")
	}
}

func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	view, err := s.viewAccount(r.Context(), id)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ---------------------------------------------------------------------------
// Capability handlers
// ---------------------------------------------------------------------------

func (s *Server) handleCapSubtree(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		s.handleLockCap(w, r, id)
	case len(rest) == 1 && r.Method == http.MethodGet:
		s.handleCapGet(w, r, id, rest[0])
	case len(rest) == 0 || len(rest) == 1:
		WriteMethodNotAllowed(w)
	default:
		WriteNotFound(w, "no such resource")
	}
}

// handleLockCap starts tracking a package for upgrades on the account.
func (s *Server) handleLockCap(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerAddr(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req lockCapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body: "+err.Error())
		return
	}
	policy, err := upgrades.ParsePolicy(req.Policy)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	var delay time.Duration
	if req.Delay != "" {
		if delay, err = time.ParseDuration(req.Delay); err != nil {
			WriteBadRequest(w, "Invalid delay: "+err.Error())
			return
		}
	}
	c := upgrades.Cap{
		PackageName: req.Name,
		PackageAddr: req.Addr,
		Version:     req.Version,
		Policy:      policy,
		Delay:       delay,
	}

	ctx, done := s.track(r, "console.lock_cap",
		observability.AccountOperation(id, "")...)
	err = s.runtime.Do(ctx, id, func(acct *account.Account) error {
		auth, err := mintAuth(acct, caller, req.Stake)
		if err != nil {
			return err
		}
		return upgrades.LockCap(acct, auth, c)
	})
	done(err)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	if s.obs != nil {
		s.obs.AddVaultLocks(r.Context(), 1, observability.AccountOperation(id, "")...)
	}
	s.logger.Info("capability locked", "account", id, "package", req.Name)
	writeJSON(w, http.StatusCreated, capView{Name: req.Name, Cap: &c,
		Index: upgrades.IndexEntry{Addr: req.Addr, Version: req.Version}})
}

func (s *Server) handleCapGet(w http.ResponseWriter, r *http.Request, id, name string) {
	var view capView
	err := s.runtime.View(r.Context(), id, func(acct *account.Account) error {
		entry, found, err := upgrades.Index(acct, name)
		if err != nil {
			return err
		}
		if !found {
			return fault.Newf(fault.KindStateConflict, fault.CodeNoLock,
				"package %q is not tracked on account %s", name, id)
		}
		view = capView{Name: name, Index: entry}
		if has, err := upgrades.HasCap(acct, name); err != nil {
			return err
		} else if has {
			c, err := upgrades.CapOf(acct, name)
			if err != nil {
				return err
			}
			view.Cap = &c
		}
		return nil
	})
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

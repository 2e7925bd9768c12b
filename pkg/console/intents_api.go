package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/archive"
	"github.com/Covault-Labs/covault/core/pkg/config"
	"github.com/Covault-Labs/covault/core/pkg/daovote"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/intents"
	"github.com/Covault-Labs/covault/core/pkg/multisig"
	"github.com/Covault-Labs/covault/core/pkg/observability"
	"github.com/Covault-Labs/covault/core/pkg/upgrades"
)

// Proposal kinds the API accepts. Each maps to one governance or upgrade
// request on the engine.
const (
	proposalConfigUpdate = "config_update"
	proposalDepsUpdate   = "deps_update"
	proposalUpgrade      = "upgrade"
	proposalRestrict     = "restrict"
)

// defaultExpiryWindow bounds intents proposed under a profile that sets
// no expiry window of its own. Every intent must die eventually.
const defaultExpiryWindow = 72 * time.Hour

// ---------------------------------------------------------------------------
// Request and response types
// ---------------------------------------------------------------------------

// proposeIntentRequest opens an intent. Exactly one of the kind-specific
// bodies must be set, matching Kind. Timing fields are optional; absent,
// the account's profile defaults apply.
type proposeIntentRequest struct {
	Key          string     `json:"key"`
	Description  string     `json:"description,omitempty"`
	Kind         string     `json:"kind"`
	ExecuteAfter *time.Time `json:"execute_after,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Stake        *stakeBody `json:"stake,omitempty"`

	ConfigUpdate json.RawMessage `json:"config_update,omitempty"`
	DepsUpdate   *depsUpdateBody `json:"deps_update,omitempty"`
	Upgrade      *upgradeBody    `json:"upgrade,omitempty"`
	Restrict     *restrictBody   `json:"restrict,omitempty"`
}

type depsUpdateBody struct {
	Records []multisig.DepSpec `json:"records"`
}

type upgradeBody struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

type restrictBody struct {
	Name   string `json:"name"`
	Policy string `json:"policy"`
}

type voteRequest struct {
	Answer string     `json:"answer"`
	Stake  *stakeBody `json:"stake,omitempty"`
}

// executeRequest carries what the engine cannot know on its own: for
// upgrade intents, the address each package landed on after the platform
// swapped its code. Keyed by package name.
type executeRequest struct {
	UpgradedAddrs map[string]string `json:"upgraded_addrs,omitempty"`
}

type actionView struct {
	Kind   string `json:"kind"`
	Digest string `json:"digest"`
}

type intentView struct {
	Key          string         `json:"key"`
	Description  string         `json:"description,omitempty"`
	Role         string         `json:"role"`
	Creator      string         `json:"creator"`
	CreatedAt    time.Time      `json:"created_at"`
	ExecuteAfter time.Time      `json:"execute_after"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Status       intents.Status `json:"status"`
	Actions      []actionView   `json:"actions"`
	Outcome      any            `json:"outcome,omitempty"`
}

func intentViewOf(in *intents.Intent) intentView {
	actions := make([]actionView, len(in.Actions))
	for i, a := range in.Actions {
		actions[i] = actionView{Kind: a.Kind, Digest: a.Digest}
	}
	return intentView{
		Key:          in.Key,
		Description:  in.Description,
		Role:         in.Role,
		Creator:      in.Creator,
		CreatedAt:    in.CreatedAt,
		ExecuteAfter: in.ExecuteAfter,
		ExpiresAt:    in.ExpiresAt,
		Status:       in.Status,
		Actions:      actions,
		Outcome:      in.Outcome,
	}
}

// upgradeResult reports one code swap performed during execution.
type upgradeResult struct {
	Package string `json:"package"`
	Addr    string `json:"addr"`
	Version uint64 `json:"version"`
	Digest  string `json:"digest"`
}

type executeResponse struct {
	Receipt     account.Receipt `json:"receipt"`
	ArchiveAddr string          `json:"archive_addr,omitempty"`
	Upgrades    []upgradeResult `json:"upgrades,omitempty"`
}

type sweepResult struct {
	IntentKey   string `json:"intent_key"`
	ArchiveAddr string `json:"archive_addr,omitempty"`
}

type sweepAllResponse struct {
	Swept  []sweepResult     `json:"swept"`
	Failed map[string]string `json:"failed,omitempty"`
	Total  int               `json:"total"`
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

// handleIntentSubtree routes /api/accounts/{id}/intents and below. The
// verb segment after a key is always a POST: approvals, votes, and
// execution all mutate the account.
func (s *Server) handleIntentSubtree(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	switch len(rest) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			s.handleIntentList(w, r, id)
		case http.MethodPost:
			s.handleProposeIntent(w, r, id)
		default:
			WriteMethodNotAllowed(w)
		}
	case 1:
		switch r.Method {
		case http.MethodGet:
			s.handleIntentGet(w, r, id, rest[0])
		case http.MethodDelete:
			s.handleSweepOne(w, r, id, rest[0])
		default:
			WriteMethodNotAllowed(w)
		}
	case 2:
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		key := rest[0]
		switch rest[1] {
		case "approve":
			s.handleApproval(w, r, id, key, true)
		case "disapprove":
			s.handleApproval(w, r, id, key, false)
		case "vote":
			s.handleVote(w, r, id, key)
		case "role-approve":
			s.handleRoleApprove(w, r, id, key)
		case "execute":
			s.handleExecute(w, r, id, key)
		default:
			WriteNotFound(w, "no such verb")
		}
	default:
		WriteNotFound(w, "no such resource")
	}
}

// ---------------------------------------------------------------------------
// Propose
// ---------------------------------------------------------------------------

func (s *Server) handleProposeIntent(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerAddr(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req proposeIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body: "+err.Error())
		return
	}
	if req.Key == "" {
		WriteBadRequest(w, "key is required")
		return
	}
	if req.Kind == "" {
		WriteBadRequest(w, "kind is required")
		return
	}

	var view intentView
	ctx, done := s.track(r, "console.propose_intent",
		observability.IntentOperation(id, req.Key, "proposed")...)
	err := s.runtime.Do(ctx, id, func(acct *account.Account) error {
		auth, err := mintAuth(acct, caller, req.Stake)
		if err != nil {
			return err
		}
		if err := s.propose(acct, auth, s.intentParams(acct, req), req); err != nil {
			return err
		}
		in, found := acct.Intent(req.Key)
		if !found {
			return fault.Newf(fault.KindStateConflict, fault.CodeIntentNotFound,
				"no live intent %q", req.Key)
		}
		view = intentViewOf(in)
		return nil
	})
	done(err)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	if s.obs != nil {
		s.obs.RecordIntentCreated(r.Context(),
			observability.IntentOperation(id, req.Key, string(intents.StatusPending))...)
	}
	s.logger.Info("intent proposed",
		"account", id, "intent", req.Key, "kind", req.Kind, "creator", caller)
	writeJSON(w, http.StatusCreated, view)
}

// intentParams resolves the proposal's timing: explicit request values
// win; otherwise the profile the account was created under supplies the
// execution delay and expiry window.
func (s *Server) intentParams(acct *account.Account, req proposeIntentRequest) intents.Params {
	var defaults config.IntentDefaults
	if profile, ok := s.profiles[acct.Metadata()[metadataProfileKey]]; ok {
		defaults = profile.Intents
	}

	now := acct.Now()
	executeAfter := now.Add(defaults.ExecutionDelay.Std())
	if req.ExecuteAfter != nil {
		executeAfter = *req.ExecuteAfter
	}
	window := defaults.ExpiryWindow.Std()
	if window <= 0 {
		window = defaultExpiryWindow
	}
	expiresAt := executeAfter.Add(window)
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	return intents.Params{
		Key:          req.Key,
		Description:  req.Description,
		ExecuteAfter: executeAfter,
		ExpiresAt:    expiresAt,
	}
}

// propose dispatches the request to the engine call matching its kind
// and the account's governance strategy. The strategy packages validate
// payloads at proposal time; this just routes.
func (s *Server) propose(acct *account.Account, auth account.Auth, p intents.Params, req proposeIntentRequest) error {
	switch req.Kind {
	case proposalConfigUpdate:
		if len(req.ConfigUpdate) == 0 {
			return fault.New(fault.KindPolicy, fault.CodePayloadRejected,
				"a config_update proposal carries the replacement policy under config_update")
		}
		switch acct.Config().(type) {
		case multisig.Config:
			var next multisig.Config
			if err := json.Unmarshal(req.ConfigUpdate, &next); err != nil {
				return fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
					"config_update body is malformed", err)
			}
			return multisig.RequestConfigUpdate(acct, auth, p, next)
		case daovote.Config:
			var next daovote.Config
			if err := json.Unmarshal(req.ConfigUpdate, &next); err != nil {
				return fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
					"config_update body is malformed", err)
			}
			return daovote.RequestConfigUpdate(acct, auth, p, next)
		default:
			return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
				"account %s carries no recognized governance strategy", acct.ID())
		}
	case proposalDepsUpdate:
		if req.DepsUpdate == nil {
			return fault.New(fault.KindPolicy, fault.CodePayloadRejected,
				"a deps_update proposal carries the replacement records under deps_update")
		}
		if _, ok := acct.Config().(multisig.Config); !ok {
			return fault.New(fault.KindPolicy, fault.CodePayloadRejected,
				"dependency updates are only available on multisig accounts")
		}
		return multisig.RequestDepsUpdate(acct, auth, p, req.DepsUpdate.Records)
	case proposalUpgrade:
		if req.Upgrade == nil {
			return fault.New(fault.KindPolicy, fault.CodePayloadRejected,
				"an upgrade proposal carries the package and digest under upgrade")
		}
		outcome, err := newOutcome(acct)
		if err != nil {
			return err
		}
		return upgrades.RequestUpgrade(acct, auth, p, outcome, req.Upgrade.Name, req.Upgrade.Digest)
	case proposalRestrict:
		if req.Restrict == nil {
			return fault.New(fault.KindPolicy, fault.CodePayloadRejected,
				"a restrict proposal carries the package and policy under restrict")
		}
		next, err := upgrades.ParsePolicy(req.Restrict.Policy)
		if err != nil {
			return err
		}
		outcome, err := newOutcome(acct)
		if err != nil {
			return err
		}
		return upgrades.RequestRestrict(acct, auth, p, outcome, req.Restrict.Name, next)
	default:
		return fault.Newf(fault.KindPolicy, fault.CodePayloadRejected,
			"unknown proposal kind %q", req.Kind)
	}
}

// newOutcome mints the empty outcome matching the account's strategy,
// for intents owned by the upgrade engine rather than a strategy package.
func newOutcome(acct *account.Account) (any, error) {
	switch acct.Config().(type) {
	case multisig.Config:
		return multisig.NewApprovals(), nil
	case daovote.Config:
		return daovote.NewOutcome(acct)
	default:
		return nil, fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"account %s carries no recognized governance strategy", acct.ID())
	}
}

// ---------------------------------------------------------------------------
// Read
// ---------------------------------------------------------------------------

func (s *Server) handleIntentList(w http.ResponseWriter, r *http.Request, id string) {
	var views []intentView
	err := s.runtime.View(r.Context(), id, func(acct *account.Account) error {
		keys := acct.IntentKeys()
		views = make([]intentView, 0, len(keys))
		for _, key := range keys {
			if in, found := acct.Intent(key); found {
				views = append(views, intentViewOf(in))
			}
		}
		return nil
	})
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intents": views, "total": len(views)})
}

func (s *Server) handleIntentGet(w http.ResponseWriter, r *http.Request, id, key string) {
	var view intentView
	err := s.runtime.View(r.Context(), id, func(acct *account.Account) error {
		in, found := acct.Intent(key)
		if !found {
			return fault.Newf(fault.KindStateConflict, fault.CodeIntentNotFound,
				"no live intent %q", key)
		}
		view = intentViewOf(in)
		return nil
	})
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ---------------------------------------------------------------------------
// Approvals and votes
// ---------------------------------------------------------------------------

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request, id, key string, approve bool) {
	caller, ok := callerAddr(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	op := "console.disapprove"
	if approve {
		op = "console.approve"
	}

	var view intentView
	ctx, done := s.track(r, op,
		observability.IntentOperation(id, key, string(intents.StatusPending))...)
	err := s.runtime.Do(ctx, id, func(acct *account.Account) error {
		var err error
		if approve {
			err = multisig.Approve(acct, key, caller)
		} else {
			err = multisig.Disapprove(acct, key, caller)
		}
		if err != nil {
			return err
		}
		return s.captureIntent(acct, key, &view)
	})
	done(err)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	if s.obs != nil && approve {
		s.obs.RecordApproval(r.Context(),
			observability.IntentOperation(id, key, string(intents.StatusPending))...)
	}
	s.logger.Info("approval recorded",
		"account", id, "intent", key, "caller", caller, "approve", approve)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, id, key string) {
	caller, ok := callerAddr(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body: "+err.Error())
		return
	}

	var view intentView
	ctx, done := s.track(r, "console.vote",
		observability.IntentOperation(id, key, string(intents.StatusPending))...)
	err := s.runtime.Do(ctx, id, func(acct *account.Account) error {
		if err := daovote.Vote(acct, key, caller, daovote.Answer(req.Answer), req.Stake.toStake()); err != nil {
			return err
		}
		return s.captureIntent(acct, key, &view)
	})
	done(err)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	if s.obs != nil {
		s.obs.RecordApproval(r.Context(),
			observability.IntentOperation(id, key, string(intents.StatusPending))...)
	}
	s.logger.Info("vote recorded",
		"account", id, "intent", key, "voter", caller, "answer", req.Answer)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRoleApprove(w http.ResponseWriter, r *http.Request, id, key string) {
	caller, ok := callerAddr(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}

	var view intentView
	ctx, done := s.track(r, "console.role_approve",
		observability.IntentOperation(id, key, string(intents.StatusPending))...)
	err := s.runtime.Do(ctx, id, func(acct *account.Account) error {
		if err := daovote.RoleApprove(acct, key, caller); err != nil {
			return err
		}
		return s.captureIntent(acct, key, &view)
	})
	done(err)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	if s.obs != nil {
		s.obs.RecordApproval(r.Context(),
			observability.IntentOperation(id, key, string(intents.StatusPending))...)
	}
	s.logger.Info("role approval recorded", "account", id, "intent", key, "caller", caller)
	writeJSON(w, http.StatusOK, view)
}

// captureIntent snapshots an intent's view from inside a runtime unit of
// work, after a mutation landed on it.
func (s *Server) captureIntent(acct *account.Account, key string, out *intentView) error {
	in, found := acct.Intent(key)
	if !found {
		return fault.Newf(fault.KindStateConflict, fault.CodeIntentNotFound,
			"no live intent %q", key)
	}
	*out = intentViewOf(in)
	return nil
}

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

// handleExecute runs the full execution of an approved intent as one
// unit of work: validate the outcome, drain every action through its
// owning engine package, confirm, and emit the receipt. If any step
// fails the account state rolls back untouched, so a timelocked upgrade
// can simply be retried later.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request, id, key string) {
	if _, ok := callerAddr(r); !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, "Invalid request body: "+err.Error())
		return
	}

	var (
		receipt   account.Receipt
		performed []upgradeResult
	)
	ctx, done := s.track(r, "console.execute_intent",
		observability.IntentOperation(id, key, string(intents.StatusExecuting))...)
	err := s.runtime.Do(ctx, id, func(acct *account.Account) error {
		exec, err := issueExecutable(acct, key)
		if err != nil {
			return err
		}
		performed, err = drainExecutable(acct, exec, req.UpgradedAddrs)
		if err != nil {
			return err
		}
		receipt, err = acct.ConfirmExecution(exec)
		return err
	})
	done(err)
	if err != nil {
		WriteFault(w, r, err)
		return
	}

	resp := executeResponse{Receipt: receipt, Upgrades: performed}
	if s.keeper != nil {
		// The account state is already committed; losing the cold-storage
		// copy must not fail the execution.
		addr, kerr := s.keeper.KeepReceipt(r.Context(), receipt)
		if kerr != nil {
			s.logger.Warn("receipt archive failed",
				"account", id, "intent", key, "error", kerr)
		} else {
			resp.ArchiveAddr = addr
		}
	}
	if s.obs != nil {
		s.obs.RecordIntentExecuted(r.Context(),
			observability.IntentOperation(id, key, "executed")...)
	}
	s.logger.Info("intent executed",
		"account", id, "intent", key, "actions", len(receipt.ActionDigests),
		"content_hash", receipt.ContentHash)
	writeJSON(w, http.StatusOK, resp)
}

// issueExecutable validates the intent's outcome under the account's
// strategy and consumes it.
func issueExecutable(acct *account.Account, key string) (*intents.Executable, error) {
	switch acct.Config().(type) {
	case multisig.Config:
		return multisig.Execute(acct, key)
	case daovote.Config:
		return daovote.Execute(acct, key)
	default:
		return nil, fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"account %s carries no recognized governance strategy", acct.ID())
	}
}

// drainExecutable processes every action in order, each through the
// package that attached it. Upgrade actions need the swapped address
// from the request; the commit of the swap is pinned to the very next
// drain position, so the pair runs back to back here.
func drainExecutable(acct *account.Account, exec *intents.Executable, upgraded map[string]string) ([]upgradeResult, error) {
	var performed []upgradeResult
	for {
		next, ok := exec.Peek()
		if !ok {
			break
		}
		switch next.Kind {
		case multisig.KindConfigUpdate:
			if err := multisig.ExecuteConfigUpdate(acct, exec); err != nil {
				return nil, err
			}
		case multisig.KindDepsUpdate:
			if err := multisig.ExecuteDepsUpdate(acct, exec); err != nil {
				return nil, err
			}
		case daovote.KindConfigUpdate:
			if err := daovote.ExecuteConfigUpdate(acct, exec); err != nil {
				return nil, err
			}
		case upgrades.KindUpgrade:
			ticket, err := upgrades.ExecuteUpgrade(acct, exec)
			if err != nil {
				return nil, err
			}
			newAddr := upgraded[ticket.Cap.PackageName]
			if newAddr == "" {
				return nil, fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
					"execution needs the upgraded address for package %q", ticket.Cap.PackageName)
			}
			if err := upgrades.ConfirmUpgrade(acct, exec, ticket, newAddr); err != nil {
				return nil, err
			}
			performed = append(performed, upgradeResult{
				Package: ticket.Cap.PackageName,
				Addr:    newAddr,
				Version: ticket.Cap.Version + 1,
				Digest:  ticket.Digest,
			})
		case upgrades.KindRestrict:
			if err := upgrades.ExecuteRestrict(acct, exec); err != nil {
				return nil, err
			}
		default:
			return nil, fault.Newf(fault.KindPolicy, fault.CodePayloadRejected,
				"no executor wired for action kind %q", next.Kind)
		}
	}
	return performed, nil
}

// ---------------------------------------------------------------------------
// Expiry sweep
// ---------------------------------------------------------------------------

func (s *Server) handleSweepOne(w http.ResponseWriter, r *http.Request, id, key string) {
	var record archive.ExpiredRecord
	ctx, done := s.track(r, "console.sweep_intent",
		observability.IntentOperation(id, key, "expired")...)
	err := s.runtime.Do(ctx, id, func(acct *account.Account) error {
		rec, err := sweepIntent(acct, key)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
	done(err)
	if err != nil {
		WriteFault(w, r, err)
		return
	}

	result := sweepResult{IntentKey: key, ArchiveAddr: s.archiveExpired(r.Context(), record)}
	if s.obs != nil {
		s.obs.RecordIntentExpired(r.Context(),
			observability.IntentOperation(id, key, "expired")...)
	}
	s.logger.Info("expired intent swept", "account", id, "intent", key)
	writeJSON(w, http.StatusOK, result)
}

// handleSweepAll drains every expired intent on the account, one unit of
// work per intent so a single stuck drain cannot wedge the whole sweep.
func (s *Server) handleSweepAll(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	var candidates []string
	err := s.runtime.View(r.Context(), id, func(acct *account.Account) error {
		now := acct.Now()
		for _, key := range acct.IntentKeys() {
			if in, found := acct.Intent(key); found && in.Expired(now) {
				candidates = append(candidates, key)
			}
		}
		return nil
	})
	if err != nil {
		WriteFault(w, r, err)
		return
	}

	resp := sweepAllResponse{Swept: []sweepResult{}}
	failed := make(map[string]string)
	for _, key := range candidates {
		var record archive.ExpiredRecord
		ctx, done := s.track(r, "console.sweep_intent",
			observability.IntentOperation(id, key, "expired")...)
		err := s.runtime.Do(ctx, id, func(acct *account.Account) error {
			rec, err := sweepIntent(acct, key)
			if err != nil {
				return err
			}
			record = rec
			return nil
		})
		done(err)
		if err != nil {
			// A concurrent request may have executed or swept the intent
			// between the listing and this point.
			if !fault.IsCode(err, fault.CodeIntentNotFound) {
				failed[key] = err.Error()
			}
			continue
		}
		resp.Swept = append(resp.Swept, sweepResult{
			IntentKey:   key,
			ArchiveAddr: s.archiveExpired(r.Context(), record),
		})
		if s.obs != nil {
			s.obs.RecordIntentExpired(r.Context(),
				observability.IntentOperation(id, key, "expired")...)
		}
	}
	if len(failed) > 0 {
		resp.Failed = failed
	}
	resp.Total = len(resp.Swept)
	s.logger.Info("expiry sweep finished",
		"account", id, "swept", resp.Total, "failed", len(failed))
	writeJSON(w, http.StatusOK, resp)
}

// sweepIntent removes one dead intent and drains its leftover actions
// through their owning packages. The action kinds are read off the live
// intent first; the drain bundle itself only reveals an action once the
// right package pops it.
func sweepIntent(acct *account.Account, key string) (archive.ExpiredRecord, error) {
	in, found := acct.Intent(key)
	if !found {
		return archive.ExpiredRecord{}, fault.Newf(fault.KindStateConflict, fault.CodeIntentNotFound,
			"no live intent %q", key)
	}
	kinds := make([]string, len(in.Actions))
	digests := make([]string, len(in.Actions))
	for i, a := range in.Actions {
		kinds[i], digests[i] = a.Kind, a.Digest
	}

	bundle, err := acct.DeleteExpired(key)
	if err != nil {
		return archive.ExpiredRecord{}, err
	}
	for _, kind := range kinds {
		if err := drainExpired(bundle, kind); err != nil {
			return archive.ExpiredRecord{}, err
		}
	}
	if err := bundle.Destroy(); err != nil {
		return archive.ExpiredRecord{}, err
	}

	return archive.ExpiredRecord{
		AccountID:     acct.ID(),
		IntentKey:     key,
		Role:          bundle.Role,
		ActionDigests: digests,
		ExpiredAt:     acct.Now(),
	}, nil
}

// drainExpired pops one leftover action through the package that owns
// its kind.
func drainExpired(bundle *intents.Expired, kind string) error {
	switch kind {
	case multisig.KindConfigUpdate:
		return multisig.DeleteConfigUpdate(bundle)
	case multisig.KindDepsUpdate:
		return multisig.DeleteDepsUpdate(bundle)
	case daovote.KindConfigUpdate:
		return daovote.DeleteConfigUpdate(bundle)
	case upgrades.KindUpgrade:
		return upgrades.DeleteUpgrade(bundle)
	case upgrades.KindRestrict:
		return upgrades.DeleteRestrict(bundle)
	default:
		return fault.Newf(fault.KindPolicy, fault.CodePayloadRejected,
			"no drain handler for action kind %q", kind)
	}
}

// archiveExpired is best-effort: the account state is already committed,
// so a cold-storage failure downgrades to a warning.
func (s *Server) archiveExpired(ctx context.Context, rec archive.ExpiredRecord) string {
	if s.keeper == nil {
		return ""
	}
	addr, err := s.keeper.KeepExpired(ctx, rec)
	if err != nil {
		s.logger.Warn("expiry archive failed",
			"account", rec.AccountID, "intent", rec.IntentKey, "error", err)
		return ""
	}
	return addr
}

// ---------------------------------------------------------------------------
// Archived records
// ---------------------------------------------------------------------------

func (s *Server) handleArchivedReceipt(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.archiveAddr(w, r, "/api/receipts/")
	if !ok {
		return
	}
	rec, err := s.keeper.Receipt(r.Context(), addr)
	if err != nil {
		writeArchiveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleArchivedExpired(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.archiveAddr(w, r, "/api/expired/")
	if !ok {
		return
	}
	rec, err := s.keeper.Expired(r.Context(), addr)
	if err != nil {
		writeArchiveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// archiveAddr extracts and pre-validates the content address segment,
// writing the response itself when the request cannot be served.
func (s *Server) archiveAddr(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return "", false
	}
	segments := pathSegments(r.URL.Path, prefix)
	if len(segments) != 1 {
		WriteNotFound(w, "no such resource")
		return "", false
	}
	if s.keeper == nil {
		WriteNotFound(w, "archive is not configured")
		return "", false
	}
	if !strings.HasPrefix(segments[0], "sha256:") {
		WriteBadRequest(w, "content addresses start with sha256:")
		return "", false
	}
	return segments[0], true
}

func writeArchiveError(w http.ResponseWriter, err error) {
	if errors.Is(err, archive.ErrNotFound) {
		WriteNotFound(w, err.Error())
		return
	}
	WriteInternal(w, err)
}

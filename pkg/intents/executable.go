package intents

import (
	"time"

	"github.com/google/uuid"

	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/witness"
)

// Issuer binds an executable to the account and intent that produced it.
// Immutable once created; verification data only, never persisted beyond
// the executable's lifetime.
type Issuer struct {
	AccountID string `json:"account_id"`
	IntentKey string `json:"intent_key"`
	Role      string `json:"role"`
}

// Executable is the single-use cursor over an approved intent's actions.
// Every action must be processed in attachment order exactly once, then
// Finish closes the cursor. An executable that is dropped without being
// drained leaves its intent stuck in Executing, which is the visible
// signal that the enclosing unit of work must abort.
type Executable struct {
	ID     string `json:"id"`
	Issuer Issuer `json:"issuer"`

	actions  []Action
	cursor   int
	finished bool
}

// Issue converts the intent into its one executable. It fails TooEarly
// before the execute-after gate, Expired after the expiry, and
// StateConflict while a previously issued executable is outstanding.
// Outcome validation is the caller's job and must happen first; Issue
// clears the consumed outcome.
func (in *Intent) Issue(now time.Time) (*Executable, error) {
	if in.Status == StatusExecuting {
		return nil, fault.Newf(fault.KindStateConflict, fault.CodeExecutableIssued,
			"intent %q already has an outstanding executable", in.Key)
	}
	if now.Before(in.ExecuteAfter) {
		return nil, fault.Newf(fault.KindTiming, fault.CodeTooEarly,
			"intent %q is executable from %s, now is %s",
			in.Key, in.ExecuteAfter.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if in.Expired(now) {
		return nil, fault.Newf(fault.KindTiming, fault.CodeExpired,
			"intent %q expired at %s", in.Key, in.ExpiresAt.Format(time.RFC3339))
	}

	in.Status = StatusExecuting
	in.Outcome = nil

	actions := make([]Action, len(in.Actions))
	copy(actions, in.Actions)
	return &Executable{
		ID:      uuid.NewString(),
		Issuer:  Issuer{AccountID: in.AccountID, IntentKey: in.Key, Role: in.Role},
		actions: actions,
	}, nil
}

// ProcessAction returns the next action and advances the cursor. Each call
// re-runs the dependency gate and both identity checks; a reconfiguration
// that revokes a plug-in mid-batch takes effect on the very next call.
func (e *Executable) ProcessAction(accountID string, table *deps.Table, proof deps.VersionProof, origin any) (Action, error) {
	if e.finished {
		return Action{}, fault.Newf(fault.KindCompletion, fault.CodeActionsNotDrained,
			"executable %s is already finished", e.ID)
	}
	if err := table.Check(proof); err != nil {
		return Action{}, err
	}
	if accountID != e.Issuer.AccountID {
		return Action{}, fault.Newf(fault.KindAuthorization, fault.CodeWrongAccount,
			"executable %s was issued by account %s, not %s", e.ID, e.Issuer.AccountID, accountID)
	}
	if e.cursor >= len(e.actions) {
		return Action{}, fault.Newf(fault.KindCompletion, fault.CodeActionsNotDrained,
			"executable %s has no actions left", e.ID)
	}

	next := e.actions[e.cursor]
	if got := witness.Of(origin); got != next.Origin {
		return Action{}, fault.Newf(fault.KindAuthorization, fault.CodeWrongOrigin,
			"action %d of intent %q belongs to %s, redeemer presented %s",
			e.cursor, e.Issuer.IntentKey, next.Origin, got)
	}

	e.cursor++
	return next, nil
}

// Peek returns the action at the cursor without advancing, so a plug-in
// can decide whether the next step is its own.
func (e *Executable) Peek() (Action, bool) {
	if e.finished || e.cursor >= len(e.actions) {
		return Action{}, false
	}
	return e.actions[e.cursor], true
}

// Processed returns how many actions have been drained.
func (e *Executable) Processed() int { return e.cursor }

// Remaining returns how many actions are still to be drained.
func (e *Executable) Remaining() int { return len(e.actions) - e.cursor }

// Finish closes the cursor. It fails until every action has been
// processed, and at most once.
func (e *Executable) Finish() error {
	if e.finished {
		return fault.Newf(fault.KindCompletion, fault.CodeActionsNotDrained,
			"executable %s already finished", e.ID)
	}
	if e.cursor != len(e.actions) {
		return fault.Newf(fault.KindCompletion, fault.CodeActionsRemaining,
			"%d of %d actions processed", e.cursor, len(e.actions))
	}
	e.finished = true
	return nil
}

// Finished reports whether Finish has succeeded.
func (e *Executable) Finished() bool { return e.finished }

// ActionDigests lists every action digest in order, for receipts.
func (e *Executable) ActionDigests() []string {
	out := make([]string, len(e.actions))
	for i, a := range e.actions {
		out[i] = a.Digest
	}
	return out
}

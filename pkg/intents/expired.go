package intents

import (
	"time"

	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/witness"
)

// Expired is the drain bundle of a dead intent. Each leftover action must
// be popped by the plug-in that attached it so any side registrations made
// at propose time are released explicitly, then Destroy retires the bundle.
type Expired struct {
	AccountID string `json:"account_id"`
	IntentKey string `json:"intent_key"`
	Role      string `json:"role"`

	actions []Action
}

// ExpireInto consumes the intent and returns its drain bundle. It fails
// NotExpired while the intent is still live. All attached actions are
// bundled: an interrupted drain rolled back with the enclosing unit of
// work, so nothing was partially processed.
func (in *Intent) ExpireInto(now time.Time) (*Expired, error) {
	if !in.Expired(now) {
		return nil, fault.Newf(fault.KindTiming, fault.CodeNotExpired,
			"intent %q lives until %s, now is %s",
			in.Key, in.ExpiresAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	actions := make([]Action, len(in.Actions))
	copy(actions, in.Actions)
	return &Expired{
		AccountID: in.AccountID,
		IntentKey: in.Key,
		Role:      in.Role,
		actions:   actions,
	}, nil
}

// Next pops the next leftover action. The presenting plug-in must be the
// one that attached it, proven by origin marker type.
func (x *Expired) Next(origin any) (Action, error) {
	if len(x.actions) == 0 {
		return Action{}, fault.Newf(fault.KindCompletion, fault.CodeActionsNotDrained,
			"expired intent %q has no actions left", x.IntentKey)
	}
	head := x.actions[0]
	if got := witness.Of(origin); got != head.Origin {
		return Action{}, fault.Newf(fault.KindAuthorization, fault.CodeWrongOrigin,
			"leftover action of intent %q belongs to %s, presenter is %s",
			x.IntentKey, head.Origin, got)
	}
	x.actions = x.actions[1:]
	return head, nil
}

// Remaining returns how many actions are still to be drained.
func (x *Expired) Remaining() int { return len(x.actions) }

// Destroy retires the bundle. It fails while any action is undrained, so
// a leaked side registration is impossible to discard silently.
func (x *Expired) Destroy() error {
	if len(x.actions) != 0 {
		return fault.Newf(fault.KindCompletion, fault.CodeActionsNotDrained,
			"expired intent %q still holds %d undrained actions", x.IntentKey, len(x.actions))
	}
	return nil
}

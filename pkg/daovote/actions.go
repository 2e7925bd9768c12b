package daovote

import (
	"encoding/json"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/intents"
	"github.com/Covault-Labs/covault/core/pkg/vault"
)

// Action kind and role tag of DAO reconfigure intents.
const (
	KindConfigUpdate = "daovote.config_update"
	RoleConfig       = "daovote::config"
)

// Origin marker. Unexported: only this package can redeem its actions.
type configOrigin struct{}

// ConfigUpdate is the payload of a DAO policy replacement action.
type ConfigUpdate struct {
	Next Config `json:"next"`
}

// RequestConfigUpdate opens a reconfigure intent carrying the replacement
// policy, with a voting window opening per the current policy's delay.
// The next config is validated at proposal time.
func RequestConfigUpdate(acct *account.Account, auth account.Auth, p intents.Params, next Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	outcome, err := NewOutcome(acct)
	if err != nil {
		return err
	}
	p.Role = RoleConfig
	in, err := acct.CreateIntent(auth, p, outcome)
	if err != nil {
		return err
	}
	if _, err := acct.AttachAction(in, KindConfigUpdate, configOrigin{}, ConfigUpdate{Next: next}); err != nil {
		return err
	}
	return acct.StoreIntent(in)
}

// ExecuteConfigUpdate drains the reconfigure action and swaps the
// account's DAO policy.
func ExecuteConfigUpdate(acct *account.Account, exec *intents.Executable) error {
	action, err := exec.ProcessAction(acct.ID(), acct.Deps(), Proof(), configOrigin{})
	if err != nil {
		return err
	}
	var payload ConfigUpdate
	if err := json.Unmarshal(action.Payload, &payload); err != nil {
		return fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
			"config update payload is malformed", err)
	}
	return acct.ReplaceConfig(Proof(), payload.Next)
}

// DeleteConfigUpdate drains one expired reconfigure action.
func DeleteConfigUpdate(bundle *intents.Expired) error {
	_, err := bundle.Next(configOrigin{})
	return err
}

// RegisterCodecs contributes this package's persistent types to a codec
// registry: the governance config, the votes outcome, and stakes held as
// vault data.
func RegisterCodecs(reg *vault.Registry) {
	vault.RegisterJSON[Config](reg)
	vault.RegisterJSON[*Votes](reg)
	vault.RegisterJSON[Stake](reg)
}

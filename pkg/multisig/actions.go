package multisig

import (
	"encoding/json"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/intents"
	"github.com/Covault-Labs/covault/core/pkg/vault"
)

// Action kinds and the role tag of reconfigure intents.
const (
	KindConfigUpdate = "multisig.config_update"
	KindDepsUpdate   = "multisig.deps_update"
	RoleConfig       = "multisig::config"
)

// Origin markers. Unexported: only this package can redeem its actions.
type configOrigin struct{}

type depsOrigin struct{}

// ConfigUpdate is the payload of a governance replacement action.
type ConfigUpdate struct {
	Next Config `json:"next"`
}

// DepSpec is one dependency record in transit, version as text.
type DepSpec struct {
	Name    string `json:"name"`
	Addr    string `json:"addr"`
	Version string `json:"version"`
}

// DepsUpdate is the payload of a dependency table replacement action.
type DepsUpdate struct {
	Records []DepSpec `json:"records"`
}

// RequestConfigUpdate opens a reconfigure intent carrying the replacement
// policy. The next config is validated now, at proposal time, so a broken
// roster can never reach execution.
func RequestConfigUpdate(acct *account.Account, auth account.Auth, p intents.Params, next Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	p.Role = RoleConfig
	in, err := acct.CreateIntent(auth, p, NewApprovals())
	if err != nil {
		return err
	}
	if _, err := acct.AttachAction(in, KindConfigUpdate, configOrigin{}, ConfigUpdate{Next: next}); err != nil {
		return err
	}
	return acct.StoreIntent(in)
}

// ExecuteConfigUpdate drains the reconfigure action and swaps the account's
// governance policy.
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

// DeleteConfigUpdate drains one expired reconfigure action. Nothing was
// staged at proposal time, so draining it is release enough.
func DeleteConfigUpdate(bundle *intents.Expired) error {
	_, err := bundle.Next(configOrigin{})
	return err
}

// RequestDepsUpdate opens an intent replacing the dependency table. Records
// are parsed now so version typos surface at proposal time.
func RequestDepsUpdate(acct *account.Account, auth account.Auth, p intents.Params, records []DepSpec) error {
	if _, err := tableFromSpecs(records); err != nil {
		return err
	}
	p.Role = RoleConfig
	in, err := acct.CreateIntent(auth, p, NewApprovals())
	if err != nil {
		return err
	}
	if _, err := acct.AttachAction(in, KindDepsUpdate, depsOrigin{}, DepsUpdate{Records: records}); err != nil {
		return err
	}
	return acct.StoreIntent(in)
}

// ExecuteDepsUpdate drains the action and swaps the dependency table.
func ExecuteDepsUpdate(acct *account.Account, exec *intents.Executable) error {
	action, err := exec.ProcessAction(acct.ID(), acct.Deps(), Proof(), depsOrigin{})
	if err != nil {
		return err
	}
	var payload DepsUpdate
	if err := json.Unmarshal(action.Payload, &payload); err != nil {
		return fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
			"deps update payload is malformed", err)
	}
	table, err := tableFromSpecs(payload.Records)
	if err != nil {
		return err
	}
	return acct.ReplaceDeps(Proof(), table)
}

// DeleteDepsUpdate drains one expired deps action.
func DeleteDepsUpdate(bundle *intents.Expired) error {
	_, err := bundle.Next(depsOrigin{})
	return err
}

func tableFromSpecs(specs []DepSpec) (*deps.Table, error) {
	records := make([]deps.Record, 0, len(specs))
	for _, s := range specs {
		r, err := deps.ParseRecord(s.Name, s.Addr, s.Version)
		if err != nil {
			return nil, fault.Wrap(fault.KindDependency, fault.CodeInvalidConfig,
				"bad dependency record", err)
		}
		records = append(records, r)
	}
	return deps.NewTable(records...)
}

// RegisterCodecs contributes this package's persistent types to a codec
// registry: the governance config and the approvals outcome.
func RegisterCodecs(reg *vault.Registry) {
	vault.RegisterJSON[Config](reg)
	vault.RegisterJSON[*Approvals](reg)
}

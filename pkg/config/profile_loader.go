package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Covault-Labs/covault/core/pkg/daovote"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/multisig"
)

// Governance strategies a profile may name.
const (
	StrategyMultisig = "multisig"
	StrategyDAO      = "daovote"
)

// GovernanceProfile is a named preset for bootstrapping accounts: one
// governance policy (weighted multisig or stake-weighted voting), the
// intent timing defaults, and the admission rules actions must satisfy.
type GovernanceProfile struct {
	Name     string `yaml:"name" json:"name"`
	Code     string `yaml:"code" json:"code"`
	Strategy string `yaml:"strategy" json:"strategy"` // "multisig" | "daovote"

	Multisig *MultisigProfile `yaml:"multisig,omitempty" json:"multisig,omitempty"`
	DAO      *DAOProfile      `yaml:"daovote,omitempty" json:"daovote,omitempty"`

	Intents IntentDefaults `yaml:"intents" json:"intents"`

	// AdmissionRules are CEL expressions evaluated against every action
	// proposed on accounts built from this profile.
	AdmissionRules []string `yaml:"admission_rules,omitempty" json:"admission_rules,omitempty"`
}

// MultisigProfile is the YAML form of a weighted-multisig policy.
type MultisigProfile struct {
	Members         []MemberProfile   `yaml:"members" json:"members"`
	GlobalThreshold uint64            `yaml:"global_threshold" json:"global_threshold"`
	RoleThresholds  map[string]uint64 `yaml:"role_thresholds,omitempty" json:"role_thresholds,omitempty"`
}

// MemberProfile is one keyholder row in a multisig profile.
type MemberProfile struct {
	Addr   string   `yaml:"addr" json:"addr"`
	Weight uint64   `yaml:"weight" json:"weight"`
	Roles  []string `yaml:"roles,omitempty" json:"roles,omitempty"`
}

// DAOProfile is the YAML form of a stake-weighted voting policy.
type DAOProfile struct {
	AssetKind         string   `yaml:"asset_kind" json:"asset_kind"`
	UnstakingCooldown Duration `yaml:"unstaking_cooldown" json:"unstaking_cooldown"`
	Rule              string   `yaml:"rule" json:"rule"`
	MaxVotingPower    uint64   `yaml:"max_voting_power,omitempty" json:"max_voting_power,omitempty"`
	MinimumVotes      uint64   `yaml:"minimum_votes" json:"minimum_votes"`
	Quorum            uint64   `yaml:"quorum" json:"quorum"`
	VotingDelay       Duration `yaml:"voting_delay" json:"voting_delay"`
	VotingPeriod      Duration `yaml:"voting_period" json:"voting_period"`
	RoleRoster        []string `yaml:"role_roster,omitempty" json:"role_roster,omitempty"`
	RoleThreshold     uint64   `yaml:"role_threshold,omitempty" json:"role_threshold,omitempty"`
}

// IntentDefaults are the timing defaults for intents proposed on
// accounts built from the profile.
type IntentDefaults struct {
	ExecutionDelay Duration `yaml:"execution_delay" json:"execution_delay"`
	ExpiryWindow   Duration `yaml:"expiry_window" json:"expiry_window"`
}

// Duration wraps time.Duration so profiles can spell windows as Go
// duration strings ("72h", "30s").
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Validate checks the profile names a known strategy and carries a
// coherent policy for it.
func (p *GovernanceProfile) Validate() error {
	switch p.Strategy {
	case StrategyMultisig:
		_, err := p.MultisigConfig()
		return err
	case StrategyDAO:
		_, err := p.DAOConfig()
		return err
	default:
		return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"profile %q names unknown strategy %q", p.Code, p.Strategy)
	}
}

// MultisigConfig converts the profile into a validated multisig policy.
func (p *GovernanceProfile) MultisigConfig() (multisig.Config, error) {
	if p.Multisig == nil {
		return multisig.Config{}, fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"profile %q carries no multisig policy", p.Code)
	}
	cfg := multisig.Config{
		GlobalThreshold: p.Multisig.GlobalThreshold,
		RoleThresholds:  p.Multisig.RoleThresholds,
	}
	for _, m := range p.Multisig.Members {
		cfg.Members = append(cfg.Members, multisig.Member{Addr: m.Addr, Weight: m.Weight, Roles: m.Roles})
	}
	if err := cfg.Validate(); err != nil {
		return multisig.Config{}, err
	}
	return cfg, nil
}

// DAOConfig converts the profile into a validated DAO voting policy.
func (p *GovernanceProfile) DAOConfig() (daovote.Config, error) {
	if p.DAO == nil {
		return daovote.Config{}, fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"profile %q carries no daovote policy", p.Code)
	}
	cfg := daovote.Config{
		AssetKind:         p.DAO.AssetKind,
		UnstakingCooldown: p.DAO.UnstakingCooldown.Std(),
		Rule:              daovote.VotingRule(p.DAO.Rule),
		MaxVotingPower:    p.DAO.MaxVotingPower,
		MinimumVotes:      p.DAO.MinimumVotes,
		Quorum:            p.DAO.Quorum,
		VotingDelay:       p.DAO.VotingDelay.Std(),
		VotingPeriod:      p.DAO.VotingPeriod.Std(),
		RoleRoster:        p.DAO.RoleRoster,
		RoleThreshold:     p.DAO.RoleThreshold,
	}
	if err := cfg.Validate(); err != nil {
		return daovote.Config{}, err
	}
	return cfg, nil
}

// LoadProfile loads a governance profile YAML by code. It searches the
// profiles directory for profile_<code>.yaml and validates the policy.
func LoadProfile(profilesDir, code string) (*GovernanceProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile GovernanceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory,
// keyed by code. A directory with no profiles yields an empty map.
func LoadAllProfiles(profilesDir string) (map[string]*GovernanceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*GovernanceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile GovernanceProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_treasury.yaml -> treasury
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		if err := profile.Validate(); err != nil {
			return nil, err
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

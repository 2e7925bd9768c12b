// Package multisig is the weighted-multisignature governance strategy. A
// roster of members carries voting weight and role tags; intents execute
// once the approval weight crosses the global threshold or the threshold
// configured for the intent's role.
//
// The package also ships the reconfigure plug-in: governance and dependency
// table changes ride the same intent lifecycle as everything else.
package multisig

import (
	"github.com/Masterminds/semver/v3"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
)

// Identity this package presents to the dependency gate.
const (
	PackageName = "covault_multisig"
	PackageAddr = "covault:pkg:multisig"
)

var packageVersion = semver.MustParse("1.0.0")

// Proof returns the version proof for this build of the package.
func Proof() deps.VersionProof {
	return deps.VersionProof{Name: PackageName, Addr: PackageAddr, Version: packageVersion}
}

// Record returns the dependency record accounts pin to authorize this
// build.
func Record() deps.Record {
	return deps.Record{Name: PackageName, Addr: PackageAddr, Version: packageVersion}
}

// Member is one keyholder: an address, a voting weight, and role tags.
type Member struct {
	Addr   string   `json:"addr"`
	Weight uint64   `json:"weight"`
	Roles  []string `json:"roles,omitempty"`
}

// HasRole reports whether the member carries the role tag.
func (m Member) HasRole(role string) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Config is the multisig governance policy. Replaced wholesale through a
// reconfigure intent, never mutated in place.
type Config struct {
	Members         []Member          `json:"members"`
	GlobalThreshold uint64            `json:"global_threshold"`
	RoleThresholds  map[string]uint64 `json:"role_thresholds,omitempty"`
}

// Validate checks the policy is internally coherent: members are unique
// with non-zero weight, and every threshold is reachable by the roster
// that has to meet it.
func (c Config) Validate() error {
	if len(c.Members) == 0 {
		return fault.New(fault.KindPolicy, fault.CodeInvalidConfig, "multisig needs at least one member")
	}
	seen := make(map[string]struct{}, len(c.Members))
	var total uint64
	for _, m := range c.Members {
		if m.Addr == "" {
			return fault.New(fault.KindPolicy, fault.CodeInvalidConfig, "member address must not be empty")
		}
		if _, dup := seen[m.Addr]; dup {
			return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig, "duplicate member %s", m.Addr)
		}
		seen[m.Addr] = struct{}{}
		if m.Weight == 0 {
			return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig, "member %s has zero weight", m.Addr)
		}
		total += m.Weight
	}
	if c.GlobalThreshold == 0 {
		return fault.New(fault.KindPolicy, fault.CodeInvalidConfig, "global threshold must be positive")
	}
	if c.GlobalThreshold > total {
		return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"global threshold %d exceeds total weight %d", c.GlobalThreshold, total)
	}
	for role, threshold := range c.RoleThresholds {
		if threshold == 0 {
			return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig, "role %q threshold must be positive", role)
		}
		if threshold > c.RoleWeight(role) {
			return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
				"role %q threshold %d exceeds the role's total weight %d", role, threshold, c.RoleWeight(role))
		}
	}
	return nil
}

// Member looks up a member by address.
func (c Config) Member(addr string) (Member, bool) {
	for _, m := range c.Members {
		if m.Addr == addr {
			return m, true
		}
	}
	return Member{}, false
}

// TotalWeight sums every member's weight.
func (c Config) TotalWeight() uint64 {
	var total uint64
	for _, m := range c.Members {
		total += m.Weight
	}
	return total
}

// RoleWeight sums the weight of members holding the role.
func (c Config) RoleWeight(role string) uint64 {
	var total uint64
	for _, m := range c.Members {
		if m.HasRole(role) {
			total += m.Weight
		}
	}
	return total
}

// Authenticate verifies the caller is a member and mints the account auth
// that intent creation requires.
func Authenticate(acct *account.Account, caller string) (account.Auth, error) {
	cfg, err := configOf(acct)
	if err != nil {
		return account.Auth{}, err
	}
	if _, ok := cfg.Member(caller); !ok {
		return account.Auth{}, fault.Newf(fault.KindAuthorization, fault.CodeNotMember,
			"%s is not a member of account %s", caller, acct.ID())
	}
	return account.MintAuth(acct.ID(), caller), nil
}

func configOf(acct *account.Account) (Config, error) {
	cfg, ok := acct.Config().(Config)
	if !ok {
		return Config{}, fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"account %s is not governed by multisig", acct.ID())
	}
	return cfg, nil
}

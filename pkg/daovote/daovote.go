// Package daovote is the stake-weighted voting governance strategy. Voting
// power derives from staked holdings: full power while staked, linear decay
// across a cooldown window once unstaking begins, optionally square-rooted
// for quadratic voting. Intents pass when the yes share of cast votes meets
// a fixed-point quorum, or when enough role holders bypass the vote.
package daovote

import (
	"math/bits"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
)

// Identity this package presents to the dependency gate.
const (
	PackageName = "covault_daovote"
	PackageAddr = "covault:pkg:daovote"
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

// QuorumMultiplier is the fixed-point base for quorum fractions: a quorum
// of 500_000_000 means half the cast voting power must be "yes".
const QuorumMultiplier uint64 = 1_000_000_000

// VotingRule selects the stake-to-power transform.
type VotingRule string

const (
	RuleLinear    VotingRule = "linear"
	RuleQuadratic VotingRule = "quadratic"
)

// Config is the DAO governance policy.
type Config struct {
	// AssetKind names what counts as stake, descriptive only.
	AssetKind string `json:"asset_kind"`
	// UnstakingCooldown is the window across which an unstaking position's
	// power decays linearly to zero.
	UnstakingCooldown time.Duration `json:"unstaking_cooldown"`
	Rule              VotingRule    `json:"rule"`
	// MaxVotingPower caps one voter's power; zero means uncapped.
	MaxVotingPower uint64 `json:"max_voting_power"`
	// MinimumVotes is the least total power that must be cast.
	MinimumVotes uint64 `json:"minimum_votes"`
	// Quorum is the yes fraction required, against QuorumMultiplier.
	Quorum uint64 `json:"quorum"`
	// VotingDelay is how long after proposal the window opens.
	VotingDelay time.Duration `json:"voting_delay"`
	// VotingPeriod is how long the window stays open.
	VotingPeriod time.Duration `json:"voting_period"`
	// RoleRoster lists addresses that may bypass voting by direct
	// approval; RoleThreshold is how many must do so.
	RoleRoster    []string `json:"role_roster,omitempty"`
	RoleThreshold uint64   `json:"role_threshold,omitempty"`
}

// Validate checks the policy is internally coherent.
func (c Config) Validate() error {
	if c.Rule != RuleLinear && c.Rule != RuleQuadratic {
		return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig, "unknown voting rule %q", c.Rule)
	}
	if c.Quorum > QuorumMultiplier {
		return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"quorum %d exceeds the multiplier %d", c.Quorum, QuorumMultiplier)
	}
	if c.VotingPeriod <= 0 {
		return fault.New(fault.KindPolicy, fault.CodeInvalidConfig, "voting period must be positive")
	}
	if c.VotingDelay < 0 {
		return fault.New(fault.KindPolicy, fault.CodeInvalidConfig, "voting delay must not be negative")
	}
	if c.UnstakingCooldown < 0 {
		return fault.New(fault.KindPolicy, fault.CodeInvalidConfig, "unstaking cooldown must not be negative")
	}
	if c.RoleThreshold > uint64(len(c.RoleRoster)) {
		return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"role threshold %d exceeds roster size %d", c.RoleThreshold, len(c.RoleRoster))
	}
	return nil
}

// HasRole reports whether addr is on the bypass roster.
func (c Config) HasRole(addr string) bool {
	for _, a := range c.RoleRoster {
		if a == addr {
			return true
		}
	}
	return false
}

// Stake is a voter's staked position. UnstakedAt is set the moment the
// voter begins withdrawing.
type Stake struct {
	Amount     uint64     `json:"amount"`
	UnstakedAt *time.Time `json:"unstaked_at,omitempty"`
}

// VotingPower computes the power a stake carries at the given instant:
// the full amount while staked, decaying linearly to zero across the
// cooldown once unstaking begins, then the optional quadratic transform,
// then the cap. All integer arithmetic.
func VotingPower(cfg Config, s Stake, now time.Time) uint64 {
	power := s.Amount
	if s.UnstakedAt != nil {
		elapsed := now.Sub(*s.UnstakedAt)
		switch {
		case cfg.UnstakingCooldown <= 0 || elapsed >= cfg.UnstakingCooldown:
			return 0
		case elapsed > 0:
			remaining := uint64((cfg.UnstakingCooldown - elapsed) / time.Second)
			window := uint64(cfg.UnstakingCooldown / time.Second)
			if window == 0 {
				return 0
			}
			// floor(amount*remaining/window) without 128-bit overflow.
			power = (power/window)*remaining + (power%window)*remaining/window
		}
	}
	if cfg.Rule == RuleQuadratic {
		power = isqrt(power)
	}
	if cfg.MaxVotingPower > 0 && power > cfg.MaxVotingPower {
		power = cfg.MaxVotingPower
	}
	return power
}

// isqrt is the integer square root by Newton's method.
func isqrt(n uint64) uint64 {
	if n < 2 {
		return n
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

// mulCompare reports the sign of a*b - c*d in 128-bit space.
func mulCompare(a, b, c, d uint64) int {
	hi1, lo1 := bits.Mul64(a, b)
	hi2, lo2 := bits.Mul64(c, d)
	switch {
	case hi1 != hi2:
		if hi1 > hi2 {
			return 1
		}
		return -1
	case lo1 != lo2:
		if lo1 > lo2 {
			return 1
		}
		return -1
	default:
		return 0
	}
}

// Authenticate mints an account auth for a caller who either sits on the
// role roster or holds stake with live voting power.
func Authenticate(acct *account.Account, caller string, stake Stake) (account.Auth, error) {
	cfg, err := configOf(acct)
	if err != nil {
		return account.Auth{}, err
	}
	if cfg.HasRole(caller) {
		return account.MintAuth(acct.ID(), caller), nil
	}
	if VotingPower(cfg, stake, acct.Now()) == 0 {
		return account.Auth{}, fault.Newf(fault.KindAuthorization, fault.CodeNotMember,
			"%s holds no live voting power on account %s", caller, acct.ID())
	}
	return account.MintAuth(acct.ID(), caller), nil
}

func configOf(acct *account.Account) (Config, error) {
	cfg, ok := acct.Config().(Config)
	if !ok {
		return Config{}, fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"account %s is not governed by DAO voting", acct.ID())
	}
	return cfg, nil
}

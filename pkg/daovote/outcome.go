package daovote

import (
	"sort"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/intents"
)

// Answer is a ballot option.
type Answer string

const (
	AnswerYes     Answer = "yes"
	AnswerNo      Answer = "no"
	AnswerAbstain Answer = "abstain"
)

func validAnswer(a Answer) bool {
	return a == AnswerYes || a == AnswerNo || a == AnswerAbstain
}

// Ballot is one voter's recorded choice and the power it carried when
// cast. Re-voting reverses the old ballot before applying the new one.
type Ballot struct {
	Answer Answer `json:"answer"`
	Power  uint64 `json:"power"`
}

// Votes is the DAO outcome attached to an intent: the voting window, the
// running tallies per answer, per-voter ballots, and any role bypass
// approvals.
type Votes struct {
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Tallies   map[Answer]uint64 `json:"tallies"`
	Ballots   map[string]Ballot `json:"ballots"`
	// RoleApproved holds roster addresses that bypassed the vote, sorted.
	RoleApproved []string `json:"role_approved,omitempty"`
}

// NewVotes opens a voting window for an intent proposed at createdAt.
func NewVotes(cfg Config, createdAt time.Time) *Votes {
	start := createdAt.Add(cfg.VotingDelay)
	return &Votes{
		StartTime: start,
		EndTime:   start.Add(cfg.VotingPeriod),
		Tallies:   map[Answer]uint64{},
		Ballots:   map[string]Ballot{},
	}
}

// Open reports whether the window admits ballots at the given instant.
func (v *Votes) Open(now time.Time) bool {
	return !now.Before(v.StartTime) && now.Before(v.EndTime)
}

// TotalPower sums the cast power across every answer.
func (v *Votes) TotalPower() uint64 {
	var total uint64
	for _, p := range v.Tallies {
		total += p
	}
	return total
}

func (v *Votes) hasRoleApproved(addr string) bool {
	for _, a := range v.RoleApproved {
		if a == addr {
			return true
		}
	}
	return false
}

// NewOutcome mints a voting window from the account's policy and clock,
// ready to seed a new intent's outcome at creation.
func NewOutcome(acct *account.Account) (*Votes, error) {
	cfg, err := configOf(acct)
	if err != nil {
		return nil, err
	}
	return NewVotes(cfg, acct.Now()), nil
}

// Vote casts or replaces the caller's ballot on the intent. The power is
// computed from the stake at call time; a replaced ballot is reversed at
// the power it originally carried.
func Vote(acct *account.Account, key, voter string, answer Answer, stake Stake) error {
	cfg, err := configOf(acct)
	if err != nil {
		return err
	}
	if !validAnswer(answer) {
		return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig, "unknown answer %q", answer)
	}
	now := acct.Now()
	power := VotingPower(cfg, stake, now)
	return acct.UpdateOutcome(key, func(outcome any) (any, error) {
		votes, ok := outcome.(*Votes)
		if !ok || votes == nil {
			return nil, fault.Newf(fault.KindStateConflict, fault.CodeVotingClosed,
				"intent %q has no voting window", key)
		}
		if !votes.Open(now) {
			return nil, fault.Newf(fault.KindTiming, fault.CodeVotingClosed,
				"voting on %q runs %s to %s", key,
				votes.StartTime.Format(time.RFC3339), votes.EndTime.Format(time.RFC3339))
		}
		if prev, ok := votes.Ballots[voter]; ok {
			votes.Tallies[prev.Answer] -= prev.Power
			if votes.Tallies[prev.Answer] == 0 {
				delete(votes.Tallies, prev.Answer)
			}
		}
		votes.Tallies[answer] += power
		votes.Ballots[voter] = Ballot{Answer: answer, Power: power}
		return votes, nil
	})
}

// RoleApprove records a roster member's bypass approval on the intent.
func RoleApprove(acct *account.Account, key, caller string) error {
	cfg, err := configOf(acct)
	if err != nil {
		return err
	}
	if !cfg.HasRole(caller) {
		return fault.Newf(fault.KindAuthorization, fault.CodeNotRoleHolder,
			"%s is not on the role roster", caller)
	}
	return acct.UpdateOutcome(key, func(outcome any) (any, error) {
		votes, ok := outcome.(*Votes)
		if !ok || votes == nil {
			return nil, fault.Newf(fault.KindStateConflict, fault.CodeVotingClosed,
				"intent %q has no voting window", key)
		}
		if votes.hasRoleApproved(caller) {
			return nil, fault.Newf(fault.KindStateConflict, fault.CodeAlreadyApproved,
				"%s already role-approved %q", caller, key)
		}
		votes.RoleApproved = append(votes.RoleApproved, caller)
		sort.Strings(votes.RoleApproved)
		return votes, nil
	})
}

// Validate decides whether the tallies authorize execution. Two paths
// pass: enough roster members bypassed the vote, or the cast power meets
// the minimum and the yes share meets the quorum. The quorum comparison
// is exact fixed-point integer arithmetic, yes*multiplier against
// quorum*total. Pure: no mutation, no clock.
func Validate(cfg Config, role string, outcome any) error {
	votes, ok := outcome.(*Votes)
	if !ok || votes == nil {
		return fault.New(fault.KindPolicy, fault.CodeThresholdNotMet, "no votes recorded")
	}
	if cfg.RoleThreshold > 0 && uint64(len(votes.RoleApproved)) >= cfg.RoleThreshold {
		return nil
	}
	total := votes.TotalPower()
	if total < cfg.MinimumVotes {
		return fault.Newf(fault.KindPolicy, fault.CodeThresholdNotMet,
			"cast power %d below minimum %d", total, cfg.MinimumVotes)
	}
	if total == 0 {
		return fault.New(fault.KindPolicy, fault.CodeThresholdNotMet, "no power cast")
	}
	yes := votes.Tallies[AnswerYes]
	if mulCompare(yes, QuorumMultiplier, cfg.Quorum, total) < 0 {
		return fault.Newf(fault.KindPolicy, fault.CodeThresholdNotMet,
			"yes share %d/%d below quorum %d/%d", yes, total, cfg.Quorum, QuorumMultiplier)
	}
	return nil
}

// Execute validates the intent's tallies under the account's DAO policy
// and, if they pass, issues the executable.
func Execute(acct *account.Account, key string) (*intents.Executable, error) {
	cfg, err := configOf(acct)
	if err != nil {
		return nil, err
	}
	return acct.Execute(key, func(role string, outcome any) error {
		return Validate(cfg, role, outcome)
	})
}

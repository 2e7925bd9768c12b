package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/hostclock"
	"github.com/Covault-Labs/covault/core/pkg/intents"
	"github.com/Covault-Labs/covault/core/pkg/multisig"
	"github.com/Covault-Labs/covault/core/pkg/substrate"
	"github.com/Covault-Labs/covault/core/pkg/upgrades"
	"github.com/Covault-Labs/covault/core/pkg/vault"
)

// runDemo walks one multisig account through the full intent lifecycle
// against an in-memory runtime: a governance change, a timelocked code
// upgrade, and an expired proposal being swept. The clock is simulated
// so the timelock and the expiry both play out in one run.
func runDemo(_ []string, stdout, stderr io.Writer) int {
	if err := demo(stdout); err != nil {
		fmt.Fprintf(stderr, "demo failed: %v\n", err)
		return 1
	}
	return 0
}

func demo(out io.Writer) error {
	ctx := context.Background()
	clock := hostclock.NewManual(time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC))

	registry := vault.NewRegistry()
	multisig.RegisterCodecs(registry)
	upgrades.RegisterCodecs(registry)

	runtime := substrate.NewRuntime(substrate.NewMemoryStore(), registry,
		substrate.WithAccountOptions(account.WithClock(clock)))

	const (
		acctID = "ops-treasury"
		alice  = "covault:addr:alice"
		bob    = "covault:addr:bob"
		carol  = "covault:addr:carol"
	)

	fmt.Fprintln(out, "covault demo: one custodial account, three keyholders, a simulated clock")
	fmt.Fprintln(out)

	// -- create the account -------------------------------------------------

	policy := multisig.Config{
		Members: []multisig.Member{
			{Addr: alice, Weight: 2, Roles: []string{upgrades.RoleUpgrade}},
			{Addr: bob, Weight: 1, Roles: []string{upgrades.RoleUpgrade}},
			{Addr: carol, Weight: 1},
		},
		GlobalThreshold: 3,
		RoleThresholds:  map[string]uint64{upgrades.RoleUpgrade: 2},
	}
	table, err := deps.NewTable(deps.CoreRecord(), multisig.Record(), upgrades.Record())
	if err != nil {
		return err
	}
	if err := runtime.Create(ctx, acctID, policy, table); err != nil {
		return err
	}
	fmt.Fprintf(out, "[1] account %q created: alice(w2) bob(w1) carol(w1), global threshold 3,\n", acctID)
	fmt.Fprintf(out, "    role %q threshold 2\n\n", upgrades.RoleUpgrade)

	// -- governance change: propose, fall short, approve, execute -----------

	raised := policy
	raised.GlobalThreshold = 4
	err = runtime.Do(ctx, acctID, func(acct *account.Account) error {
		auth, err := multisig.Authenticate(acct, alice)
		if err != nil {
			return err
		}
		return multisig.RequestConfigUpdate(acct, auth, intents.Params{
			Key:         "raise-threshold",
			Description: "require all three signers for routine changes",
			ExpiresAt:   clock.Now().Add(72 * time.Hour),
		}, raised)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, `[2] alice proposed "raise-threshold": global threshold 3 -> 4`)

	if err := runtime.Do(ctx, acctID, func(acct *account.Account) error {
		return multisig.Approve(acct, "raise-threshold", bob)
	}); err != nil {
		return err
	}
	fmt.Fprintln(out, "    bob approved (weight 1 of 3)")

	err = runtime.Do(ctx, acctID, func(acct *account.Account) error {
		_, err := multisig.Execute(acct, "raise-threshold")
		return err
	})
	fmt.Fprintf(out, "    execute attempt refused: %s\n", fault.CodeOf(err))

	if err := runtime.Do(ctx, acctID, func(acct *account.Account) error {
		return multisig.Approve(acct, "raise-threshold", alice)
	}); err != nil {
		return err
	}
	fmt.Fprintln(out, "    alice approved (weight 3 of 3)")

	var receipt account.Receipt
	if err := runtime.Do(ctx, acctID, func(acct *account.Account) error {
		exec, err := multisig.Execute(acct, "raise-threshold")
		if err != nil {
			return err
		}
		if err := multisig.ExecuteConfigUpdate(acct, exec); err != nil {
			return err
		}
		receipt, err = acct.ConfirmExecution(exec)
		return err
	}); err != nil {
		return err
	}
	fmt.Fprintf(out, "    executed; receipt %s\n\n", receipt.ContentHash)

	// -- timelocked upgrade -------------------------------------------------

	const pkgName = "router"
	digest := upgrades.DigestModules([]byte("router bytecode, second build"))

	if err := runtime.Do(ctx, acctID, func(acct *account.Account) error {
		auth, err := multisig.Authenticate(acct, alice)
		if err != nil {
			return err
		}
		return upgrades.LockCap(acct, auth, upgrades.Cap{
			PackageName: pkgName,
			PackageAddr: "covault:pkg:router",
			Version:     1,
			Policy:      upgrades.PolicyCompatible,
			Delay:       48 * time.Hour,
		})
	}); err != nil {
		return err
	}
	fmt.Fprintf(out, "[3] capability locked for package %q: policy compatible, 48h timelock\n", pkgName)

	if err := runtime.Do(ctx, acctID, func(acct *account.Account) error {
		auth, err := multisig.Authenticate(acct, alice)
		if err != nil {
			return err
		}
		return upgrades.RequestUpgrade(acct, auth, intents.Params{
			Key:         "router-v2",
			Description: "ship the rebuilt router",
			ExpiresAt:   clock.Now().Add(96 * time.Hour),
		}, multisig.NewApprovals(), pkgName, digest)
	}); err != nil {
		return err
	}
	if err := runtime.Do(ctx, acctID, func(acct *account.Account) error {
		return multisig.Approve(acct, "router-v2", alice)
	}); err != nil {
		return err
	}
	fmt.Fprintf(out, "    alice proposed and approved %q (role weight 2 meets the role threshold)\n", "router-v2")

	err = runtime.Do(ctx, acctID, func(acct *account.Account) error {
		exec, err := multisig.Execute(acct, "router-v2")
		if err != nil {
			return err
		}
		_, err = upgrades.ExecuteUpgrade(acct, exec)
		return err
	})
	fmt.Fprintf(out, "    execute attempt refused: %s (nothing consumed, the intent is retryable)\n", fault.CodeOf(err))

	clock.Advance(49 * time.Hour)
	fmt.Fprintln(out, "    ... 49 hours pass ...")

	if err := runtime.Do(ctx, acctID, func(acct *account.Account) error {
		exec, err := multisig.Execute(acct, "router-v2")
		if err != nil {
			return err
		}
		ticket, err := upgrades.ExecuteUpgrade(acct, exec)
		if err != nil {
			return err
		}
		if ticket.Digest != digest {
			return fmt.Errorf("ticket digest %s does not match the approved build", ticket.Digest)
		}
		if err := upgrades.ConfirmUpgrade(acct, exec, ticket, "covault:pkg:router:v2"); err != nil {
			return err
		}
		_, err = acct.ConfirmExecution(exec)
		return err
	}); err != nil {
		return err
	}

	if err := runtime.View(ctx, acctID, func(acct *account.Account) error {
		c, err := upgrades.CapOf(acct, pkgName)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "    upgraded: %s is now version %d at %s\n\n", pkgName, c.Version, c.PackageAddr)
		return nil
	}); err != nil {
		return err
	}

	// -- expiry sweep -------------------------------------------------------

	if err := runtime.Do(ctx, acctID, func(acct *account.Account) error {
		auth, err := multisig.Authenticate(acct, carol)
		if err != nil {
			return err
		}
		return multisig.RequestConfigUpdate(acct, auth, intents.Params{
			Key:         "abandoned-change",
			Description: "a proposal nobody came back for",
			ExpiresAt:   clock.Now().Add(time.Hour),
		}, policy)
	}); err != nil {
		return err
	}
	fmt.Fprintf(out, "[4] carol proposed %q, expiring in 1h\n", "abandoned-change")

	clock.Advance(2 * time.Hour)
	fmt.Fprintln(out, "    ... 2 hours pass ...")

	if err := runtime.Do(ctx, acctID, func(acct *account.Account) error {
		bundle, err := acct.DeleteExpired("abandoned-change")
		if err != nil {
			return err
		}
		if err := multisig.DeleteConfigUpdate(bundle); err != nil {
			return err
		}
		return bundle.Destroy()
	}); err != nil {
		return err
	}
	fmt.Fprintln(out, "    swept: the action drained, the intent is gone")
	fmt.Fprintln(out)

	return runtime.View(ctx, acctID, func(acct *account.Account) error {
		cfg, ok := acct.Config().(multisig.Config)
		if !ok {
			return fmt.Errorf("account is not multisig-governed")
		}
		fmt.Fprintf(out, "final state: global threshold %d, live intents %d, %s v%d\n",
			cfg.GlobalThreshold, len(acct.IntentKeys()), pkgName, 2)
		return nil
	})
}

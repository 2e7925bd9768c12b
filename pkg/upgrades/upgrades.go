// Package upgrades is the upgrade-policy engine: it locks a package
// upgrade capability in the account's vault behind a timelock and a
// monotonic restriction policy, and exposes the upgrade and restrict
// actions that flow through the intent lifecycle. The capability leaves
// the vault only for the execute-confirm window of an approved upgrade
// and only ever moves toward more restrictive policies, ending at
// immutable where it is destroyed for good.
package upgrades

import (
	"encoding/hex"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/crypto/blake2b"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/deps"
	"github.com/Covault-Labs/covault/core/pkg/fault"
	"github.com/Covault-Labs/covault/core/pkg/vault"
)

// Identity this package presents to the dependency gate.
const (
	PackageName = "covault_upgrades"
	PackageAddr = "covault:pkg:upgrades"
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

// Policy is the restriction stage of a tracked package. Values are
// ordered: a policy may only ever be replaced by a numerically greater
// one, and PolicyImmutable is terminal.
type Policy uint8

const (
	// PolicyCompatible permits any upgrade.
	PolicyCompatible Policy = 0
	// PolicyAdditive permits additions but no changes to existing code.
	PolicyAdditive Policy = 128
	// PolicyDepOnly permits changing dependencies only.
	PolicyDepOnly Policy = 192
	// PolicyImmutable forbids upgrades forever and destroys the
	// capability when applied.
	PolicyImmutable Policy = 255
)

func (p Policy) String() string {
	switch p {
	case PolicyCompatible:
		return "compatible"
	case PolicyAdditive:
		return "additive"
	case PolicyDepOnly:
		return "dep_only"
	case PolicyImmutable:
		return "immutable"
	default:
		return "invalid"
	}
}

func (p Policy) recognized() bool {
	return p == PolicyCompatible || p == PolicyAdditive || p == PolicyDepOnly || p == PolicyImmutable
}

// ParsePolicy is the inverse of String, for policy names arriving over
// configuration or API surfaces.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "compatible":
		return PolicyCompatible, nil
	case "additive":
		return PolicyAdditive, nil
	case "dep_only":
		return PolicyDepOnly, nil
	case "immutable":
		return PolicyImmutable, nil
	default:
		return 0, fault.Newf(fault.KindPolicy, fault.CodeInvalidPolicy, "unknown policy %q", s)
	}
}

// Restrict is the single allowed policy transition: next must be a
// recognized restriction target and strictly tighter than the current
// policy.
func Restrict(current, next Policy) error {
	if next != PolicyAdditive && next != PolicyDepOnly && next != PolicyImmutable {
		return fault.Newf(fault.KindPolicy, fault.CodeInvalidPolicy,
			"%d is not a recognized restriction target", uint8(next))
	}
	if next <= current {
		return fault.Newf(fault.KindPolicy, fault.CodePolicyNotRestrict,
			"policy may only tighten, %s does not restrict %s", next, current)
	}
	return nil
}

// Cap is the locked upgrade capability for one tracked package. It lives
// in the vault as an asset and leaves only while an approved upgrade is
// being performed.
type Cap struct {
	// PackageName is the human name the package is tracked under.
	PackageName string `json:"package_name"`
	// PackageAddr is the package's current address on the hosting
	// platform; upgrades move it.
	PackageAddr string `json:"package_addr"`
	Version     uint64 `json:"version"`
	Policy      Policy `json:"policy"`
	// Delay is the minimum time between requesting an upgrade and
	// being allowed to execute it.
	Delay time.Duration `json:"delay"`
}

// IndexEntry is the name-to-address index record kept as vault data. It
// outlives the capability: once a package goes immutable the entry stays,
// frozen, so the name can never be re-locked.
type IndexEntry struct {
	Addr    string `json:"addr"`
	Version uint64 `json:"version"`
	Frozen  bool   `json:"frozen,omitempty"`
}

func capKey(name string) vault.Key {
	return vault.Key{Module: "upgrades", Name: name}
}

func indexKey(name string) vault.Key {
	return vault.Key{Module: "upgrades.index", Name: name}
}

// DigestModules computes the hex BLAKE2b-256 digest of package bytecode,
// module by module in order. This is the digest an upgrade action pins.
func DigestModules(modules ...[]byte) string {
	h, _ := blake2b.New256(nil)
	for _, m := range modules {
		h.Write(m)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LockCap starts tracking a package: the capability goes into the vault
// under the package name and the name-to-address index entry is written.
// Fails AlreadyLocked if the name is tracked, or was ever driven to
// immutable.
func LockCap(acct *account.Account, auth account.Auth, c Cap) error {
	if err := acct.Authorize(auth); err != nil {
		return err
	}
	if c.PackageName == "" || c.PackageAddr == "" {
		return fault.New(fault.KindPolicy, fault.CodeInvalidConfig,
			"a capability needs a package name and address")
	}
	if !c.Policy.recognized() {
		return fault.Newf(fault.KindPolicy, fault.CodeInvalidPolicy,
			"%d is not a recognized policy", uint8(c.Policy))
	}
	if c.Policy == PolicyImmutable {
		return fault.New(fault.KindPolicy, fault.CodeInvalidPolicy,
			"an immutable package has nothing to lock")
	}
	if c.Delay < 0 {
		return fault.New(fault.KindPolicy, fault.CodeInvalidConfig, "delay must not be negative")
	}
	// The index entry survives capability destruction, so it is the
	// tombstone check too.
	if _, tracked, err := acct.Data(Proof(), indexKey(c.PackageName)); err != nil {
		return err
	} else if tracked {
		return fault.Newf(fault.KindStateConflict, fault.CodeAlreadyLocked,
			"package %q is already tracked", c.PackageName)
	}
	if err := acct.LockAsset(Proof(), capKey(c.PackageName), c); err != nil {
		return err
	}
	return acct.PutData(Proof(), indexKey(c.PackageName),
		IndexEntry{Addr: c.PackageAddr, Version: c.Version})
}

// HasCap reports whether the capability for name is present in the vault.
// Permanently false once the package has gone immutable.
func HasCap(acct *account.Account, name string) (bool, error) {
	return acct.HasAsset(Proof(), capKey(name))
}

// CapOf reads the locked capability.
func CapOf(acct *account.Account, name string) (Cap, error) {
	raw, err := acct.BorrowAsset(Proof(), capKey(name))
	if err != nil {
		return Cap{}, err
	}
	c, ok := raw.(Cap)
	if !ok {
		return Cap{}, fault.Newf(fault.KindStateConflict, fault.CodeReceiptMismatch,
			"asset under %q is not an upgrade capability", capKey(name))
	}
	return c, nil
}

// Index reads the name-to-address index entry for a package.
func Index(acct *account.Account, name string) (IndexEntry, bool, error) {
	raw, ok, err := acct.Data(Proof(), indexKey(name))
	if err != nil || !ok {
		return IndexEntry{}, false, err
	}
	entry, good := raw.(IndexEntry)
	if !good {
		return IndexEntry{}, false, fault.Newf(fault.KindStateConflict, fault.CodeReceiptMismatch,
			"data under %q is not an index entry", indexKey(name))
	}
	return entry, true, nil
}

// RegisterCodecs contributes this package's persistent types to a codec
// registry: the capability asset and the index entry.
func RegisterCodecs(reg *vault.Registry) {
	vault.RegisterJSON[Cap](reg)
	vault.RegisterJSON[IndexEntry](reg)
}

// Package deps maintains the per-account table of authorized packages. Every
// governed operation presents a version proof naming the package that issued
// it; the gate admits the call only when the proof matches a table entry
// exactly. Accounts opt in to upgrades by replacing the table through their
// own governance, so a compromised or unvetted package version cannot act on
// an account that never listed it.
package deps

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/Covault-Labs/covault/core/pkg/fault"
)

// CoreName is the dependency name under which the engine registers itself.
// Every table contains it; an account that could drop the engine would
// brick itself.
const CoreName = "covault_core"

// CoreAddr is the engine's own publish identity.
const CoreAddr = "covault:pkg:core"

var coreVersion = semver.MustParse("1.0.0")

// CoreRecord returns the engine's own dependency record, the entry every
// new table starts from.
func CoreRecord() Record {
	return Record{Name: CoreName, Addr: CoreAddr, Version: coreVersion}
}

// Record pins one authorized package: its human name, its address (the
// immutable publish identity, e.g. a content address), and the exact
// version the account trusts.
type Record struct {
	Name    string          `json:"name"`
	Addr    string          `json:"addr"`
	Version *semver.Version `json:"version"`
}

// VersionProof is presented by a package to pass the gate. Governance
// packages construct proofs for themselves; they cannot construct a proof
// for an address they do not control because the proof is checked against
// the caller's witness identity at the account layer.
type VersionProof struct {
	Name    string          `json:"name"`
	Addr    string          `json:"addr"`
	Version *semver.Version `json:"version"`
}

// Table is an immutable set of Records keyed by name and by address.
// Mutation goes through With, which returns a new Table.
type Table struct {
	records []Record
	byName  map[string]int
	byAddr  map[string]int
}

// NewTable builds a table from records. Duplicate names or addresses are
// rejected; a record with a nil version is rejected.
func NewTable(records ...Record) (*Table, error) {
	t := &Table{
		records: make([]Record, 0, len(records)),
		byName:  make(map[string]int, len(records)),
		byAddr:  make(map[string]int, len(records)),
	}
	for _, r := range records {
		if r.Name == "" || r.Addr == "" {
			return nil, fault.Newf(fault.KindDependency, fault.CodeInvalidConfig,
				"dependency record needs both name and addr, got name=%q addr=%q", r.Name, r.Addr)
		}
		if r.Version == nil {
			return nil, fault.Newf(fault.KindDependency, fault.CodeInvalidConfig,
				"dependency %q has no version", r.Name)
		}
		if _, dup := t.byName[r.Name]; dup {
			return nil, fault.Newf(fault.KindDependency, fault.CodeInvalidConfig,
				"duplicate dependency name %q", r.Name)
		}
		if _, dup := t.byAddr[r.Addr]; dup {
			return nil, fault.Newf(fault.KindDependency, fault.CodeInvalidConfig,
				"duplicate dependency addr %q", r.Addr)
		}
		t.byName[r.Name] = len(t.records)
		t.byAddr[r.Addr] = len(t.records)
		t.records = append(t.records, r)
	}
	return t, nil
}

// MustTable is NewTable that panics on error, for wiring code with
// compile-time constant records.
func MustTable(records ...Record) *Table {
	t, err := NewTable(records...)
	if err != nil {
		panic(err)
	}
	return t
}

// Get returns the record registered under name.
func (t *Table) Get(name string) (Record, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Record{}, false
	}
	return t.records[i], true
}

// GetByAddr returns the record registered under addr.
func (t *Table) GetByAddr(addr string) (Record, bool) {
	i, ok := t.byAddr[addr]
	if !ok {
		return Record{}, false
	}
	return t.records[i], true
}

// Contains reports whether a dependency with the given name is present.
func (t *Table) Contains(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.records) }

// Records returns a copy of the table's records sorted by name.
func (t *Table) Records() []Record {
	out := make([]Record, len(t.records))
	copy(out, t.records)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// With returns a new table holding the existing records overlaid with the
// given ones. A record whose Name matches an existing entry replaces it
// (this is how version bumps land); new names append.
func (t *Table) With(records ...Record) (*Table, error) {
	merged := make([]Record, len(t.records))
	copy(merged, t.records)
	for _, r := range records {
		if i, ok := t.byName[r.Name]; ok {
			merged[i] = r
			continue
		}
		merged = append(merged, r)
	}
	return NewTable(merged...)
}

// Without returns a new table with the named record removed. Removing
// CoreName is refused.
func (t *Table) Without(name string) (*Table, error) {
	if name == CoreName {
		return nil, fault.New(fault.KindDependency, fault.CodeInvalidConfig,
			"the core dependency cannot be removed")
	}
	kept := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		if r.Name != name {
			kept = append(kept, r)
		}
	}
	return NewTable(kept...)
}

// Check gates a version proof against the table. The proof must match a
// record on all three of name, addr, and exact version. Proofs carrying a
// different version of a known package fail the same way as unknown
// packages do: the account only ever trusts the pinned triple.
func (t *Table) Check(proof VersionProof) error {
	if proof.Version == nil {
		return fault.Newf(fault.KindDependency, fault.CodeUnknownDependency,
			"version proof for %q carries no version", proof.Name)
	}
	rec, ok := t.Get(proof.Name)
	if !ok {
		return fault.Newf(fault.KindDependency, fault.CodeUnknownDependency,
			"no dependency %q in the account table", proof.Name)
	}
	if rec.Addr != proof.Addr {
		return fault.Newf(fault.KindDependency, fault.CodeUnknownDependency,
			"dependency %q is registered at %s, proof claims %s", proof.Name, rec.Addr, proof.Addr)
	}
	if !rec.Version.Equal(proof.Version) {
		return fault.Newf(fault.KindDependency, fault.CodeUnknownDependency,
			"dependency %q is pinned at %s, proof claims %s", proof.Name, rec.Version, proof.Version)
	}
	return nil
}

// ParseRecord builds a Record from a name, addr, and semver string.
func ParseRecord(name, addr, version string) (Record, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return Record{}, fmt.Errorf("deps: parse version %q for %s: %w", version, name, err)
	}
	return Record{Name: name, Addr: addr, Version: v}, nil
}

// ProofFor derives the version proof asserting exactly what the table pins
// for name. Governance packages bundled with the engine use this to speak
// for themselves.
func (t *Table) ProofFor(name string) (VersionProof, error) {
	rec, ok := t.Get(name)
	if !ok {
		return VersionProof{}, fault.Newf(fault.KindDependency, fault.CodeUnknownDependency,
			"no dependency %q in the account table", name)
	}
	return VersionProof{Name: rec.Name, Addr: rec.Addr, Version: rec.Version}, nil
}

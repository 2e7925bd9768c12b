package witness

import "testing"

type sampleMarker struct{}

type otherMarker struct{}

func TestOfNamedType(t *testing.T) {
	id := Of(sampleMarker{})
	want := TypeID("github.com/Covault-Labs/covault/core/pkg/witness.sampleMarker")
	if id != want {
		t.Fatalf("Of = %q, want %q", id, want)
	}
}

func TestOfDereferencesPointers(t *testing.T) {
	if Of(&sampleMarker{}) != Of(sampleMarker{}) {
		t.Fatal("*T and T must share one identity")
	}
}

func TestForMatchesOf(t *testing.T) {
	if For[sampleMarker]() != Of(sampleMarker{}) {
		t.Fatal("For[T] and Of(T{}) must agree")
	}
	if For[*sampleMarker]() != Of(&sampleMarker{}) {
		t.Fatal("For[*T] and Of(&T{}) must agree")
	}
	if For[*sampleMarker]() != For[sampleMarker]() {
		t.Fatal("pointer and value types must share one identity")
	}
}

func TestDistinctTypesDistinctIDs(t *testing.T) {
	if Of(sampleMarker{}) == Of(otherMarker{}) {
		t.Fatal("different marker types must not collide")
	}
}

func TestModuleAndName(t *testing.T) {
	id := For[sampleMarker]()
	if got := id.Module(); got != "github.com/Covault-Labs/covault/core/pkg/witness" {
		t.Fatalf("Module = %q", got)
	}
	if got := id.Name(); got != "sampleMarker" {
		t.Fatalf("Name = %q", got)
	}
}

func TestMatches(t *testing.T) {
	id := For[sampleMarker]()
	if !id.Matches(sampleMarker{}) {
		t.Fatal("Matches should accept the defining type")
	}
	if id.Matches(otherMarker{}) {
		t.Fatal("Matches must reject a different type")
	}
}

func TestOfNil(t *testing.T) {
	if Of(nil) != "" {
		t.Fatal("nil has no identity")
	}
}

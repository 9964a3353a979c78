package plugin

import (
	"strings"
	"testing"

	"gumshoe/internal/execute"
)

type fakePlugin struct {
	desc Descriptor
}

func (f *fakePlugin) Descriptor() Descriptor { return f.desc }

func (f *fakePlugin) BuildInvocation(target, category string, params map[string]string) (execute.Command, error) {
	return execute.Command{Binary: "fake"}, nil
}

func (f *fakePlugin) ParseOutput(raw, target, category string) *ParsedData {
	return &ParsedData{Target: target, Category: category}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register(&fakePlugin{desc: Descriptor{Categories: []string{CategoryWebsite}}})
	if err == nil || !strings.Contains(err.Error(), "empty id") {
		t.Errorf("empty id accepted: %v", err)
	}

	err = r.Register(&fakePlugin{desc: Descriptor{ID: "nocat"}})
	if err == nil || !strings.Contains(err.Error(), "no categories") {
		t.Errorf("missing categories accepted: %v", err)
	}

	ok := &fakePlugin{desc: Descriptor{ID: "dup", Categories: []string{CategoryWebsite}}}
	if err := r.Register(ok); err != nil {
		t.Fatalf("valid register failed: %v", err)
	}
	if err := r.Register(ok); err == nil {
		t.Error("duplicate id accepted")
	}
}

func TestForCategory(t *testing.T) {
	r := NewRegistry()
	for _, d := range []Descriptor{
		{ID: "web-only", Categories: []string{CategoryWebsite}},
		{ID: "people-only", Categories: []string{CategoryPeople}},
		{ID: "both", Categories: []string{CategoryWebsite, CategoryPeople}},
	} {
		if err := r.Register(&fakePlugin{desc: d}); err != nil {
			t.Fatalf("register %s: %v", d.ID, err)
		}
	}

	got := r.ForCategory(CategoryWebsite)
	if len(got) != 2 {
		t.Fatalf("website plugins = %d, want 2", len(got))
	}
	if got[0].Descriptor().ID != "web-only" || got[1].Descriptor().ID != "both" {
		t.Error("registration order not preserved")
	}
}

func TestChainCandidatesOrdering(t *testing.T) {
	r := NewRegistry()
	for _, d := range []Descriptor{
		{ID: "low", Categories: []string{CategoryWebsite}, Consumes: []string{TypeDomain}, ChainPriority: 2},
		{ID: "tie-first", Categories: []string{CategoryWebsite}, Consumes: []string{TypeDomain}, ChainPriority: 8},
		{ID: "tie-second", Categories: []string{CategoryWebsite}, Consumes: []string{TypeDomain}, ChainPriority: 8},
		{ID: "wrong-type", Categories: []string{CategoryWebsite}, Consumes: []string{TypeEmail}, ChainPriority: 9},
		{ID: "wrong-category", Categories: []string{CategoryPeople}, Consumes: []string{TypeDomain}, ChainPriority: 9},
	} {
		if err := r.Register(&fakePlugin{desc: d}); err != nil {
			t.Fatalf("register %s: %v", d.ID, err)
		}
	}

	got := r.ChainCandidates(TypeDomain, CategoryWebsite)
	var ids []string
	for _, p := range got {
		ids = append(ids, p.Descriptor().ID)
	}

	want := []string{"tie-first", "tie-second", "low"}
	if len(ids) != len(want) {
		t.Fatalf("candidates = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("candidates = %v, want %v", ids, want)
		}
	}
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	for _, id := range []string{"nmap", "theharvester", "whois"} {
		if _, ok := r.Get(id); !ok {
			t.Errorf("builtin %s missing", id)
		}
	}
}

func TestDescriptorConfidenceFallback(t *testing.T) {
	d := Descriptor{BaseConfidence: map[string]float64{TypeEmail: 0.8}}
	if d.Confidence(TypeEmail) != 0.8 {
		t.Error("declared confidence not returned")
	}
	if d.Confidence(TypePerson) != 0.5 {
		t.Error("undeclared type must fall back to 0.5")
	}
}

package core

import (
	"context"
	"encoding/json"
	"testing"
)

type stubTool struct {
	name     string
	readOnly bool
}

func (s stubTool) Spec() ToolSpec {
	return ToolSpec{Name: s.name, Description: "stub", IsReadOnly: s.readOnly}
}

func (s stubTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	return ToolOutput{Content: s.name + " ran"}, nil
}

func (s stubTool) Preview(input json.RawMessage) string { return s.name }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "read_file", readOnly: true})

	got, ok := r.Get("read_file")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Spec().Name != "read_file" {
		t.Fatalf("Name = %q, want %q", got.Spec().Name, "read_file")
	}

	if _, ok := r.Get("missing"); ok {
		t.Fatal("Get(missing) ok = true, want false")
	}
}

func TestRegistryUnregisterRemovesTool(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "shell"})
	r.Unregister("shell")

	if _, ok := r.Get("shell"); ok {
		t.Fatal("tool still present after Unregister")
	}
}

func TestRegistryAllSpecsIncludesEveryTool(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "a"})
	r.Register(stubTool{name: "b"})

	specs := r.AllSpecs()
	if len(specs) != 2 {
		t.Fatalf("len(specs) = %d, want 2", len(specs))
	}
	names := map[string]bool{}
	for _, s := range specs {
		names[s.Name] = true
	}
	if !names["a"] || !names["b"] {
		t.Fatalf("AllSpecs() missing names: %+v", specs)
	}
}

func TestRegistrySubsetOnlyIncludesNamedTools(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "read_file"})
	r.Register(stubTool{name: "shell"})
	r.Register(stubTool{name: "grep"})

	sub := r.Subset([]string{"read_file", "grep", "nonexistent"})

	if _, ok := sub.Get("read_file"); !ok {
		t.Fatal("Subset missing read_file")
	}
	if _, ok := sub.Get("grep"); !ok {
		t.Fatal("Subset missing grep")
	}
	if _, ok := sub.Get("shell"); ok {
		t.Fatal("Subset included shell, should have been excluded")
	}
	if len(sub.AllSpecs()) != 2 {
		t.Fatalf("len(sub.AllSpecs()) = %d, want 2", len(sub.AllSpecs()))
	}
}

func TestRegistrySubsetIsIndependentOfOriginal(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "read_file"})
	sub := r.Subset([]string{"read_file"})

	r.Unregister("read_file")

	if _, ok := sub.Get("read_file"); !ok {
		t.Fatal("Subset mutated by later changes to the original registry")
	}
}

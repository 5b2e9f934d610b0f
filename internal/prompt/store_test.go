package prompt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "prompts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"system_message", SystemMessage, true},
		{"System Message", SystemMessage, true},
		{"Lead Discovery", LeadDiscovery, true},
		{" knowledge base ", KnowledgeBase, true},
		{"use_rag_prompt", KnowledgeBase, true},
		{"formatting", "", false},
	}
	for _, tt := range tests {
		got, ok := Canonical(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Canonical(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPutCreatesVersionsAndMovesLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, err := s.Put(ctx, "System Message", "first", "production")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v1.Version != 1 || v1.Name != SystemMessage {
		t.Fatalf("v1 = %+v", v1)
	}
	v2, err := s.Put(ctx, SystemMessage, "second")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v2.Version != 2 {
		t.Fatalf("v2.Version = %d", v2.Version)
	}

	latest, err := s.Get(ctx, SystemMessage, "")
	if err != nil {
		t.Fatalf("Get latest: %v", err)
	}
	if latest.Content != "second" {
		t.Fatalf("latest content = %q", latest.Content)
	}
	prod, err := s.Get(ctx, SystemMessage, "production")
	if err != nil {
		t.Fatalf("Get production: %v", err)
	}
	if prod.Version != 1 || !slices.Contains(prod.Labels, "production") {
		t.Fatalf("production = %+v", prod)
	}

	versions, err := s.Versions(ctx, SystemMessage)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 2 {
		t.Fatalf("versions = %+v", versions)
	}
	if !slices.Contains(versions[0].Labels, LabelLatest) || slices.Contains(versions[1].Labels, LabelLatest) {
		t.Fatalf("latest label not moved: %v / %v", versions[0].Labels, versions[1].Labels)
	}
}

func TestGetErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, LeadDiscovery, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(ctx, "nope", ""); !errors.Is(err, ErrUnknownName) {
		t.Fatalf("expected ErrUnknownName, got %v", err)
	}
	if _, err := s.Put(ctx, "nope", "x"); !errors.Is(err, ErrUnknownName) {
		t.Fatalf("expected ErrUnknownName from Put, got %v", err)
	}

	got, err := s.Content(ctx, LeadDiscovery, "fallback")
	if err != nil || got != "fallback" {
		t.Fatalf("Content = %q, %v", got, err)
	}
}

func TestNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	names, err := s.Names(ctx)
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no names, got %v", names)
	}
	_, _ = s.Put(ctx, KnowledgeBase, "kb")
	_, _ = s.Put(ctx, SystemMessage, "sys")
	names, err = s.Names(ctx)
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if !slices.Equal(names, []string{KnowledgeBase, SystemMessage}) {
		t.Fatalf("names = %v", names)
	}
}

func TestSeedFromFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	yaml := "prompts:\n  system_message: |\n    from file\n  Lead Discovery: lead from file\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seeds, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile: %v", err)
	}

	// An existing prompt is never overwritten by seeding.
	if _, err := s.Put(ctx, KnowledgeBase, "edited by admin"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	n, err := Seed(ctx, s, seeds, logger)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 2 {
		t.Fatalf("seeded %d prompts, want 2", n)
	}

	sys, _ := s.Content(ctx, SystemMessage, "")
	if sys != "from file\n" {
		t.Fatalf("system_message = %q", sys)
	}
	lead, _ := s.Content(ctx, LeadDiscovery, "")
	if lead != "lead from file" {
		t.Fatalf("lead_discovery = %q", lead)
	}
	kb, _ := s.Content(ctx, KnowledgeBase, "")
	if kb != "edited by admin" {
		t.Fatalf("knowledge_base = %q", kb)
	}

	n, err = Seed(ctx, s, seeds, logger)
	if err != nil || n != 0 {
		t.Fatalf("second Seed = %d, %v", n, err)
	}
}

func TestSeedUsesDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := Seed(ctx, s, nil, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	for _, name := range KnownNames() {
		got, err := s.Content(ctx, name, "")
		if err != nil {
			t.Fatalf("Content(%s): %v", name, err)
		}
		if got != DefaultSeeds[name] {
			t.Fatalf("%s = %q", name, got)
		}
	}
}

func TestLoadSeedFileRejectsUnknownName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("prompts:\n  formatting: x\n"), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := LoadSeedFile(path); !errors.Is(err, ErrUnknownName) {
		t.Fatalf("expected ErrUnknownName, got %v", err)
	}
}

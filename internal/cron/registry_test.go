package cron

import (
	"context"
	"testing"
)

type namedJob string

func (n namedJob) Name() string              { return string(n) }
func (n namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndSkipsNil(t *testing.T) {
	registry, err := NewRegistry(namedJob("sweep"), nil, namedJob("heartbeat"))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	names := registry.Names()
	if len(names) != 2 || names[0] != "sweep" || names[1] != "heartbeat" {
		t.Fatalf("unexpected names %v", names)
	}

	jobs := registry.Jobs()
	jobs[0] = namedJob("mutated")
	if registry.Jobs()[0].Name() != "sweep" {
		t.Fatal("Jobs must return a copy")
	}
}

func TestRegistryRejectsDuplicatesAndBlankNames(t *testing.T) {
	if _, err := NewRegistry(namedJob("sweep"), namedJob("sweep")); err == nil {
		t.Fatal("expected duplicate name to fail")
	}

	var registry Registry
	if err := registry.Register(namedJob("  ")); err == nil {
		t.Fatal("expected blank name to fail")
	}
	if err := registry.Register(nil); err == nil {
		t.Fatal("expected nil job to fail")
	}
	if err := registry.Register(namedJob("ok")); err != nil {
		t.Fatalf("zero registry should accept jobs: %v", err)
	}
}

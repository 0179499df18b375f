package app

import (
	"context"
	"testing"
	"time"

	"github.com/hearthside/household-scheduler/internal/config"
	"github.com/hearthside/household-scheduler/internal/domain"
	"github.com/hearthside/household-scheduler/internal/store"
)

func testApp(t *testing.T, cfg config.Config) (*Application, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(cfg, s, nil), s
}

func TestApplicationRunCancel(t *testing.T) {
	cfg := config.Config{
		BindAddress:       "127.0.0.1:0",
		ExpandDaysAhead:   7,
		DetectWindowHours: 48,
		MaintenanceSpec:   "@every 1h",
	}
	a, _ := testApp(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestApplicationRunBadCronSpec(t *testing.T) {
	cfg := config.Config{BindAddress: "127.0.0.1:0", MaintenanceSpec: "every hour or so"}
	a, _ := testApp(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Run(ctx); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestMaintainExpandsAndDetects(t *testing.T) {
	cfg := config.Config{ExpandDaysAhead: 7, DetectWindowHours: 48}
	a, s := testApp(t, cfg)
	ctx := context.Background()

	now := time.Now().UTC()
	tmpl := domain.EventTemplate{
		Title: "Piano lesson",
		Start: now.Add(2 * time.Hour),
		End:   now.Add(3 * time.Hour),
		Rule:  domain.RecurrenceDaily,
	}
	if err := s.Events.CreateTemplate(ctx, &tmpl); err != nil {
		t.Fatal(err)
	}
	// An overlapping standalone event for the same person.
	inst := domain.EventInstance{
		Title:      "Errand",
		AssignedTo: "kim",
		Start:      now.Add(2 * time.Hour),
		End:        now.Add(4 * time.Hour),
	}
	if _, err := s.Events.CreateInstance(ctx, &inst); err != nil {
		t.Fatal(err)
	}
	assignee := "kim"
	if err := s.Events.UpdateTemplate(ctx, tmpl.ID, store.TemplateUpdate{AssignedTo: &assignee}); err != nil {
		t.Fatal(err)
	}

	a.Maintain(ctx)

	instances, err := s.Events.InstancesByTemplate(ctx, tmpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 8 {
		t.Fatalf("sweep materialized %d instances, want 8", len(instances))
	}
	active, err := s.Conflicts.List(ctx, domain.ConflictActive, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) == 0 {
		t.Fatal("sweep should have recorded the overlap conflict")
	}

	// A second sweep changes nothing: expansion and recording are idempotent.
	a.Maintain(ctx)
	again, err := s.Conflicts.List(ctx, domain.ConflictActive, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != len(active) {
		t.Fatalf("active conflicts grew from %d to %d", len(active), len(again))
	}
}

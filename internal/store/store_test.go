package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hearthside/household-scheduler/internal/domain"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTemplateRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tmpl := domain.EventTemplate{
		Title:          "Soccer practice",
		Location:       "Community park",
		Category:       "sports",
		Start:          time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC),
		End:            time.Date(2026, 1, 5, 17, 30, 0, 0, time.UTC),
		Rule:           domain.RecurrenceCustomDays,
		RecurrenceDays: []time.Weekday{time.Monday, time.Wednesday},
		RecurrenceEnd:  &end,
		AssignedTo:     "dana",
		Equipment:      []string{"cleats"},
		Checklist:      []domain.ChecklistItem{{ID: "water", Text: "Pack water bottle"}},
	}
	if err := s.Events.CreateTemplate(ctx, &tmpl); err != nil {
		t.Fatal(err)
	}
	got, err := s.Events.TemplateByID(ctx, tmpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Soccer practice" || got.Rule != domain.RecurrenceCustomDays {
		t.Fatalf("unexpected template: %+v", got)
	}
	if len(got.RecurrenceDays) != 2 || got.RecurrenceDays[0] != time.Monday {
		t.Fatalf("recurrence days not preserved: %v", got.RecurrenceDays)
	}
	if got.RecurrenceEnd == nil || !got.RecurrenceEnd.Equal(end) {
		t.Fatalf("recurrence end not preserved: %v", got.RecurrenceEnd)
	}
	if got.Duration() != 90*time.Minute {
		t.Fatalf("duration = %v", got.Duration())
	}
}

func TestTemplateValidation(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	bad := domain.EventTemplate{
		Title: "No days",
		Start: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
		Rule:  domain.RecurrenceCustomDays,
	}
	err := s.Events.CreateTemplate(ctx, &bad)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTemplateNotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.Events.TemplateByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInstanceUniquePerTemplateDate(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	first := domain.EventInstance{
		TemplateID:   "tpl-1",
		InstanceDate: "2026-01-05",
		Title:        "Practice",
		Start:        time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 1, 5, 17, 0, 0, 0, time.UTC),
	}
	created, err := s.Events.CreateInstance(ctx, &first)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	dup := first
	dup.ID = ""
	created, err = s.Events.CreateInstance(ctx, &dup)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("duplicate (template, date) insert should be a no-op")
	}

	// Standalone instances carry no template key and never collide.
	a := domain.EventInstance{Title: "One-off", Start: first.Start, End: first.End}
	b := domain.EventInstance{Title: "Another", Start: first.Start, End: first.End}
	if created, err = s.Events.CreateInstance(ctx, &a); err != nil || !created {
		t.Fatalf("standalone a: created=%v err=%v", created, err)
	}
	if created, err = s.Events.CreateInstance(ctx, &b); err != nil || !created {
		t.Fatalf("standalone b: created=%v err=%v", created, err)
	}
}

func TestInstancesInRange(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		inst := domain.EventInstance{
			Title: "E",
			Start: base.AddDate(0, 0, i),
			End:   base.AddDate(0, 0, i).Add(time.Hour),
		}
		if _, err := s.Events.CreateInstance(ctx, &inst); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Events.InstancesInRange(ctx, base, base.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 instances in range, got %d", len(got))
	}
	if got[0].Start.After(got[1].Start) {
		t.Fatal("instances not ordered by start")
	}
}

func TestUpdateFutureInstancesDescriptiveOnly(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	past := domain.EventInstance{
		TemplateID: "tpl-2", InstanceDate: "2020-01-01", Title: "Old",
		Start: time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	future := domain.EventInstance{
		TemplateID: "tpl-2", InstanceDate: "2099-01-01", Title: "Old",
		Start: time.Date(2099, 1, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2099, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	for _, e := range []*domain.EventInstance{&past, &future} {
		if _, err := s.Events.CreateInstance(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	title := "New title"
	n, err := s.Events.UpdateFutureInstances(ctx, "tpl-2", "2026-01-01", TemplateUpdate{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row updated, got %d", n)
	}
	got, _ := s.Events.InstanceByID(ctx, future.ID)
	if got.Title != "New title" {
		t.Fatalf("future instance title = %q", got.Title)
	}
	if !got.Start.Equal(future.Start) {
		t.Fatal("timestamps must not change on propagation")
	}
	old, _ := s.Events.InstanceByID(ctx, past.ID)
	if old.Title != "Old" {
		t.Fatal("past instance must not be touched")
	}
}

func TestTaskCompletionGuards(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	task := domain.Task{Title: "Renew passport", DueDate: time.Now(), Type: domain.TaskSimple}
	if err := s.Tasks.Create(ctx, &task); err != nil {
		t.Fatal(err)
	}
	if err := s.Tasks.MarkCompleted(ctx, task.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	err := s.Tasks.MarkCompleted(ctx, task.ID, time.Now())
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second completion should be invalid state, got %v", err)
	}
	err = s.Tasks.MarkCompleted(ctx, "missing", time.Now())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTaskLinksAreSingleValued(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	task := domain.Task{Title: "Water plants", DueDate: time.Now(), Type: domain.TaskRecurring}
	if err := s.Tasks.Create(ctx, &task); err != nil {
		t.Fatal(err)
	}
	if err := s.Tasks.LinkSuccessor(ctx, task.ID, "next-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Tasks.LinkSuccessor(ctx, task.ID, "next-2"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second successor should be refused, got %v", err)
	}
	if err := s.Tasks.LinkEvent(ctx, task.ID, "ev-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Tasks.LinkEvent(ctx, task.ID, "ev-2"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second event link should be refused, got %v", err)
	}
	got, err := s.Tasks.ByID(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NextInstanceID != "next-1" || got.LinkedEventID != "ev-1" {
		t.Fatalf("links = %q %q", got.NextInstanceID, got.LinkedEventID)
	}
}

func TestConflictInsertDeduplicates(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	c := domain.Conflict{
		Type:           domain.ConflictTimeOverlap,
		Severity:       domain.SeverityHigh,
		Title:          "Double-booked person",
		AffectedEvents: []string{"e2", "e1"},
	}
	id1, created, err := s.Conflicts.Insert(ctx, &c)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	// Same set in a different order is the same conflict.
	again := domain.Conflict{
		Type:           domain.ConflictTimeOverlap,
		Severity:       domain.SeverityHigh,
		Title:          "Double-booked person",
		AffectedEvents: []string{"e1", "e2"},
	}
	id2, created, err := s.Conflicts.Insert(ctx, &again)
	if err != nil {
		t.Fatal(err)
	}
	if created || id2 != id1 {
		t.Fatalf("expected dedup to existing %s, got %s created=%v", id1, id2, created)
	}
	// A different type over the same events is a distinct conflict.
	other := domain.Conflict{
		Type:           domain.ConflictResourceContention,
		Severity:       domain.SeverityMedium,
		Title:          "Resource double-booked",
		AffectedEvents: []string{"e1", "e2"},
	}
	_, created, err = s.Conflicts.Insert(ctx, &other)
	if err != nil || !created {
		t.Fatalf("different type should insert: created=%v err=%v", created, err)
	}
}

func TestConflictTransitionsTerminal(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	c := domain.Conflict{Type: domain.ConflictTravelTime, Severity: domain.SeverityMedium, Title: "T", AffectedEvents: []string{"a", "b"}}
	id, _, err := s.Conflicts.Insert(ctx, &c)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.Conflicts.Transition(ctx, id, domain.ConflictAcknowledged, "sam")
	if err != nil || !ok {
		t.Fatalf("acknowledge: ok=%v err=%v", ok, err)
	}
	ok, err = s.Conflicts.Transition(ctx, id, domain.ConflictIgnored, "sam")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("acknowledged conflict must not transition again")
	}
	got, err := s.Conflicts.ByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ConflictAcknowledged || got.ResolvedBy != "sam" || got.ResolvedAt == nil {
		t.Fatalf("unexpected conflict after transition: %+v", got)
	}

	// Once terminal, a new active conflict for the same key may be raised.
	fresh := domain.Conflict{Type: domain.ConflictTravelTime, Severity: domain.SeverityMedium, Title: "T", AffectedEvents: []string{"a", "b"}}
	_, created, err := s.Conflicts.Insert(ctx, &fresh)
	if err != nil || !created {
		t.Fatalf("re-raise after terminal: created=%v err=%v", created, err)
	}
}

func TestConflictListOrderAndStats(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	insert := func(typ domain.ConflictType, sev domain.Severity, events ...string) string {
		c := domain.Conflict{Type: typ, Severity: sev, Title: string(typ), AffectedEvents: events}
		id, _, err := s.Conflicts.Insert(ctx, &c)
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	insert(domain.ConflictResourceContention, domain.SeverityMedium, "m1", "m2")
	critID := insert(domain.ConflictUnassignedCritical, domain.SeverityCritical, "c1")
	insert(domain.ConflictTimeOverlap, domain.SeverityHigh, "h1", "h2")

	list, err := s.Conflicts.List(ctx, domain.ConflictActive, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != critID {
		t.Fatalf("expected critical first of 3, got %+v", list)
	}
	limited, err := s.Conflicts.List(ctx, "", 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("limit: len=%d err=%v", len(limited), err)
	}

	if ok, err := s.Conflicts.Resolve(ctx, critID, domain.Resolution{}, "sam"); err != nil || !ok {
		t.Fatalf("resolve: ok=%v err=%v", ok, err)
	}
	stats, err := s.Conflicts.Stats(ctx, time.Now().AddDate(0, 0, -1), "week")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.ByStatus[domain.ConflictResolved] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.ResolutionRate < 0.33 || stats.ResolutionRate > 0.34 {
		t.Fatalf("resolution rate = %f", stats.ResolutionRate)
	}
}

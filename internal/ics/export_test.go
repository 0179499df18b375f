package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/hearthside/household-scheduler/internal/domain"
)

func TestExport(t *testing.T) {
	start := time.Date(2026, 6, 1, 16, 0, 0, 0, time.UTC)
	instances := []domain.EventInstance{
		{
			ID:          "inst-1",
			Title:       "Soccer practice",
			Description: "Bring shin guards",
			Location:    "Community park",
			AssignedTo:  "kim",
			Start:       start,
			End:         start.Add(90 * time.Minute),
			UpdatedAt:   start.Add(-24 * time.Hour),
		},
		{
			ID:    "inst-2",
			Title: "Trash night",
			Start: start.AddDate(0, 0, 1),
			End:   start.AddDate(0, 0, 1).Add(15 * time.Minute),
		},
	}
	out := Export("Household Schedule", instances)

	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"METHOD:PUBLISH",
		"X-WR-CALNAME:Household Schedule",
		"UID:inst-1",
		"SUMMARY:Soccer practice",
		"DTSTART:20260601T160000Z",
		"DTEND:20260601T173000Z",
		"LOCATION:Community park",
		"UID:inst-2",
		"SUMMARY:Trash night",
		"END:VCALENDAR",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("serialized calendar missing %q:\n%s", want, out)
		}
	}
	if got := strings.Count(out, "BEGIN:VEVENT"); got != 2 {
		t.Fatalf("expected 2 events, found %d", got)
	}
	// Optional fields stay out when empty.
	if strings.Contains(out, "LOCATION:\r\n") {
		t.Fatal("empty location should not be emitted")
	}
}

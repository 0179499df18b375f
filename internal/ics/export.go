// Package ics serializes materialized event instances into an iCalendar
// feed so external calendar apps can subscribe to the household schedule.
package ics

import (
	ical "github.com/arran4/golang-ical"

	"github.com/hearthside/household-scheduler/internal/domain"
)

// Export renders the instances as a VCALENDAR. The feed is read-only by
// construction; edits flow through the API, never back through ICS.
func Export(name string, instances []domain.EventInstance) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(name)
	for _, e := range instances {
		ev := cal.AddEvent(e.ID)
		ev.SetSummary(e.Title)
		ev.SetStartAt(e.Start)
		ev.SetEndAt(e.End)
		ev.SetDtStampTime(e.UpdatedAt)
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		if e.AssignedTo != "" {
			ev.AddAttendee(e.AssignedTo)
		}
	}
	return cal.Serialize()
}

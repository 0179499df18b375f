// Package conflict scans materialized schedules for problems and tracks the
// lifecycle of what it finds.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hearthside/household-scheduler/internal/domain"
	"github.com/hearthside/household-scheduler/internal/store"
)

// TravelEstimator guesses the minutes needed to move between two named
// locations. The default is a coarse text heuristic, not routing; callers
// with real geodata can swap in their own.
type TravelEstimator func(from, to string) time.Duration

const (
	travelSameArea  = 5 * time.Minute
	travelSameCity  = 20 * time.Minute
	travelDefault   = 15 * time.Minute
	travelHighDelta = 30 * time.Minute

	unassignedCriticalWindow = 4 * time.Hour
	unassignedUrgentWindow   = 24 * time.Hour
)

var venueKeywords = []string{"downtown", "mall", "school", "park", "center", "library"}

var criticalKeywords = []string{
	"doctor", "appointment", "medical", "dentist", "hospital",
	"school", "meeting", "interview", "presentation",
	"pickup", "drop-off", "daycare", "babysitter",
}

// EstimateTravelTime is the default TravelEstimator: identical locations cost
// nothing, one containing the other's text counts as the same area, two
// venue-keyword locations count as a cross-town trip, everything else gets a
// flat default.
func EstimateTravelTime(from, to string) time.Duration {
	if from == "" || to == "" {
		return travelDefault
	}
	a, b := strings.ToLower(from), strings.ToLower(to)
	if a == b {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return travelSameArea
	}
	if containsAny(a, venueKeywords) && containsAny(b, venueKeywords) {
		return travelSameCity
	}
	return travelDefault
}

type Detector struct {
	events *store.EventStore
	tasks  *store.TaskStore
	travel TravelEstimator
	log    *slog.Logger
	now    func() time.Time
}

type DetectorOptions struct {
	Events *store.EventStore
	Tasks  *store.TaskStore
	Travel TravelEstimator
	Logger *slog.Logger
}

func NewDetector(opts DetectorOptions) *Detector {
	travel := opts.Travel
	if travel == nil {
		travel = EstimateTravelTime
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{events: opts.Events, tasks: opts.Tasks, travel: travel, log: logger, now: time.Now}
}

// Detect runs the four passes over every instance starting inside
// [from, to] and returns the raw candidates. Nothing is persisted here;
// Manager.RecordAll deduplicates and stores them. The passes are independent
// and their order does not affect the result set.
func (d *Detector) Detect(ctx context.Context, from, to time.Time) ([]domain.Conflict, error) {
	events, err := d.events.InstancesInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	tasks, err := d.tasks.DueInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	var out []domain.Conflict
	out = append(out, d.timeOverlaps(events)...)
	out = append(out, d.travelConflicts(events)...)
	out = append(out, d.resourceConflicts(events)...)
	out = append(out, d.unassignedCritical(events)...)
	out = append(out, d.unassignedTasks(tasks)...)
	d.log.Debug("detection pass complete", "events", len(events), "tasks", len(tasks), "candidates", len(out))
	return out, nil
}

// timeOverlaps flags pairs of instances with the same non-empty assignee
// whose [start,end) intervals intersect.
func (d *Detector) timeOverlaps(events []domain.EventInstance) []domain.Conflict {
	var out []domain.Conflict
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			a, b := events[i], events[j]
			if a.AssignedTo == "" || a.AssignedTo != b.AssignedTo || !a.Overlaps(b) {
				continue
			}
			out = append(out, domain.Conflict{
				Type:     domain.ConflictTimeOverlap,
				Severity: domain.SeverityHigh,
				Title:    "Double-booked person",
				Description: fmt.Sprintf("%s is assigned to overlapping events %q and %q",
					a.AssignedTo, a.Title, b.Title),
				AffectedEvents: []string{a.ID, b.ID},
				AffectedUsers:  []string{a.AssignedTo},
				Suggestions:    suggestionsByType[domain.ConflictTimeOverlap],
			})
		}
	}
	return out
}

// travelConflicts walks each assignee's day in start order and flags
// consecutive events at distinct locations whose gap is shorter than the
// estimated travel time. Deficits over 30 minutes are high severity.
func (d *Detector) travelConflicts(events []domain.EventInstance) []domain.Conflict {
	byPerson := map[string][]domain.EventInstance{}
	for _, e := range events {
		if e.AssignedTo != "" && e.Location != "" {
			byPerson[e.AssignedTo] = append(byPerson[e.AssignedTo], e)
		}
	}
	var out []domain.Conflict
	for person, list := range byPerson {
		sort.Slice(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
		for i := 0; i < len(list)-1; i++ {
			cur, next := list[i], list[i+1]
			if strings.EqualFold(cur.Location, next.Location) {
				continue
			}
			available := next.Start.Sub(cur.End)
			estimated := d.travel(cur.Location, next.Location)
			if available >= estimated {
				continue
			}
			severity := domain.SeverityMedium
			if estimated-available > travelHighDelta {
				severity = domain.SeverityHigh
			}
			out = append(out, domain.Conflict{
				Type:     domain.ConflictTravelTime,
				Severity: severity,
				Title:    "Insufficient travel time",
				Description: fmt.Sprintf("%s has %d minutes to get from %q to %q (estimated %d needed)",
					person, int(available.Minutes()), cur.Location, next.Location, int(estimated.Minutes())),
				AffectedEvents: []string{cur.ID, next.ID},
				AffectedUsers:  []string{person},
				Suggestions:    suggestionsByType[domain.ConflictTravelTime],
			})
		}
	}
	return out
}

// resourceConflicts flags pairs of instances that declare the same piece of
// equipment over intersecting intervals.
func (d *Detector) resourceConflicts(events []domain.EventInstance) []domain.Conflict {
	byResource := map[string][]domain.EventInstance{}
	for _, e := range events {
		for _, r := range e.Equipment {
			byResource[r] = append(byResource[r], e)
		}
	}
	names := make([]string, 0, len(byResource))
	for r := range byResource {
		names = append(names, r)
	}
	sort.Strings(names)

	var out []domain.Conflict
	for _, resource := range names {
		usages := byResource[resource]
		for i := 0; i < len(usages); i++ {
			for j := i + 1; j < len(usages); j++ {
				a, b := usages[i], usages[j]
				if !a.Overlaps(b) {
					continue
				}
				users := []string{}
				if a.AssignedTo != "" {
					users = append(users, a.AssignedTo)
				}
				if b.AssignedTo != "" && b.AssignedTo != a.AssignedTo {
					users = append(users, b.AssignedTo)
				}
				out = append(out, domain.Conflict{
					Type:     domain.ConflictResourceContention,
					Severity: domain.SeverityMedium,
					Title:    "Resource double-booked",
					Description: fmt.Sprintf("%q is needed for both %q and %q at overlapping times",
						resource, a.Title, b.Title),
					AffectedEvents:    []string{a.ID, b.ID},
					AffectedUsers:     users,
					AffectedResources: []string{resource},
					Suggestions:       suggestionsByType[domain.ConflictResourceContention],
				})
			}
		}
	}
	return out
}

// unassignedCritical flags future instances nobody owns: inside 4 hours at
// critical, inside 24 hours at high, and beyond that only when the event is
// high priority or looks critical by keyword, at medium. Everything else is
// left alone.
func (d *Detector) unassignedCritical(events []domain.EventInstance) []domain.Conflict {
	now := d.now()
	var out []domain.Conflict
	for _, e := range events {
		if e.AssignedTo != "" || !e.Start.After(now) {
			continue
		}
		until := e.Start.Sub(now)
		var severity domain.Severity
		switch {
		case until < unassignedCriticalWindow:
			severity = domain.SeverityCritical
		case until < unassignedUrgentWindow:
			severity = domain.SeverityHigh
		case e.Priority == "high" || isCriticalEvent(e):
			severity = domain.SeverityMedium
		default:
			continue
		}
		out = append(out, domain.Conflict{
			Type:     domain.ConflictUnassignedCritical,
			Severity: severity,
			Title:    "Critical event unassigned",
			Description: fmt.Sprintf("%q starts in %s and has no one assigned",
				e.Title, strings.TrimSpace(humanize.RelTime(now, e.Start, "", ""))),
			AffectedEvents: []string{e.ID},
			Suggestions:    suggestionsByType[domain.ConflictUnassignedCritical],
		})
	}
	return out
}

// unassignedTasks applies the same urgency ladder to pending tasks nobody
// owns, keyed on the due date.
func (d *Detector) unassignedTasks(tasks []domain.Task) []domain.Conflict {
	now := d.now()
	var out []domain.Conflict
	for _, t := range tasks {
		if t.AssignedTo != "" || t.Status == domain.TaskCompleted || !t.DueDate.After(now) {
			continue
		}
		until := t.DueDate.Sub(now)
		var severity domain.Severity
		switch {
		case until < unassignedCriticalWindow:
			severity = domain.SeverityCritical
		case until < unassignedUrgentWindow:
			severity = domain.SeverityHigh
		case t.Priority >= 4 || containsAny(strings.ToLower(t.Title+" "+t.Description), criticalKeywords):
			severity = domain.SeverityMedium
		default:
			continue
		}
		out = append(out, domain.Conflict{
			Type:     domain.ConflictUnassignedCritical,
			Severity: severity,
			Title:    "Critical task unassigned",
			Description: fmt.Sprintf("task %q is due in %s and has no one assigned",
				t.Title, strings.TrimSpace(humanize.RelTime(now, t.DueDate, "", ""))),
			AffectedEvents: []string{t.ID},
			Suggestions:    suggestionsByType[domain.ConflictUnassignedCritical],
		})
	}
	return out
}

func isCriticalEvent(e domain.EventInstance) bool {
	text := strings.ToLower(e.Title + " " + e.Description)
	return containsAny(text, criticalKeywords)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Resolution suggestions are fixed per conflict type, not computed per
// instance.
var suggestionsByType = map[domain.ConflictType][]string{
	domain.ConflictTimeOverlap: {
		"Reassign one event to another person",
		"Move one event to a different time",
		"Set up a backup person for one event",
		"Consider combining the events or skipping one",
	},
	domain.ConflictTravelTime: {
		"Add buffer time between events",
		"Arrange a carpool or faster transport",
		"Move one event to reduce travel distance",
		"Consider virtual attendance for one event",
	},
	domain.ConflictResourceContention: {
		"Obtain a duplicate resource",
		"Reschedule one event to avoid the overlap",
		"Find an alternative resource",
		"Remove the resource requirement from one event",
	},
	domain.ConflictUnassignedCritical: {
		"Assign someone as soon as possible",
		"Send reminders to household members",
		"Check whether a backup person is available",
		"Consider rescheduling if no one can attend",
	},
}

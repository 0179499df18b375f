// Package recurrence materializes event templates into dated instances.
package recurrence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/hearthside/household-scheduler/internal/domain"
	"github.com/hearthside/household-scheduler/internal/store"
)

const DefaultDaysAhead = 30

type Expander struct {
	events *store.EventStore
	log    *slog.Logger
	now    func() time.Time
}

func New(events *store.EventStore, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{events: events, log: logger, now: time.Now}
}

// Expand walks the window [start, start+daysAhead] (inclusive, bounded by the
// template's recurrence end) and creates an instance for every rule-included
// date that has none yet. Only newly created instances are returned; dates
// already materialized are skipped. Instances copy the template's descriptive
// fields, apply its time of day to the date, preserve its duration, and start
// with empty completion state.
func (x *Expander) Expand(ctx context.Context, templateID string, start time.Time, daysAhead int) ([]domain.EventInstance, error) {
	tmpl, err := x.events.TemplateByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.Rule.Recurring() {
		return nil, fmt.Errorf("template %s is not recurring: %w", templateID, domain.ErrInvalidState)
	}
	if daysAhead < 0 {
		return nil, fmt.Errorf("%w: daysAhead must be >= 0", domain.ErrValidation)
	}

	dates, err := occurrenceDates(tmpl, start, daysAhead)
	if err != nil {
		return nil, err
	}

	var created []domain.EventInstance
	for _, d := range dates {
		inst := instanceFor(tmpl, d)
		ok, err := x.events.CreateInstance(ctx, &inst)
		if err != nil {
			return created, fmt.Errorf("materialize %s on %s: %w", templateID, inst.InstanceDate, err)
		}
		if ok {
			created = append(created, inst)
		}
	}
	x.log.Debug("expanded template", "template_id", templateID, "window_days", daysAhead, "created", len(created))
	return created, nil
}

// ExpandAllResult reports one template's share of a maintenance sweep.
type ExpandAllResult struct {
	TemplateID string `json:"template_id"`
	Created    int    `json:"instances_created"`
	Error      string `json:"error,omitempty"`
}

// ExpandAll runs Expand for every recurring template from now. A failing
// template is reported in its result entry and does not stop the sweep.
func (x *Expander) ExpandAll(ctx context.Context, daysAhead int) ([]ExpandAllResult, error) {
	templates, err := x.events.ListRecurringTemplates(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]ExpandAllResult, 0, len(templates))
	for _, t := range templates {
		res := ExpandAllResult{TemplateID: t.ID}
		created, err := x.Expand(ctx, t.ID, x.now(), daysAhead)
		if err != nil {
			res.Error = err.Error()
			x.log.Warn("expansion failed", "template_id", t.ID, "error", err)
		}
		res.Created = len(created)
		results = append(results, res)
	}
	return results, nil
}

// CreateRecurring persists a new template and materializes its first
// DefaultDaysAhead days. The template is validated before any write.
func (x *Expander) CreateRecurring(ctx context.Context, tmpl *domain.EventTemplate) ([]domain.EventInstance, error) {
	if !tmpl.Rule.Recurring() {
		return nil, fmt.Errorf("%w: recurrence rule is required", domain.ErrValidation)
	}
	if err := x.events.CreateTemplate(ctx, tmpl); err != nil {
		return nil, err
	}
	return x.Expand(ctx, tmpl.ID, x.now(), DefaultDaysAhead)
}

// ApplyToFuture updates the template and propagates the descriptive subset of
// the edit to instances dated today or later. Timestamps and per-instance
// completion state are never propagated.
func (x *Expander) ApplyToFuture(ctx context.Context, templateID string, u store.TemplateUpdate) (int64, error) {
	tmpl, err := x.events.TemplateByID(ctx, templateID)
	if err != nil {
		return 0, err
	}
	if !tmpl.Rule.Recurring() {
		return 0, fmt.Errorf("template %s is not recurring: %w", templateID, domain.ErrInvalidState)
	}
	if err := x.events.UpdateTemplate(ctx, templateID, u); err != nil {
		return 0, err
	}
	today := x.now().UTC().Format("2006-01-02")
	return x.events.UpdateFutureInstances(ctx, templateID, today, u)
}

// occurrenceDates evaluates the template's rule over the window and returns
// the included calendar dates in order.
func occurrenceDates(tmpl domain.EventTemplate, start time.Time, daysAhead int) ([]time.Time, error) {
	windowStart := midnightUTC(start)
	windowEnd := windowStart.AddDate(0, 0, daysAhead)
	if tmpl.RecurrenceEnd != nil {
		limit := midnightUTC(*tmpl.RecurrenceEnd)
		if limit.Before(windowEnd) {
			windowEnd = limit
		}
	}
	if windowEnd.Before(windowStart) {
		return nil, nil
	}

	opts := rrule.ROption{Freq: rrule.DAILY, Dtstart: windowStart}
	switch tmpl.Rule {
	case domain.RecurrenceDaily:
		// Every date in the window.
	case domain.RecurrenceWeekly:
		opts.Freq = rrule.WEEKLY
		opts.Byweekday = []rrule.Weekday{rruleWeekday(tmpl.Start.UTC().Weekday())}
	case domain.RecurrenceWeekdays:
		opts.Freq = rrule.WEEKLY
		opts.Byweekday = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR}
	case domain.RecurrenceCustomDays:
		if len(tmpl.RecurrenceDays) == 0 {
			return nil, fmt.Errorf("%w: custom_days rule has no weekdays", domain.ErrValidation)
		}
		opts.Freq = rrule.WEEKLY
		for _, d := range tmpl.RecurrenceDays {
			opts.Byweekday = append(opts.Byweekday, rruleWeekday(d))
		}
	default:
		return nil, fmt.Errorf("%w: rule %q cannot be expanded", domain.ErrValidation, tmpl.Rule)
	}

	rule, err := rrule.NewRRule(opts)
	if err != nil {
		return nil, fmt.Errorf("build recurrence rule: %w", err)
	}
	return rule.Between(windowStart, windowEnd, true), nil
}

// instanceFor builds the concrete occurrence of tmpl on the given date.
func instanceFor(tmpl domain.EventTemplate, date time.Time) domain.EventInstance {
	tod := tmpl.Start.UTC()
	start := time.Date(date.Year(), date.Month(), date.Day(),
		tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC)
	checklist := make([]domain.ChecklistItem, len(tmpl.Checklist))
	for i, item := range tmpl.Checklist {
		item.Completed = false
		checklist[i] = item
	}
	return domain.EventInstance{
		TemplateID:   tmpl.ID,
		InstanceDate: date.Format("2006-01-02"),
		Title:        tmpl.Title,
		Description:  tmpl.Description,
		Location:     tmpl.Location,
		Category:     tmpl.Category,
		Start:        start,
		End:          start.Add(tmpl.Duration()),
		AssignedTo:   tmpl.AssignedTo,
		Equipment:    append([]string(nil), tmpl.Equipment...),
		Checklist:    checklist,
		CreatedBy:    tmpl.CreatedBy,
	}
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func rruleWeekday(d time.Weekday) rrule.Weekday {
	switch d {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}

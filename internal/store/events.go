package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthside/household-scheduler/internal/domain"
)

// EventStore holds templates and their materialized instances.
type EventStore struct {
	db *sql.DB
}

func (s *EventStore) CreateTemplate(ctx context.Context, t *domain.EventTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_templates (
			id, title, description, location, category, start_time, end_time,
			rule, recurrence_days, recurrence_end, assigned_to, equipment,
			checklist, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.Location, t.Category,
		fmtTime(t.Start), fmtTime(t.End), string(t.Rule),
		marshal(t.RecurrenceDays), fmtTimePtr(t.RecurrenceEnd),
		t.AssignedTo, marshal(t.Equipment), marshal(t.Checklist),
		t.CreatedBy, fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *EventStore) TemplateByID(ctx context.Context, id string) (domain.EventTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, location, category, start_time, end_time,
			rule, recurrence_days, recurrence_end, assigned_to, equipment,
			checklist, created_by, created_at, updated_at
		FROM event_templates WHERE id = ?`, id)
	return scanTemplate(row)
}

func (s *EventStore) ListRecurringTemplates(ctx context.Context) ([]domain.EventTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, location, category, start_time, end_time,
			rule, recurrence_days, recurrence_end, assigned_to, equipment,
			checklist, created_by, created_at, updated_at
		FROM event_templates WHERE rule != 'none' ORDER BY title ASC`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	var out []domain.EventTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TemplateUpdate is the allowed subset of template fields a caller may edit.
// Nil pointers leave the stored value untouched.
type TemplateUpdate struct {
	Title          *string
	Description    *string
	Location       *string
	Category       *string
	AssignedTo     *string
	Equipment      []string
	Checklist      []domain.ChecklistItem
	Rule           *domain.RecurrenceRule
	RecurrenceDays []time.Weekday
	RecurrenceEnd  *time.Time
}

func (s *EventStore) UpdateTemplate(ctx context.Context, id string, u TemplateUpdate) error {
	set := []string{"updated_at = ?"}
	args := []any{fmtTime(time.Now().UTC())}
	add := func(col string, v any) { set = append(set, col+" = ?"); args = append(args, v) }
	if u.Title != nil {
		add("title", *u.Title)
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.Location != nil {
		add("location", *u.Location)
	}
	if u.Category != nil {
		add("category", *u.Category)
	}
	if u.AssignedTo != nil {
		add("assigned_to", *u.AssignedTo)
	}
	if u.Equipment != nil {
		add("equipment", marshal(u.Equipment))
	}
	if u.Checklist != nil {
		add("checklist", marshal(u.Checklist))
	}
	if u.Rule != nil {
		if !u.Rule.Valid() {
			return fmt.Errorf("%w: unknown recurrence rule %q", domain.ErrValidation, *u.Rule)
		}
		add("rule", string(*u.Rule))
	}
	if u.RecurrenceDays != nil {
		add("recurrence_days", marshal(u.RecurrenceDays))
	}
	if u.RecurrenceEnd != nil {
		add("recurrence_end", fmtTime(*u.RecurrenceEnd))
	}
	args = append(args, id)
	query := "UPDATE event_templates SET " + joinSet(set) + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DeleteTemplate removes the template and, when cascade is set, all its
// instances dated today or later. Past instances stay: they happened.
func (s *EventStore) DeleteTemplate(ctx context.Context, id string, cascade bool) error {
	if cascade {
		today := time.Now().UTC().Format("2006-01-02")
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM event_instances WHERE template_id = ? AND instance_date >= ?`, id, today); err != nil {
			return fmt.Errorf("delete instances: %w", err)
		}
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM event_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CreateInstance inserts an instance. For materialized instances the
// (template_id, instance_date) unique index turns a concurrent duplicate into
// a silent no-op; the returned bool reports whether a row was created.
func (s *EventStore) CreateInstance(ctx context.Context, e *domain.EventInstance) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO event_instances (
			id, template_id, instance_date, title, description, location,
			category, start_time, end_time, assigned_to, priority, equipment,
			checklist, completed_items, preparation_list, enriched, created_by,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		e.ID, e.TemplateID, e.InstanceDate, e.Title, e.Description, e.Location,
		e.Category, fmtTime(e.Start), fmtTime(e.End), e.AssignedTo, e.Priority,
		marshal(e.Equipment), marshal(e.Checklist), marshal(e.CompletedItems),
		marshal(e.PreparationList), boolInt(e.Enriched), e.CreatedBy,
		fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert instance: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *EventStore) InstanceByID(ctx context.Context, id string) (domain.EventInstance, error) {
	row := s.db.QueryRowContext(ctx, instanceColumns+` WHERE id = ?`, id)
	return scanInstance(row)
}

// InstancesInRange returns instances whose start falls inside [from, to],
// ordered by start time.
func (s *EventStore) InstancesInRange(ctx context.Context, from, to time.Time) ([]domain.EventInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		instanceColumns+` WHERE start_time >= ? AND start_time <= ? ORDER BY start_time ASC`,
		fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("instances in range: %w", err)
	}
	defer rows.Close()
	var out []domain.EventInstance
	for rows.Next() {
		e, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *EventStore) InstancesByTemplate(ctx context.Context, templateID string) ([]domain.EventInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		instanceColumns+` WHERE template_id = ? ORDER BY instance_date ASC`, templateID)
	if err != nil {
		return nil, fmt.Errorf("instances by template: %w", err)
	}
	defer rows.Close()
	var out []domain.EventInstance
	for rows.Next() {
		e, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateFutureInstances propagates descriptive template edits to instances
// dated fromDate or later. Timestamps and completion state never change here.
func (s *EventStore) UpdateFutureInstances(ctx context.Context, templateID, fromDate string, u TemplateUpdate) (int64, error) {
	set := []string{"updated_at = ?"}
	args := []any{fmtTime(time.Now().UTC())}
	add := func(col string, v any) { set = append(set, col+" = ?"); args = append(args, v) }
	if u.Title != nil {
		add("title", *u.Title)
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.Location != nil {
		add("location", *u.Location)
	}
	if u.Category != nil {
		add("category", *u.Category)
	}
	if u.AssignedTo != nil {
		add("assigned_to", *u.AssignedTo)
	}
	if u.Equipment != nil {
		add("equipment", marshal(u.Equipment))
	}
	if u.Checklist != nil {
		add("checklist", marshal(u.Checklist))
	}
	if len(set) == 1 {
		return 0, nil
	}
	args = append(args, templateID, fromDate)
	res, err := s.db.ExecContext(ctx,
		"UPDATE event_instances SET "+joinSet(set)+" WHERE template_id = ? AND instance_date >= ?", args...)
	if err != nil {
		return 0, fmt.Errorf("update future instances: %w", err)
	}
	return res.RowsAffected()
}

func (s *EventStore) ReassignInstance(ctx context.Context, id, assignee string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE event_instances SET assigned_to = ?, updated_at = ? WHERE id = ?`,
		assignee, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("reassign instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *EventStore) RescheduleInstance(ctx context.Context, id string, start, end time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE event_instances SET start_time = ?, end_time = ?, updated_at = ? WHERE id = ?`,
		fmtTime(start), fmtTime(end), fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("reschedule instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

const instanceColumns = `
	SELECT id, template_id, instance_date, title, description, location,
		category, start_time, end_time, assigned_to, priority, equipment,
		checklist, completed_items, preparation_list, enriched, created_by,
		created_at, updated_at
	FROM event_instances`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (domain.EventTemplate, error) {
	var t domain.EventTemplate
	var desc, loc, cat, days, assigned, equip, checklist, createdBy sql.NullString
	var recEnd sql.NullString
	var start, end, createdAt, updatedAt, rule string
	err := row.Scan(&t.ID, &t.Title, &desc, &loc, &cat, &start, &end, &rule,
		&days, &recEnd, &assigned, &equip, &checklist, &createdBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("template: %w", domain.ErrNotFound)
	}
	if err != nil {
		return t, fmt.Errorf("scan template: %w", err)
	}
	t.Description, t.Location, t.Category = desc.String, loc.String, cat.String
	t.AssignedTo, t.CreatedBy = assigned.String, createdBy.String
	t.Start, t.End = parseTime(start), parseTime(end)
	t.Rule = domain.RecurrenceRule(rule)
	t.RecurrenceDays = unmarshal[[]time.Weekday](days)
	t.RecurrenceEnd = parseTimePtr(recEnd)
	t.Equipment = unmarshal[[]string](equip)
	t.Checklist = unmarshal[[]domain.ChecklistItem](checklist)
	t.CreatedAt, t.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)
	return t, nil
}

func scanInstance(row rowScanner) (domain.EventInstance, error) {
	var e domain.EventInstance
	var tmpl, date, desc, loc, cat, assigned, prio, equip, checklist, done, prep, createdBy sql.NullString
	var start, end, createdAt, updatedAt string
	var enriched int
	err := row.Scan(&e.ID, &tmpl, &date, &e.Title, &desc, &loc, &cat, &start, &end,
		&assigned, &prio, &equip, &checklist, &done, &prep, &enriched, &createdBy,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("event instance: %w", domain.ErrNotFound)
	}
	if err != nil {
		return e, fmt.Errorf("scan instance: %w", err)
	}
	e.TemplateID, e.InstanceDate = tmpl.String, date.String
	e.Description, e.Location, e.Category = desc.String, loc.String, cat.String
	e.AssignedTo, e.Priority, e.CreatedBy = assigned.String, prio.String, createdBy.String
	e.Start, e.End = parseTime(start), parseTime(end)
	e.Equipment = unmarshal[[]string](equip)
	e.Checklist = unmarshal[[]domain.ChecklistItem](checklist)
	e.CompletedItems = unmarshal[[]string](done)
	e.PreparationList = unmarshal[[]string](prep)
	e.Enriched = enriched != 0
	e.CreatedAt, e.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)
	return e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinSet(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

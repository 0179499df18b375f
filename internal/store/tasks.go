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

type TaskStore struct {
	db *sql.DB
}

func (s *TaskStore) Create(ctx context.Context, t *domain.Task) error {
	if t.Title == "" {
		return fmt.Errorf("%w: task title is required", domain.ErrValidation)
	}
	if t.Type == "" {
		t.Type = domain.TaskSimple
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown task type %q", domain.ErrValidation, t.Type)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, title, description, due_date, assigned_to, category, priority,
			task_type, status, checklist, recurrence, creates_events,
			completion_actions, template_id, linked_event_id, next_instance_id,
			completed_at, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, fmtTime(t.DueDate), t.AssignedTo,
		t.Category, t.Priority, string(t.Type), string(t.Status),
		marshal(t.Checklist), marshal(t.Recurrence), boolInt(t.CreatesEvents),
		marshal(t.CompletionActions), t.TemplateID, t.LinkedEventID,
		t.NextInstanceID, fmtTimePtr(t.CompletedAt), t.CreatedBy,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *TaskStore) ByID(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, taskColumns+` WHERE id = ?`, id)
	return scanTask(row)
}

// MarkCompleted stamps the task completed. Completing an already completed
// task is rejected so lifecycle side effects cannot run twice.
func (s *TaskStore) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', completed_at = ?, updated_at = ?
		WHERE id = ? AND status != 'completed'`,
		fmtTime(at), fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.ByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("task %s already completed: %w", id, domain.ErrInvalidState)
	}
	return nil
}

// LinkSuccessor records the forward reference to the next recurring
// instance. The guard on next_instance_id keeps the reference single-valued:
// a second successor for the same task is refused.
func (s *TaskStore) LinkSuccessor(ctx context.Context, id, successorID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET next_instance_id = ?, updated_at = ?
		WHERE id = ? AND (next_instance_id IS NULL OR next_instance_id = '')`,
		successorID, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("link successor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s already has a successor: %w", id, domain.ErrInvalidState)
	}
	return nil
}

// LinkEvent points the task at the event instance it was converted into.
// A task converts at most once.
func (s *TaskStore) LinkEvent(ctx context.Context, id, eventID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET linked_event_id = ?, updated_at = ?
		WHERE id = ? AND (linked_event_id IS NULL OR linked_event_id = '')`,
		eventID, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("link event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s already linked to an event: %w", id, domain.ErrInvalidState)
	}
	return nil
}

func (s *TaskStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *TaskStore) DueInRange(ctx context.Context, from, to time.Time) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		taskColumns+` WHERE due_date >= ? AND due_date <= ? ORDER BY due_date ASC`,
		fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("tasks in range: %w", err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const taskColumns = `
	SELECT id, title, description, due_date, assigned_to, category, priority,
		task_type, status, checklist, recurrence, creates_events,
		completion_actions, template_id, linked_event_id, next_instance_id,
		completed_at, created_by, created_at, updated_at
	FROM tasks`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var desc, assigned, cat, checklist, rec, actions, tmpl, linked, next, createdBy sql.NullString
	var completedAt sql.NullString
	var due, createdAt, updatedAt, typ, status string
	var creates int
	err := row.Scan(&t.ID, &t.Title, &desc, &due, &assigned, &cat, &t.Priority,
		&typ, &status, &checklist, &rec, &creates, &actions, &tmpl, &linked,
		&next, &completedAt, &createdBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("task: %w", domain.ErrNotFound)
	}
	if err != nil {
		return t, fmt.Errorf("scan task: %w", err)
	}
	t.Description, t.AssignedTo, t.Category = desc.String, assigned.String, cat.String
	t.Type, t.Status = domain.TaskType(typ), domain.TaskStatus(status)
	t.DueDate = parseTime(due)
	t.Checklist = unmarshal[[]domain.ChecklistItem](checklist)
	t.Recurrence = unmarshal[*domain.TaskRecurrence](rec)
	t.CreatesEvents = creates != 0
	t.CompletionActions = unmarshal[[]domain.CompletionAction](actions)
	t.TemplateID, t.LinkedEventID, t.NextInstanceID = tmpl.String, linked.String, next.String
	t.CompletedAt = parseTimePtr(completedAt)
	t.CreatedBy = createdBy.String
	t.CreatedAt, t.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)
	return t, nil
}

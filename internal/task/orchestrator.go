// Package task drives what happens when a task is completed: chained
// recurrence, checklist follow-ups, and task-to-event conversion.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthside/household-scheduler/internal/domain"
	"github.com/hearthside/household-scheduler/internal/enrich"
	"github.com/hearthside/household-scheduler/internal/store"
)

type PromptType string

const (
	PromptIncompleteChecklist PromptType = "incomplete_checklist"
	PromptRecurringGenerated  PromptType = "recurring_generated"
	PromptEventReady          PromptType = "event_ready"
	PromptCreateEvent         PromptType = "create_event"
	PromptFollowUpTasks       PromptType = "follow_up_tasks"
)

// Prompt is an advisory nudge surfaced after completion. The orchestrator
// never acts on a prompt itself; a later explicit call has to.
type Prompt struct {
	Type           PromptType                  `json:"type"`
	Title          string                      `json:"title"`
	Message        string                      `json:"message"`
	Items          []domain.ChecklistItem      `json:"items,omitempty"`
	NextTask       *domain.Task                `json:"next_task,omitempty"`
	Event          *domain.EventInstance       `json:"event,omitempty"`
	SuggestedEvent *enrich.EventSuggestion     `json:"suggested_event,omitempty"`
	Suggestions    []enrich.FollowUpSuggestion `json:"suggestions,omitempty"`
}

// CompletionResult is everything a completion produced.
type CompletionResult struct {
	Task        domain.Task   `json:"task"`
	CompletedAt time.Time     `json:"completed_at"`
	Prompts     []Prompt      `json:"prompts"`
	NextTasks   []domain.Task `json:"next_tasks,omitempty"`
	ActionsRun  []string      `json:"actions_run,omitempty"`
}

type CompleteOptions struct {
	// RequestEvent forces the create-event prompt even when the task is not
	// flagged creates_events.
	RequestEvent bool `json:"create_event"`
}

// EventOverrides are the caller-supplied fields for a task-to-event
// conversion. They win over anything the enrichment service suggests.
type EventOverrides struct {
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Category    string    `json:"category,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end,omitempty"`
}

type Orchestrator struct {
	tasks    *store.TaskStore
	events   *store.EventStore
	enricher enrich.Service
	log      *slog.Logger
	now      func() time.Time
}

type Options struct {
	Tasks    *store.TaskStore
	Events   *store.EventStore
	Enricher enrich.Service
	Logger   *slog.Logger
}

func NewOrchestrator(opts Options) *Orchestrator {
	enricher := opts.Enricher
	if enricher == nil {
		enricher = enrich.Noop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		tasks:    opts.Tasks,
		events:   opts.Events,
		enricher: enricher,
		log:      logger,
		now:      time.Now,
	}
}

// Complete marks the task completed and dispatches the side effects its type
// calls for. Completing an already completed task is rejected, which also
// guarantees a recurring task never spawns two successors for one
// completion. Enrichment trouble never fails the completion; the affected
// prompts are simply absent.
func (o *Orchestrator) Complete(ctx context.Context, taskID, userID string, opts CompleteOptions) (CompletionResult, error) {
	t, err := o.tasks.ByID(ctx, taskID)
	if err != nil {
		return CompletionResult{}, err
	}
	completedAt := o.now().UTC()
	if err := o.tasks.MarkCompleted(ctx, taskID, completedAt); err != nil {
		return CompletionResult{}, err
	}
	t.Status = domain.TaskCompleted
	t.CompletedAt = &completedAt

	result := CompletionResult{Task: t, CompletedAt: completedAt}

	switch t.Type {
	case domain.TaskComplex:
		o.completeComplex(t, &result)
	case domain.TaskRecurring:
		o.completeRecurring(ctx, t, userID, &result)
	case domain.TaskPreparatory:
		o.completePreparatory(ctx, t, &result)
	case domain.TaskSimple:
		o.completeSimple(t, &result)
	default:
		o.completeSimple(t, &result)
	}

	if t.CreatesEvents || opts.RequestEvent {
		if suggestion, err := o.enricher.SuggestEventFromTask(ctx, t); err != nil {
			o.log.Warn("event suggestion unavailable", "task_id", t.ID, "error", err)
		} else {
			result.Prompts = append(result.Prompts, Prompt{
				Type:           PromptCreateEvent,
				Title:          "Create event from task",
				Message:        fmt.Sprintf("Create a calendar event based on %q?", t.Title),
				SuggestedEvent: &suggestion,
			})
		}
	}

	if followUps, err := o.enricher.SuggestFollowUps(ctx, t); err != nil {
		o.log.Warn("follow-up suggestions unavailable", "task_id", t.ID, "error", err)
	} else if len(followUps) > 0 {
		result.Prompts = append(result.Prompts, Prompt{
			Type:        PromptFollowUpTasks,
			Title:       "Suggested follow-up tasks",
			Message:     "Based on this completion, here are some suggested follow-up actions",
			Suggestions: followUps,
		})
	}

	return result, nil
}

func (o *Orchestrator) completeComplex(t domain.Task, result *CompletionResult) {
	var incomplete []domain.ChecklistItem
	for _, item := range t.Checklist {
		if !item.Completed {
			incomplete = append(incomplete, item)
		}
	}
	if len(incomplete) == 0 {
		return
	}
	result.Prompts = append(result.Prompts, Prompt{
		Type:    PromptIncompleteChecklist,
		Title:   "Incomplete checklist items",
		Message: fmt.Sprintf("%d checklist items are still open. Create follow-up tasks for them?", len(incomplete)),
		Items:   incomplete,
	})
}

func (o *Orchestrator) completeRecurring(ctx context.Context, t domain.Task, userID string, result *CompletionResult) {
	if t.Recurrence == nil || !t.Recurrence.AutoGenerate {
		return
	}
	next, err := o.GenerateNextInstance(ctx, t.ID, userID)
	if err != nil {
		o.log.Warn("failed to generate next recurring instance", "task_id", t.ID, "error", err)
		return
	}
	result.NextTasks = append(result.NextTasks, next)
	result.Prompts = append(result.Prompts, Prompt{
		Type:     PromptRecurringGenerated,
		Title:    "Next occurrence created",
		Message:  fmt.Sprintf("The next occurrence is due %s.", next.DueDate.Format("2006-01-02")),
		NextTask: &next,
	})
}

func (o *Orchestrator) completePreparatory(ctx context.Context, t domain.Task, result *CompletionResult) {
	if t.LinkedEventID == "" {
		return
	}
	event, err := o.events.InstanceByID(ctx, t.LinkedEventID)
	if err != nil {
		o.log.Warn("linked event not found", "task_id", t.ID, "event_id", t.LinkedEventID)
		return
	}
	result.Prompts = append(result.Prompts, Prompt{
		Type:    PromptEventReady,
		Title:   "Event preparation complete",
		Message: fmt.Sprintf("Preparation for %q is done. It starts %s.", event.Title, event.Start.Format(time.RFC1123)),
		Event:   &event,
	})
}

// completeSimple dispatches the statically configured completion actions.
// Dispatch only: nothing here creates entities.
func (o *Orchestrator) completeSimple(t domain.Task, result *CompletionResult) {
	for _, action := range t.CompletionActions {
		switch action.Type {
		case "notify_family", "schedule_celebration", "create_follow_up_task":
			result.ActionsRun = append(result.ActionsRun, action.Type)
			o.log.Info("completion action dispatched", "task_id", t.ID, "action", action.Type)
		default:
			o.log.Debug("unknown completion action skipped", "task_id", t.ID, "action", action.Type)
		}
	}
}

// GenerateNextInstance creates the successor of a recurring task: same
// static fields, due date advanced by one recurrence step, linked from the
// current task via the single-valued next-instance reference.
func (o *Orchestrator) GenerateNextInstance(ctx context.Context, taskID, userID string) (domain.Task, error) {
	t, err := o.tasks.ByID(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Type != domain.TaskRecurring || t.Recurrence == nil {
		return domain.Task{}, fmt.Errorf("task %s is not recurring: %w", taskID, domain.ErrInvalidState)
	}
	if t.NextInstanceID != "" {
		return domain.Task{}, fmt.Errorf("task %s already has a successor: %w", taskID, domain.ErrInvalidState)
	}

	next := domain.Task{
		Title:             t.Title,
		Description:       t.Description,
		DueDate:           t.Recurrence.NextDue(t.DueDate),
		AssignedTo:        t.AssignedTo,
		Category:          t.Category,
		Priority:          t.Priority,
		Type:              t.Type,
		Checklist:         resetChecklist(t.Checklist),
		Recurrence:        t.Recurrence,
		CreatesEvents:     t.CreatesEvents,
		CompletionActions: t.CompletionActions,
		TemplateID:        t.TemplateID,
		CreatedBy:         userID,
	}
	if err := o.tasks.Create(ctx, &next); err != nil {
		return domain.Task{}, err
	}
	if err := o.tasks.LinkSuccessor(ctx, taskID, next.ID); err != nil {
		// Lost the race with a concurrent generation: drop our copy.
		_ = o.tasks.Delete(ctx, next.ID)
		return domain.Task{}, err
	}
	o.log.Info("recurring task chained", "task_id", taskID, "next_id", next.ID, "due", next.DueDate)
	return next, nil
}

// ConvertToEvent turns a task into a concrete event instance, merging the
// enrichment service's suggestions with the caller's overrides (overrides
// win). An unreachable enrichment service does not abort the conversion: the
// event is created from caller fields only and marked not enriched.
func (o *Orchestrator) ConvertToEvent(ctx context.Context, taskID string, overrides EventOverrides, userID string) (domain.EventInstance, error) {
	t, err := o.tasks.ByID(ctx, taskID)
	if err != nil {
		return domain.EventInstance{}, err
	}
	if t.LinkedEventID != "" {
		return domain.EventInstance{}, fmt.Errorf("task %s already converted: %w", taskID, domain.ErrInvalidState)
	}
	if overrides.Start.IsZero() {
		return domain.EventInstance{}, fmt.Errorf("%w: start time is required", domain.ErrValidation)
	}
	end := overrides.End
	if end.IsZero() {
		end = overrides.Start.Add(time.Hour)
	}
	if !end.After(overrides.Start) {
		return domain.EventInstance{}, fmt.Errorf("%w: end must be after start", domain.ErrValidation)
	}

	enhancement, enrichErr := o.enricher.EnhanceTaskToEvent(ctx, t)
	if enrichErr != nil && !errors.Is(enrichErr, domain.ErrExternalService) {
		enrichErr = fmt.Errorf("%w: %v", domain.ErrExternalService, enrichErr)
	}
	if enrichErr != nil {
		o.log.Warn("conversion proceeding without enrichment", "task_id", taskID, "error", enrichErr)
		enhancement = enrich.TaskEnhancement{}
	}

	inst := domain.EventInstance{
		Title:           firstNonEmpty(overrides.Title, t.Title),
		Description:     firstNonEmpty(overrides.Description, t.Description),
		Location:        firstNonEmpty(overrides.Location, enhancement.SuggestedLocation),
		Category:        firstNonEmpty(overrides.Category, t.Category),
		Start:           overrides.Start.UTC(),
		End:             end.UTC(),
		AssignedTo:      t.AssignedTo,
		Equipment:       enhancement.ResourcesNeeded.Equipment,
		PreparationList: enhancement.PreparationList,
		Enriched:        enrichErr == nil,
		CreatedBy:       userID,
	}
	if _, err := o.events.CreateInstance(ctx, &inst); err != nil {
		return domain.EventInstance{}, err
	}
	if err := o.tasks.LinkEvent(ctx, taskID, inst.ID); err != nil {
		return domain.EventInstance{}, err
	}
	o.log.Info("task converted to event", "task_id", taskID, "event_id", inst.ID, "enriched", inst.Enriched)
	return inst, nil
}

func resetChecklist(items []domain.ChecklistItem) []domain.ChecklistItem {
	if items == nil {
		return nil
	}
	out := make([]domain.ChecklistItem, len(items))
	for i, item := range items {
		item.Completed = false
		out[i] = item
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy shared by all components. Handlers map these to HTTP codes;
// everything else wraps them with context.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrValidation      = errors.New("validation failed")
	ErrExternalService = errors.New("external service failure")
)

type RecurrenceRule string

const (
	RecurrenceNone       RecurrenceRule = "none"
	RecurrenceDaily      RecurrenceRule = "daily"
	RecurrenceWeekly     RecurrenceRule = "weekly"
	RecurrenceWeekdays   RecurrenceRule = "weekdays"
	RecurrenceCustomDays RecurrenceRule = "custom_days"
)

func (r RecurrenceRule) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceWeekdays, RecurrenceCustomDays:
		return true
	}
	return false
}

// Recurring reports whether the rule produces instances at all.
func (r RecurrenceRule) Recurring() bool { return r.Valid() && r != RecurrenceNone }

type TaskType string

const (
	TaskSimple      TaskType = "simple"
	TaskComplex     TaskType = "complex"
	TaskRecurring   TaskType = "recurring"
	TaskPreparatory TaskType = "preparatory"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskSimple, TaskComplex, TaskRecurring, TaskPreparatory:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
)

type ConflictType string

const (
	ConflictTimeOverlap        ConflictType = "time_overlap"
	ConflictTravelTime         ConflictType = "travel_time"
	ConflictResourceContention ConflictType = "resource_contention"
	ConflictUnassignedCritical ConflictType = "unassigned_critical"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for listing, critical first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

type ConflictStatus string

const (
	ConflictActive       ConflictStatus = "active"
	ConflictAcknowledged ConflictStatus = "acknowledged"
	ConflictResolved     ConflictStatus = "resolved"
	ConflictIgnored      ConflictStatus = "ignored"
)

// Terminal reports whether a conflict in this status can still transition.
// Only active conflicts accept acknowledge/ignore/resolve.
func (s ConflictStatus) Terminal() bool { return s != ConflictActive }

type ChecklistItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Category  string `json:"category,omitempty"`
	Completed bool   `json:"completed"`
}

// EventTemplate is the recurring definition instances are generated from.
// It is never scheduled directly; Start/End only fix the time of day and
// duration each instance inherits.
type EventTemplate struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Location       string          `json:"location,omitempty"`
	Category       string          `json:"category,omitempty"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	Rule           RecurrenceRule  `json:"rule"`
	RecurrenceDays []time.Weekday  `json:"recurrence_days,omitempty"`
	RecurrenceEnd  *time.Time      `json:"recurrence_end,omitempty"`
	AssignedTo     string          `json:"assigned_to,omitempty"`
	Equipment      []string        `json:"equipment,omitempty"`
	Checklist      []ChecklistItem `json:"checklist,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Duration is the span each materialized instance covers.
func (t EventTemplate) Duration() time.Duration { return t.End.Sub(t.Start) }

func (t EventTemplate) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if !t.Rule.Valid() {
		return fmt.Errorf("%w: unknown recurrence rule %q", ErrValidation, t.Rule)
	}
	if !t.End.After(t.Start) {
		return fmt.Errorf("%w: end must be after start", ErrValidation)
	}
	if t.Rule == RecurrenceCustomDays && len(t.RecurrenceDays) == 0 {
		return fmt.Errorf("%w: custom_days rule requires at least one weekday", ErrValidation)
	}
	for _, d := range t.RecurrenceDays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: invalid weekday %d", ErrValidation, d)
		}
	}
	return nil
}

// EventInstance is one concrete, dated occurrence. TemplateID and
// InstanceDate are set when it was materialized from a template; both are
// empty for standalone events. At most one instance exists per
// (template id, date) pair.
type EventInstance struct {
	ID              string          `json:"id"`
	TemplateID      string          `json:"template_id,omitempty"`
	InstanceDate    string          `json:"instance_date,omitempty"` // YYYY-MM-DD
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Location        string          `json:"location,omitempty"`
	Category        string          `json:"category,omitempty"`
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`
	AssignedTo      string          `json:"assigned_to,omitempty"`
	Priority        string          `json:"priority,omitempty"`
	Equipment       []string        `json:"equipment,omitempty"`
	Checklist       []ChecklistItem `json:"checklist,omitempty"`
	CompletedItems  []string        `json:"completed_items,omitempty"`
	PreparationList []string        `json:"preparation_list,omitempty"`
	Enriched        bool            `json:"enriched"`
	CreatedBy       string          `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Overlaps reports whether two instances intersect as half-open [start,end)
// intervals.
func (e EventInstance) Overlaps(other EventInstance) bool {
	return e.Start.Before(other.End) && other.Start.Before(e.End)
}

type RecurrenceUnit string

const (
	UnitDaily   RecurrenceUnit = "daily"
	UnitWeekly  RecurrenceUnit = "weekly"
	UnitMonthly RecurrenceUnit = "monthly"
	UnitYearly  RecurrenceUnit = "yearly"
)

// TaskRecurrence controls successor generation for recurring tasks.
// Interval multiplies the unit: {weekly, 2} means every two weeks.
type TaskRecurrence struct {
	Unit         RecurrenceUnit `json:"unit"`
	Interval     int            `json:"interval"`
	AutoGenerate bool           `json:"auto_generate"`
}

// NextDue advances a due date by one recurrence step.
func (r TaskRecurrence) NextDue(due time.Time) time.Time {
	n := r.Interval
	if n < 1 {
		n = 1
	}
	switch r.Unit {
	case UnitWeekly:
		return due.AddDate(0, 0, 7*n)
	case UnitMonthly:
		return due.AddDate(0, n, 0)
	case UnitYearly:
		return due.AddDate(n, 0, 0)
	default:
		return due.AddDate(0, 0, n)
	}
}

// CompletionAction is a statically configured side effect a simple task
// triggers on completion. Dispatch only; the orchestrator records what ran.
type CompletionAction struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type Task struct {
	ID                string             `json:"id"`
	Title             string             `json:"title"`
	Description       string             `json:"description,omitempty"`
	DueDate           time.Time          `json:"due_date"`
	AssignedTo        string             `json:"assigned_to,omitempty"`
	Category          string             `json:"category,omitempty"`
	Priority          int                `json:"priority,omitempty"`
	Type              TaskType           `json:"task_type"`
	Status            TaskStatus         `json:"status"`
	Checklist         []ChecklistItem    `json:"checklist,omitempty"`
	Recurrence        *TaskRecurrence    `json:"recurrence,omitempty"`
	CreatesEvents     bool               `json:"creates_events"`
	CompletionActions []CompletionAction `json:"completion_actions,omitempty"`
	TemplateID        string             `json:"template_id,omitempty"`
	LinkedEventID     string             `json:"linked_event_id,omitempty"`
	NextInstanceID    string             `json:"next_instance_id,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	CreatedBy         string             `json:"created_by,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// ResolutionAction is one concrete step applied when a conflict is resolved.
type ResolutionAction struct {
	Type     string `json:"type"` // reassign | reschedule | notify
	EventID  string `json:"event_id,omitempty"`
	AssignTo string `json:"assign_to,omitempty"`
	Note     string `json:"note,omitempty"`
}

type Resolution struct {
	Actions []ResolutionAction `json:"actions,omitempty"`
	Data    map[string]any     `json:"data,omitempty"`
}

type Conflict struct {
	ID                string             `json:"id"`
	Type              ConflictType       `json:"type"`
	Severity          Severity           `json:"severity"`
	Title             string             `json:"title"`
	Description       string             `json:"description"`
	AffectedEvents    []string           `json:"affected_events"`
	AffectedUsers     []string           `json:"affected_users,omitempty"`
	AffectedResources []string           `json:"affected_resources,omitempty"`
	Suggestions       []string           `json:"resolution_suggestions,omitempty"`
	Status            ConflictStatus     `json:"status"`
	DetectedAt        time.Time          `json:"detected_at"`
	ResolvedAt        *time.Time         `json:"resolved_at,omitempty"`
	ResolvedBy        string             `json:"resolved_by,omitempty"`
	ResolutionActions []ResolutionAction `json:"resolution_actions,omitempty"`
	ResolutionData    map[string]any     `json:"resolution_data,omitempty"`
}

// ConflictStats aggregates detection history over a trailing timeframe.
type ConflictStats struct {
	Timeframe      string                 `json:"timeframe"`
	Total          int                    `json:"total_conflicts"`
	ByType         map[ConflictType]int   `json:"by_type"`
	BySeverity     map[Severity]int       `json:"by_severity"`
	ByStatus       map[ConflictStatus]int `json:"by_status"`
	ResolutionRate float64                `json:"resolution_rate"`
}

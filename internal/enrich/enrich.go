// Package enrich talks to the external enrichment service that suggests
// preparation, resource and follow-up content. The service is swappable and
// allowed to be down; every caller must tolerate an error by falling back to
// empty structures.
package enrich

import (
	"context"
	"time"

	"github.com/hearthside/household-scheduler/internal/domain"
)

// EventInput is what the service receives when asked to enrich an event.
type EventInput struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	EventType   string    `json:"eventType,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

type ResourceNeeds struct {
	Documents     []string `json:"documents,omitempty"`
	Equipment     []string `json:"equipment,omitempty"`
	EstimatedCost float64  `json:"estimatedCost,omitempty"`
}

type WeatherAdvice struct {
	CheckWeather   bool     `json:"checkWeather"`
	SuggestedItems []string `json:"suggestedItems,omitempty"`
	IndoorBackup   bool     `json:"indoorBackup"`
}

type SuggestionSet struct {
	Optimization []string `json:"optimization,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	Reminders    []string `json:"reminders,omitempty"`
}

type EventEnrichment struct {
	PreparationTimeMinutes int           `json:"preparationTimeMinutes"`
	DepartureTime          *time.Time    `json:"departureTime,omitempty"`
	PreparationList        []string      `json:"preparationList,omitempty"`
	ResourcesNeeded        ResourceNeeds `json:"resourcesNeeded"`
	WeatherConsiderations  WeatherAdvice `json:"weatherConsiderations"`
	Suggestions            SuggestionSet `json:"suggestions"`
}

// TaskEnhancement is the service's answer for a task-to-event conversion.
type TaskEnhancement struct {
	SuggestedLocation string        `json:"suggestedLocation,omitempty"`
	PreparationList   []string      `json:"preparationList,omitempty"`
	ResourcesNeeded   ResourceNeeds `json:"resourcesNeeded"`
	Suggestions       SuggestionSet `json:"suggestions"`
}

// EventSuggestion is a proposed event shape derived from a completed task.
type EventSuggestion struct {
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	SuggestedTime   string `json:"suggestedTime,omitempty"` // today | tomorrow | within_week
	Location        string `json:"location,omitempty"`
	EventType       string `json:"eventType,omitempty"`
}

type FollowUpSuggestion struct {
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Priority        int    `json:"priority,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

type Service interface {
	EnrichEvent(ctx context.Context, in EventInput) (EventEnrichment, error)
	EnhanceTaskToEvent(ctx context.Context, task domain.Task) (TaskEnhancement, error)
	SuggestEventFromTask(ctx context.Context, task domain.Task) (EventSuggestion, error)
	SuggestFollowUps(ctx context.Context, task domain.Task) ([]FollowUpSuggestion, error)
}

// Noop is the degraded-mode implementation: empty answers, never an error.
// It doubles as the stand-in when no enrichment endpoint is configured.
type Noop struct{}

func (Noop) EnrichEvent(context.Context, EventInput) (EventEnrichment, error) {
	return EventEnrichment{}, nil
}

func (Noop) EnhanceTaskToEvent(context.Context, domain.Task) (TaskEnhancement, error) {
	return TaskEnhancement{}, nil
}

func (Noop) SuggestEventFromTask(ctx context.Context, task domain.Task) (EventSuggestion, error) {
	return EventSuggestion{}, nil
}

func (Noop) SuggestFollowUps(context.Context, domain.Task) ([]FollowUpSuggestion, error) {
	return nil, nil
}

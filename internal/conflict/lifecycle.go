package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthside/household-scheduler/internal/domain"
	"github.com/hearthside/household-scheduler/internal/store"
)

// Manager owns conflict state over time: deduplicated recording, listing,
// the active -> terminal transitions, and applying chosen resolutions.
type Manager struct {
	conflicts *store.ConflictStore
	events    *store.EventStore
	log       *slog.Logger
	now       func() time.Time
}

func NewManager(conflicts *store.ConflictStore, events *store.EventStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{conflicts: conflicts, events: events, log: logger, now: time.Now}
}

// Record persists a candidate. If an active conflict with the same type and
// affected-event set already exists its id is returned and nothing new is
// written, so repeated detection runs over an unchanged window stay
// idempotent.
func (m *Manager) Record(ctx context.Context, c domain.Conflict) (string, bool, error) {
	return m.conflicts.Insert(ctx, &c)
}

// RecordAll records every candidate and returns how many were newly created.
func (m *Manager) RecordAll(ctx context.Context, candidates []domain.Conflict) (int, error) {
	created := 0
	for _, c := range candidates {
		_, isNew, err := m.Record(ctx, c)
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
	}
	return created, nil
}

func (m *Manager) Get(ctx context.Context, id string) (domain.Conflict, error) {
	return m.conflicts.ByID(ctx, id)
}

func (m *Manager) List(ctx context.Context, status domain.ConflictStatus, limit int) ([]domain.Conflict, error) {
	return m.conflicts.List(ctx, status, limit)
}

// Acknowledge moves an active conflict to acknowledged. The transition fails
// with ErrInvalidState when the conflict is in any terminal status already.
func (m *Manager) Acknowledge(ctx context.Context, id, userID string) error {
	return m.transition(ctx, id, domain.ConflictAcknowledged, userID)
}

// Ignore moves an active conflict to ignored.
func (m *Manager) Ignore(ctx context.Context, id, userID string) error {
	return m.transition(ctx, id, domain.ConflictIgnored, userID)
}

func (m *Manager) transition(ctx context.Context, id string, to domain.ConflictStatus, userID string) error {
	ok, err := m.conflicts.Transition(ctx, id, to, userID)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := m.conflicts.ByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("conflict %s is not active: %w", id, domain.ErrInvalidState)
	}
	m.log.Info("conflict transitioned", "conflict_id", id, "status", to, "by", userID)
	return nil
}

// Resolve closes an active conflict, storing the chosen resolution and
// applying its actions against the event store. Reassignment is the action
// the store can execute directly; everything else is recorded for the caller.
func (m *Manager) Resolve(ctx context.Context, id string, r domain.Resolution, userID string) error {
	ok, err := m.conflicts.Resolve(ctx, id, r, userID)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := m.conflicts.ByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("conflict %s is not active: %w", id, domain.ErrInvalidState)
	}
	for _, action := range r.Actions {
		if err := m.apply(ctx, action); err != nil {
			m.log.Warn("resolution action failed", "conflict_id", id, "action", action.Type, "error", err)
		}
	}
	m.log.Info("conflict resolved", "conflict_id", id, "by", userID, "actions", len(r.Actions))
	return nil
}

func (m *Manager) apply(ctx context.Context, action domain.ResolutionAction) error {
	switch action.Type {
	case "reassign":
		if action.EventID == "" || action.AssignTo == "" {
			return fmt.Errorf("%w: reassign needs event_id and assign_to", domain.ErrValidation)
		}
		return m.events.ReassignInstance(ctx, action.EventID, action.AssignTo)
	default:
		m.log.Debug("resolution action recorded without side effect", "action", action.Type)
		return nil
	}
}

// Statistics aggregates conflicts detected over a trailing week, month or
// year.
func (m *Manager) Statistics(ctx context.Context, timeframe string) (domain.ConflictStats, error) {
	now := m.now().UTC()
	var since time.Time
	switch timeframe {
	case "", "week":
		timeframe = "week"
		since = now.AddDate(0, 0, -7)
	case "month":
		since = now.AddDate(0, 0, -30)
	case "year":
		since = now.AddDate(-1, 0, 0)
	default:
		return domain.ConflictStats{}, fmt.Errorf("%w: unknown timeframe %q", domain.ErrValidation, timeframe)
	}
	return m.conflicts.Stats(ctx, since, timeframe)
}

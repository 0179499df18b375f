package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hearthside/household-scheduler/internal/domain"
)

type ConflictStore struct {
	db *sql.DB
}

// affectedKey canonicalises the affected-event set so the active-conflict
// dedup key is order-independent.
func affectedKey(eventIDs []string) string {
	ids := append([]string(nil), eventIDs...)
	sort.Strings(ids)
	b, _ := json.Marshal(ids)
	return string(b)
}

// Insert persists a detected conflict as active. If an active conflict with
// the same type and affected-event set already exists, no new row is written
// and the existing conflict's id is returned with created=false.
func (s *ConflictStore) Insert(ctx context.Context, c *domain.Conflict) (id string, created bool, err error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Status = domain.ConflictActive
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}
	key := affectedKey(c.AffectedEvents)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts (
			id, type, severity, title, description, affected_events,
			affected_users, affected_resources, suggestions, status, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?)
		ON CONFLICT DO NOTHING`,
		c.ID, string(c.Type), string(c.Severity), c.Title, c.Description,
		key, marshal(c.AffectedUsers), marshal(c.AffectedResources),
		marshal(c.Suggestions), fmtTime(c.DetectedAt),
	)
	if err != nil {
		return "", false, fmt.Errorf("insert conflict: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return c.ID, true, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM conflicts WHERE type = ? AND affected_events = ? AND status = 'active'`,
		string(c.Type), key)
	var existing string
	if err := row.Scan(&existing); err != nil {
		return "", false, fmt.Errorf("lookup existing conflict: %w", err)
	}
	return existing, false, nil
}

func (s *ConflictStore) ByID(ctx context.Context, id string) (domain.Conflict, error) {
	row := s.db.QueryRowContext(ctx, conflictColumns+` WHERE id = ?`, id)
	return scanConflict(row)
}

// List returns conflicts ordered by severity (critical first) then detection
// time descending. Empty status means all statuses; limit <= 0 means no cap.
func (s *ConflictStore) List(ctx context.Context, status domain.ConflictStatus, limit int) ([]domain.Conflict, error) {
	query := conflictColumns
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += `
		ORDER BY CASE severity
			WHEN 'critical' THEN 1
			WHEN 'high' THEN 2
			WHEN 'medium' THEN 3
			ELSE 4
		END, detected_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()
	var out []domain.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Transition moves an active conflict into a terminal status, stamping who
// closed it and when. Returns false when the conflict was not active (or
// does not exist); active is the only non-terminal state.
func (s *ConflictStore) Transition(ctx context.Context, id string, to domain.ConflictStatus, userID string) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("%w: cannot transition to %q", domain.ErrValidation, to)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE conflicts SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = 'active'`,
		string(to), userID, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return false, fmt.Errorf("transition conflict: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Resolve closes an active conflict as resolved and records the chosen
// resolution. Returns false when the conflict was not active.
func (s *ConflictStore) Resolve(ctx context.Context, id string, r domain.Resolution, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conflicts SET status = 'resolved', resolved_by = ?, resolved_at = ?,
			resolution_actions = ?, resolution_data = ?
		WHERE id = ? AND status = 'active'`,
		userID, fmtTime(time.Now().UTC()), marshal(r.Actions), marshal(r.Data), id)
	if err != nil {
		return false, fmt.Errorf("resolve conflict: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Stats aggregates conflicts detected since the cutoff.
func (s *ConflictStore) Stats(ctx context.Context, since time.Time, timeframe string) (domain.ConflictStats, error) {
	stats := domain.ConflictStats{
		Timeframe:  timeframe,
		ByType:     map[domain.ConflictType]int{},
		BySeverity: map[domain.Severity]int{},
		ByStatus:   map[domain.ConflictStatus]int{},
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, severity, status FROM conflicts WHERE detected_at >= ?`, fmtTime(since))
	if err != nil {
		return stats, fmt.Errorf("conflict stats: %w", err)
	}
	defer rows.Close()
	resolved := 0
	for rows.Next() {
		var typ, sev, st string
		if err := rows.Scan(&typ, &sev, &st); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total++
		stats.ByType[domain.ConflictType(typ)]++
		stats.BySeverity[domain.Severity(sev)]++
		stats.ByStatus[domain.ConflictStatus(st)]++
		if domain.ConflictStatus(st) == domain.ConflictResolved {
			resolved++
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	if stats.Total > 0 {
		stats.ResolutionRate = float64(resolved) / float64(stats.Total)
	}
	return stats, nil
}

const conflictColumns = `
	SELECT id, type, severity, title, description, affected_events,
		affected_users, affected_resources, suggestions, status, detected_at,
		resolved_at, resolved_by, resolution_actions, resolution_data
	FROM conflicts`

func scanConflict(row rowScanner) (domain.Conflict, error) {
	var c domain.Conflict
	var desc, users, resources, suggestions, resolvedBy, actions, data sql.NullString
	var resolvedAt sql.NullString
	var typ, sev, status, events, detectedAt string
	err := row.Scan(&c.ID, &typ, &sev, &c.Title, &desc, &events, &users,
		&resources, &suggestions, &status, &detectedAt, &resolvedAt,
		&resolvedBy, &actions, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("conflict: %w", domain.ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("scan conflict: %w", err)
	}
	c.Type, c.Severity, c.Status = domain.ConflictType(typ), domain.Severity(sev), domain.ConflictStatus(status)
	c.Description = desc.String
	_ = json.Unmarshal([]byte(events), &c.AffectedEvents)
	c.AffectedUsers = unmarshal[[]string](users)
	c.AffectedResources = unmarshal[[]string](resources)
	c.Suggestions = unmarshal[[]string](suggestions)
	c.DetectedAt = parseTime(detectedAt)
	c.ResolvedAt = parseTimePtr(resolvedAt)
	c.ResolvedBy = resolvedBy.String
	c.ResolutionActions = unmarshal[[]domain.ResolutionAction](actions)
	c.ResolutionData = unmarshal[map[string]any](data)
	return c, nil
}

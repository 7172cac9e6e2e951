package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"rentproof/internal/domain"
)

// ListOverrides returns the override audit trail for a case, newest first.
// Entries are write-once; there is deliberately no update or delete here.
func (r Repo) ListOverrides(ctx context.Context, caseID string, limit int) ([]domain.OverrideLogEntry, error) {
	query := `SELECT id,case_id,actor_id,action,level,health_status,health_score,plan_id,reason,created_at FROM override_log WHERE case_id=? ORDER BY id DESC`
	args := []any{caseID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OverrideLogEntry
	for rows.Next() {
		var e domain.OverrideLogEntry
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.CaseID, &e.ActorID, &e.Action, &e.Level, &e.HealthStatus, &e.HealthScore, &e.PlanID, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if reason.Valid {
			e.Reason = &reason.String
		}
		res = append(res, e)
	}
	return res, nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, caseID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, caseID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, caseID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if caseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, caseID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,case_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, caseID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if caseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, caseID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,case_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID for a case.
func (r Repo) LatestEventID(ctx context.Context, caseID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE case_id=?`, caseID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var caseID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &caseID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if caseID.Valid {
			e.CaseID = caseID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

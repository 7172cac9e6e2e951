package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"rentproof/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append writes an audit event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, caseID, entityKind, entityID, actorID string, payload EventPayload) error {
	ts := w.now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,case_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(caseID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// AppendOverride records a user proceeding past a warned or soft-blocked
// decision. The row is append-only; nothing in the system updates or deletes
// it. An events row is written alongside so webhooks and the activity log see
// the override too.
func (w Writer) AppendOverride(ctx context.Context, tx *sql.Tx, entry domain.OverrideLogEntry) error {
	ts := w.now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO override_log(case_id,actor_id,action,level,health_status,health_score,plan_id,reason,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		entry.CaseID, entry.ActorID, entry.Action, entry.Level, entry.HealthStatus, entry.HealthScore, entry.PlanID, nullablePtr(entry.Reason), ts)
	if err != nil {
		return fmt.Errorf("insert override: %w", err)
	}
	return w.Append(ctx, tx, "override.recorded", entry.CaseID, "override", "", entry.ActorID, EventPayload{
		"action":        entry.Action,
		"level":         entry.Level,
		"health_status": entry.HealthStatus,
		"health_score":  entry.HealthScore,
		"plan_id":       entry.PlanID,
	})
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

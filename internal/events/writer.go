package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one audit event inside the caller's transaction, so the
// event lands iff the state change it describes lands.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, processID int64, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,process_id,entity_kind,entity_id,actor_id,payload) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, processID, entityKind, entityID, actorID, string(data))
	return err
}

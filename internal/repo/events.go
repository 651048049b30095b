package repo

import (
	"context"

	"sgc/internal/domain"
)

const eventCols = "id, ts, type, process_id, entity_kind, entity_id, actor_id, payload"

func scanEvent(scan func(dest ...any) error) (domain.Event, error) {
	var e domain.Event
	err := scan(&e.ID, &e.TS, &e.Type, &e.ProcessID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload)
	return e, err
}

// ListEvents returns the audit trail for a process, oldest first.
func (r Repo) ListEvents(ctx context.Context, processID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+eventCols+" FROM events WHERE process_id = ? ORDER BY id ASC LIMIT ?",
		processID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventsAfter returns up to limit events with an id greater than afterID,
// oldest first. Used by the webhook dispatcher cursor.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+eventCols+" FROM events WHERE id > ? ORDER BY id ASC LIMIT ?",
		afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM events").Scan(&id)
	return id, err
}

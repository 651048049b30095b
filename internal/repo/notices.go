package repo

import (
	"context"
	"database/sql"

	"sgc/internal/domain"
)

// Movements and alerts are append-only; both are written inside the
// transition's transaction so the audit trail matches the state change.

func (r Repo) InsertMovementTx(ctx context.Context, tx *sql.Tx, m domain.Movement) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO movements(id,subprocess_id,origin_unit,dest_unit,description,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.SubprocessID, m.OriginUnit, m.DestUnit, m.Description, m.CreatedAt)
	return err
}

func (r Repo) ListMovements(ctx context.Context, subprocessID int64) ([]domain.Movement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,subprocess_id,origin_unit,dest_unit,description,created_at
		FROM movements WHERE subprocess_id=? ORDER BY created_at DESC, id DESC`, subprocessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Movement
	for rows.Next() {
		var m domain.Movement
		if err := rows.Scan(&m.ID, &m.SubprocessID, &m.OriginUnit, &m.DestUnit, &m.Description, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) InsertAlertTx(ctx context.Context, tx *sql.Tx, a domain.Alert) error {
	var target any
	if a.TargetUser != nil {
		target = *a.TargetUser
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO alerts(id,process_id,origin_unit,dest_unit,target_user,description,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.ProcessID, a.OriginUnit, a.DestUnit, target, a.Description, a.CreatedAt)
	return err
}

// ListAlertsForUser returns alerts addressed to the user directly or to the
// user's unit, newest first, with the per-user read timestamp joined in.
func (r Repo) ListAlertsForUser(ctx context.Context, userID string, unitID int64) ([]domain.Alert, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT a.id,a.process_id,a.origin_unit,a.dest_unit,a.target_user,a.description,a.created_at,ar.read_at
		FROM alerts a
		LEFT JOIN alert_reads ar ON ar.alert_id=a.id AND ar.user_id=?
		WHERE a.target_user=? OR (a.target_user IS NULL AND a.dest_unit=?)
		ORDER BY a.created_at DESC, a.id DESC`, userID, userID, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var target, readAt sql.NullString
		if err := rows.Scan(&a.ID, &a.ProcessID, &a.OriginUnit, &a.DestUnit, &target, &a.Description, &a.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		a.TargetUser = strPtr(target)
		a.ReadAt = strPtr(readAt)
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) MarkAlertRead(ctx context.Context, alertID, userID, readAt string) error {
	var exists int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM alerts WHERE id=?`, alertID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO alert_reads(alert_id,user_id,read_at) VALUES (?,?,?)
		ON CONFLICT(alert_id,user_id) DO NOTHING`, alertID, userID, readAt)
	return err
}

func (r Repo) CountUnreadAlerts(ctx context.Context, userID string, unitID int64) (int, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts a
		LEFT JOIN alert_reads ar ON ar.alert_id=a.id AND ar.user_id=?
		WHERE (a.target_user=? OR (a.target_user IS NULL AND a.dest_unit=?)) AND ar.read_at IS NULL`,
		userID, userID, unitID)
	var n int
	err := row.Scan(&n)
	return n, err
}

// Panel counters for the dashboard.

func (r Repo) CountProcessesBySituation(ctx context.Context) (map[domain.ProcessSituation]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT situation, COUNT(*) FROM processes GROUP BY situation`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.ProcessSituation]int{}
	for rows.Next() {
		var s domain.ProcessSituation
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		res[s] = n
	}
	return res, rows.Err()
}

func (r Repo) CountSubprocessesBySituation(ctx context.Context, processID int64) (map[domain.Situation]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT situation, COUNT(*) FROM subprocesses WHERE process_id=? GROUP BY situation`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.Situation]int{}
	for rows.Next() {
		var s domain.Situation
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		res[s] = n
	}
	return res, rows.Err()
}

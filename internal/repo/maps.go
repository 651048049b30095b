package repo

import (
	"context"
	"database/sql"

	"sgc/internal/domain"
	"sgc/internal/mapdiff"
)

// Maps and their competency content. Activities and competencies cascade
// with the map; the diff engine only ever sees the Snapshot view.

func (r Repo) InsertMapTx(ctx context.Context, tx *sql.Tx, m domain.Map) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO maps(subprocess_id,suggestions) VALUES (?,?)`,
		m.SubprocessID, m.Suggestions)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetMap(ctx context.Context, id int64) (domain.Map, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,subprocess_id,disponibilizado_at,homologado_at,suggestions FROM maps WHERE id=?`, id)
	var m domain.Map
	var disp, homo sql.NullString
	err := row.Scan(&m.ID, &m.SubprocessID, &disp, &homo, &m.Suggestions)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.DisponibilizadoAt = strPtr(disp)
	m.HomologadoAt = strPtr(homo)
	return m, nil
}

func (r Repo) SetMapDisponibilizadoTx(ctx context.Context, tx *sql.Tx, id int64, at string) error {
	_, err := tx.ExecContext(ctx, `UPDATE maps SET disponibilizado_at=? WHERE id=?`, at, id)
	return err
}

func (r Repo) SetMapHomologadoTx(ctx context.Context, tx *sql.Tx, id int64, at string) error {
	_, err := tx.ExecContext(ctx, `UPDATE maps SET homologado_at=? WHERE id=?`, at, id)
	return err
}

func (r Repo) SetMapSuggestions(ctx context.Context, id int64, suggestions string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE maps SET suggestions=? WHERE id=?`, suggestions, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Activities

func (r Repo) InsertActivity(ctx context.Context, a domain.Activity) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO activities(map_id,description) VALUES (?,?)`, a.MapID, a.Description)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, k := range a.Knowledge {
		if _, err := r.DB.ExecContext(ctx, `INSERT INTO knowledge(activity_id,description) VALUES (?,?)`, id, k); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (r Repo) UpdateActivity(ctx context.Context, a domain.Activity) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE activities SET description=? WHERE id=?`, a.Description, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM knowledge WHERE activity_id=?`, a.ID); err != nil {
		return err
	}
	for _, k := range a.Knowledge {
		if _, err := r.DB.ExecContext(ctx, `INSERT INTO knowledge(activity_id,description) VALUES (?,?)`, a.ID, k); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) DeleteActivity(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM activities WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListActivities(ctx context.Context, mapID int64) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,map_id,description FROM activities WHERE map_id=? ORDER BY id`, mapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.MapID, &a.Description); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		krows, err := r.DB.QueryContext(ctx, `SELECT description FROM knowledge WHERE activity_id=? ORDER BY id`, res[i].ID)
		if err != nil {
			return nil, err
		}
		for krows.Next() {
			var k string
			if err := krows.Scan(&k); err != nil {
				krows.Close()
				return nil, err
			}
			res[i].Knowledge = append(res[i].Knowledge, k)
		}
		if err := krows.Err(); err != nil {
			krows.Close()
			return nil, err
		}
		krows.Close()
	}
	return res, nil
}

// Competencies

func (r Repo) InsertCompetency(ctx context.Context, c domain.Competency) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO competencies(map_id,description) VALUES (?,?)`, c.MapID, c.Description)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, aid := range c.ActivityIDs {
		if _, err := r.DB.ExecContext(ctx, `INSERT INTO competency_activities(competency_id,activity_id) VALUES (?,?)`, id, aid); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (r Repo) UpdateCompetency(ctx context.Context, c domain.Competency) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE competencies SET description=? WHERE id=?`, c.Description, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM competency_activities WHERE competency_id=?`, c.ID); err != nil {
		return err
	}
	for _, aid := range c.ActivityIDs {
		if _, err := r.DB.ExecContext(ctx, `INSERT INTO competency_activities(competency_id,activity_id) VALUES (?,?)`, c.ID, aid); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) DeleteCompetency(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM competencies WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListCompetencies(ctx context.Context, mapID int64) ([]domain.Competency, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,map_id,description FROM competencies WHERE map_id=? ORDER BY id`, mapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Competency
	for rows.Next() {
		var c domain.Competency
		if err := rows.Scan(&c.ID, &c.MapID, &c.Description); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		arows, err := r.DB.QueryContext(ctx, `SELECT activity_id FROM competency_activities WHERE competency_id=? ORDER BY activity_id`, res[i].ID)
		if err != nil {
			return nil, err
		}
		for arows.Next() {
			var aid int64
			if err := arows.Scan(&aid); err != nil {
				arows.Close()
				return nil, err
			}
			res[i].ActivityIDs = append(res[i].ActivityIDs, aid)
		}
		if err := arows.Err(); err != nil {
			arows.Close()
			return nil, err
		}
		arows.Close()
	}
	return res, nil
}

// Snapshot materializes a map's content in the shape the diff engine
// consumes: descriptions only, no row identities.
func (r Repo) Snapshot(ctx context.Context, mapID int64) (mapdiff.Snapshot, error) {
	var snap mapdiff.Snapshot

	activities, err := r.ListActivities(ctx, mapID)
	if err != nil {
		return snap, err
	}
	byID := make(map[int64]string, len(activities))
	for _, a := range activities {
		byID[a.ID] = a.Description
		snap.Activities = append(snap.Activities, mapdiff.SnapshotActivity{
			Description: a.Description,
			Knowledge:   a.Knowledge,
		})
	}

	competencies, err := r.ListCompetencies(ctx, mapID)
	if err != nil {
		return snap, err
	}
	for _, c := range competencies {
		sc := mapdiff.SnapshotCompetency{Description: c.Description}
		for _, aid := range c.ActivityIDs {
			if desc, ok := byID[aid]; ok {
				sc.Activities = append(sc.Activities, desc)
			}
		}
		snap.Competencies = append(snap.Competencies, sc)
	}
	return snap, nil
}

// CopyMapTx clones a map's activities, their knowledge and the competency
// links into a fresh map owned by subprocessID. A revision subprocess
// starts from a copy of the unit's homologated map and edits that copy.
func (r Repo) CopyMapTx(ctx context.Context, tx *sql.Tx, sourceMapID, subprocessID int64) (int64, error) {
	type sourceActivity struct {
		id          int64
		description string
		knowledge   []string
	}
	var activities []sourceActivity
	rows, err := tx.QueryContext(ctx, `SELECT id,description FROM activities WHERE map_id=? ORDER BY id`, sourceMapID)
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var a sourceActivity
		if err := rows.Scan(&a.id, &a.description); err != nil {
			rows.Close()
			return 0, err
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()
	for i := range activities {
		krows, err := tx.QueryContext(ctx, `SELECT description FROM knowledge WHERE activity_id=? ORDER BY id`, activities[i].id)
		if err != nil {
			return 0, err
		}
		for krows.Next() {
			var k string
			if err := krows.Scan(&k); err != nil {
				krows.Close()
				return 0, err
			}
			activities[i].knowledge = append(activities[i].knowledge, k)
		}
		if err := krows.Err(); err != nil {
			krows.Close()
			return 0, err
		}
		krows.Close()
	}

	type sourceCompetency struct {
		id          int64
		description string
		activityIDs []int64
	}
	var competencies []sourceCompetency
	crows, err := tx.QueryContext(ctx, `SELECT id,description FROM competencies WHERE map_id=? ORDER BY id`, sourceMapID)
	if err != nil {
		return 0, err
	}
	for crows.Next() {
		var c sourceCompetency
		if err := crows.Scan(&c.id, &c.description); err != nil {
			crows.Close()
			return 0, err
		}
		competencies = append(competencies, c)
	}
	if err := crows.Err(); err != nil {
		crows.Close()
		return 0, err
	}
	crows.Close()
	for i := range competencies {
		arows, err := tx.QueryContext(ctx, `SELECT activity_id FROM competency_activities WHERE competency_id=? ORDER BY activity_id`, competencies[i].id)
		if err != nil {
			return 0, err
		}
		for arows.Next() {
			var aid int64
			if err := arows.Scan(&aid); err != nil {
				arows.Close()
				return 0, err
			}
			competencies[i].activityIDs = append(competencies[i].activityIDs, aid)
		}
		if err := arows.Err(); err != nil {
			arows.Close()
			return 0, err
		}
		arows.Close()
	}

	newID, err := r.InsertMapTx(ctx, tx, domain.Map{SubprocessID: subprocessID})
	if err != nil {
		return 0, err
	}
	newActivityID := make(map[int64]int64, len(activities))
	for _, a := range activities {
		res, err := tx.ExecContext(ctx, `INSERT INTO activities(map_id,description) VALUES (?,?)`, newID, a.description)
		if err != nil {
			return 0, err
		}
		aid, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		newActivityID[a.id] = aid
		for _, k := range a.knowledge {
			if _, err := tx.ExecContext(ctx, `INSERT INTO knowledge(activity_id,description) VALUES (?,?)`, aid, k); err != nil {
				return 0, err
			}
		}
	}
	for _, c := range competencies {
		res, err := tx.ExecContext(ctx, `INSERT INTO competencies(map_id,description) VALUES (?,?)`, newID, c.description)
		if err != nil {
			return 0, err
		}
		cid, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		for _, aid := range c.activityIDs {
			nid, ok := newActivityID[aid]
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO competency_activities(competency_id,activity_id) VALUES (?,?)`, cid, nid); err != nil {
				return 0, err
			}
		}
	}
	return newID, nil
}

// HomologatedBaseline finds the most recent homologated map for a unit,
// the reference the revision guards diff against. ErrNotFound means the
// unit has no approved map yet.
func (r Repo) HomologatedBaseline(ctx context.Context, unitID int64) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT m.id FROM maps m
		JOIN subprocesses s ON s.id=m.subprocess_id
		WHERE s.unit_id=? AND m.homologado_at IS NOT NULL
		ORDER BY m.homologado_at DESC, m.id DESC LIMIT 1`, unitID)
	var id int64
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

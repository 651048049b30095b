package repo

import (
	"context"
	"database/sql"
	"errors"

	"sgc/internal/domain"
	"sgc/internal/hierarchy"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// Units

func (r Repo) InsertUnit(ctx context.Context, u domain.Unit) error {
	var parent any
	if u.ParentID != nil {
		parent = *u.ParentID
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO units(id,sigla,name,kind,parent_id,holder_id) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Sigla, u.Name, u.Kind, parent, u.HolderID)
	return err
}

func scanUnit(scan func(dest ...any) error) (domain.Unit, error) {
	var u domain.Unit
	var parent sql.NullInt64
	err := scan(&u.ID, &u.Sigla, &u.Name, &u.Kind, &parent, &u.HolderID)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if parent.Valid {
		p := parent.Int64
		u.ParentID = &p
	}
	return u, err
}

func (r Repo) GetUnit(ctx context.Context, id int64) (domain.Unit, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,sigla,name,kind,parent_id,holder_id FROM units WHERE id=?`, id)
	return scanUnit(row.Scan)
}

func (r Repo) GetUnitBySigla(ctx context.Context, sigla string) (domain.Unit, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,sigla,name,kind,parent_id,holder_id FROM units WHERE sigla=?`, sigla)
	return scanUnit(row.Scan)
}

func (r Repo) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,sigla,name,kind,parent_id,holder_id FROM units ORDER BY sigla`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// Tree loads every unit and builds the hierarchy snapshot used by the
// policy evaluator and the state machine.
func (r Repo) Tree(ctx context.Context) (*hierarchy.Tree, error) {
	units, err := r.ListUnits(ctx)
	if err != nil {
		return nil, err
	}
	return hierarchy.New(units)
}

// Users

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,profile,unit_id) VALUES (?,?,?,?)`,
		u.ID, u.Name, u.Profile, u.UnitID)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT u.id,u.name,u.profile,u.unit_id,un.sigla
		FROM users u JOIN units un ON un.id=u.unit_id WHERE u.id=?`, id)
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Profile, &u.UnitID, &u.UnitSigla)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.id,u.name,u.profile,u.unit_id,un.sigla
		FROM users u JOIN units un ON un.id=u.unit_id ORDER BY u.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Profile, &u.UnitID, &u.UnitSigla); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// Processes

func (r Repo) InsertProcess(ctx context.Context, p domain.Process) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO processes(description,type,situation,created_at,deadline_at) VALUES (?,?,?,?,?)`,
		p.Description, p.Type, p.Situation, p.CreatedAt, nullableStr(p.DeadlineAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetProcess(ctx context.Context, id int64) (domain.Process, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,description,type,situation,created_at,deadline_at,finalized_at FROM processes WHERE id=?`, id)
	var p domain.Process
	var deadline, finalized sql.NullString
	err := row.Scan(&p.ID, &p.Description, &p.Type, &p.Situation, &p.CreatedAt, &deadline, &finalized)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.DeadlineAt = strPtr(deadline)
	p.FinalizedAt = strPtr(finalized)

	rows, err := r.DB.QueryContext(ctx, `SELECT unit_id FROM process_units WHERE process_id=? ORDER BY unit_id`, id)
	if err != nil {
		return p, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return p, err
		}
		p.Participants = append(p.Participants, uid)
	}
	return p, rows.Err()
}

func (r Repo) ListProcesses(ctx context.Context) ([]domain.Process, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,description,type,situation,created_at,deadline_at,finalized_at FROM processes ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Process
	for rows.Next() {
		var p domain.Process
		var deadline, finalized sql.NullString
		if err := rows.Scan(&p.ID, &p.Description, &p.Type, &p.Situation, &p.CreatedAt, &deadline, &finalized); err != nil {
			return nil, err
		}
		p.DeadlineAt = strPtr(deadline)
		p.FinalizedAt = strPtr(finalized)
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertProcessUnitTx(ctx context.Context, tx *sql.Tx, processID, unitID int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO process_units(process_id,unit_id) VALUES (?,?)`, processID, unitID)
	return err
}

func (r Repo) UpdateProcessSituationTx(ctx context.Context, tx *sql.Tx, id int64, situation domain.ProcessSituation, finalizedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE processes SET situation=?, finalized_at=? WHERE id=?`,
		situation, nullableStr(finalizedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateProcessDeadline(ctx context.Context, id int64, deadline string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE processes SET deadline_at=? WHERE id=?`, nullable(deadline), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Subprocesses

func (r Repo) InsertSubprocessTx(ctx context.Context, tx *sql.Tx, sp domain.Subprocess) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO subprocesses(process_id,unit_id,situation,stage1_deadline,stage2_deadline) VALUES (?,?,?,?,?)`,
		sp.ProcessID, sp.UnitID, sp.Situation, nullableStr(sp.Stage1Deadline), nullableStr(sp.Stage2Deadline))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) SetSubprocessMapTx(ctx context.Context, tx *sql.Tx, subprocessID, mapID int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE subprocesses SET map_id=? WHERE id=?`, mapID, subprocessID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubprocess(scan func(dest ...any) error) (domain.Subprocess, error) {
	var sp domain.Subprocess
	var mapID sql.NullInt64
	var s1d, s1c, s2d, s2c sql.NullString
	err := scan(&sp.ID, &sp.ProcessID, &sp.ProcessType, &sp.UnitID, &sp.Situation, &mapID, &s1d, &s1c, &s2d, &s2c)
	if err == sql.ErrNoRows {
		return sp, ErrNotFound
	}
	if err != nil {
		return sp, err
	}
	if mapID.Valid {
		m := mapID.Int64
		sp.MapID = &m
	}
	sp.Stage1Deadline = strPtr(s1d)
	sp.Stage1DoneAt = strPtr(s1c)
	sp.Stage2Deadline = strPtr(s2d)
	sp.Stage2DoneAt = strPtr(s2c)
	return sp, nil
}

const subprocessCols = `s.id,s.process_id,p.type,s.unit_id,s.situation,s.map_id,s.stage1_deadline,s.stage1_done_at,s.stage2_deadline,s.stage2_done_at`

func (r Repo) GetSubprocess(ctx context.Context, id int64) (domain.Subprocess, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+subprocessCols+` FROM subprocesses s JOIN processes p ON p.id=s.process_id WHERE s.id=?`, id)
	return scanSubprocess(row.Scan)
}

func (r Repo) ListSubprocesses(ctx context.Context, processID int64) ([]domain.Subprocess, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+subprocessCols+` FROM subprocesses s JOIN processes p ON p.id=s.process_id WHERE s.process_id=? ORDER BY s.id`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subprocess
	for rows.Next() {
		sp, err := scanSubprocess(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, sp)
	}
	return res, rows.Err()
}

// UpdateSubprocessTx overwrites the mutable workflow columns from the
// struct after a transition.
func (r Repo) UpdateSubprocessTx(ctx context.Context, tx *sql.Tx, sp domain.Subprocess) error {
	var mapID any
	if sp.MapID != nil {
		mapID = *sp.MapID
	}
	res, err := tx.ExecContext(ctx, `UPDATE subprocesses SET situation=?, map_id=?, stage1_done_at=?, stage2_done_at=? WHERE id=?`,
		sp.Situation, mapID, nullableStr(sp.Stage1DoneAt), nullableStr(sp.Stage2DoneAt), sp.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateSubprocessDeadlines(ctx context.Context, id int64, stage1, stage2 *string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE subprocesses SET stage1_deadline=?, stage2_deadline=? WHERE id=?`,
		nullableStr(stage1), nullableStr(stage2), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

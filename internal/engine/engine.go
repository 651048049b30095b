package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sgc/internal/access"
	"sgc/internal/config"
	"sgc/internal/domain"
	"sgc/internal/events"
	"sgc/internal/lifecycle"
	"sgc/internal/mapdiff"
	"sgc/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// machine builds the state machine over the current unit tree. The tree is
// reloaded per call so directory imports take effect without restarts.
func (e Engine) machine(ctx context.Context) (*lifecycle.Machine, error) {
	tree, err := e.Repo.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("load unit tree: %w", err)
	}
	rules := access.DefaultRules()
	if e.Config != nil && len(e.Config.Policies.Actions) > 0 {
		rules, err = e.Config.Rules()
		if err != nil {
			return nil, err
		}
	}
	m := lifecycle.New(tree, access.NewEvaluator(tree, rules))
	m.Now = e.now
	return m, nil
}

// ImportDirectory replaces nothing: it inserts the externally sourced units
// and users the workflow reads. Units must arrive parents-first.
func (e Engine) ImportDirectory(ctx context.Context, units []domain.Unit, users []domain.User, actorID string) error {
	for _, u := range units {
		if err := e.Repo.InsertUnit(ctx, u); err != nil {
			return fmt.Errorf("insert unit %s: %w", u.Sigla, err)
		}
	}
	for _, u := range users {
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			return fmt.Errorf("insert user %s: %w", u.ID, err)
		}
	}
	return nil
}

// ProcessCreateOptions are parameters for creating a process.
type ProcessCreateOptions struct {
	Description string
	Type        domain.ProcessType
	DeadlineAt  string
	UnitIDs     []int64
	ActorID     string
}

func (e Engine) CreateProcess(ctx context.Context, opts ProcessCreateOptions) (domain.Process, error) {
	if opts.Description == "" {
		return domain.Process{}, errors.New("description is required")
	}
	switch opts.Type {
	case domain.ProcessMapeamento, domain.ProcessRevisao, domain.ProcessDiagnostico:
	default:
		return domain.Process{}, fmt.Errorf("unknown process type %s", opts.Type)
	}
	if len(opts.UnitIDs) == 0 {
		return domain.Process{}, errors.New("at least one participating unit is required")
	}
	var semMapaVigente []string
	for _, uid := range opts.UnitIDs {
		unit, err := e.Repo.GetUnit(ctx, uid)
		if err != nil {
			return domain.Process{}, fmt.Errorf("unit %d: %w", uid, err)
		}
		if opts.Type != domain.ProcessRevisao {
			continue
		}
		if _, err := e.Repo.HomologatedBaseline(ctx, uid); err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				return domain.Process{}, err
			}
			semMapaVigente = append(semMapaVigente, unit.Sigla)
		}
	}
	if len(semMapaVigente) > 0 {
		return domain.Process{}, fmt.Errorf("as seguintes unidades não possuem mapa vigente e não podem participar de um processo de revisão: %s", strings.Join(semMapaVigente, ", "))
	}

	p := domain.Process{
		Description: opts.Description,
		Type:        opts.Type,
		Situation:   domain.ProcessCriado,
		CreatedAt:   e.nowStr(),
	}
	if opts.DeadlineAt != "" {
		p.DeadlineAt = &opts.DeadlineAt
	}
	id, err := e.Repo.InsertProcess(ctx, p)
	if err != nil {
		return domain.Process{}, fmt.Errorf("insert process: %w", err)
	}
	p.ID = id

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()
	for _, uid := range opts.UnitIDs {
		if err := e.Repo.InsertProcessUnitTx(ctx, tx, id, uid); err != nil {
			return domain.Process{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "processo.criado", id, "processo", fmt.Sprint(id), opts.ActorID, events.EventPayload{
		"tipo":     string(p.Type),
		"unidades": opts.UnitIDs,
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	p.Participants = opts.UnitIDs
	return p, nil
}

// StartProcess moves a process to EM_ANDAMENTO and fans it out: one
// subprocess per participating unit, each starting at NAO_INICIADO, plus an
// alert to every unit holder. Revision subprocesses additionally receive a
// copy of their unit's homologated map as the draft to revise. The
// participant set is frozen from here on.
func (e Engine) StartProcess(ctx context.Context, processID int64, actorID string) (domain.Process, error) {
	p, err := e.Repo.GetProcess(ctx, processID)
	if err != nil {
		return p, err
	}
	if p.Situation != domain.ProcessCriado {
		return p, fmt.Errorf("process %d is %s; only CRIADO processes can start", processID, p.Situation)
	}
	if len(p.Participants) == 0 {
		return p, errors.New("process has no participating units")
	}

	baselines := make(map[int64]int64)
	if p.Type == domain.ProcessRevisao {
		for _, uid := range p.Participants {
			baselineID, err := e.Repo.HomologatedBaseline(ctx, uid)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					unit, uerr := e.Repo.GetUnit(ctx, uid)
					if uerr != nil {
						return p, uerr
					}
					return p, fmt.Errorf("configuração de mapa vigente não encontrada para a unidade %s", unit.Sigla)
				}
				return p, err
			}
			baselines[uid] = baselineID
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	now := e.nowStr()
	for _, uid := range p.Participants {
		sp := domain.Subprocess{
			ProcessID: processID,
			UnitID:    uid,
			Situation: domain.NaoIniciado,
		}
		if p.DeadlineAt != nil {
			d := *p.DeadlineAt
			sp.Stage1Deadline = &d
		}
		spID, err := e.Repo.InsertSubprocessTx(ctx, tx, sp)
		if err != nil {
			return p, fmt.Errorf("insert subprocess for unit %d: %w", uid, err)
		}
		if baselineID, ok := baselines[uid]; ok {
			mapID, err := e.Repo.CopyMapTx(ctx, tx, baselineID, spID)
			if err != nil {
				return p, fmt.Errorf("copy map for unit %d: %w", uid, err)
			}
			if err := e.Repo.SetSubprocessMapTx(ctx, tx, spID, mapID); err != nil {
				return p, err
			}
		}
		unit, err := e.Repo.GetUnit(ctx, uid)
		if err != nil {
			return p, err
		}
		alert := domain.Alert{
			ID:          uuid.NewString(),
			ProcessID:   processID,
			OriginUnit:  uid,
			DestUnit:    uid,
			Description: fmt.Sprintf("Processo '%s' iniciado para a unidade %s", p.Description, unit.Sigla),
			CreatedAt:   now,
		}
		if unit.HolderID != "" {
			holder := unit.HolderID
			alert.TargetUser = &holder
		}
		if err := e.Repo.InsertAlertTx(ctx, tx, alert); err != nil {
			return p, err
		}
	}
	if err := e.Repo.UpdateProcessSituationTx(ctx, tx, processID, domain.ProcessEmAndamento, nil); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "processo.iniciado", processID, "processo", fmt.Sprint(processID), actorID, events.EventPayload{
		"unidades": p.Participants,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Situation = domain.ProcessEmAndamento
	return p, nil
}

// TransitionOptions identify one workflow action request.
type TransitionOptions struct {
	SubprocessID int64
	Action       domain.Action
	ActorID      string
}

// TransitionOutcome pairs the state machine's verdict with the subprocess
// as persisted. Business failures live in Result.Kind; error is reserved
// for infrastructure problems.
type TransitionOutcome struct {
	Result     lifecycle.Result
	Subprocess domain.Subprocess
}

func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (TransitionOutcome, error) {
	sp, err := e.Repo.GetSubprocess(ctx, opts.SubprocessID)
	if err != nil {
		return TransitionOutcome{}, err
	}
	actor, err := e.Repo.GetUser(ctx, opts.ActorID)
	if err != nil {
		return TransitionOutcome{}, fmt.Errorf("actor %s: %w", opts.ActorID, err)
	}
	m, err := e.machine(ctx)
	if err != nil {
		return TransitionOutcome{}, err
	}

	in := lifecycle.TransitionInput{Subprocess: sp, Action: opts.Action, Actor: actor}
	if sp.ProcessType == domain.ProcessRevisao &&
		(opts.Action == domain.ActionDisponibilizarRevisao || opts.Action == domain.ActionDisponibilizarMapa) {
		baselineID, err := e.Repo.HomologatedBaseline(ctx, sp.UnitID)
		if err == nil {
			snap, err := e.Repo.Snapshot(ctx, baselineID)
			if err != nil {
				return TransitionOutcome{}, err
			}
			in.Baseline = &snap
		} else if !errors.Is(err, repo.ErrNotFound) {
			return TransitionOutcome{}, err
		}
		if sp.MapID != nil {
			draft, err := e.Repo.Snapshot(ctx, *sp.MapID)
			if err != nil {
				return TransitionOutcome{}, err
			}
			in.Draft = &draft
		}
	}

	res := m.Transition(in)
	if res.Kind != lifecycle.KindOK {
		return TransitionOutcome{Result: res, Subprocess: sp}, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionOutcome{}, err
	}
	defer tx.Rollback()

	now := e.nowStr()
	eff := res.Effects
	sp.Situation = eff.Situation
	if eff.ClosesStage1 {
		sp.Stage1DoneAt = &now
	}
	if eff.ClearsStage1 {
		sp.Stage1DoneAt = nil
	}
	if eff.ClosesStage2 {
		sp.Stage2DoneAt = &now
	}

	if opts.Action == domain.ActionCriarMapa && sp.MapID == nil {
		mapID, err := e.Repo.InsertMapTx(ctx, tx, domain.Map{SubprocessID: sp.ID})
		if err != nil {
			return TransitionOutcome{}, fmt.Errorf("create map: %w", err)
		}
		sp.MapID = &mapID
	}
	if sp.MapID != nil {
		switch opts.Action {
		case domain.ActionDisponibilizarMapa:
			if err := e.Repo.SetMapDisponibilizadoTx(ctx, tx, *sp.MapID, now); err != nil {
				return TransitionOutcome{}, err
			}
		case domain.ActionHomologarMapa:
			if err := e.Repo.SetMapHomologadoTx(ctx, tx, *sp.MapID, now); err != nil {
				return TransitionOutcome{}, err
			}
		}
	}

	if err := e.Repo.UpdateSubprocessTx(ctx, tx, sp); err != nil {
		return TransitionOutcome{}, err
	}
	for _, mv := range eff.Movements {
		if err := e.Repo.InsertMovementTx(ctx, tx, mv); err != nil {
			return TransitionOutcome{}, err
		}
	}
	for _, al := range eff.Alerts {
		if err := e.Repo.InsertAlertTx(ctx, tx, al); err != nil {
			return TransitionOutcome{}, err
		}
	}
	payload := events.EventPayload{
		"acao":     string(opts.Action),
		"situacao": string(eff.Situation),
	}
	if eff.Impact != nil {
		payload["impacto"] = eff.Impact.HasImpact
	}
	if err := e.Events.Append(ctx, tx, "subprocesso.transicao", sp.ProcessID, "subprocesso", fmt.Sprint(sp.ID), opts.ActorID, payload); err != nil {
		return TransitionOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionOutcome{}, err
	}
	return TransitionOutcome{Result: res, Subprocess: sp}, nil
}

// FinalizeProcess closes a process once every subprocess reached its
// terminal situation. The pending-unit list comes back in the result, not
// as an error.
func (e Engine) FinalizeProcess(ctx context.Context, processID int64, actorID string) (lifecycle.Result, error) {
	p, err := e.Repo.GetProcess(ctx, processID)
	if err != nil {
		return lifecycle.Result{}, err
	}
	subs, err := e.Repo.ListSubprocesses(ctx, processID)
	if err != nil {
		return lifecycle.Result{}, err
	}
	m, err := e.machine(ctx)
	if err != nil {
		return lifecycle.Result{}, err
	}
	res := m.FinalizeProcess(p, subs)
	if res.Kind != lifecycle.KindOK {
		return res, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return lifecycle.Result{}, err
	}
	defer tx.Rollback()
	now := e.nowStr()
	if err := e.Repo.UpdateProcessSituationTx(ctx, tx, processID, domain.ProcessFinalizado, &now); err != nil {
		return lifecycle.Result{}, err
	}
	for _, al := range res.Effects.Alerts {
		if err := e.Repo.InsertAlertTx(ctx, tx, al); err != nil {
			return lifecycle.Result{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "processo.finalizado", processID, "processo", fmt.Sprint(processID), actorID, nil); err != nil {
		return lifecycle.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return lifecycle.Result{}, err
	}
	return res, nil
}

// ChangeSubprocessDeadline adjusts a stage deadline and warns the unit.
func (e Engine) ChangeSubprocessDeadline(ctx context.Context, subprocessID int64, stage int, deadline, actorID string) error {
	sp, err := e.Repo.GetSubprocess(ctx, subprocessID)
	if err != nil {
		return err
	}
	switch stage {
	case 1:
		sp.Stage1Deadline = &deadline
	case 2:
		sp.Stage2Deadline = &deadline
	default:
		return fmt.Errorf("stage must be 1 or 2, got %d", stage)
	}
	if err := e.Repo.UpdateSubprocessDeadlines(ctx, subprocessID, sp.Stage1Deadline, sp.Stage2Deadline); err != nil {
		return err
	}
	unit, err := e.Repo.GetUnit(ctx, sp.UnitID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	alert := domain.Alert{
		ID:          uuid.NewString(),
		ProcessID:   sp.ProcessID,
		OriginUnit:  sp.UnitID,
		DestUnit:    sp.UnitID,
		Description: fmt.Sprintf("Data limite da etapa %d alterada para %s", stage, deadline),
		CreatedAt:   e.nowStr(),
	}
	if unit.HolderID != "" {
		holder := unit.HolderID
		alert.TargetUser = &holder
	}
	if err := e.Repo.InsertAlertTx(ctx, tx, alert); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "subprocesso.data_limite", sp.ProcessID, "subprocesso", fmt.Sprint(sp.ID), actorID, events.EventPayload{
		"etapa": stage,
		"data":  deadline,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ImpactReport diffs the unit's homologated baseline against the
// subprocess's current draft map.
func (e Engine) ImpactReport(ctx context.Context, subprocessID int64) (mapdiff.Report, error) {
	sp, err := e.Repo.GetSubprocess(ctx, subprocessID)
	if err != nil {
		return mapdiff.Report{}, err
	}
	baselineID, err := e.Repo.HomologatedBaseline(ctx, sp.UnitID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return mapdiff.Report{}, fmt.Errorf("unit %d has no homologated map to compare against", sp.UnitID)
		}
		return mapdiff.Report{}, err
	}
	baseline, err := e.Repo.Snapshot(ctx, baselineID)
	if err != nil {
		return mapdiff.Report{}, err
	}
	var draft mapdiff.Snapshot
	if sp.MapID != nil {
		draft, err = e.Repo.Snapshot(ctx, *sp.MapID)
		if err != nil {
			return mapdiff.Report{}, err
		}
	}
	return mapdiff.Compare(baseline, draft), nil
}

// ListAlerts returns the actor's alerts, unit-wide and personal.
func (e Engine) ListAlerts(ctx context.Context, userID string) ([]domain.Alert, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListAlertsForUser(ctx, userID, u.UnitID)
}

func (e Engine) MarkAlertRead(ctx context.Context, alertID, userID string) error {
	return e.Repo.MarkAlertRead(ctx, alertID, userID, e.nowStr())
}

// Panel is the dashboard summary: process counts overall, subprocess
// counts for one process when requested.
type Panel struct {
	Processes    map[domain.ProcessSituation]int `json:"processos"`
	Subprocesses map[domain.Situation]int        `json:"subprocessos,omitempty"`
	UnreadAlerts int                             `json:"alertas_nao_lidos"`
}

func (e Engine) PanelCounters(ctx context.Context, userID string, processID int64) (Panel, error) {
	var panel Panel
	var err error
	panel.Processes, err = e.Repo.CountProcessesBySituation(ctx)
	if err != nil {
		return panel, err
	}
	if processID != 0 {
		panel.Subprocesses, err = e.Repo.CountSubprocessesBySituation(ctx, processID)
		if err != nil {
			return panel, err
		}
	}
	if userID != "" {
		u, err := e.Repo.GetUser(ctx, userID)
		if err != nil {
			return panel, err
		}
		panel.UnreadAlerts, err = e.Repo.CountUnreadAlerts(ctx, userID, u.UnitID)
		if err != nil {
			return panel, err
		}
	}
	return panel, nil
}

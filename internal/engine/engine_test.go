package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"sgc/internal/config"
	"sgc/internal/db"
	"sgc/internal/domain"
	"sgc/internal/engine"
	"sgc/internal/lifecycle"
	"sgc/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func ptr(v int64) *int64 { return &v }

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("sgc-teste")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	units := []domain.Unit{
		{ID: 1, Sigla: "SEDOC", Name: "Seção de Documentação", Kind: domain.UnitRoot, HolderID: "ana"},
		{ID: 2, Sigla: "CGTI", Name: "Coordenadoria de TI", Kind: domain.UnitIntermediate, ParentID: ptr(1), HolderID: "bruno"},
		{ID: 3, Sigla: "SESEL", Name: "Seção de Seleção", Kind: domain.UnitOperational, ParentID: ptr(2), HolderID: "carla"},
	}
	users := []domain.User{
		{ID: "ana", Name: "Ana", Profile: domain.ProfileAdmin, UnitID: 1},
		{ID: "gil", Name: "Gil", Profile: domain.ProfileGestor, UnitID: 1},
		{ID: "carla", Name: "Carla", Profile: domain.ProfileChefe, UnitID: 3},
		{ID: "edu", Name: "Edu", Profile: domain.ProfileServidor, UnitID: 3},
	}
	if err := eng.ImportDirectory(ctx, units, users, "ana"); err != nil {
		t.Fatalf("import directory: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func startedProcess(t *testing.T, env testEnv, ptype domain.ProcessType) domain.Process {
	t.Helper()
	p, err := env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{
		Description: "Campanha de teste",
		Type:        ptype,
		UnitIDs:     []int64{3},
		ActorID:     "ana",
	})
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	p, err = env.Engine.StartProcess(env.Ctx, p.ID, "ana")
	if err != nil {
		t.Fatalf("start process: %v", err)
	}
	return p
}

func soleSubprocess(t *testing.T, env testEnv, processID int64) domain.Subprocess {
	t.Helper()
	subs, err := env.Engine.Repo.ListSubprocesses(env.Ctx, processID)
	if err != nil {
		t.Fatalf("list subprocesses: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 subprocess, got %d", len(subs))
	}
	return subs[0]
}

func mustTransition(t *testing.T, env testEnv, spID int64, action domain.Action, actor string) engine.TransitionOutcome {
	t.Helper()
	out, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{SubprocessID: spID, Action: action, ActorID: actor})
	if err != nil {
		t.Fatalf("%s: %v", action, err)
	}
	if out.Result.Kind != lifecycle.KindOK {
		t.Fatalf("%s: kind=%s reason=%s", action, out.Result.Kind, out.Result.DeniedReason)
	}
	return out
}

func TestStartProcessCreatesSubprocesses(t *testing.T) {
	env := newTestEnv(t)
	p := startedProcess(t, env, domain.ProcessMapeamento)
	if p.Situation != domain.ProcessEmAndamento {
		t.Fatalf("situation = %s", p.Situation)
	}
	sp := soleSubprocess(t, env, p.ID)
	if sp.Situation != domain.NaoIniciado {
		t.Fatalf("subprocess situation = %s", sp.Situation)
	}
	alerts, err := env.Engine.ListAlerts(env.Ctx, "carla")
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected start alert for the unit holder, got %d", len(alerts))
	}

	// The participant set is frozen: a second start must fail.
	if _, err := env.Engine.StartProcess(env.Ctx, p.ID, "ana"); err == nil {
		t.Fatalf("expected error starting an EM_ANDAMENTO process")
	}
}

func TestMapeamentoFullTrack(t *testing.T) {
	env := newTestEnv(t)
	p := startedProcess(t, env, domain.ProcessMapeamento)
	sp := soleSubprocess(t, env, p.ID)

	mustTransition(t, env, sp.ID, domain.ActionIniciarCadastro, "carla")
	out := mustTransition(t, env, sp.ID, domain.ActionDisponibilizarCadastro, "carla")
	if out.Subprocess.Stage1DoneAt == nil {
		t.Fatalf("disponibilizar_cadastro should close stage 1")
	}
	mustTransition(t, env, sp.ID, domain.ActionHomologarCadastro, "gil")
	out = mustTransition(t, env, sp.ID, domain.ActionCriarMapa, "gil")
	if out.Subprocess.MapID == nil {
		t.Fatalf("criar_mapa should create and attach a map")
	}
	mustTransition(t, env, sp.ID, domain.ActionDisponibilizarMapa, "gil")
	mustTransition(t, env, sp.ID, domain.ActionApresentarSugestoes, "carla")
	mustTransition(t, env, sp.ID, domain.ActionValidarMapa, "carla")
	out = mustTransition(t, env, sp.ID, domain.ActionHomologarMapa, "gil")
	if out.Subprocess.Situation != domain.MapeamentoMapaHomologado {
		t.Fatalf("situation = %s", out.Subprocess.Situation)
	}
	if out.Subprocess.Stage2DoneAt == nil {
		t.Fatalf("homologar_mapa should close stage 2")
	}

	m, err := env.Engine.Repo.GetMap(env.Ctx, *out.Subprocess.MapID)
	if err != nil {
		t.Fatal(err)
	}
	if m.HomologadoAt == nil || m.DisponibilizadoAt == nil {
		t.Fatalf("map timestamps not set: %+v", m)
	}

	// Terminal: further actions short-circuit.
	res, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{SubprocessID: sp.ID, Action: domain.ActionDisponibilizarMapa, ActorID: "gil"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result.Kind != lifecycle.KindTerminalState {
		t.Fatalf("kind = %s", res.Result.Kind)
	}

	// And the process can now be finalized.
	fin, err := env.Engine.FinalizeProcess(env.Ctx, p.ID, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if fin.Kind != lifecycle.KindOK {
		t.Fatalf("finalize kind = %s", fin.Kind)
	}
	got, err := env.Engine.Repo.GetProcess(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Situation != domain.ProcessFinalizado || got.FinalizedAt == nil {
		t.Fatalf("process not finalized: %+v", got)
	}
}

func TestTransitionDenied(t *testing.T) {
	env := newTestEnv(t)
	p := startedProcess(t, env, domain.ProcessMapeamento)
	sp := soleSubprocess(t, env, p.ID)
	mustTransition(t, env, sp.ID, domain.ActionIniciarCadastro, "carla")

	out, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{SubprocessID: sp.ID, Action: domain.ActionDisponibilizarCadastro, ActorID: "edu"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Kind != lifecycle.KindDenied {
		t.Fatalf("kind = %s", out.Result.Kind)
	}
	if out.Result.DeniedReason == "" {
		t.Fatalf("denial must carry a reason")
	}
	got, err := env.Engine.Repo.GetSubprocess(env.Ctx, sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Situation != domain.MapeamentoCadastroEmAndamento {
		t.Fatalf("denied transition changed state to %s", got.Situation)
	}
}

func TestFinalizeBlockedByPendingUnits(t *testing.T) {
	env := newTestEnv(t)
	p := startedProcess(t, env, domain.ProcessMapeamento)

	res, err := env.Engine.FinalizeProcess(env.Ctx, p.ID, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != lifecycle.KindPendingSubprocesses {
		t.Fatalf("kind = %s", res.Kind)
	}
	if len(res.PendingUnits) != 1 || res.PendingUnits[0] != "SESEL" {
		t.Fatalf("pending units = %v", res.PendingUnits)
	}
}

// homologateBaseline runs a full mapeamento campaign for SESEL so the unit
// ends up with a homologated map: one activity with one knowledge item and
// one competency linking it.
func homologateBaseline(t *testing.T, env testEnv) {
	t.Helper()
	p := startedProcess(t, env, domain.ProcessMapeamento)
	sp := soleSubprocess(t, env, p.ID)
	mustTransition(t, env, sp.ID, domain.ActionIniciarCadastro, "carla")
	mustTransition(t, env, sp.ID, domain.ActionDisponibilizarCadastro, "carla")
	mustTransition(t, env, sp.ID, domain.ActionHomologarCadastro, "gil")
	out := mustTransition(t, env, sp.ID, domain.ActionCriarMapa, "gil")
	mapID := *out.Subprocess.MapID
	actID, err := env.Engine.Repo.InsertActivity(env.Ctx, domain.Activity{MapID: mapID, Description: "Atender público", Knowledge: []string{"Protocolo"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Repo.InsertCompetency(env.Ctx, domain.Competency{MapID: mapID, Description: "Atendimento ao público", ActivityIDs: []int64{actID}}); err != nil {
		t.Fatal(err)
	}
	mustTransition(t, env, sp.ID, domain.ActionDisponibilizarMapa, "gil")
	mustTransition(t, env, sp.ID, domain.ActionValidarMapa, "carla")
	mustTransition(t, env, sp.ID, domain.ActionHomologarMapa, "gil")
}

func TestRevisaoCreateRequiresVigenteMap(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{
		Description: "Revisão sem base",
		Type:        domain.ProcessRevisao,
		UnitIDs:     []int64{3},
		ActorID:     "ana",
	})
	if err == nil {
		t.Fatalf("revision over units without a homologated map must be rejected at creation")
	}
	if !strings.Contains(err.Error(), "SESEL") || !strings.Contains(err.Error(), "mapa vigente") {
		t.Fatalf("error should name the offending unit: %v", err)
	}
}

func TestRevisaoStartCopiesVigenteMap(t *testing.T) {
	env := newTestEnv(t)
	homologateBaseline(t, env)

	p := startedProcess(t, env, domain.ProcessRevisao)
	sp := soleSubprocess(t, env, p.ID)
	if sp.MapID == nil {
		t.Fatalf("revision subprocess must start with a copy of the unit's homologated map")
	}
	acts, err := env.Engine.Repo.ListActivities(env.Ctx, *sp.MapID)
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 1 || acts[0].Description != "Atender público" {
		t.Fatalf("copied activities = %+v", acts)
	}
	if len(acts[0].Knowledge) != 1 || acts[0].Knowledge[0] != "Protocolo" {
		t.Fatalf("copied knowledge = %v", acts[0].Knowledge)
	}
	comps, err := env.Engine.Repo.ListCompetencies(env.Ctx, *sp.MapID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comps) != 1 || comps[0].Description != "Atendimento ao público" {
		t.Fatalf("copied competencies = %+v", comps)
	}
	if len(comps[0].ActivityIDs) != 1 || comps[0].ActivityIDs[0] != acts[0].ID {
		t.Fatalf("competency link should point at the copied activity: %+v", comps[0])
	}

	// An untouched copy diffs clean against the baseline.
	mustTransition(t, env, sp.ID, domain.ActionIniciarRevisao, "carla")
	out := mustTransition(t, env, sp.ID, domain.ActionDisponibilizarRevisao, "carla")
	report := out.Result.Effects.Impact
	if report == nil {
		t.Fatalf("revision disponibilização must attach an impact report")
	}
	if report.HasImpact || report.RemovedCount != 0 {
		t.Fatalf("unchanged copy should report no impact: %+v", report)
	}
}

func TestRevisaoDiffAgainstBaseline(t *testing.T) {
	env := newTestEnv(t)
	homologateBaseline(t, env)

	// Revision campaign: the unit alters the copied activity's knowledge.
	p := startedProcess(t, env, domain.ProcessRevisao)
	sp := soleSubprocess(t, env, p.ID)
	mustTransition(t, env, sp.ID, domain.ActionIniciarRevisao, "carla")

	acts, err := env.Engine.Repo.ListActivities(env.Ctx, *sp.MapID)
	if err != nil {
		t.Fatal(err)
	}
	acts[0].Knowledge = append(acts[0].Knowledge, "Sistema X")
	if err := env.Engine.Repo.UpdateActivity(env.Ctx, acts[0]); err != nil {
		t.Fatal(err)
	}

	out, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{SubprocessID: sp.ID, Action: domain.ActionDisponibilizarRevisao, ActorID: "carla"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Kind != lifecycle.KindOK {
		t.Fatalf("kind = %s", out.Result.Kind)
	}
	report := out.Result.Effects.Impact
	if report == nil {
		t.Fatalf("revision disponibilização must attach an impact report")
	}
	if !report.HasImpact || report.AlteredCount != 1 {
		t.Fatalf("altered knowledge should be reported: %+v", report)
	}
	if report.CompetencyCount != 1 {
		t.Fatalf("the linked competency should be flagged: %+v", report)
	}
}

func TestFinalizeRejectsUnstartedProcess(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{
		Description: "Campanha parada",
		Type:        domain.ProcessMapeamento,
		UnitIDs:     []int64{3},
		ActorID:     "ana",
	})
	if err != nil {
		t.Fatalf("create process: %v", err)
	}

	res, err := env.Engine.FinalizeProcess(env.Ctx, p.ID, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != lifecycle.KindInvalidAction {
		t.Fatalf("kind = %s", res.Kind)
	}
	got, err := env.Engine.Repo.GetProcess(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Situation != domain.ProcessCriado {
		t.Fatalf("process without fan-out must stay CRIADO, got %s", got.Situation)
	}
}

func TestReopenClearsStage1(t *testing.T) {
	env := newTestEnv(t)
	p := startedProcess(t, env, domain.ProcessMapeamento)
	sp := soleSubprocess(t, env, p.ID)
	mustTransition(t, env, sp.ID, domain.ActionIniciarCadastro, "carla")
	out := mustTransition(t, env, sp.ID, domain.ActionDisponibilizarCadastro, "carla")
	if out.Subprocess.Stage1DoneAt == nil {
		t.Fatalf("stage 1 should be closed")
	}

	out = mustTransition(t, env, sp.ID, domain.ActionReabrirCadastro, "gil")
	if out.Subprocess.Situation != domain.MapeamentoCadastroEmAndamento {
		t.Fatalf("situation = %s", out.Subprocess.Situation)
	}
	if out.Subprocess.Stage1DoneAt != nil {
		t.Fatalf("reopening must clear the stage 1 completion")
	}
}

func TestChangeSubprocessDeadlineAlertsUnit(t *testing.T) {
	env := newTestEnv(t)
	p := startedProcess(t, env, domain.ProcessMapeamento)
	sp := soleSubprocess(t, env, p.ID)

	if err := env.Engine.ChangeSubprocessDeadline(env.Ctx, sp.ID, 1, "2025-07-15", "ana"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetSubprocess(env.Ctx, sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage1Deadline == nil || *got.Stage1Deadline != "2025-07-15" {
		t.Fatalf("deadline not updated: %+v", got)
	}
	alerts, err := env.Engine.ListAlerts(env.Ctx, "carla")
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected start + deadline alerts, got %d", len(alerts))
	}
}

func TestAlertReadTracking(t *testing.T) {
	env := newTestEnv(t)
	p := startedProcess(t, env, domain.ProcessMapeamento)
	_ = p

	alerts, err := env.Engine.ListAlerts(env.Ctx, "carla")
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].ReadAt != nil {
		t.Fatalf("expected one unread alert, got %+v", alerts)
	}
	if err := env.Engine.MarkAlertRead(env.Ctx, alerts[0].ID, "carla"); err != nil {
		t.Fatal(err)
	}
	alerts, err = env.Engine.ListAlerts(env.Ctx, "carla")
	if err != nil {
		t.Fatal(err)
	}
	if alerts[0].ReadAt == nil {
		t.Fatalf("read timestamp not recorded")
	}

	// Reads are per-user: edu still sees it unread.
	panel, err := env.Engine.PanelCounters(env.Ctx, "edu", p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if panel.UnreadAlerts != 0 {
		// the start alert targets the holder, so edu has none
		t.Fatalf("unread for edu = %d", panel.UnreadAlerts)
	}
}

func TestPanelCounters(t *testing.T) {
	env := newTestEnv(t)
	p := startedProcess(t, env, domain.ProcessMapeamento)
	sp := soleSubprocess(t, env, p.ID)
	mustTransition(t, env, sp.ID, domain.ActionIniciarCadastro, "carla")

	panel, err := env.Engine.PanelCounters(env.Ctx, "carla", p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if panel.Processes[domain.ProcessEmAndamento] != 1 {
		t.Fatalf("process counters = %v", panel.Processes)
	}
	if panel.Subprocesses[domain.MapeamentoCadastroEmAndamento] != 1 {
		t.Fatalf("subprocess counters = %v", panel.Subprocesses)
	}
	if panel.UnreadAlerts != 1 {
		t.Fatalf("unread alerts = %d", panel.UnreadAlerts)
	}
}

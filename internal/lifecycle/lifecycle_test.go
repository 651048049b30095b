package lifecycle

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgc/internal/access"
	"sgc/internal/domain"
	"sgc/internal/hierarchy"
	"sgc/internal/mapdiff"
)

func ptr(v int64) *int64 { return &v }

func testTree(t *testing.T) *hierarchy.Tree {
	t.Helper()
	tree, err := hierarchy.New([]domain.Unit{
		{ID: 1, Sigla: "SEDOC", Kind: domain.UnitRoot, HolderID: "ana"},
		{ID: 2, Sigla: "CGTI", Kind: domain.UnitIntermediate, ParentID: ptr(1), HolderID: "bruno"},
		{ID: 3, Sigla: "SESEL", Kind: domain.UnitOperational, ParentID: ptr(2), HolderID: "carla"},
		{ID: 4, Sigla: "SEDESENV", Kind: domain.UnitOperational, ParentID: ptr(2), HolderID: "davi"},
	})
	require.NoError(t, err)
	return tree
}

func testMachine(t *testing.T) *Machine {
	t.Helper()
	tree := testTree(t)
	m := New(tree, access.NewEvaluator(tree, access.DefaultRules()))
	m.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	seq := 0
	m.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return m
}

var (
	chefe  = domain.User{ID: "carla", Name: "Carla", Profile: domain.ProfileChefe, UnitID: 3}
	gestor = domain.User{ID: "ana", Name: "Ana", Profile: domain.ProfileGestor, UnitID: 1}
)

func sub(t domain.ProcessType, s domain.Situation) domain.Subprocess {
	return domain.Subprocess{ID: 10, ProcessID: 1, ProcessType: t, UnitID: 3, Situation: s}
}

func TestTransitionClosure(t *testing.T) {
	type row struct {
		from   domain.Situation
		action domain.Action
		to     domain.Situation
	}
	expected := map[domain.ProcessType][]row{
		domain.ProcessMapeamento: {
			{domain.NaoIniciado, domain.ActionIniciarCadastro, domain.MapeamentoCadastroEmAndamento},
			{domain.MapeamentoCadastroEmAndamento, domain.ActionDisponibilizarCadastro, domain.MapeamentoCadastroDisponibilizado},
			{domain.MapeamentoCadastroDisponibilizado, domain.ActionHomologarCadastro, domain.MapeamentoCadastroHomologado},
			{domain.MapeamentoCadastroDisponibilizado, domain.ActionReabrirCadastro, domain.MapeamentoCadastroEmAndamento},
			{domain.MapeamentoCadastroHomologado, domain.ActionReabrirCadastro, domain.MapeamentoCadastroEmAndamento},
			{domain.MapeamentoCadastroHomologado, domain.ActionCriarMapa, domain.MapeamentoMapaCriado},
			{domain.MapeamentoMapaCriado, domain.ActionDisponibilizarMapa, domain.MapeamentoMapaDisponibilizado},
			{domain.MapeamentoMapaDisponibilizado, domain.ActionApresentarSugestoes, domain.MapeamentoMapaComSugestoes},
			{domain.MapeamentoMapaDisponibilizado, domain.ActionValidarMapa, domain.MapeamentoMapaValidado},
			{domain.MapeamentoMapaComSugestoes, domain.ActionValidarMapa, domain.MapeamentoMapaValidado},
			{domain.MapeamentoMapaValidado, domain.ActionApresentarSugestoes, domain.MapeamentoMapaComSugestoes},
			{domain.MapeamentoMapaValidado, domain.ActionHomologarMapa, domain.MapeamentoMapaHomologado},
			{domain.MapeamentoMapaComSugestoes, domain.ActionHomologarMapa, domain.MapeamentoMapaHomologado},
		},
		domain.ProcessRevisao: {
			{domain.NaoIniciado, domain.ActionIniciarRevisao, domain.RevisaoCadastroEmAndamento},
			{domain.RevisaoCadastroEmAndamento, domain.ActionDisponibilizarRevisao, domain.RevisaoCadastroDisponibilizada},
			{domain.RevisaoCadastroDisponibilizada, domain.ActionHomologarRevisao, domain.RevisaoCadastroHomologada},
			{domain.RevisaoCadastroDisponibilizada, domain.ActionReabrirRevisao, domain.RevisaoCadastroEmAndamento},
			{domain.RevisaoCadastroHomologada, domain.ActionReabrirRevisao, domain.RevisaoCadastroEmAndamento},
			{domain.RevisaoCadastroHomologada, domain.ActionAjustarMapa, domain.RevisaoMapaAjustado},
			{domain.RevisaoMapaAjustado, domain.ActionDisponibilizarMapa, domain.RevisaoMapaDisponibilizado},
			{domain.RevisaoMapaDisponibilizado, domain.ActionApresentarSugestoes, domain.RevisaoMapaComSugestoes},
			{domain.RevisaoMapaDisponibilizado, domain.ActionValidarMapa, domain.RevisaoMapaValidado},
			{domain.RevisaoMapaComSugestoes, domain.ActionValidarMapa, domain.RevisaoMapaValidado},
			{domain.RevisaoMapaValidado, domain.ActionApresentarSugestoes, domain.RevisaoMapaComSugestoes},
			{domain.RevisaoMapaValidado, domain.ActionHomologarMapa, domain.RevisaoMapaHomologado},
			{domain.RevisaoMapaComSugestoes, domain.ActionHomologarMapa, domain.RevisaoMapaHomologado},
		},
		domain.ProcessDiagnostico: {
			{domain.NaoIniciado, domain.ActionIniciarAutoavaliacao, domain.DiagnosticoAutoavaliacaoEmAndamento},
			{domain.DiagnosticoAutoavaliacaoEmAndamento, domain.ActionIniciarMonitoramento, domain.DiagnosticoMonitoramento},
			{domain.DiagnosticoMonitoramento, domain.ActionConcluirDiagnostico, domain.DiagnosticoConcluido},
		},
	}

	for _, pt := range domain.ProcessTypes() {
		got := Edges(pt)
		want := map[[2]string]domain.Situation{}
		for _, r := range expected[pt] {
			want[[2]string{string(r.from), string(r.action)}] = r.to
			assert.True(t, r.from.BelongsTo(pt) || r.from == domain.NaoIniciado, "from %s of %s", r.from, pt)
			assert.True(t, r.to.BelongsTo(pt), "to %s of %s", r.to, pt)
		}
		assert.Equal(t, want, got, "transition table for %s", pt)
	}
}

// Scenario: terminal situations always short-circuit, even for actions the
// actor could never run.
func TestTerminalStateCheckedBeforeAuthorization(t *testing.T) {
	m := testMachine(t)
	nobody := domain.User{ID: "x", Name: "X", Profile: domain.ProfileServidor, UnitID: 4}

	for _, tc := range []struct {
		pt     domain.ProcessType
		sit    domain.Situation
		action domain.Action
	}{
		{domain.ProcessMapeamento, domain.MapeamentoMapaHomologado, domain.ActionDisponibilizarMapa},
		{domain.ProcessRevisao, domain.RevisaoMapaHomologado, domain.ActionValidarMapa},
		{domain.ProcessDiagnostico, domain.DiagnosticoConcluido, domain.ActionConcluirDiagnostico},
	} {
		res := m.Transition(TransitionInput{Subprocess: sub(tc.pt, tc.sit), Action: tc.action, Actor: nobody})
		assert.Equal(t, KindTerminalState, res.Kind, "%s/%s", tc.pt, tc.action)
		assert.Nil(t, res.Effects)
	}
}

func TestTransitionUnknownEdgeFailsClosed(t *testing.T) {
	m := testMachine(t)
	res := m.Transition(TransitionInput{
		Subprocess: sub(domain.ProcessMapeamento, domain.MapeamentoCadastroEmAndamento),
		Action:     domain.ActionHomologarMapa,
		Actor:      gestor,
	})
	assert.Equal(t, KindInvalidAction, res.Kind)

	// Action from another type's vocabulary.
	res = m.Transition(TransitionInput{
		Subprocess: sub(domain.ProcessDiagnostico, domain.DiagnosticoMonitoramento),
		Action:     domain.ActionDisponibilizarCadastro,
		Actor:      chefe,
	})
	assert.Equal(t, KindInvalidAction, res.Kind)
}

func TestTransitionDeniedLeavesSituationAlone(t *testing.T) {
	m := testMachine(t)
	outsider := domain.User{ID: "davi", Name: "Davi", Profile: domain.ProfileChefe, UnitID: 4}

	res := m.Transition(TransitionInput{
		Subprocess: sub(domain.ProcessMapeamento, domain.MapeamentoCadastroEmAndamento),
		Action:     domain.ActionDisponibilizarCadastro,
		Actor:      outsider,
	})
	require.Equal(t, KindDenied, res.Kind)
	assert.Equal(t, "Usuário 'Davi' não pertence à unidade 'SESEL' do subprocesso", res.DeniedReason)
	assert.Nil(t, res.Effects)
}

func TestDisponibilizarCadastroEffects(t *testing.T) {
	m := testMachine(t)
	res := m.Transition(TransitionInput{
		Subprocess: sub(domain.ProcessMapeamento, domain.MapeamentoCadastroEmAndamento),
		Action:     domain.ActionDisponibilizarCadastro,
		Actor:      chefe,
	})
	require.Equal(t, KindOK, res.Kind)
	eff := res.Effects
	assert.Equal(t, domain.MapeamentoCadastroDisponibilizado, eff.Situation)
	assert.True(t, eff.ClosesStage1)
	assert.False(t, eff.ClosesStage2)

	require.Len(t, eff.Movements, 1)
	assert.Equal(t, int64(3), eff.Movements[0].OriginUnit)
	assert.Equal(t, int64(2), eff.Movements[0].DestUnit, "cadastro goes to the immediate superior")
	assert.Equal(t, "Disponibilização do cadastro de atividades e conhecimentos", eff.Movements[0].Description)

	require.Len(t, eff.Alerts, 1)
	assert.Equal(t, int64(2), eff.Alerts[0].DestUnit)
	require.NotNil(t, eff.Alerts[0].TargetUser)
	assert.Equal(t, "bruno", *eff.Alerts[0].TargetUser)
	assert.Equal(t, "2025-06-01T12:00:00Z", eff.Alerts[0].CreatedAt)
}

func TestHomologarMapaEffects(t *testing.T) {
	m := testMachine(t)
	res := m.Transition(TransitionInput{
		Subprocess: sub(domain.ProcessMapeamento, domain.MapeamentoMapaValidado),
		Action:     domain.ActionHomologarMapa,
		Actor:      gestor,
	})
	require.Equal(t, KindOK, res.Kind)
	eff := res.Effects
	assert.Equal(t, domain.MapeamentoMapaHomologado, eff.Situation)
	assert.True(t, eff.ClosesStage2)

	require.Len(t, eff.Movements, 1)
	assert.Equal(t, int64(1), eff.Movements[0].OriginUnit, "homologation is registered at the root")
	assert.Equal(t, int64(1), eff.Movements[0].DestUnit)

	require.Len(t, eff.Alerts, 1)
	assert.Equal(t, int64(3), eff.Alerts[0].DestUnit, "the owning unit is notified")
}

func TestRevisionDisponibilizarRequiresBaseline(t *testing.T) {
	m := testMachine(t)
	in := TransitionInput{
		Subprocess: sub(domain.ProcessRevisao, domain.RevisaoCadastroEmAndamento),
		Action:     domain.ActionDisponibilizarRevisao,
		Actor:      chefe,
	}
	res := m.Transition(in)
	assert.Equal(t, KindInconsistentBaseline, res.Kind)

	in.Baseline = &mapdiff.Snapshot{
		Activities: []mapdiff.SnapshotActivity{{Description: "Atender público", Knowledge: []string{"Protocolo"}}},
	}
	in.Draft = &mapdiff.Snapshot{
		Activities: []mapdiff.SnapshotActivity{{Description: "Atender público", Knowledge: []string{"Protocolo", "SEI"}}},
	}
	res = m.Transition(in)
	require.Equal(t, KindOK, res.Kind)
	assert.Equal(t, domain.RevisaoCadastroDisponibilizada, res.Effects.Situation)
	require.NotNil(t, res.Effects.Impact)
	assert.True(t, res.Effects.Impact.HasImpact)
	assert.Equal(t, 1, res.Effects.Impact.AlteredCount)
}

func TestMapeamentoDisponibilizarNeedsNoBaseline(t *testing.T) {
	m := testMachine(t)
	res := m.Transition(TransitionInput{
		Subprocess: sub(domain.ProcessMapeamento, domain.MapeamentoMapaCriado),
		Action:     domain.ActionDisponibilizarMapa,
		Actor:      gestor,
	})
	require.Equal(t, KindOK, res.Kind)
	assert.Nil(t, res.Effects.Impact)
}

func TestReopenCadastroEffects(t *testing.T) {
	m := testMachine(t)
	res := m.Transition(TransitionInput{
		Subprocess: sub(domain.ProcessMapeamento, domain.MapeamentoCadastroHomologado),
		Action:     domain.ActionReabrirCadastro,
		Actor:      gestor,
	})
	require.Equal(t, KindOK, res.Kind)
	eff := res.Effects
	assert.Equal(t, domain.MapeamentoCadastroEmAndamento, eff.Situation)
	assert.True(t, eff.ClearsStage1)

	require.Len(t, eff.Movements, 1)
	assert.Equal(t, int64(1), eff.Movements[0].OriginUnit)
	assert.Equal(t, int64(3), eff.Movements[0].DestUnit, "reopening sends the cadastro back to the unit")

	// The unit hears about it, and so does every unit above it.
	require.Len(t, eff.Alerts, 3)
	dests := []int64{eff.Alerts[0].DestUnit, eff.Alerts[1].DestUnit, eff.Alerts[2].DestUnit}
	assert.ElementsMatch(t, []int64{3, 2, 1}, dests)
}

func TestFinalizeProcess(t *testing.T) {
	m := testMachine(t)
	p := domain.Process{ID: 1, Description: "Mapeamento 2025", Type: domain.ProcessMapeamento, Situation: domain.ProcessEmAndamento}

	subs := []domain.Subprocess{
		{ID: 10, ProcessID: 1, ProcessType: domain.ProcessMapeamento, UnitID: 3, Situation: domain.MapeamentoMapaHomologado},
		{ID: 11, ProcessID: 1, ProcessType: domain.ProcessMapeamento, UnitID: 4, Situation: domain.MapeamentoMapaValidado},
	}
	res := m.FinalizeProcess(p, subs)
	require.Equal(t, KindPendingSubprocesses, res.Kind)
	assert.Equal(t, []string{"SEDESENV"}, res.PendingUnits)

	subs[1].Situation = domain.MapeamentoMapaHomologado
	res = m.FinalizeProcess(p, subs)
	require.Equal(t, KindOK, res.Kind)
	assert.Len(t, res.Effects.Alerts, 2, "every unit is told the process closed")

	p.Situation = domain.ProcessFinalizado
	res = m.FinalizeProcess(p, subs)
	assert.Equal(t, KindTerminalState, res.Kind)
}

func TestFinalizeRequiresStartedProcess(t *testing.T) {
	m := testMachine(t)
	p := domain.Process{ID: 1, Type: domain.ProcessMapeamento, Situation: domain.ProcessCriado}

	// A process with participants but no fan-out has nothing pending, yet
	// it must not jump straight to FINALIZADO.
	res := m.FinalizeProcess(p, nil)
	assert.Equal(t, KindInvalidAction, res.Kind)
}

func TestFinalizePendingUnitsSorted(t *testing.T) {
	m := testMachine(t)
	p := domain.Process{ID: 1, Type: domain.ProcessMapeamento, Situation: domain.ProcessEmAndamento}
	subs := []domain.Subprocess{
		{ID: 10, ProcessID: 1, ProcessType: domain.ProcessMapeamento, UnitID: 3, Situation: domain.NaoIniciado},
		{ID: 11, ProcessID: 1, ProcessType: domain.ProcessMapeamento, UnitID: 2, Situation: domain.NaoIniciado},
	}
	res := m.FinalizeProcess(p, subs)
	require.Equal(t, KindPendingSubprocesses, res.Kind)
	assert.Equal(t, []string{"CGTI", "SESEL"}, res.PendingUnits)
}

package access

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgc/internal/domain"
	"sgc/internal/hierarchy"
)

func ptr(v int64) *int64 { return &v }

// SEDOC is the root managing unit, CGTI an intermediate, SESEL and
// SEDESENV operational leaves under CGTI.
func testTree(t *testing.T) *hierarchy.Tree {
	t.Helper()
	tree, err := hierarchy.New([]domain.Unit{
		{ID: 1, Sigla: "SEDOC", Name: "Seção de Documentação", Kind: domain.UnitRoot, HolderID: "ana"},
		{ID: 2, Sigla: "CGTI", Name: "Coordenadoria de TI", Kind: domain.UnitIntermediate, ParentID: ptr(1), HolderID: "bruno"},
		{ID: 3, Sigla: "SESEL", Name: "Seção de Seleção", Kind: domain.UnitOperational, ParentID: ptr(2), HolderID: "carla"},
		{ID: 4, Sigla: "SEDESENV", Name: "Seção de Desenvolvimento", Kind: domain.UnitOperational, ParentID: ptr(2), HolderID: "davi"},
	})
	require.NoError(t, err)
	return tree
}

func testEvaluator(t *testing.T) *Evaluator {
	return NewEvaluator(testTree(t), DefaultRules())
}

func unit(tree *hierarchy.Tree, id int64) domain.Unit {
	u, _ := tree.Unit(id)
	return u
}

func TestCheckAllowsChefeInOwnUnit(t *testing.T) {
	tree := testTree(t)
	e := NewEvaluator(tree, DefaultRules())
	chefe := domain.User{ID: "carla", Name: "Carla", Profile: domain.ProfileChefe, UnitID: 3}

	d := e.Check(chefe, unit(tree, 3), domain.ActionDisponibilizarCadastro, domain.MapeamentoCadastroEmAndamento)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
}

func TestCheckDeniesWrongProfile(t *testing.T) {
	tree := testTree(t)
	e := NewEvaluator(tree, DefaultRules())
	servidor := domain.User{ID: "edu", Name: "Edu", Profile: domain.ProfileServidor, UnitID: 3}

	d := e.Check(servidor, unit(tree, 3), domain.ActionDisponibilizarCadastro, domain.MapeamentoCadastroEmAndamento)
	require.False(t, d.Allowed)
	assert.Equal(t, "Usuário 'Edu' não possui um dos perfis necessários: CHEFE", d.Reason)
}

func TestCheckDeniesWrongSituation(t *testing.T) {
	tree := testTree(t)
	e := NewEvaluator(tree, DefaultRules())
	chefe := domain.User{ID: "carla", Name: "Carla", Profile: domain.ProfileChefe, UnitID: 3}

	d := e.Check(chefe, unit(tree, 3), domain.ActionDisponibilizarCadastro, domain.MapeamentoCadastroHomologado)
	require.False(t, d.Allowed)
	assert.Equal(t,
		"Ação 'disponibilizar_cadastro' não pode ser executada com o subprocesso na situação 'MAPEAMENTO_CADASTRO_HOMOLOGADO'. Situações permitidas: MAPEAMENTO_CADASTRO_EM_ANDAMENTO",
		d.Reason)
}

func TestCheckDeniesChefeOfSiblingUnit(t *testing.T) {
	tree := testTree(t)
	e := NewEvaluator(tree, DefaultRules())
	chefe := domain.User{ID: "davi", Name: "Davi", Profile: domain.ProfileChefe, UnitID: 4}

	d := e.Check(chefe, unit(tree, 3), domain.ActionDisponibilizarCadastro, domain.MapeamentoCadastroEmAndamento)
	require.False(t, d.Allowed)
	assert.Equal(t, "Usuário 'Davi' não pertence à unidade 'SESEL' do subprocesso", d.Reason)
}

func TestCheckSameOrSubordinateWalksAncestry(t *testing.T) {
	tree := testTree(t)
	e := NewEvaluator(tree, DefaultRules())
	gestorIntermediate := domain.User{ID: "bruno", Name: "Bruno", Profile: domain.ProfileGestor, UnitID: 2}
	gestorSibling := domain.User{ID: "davi", Name: "Davi", Profile: domain.ProfileGestor, UnitID: 4}

	d := e.Check(gestorIntermediate, unit(tree, 3), domain.ActionHomologarCadastro, domain.MapeamentoCadastroDisponibilizado)
	assert.True(t, d.Allowed, "superior unit may homologate")

	d = e.Check(gestorSibling, unit(tree, 3), domain.ActionHomologarCadastro, domain.MapeamentoCadastroDisponibilizado)
	require.False(t, d.Allowed)
	assert.Equal(t, "Usuário 'Davi' não pertence à unidade 'SESEL' nem a uma unidade superior na hierarquia", d.Reason)
}

func TestCheckImmediateSuperiorDeniedNamesTargetSigla(t *testing.T) {
	rules := DefaultRules()
	rules["homologar_cadastro"] = Rule{
		Profiles:  []domain.Profile{domain.ProfileServidor},
		Hierarchy: ReqImmediateSuperior,
	}
	tree := testTree(t)
	e := NewEvaluator(tree, rules)
	servidor := domain.User{ID: "edu", Name: "Edu", Profile: domain.ProfileServidor, UnitID: 4}

	d := e.Check(servidor, unit(tree, 3), domain.ActionHomologarCadastro, domain.MapeamentoCadastroDisponibilizado)
	require.False(t, d.Allowed)
	assert.Equal(t, "Usuário 'Edu' não pertence à unidade superior imediata da unidade 'SESEL'", d.Reason)

	parent := domain.User{ID: "bruno", Name: "Bruno", Profile: domain.ProfileServidor, UnitID: 2}
	assert.True(t, e.Check(parent, unit(tree, 3), domain.ActionHomologarCadastro, domain.MapeamentoCadastroDisponibilizado).Allowed)
}

func TestCheckUnitHolder(t *testing.T) {
	tree := testTree(t)
	e := NewEvaluator(tree, DefaultRules())
	holder := domain.User{ID: "carla", Name: "Carla", Profile: domain.ProfileChefe, UnitID: 3}
	other := domain.User{ID: "edu", Name: "Edu", Profile: domain.ProfileChefe, UnitID: 3}

	assert.True(t, e.Check(holder, unit(tree, 3), domain.ActionIniciarMonitoramento, domain.DiagnosticoAutoavaliacaoEmAndamento).Allowed)

	d := e.Check(other, unit(tree, 3), domain.ActionIniciarMonitoramento, domain.DiagnosticoAutoavaliacaoEmAndamento)
	require.False(t, d.Allowed)
	assert.Equal(t, "Usuário 'Edu' não é o titular da unidade 'SESEL'. Titular: carla", d.Reason)
}

// Admin passes positional hierarchy requirements wherever it sits in the
// tree, but same_unit and unit_holder still demand the literal relation.
func TestCheckAdminMonotonicity(t *testing.T) {
	tree := testTree(t)
	admin := domain.User{ID: "ana", Name: "Ana", Profile: domain.ProfileAdmin, UnitID: 1}

	for _, req := range []Requirement{ReqNone, ReqSameOrSubordinate, ReqImmediateSuperior} {
		rules := map[domain.Action]Rule{
			domain.ActionHomologarMapa: {Profiles: []domain.Profile{domain.ProfileAdmin}, Hierarchy: req},
		}
		e := NewEvaluator(tree, rules)
		for _, target := range []int64{1, 2, 3, 4} {
			d := e.Check(admin, unit(tree, target), domain.ActionHomologarMapa, domain.MapeamentoMapaValidado)
			assert.True(t, d.Allowed, fmt.Sprintf("req=%s target=%d", req, target))
		}
	}

	for _, req := range []Requirement{ReqSameUnit, ReqUnitHolder} {
		rules := map[domain.Action]Rule{
			domain.ActionHomologarMapa: {Profiles: []domain.Profile{domain.ProfileAdmin}, Hierarchy: req},
		}
		e := NewEvaluator(tree, rules)
		d := e.Check(admin, unit(tree, 3), domain.ActionHomologarMapa, domain.MapeamentoMapaValidado)
		assert.False(t, d.Allowed, fmt.Sprintf("req=%s must not be bypassed", req))
	}
}

func TestCheckUnknownActionIsDenied(t *testing.T) {
	e := testEvaluator(t)
	user := domain.User{ID: "ana", Name: "Ana", Profile: domain.ProfileAdmin, UnitID: 1}

	d := e.Check(user, domain.Unit{ID: 3, Sigla: "SESEL"}, domain.Action("destruir_mapa"), domain.NaoIniciado)
	require.False(t, d.Allowed)
	assert.Equal(t, "Ação 'destruir_mapa' não possui regra de acesso configurada", d.Reason)
}

func TestParseRequirement(t *testing.T) {
	req, err := ParseRequirement(" Same_Unit ")
	require.NoError(t, err)
	assert.Equal(t, ReqSameUnit, req)

	_, err = ParseRequirement("acima_de_todos")
	assert.Error(t, err)
}

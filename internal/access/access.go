// Package access decides whether a user may execute a workflow action on a
// subprocess. Every action is described by a single declarative rule
// (allowed profiles, allowed situations, required hierarchy relationship)
// and one evaluator walks that rule; there is no per-action code.
package access

import (
	"fmt"
	"strings"

	"sgc/internal/domain"
	"sgc/internal/hierarchy"
)

// Requirement names the relationship that must hold between the user's
// active unit and the subprocess unit.
type Requirement string

const (
	ReqNone              Requirement = "none"
	ReqSameUnit          Requirement = "same_unit"
	ReqSameOrSubordinate Requirement = "same_or_subordinate"
	ReqImmediateSuperior Requirement = "immediate_superior"
	ReqUnitHolder        Requirement = "unit_holder"
)

// ParseRequirement maps a config string onto a Requirement.
func ParseRequirement(s string) (Requirement, error) {
	switch Requirement(strings.ToLower(strings.TrimSpace(s))) {
	case ReqNone:
		return ReqNone, nil
	case ReqSameUnit:
		return ReqSameUnit, nil
	case ReqSameOrSubordinate:
		return ReqSameOrSubordinate, nil
	case ReqImmediateSuperior:
		return ReqImmediateSuperior, nil
	case ReqUnitHolder:
		return ReqUnitHolder, nil
	}
	return "", fmt.Errorf("relação hierárquica desconhecida: %q", s)
}

// Rule is the access policy for one action. An empty Situations slice means
// the action is not situation-gated here (the lifecycle transition table
// still applies).
type Rule struct {
	Profiles   []domain.Profile
	Situations []domain.Situation
	Hierarchy  Requirement
}

// Decision is the outcome of a policy check. Reason is filled only on
// denial and is meant to be shown to the operator as-is.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Evaluator checks rules against the unit tree. It is stateless: every
// fact it needs arrives as an argument to Check.
type Evaluator struct {
	tree  *hierarchy.Tree
	rules map[domain.Action]Rule
}

func NewEvaluator(tree *hierarchy.Tree, rules map[domain.Action]Rule) *Evaluator {
	return &Evaluator{tree: tree, rules: rules}
}

// Check evaluates the rule for action against user, the subprocess unit and
// its current situation. Checks run cheapest first: profile, then
// situation, then hierarchy; the first failure produces the denial reason.
func (e *Evaluator) Check(user domain.User, target domain.Unit, action domain.Action, situation domain.Situation) Decision {
	rule, ok := e.rules[action]
	if !ok {
		return deny(fmt.Sprintf("Ação '%s' não possui regra de acesso configurada", action))
	}

	if len(rule.Profiles) > 0 && !hasProfile(rule.Profiles, user.Profile) {
		return deny(fmt.Sprintf("Usuário '%s' não possui um dos perfis necessários: %s",
			user.Name, joinProfiles(rule.Profiles)))
	}

	if len(rule.Situations) > 0 && !hasSituation(rule.Situations, situation) {
		return deny(fmt.Sprintf("Ação '%s' não pode ser executada com o subprocesso na situação '%s'. Situações permitidas: %s",
			action, situation, joinSituations(rule.Situations)))
	}

	return e.checkHierarchy(user, target, rule.Hierarchy)
}

func (e *Evaluator) checkHierarchy(user domain.User, target domain.Unit, req Requirement) Decision {
	// Admin overrides positional requirements, but not the ones that name
	// a specific unit or person.
	if user.Profile == domain.ProfileAdmin && req != ReqSameUnit && req != ReqUnitHolder {
		return allow()
	}

	switch req {
	case ReqNone, "":
		return allow()

	case ReqSameUnit:
		if user.UnitID == target.ID {
			return allow()
		}
		return deny(fmt.Sprintf("Usuário '%s' não pertence à unidade '%s' do subprocesso",
			user.Name, target.Sigla))

	case ReqSameOrSubordinate:
		if user.UnitID == target.ID || e.tree.IsSubordinate(target.ID, user.UnitID) {
			return allow()
		}
		return deny(fmt.Sprintf("Usuário '%s' não pertence à unidade '%s' nem a uma unidade superior na hierarquia",
			user.Name, target.Sigla))

	case ReqImmediateSuperior:
		if e.tree.IsImmediateSuperior(target.ID, user.UnitID) {
			return allow()
		}
		return deny(fmt.Sprintf("Usuário '%s' não pertence à unidade superior imediata da unidade '%s'",
			user.Name, target.Sigla))

	case ReqUnitHolder:
		if target.HolderID == user.ID {
			return allow()
		}
		return deny(fmt.Sprintf("Usuário '%s' não é o titular da unidade '%s'. Titular: %s",
			user.Name, target.Sigla, target.HolderID))
	}

	return deny(fmt.Sprintf("Relação hierárquica desconhecida: '%s'", req))
}

func hasProfile(set []domain.Profile, p domain.Profile) bool {
	for _, candidate := range set {
		if candidate == p {
			return true
		}
	}
	return false
}

func hasSituation(set []domain.Situation, s domain.Situation) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

func joinProfiles(ps []domain.Profile) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}

func joinSituations(ss []domain.Situation) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

// DefaultRules is the built-in policy table. Config may override individual
// entries, but this is the behavior shipped out of the box.
func DefaultRules() map[domain.Action]Rule {
	return map[domain.Action]Rule{
		domain.ActionIniciarCadastro: {
			Profiles:   []domain.Profile{domain.ProfileChefe, domain.ProfileServidor},
			Situations: []domain.Situation{domain.NaoIniciado},
			Hierarchy:  ReqSameUnit,
		},
		domain.ActionDisponibilizarCadastro: {
			Profiles:   []domain.Profile{domain.ProfileChefe},
			Situations: []domain.Situation{domain.MapeamentoCadastroEmAndamento},
			Hierarchy:  ReqSameUnit,
		},
		domain.ActionHomologarCadastro: {
			Profiles:   []domain.Profile{domain.ProfileAdmin, domain.ProfileGestor},
			Situations: []domain.Situation{domain.MapeamentoCadastroDisponibilizado},
			Hierarchy:  ReqSameOrSubordinate,
		},
		domain.ActionCriarMapa: {
			Profiles:   []domain.Profile{domain.ProfileAdmin, domain.ProfileGestor},
			Situations: []domain.Situation{domain.MapeamentoCadastroHomologado},
			Hierarchy:  ReqSameOrSubordinate,
		},
		domain.ActionDisponibilizarMapa: {
			Profiles: []domain.Profile{domain.ProfileAdmin, domain.ProfileGestor},
			Situations: []domain.Situation{
				domain.MapeamentoMapaCriado,
				domain.RevisaoMapaAjustado,
			},
			Hierarchy: ReqSameOrSubordinate,
		},
		domain.ActionApresentarSugestoes: {
			Profiles: []domain.Profile{domain.ProfileChefe},
			Situations: []domain.Situation{
				domain.MapeamentoMapaDisponibilizado,
				domain.MapeamentoMapaValidado,
				domain.RevisaoMapaDisponibilizado,
				domain.RevisaoMapaValidado,
			},
			Hierarchy: ReqSameUnit,
		},
		domain.ActionValidarMapa: {
			Profiles: []domain.Profile{domain.ProfileChefe},
			Situations: []domain.Situation{
				domain.MapeamentoMapaDisponibilizado,
				domain.MapeamentoMapaComSugestoes,
				domain.RevisaoMapaDisponibilizado,
				domain.RevisaoMapaComSugestoes,
			},
			Hierarchy: ReqSameUnit,
		},
		domain.ActionHomologarMapa: {
			Profiles: []domain.Profile{domain.ProfileAdmin, domain.ProfileGestor},
			Situations: []domain.Situation{
				domain.MapeamentoMapaValidado,
				domain.MapeamentoMapaComSugestoes,
				domain.RevisaoMapaValidado,
				domain.RevisaoMapaComSugestoes,
			},
			Hierarchy: ReqSameOrSubordinate,
		},

		domain.ActionIniciarRevisao: {
			Profiles:   []domain.Profile{domain.ProfileChefe},
			Situations: []domain.Situation{domain.NaoIniciado},
			Hierarchy:  ReqSameUnit,
		},
		domain.ActionDisponibilizarRevisao: {
			Profiles:   []domain.Profile{domain.ProfileChefe},
			Situations: []domain.Situation{domain.RevisaoCadastroEmAndamento},
			Hierarchy:  ReqSameUnit,
		},
		domain.ActionHomologarRevisao: {
			Profiles:   []domain.Profile{domain.ProfileAdmin, domain.ProfileGestor},
			Situations: []domain.Situation{domain.RevisaoCadastroDisponibilizada},
			Hierarchy:  ReqSameOrSubordinate,
		},
		domain.ActionAjustarMapa: {
			Profiles:   []domain.Profile{domain.ProfileAdmin, domain.ProfileGestor},
			Situations: []domain.Situation{domain.RevisaoCadastroHomologada},
			Hierarchy:  ReqSameOrSubordinate,
		},

		domain.ActionReabrirCadastro: {
			Profiles: []domain.Profile{domain.ProfileAdmin, domain.ProfileGestor},
			Situations: []domain.Situation{
				domain.MapeamentoCadastroDisponibilizado,
				domain.MapeamentoCadastroHomologado,
			},
			Hierarchy: ReqSameOrSubordinate,
		},
		domain.ActionReabrirRevisao: {
			Profiles: []domain.Profile{domain.ProfileAdmin, domain.ProfileGestor},
			Situations: []domain.Situation{
				domain.RevisaoCadastroDisponibilizada,
				domain.RevisaoCadastroHomologada,
			},
			Hierarchy: ReqSameOrSubordinate,
		},

		domain.ActionIniciarAutoavaliacao: {
			Profiles:   []domain.Profile{domain.ProfileChefe, domain.ProfileServidor},
			Situations: []domain.Situation{domain.NaoIniciado},
			Hierarchy:  ReqSameUnit,
		},
		domain.ActionIniciarMonitoramento: {
			Profiles:   []domain.Profile{domain.ProfileChefe},
			Situations: []domain.Situation{domain.DiagnosticoAutoavaliacaoEmAndamento},
			Hierarchy:  ReqUnitHolder,
		},
		domain.ActionConcluirDiagnostico: {
			Profiles:   []domain.Profile{domain.ProfileAdmin, domain.ProfileGestor},
			Situations: []domain.Situation{domain.DiagnosticoMonitoramento},
			Hierarchy:  ReqSameOrSubordinate,
		},
	}
}

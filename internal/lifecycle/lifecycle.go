// Package lifecycle is the subprocess state machine. Each process type owns
// its own situation track and transition table; the tables are data, so the
// reachable edges can be enumerated by iterating them. The machine itself
// performs no I/O: it validates a requested action, consults the access
// policy, runs data guards and returns the effects (new situation,
// movements, alerts, stage timestamps) for the caller to persist.
package lifecycle

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"sgc/internal/access"
	"sgc/internal/domain"
	"sgc/internal/hierarchy"
	"sgc/internal/mapdiff"
)

// Kind discriminates transition outcomes. Business failures are values,
// never errors or panics.
type Kind string

const (
	KindOK                   Kind = "ok"
	KindInvalidAction        Kind = "invalid_action"
	KindTerminalState        Kind = "terminal_state"
	KindDenied               Kind = "denied"
	KindPendingSubprocesses  Kind = "pending_subprocesses"
	KindInconsistentBaseline Kind = "inconsistent_baseline"
)

// Effects is everything a successful transition asks the caller to persist
// and dispatch.
type Effects struct {
	Situation    domain.Situation
	Movements    []domain.Movement
	Alerts       []domain.Alert
	ClosesStage1 bool
	ClosesStage2 bool
	ClearsStage1 bool
	Impact       *mapdiff.Report
}

// Result is the discriminated outcome of Transition or FinalizeProcess.
type Result struct {
	Kind         Kind
	DeniedReason string   // set when Kind == KindDenied
	PendingUnits []string // set when Kind == KindPendingSubprocesses
	Effects      *Effects // set when Kind == KindOK
}

type edge struct {
	from   domain.Situation
	action domain.Action
}

// transitions holds one table per process type. Keeping them separate makes
// the same-looking labels genuinely distinct states, each with its own
// predecessor set.
var transitions = map[domain.ProcessType]map[edge]domain.Situation{
	domain.ProcessMapeamento: {
		{domain.NaoIniciado, domain.ActionIniciarCadastro}:                              domain.MapeamentoCadastroEmAndamento,
		{domain.MapeamentoCadastroEmAndamento, domain.ActionDisponibilizarCadastro}:    domain.MapeamentoCadastroDisponibilizado,
		{domain.MapeamentoCadastroDisponibilizado, domain.ActionHomologarCadastro}:     domain.MapeamentoCadastroHomologado,
		{domain.MapeamentoCadastroDisponibilizado, domain.ActionReabrirCadastro}:       domain.MapeamentoCadastroEmAndamento,
		{domain.MapeamentoCadastroHomologado, domain.ActionReabrirCadastro}:            domain.MapeamentoCadastroEmAndamento,
		{domain.MapeamentoCadastroHomologado, domain.ActionCriarMapa}:                  domain.MapeamentoMapaCriado,
		{domain.MapeamentoMapaCriado, domain.ActionDisponibilizarMapa}:                 domain.MapeamentoMapaDisponibilizado,
		{domain.MapeamentoMapaDisponibilizado, domain.ActionApresentarSugestoes}:       domain.MapeamentoMapaComSugestoes,
		{domain.MapeamentoMapaDisponibilizado, domain.ActionValidarMapa}:               domain.MapeamentoMapaValidado,
		{domain.MapeamentoMapaComSugestoes, domain.ActionValidarMapa}:                  domain.MapeamentoMapaValidado,
		{domain.MapeamentoMapaValidado, domain.ActionApresentarSugestoes}:              domain.MapeamentoMapaComSugestoes,
		{domain.MapeamentoMapaValidado, domain.ActionHomologarMapa}:                    domain.MapeamentoMapaHomologado,
		{domain.MapeamentoMapaComSugestoes, domain.ActionHomologarMapa}:                domain.MapeamentoMapaHomologado,
	},
	domain.ProcessRevisao: {
		{domain.NaoIniciado, domain.ActionIniciarRevisao}:                            domain.RevisaoCadastroEmAndamento,
		{domain.RevisaoCadastroEmAndamento, domain.ActionDisponibilizarRevisao}:      domain.RevisaoCadastroDisponibilizada,
		{domain.RevisaoCadastroDisponibilizada, domain.ActionHomologarRevisao}:       domain.RevisaoCadastroHomologada,
		{domain.RevisaoCadastroDisponibilizada, domain.ActionReabrirRevisao}:         domain.RevisaoCadastroEmAndamento,
		{domain.RevisaoCadastroHomologada, domain.ActionReabrirRevisao}:              domain.RevisaoCadastroEmAndamento,
		{domain.RevisaoCadastroHomologada, domain.ActionAjustarMapa}:                 domain.RevisaoMapaAjustado,
		{domain.RevisaoMapaAjustado, domain.ActionDisponibilizarMapa}:                domain.RevisaoMapaDisponibilizado,
		{domain.RevisaoMapaDisponibilizado, domain.ActionApresentarSugestoes}:        domain.RevisaoMapaComSugestoes,
		{domain.RevisaoMapaDisponibilizado, domain.ActionValidarMapa}:                domain.RevisaoMapaValidado,
		{domain.RevisaoMapaComSugestoes, domain.ActionValidarMapa}:                   domain.RevisaoMapaValidado,
		{domain.RevisaoMapaValidado, domain.ActionApresentarSugestoes}:               domain.RevisaoMapaComSugestoes,
		{domain.RevisaoMapaValidado, domain.ActionHomologarMapa}:                     domain.RevisaoMapaHomologado,
		{domain.RevisaoMapaComSugestoes, domain.ActionHomologarMapa}:                 domain.RevisaoMapaHomologado,
	},
	domain.ProcessDiagnostico: {
		{domain.NaoIniciado, domain.ActionIniciarAutoavaliacao}:                       domain.DiagnosticoAutoavaliacaoEmAndamento,
		{domain.DiagnosticoAutoavaliacaoEmAndamento, domain.ActionIniciarMonitoramento}: domain.DiagnosticoMonitoramento,
		{domain.DiagnosticoMonitoramento, domain.ActionConcluirDiagnostico}:           domain.DiagnosticoConcluido,
	},
}

// Edges returns a copy of the transition table for one process type, keyed
// by (from, action). Tests iterate it to prove closure.
func Edges(t domain.ProcessType) map[[2]string]domain.Situation {
	out := map[[2]string]domain.Situation{}
	for e, to := range transitions[t] {
		out[[2]string{string(e.from), string(e.action)}] = to
	}
	return out
}

// TransitionInput carries everything a transition can need. Baseline and
// Draft are only read by the revision guards; callers may leave them nil
// for every other action.
type TransitionInput struct {
	Subprocess domain.Subprocess
	Action     domain.Action
	Actor      domain.User
	Baseline   *mapdiff.Snapshot
	Draft      *mapdiff.Snapshot
}

// Machine evaluates transitions. It holds no mutable state and is safe for
// concurrent use.
type Machine struct {
	tree   *hierarchy.Tree
	policy *access.Evaluator

	// Now and NewID exist so tests can pin timestamps and identifiers.
	Now   func() time.Time
	NewID func() string
}

func New(tree *hierarchy.Tree, policy *access.Evaluator) *Machine {
	return &Machine{
		tree:   tree,
		policy: policy,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

// Transition runs one action against a subprocess. Terminal situations are
// checked before authorization so that a dead operation never leaks who
// would have been allowed to run it.
func (m *Machine) Transition(in TransitionInput) Result {
	sp := in.Subprocess

	if sp.Situation == domain.TerminalSituation(sp.ProcessType) {
		return Result{Kind: KindTerminalState}
	}

	next, ok := transitions[sp.ProcessType][edge{sp.Situation, in.Action}]
	if !ok {
		return Result{Kind: KindInvalidAction}
	}

	unit, ok := m.tree.Unit(sp.UnitID)
	if !ok {
		return Result{Kind: KindInvalidAction}
	}
	if d := m.policy.Check(in.Actor, unit, in.Action, sp.Situation); !d.Allowed {
		return Result{Kind: KindDenied, DeniedReason: d.Reason}
	}

	eff := &Effects{Situation: next}

	if m.requiresBaseline(sp.ProcessType, in.Action) {
		if in.Baseline == nil {
			return Result{Kind: KindInconsistentBaseline}
		}
		var draft mapdiff.Snapshot
		if in.Draft != nil {
			draft = *in.Draft
		}
		report := mapdiff.Compare(*in.Baseline, draft)
		eff.Impact = &report
	}

	m.applyEffects(eff, sp, unit, in.Action)
	return Result{Kind: KindOK, Effects: eff}
}

// requiresBaseline reports whether the action moves a cadastro or mapa to
// disponibilizado during a revision, which demands a previously homologated
// map to diff against.
func (m *Machine) requiresBaseline(t domain.ProcessType, a domain.Action) bool {
	if t != domain.ProcessRevisao {
		return false
	}
	return a == domain.ActionDisponibilizarRevisao || a == domain.ActionDisponibilizarMapa
}

func (m *Machine) applyEffects(eff *Effects, sp domain.Subprocess, unit domain.Unit, action domain.Action) {
	switch action {
	case domain.ActionDisponibilizarCadastro, domain.ActionDisponibilizarRevisao:
		eff.ClosesStage1 = true
		m.moveToSuperior(eff, sp, unit, action)

	case domain.ActionIniciarMonitoramento:
		eff.ClosesStage1 = true

	case domain.ActionDisponibilizarMapa, domain.ActionApresentarSugestoes, domain.ActionValidarMapa:
		m.moveToSuperior(eff, sp, unit, action)

	case domain.ActionHomologarCadastro, domain.ActionHomologarRevisao:
		m.moveAtRoot(eff, sp, unit, action)

	case domain.ActionHomologarMapa:
		eff.ClosesStage2 = true
		m.moveAtRoot(eff, sp, unit, action)

	case domain.ActionConcluirDiagnostico:
		eff.ClosesStage2 = true

	case domain.ActionReabrirCadastro, domain.ActionReabrirRevisao:
		eff.ClearsStage1 = true
		m.reopen(eff, sp, unit, action)
	}
}

// moveToSuperior records the subprocess crossing from its unit to the
// immediate superior and alerts the superior's holder. Root units without
// a parent stay put.
func (m *Machine) moveToSuperior(eff *Effects, sp domain.Subprocess, unit domain.Unit, action domain.Action) {
	parent, ok := m.tree.Parent(unit.ID)
	if !ok {
		parent = unit
	}
	eff.Movements = append(eff.Movements, m.movement(sp, unit.ID, parent.ID, actionDescription(action)))
	eff.Alerts = append(eff.Alerts, m.alert(sp, unit, parent, alertDescription(action, unit)))
}

// moveAtRoot records homologations, which happen at the managing unit:
// origin and destination are both the root of the subprocess unit's tree.
func (m *Machine) moveAtRoot(eff *Effects, sp domain.Subprocess, unit domain.Unit, action domain.Action) {
	root, ok := m.tree.Root(unit.ID)
	if !ok {
		root = unit
	}
	eff.Movements = append(eff.Movements, m.movement(sp, root.ID, root.ID, actionDescription(action)))
	eff.Alerts = append(eff.Alerts, m.alert(sp, root, unit, alertDescription(action, unit)))
}

// reopen sends the subprocess from the root back to its unit and alerts the
// unit plus every unit above it, so the whole chain knows the cadastro is
// open again.
func (m *Machine) reopen(eff *Effects, sp domain.Subprocess, unit domain.Unit, action domain.Action) {
	root, ok := m.tree.Root(unit.ID)
	if !ok {
		root = unit
	}
	eff.Movements = append(eff.Movements, m.movement(sp, root.ID, unit.ID, actionDescription(action)))
	eff.Alerts = append(eff.Alerts, m.alert(sp, root, unit, alertDescription(action, unit)))
	for _, ancestor := range m.tree.Ancestors(unit.ID) {
		eff.Alerts = append(eff.Alerts, m.alert(sp, root, ancestor, alertDescription(action, unit)))
	}
}

func (m *Machine) movement(sp domain.Subprocess, origin, dest int64, description string) domain.Movement {
	return domain.Movement{
		ID:           m.NewID(),
		SubprocessID: sp.ID,
		OriginUnit:   origin,
		DestUnit:     dest,
		Description:  description,
		CreatedAt:    m.Now().UTC().Format(time.RFC3339),
	}
}

func (m *Machine) alert(sp domain.Subprocess, origin, dest domain.Unit, description string) domain.Alert {
	a := domain.Alert{
		ID:          m.NewID(),
		ProcessID:   sp.ProcessID,
		OriginUnit:  origin.ID,
		DestUnit:    dest.ID,
		Description: description,
		CreatedAt:   m.Now().UTC().Format(time.RFC3339),
	}
	if dest.HolderID != "" {
		holder := dest.HolderID
		a.TargetUser = &holder
	}
	return a
}

func actionDescription(a domain.Action) string {
	switch a {
	case domain.ActionDisponibilizarCadastro:
		return "Disponibilização do cadastro de atividades e conhecimentos"
	case domain.ActionDisponibilizarRevisao:
		return "Disponibilização da revisão do cadastro de atividades e conhecimentos"
	case domain.ActionDisponibilizarMapa:
		return "Disponibilização do mapa de competências"
	case domain.ActionApresentarSugestoes:
		return "Apresentação de sugestões para o mapa de competências"
	case domain.ActionValidarMapa:
		return "Validação do mapa de competências"
	case domain.ActionHomologarCadastro:
		return "Homologação do cadastro de atividades e conhecimentos"
	case domain.ActionHomologarRevisao:
		return "Homologação da revisão do cadastro de atividades e conhecimentos"
	case domain.ActionHomologarMapa:
		return "Homologação do mapa de competências"
	case domain.ActionReabrirCadastro:
		return "Reabertura do cadastro de atividades e conhecimentos"
	case domain.ActionReabrirRevisao:
		return "Reabertura da revisão do cadastro de atividades e conhecimentos"
	}
	return string(a)
}

func alertDescription(a domain.Action, unit domain.Unit) string {
	return actionDescription(a) + " da unidade " + unit.Sigla
}

// FinalizeProcess closes a process. The process must be EM_ANDAMENTO and
// every participating subprocess must sit in its type's terminal situation;
// otherwise it lists the unit siglas still pending, sorted for stable
// output. A process that never fanned out cannot skip straight to closed.
func (m *Machine) FinalizeProcess(p domain.Process, subs []domain.Subprocess) Result {
	if p.Situation == domain.ProcessFinalizado {
		return Result{Kind: KindTerminalState}
	}
	if p.Situation != domain.ProcessEmAndamento {
		return Result{Kind: KindInvalidAction}
	}

	var pending []string
	for _, sp := range subs {
		if sp.Situation != domain.TerminalSituation(sp.ProcessType) {
			sigla := ""
			if u, ok := m.tree.Unit(sp.UnitID); ok {
				sigla = u.Sigla
			}
			pending = append(pending, sigla)
		}
	}
	if len(pending) > 0 {
		sort.Strings(pending)
		return Result{Kind: KindPendingSubprocesses, PendingUnits: pending}
	}

	eff := &Effects{}
	for _, sp := range subs {
		unit, ok := m.tree.Unit(sp.UnitID)
		if !ok {
			continue
		}
		root, ok := m.tree.Root(unit.ID)
		if !ok {
			root = unit
		}
		eff.Alerts = append(eff.Alerts, m.alert(sp, root, unit, "Processo '"+p.Description+"' finalizado"))
	}
	return Result{Kind: KindOK, Effects: eff}
}

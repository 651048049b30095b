package domain

// ProcessType identifies which competency-mapping campaign kind a process runs.
type ProcessType string

const (
	ProcessMapeamento  ProcessType = "MAPEAMENTO"
	ProcessRevisao     ProcessType = "REVISAO"
	ProcessDiagnostico ProcessType = "DIAGNOSTICO"
)

// ProcessTypes lists every campaign kind in declaration order.
func ProcessTypes() []ProcessType {
	return []ProcessType{ProcessMapeamento, ProcessRevisao, ProcessDiagnostico}
}

// ProcessSituation is the lifecycle state of the process itself (not of its
// subprocesses).
type ProcessSituation string

const (
	ProcessCriado      ProcessSituation = "CRIADO"
	ProcessEmAndamento ProcessSituation = "EM_ANDAMENTO"
	ProcessFinalizado  ProcessSituation = "FINALIZADO"
)

// Situation is the state of a subprocess. Each process type owns its own
// enumeration; labels are never shared across types even when they read
// alike (MAPEAMENTO_MAPA_HOMOLOGADO and REVISAO_MAPA_HOMOLOGADO are
// distinct states with distinct predecessor sets).
type Situation string

const (
	NaoIniciado Situation = "NAO_INICIADO"

	// Mapeamento track
	MapeamentoCadastroEmAndamento     Situation = "MAPEAMENTO_CADASTRO_EM_ANDAMENTO"
	MapeamentoCadastroDisponibilizado Situation = "MAPEAMENTO_CADASTRO_DISPONIBILIZADO"
	MapeamentoCadastroHomologado      Situation = "MAPEAMENTO_CADASTRO_HOMOLOGADO"
	MapeamentoMapaCriado              Situation = "MAPEAMENTO_MAPA_CRIADO"
	MapeamentoMapaDisponibilizado     Situation = "MAPEAMENTO_MAPA_DISPONIBILIZADO"
	MapeamentoMapaComSugestoes        Situation = "MAPEAMENTO_MAPA_COM_SUGESTOES"
	MapeamentoMapaValidado            Situation = "MAPEAMENTO_MAPA_VALIDADO"
	MapeamentoMapaHomologado          Situation = "MAPEAMENTO_MAPA_HOMOLOGADO"

	// Revisão track
	RevisaoCadastroEmAndamento     Situation = "REVISAO_CADASTRO_EM_ANDAMENTO"
	RevisaoCadastroDisponibilizada Situation = "REVISAO_CADASTRO_DISPONIBILIZADA"
	RevisaoCadastroHomologada      Situation = "REVISAO_CADASTRO_HOMOLOGADA"
	RevisaoMapaAjustado            Situation = "REVISAO_MAPA_AJUSTADO"
	RevisaoMapaDisponibilizado     Situation = "REVISAO_MAPA_DISPONIBILIZADO"
	RevisaoMapaComSugestoes        Situation = "REVISAO_MAPA_COM_SUGESTOES"
	RevisaoMapaValidado            Situation = "REVISAO_MAPA_VALIDADO"
	RevisaoMapaHomologado          Situation = "REVISAO_MAPA_HOMOLOGADO"

	// Diagnóstico track
	DiagnosticoAutoavaliacaoEmAndamento Situation = "DIAGNOSTICO_AUTOAVALIACAO_EM_ANDAMENTO"
	DiagnosticoMonitoramento            Situation = "DIAGNOSTICO_MONITORAMENTO"
	DiagnosticoConcluido                Situation = "DIAGNOSTICO_CONCLUIDO"
)

// Situations returns the enumeration scoped to a process type, in track
// order starting at NAO_INICIADO.
func Situations(t ProcessType) []Situation {
	switch t {
	case ProcessMapeamento:
		return []Situation{
			NaoIniciado,
			MapeamentoCadastroEmAndamento,
			MapeamentoCadastroDisponibilizado,
			MapeamentoCadastroHomologado,
			MapeamentoMapaCriado,
			MapeamentoMapaDisponibilizado,
			MapeamentoMapaComSugestoes,
			MapeamentoMapaValidado,
			MapeamentoMapaHomologado,
		}
	case ProcessRevisao:
		return []Situation{
			NaoIniciado,
			RevisaoCadastroEmAndamento,
			RevisaoCadastroDisponibilizada,
			RevisaoCadastroHomologada,
			RevisaoMapaAjustado,
			RevisaoMapaDisponibilizado,
			RevisaoMapaComSugestoes,
			RevisaoMapaValidado,
			RevisaoMapaHomologado,
		}
	case ProcessDiagnostico:
		return []Situation{
			NaoIniciado,
			DiagnosticoAutoavaliacaoEmAndamento,
			DiagnosticoMonitoramento,
			DiagnosticoConcluido,
		}
	}
	return nil
}

// TerminalSituation returns the final state of a process type's track.
func TerminalSituation(t ProcessType) Situation {
	switch t {
	case ProcessMapeamento:
		return MapeamentoMapaHomologado
	case ProcessRevisao:
		return RevisaoMapaHomologado
	case ProcessDiagnostico:
		return DiagnosticoConcluido
	}
	return ""
}

// BelongsTo reports whether s is part of the enumeration scoped to t.
func (s Situation) BelongsTo(t ProcessType) bool {
	for _, cand := range Situations(t) {
		if cand == s {
			return true
		}
	}
	return false
}

// Action is a requested lifecycle transition, the verbs operators see.
type Action string

const (
	ActionIniciarCadastro        Action = "iniciar_cadastro"
	ActionDisponibilizarCadastro Action = "disponibilizar_cadastro"
	ActionHomologarCadastro      Action = "homologar_cadastro"
	ActionCriarMapa              Action = "criar_mapa"
	ActionDisponibilizarMapa     Action = "disponibilizar_mapa"
	ActionApresentarSugestoes    Action = "apresentar_sugestoes"
	ActionValidarMapa            Action = "validar_mapa"
	ActionHomologarMapa          Action = "homologar_mapa"

	ActionIniciarRevisao        Action = "iniciar_revisao"
	ActionDisponibilizarRevisao Action = "disponibilizar_revisao"
	ActionHomologarRevisao      Action = "homologar_revisao"
	ActionAjustarMapa           Action = "ajustar_mapa"

	ActionIniciarAutoavaliacao Action = "iniciar_autoavaliacao"
	ActionIniciarMonitoramento Action = "iniciar_monitoramento"
	ActionConcluirDiagnostico  Action = "concluir_diagnostico"

	// Administrative reopenings, sending a cadastro back to the unit.
	ActionReabrirCadastro Action = "reabrir_cadastro"
	ActionReabrirRevisao  Action = "reabrir_revisao"
)

// Profile is an SGRH-assigned user profile.
type Profile string

const (
	ProfileAdmin    Profile = "ADMIN"
	ProfileGestor   Profile = "GESTOR"
	ProfileChefe    Profile = "CHEFE"
	ProfileServidor Profile = "SERVIDOR"
)

// UnitKind classifies a unit's position in the organizational tree.
type UnitKind string

const (
	UnitOperational  UnitKind = "OPERACIONAL"
	UnitIntermediate UnitKind = "INTERMEDIARIA"
	UnitRoot         UnitKind = "RAIZ"
)

// Unit is a read-only view of an organizational unit sourced from SGRH.
type Unit struct {
	ID       int64    `json:"id"`
	Sigla    string   `json:"sigla"`
	Name     string   `json:"name"`
	Kind     UnitKind `json:"kind"`
	ParentID *int64   `json:"parent_id,omitempty"`
	HolderID string   `json:"holder_id,omitempty"`
}

// User is the acting principal resolved from SGRH: a profile plus the unit
// the profile is active in.
type User struct {
	ID        string  `json:"id"`
	Name      string  `json:"name,omitempty"`
	Profile   Profile `json:"profile"`
	UnitID    int64   `json:"unit_id"`
	UnitSigla string  `json:"unit_sigla,omitempty"`
}

type Process struct {
	ID           int64            `json:"id"`
	Description  string           `json:"description"`
	Type         ProcessType      `json:"type"`
	Situation    ProcessSituation `json:"situation"`
	CreatedAt    string           `json:"created_at" format:"date-time"`
	DeadlineAt   *string          `json:"deadline_at,omitempty" format:"date-time"`
	FinalizedAt  *string          `json:"finalized_at,omitempty" format:"date-time"`
	Participants []int64          `json:"participants,omitempty"`
}

type Subprocess struct {
	ID          int64       `json:"id"`
	ProcessID   int64       `json:"process_id"`
	ProcessType ProcessType `json:"process_type"`
	UnitID      int64       `json:"unit_id"`
	Situation   Situation   `json:"situation"`
	MapID       *int64      `json:"map_id,omitempty"`

	// Two independent deadline/completion pairs: stage 1 covers the
	// cadastro, stage 2 the mapa.
	Stage1Deadline *string `json:"stage1_deadline,omitempty" format:"date-time"`
	Stage1DoneAt   *string `json:"stage1_done_at,omitempty" format:"date-time"`
	Stage2Deadline *string `json:"stage2_deadline,omitempty" format:"date-time"`
	Stage2DoneAt   *string `json:"stage2_done_at,omitempty" format:"date-time"`
}

type Map struct {
	ID                int64   `json:"id"`
	SubprocessID      int64   `json:"subprocess_id"`
	DisponibilizadoAt *string `json:"disponibilizado_at,omitempty" format:"date-time"`
	HomologadoAt      *string `json:"homologado_at,omitempty" format:"date-time"`
	Suggestions       string  `json:"suggestions,omitempty"`
}

type Activity struct {
	ID          int64    `json:"id"`
	MapID       int64    `json:"map_id"`
	Description string   `json:"description"`
	Knowledge   []string `json:"knowledge,omitempty"`
}

type Competency struct {
	ID          int64   `json:"id"`
	MapID       int64   `json:"map_id"`
	Description string  `json:"description"`
	ActivityIDs []int64 `json:"activity_ids,omitempty"`
}

// Movement is the immutable audit record of a subprocess crossing from one
// unit to another during a transition.
type Movement struct {
	ID           string `json:"id"`
	SubprocessID int64  `json:"subprocess_id"`
	OriginUnit   int64  `json:"origin_unit"`
	DestUnit     int64  `json:"dest_unit"`
	Description  string `json:"description"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Alert is an immutable notification record; per-user read timestamps are
// tracked in a separate table and surfaced through ReadAt when listing for
// a user.
type Alert struct {
	ID          string  `json:"id"`
	ProcessID   int64   `json:"process_id"`
	OriginUnit  int64   `json:"origin_unit"`
	DestUnit    int64   `json:"dest_unit"`
	TargetUser  *string `json:"target_user,omitempty"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ReadAt      *string `json:"read_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProcessID  int64  `json:"process_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

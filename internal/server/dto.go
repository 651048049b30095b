package server

import (
	"sgc/internal/domain"
	"sgc/internal/lifecycle"
	"sgc/internal/mapdiff"
)

// Request payloads

type CreateProcessRequest struct {
	Description string  `json:"description"`
	Type        string  `json:"type" enum:"MAPEAMENTO,REVISAO,DIAGNOSTICO"`
	DeadlineAt  *string `json:"deadline_at,omitempty" format:"date-time"`
	UnitIDs     []int64 `json:"unit_ids"`
}

type TransitionRequest struct {
	Action string `json:"action"`
}

type DeadlineRequest struct {
	Stage    int    `json:"stage" minimum:"1" maximum:"2"`
	Deadline string `json:"deadline" format:"date-time"`
}

type SuggestionsRequest struct {
	Suggestions string `json:"suggestions"`
}

type ActivityRequest struct {
	Description string   `json:"description"`
	Knowledge   []string `json:"knowledge,omitempty"`
}

type CompetencyRequest struct {
	Description string  `json:"description"`
	ActivityIDs []int64 `json:"activity_ids,omitempty"`
}

type ImportDirectoryRequest struct {
	Units []UnitPayload `json:"units"`
	Users []UserPayload `json:"users"`
}

type UnitPayload struct {
	ID       int64  `json:"id"`
	Sigla    string `json:"sigla"`
	Name     string `json:"name"`
	Kind     string `json:"kind" enum:"OPERACIONAL,INTERMEDIARIA,RAIZ"`
	ParentID *int64 `json:"parent_id,omitempty"`
	HolderID string `json:"holder_id,omitempty"`
}

type UserPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Profile string `json:"profile" enum:"ADMIN,GESTOR,CHEFE,SERVIDOR"`
	UnitID  int64  `json:"unit_id"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type TransitionResponse struct {
	Kind         string             `json:"kind" enum:"ok,invalid_action,terminal_state,denied,inconsistent_baseline"`
	DeniedReason string             `json:"denied_reason,omitempty"`
	Subprocess   domain.Subprocess  `json:"subprocess"`
	Movements    []domain.Movement  `json:"movements,omitempty"`
	Alerts       []domain.Alert     `json:"alerts,omitempty"`
	Impact       *mapdiff.Report    `json:"impact,omitempty"`
}

type FinalizeResponse struct {
	Kind         string   `json:"kind" enum:"ok,invalid_action,pending_subprocesses"`
	PendingUnits []string `json:"pending_units,omitempty"`
}

type MapDetailResponse struct {
	Map          domain.Map          `json:"map"`
	Activities   []domain.Activity   `json:"activities"`
	Competencies []domain.Competency `json:"competencies"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func transitionResponse(out lifecycle.Result, sp domain.Subprocess) TransitionResponse {
	resp := TransitionResponse{
		Kind:         string(out.Kind),
		DeniedReason: out.DeniedReason,
		Subprocess:   sp,
	}
	if out.Effects != nil {
		resp.Movements = out.Effects.Movements
		resp.Alerts = out.Effects.Alerts
		resp.Impact = out.Effects.Impact
	}
	return resp
}

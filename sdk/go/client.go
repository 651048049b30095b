package sgcsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal SGC HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Process represents the API process model.
type Process struct {
	ID          int64   `json:"id"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Situation   string  `json:"situation"`
	CreatedAt   string  `json:"created_at"`
	DeadlineAt  *string `json:"deadline_at,omitempty"`
	FinalizedAt *string `json:"finalized_at,omitempty"`
}

// Subprocess represents a unit's workflow within a process.
type Subprocess struct {
	ID             int64   `json:"id"`
	ProcessID      int64   `json:"process_id"`
	ProcessType    string  `json:"process_type"`
	UnitID         int64   `json:"unit_id"`
	Situation      string  `json:"situation"`
	MapID          *int64  `json:"map_id,omitempty"`
	Stage1Deadline *string `json:"stage1_deadline,omitempty"`
	Stage2Deadline *string `json:"stage2_deadline,omitempty"`
}

// Movement is one hop of a subprocess between units.
type Movement struct {
	ID           string `json:"id"`
	SubprocessID int64  `json:"subprocess_id"`
	OriginUnit   int64  `json:"origin_unit"`
	DestUnit     int64  `json:"dest_unit"`
	Description  string `json:"description"`
	CreatedAt    string `json:"created_at"`
}

// Alert is a notification entry.
type Alert struct {
	ID          string  `json:"id"`
	ProcessID   int64   `json:"process_id"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"created_at"`
	ReadAt      *string `json:"read_at,omitempty"`
}

// TransitionResult is the outcome of a workflow action.
type TransitionResult struct {
	Kind       string     `json:"kind"`
	Subprocess Subprocess `json:"subprocess"`
	Movements  []Movement `json:"movements,omitempty"`
	Alerts     []Alert    `json:"alerts,omitempty"`
}

// ImpactReport summarizes the diff against the homologated baseline.
type ImpactReport struct {
	HasImpact     bool `json:"has_impact"`
	InsertedCount int  `json:"inserted_count"`
	RemovedCount  int  `json:"removed_count"`
	AlteredCount  int  `json:"altered_count"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProcess creates a process over the given units.
func (c *Client) CreateProcess(ctx context.Context, description, processType string, unitIDs []int64) (Process, error) {
	body := map[string]any{
		"description": description,
		"type":        processType,
		"unit_ids":    unitIDs,
	}
	var resp Process
	err := c.do(ctx, http.MethodPost, "processos", body, &resp)
	return resp, err
}

// StartProcess fans the process out into per-unit subprocesses.
func (c *Client) StartProcess(ctx context.Context, id int64) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("processos/%d/iniciar", id), nil, &resp)
	return resp, err
}

// FinalizeProcess closes the process when every subprocess is terminal.
func (c *Client) FinalizeProcess(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("processos/%d/finalizar", id), nil, nil)
}

// Subprocesses lists the subprocesses of a process.
func (c *Client) Subprocesses(ctx context.Context, processID int64) ([]Subprocess, error) {
	var resp []Subprocess
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("processos/%d/subprocessos", processID), nil, &resp)
	return resp, err
}

// Transition executes a workflow action on a subprocess.
func (c *Client) Transition(ctx context.Context, subprocessID int64, action string) (TransitionResult, error) {
	body := map[string]any{"action": action}
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("subprocessos/%d/transicao", subprocessID), body, &resp)
	return resp, err
}

// Movements returns the movement history of a subprocess.
func (c *Client) Movements(ctx context.Context, subprocessID int64) ([]Movement, error) {
	var resp []Movement
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("subprocessos/%d/movimentacoes", subprocessID), nil, &resp)
	return resp, err
}

// Impact returns the diff against the unit's homologated baseline.
func (c *Client) Impact(ctx context.Context, subprocessID int64) (ImpactReport, error) {
	var resp ImpactReport
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("subprocessos/%d/impacto", subprocessID), nil, &resp)
	return resp, err
}

// Alerts lists alerts for the authenticated user.
func (c *Client) Alerts(ctx context.Context) ([]Alert, error) {
	var resp []Alert
	err := c.do(ctx, http.MethodGet, "alertas", nil, &resp)
	return resp, err
}

// MarkAlertRead marks an alert as read for the authenticated user.
func (c *Client) MarkAlertRead(ctx context.Context, alertID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("alertas/%s/lida", url.PathEscape(alertID)), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

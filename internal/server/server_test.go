package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"sgc/internal/config"
	"sgc/internal/db"
	"sgc/internal/domain"
	"sgc/internal/engine"
	"sgc/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("sgc-teste")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)

	root := int64(1)
	units := []domain.Unit{
		{ID: 1, Sigla: "SEDOC", Name: "Seção de Documentação", Kind: domain.UnitRoot, HolderID: "ana"},
		{ID: 2, Sigla: "CGTI", Name: "Coordenadoria de TI", Kind: domain.UnitIntermediate, ParentID: &root, HolderID: "bruno"},
	}
	two := int64(2)
	units = append(units, domain.Unit{ID: 3, Sigla: "SESEL", Name: "Seção de Seleção", Kind: domain.UnitOperational, ParentID: &two, HolderID: "carla"})
	users := []domain.User{
		{ID: "ana", Name: "Ana", Profile: domain.ProfileAdmin, UnitID: 1},
		{ID: "gil", Name: "Gil", Profile: domain.ProfileGestor, UnitID: 1},
		{ID: "carla", Name: "Carla", Profile: domain.ProfileChefe, UnitID: 3},
	}
	if err := e.ImportDirectory(context.Background(), units, users, "ana"); err != nil {
		t.Fatalf("import directory: %v", err)
	}

	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{AllowUserHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asUser(id string) map[string]string {
	return map[string]string{"X-Usuario": id}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestAuthenticationRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/processos", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestProcessWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/processos", map[string]any{
		"description": "Mapeamento 2025",
		"type":        "MAPEAMENTO",
		"unit_ids":    []int64{3},
	}, asUser("ana"))
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create process status %d: %s", createRes.StatusCode, string(data))
	}
	var created domain.Process
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal process: %v", err)
	}
	if created.Situation != domain.ProcessCriado {
		t.Fatalf("expected CRIADO, got %s", created.Situation)
	}
	pid := created.ID

	startRes, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/processos/"+itoa(pid)+"/iniciar", nil, asUser("ana"))
	if startRes.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", startRes.StatusCode, string(startBody))
	}

	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/processos/"+itoa(pid)+"/subprocessos", nil, asUser("ana"))
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list subprocesses status %d: %s", listRes.StatusCode, string(listBody))
	}
	var subs []domain.Subprocess
	if err := json.Unmarshal(listBody, &subs); err != nil {
		t.Fatalf("unmarshal subprocesses: %v", err)
	}
	if len(subs) != 1 || subs[0].Situation != domain.NaoIniciado {
		t.Fatalf("unexpected subprocess fan-out: %+v", subs)
	}
	spID := subs[0].ID

	// Finalizing with a pending unit reports the unit, not a silent failure.
	finRes, finBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/processos/"+itoa(pid)+"/finalizar", nil, asUser("ana"))
	if finRes.StatusCode != http.StatusConflict {
		t.Fatalf("finalize status %d: %s", finRes.StatusCode, string(finBody))
	}
	var env errorEnvelope
	if err := json.Unmarshal(finBody, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if env.Error.Code != "pending_subprocesses" {
		t.Fatalf("expected pending_subprocesses, got %q", env.Error.Code)
	}

	trRes, trBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/subprocessos/"+itoa(spID)+"/transicao", map[string]any{
		"action": "iniciar_cadastro",
	}, asUser("carla"))
	if trRes.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", trRes.StatusCode, string(trBody))
	}
	var tr TransitionResponse
	if err := json.Unmarshal(trBody, &tr); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if tr.Subprocess.Situation != domain.MapeamentoCadastroEmAndamento {
		t.Fatalf("expected MAPEAMENTO_CADASTRO_EM_ANDAMENTO, got %s", tr.Subprocess.Situation)
	}

	// Profile check failures surface as 403 with the denial reason.
	denRes, denBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/subprocessos/"+itoa(spID)+"/transicao", map[string]any{
		"action": "disponibilizar_cadastro",
	}, asUser("gil"))
	if denRes.StatusCode != http.StatusForbidden {
		t.Fatalf("denied transition status %d: %s", denRes.StatusCode, string(denBody))
	}
	_ = json.Unmarshal(denBody, &env)
	if env.Error.Code != "denied" || env.Error.Message == "" {
		t.Fatalf("unexpected denial envelope: %s", string(denBody))
	}
}

func TestAlertsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/processos", map[string]any{
		"description": "Diagnóstico 2025",
		"type":        "DIAGNOSTICO",
		"unit_ids":    []int64{3},
	}, asUser("ana"))
	var created domain.Process
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal process: %v", err)
	}
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/processos/"+itoa(created.ID)+"/iniciar", nil, asUser("ana"))

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/alertas", nil, asUser("carla"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list alerts status %d: %s", res.StatusCode, string(body))
	}
	var alerts []domain.Alert
	if err := json.Unmarshal(body, &alerts); err != nil {
		t.Fatalf("unmarshal alerts: %v", err)
	}
	if len(alerts) == 0 {
		t.Fatal("expected a start alert for the unit holder")
	}
	if alerts[0].ReadAt != nil {
		t.Fatal("alert should start unread")
	}

	readRes, readBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/alertas/"+alerts[0].ID+"/lida", nil, asUser("carla"))
	if readRes.StatusCode < 200 || readRes.StatusCode >= 300 {
		t.Fatalf("mark read status %d: %s", readRes.StatusCode, string(readBody))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/alertas", nil, asUser("carla"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list alerts status %d: %s", res.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &alerts); err != nil {
		t.Fatalf("unmarshal alerts: %v", err)
	}
	if alerts[0].ReadAt == nil {
		t.Fatal("alert should carry the read timestamp")
	}
}

func TestMeResolvesDirectoryUser(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, asUser("carla"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	var u domain.User
	if err := json.Unmarshal(body, &u); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}
	if u.Profile != domain.ProfileChefe || u.UnitSigla != "SESEL" {
		t.Fatalf("unexpected user: %+v", u)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, asUser("ninguem"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown user should be 401, got %d", res.StatusCode)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"greenlight/internal/config"
	"greenlight/internal/db"
	"greenlight/internal/domain"
	"greenlight/internal/engine"
	"greenlight/internal/migrate"
)

type testServer struct {
	URL      string
	Engine   engine.Engine
	Proposer domain.User
	Reviewer domain.User
	Director domain.User
	client   *http.Client
	close    func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()
	proposer, err := e.CreateUser(ctx, engine.CreateUserOptions{Name: "Pat", Email: "pat@example.com", Role: domain.RoleProposer})
	if err != nil {
		t.Fatalf("seed proposer: %v", err)
	}
	reviewer, err := e.CreateUser(ctx, engine.CreateUserOptions{Name: "Rae", Email: "rae@example.com", Role: domain.RoleReviewer})
	if err != nil {
		t.Fatalf("seed reviewer: %v", err)
	}
	director, err := e.CreateUser(ctx, engine.CreateUserOptions{Name: "Dan", Email: "dan@example.com", Role: domain.RoleDirector})
	if err != nil {
		t.Fatalf("seed director: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyUserHeader: true},
	})
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
		URL:      "http://" + ln.Addr().String(),
		Engine:   e,
		Proposer: proposer,
		Reviewer: reviewer,
		Director: director,
		client:   &http.Client{},
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

func asUser(u domain.User) map[string]string {
	return map[string]string{"X-User-Id": u.ID}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %s", code)
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestDevLoginAndBearerAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": srv.Proposer.ID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("unmarshal token: %v (%s)", err, string(data))
	}
	meRes, meData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", meRes.StatusCode, string(meData))
	}
	var me UserResponse
	if err := json.Unmarshal(meData, &me); err != nil || me.ID != srv.Proposer.ID {
		t.Fatalf("unexpected me response: %s", string(meData))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{
		"name": "ci",
	}, asUser(srv.Reviewer))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil || key.Key == "" {
		t.Fatalf("expected raw key in response: %s", string(data))
	}
	meRes, meData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"X-Api-Key": key.Key,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me via key status %d: %s", meRes.StatusCode, string(meData))
	}
	var me UserResponse
	if err := json.Unmarshal(meData, &me); err != nil || me.ID != srv.Reviewer.ID {
		t.Fatalf("unexpected me response: %s", string(meData))
	}
}

func TestApprovalWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"name":           "Solar Roof",
		"estimated_cost": "125000",
		"reviewer_ids":   []string{srv.Reviewer.ID},
	}, asUser(srv.Proposer))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var project ProjectResponse
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if project.Status != "draft" {
		t.Fatalf("expected draft, got %s", project.Status)
	}

	// only the proposer may submit
	subRes, subData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/submit", nil, asUser(srv.Director))
	if subRes.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", subRes.StatusCode, string(subData))
	}
	if code := errorCode(t, subData); code != "forbidden" {
		t.Fatalf("expected forbidden code, got %s", code)
	}

	subRes, subData = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/submit", nil, asUser(srv.Proposer))
	if subRes.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", subRes.StatusCode, string(subData))
	}

	// double submit conflicts
	dupRes, dupData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/submit", nil, asUser(srv.Proposer))
	if dupRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", dupRes.StatusCode, string(dupData))
	}
	if code := errorCode(t, dupData); code != "invalid_state" {
		t.Fatalf("expected invalid_state code, got %s", code)
	}

	pendRes, pendData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/reviews/pending", nil, asUser(srv.Reviewer))
	if pendRes.StatusCode != http.StatusOK {
		t.Fatalf("pending status %d: %s", pendRes.StatusCode, string(pendData))
	}
	var pendingReviews []ReviewResponse
	if err := json.Unmarshal(pendData, &pendingReviews); err != nil || len(pendingReviews) != 1 {
		t.Fatalf("expected one pending review: %s", string(pendData))
	}

	revRes, revData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reviews/"+pendingReviews[0].ID+"/submit", map[string]any{
		"decision":      "approve",
		"justification": "solid plan",
	}, asUser(srv.Reviewer))
	if revRes.StatusCode != http.StatusOK {
		t.Fatalf("submit review status %d: %s", revRes.StatusCode, string(revData))
	}

	// the single approval completed the set, so the project auto-approved
	getRes, getData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID, nil, asUser(srv.Proposer))
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get project status %d: %s", getRes.StatusCode, string(getData))
	}
	var got ProjectResponse
	_ = json.Unmarshal(getData, &got)
	if got.Status != "approved" {
		t.Fatalf("expected approved, got %s", got.Status)
	}

	histRes, histData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID+"/history", nil, asUser(srv.Proposer))
	if histRes.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", histRes.StatusCode, string(histData))
	}
	var hist paginatedHistory
	if err := json.Unmarshal(histData, &hist); err != nil || len(hist.Items) < 3 {
		t.Fatalf("expected audit entries: %s", string(histData))
	}
}

func TestRejectRequiresReasonOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"name":           "Doomed",
		"estimated_cost": "10",
		"reviewer_ids":   []string{srv.Reviewer.ID},
	}, asUser(srv.Proposer))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	var project ProjectResponse
	_ = json.Unmarshal(data, &project)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/submit", nil, asUser(srv.Proposer))

	rejRes, rejData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/reject", map[string]any{
		"reason": "",
	}, asUser(srv.Director))
	if rejRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rejRes.StatusCode, string(rejData))
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/nope", nil, asUser(srv.Proposer))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("expected not_found code, got %s", code)
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"governor/internal/config"
	"governor/internal/db"
	"governor/internal/domain"
	"governor/internal/events"
	"governor/internal/kv"
	"governor/internal/migrate"
	"governor/internal/override"
	"governor/internal/touchpoint"
)

const testSecret = "test-secret"

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
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := New(Config{
		Cfg:         config.Default("alpha"),
		Overrides:   override.NewStore(kv.NewSQLite(conn), 0),
		Touchpoints: touchpoint.NewStore(conn),
		Audit:       &events.Writer{DB: conn},
		BasePath:    "/v0",
		Auth:        AuthConfig{JWTSecret: testSecret},
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

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authHeader(t *testing.T) map[string]string {
	t.Helper()
	return map[string]string{"Authorization": "Bearer " + signToken(t, "operator-1")}
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

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, data)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q: %s", envelope.Error.Code, data)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d", res.StatusCode)
	}
}

func TestStatusWithoutGovernors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, authHeader(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var status StatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.PollRunning || status.EventRunning {
		t.Fatalf("no governor should report running: %+v", status)
	}
	if len(status.Projects) != 1 || status.Projects[0] != "alpha" {
		t.Fatalf("projects = %v", status.Projects)
	}
}

func TestLatestScanNotFoundWithoutPoll(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/scans/latest", nil, authHeader(t))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestOverrideLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v0/issues/issue-1/override"

	// No override yet.
	res, _ := doJSON(t, client, http.MethodGet, url, nil, authHeader(t))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get before set: status %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodPut, url, SetOverrideRequest{
		Type:   "hold",
		Reason: "waiting on legal",
	}, authHeader(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set status %d: %s", res.StatusCode, data)
	}
	var set OverrideResponse
	if err := json.Unmarshal(data, &set); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if set.State == nil || set.State.Directive.Type != domain.DirectiveHold {
		t.Fatalf("state = %+v", set.State)
	}
	if set.State.Directive.UserID != "operator-1" {
		t.Fatalf("actor = %q, want token subject", set.State.Directive.UserID)
	}

	res, data = doJSON(t, client, http.MethodGet, url, nil, authHeader(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodDelete, url, nil, authHeader(t))
	if res.StatusCode >= 300 {
		t.Fatalf("clear status %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodGet, url, nil, authHeader(t))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after clear: status %d", res.StatusCode)
	}

	// The audit tail recorded both moves.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?issue_id=issue-1", nil, authHeader(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, data)
	}
	var tail AuditTailResponse
	if err := json.Unmarshal(data, &tail); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(tail.Items) != 2 || tail.Items[0].Type != "override.cleared" || tail.Items[1].Type != "override.set" {
		t.Fatalf("audit tail = %+v", tail.Items)
	}
}

func TestSetOverrideRejectsResume(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/issues/issue-1/override", SetOverrideRequest{
		Type: "resume",
	}, authHeader(t))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/issues/issue-1/override", SetOverrideRequest{
		Type: "freeze",
	}, authHeader(t))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown type status %d: %s", res.StatusCode, data)
	}
}

func TestTouchpointLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/touchpoints/open", nil, authHeader(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var list TouchpointListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Items) != 0 {
		t.Fatalf("items = %+v, want empty", list.Items)
	}

	// The external escalation ladder posts a review request.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/issue-1/touchpoints", PostTouchpointRequest{
		Type:            "review-request",
		IssueIdentifier: "PROJ-1",
		CycleCount:      2,
		FailureSummary:  "tests flaked on CI",
	}, authHeader(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("post status %d: %s", res.StatusCode, data)
	}
	var posted TouchpointResponse
	if err := json.Unmarshal(data, &posted); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if posted.Item.ID == "" || posted.Item.Type != domain.TouchpointReviewRequest {
		t.Fatalf("posted = %+v", posted.Item)
	}
	if posted.Item.Timeout != 4*time.Hour {
		t.Fatalf("timeout = %s, want configured 4h window", posted.Item.Timeout)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues/issue-1/touchpoints", nil, authHeader(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != posted.Item.ID {
		t.Fatalf("items = %+v", list.Items)
	}
	if list.Items[0].RespondedAt != nil {
		t.Fatal("freshly posted touchpoint should be open")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/touchpoints/open", nil, authHeader(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("open status %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("open = %+v", list.Items)
	}
}

func TestPostTouchpointRejectsUnknownType(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/issues/issue-1/touchpoints", PostTouchpointRequest{
		Type: "nudge",
	}, authHeader(t))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voteline/internal/config"
	"voteline/internal/db"
	"voteline/internal/domain"
	"voteline/internal/engine"
	"voteline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err, "open db")
	require.NoError(t, migrate.Migrate(conn), "migrate")
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC) }
	_, err = e.CreateProject(context.Background(), engine.CreateProjectOptions{ID: "p1", Name: "main", ActorID: "alice"})
	require.NoError(t, err, "create project")

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true},
	})
	require.NoError(t, err, "build handler")
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String() + "/v0", client: &http.Client{}}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err, "marshal body")
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err, "new request")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	require.NoError(t, err, "do request")
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "read body")
	return resp, data
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), "decode %s", data)
	return out
}

func (s *testServer) createIssue(t *testing.T, subject string) domain.Issue {
	t.Helper()
	resp, data := s.do(t, http.MethodPost, "/projects/p1/issues", map[string]any{
		"tracker_id": "feature",
		"subject":    subject,
	}, as("alice"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	return decode[domain.Issue](t, data)
}

func TestHealthIsOpen(t *testing.T) {
	s := newTestServer(t)
	resp, data := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(data))
}

func TestMissingCredentialsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	resp, data := s.do(t, http.MethodGet, "/projects", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", decode[errorEnvelope](t, data).Error.Code)
}

func TestIssueLifecycle(t *testing.T) {
	s := newTestServer(t)
	created := s.createIssue(t, "first")
	assert.Equal(t, "new", created.StatusID)
	assert.Equal(t, "alice", created.AuthorID)

	resp, data := s.do(t, http.MethodGet, "/issues/"+created.ID, nil, as("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	got := decode[IssueResponse](t, data)
	assert.Equal(t, "first", got.Subject)
	assert.False(t, got.Blocked)
	assert.False(t, got.HasTeam)
	assert.Nil(t, got.DueBefore)
	assert.True(t, got.PushAllowed)

	resp, data = s.do(t, http.MethodPatch, "/issues/"+created.ID, map[string]any{
		"subject":      "renamed",
		"status_id":    "open",
		"notes":        "kicking off",
		"lock_version": created.LockVersion,
	}, as("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	mut := decode[MutationResponse](t, data)
	assert.Equal(t, "renamed", mut.Issue.Subject)
	assert.Equal(t, "open", mut.Issue.StatusID)
	require.NotNil(t, mut.Journal)
	assert.Equal(t, "kicking off", mut.Journal.Notes)

	resp, data = s.do(t, http.MethodGet, "/issues/"+created.ID+"/journals", nil, as("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Len(t, decode[[]domain.Journal](t, data), 1)

	resp, _ = s.do(t, http.MethodDelete, "/issues/"+created.ID, nil, as("alice"))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/issues/"+created.ID, nil, as("alice"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	s := newTestServer(t)
	i := s.createIssue(t, "target")

	resp, data := s.do(t, http.MethodPatch, "/issues/"+i.ID, map[string]any{"subject": ""}, as("alice"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(data))
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, "validation_failed", env.Error.Code)
	assert.Contains(t, env.Error.Details, "fields")

	resp, data = s.do(t, http.MethodPatch, "/issues/"+i.ID, map[string]any{"status_id": "accepted"}, as("alice"))
	require.Equal(t, http.StatusForbidden, resp.StatusCode, string(data))
	assert.Equal(t, "workflow_violation", decode[errorEnvelope](t, data).Error.Code)

	resp, data = s.do(t, http.MethodPatch, "/issues/"+i.ID, map[string]any{
		"subject":      "stale",
		"lock_version": i.LockVersion + 5,
	}, as("alice"))
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(data))
	assert.Equal(t, "concurrency_conflict", decode[errorEnvelope](t, data).Error.Code)

	resp, data = s.do(t, http.MethodPost, "/projects/p1/issues", map[string]any{
		"tracker_id": "feature",
		"subject":    "intruder",
	}, as("mallory"))
	require.Equal(t, http.StatusForbidden, resp.StatusCode, string(data))
	assert.Equal(t, "forbidden", decode[errorEnvelope](t, data).Error.Code)

	resp, data = s.do(t, http.MethodGet, "/issues/missing", nil, as("alice"))
	require.Equal(t, http.StatusNotFound, resp.StatusCode, string(data))
	assert.Equal(t, "not_found", decode[errorEnvelope](t, data).Error.Code)
}

func TestVotesAndRelations(t *testing.T) {
	s := newTestServer(t)
	a := s.createIssue(t, "a")
	b := s.createIssue(t, "b")

	resp, data := s.do(t, http.MethodPost, "/issues/"+a.ID+"/votes", map[string]any{
		"kind": "agree", "points": 1,
	}, as("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, 1, decode[domain.Issue](t, data).Agree)

	resp, data = s.do(t, http.MethodGet, "/issues/"+a.ID+"/votes", nil, as("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Len(t, decode[[]domain.Vote](t, data), 2)

	resp, data = s.do(t, http.MethodDelete, "/issues/"+a.ID+"/votes/agree", nil, as("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, 0, decode[domain.Issue](t, data).Agree)

	resp, data = s.do(t, http.MethodPost, "/issues/"+a.ID+"/relations", map[string]any{
		"to_id": b.ID, "kind": "blocks",
	}, as("alice"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	rel := decode[domain.Relation](t, data)

	resp, data = s.do(t, http.MethodGet, "/issues/"+b.ID, nil, as("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.True(t, decode[IssueResponse](t, data).Blocked)

	resp, data = s.do(t, http.MethodPost, "/issues/"+b.ID+"/relations", map[string]any{
		"to_id": a.ID, "kind": "blocks",
	}, as("alice"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(data))

	resp, _ = s.do(t, http.MethodDelete, "/relations/"+rel.ID, nil, as("alice"))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAllowedStatuses(t *testing.T) {
	s := newTestServer(t)
	i := s.createIssue(t, "x")
	resp, data := s.do(t, http.MethodGet, "/issues/"+i.ID+"/allowed-statuses", nil, as("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var ids []string
	for _, st := range decode[[]StatusResponse](t, data) {
		ids = append(ids, st.ID)
	}
	assert.ElementsMatch(t, []string{"new", "estimate", "open", "canceled"}, ids)
}

func TestDevLoginTokenAuthenticates(t *testing.T) {
	s := newTestServer(t)
	resp, data := s.do(t, http.MethodPost, "/auth/dev/login", map[string]any{"actor_id": "alice"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	token := decode[DevLoginResponse](t, data).Token
	require.NotEmpty(t, token)

	resp, data = s.do(t, http.MethodPost, "/projects/p1/issues", map[string]any{
		"tracker_id": "bug",
		"subject":    "via token",
	}, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	assert.Equal(t, "alice", decode[domain.Issue](t, data).AuthorID)

	resp, _ = s.do(t, http.MethodGet, "/projects", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsFeed(t *testing.T) {
	s := newTestServer(t)
	i := s.createIssue(t, "observed")
	resp, data := s.do(t, http.MethodGet, "/events?entity_id="+i.ID, nil, as("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	evts := decode[[]domain.Event](t, data)
	require.NotEmpty(t, evts)
	assert.Equal(t, i.ID, evts[0].EntityID)
}

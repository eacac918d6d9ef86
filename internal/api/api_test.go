package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentboard/agentboard/internal/models"
	"github.com/agentboard/agentboard/internal/store"
)

const masterToken = "master-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	srv := httptest.NewServer(NewServer(s, nil, masterToken).Router())
	t.Cleanup(srv.Close)
	return srv
}

type testClient struct {
	t       *testing.T
	baseURL string
	headers map[string]string
}

func client(t *testing.T, srv *httptest.Server, headers map[string]string) *testClient {
	return &testClient{t: t, baseURL: srv.URL, headers: headers}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func session(user string) map[string]string {
	return map[string]string{"X-Session-User": user}
}

func (c *testClient) do(method, path string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func registerTestAgent(t *testing.T, srv *httptest.Server, name string) registerAgentResponse {
	t.Helper()
	var reg registerAgentResponse
	status := client(t, srv, nil).do("POST", "/api/v1/agents/register", map[string]string{
		"name":    name,
		"dev_url": "http://localhost:3000",
	}, &reg)
	require.Equal(t, http.StatusCreated, status)
	return reg
}

func TestAgentRegistrationAndHeartbeat(t *testing.T) {
	srv := newTestServer(t)

	reg := registerTestAgent(t, srv, "DevAgent")
	assert.NotEmpty(t, reg.AgentID)
	assert.NotEmpty(t, reg.Token)

	// Heartbeat with the agent's own token.
	var ack map[string]string
	status := client(t, srv, bearer(reg.Token)).do("POST",
		"/api/v1/agents/"+reg.AgentID+"/heartbeat",
		map[string]string{"status": "running", "current_task": "smoke suite"}, &ack)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, ack["ack"])

	// Listing needs no credential.
	var agentList []struct {
		models.Agent
		EffectiveStatus models.AgentStatus
	}
	status = client(t, srv, nil).do("GET", "/api/v1/agents", nil, &agentList)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, agentList, 1)
	assert.Equal(t, "DevAgent", agentList[0].Name)
	assert.Equal(t, models.AgentStatusRunning, agentList[0].EffectiveStatus)
	assert.Equal(t, "smoke suite", agentList[0].CurrentTask)
}

func TestHeartbeat_AuthRequired(t *testing.T) {
	srv := newTestServer(t)
	reg := registerTestAgent(t, srv, "DevAgent")

	// No credential at all.
	status := client(t, srv, nil).do("POST", "/api/v1/agents/"+reg.AgentID+"/heartbeat", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Bogus bearer token is rejected at the middleware.
	status = client(t, srv, bearer("agt_bogus")).do("POST", "/api/v1/agents/"+reg.AgentID+"/heartbeat", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Another agent's token may not heartbeat for this one.
	other := registerTestAgent(t, srv, "QAAgent")
	status = client(t, srv, bearer(other.Token)).do("POST", "/api/v1/agents/"+reg.AgentID+"/heartbeat", nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	reg := registerTestAgent(t, srv, "QAAgent")
	c := client(t, srv, bearer(reg.Token))

	var created createRunResponse
	status := c.do("POST", "/api/v1/runs", map[string]any{
		"agent_id":   reg.AgentID,
		"commit_sha": "abc1234",
		"cases": []map[string]string{
			{"name": "login works", "expected": "dashboard loads"},
			{"name": "logout works", "expected": "returns to sign-in"},
		},
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, created.Run)
	require.Len(t, created.CaseIDs, 2)
	assert.Equal(t, models.RunStatusRunning, created.Run.Status)

	// Fail the first case with a screenshot.
	var tc models.TestCase
	status = c.do("PATCH", "/api/v1/cases/"+created.CaseIDs[0], map[string]any{
		"status":          "fail",
		"actual":          "error page",
		"bug_description": "login 500s",
		"bug_severity":    "high",
		"screenshots": []map[string]string{
			{"url": "http://cdn/shot1.png", "caption": "error page"},
		},
	}, &tc)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.CaseStatusFail, tc.Status)
	require.NotNil(t, tc.StartedAt)
	require.NotNil(t, tc.FinishedAt)

	// Case detail includes the artifact.
	var detail caseDetailResponse
	status = c.do("GET", "/api/v1/cases/"+created.CaseIDs[0], nil, &detail)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, detail.Screenshots, 1)
	assert.True(t, detail.Screenshots[0].IsFailure)

	status = c.do("PATCH", "/api/v1/cases/"+created.CaseIDs[1], map[string]any{"status": "pass"}, nil)
	require.Equal(t, http.StatusOK, status)

	var completed models.Run
	status = c.do("POST", "/api/v1/runs/"+created.Run.ID+"/complete", map[string]any{
		"status": "failed", "passed": 1, "failed": 1, "skipped": 0,
	}, &completed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.RunStatusFailed, completed.Status)
	assert.Equal(t, 1, completed.Passed)
	assert.Equal(t, 1, completed.Failed)

	// A second completion conflicts.
	status = c.do("POST", "/api/v1/runs/"+created.Run.ID+"/complete", map[string]any{
		"status": "failed", "passed": 1, "failed": 1, "skipped": 0,
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	// Run detail returns the cases.
	var runDetail runDetailResponse
	status = c.do("GET", "/api/v1/runs/"+created.Run.ID, nil, &runDetail)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, runDetail.Cases, 2)
}

func TestCreateRun_Errors(t *testing.T) {
	srv := newTestServer(t)
	c := client(t, srv, bearer(masterToken))

	var body map[string]any
	status := c.do("POST", "/api/v1/runs", map[string]any{"agent_id": ""}, &body)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation failed", body["error"])
	assert.NotEmpty(t, body["fields"])

	status = c.do("POST", "/api/v1/runs", map[string]any{
		"agent_id": "ghost-agent",
		"cases":    []map[string]string{{"name": "x"}},
	}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMessagesOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	registerTestAgent(t, srv, "DevAgent")
	joe := client(t, srv, session("joe"))

	var msg models.Message
	status := joe.do("POST", "/api/v1/channels/bugs/messages", map[string]any{
		"content": "@DevAgent please look at the checkout flow",
		"type":    "text",
	}, &msg)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "joe", msg.SenderName)
	assert.Equal(t, []string{"@DevAgent"}, msg.Mentions)

	for i := 0; i < 3; i++ {
		status = joe.do("POST", "/api/v1/channels/bugs/messages", map[string]any{
			"content": fmt.Sprintf("followup %d", i),
		}, nil)
		require.Equal(t, http.StatusCreated, status)
	}

	var page messagePageResponse
	status = joe.do("GET", "/api/v1/channels/bugs/messages?limit=2", nil, &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Messages, 2)
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.Cursor)
	assert.Equal(t, "followup 1", page.Messages[0].Content)
	assert.Equal(t, "followup 2", page.Messages[1].Content)

	// Walk back with the cursor.
	status = joe.do("GET", "/api/v1/channels/bugs/messages?limit=2&before="+page.Cursor, nil, &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "followup 0", page.Messages[1].Content)

	var channels []*models.Channel
	status = joe.do("GET", "/api/v1/channels", nil, &channels)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, channels, 1)
	assert.Equal(t, "bugs", channels[0].Name)
}

func TestReadCursorsOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	joe := client(t, srv, session("joe"))

	for i := 0; i < 4; i++ {
		status := joe.do("POST", "/api/v1/channels/general/messages", map[string]any{
			"content": fmt.Sprintf("note %d", i),
		}, nil)
		require.Equal(t, http.StatusCreated, status)
	}

	var unread map[string]int
	status := joe.do("GET", "/api/v1/channels/general/unread", nil, &unread)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, unread["unread"])

	status = joe.do("POST", "/api/v1/channels/general/read", nil, nil)
	require.Equal(t, http.StatusOK, status)

	status = joe.do("GET", "/api/v1/channels/general/unread", nil, &unread)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, unread["unread"])

	// Another subscriber keeps an independent cursor.
	sam := client(t, srv, session("sam"))
	status = sam.do("GET", "/api/v1/channels/general/unread", nil, &unread)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, unread["unread"])
}

func TestMessages_BadQueryParams(t *testing.T) {
	srv := newTestServer(t)
	joe := client(t, srv, session("joe"))

	status := joe.do("POST", "/api/v1/channels/general/messages", map[string]any{"content": "hi"}, nil)
	require.Equal(t, http.StatusCreated, status)

	status = joe.do("GET", "/api/v1/channels/general/messages?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = joe.do("GET", "/api/v1/channels/general/messages?after=yesterday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = joe.do("GET", "/api/v1/channels/ghost/messages", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/agents", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

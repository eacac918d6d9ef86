// Package api provides the REST handlers for the dashboard backend.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentboard/agentboard/internal/agents"
	"github.com/agentboard/agentboard/internal/auth"
	"github.com/agentboard/agentboard/internal/core"
	"github.com/agentboard/agentboard/internal/messages"
	"github.com/agentboard/agentboard/internal/models"
	"github.com/agentboard/agentboard/internal/runs"
	"github.com/agentboard/agentboard/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store    store.Store
	agents   *agents.Service
	runs     *runs.Service
	messages *messages.Service
	resolver *auth.Resolver
}

// NewServer creates a new API server. queue may be nil to disable dispatch.
func NewServer(s store.Store, queue messages.Enqueuer, masterToken string) *Server {
	return &Server{
		store:    s,
		agents:   agents.NewService(s),
		runs:     runs.NewService(s),
		messages: messages.NewService(s, queue),
		resolver: auth.NewResolver(s, masterToken),
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/agents/register", s.registerAgent)
	mux.HandleFunc("GET /api/v1/agents", s.listAgents)
	mux.HandleFunc("GET /api/v1/agents/{id}", s.getAgent)
	mux.HandleFunc("POST /api/v1/agents/{id}/heartbeat", s.heartbeat)

	mux.HandleFunc("POST /api/v1/runs", s.createRun)
	mux.HandleFunc("GET /api/v1/runs", s.listRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.getRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/complete", s.completeRun)

	mux.HandleFunc("GET /api/v1/cases/{id}", s.getCase)
	mux.HandleFunc("PATCH /api/v1/cases/{id}", s.updateCase)

	mux.HandleFunc("GET /api/v1/channels", s.listChannels)
	mux.HandleFunc("GET /api/v1/channels/{name}/messages", s.listMessages)
	mux.HandleFunc("POST /api/v1/channels/{name}/messages", s.sendMessage)
	mux.HandleFunc("POST /api/v1/channels/{name}/read", s.markRead)
	mux.HandleFunc("GET /api/v1/channels/{name}/unread", s.unreadCount)

	return corsMiddleware(s.authMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-User")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the caller's credential into a principal. A bearer
// token must resolve or the request is rejected; the session header is a
// trusted boundary and accepted as-is.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			token := strings.TrimPrefix(h, "Bearer ")
			p, err := s.resolver.ResolveBearer(r.Context(), token)
			if err != nil {
				s.handleErr(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
			return
		}
		if user := r.Header.Get("X-Session-User"); user != "" {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), auth.Session(user))))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleErr maps the service error taxonomy onto HTTP statuses. Internal
// errors are logged and reported generically; transaction atomicity keeps
// partial state invisible.
func (s *Server) handleErr(w http.ResponseWriter, err error) {
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": ve.Fields,
		})
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, core.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// principal returns the caller's principal, or an unauthorized error when the
// request carried no credential at all.
func principal(r *http.Request) (auth.Principal, error) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Principal{}, core.ErrUnauthorized
	}
	return p, nil
}

// --- Agents ---

type registerAgentRequest struct {
	Name    string `json:"name"`
	DevURL  string `json:"dev_url"`
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch"`
}

type registerAgentResponse struct {
	AgentID string `json:"agent_id"`
	Token   string `json:"token"`
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	agent, err := s.agents.Register(r.Context(), agents.RegisterParams{
		Name:    req.Name,
		DevURL:  req.DevURL,
		RepoURL: req.RepoURL,
		Branch:  req.Branch,
	})
	if err != nil {
		s.handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerAgentResponse{AgentID: agent.ID, Token: agent.Token})
}

type agentResponse struct {
	*models.Agent
	EffectiveStatus models.AgentStatus `json:"EffectiveStatus"`
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	views, err := s.agents.List(r.Context())
	if err != nil {
		s.handleErr(w, err)
		return
	}
	result := make([]agentResponse, 0, len(views))
	for _, v := range views {
		result = append(result, agentResponse{Agent: v.Agent, EffectiveStatus: v.EffectiveStatus})
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	view, err := s.agents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentResponse{Agent: view.Agent, EffectiveStatus: view.EffectiveStatus})
}

type heartbeatRequest struct {
	Status      *string `json:"status"`
	CurrentTask *string `json:"current_task"`
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.handleErr(w, err)
		return
	}

	var req heartbeatRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	var status *models.AgentStatus
	if req.Status != nil {
		st := models.AgentStatus(*req.Status)
		status = &st
	}
	ack, err := s.agents.Heartbeat(r.Context(), p, r.PathValue("id"), status, req.CurrentTask)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ack": ack.Format(time.RFC3339Nano)})
}

// --- Runs ---

type caseSpecRequest struct {
	Name     string `json:"name"`
	Expected string `json:"expected"`
}

type createRunRequest struct {
	AgentID       string            `json:"agent_id"`
	CommitSHA     string            `json:"commit_sha"`
	CommitMessage string            `json:"commit_message"`
	Cases         []caseSpecRequest `json:"cases"`
}

type createRunResponse struct {
	Run     *models.Run `json:"run"`
	CaseIDs []string    `json:"case_ids"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.handleErr(w, err)
		return
	}

	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	specs := make([]runs.CaseSpec, len(req.Cases))
	for i, c := range req.Cases {
		specs[i] = runs.CaseSpec{Name: c.Name, Expected: c.Expected}
	}
	run, cases, err := s.runs.Create(r.Context(), p, runs.CreateParams{
		AgentID:       req.AgentID,
		CommitSHA:     req.CommitSHA,
		CommitMessage: req.CommitMessage,
		Cases:         specs,
	})
	if err != nil {
		s.handleErr(w, err)
		return
	}

	caseIDs := make([]string, len(cases))
	for i, tc := range cases {
		caseIDs[i] = tc.ID
	}
	writeJSON(w, http.StatusCreated, createRunResponse{Run: run, CaseIDs: caseIDs})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunListFilter{
		AgentID: r.URL.Query().Get("agent_id"),
		Status:  models.RunStatus(r.URL.Query().Get("status")),
		Limit:   50,
	}
	result, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	if result == nil {
		result = []*models.Run{}
	}
	writeJSON(w, http.StatusOK, result)
}

type runDetailResponse struct {
	*models.Run
	Cases []*models.TestCase `json:"Cases"`
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	cases, err := s.store.ListRunCases(r.Context(), id)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runDetailResponse{Run: run, Cases: cases})
}

type completeRunRequest struct {
	Status  string `json:"status"`
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

func (s *Server) completeRun(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.handleErr(w, err)
		return
	}

	var req completeRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	run, err := s.runs.Complete(r.Context(), p, r.PathValue("id"),
		models.RunStatus(req.Status), req.Passed, req.Failed, req.Skipped)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// --- Cases ---

type caseDetailResponse struct {
	*models.TestCase
	Screenshots []*models.Screenshot `json:"Screenshots"`
	Recordings  []*models.Recording  `json:"Recordings"`
}

func (s *Server) getCase(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tc, err := s.store.GetCase(r.Context(), id)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	shots, err := s.store.ListCaseScreenshots(r.Context(), id)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	recs, err := s.store.ListCaseRecordings(r.Context(), id)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caseDetailResponse{TestCase: tc, Screenshots: shots, Recordings: recs})
}

type screenshotRequest struct {
	URL     string `json:"url"`
	Caption string `json:"caption"`
}

type updateCaseRequest struct {
	Status         *string            `json:"status"`
	Actual         *string            `json:"actual"`
	BugDescription *string            `json:"bug_description"`
	BugSeverity    *string            `json:"bug_severity"`
	DurationMS     *int64             `json:"duration_ms"`
	Notes          *string            `json:"notes"`
	Screenshots    []screenshotRequest `json:"screenshots"`
	RecordingURL   *string            `json:"recording_url"`
}

func (s *Server) updateCase(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.handleErr(w, err)
		return
	}

	var req updateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	patch := runs.CasePatch{
		Actual:       req.Actual,
		DurationMS:   req.DurationMS,
		Notes:        req.Notes,
		RecordingURL: req.RecordingURL,
	}
	if req.Status != nil {
		st := models.CaseStatus(*req.Status)
		patch.Status = &st
	}
	if req.BugDescription != nil {
		patch.BugDescription = req.BugDescription
	}
	if req.BugSeverity != nil {
		sev := models.BugSeverity(*req.BugSeverity)
		patch.BugSeverity = &sev
	}
	for _, shot := range req.Screenshots {
		patch.Screenshots = append(patch.Screenshots, runs.ScreenshotSpec{URL: shot.URL, Caption: shot.Caption})
	}

	tc, err := s.runs.UpdateCase(r.Context(), p, r.PathValue("id"), patch)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

// --- Channels & messages ---

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.ListChannels(r.Context())
	if err != nil {
		s.handleErr(w, err)
		return
	}
	if channels == nil {
		channels = []*models.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

type sendMessageRequest struct {
	Content    string             `json:"content"`
	SenderID   string             `json:"sender_id"`
	SenderName string             `json:"sender_name"`
	Type       string             `json:"type"`
	Mentions   []string           `json:"mentions"`
	Meta       models.MessageMeta `json:"meta"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.handleErr(w, err)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	msg, err := s.messages.Send(r.Context(), p, messages.SendParams{
		Channel:    r.PathValue("name"),
		Content:    req.Content,
		SenderID:   req.SenderID,
		SenderName: req.SenderName,
		Type:       models.MessageType(req.Type),
		Mentions:   req.Mentions,
		Meta:       req.Meta,
	})
	if err != nil {
		s.handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type messagePageResponse struct {
	Messages []*models.Message `json:"messages"`
	HasMore  bool              `json:"has_more"`
	Cursor   string            `json:"cursor,omitempty"`
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	params := messages.ListParams{
		Channel: r.PathValue("name"),
		Before:  r.URL.Query().Get("before"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		params.Limit = limit
	}
	if v := r.URL.Query().Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after timestamp")
			return
		}
		params.After = &t
	}

	page, err := s.messages.List(r.Context(), params)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	if page.Messages == nil {
		page.Messages = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, messagePageResponse{
		Messages: page.Messages,
		HasMore:  page.HasMore,
		Cursor:   page.Cursor,
	})
}

type markReadRequest struct {
	Subscriber string `json:"subscriber"`
	UpTo       string `json:"up_to"`
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.handleErr(w, err)
		return
	}

	var req markReadRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	subscriber := req.Subscriber
	if subscriber == "" {
		subscriber = p.Subject
	}

	cursor, err := s.messages.MarkRead(r.Context(), subscriber, r.PathValue("name"), req.UpTo)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursor)
}

func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.handleErr(w, err)
		return
	}
	subscriber := r.URL.Query().Get("subscriber")
	if subscriber == "" {
		subscriber = p.Subject
	}

	count, err := s.messages.UnreadCount(r.Context(), subscriber, r.PathValue("name"))
	if err != nil {
		s.handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}

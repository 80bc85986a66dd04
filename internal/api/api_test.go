package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/sensei/internal/engagement"
	"github.com/abhisek/sensei/internal/ledger"
	"github.com/abhisek/sensei/internal/rubric"
	"github.com/abhisek/sensei/internal/session"
	"github.com/abhisek/sensei/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	err error

	gotUser, gotGoal, gotReason, gotUtterance string
	gotMode                                   session.Mode
}

func (f *fakeService) StartSession(_ context.Context, userID, goalID string, mode session.Mode) (*session.StartResult, error) {
	f.gotUser, f.gotGoal, f.gotMode = userID, goalID, mode
	if f.err != nil {
		return nil, f.err
	}
	return &session.StartResult{SessionID: "s-1", OpeningPrompt: "Welcome!", Phase: session.PhaseAwaitingTopic, Mode: session.ModeFreeChoice}, nil
}

func (f *fakeService) SubmitTurn(_ context.Context, sessionID, utterance string) (*session.TurnResult, error) {
	f.gotUtterance = utterance
	if f.err != nil {
		return nil, f.err
	}
	return &session.TurnResult{SessionID: sessionID, ResponseText: "Nice work.", Phase: session.PhaseConversing, EngagementRatio: 0.25}, nil
}

func (f *fakeService) EndSession(_ context.Context, sessionID string) (*session.TurnResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &session.TurnResult{SessionID: sessionID, Phase: session.PhaseCompleted, Completed: true}, nil
}

func (f *fakeService) GetProgress(_ context.Context, userID, goalID string) ([]ledger.ItemProgress, error) {
	f.gotUser, f.gotGoal = userID, goalID
	if f.err != nil {
		return nil, f.err
	}
	return []ledger.ItemProgress{{ItemID: "base-case", Status: ledger.StatusPassed, Attempts: 1}}, nil
}

func (f *fakeService) RequestHandoff(_ context.Context, userID, goalID, reason string) (*engagement.Decision, error) {
	f.gotUser, f.gotGoal, f.gotReason = userID, goalID, reason
	if f.err != nil {
		return nil, f.err
	}
	return &engagement.Decision{Allowed: false, Ratio: 0.25, Total: 4, Counted: 1, Needed: 1}, nil
}

func testGoals() rubric.Source {
	return &rubric.Catalog{Version: "1.0.0", Goals: []*rubric.Goal{{ID: "recursion", Title: "Recursion", Items: []rubric.Item{{ID: "base-case"}}}}}
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error
}

func TestStartSession(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(RouterConfig{Service: svc})

	w := do(t, r, http.MethodPost, "/api/v1/sessions", `{"user_id":"ada","goal_id":"recursion","mode":"guided"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res session.StartResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "s-1", res.SessionID)
	assert.Equal(t, session.PhaseAwaitingTopic, res.Phase)
	assert.Equal(t, session.ModeGuided, svc.gotMode)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestStartSession_MissingFields(t *testing.T) {
	r := NewRouter(RouterConfig{Service: &fakeService{}})

	w := do(t, r, http.MethodPost, "/api/v1/sessions", `{"user_id":"ada"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeError(t, w).Code)
}

func TestSubmitTurn(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(RouterConfig{Service: svc})

	w := do(t, r, http.MethodPost, "/api/v1/sessions/s-1/turns", `{"utterance":"a base case stops recursion"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res session.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "s-1", res.SessionID)
	assert.Equal(t, 0.25, res.EngagementRatio)
	assert.Equal(t, "a base case stops recursion", svc.gotUtterance)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", &session.ValidationError{Field: "utterance", Reason: "must not be blank"}, http.StatusBadRequest, "invalid_request"},
		{"unknown session", &session.ValidationError{Field: "session_id", Reason: "unknown", NotFound: true}, http.StatusNotFound, "not_found"},
		{"completed", session.ErrSessionCompleted, http.StatusConflict, "session_completed"},
		{"version conflict", fmt.Errorf("submit turn: %w", store.ErrConflict), http.StatusConflict, "conflict"},
		{"deadline", fmt.Errorf("submit turn: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(RouterConfig{Service: &fakeService{err: tt.err}})
			w := do(t, r, http.MethodPost, "/api/v1/sessions/s-1/turns", `{"utterance":"hi"}`)
			require.Equal(t, tt.wantStatus, w.Code)
			apiErr := decodeError(t, w)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, apiErr.Message, "disk on fire")
			}
		})
	}
}

func TestEndSession(t *testing.T) {
	r := NewRouter(RouterConfig{Service: &fakeService{}})

	w := do(t, r, http.MethodDelete, "/api/v1/sessions/s-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var res session.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Completed)
}

func TestProgress(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(RouterConfig{Service: svc})

	w := do(t, r, http.MethodGet, "/api/v1/progress/ada/recursion", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Items []ledger.ItemProgress `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, ledger.StatusPassed, body.Items[0].Status)
	assert.Equal(t, "ada", svc.gotUser)
	assert.Equal(t, "recursion", svc.gotGoal)
}

func TestHandoff(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(RouterConfig{Service: svc})

	w := do(t, r, http.MethodPost, "/api/v1/handoffs", `{"user_id":"ada","goal_id":"recursion","override_reason":"ta approved"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var dec engagement.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	assert.Equal(t, 1, dec.Needed)
	assert.Equal(t, "ta approved", svc.gotReason)
}

func TestGoals(t *testing.T) {
	r := NewRouter(RouterConfig{Service: &fakeService{}, Goals: testGoals()})

	w := do(t, r, http.MethodGet, "/api/v1/goals", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"recursion"`)
}

func TestHealthAndMetrics(t *testing.T) {
	r := NewRouter(RouterConfig{Service: &fakeService{}})

	w := do(t, r, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	do(t, r, http.MethodGet, "/api/v1/progress/ada/recursion", "")
	w = do(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sensei_http_requests_total")
}

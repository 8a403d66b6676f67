package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/engine"
	"github.com/shaiso/flowruns/internal/flowrun"
	"github.com/shaiso/flowruns/internal/stagerun"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type staticFlows map[string]domain.Flow

func (s staticFlows) GetFlow(_ context.Context, flowID string) (domain.Flow, bool, error) {
	flow, ok := s[flowID]
	return flow, ok, nil
}

// newServer собирает API над реальными сервисами в памяти.
// Flow "etl": extract → load.
func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	flow, err := engine.BuildFlow(domain.FlowDefinition{
		ID: "etl",
		Stages: []domain.StageDef{
			{ID: "extract"},
			{ID: "load", DependsOn: []domain.StageID{"extract"}},
		},
	})
	if err != nil {
		t.Fatalf("build flow: %v", err)
	}

	n := 0
	stageRuns := stagerun.NewService(stagerun.Config{
		NewID: func() string { n++; return fmt.Sprintf("sr-%d", n) },
		Clock: func() time.Time { return t0 },
	})
	flowRuns := flowrun.NewService(flowrun.Config{
		Cache:     flowrun.NewMemoryCache(flowrun.MemoryCacheConfig{}),
		Flows:     staticFlows{"etl": flow},
		StageRuns: stageRuns,
		Clock:     func() time.Time { return t0 },
	})
	dispatcher := stagerun.NewDispatcher(stagerun.DispatcherConfig{
		Computer:  flowRuns,
		Canceller: stageRuns,
		Launcher:  flowRuns,
	})

	mux := http.NewServeMux()
	NewHandler(Config{FlowRuns: flowRuns, Events: dispatcher}).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func decodeRun(t *testing.T, data []byte) FlowRunResponse {
	t.Helper()
	var resp struct {
		Data FlowRunResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, data)
	}
	return resp.Data
}

func errorCode(t *testing.T, data []byte) ErrorCode {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode error: %v (%s)", err, data)
	}
	return resp.Error.Code
}

func TestStartAndGetRun(t *testing.T) {
	srv := newServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/flows/etl/runs", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	run := decodeRun(t, body)
	if run.Status != "NEW" || run.FlowID != "etl" {
		t.Errorf("unexpected run: %+v", run)
	}
	if len(run.StageRuns) != 1 || run.StageRuns[0].StageID != "extract" || run.StageRuns[0].Status != "REQUESTED" {
		t.Errorf("unexpected stage runs: %+v", run.StageRuns)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/flowruns/"+run.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if got := decodeRun(t, body); got.ID != run.ID {
		t.Errorf("expected run %s, got %s", run.ID, got.ID)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/flows/etl/runs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var list struct {
		Total int `json:"total"`
	}
	json.Unmarshal(body, &list)
	if list.Total != 1 {
		t.Errorf("expected 1 active run, got %d", list.Total)
	}
}

func TestStartRun_Errors(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name   string
		url    string
		body   any
		status int
		code   ErrorCode
	}{
		{
			name:   "unknown flow",
			url:    "/api/v1/flows/ghost/runs",
			status: http.StatusNotFound,
			code:   ErrCodeNotFound,
		},
		{
			name:   "non-root stage",
			url:    "/api/v1/flows/etl/runs",
			body:   StartRunRequest{RootStageIDs: []string{"load"}},
			status: http.StatusUnprocessableEntity,
			code:   ErrCodeInvalidState,
		},
		{
			name:   "broken body",
			url:    "/api/v1/flows/etl/runs",
			body:   "not an object",
			status: http.StatusBadRequest,
			code:   ErrCodeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+tt.url, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, resp.StatusCode, body)
			}
			if code := errorCode(t, body); code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestGetFlowRun_NotFound(t *testing.T) {
	srv := newServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/flowruns/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.StatusCode, body)
	}
}

func TestPostEvent(t *testing.T) {
	srv := newServer(t)

	_, body := do(t, http.MethodPost, srv.URL+"/api/v1/flows/etl/runs", nil)
	run := decodeRun(t, body)
	extract := run.StageRuns[0].ID
	eventsURL := srv.URL + "/api/v1/flowruns/" + run.ID + "/events"

	send := func(eventType stagerun.EventType, stageRunID string) FlowRunResponse {
		t.Helper()
		resp, body := do(t, http.MethodPost, eventsURL, map[string]any{
			"eventType":  eventType,
			"stageRunId": stageRunID,
			"instant":    t0,
			"executorId": "exec-1",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", eventType, resp.StatusCode, body)
		}
		return decodeRun(t, body)
	}

	if got := send(stagerun.EventAcknowledgeRequest, extract); got.Status != "PENDING_START" {
		t.Errorf("expected PENDING_START, got %s", got.Status)
	}
	if got := send(stagerun.EventStartRun, extract); got.Status != "RUNNING" {
		t.Errorf("expected RUNNING, got %s", got.Status)
	}

	got := send(stagerun.EventRunSuccessful, extract)
	if got.Status != "RUNNING" || len(got.StageRuns) != 2 {
		t.Fatalf("expected load to be launched, got %+v", got)
	}

	var load string
	for _, sr := range got.StageRuns {
		if sr.StageID == "load" {
			load = sr.ID
		}
	}
	if got := send(stagerun.EventRunSuccessful, load); got.Status != "SUCCESS" {
		t.Errorf("expected SUCCESS, got %s", got.Status)
	}
}

func TestPostEvent_Errors(t *testing.T) {
	srv := newServer(t)

	_, body := do(t, http.MethodPost, srv.URL+"/api/v1/flows/etl/runs", nil)
	run := decodeRun(t, body)

	tests := []struct {
		name   string
		runID  string
		body   any
		status int
	}{
		{
			name:   "unknown stage run",
			runID:  run.ID,
			body:   map[string]any{"eventType": "START_RUN", "stageRunId": "ghost", "instant": t0},
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "unknown flow run",
			runID:  "missing",
			body:   map[string]any{"eventType": "START_RUN", "stageRunId": "sr-1", "instant": t0},
			status: http.StatusNotFound,
		},
		{
			name:   "unknown event type",
			runID:  run.ID,
			body:   map[string]any{"eventType": "PAUSE", "stageRunId": "sr-1", "instant": t0},
			status: http.StatusBadRequest,
		},
		{
			name:   "missing instant",
			runID:  run.ID,
			body:   map[string]any{"eventType": "START_RUN", "stageRunId": "sr-1"},
			status: http.StatusBadRequest,
		},
		{
			name:   "flow run mismatch",
			runID:  run.ID,
			body:   map[string]any{"eventType": "START_RUN", "flowRunId": "other", "stageRunId": "sr-1", "instant": t0},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/flowruns/"+tt.runID+"/events", tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, resp.StatusCode, body)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrap(rec)

	NotFound(rw, "nope")

	if rw.status != http.StatusNotFound {
		t.Errorf("expected captured 404, got %d", rw.status)
	}
	if wrap(rw) != rw {
		t.Error("wrap must not double-wrap")
	}
}

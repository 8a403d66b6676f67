package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// StageRunResponse — stage run из API.
type StageRunResponse struct {
	ID             string `json:"id"`
	StageID        string `json:"stage_id"`
	Status         string `json:"status"`
	ExecutorID     string `json:"executor_id,omitempty"`
	CreatedAt      string `json:"created_at"`
	AcknowledgedAt string `json:"acknowledged_at,omitempty"`
	StartedAt      string `json:"started_at,omitempty"`
	FinishedAt     string `json:"finished_at,omitempty"`
	DurationMs     int64  `json:"duration_ms,omitempty"`
}

// FlowRunResponse — flow run из API.
type FlowRunResponse struct {
	ID        string             `json:"id"`
	FlowID    string             `json:"flow_id"`
	Status    string             `json:"status"`
	StageRuns []StageRunResponse `json:"stage_runs"`
	CreatedAt string             `json:"created_at"`
	UpdatedAt string             `json:"updated_at"`
}

// --- Request types ---

// StartRunRequest — запуск flow run.
type StartRunRequest struct {
	RootStageIDs []string `json:"rootStageIds,omitempty"`
}

// EventRequest — событие stage run.
type EventRequest struct {
	EventType  string    `json:"eventType"`
	StageRunID string    `json:"stageRunId"`
	Instant    time.Time `json:"instant"`
	ExecutorID string    `json:"executorId,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для API оркестратора.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Flow runs ---

// StartRun запускает flow run. Пустой roots — все корни flow.
func (c *Client) StartRun(flowID string, roots []string) (*FlowRunResponse, error) {
	var run FlowRunResponse
	err := c.post("/api/v1/flows/"+url.PathEscape(flowID)+"/runs", StartRunRequest{RootStageIDs: roots}, &run)
	return &run, err
}

// GetFlowRun возвращает flow run по ID.
func (c *Client) GetFlowRun(id string) (*FlowRunResponse, error) {
	var run FlowRunResponse
	err := c.get("/api/v1/flowruns/"+url.PathEscape(id), &run)
	return &run, err
}

// ListActiveRuns возвращает нефинальные runs flow.
func (c *Client) ListActiveRuns(flowID string) ([]FlowRunResponse, error) {
	var runs []FlowRunResponse
	err := c.list("/api/v1/flows/"+url.PathEscape(flowID)+"/runs", &runs)
	return runs, err
}

// SendEvent отправляет событие stage run.
func (c *Client) SendEvent(flowRunID string, req EventRequest) (*FlowRunResponse, error) {
	var run FlowRunResponse
	err := c.post("/api/v1/flowruns/"+url.PathEscape(flowRunID)+"/events", req, &run)
	return &run, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, result any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}

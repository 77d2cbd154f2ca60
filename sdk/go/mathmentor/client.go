package mathmentor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the server (e.g. "http://localhost:8080").
	BaseURL string

	// Subject names the caller in tokens and logs.
	Subject string

	// APIKey is exchanged for a JWT on first use.
	APIKey string

	// HTTPClient is optional. When nil a client with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to each request. Defaults to 2 minutes, since a
	// solve runs several model calls.
	Timeout time.Duration
}

// Client talks to the MathMentor HTTP API. Safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client. BaseURL, Subject and APIKey are required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("mathmentor: BaseURL is required")
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("mathmentor: Subject is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mathmentor: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.Subject, cfg.APIKey, httpClient),
	}, nil
}

// Solve runs a problem through the pipeline. A run that ends in the error
// status is returned without an error; check Run.Status.
func (c *Client) Solve(ctx context.Context, req SolveRequest) (*Run, error) {
	if strings.TrimSpace(req.ProblemText) == "" {
		return nil, fmt.Errorf("mathmentor: ProblemText is required")
	}
	var run Run
	if err := c.post(ctx, "/v1/solve", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Clarify answers a needs_clarification run with a restated problem. The
// returned run links back through ParentID.
func (c *Client) Clarify(ctx context.Context, runID uuid.UUID, problemText string) (*Run, error) {
	body := map[string]string{"problem_text": problemText}
	var run Run
	if err := c.post(ctx, "/v1/runs/"+runID.String()+"/clarify", body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Approve stores a human_review_required run as an outcome. A non-nil
// editedSolution replaces the solution text. Requires the reviewer role.
func (c *Client) Approve(ctx context.Context, runID uuid.UUID, editedSolution *string) (*Outcome, error) {
	body := map[string]any{}
	if editedSolution != nil {
		body["edited_solution"] = *editedSolution
	}
	var out Outcome
	if err := c.post(ctx, "/v1/runs/"+runID.String()+"/approve", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Feedback records a verdict on a stored outcome, replacing any earlier one.
func (c *Client) Feedback(ctx context.Context, outcomeID uuid.UUID, verdict, comment string) error {
	body := map[string]string{"verdict": verdict}
	if comment != "" {
		body["comment"] = comment
	}
	return c.post(ctx, "/v1/outcomes/"+outcomeID.String()+"/feedback", body, nil)
}

// GetRun fetches a run record.
func (c *Client) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var run Run
	if err := c.get(ctx, "/v1/runs/"+runID.String(), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Similar returns stored outcomes most similar to query. k <= 0 uses the
// server default.
func (c *Client) Similar(ctx context.Context, query string, k int) ([]SimilarSolution, error) {
	params := url.Values{"q": {query}}
	if k > 0 {
		params.Set("k", strconv.Itoa(k))
	}
	var hits []SimilarSolution
	if err := c.get(ctx, "/v1/similar?"+params.Encode(), &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

// Stats returns learning statistics.
func (c *Client) Stats(ctx context.Context) (*Statistics, error) {
	var st Statistics
	if err := c.get(ctx, "/v1/stats", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Health checks the server without authenticating. A 503 still decodes,
// with Status "unhealthy".
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("mathmentor: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mathmentor: GET /health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mathmentor: read response body: %w", err)
	}
	var h Health
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, parseErrorResponse(resp.StatusCode, raw)
	}
	if err := unwrap(raw, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mathmentor: marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, encoded, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodGet, path, nil, dest)
}

// do sends an authenticated request. A 401 drops the cached token and
// retries once, which covers server restarts with ephemeral signing keys.
func (c *Client) do(ctx context.Context, method, path string, body []byte, dest any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}

		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
		if err != nil {
			return fmt.Errorf("mathmentor: create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+token)

		lastErr = c.send(req, dest)
		if !IsUnauthorized(lastErr) {
			return lastErr
		}
		c.tokenMgr.invalidate()
	}
	return lastErr
}

func (c *Client) send(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mathmentor: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mathmentor: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, raw)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	return unwrap(raw, dest)
}

// unwrap decodes the data member of the {data, meta} envelope.
func unwrap(raw []byte, dest any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("mathmentor: decode response envelope: %w", err)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("mathmentor: response has no data")
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return fmt.Errorf("mathmentor: decode response data: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}
	return apiErr
}

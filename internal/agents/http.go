package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowline-dev/flowline/internal/engine"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// HTTPRunner delegates agent invocations to an external service speaking a
// simple JSON protocol: POST the request, read back output and usage. Useful
// when agents run in a separate process or a non-Go runtime.
type HTTPRunner struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// NewHTTPRunner creates a runner posting to endpoint. headers are attached
// to every request (API keys etc). client may be nil.
func NewHTTPRunner(endpoint string, headers map[string]string, client *http.Client) *HTTPRunner {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &HTTPRunner{endpoint: endpoint, headers: headers, client: client}
}

// httpAgentResponse is the delegate's wire response.
type httpAgentResponse struct {
	Output     string  `json:"output"`
	TokensUsed int64   `json:"tokens_used"`
	Cost       float64 `json:"cost"`
	Error      string  `json:"error,omitempty"`
}

func (r *HTTPRunner) Invoke(ctx context.Context, req engine.AgentRequest) (*engine.AgentResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "encode agent request: %v", err).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "build agent request: %v", err).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range r.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "agent %s: %v", req.AgentID, err).WithCause(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "read agent response: %v", err).WithCause(err)
	}

	var decoded httpAgentResponse
	if jsonErr := json.Unmarshal(payload, &decoded); jsonErr != nil {
		if resp.StatusCode >= 400 {
			return nil, schema.NewErrorf(schema.ErrCodeAgent, "agent %s returned status %d", req.AgentID, resp.StatusCode)
		}
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "decode agent response: %v", jsonErr).WithCause(jsonErr)
	}

	result := &engine.AgentResult{
		Output:     decoded.Output,
		TokensUsed: decoded.TokensUsed,
		Cost:       decoded.Cost,
	}

	// Failed calls still report usage; it must be billed.
	if resp.StatusCode >= 400 || decoded.Error != "" {
		msg := decoded.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return result, schema.NewErrorf(schema.ErrCodeAgent, "agent %s: %s", req.AgentID, msg)
	}

	return result, nil
}

var _ engine.AgentRunner = (*HTTPRunner)(nil)

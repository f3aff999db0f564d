package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/victornm/codelive/internal/domain"
)

// HTTPEngine reaches the external sandboxed execution service over its JSON
// API. The engine enforces the execution timeout; the client timeout here
// only guards against an unresponsive engine process.
type HTTPEngine struct {
	Addr   string
	Client *http.Client
}

var _ Engine = (*HTTPEngine)(nil)

func NewHTTPEngine(addr string) *HTTPEngine {
	return &HTTPEngine{
		Addr:   addr,
		Client: &http.Client{Timeout: 60 * time.Second},
	}
}

type engineRequest struct {
	Code     string                   `json:"code"`
	Settings domain.ExecutionSettings `json:"settings"`
}

type engineResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error"`
	// ExecutionTime in milliseconds.
	ExecutionTime int64 `json:"executionTime"`
}

func (e *HTTPEngine) Execute(ctx context.Context, code string, settings domain.ExecutionSettings) (*domain.ExecutionResult, error) {
	body, err := json.Marshal(engineRequest{Code: code, Settings: settings})
	if err != nil {
		return nil, fmt.Errorf("engine: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Addr+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("engine: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine: unexpected status %d", resp.StatusCode)
	}

	var er engineResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("engine: decode response: %w", err)
	}

	return &domain.ExecutionResult{
		Success:       er.Success,
		Output:        er.Output,
		Error:         er.Error,
		ExecutionTime: time.Duration(er.ExecutionTime) * time.Millisecond,
	}, nil
}

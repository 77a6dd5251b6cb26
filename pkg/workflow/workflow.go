// Package workflow carries requests to the external approval-workflow engine.
// The ledger never calls a Starter directly: it records a start_workflow job
// in the outbox and Worker delivers it later.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// TopicStartWorkflow is the outbox topic for workflow start requests.
const TopicStartWorkflow = "start_workflow"

const (
	KindLoanApproval = "LOAN_APPROVAL"
	EntityTypeLoan   = "LOAN"
)

// Request asks the workflow engine to start a workflow for an entity.
type Request struct {
	Kind        string            `json:"kind"`
	EntityType  string            `json:"entity_type"`
	EntityID    string            `json:"entity_id"`
	InitiatorID string            `json:"initiator_id"`
	Context     map[string]string `json:"context,omitempty"`
}

// Starter starts workflows. Implementations must be safe for concurrent use.
type Starter interface {
	StartWorkflow(ctx context.Context, req Request) error
}

// LogStarter only logs the request. It is the default when no workflow
// engine URL is configured.
type LogStarter struct {
	Logger *slog.Logger
}

func (s LogStarter) StartWorkflow(ctx context.Context, req Request) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "workflow start requested",
		"kind", req.Kind,
		"entity_type", req.EntityType,
		"entity_id", req.EntityID,
		"initiator_id", req.InitiatorID,
	)
	return nil
}

// HTTPStarter POSTs the request as JSON to a workflow engine endpoint. Any
// non-2xx response is an error so the worker retries it.
type HTTPStarter struct {
	url    string
	client *http.Client
}

func NewHTTPStarter(url string, timeout time.Duration) *HTTPStarter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStarter{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPStarter) StartWorkflow(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode workflow request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build workflow request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("workflow engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("workflow engine returned %s", resp.Status)
	}
	return nil
}

// Package notify pushes the final quality verdict of a finished execution to
// interested consumers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cyclewatch/cyclewatch/internal/model"
)

// Notifier receives finished executions after their indexing committed.
type Notifier interface {
	// ExecutionDone is called once per execution reaching DONE, after the
	// transaction that recorded it has durably committed.
	ExecutionDone(ctx context.Context, execution *model.Execution) error
}

// Verdict is the webhook payload describing a finished execution.
type Verdict struct {
	ProjectCode   string              `json:"projectCode"`
	Branch        string              `json:"branch"`
	Cycle         string              `json:"cycle"`
	Release       string              `json:"release,omitempty"`
	Version       string              `json:"version,omitempty"`
	JobURL        string              `json:"jobUrl,omitempty"`
	TestDateTime  time.Time           `json:"testDateTime"`
	QualityStatus model.QualityStatus `json:"qualityStatus"`
	// QualitySeverities is the decoded per-severity breakdown.
	QualitySeverities []model.QualitySeverity `json:"qualitySeverities,omitempty"`
}

// Webhook POSTs a JSON verdict to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Webhook) ExecutionDone(ctx context.Context, execution *model.Execution) error {
	verdict := Verdict{
		ProjectCode:   execution.ProjectCode,
		Branch:        execution.Branch,
		Cycle:         execution.Name,
		Release:       execution.Release,
		Version:       execution.Version,
		JobURL:        execution.JobURL,
		TestDateTime:  execution.TestDateTime,
		QualityStatus: execution.QualityStatus,
	}
	if execution.QualitySeverities != "" {
		// A breakdown that cannot be decoded is dropped, not fatal.
		_ = json.Unmarshal([]byte(execution.QualitySeverities), &verdict.QualitySeverities)
	}

	body, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("serialize verdict: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post verdict: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, preview)
	}
	return nil
}

// Log records verdicts in the application log; the default when no webhook
// is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) ExecutionDone(_ context.Context, execution *model.Execution) error {
	l.Logger.Info("execution finished",
		"project", execution.ProjectCode,
		"branch", execution.Branch,
		"cycle", execution.Name,
		"jobUrl", execution.JobURL,
		"qualityStatus", execution.QualityStatus)
	return nil
}

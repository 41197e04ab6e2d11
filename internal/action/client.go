// Package action performs the remote calls the assistant makes on behalf of a
// user: dispatching emergency services, notifying family, connecting health
// devices, setting reminders, scheduling transport and running automation
// workflows.
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elder-voice/reliability/internal/status"
)

// DependencyWorkflow identifies the automation webhook in retries and logs.
const DependencyWorkflow = "workflow"

// timestampLayout is ISO-8601 in UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrNotConfigured is wrapped by ActionFailure when the target has no URL.
var ErrNotConfigured = errors.New("base URL not configured")

// Result is the outcome of a successful action. Data is the raw response body.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ActionFailure is the single failure kind of every action.
// StatusCode is zero when no HTTP response was received.
type ActionFailure struct {
	DependencyID string
	Action       string
	StatusCode   int
	Err          error
}

// Error implements error.
func (e *ActionFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d", e.DependencyID, e.Action, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.DependencyID, e.Action, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ActionFailure) Unwrap() error {
	return e.Err
}

// Config holds the endpoints used by the Client.
type Config struct {
	// URLs maps dependency identifiers to service base URLs.
	URLs map[string]string

	// WorkflowWebhookURL receives RunWorkflow calls.
	WorkflowWebhookURL string
}

// Client issues one-shot action calls. It never retries; wrap it in an
// Invoker for that.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewClient creates a Client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
		now:    time.Now,
	}
}

// DispatchEmergency starts the emergency service of the given type.
func (c *Client) DispatchEmergency(ctx context.Context, emergencyType string) (Result, error) {
	return c.call(ctx, status.DependencyEmergency, "emergency", map[string]any{
		"type": emergencyType,
	}, "emergency service dispatched")
}

// NotifyFamily sends message to the given contacts.
func (c *Client) NotifyFamily(ctx context.Context, contacts []string, message string) (Result, error) {
	return c.call(ctx, status.DependencyNotification, "notify", map[string]any{
		"contacts": contacts,
		"message":  message,
	}, "family members notified")
}

// ConnectHealthDevice pairs a health device of the given type.
func (c *Client) ConnectHealthDevice(ctx context.Context, deviceType string) (Result, error) {
	return c.call(ctx, status.DependencyHealth, "connect", map[string]any{
		"deviceType": deviceType,
	}, "device connected")
}

// SetReminder schedules a reminder.
func (c *Client) SetReminder(ctx context.Context, reminderType, at, message string) (Result, error) {
	return c.call(ctx, status.DependencyNotification, "reminder", map[string]any{
		"type":    reminderType,
		"time":    at,
		"message": message,
	}, "reminder set")
}

// ScheduleTransportation books a pickup with the transportation service
// (POST /transport on the transportation dependency). It is not sent to the
// notification service.
func (c *Client) ScheduleTransportation(ctx context.Context, pickupTime, location string) (Result, error) {
	return c.call(ctx, status.DependencyTransportation, "transport", map[string]any{
		"pickupTime": pickupTime,
		"location":   location,
	}, "transportation scheduled")
}

// RunWorkflow triggers the automation webhook with the given action name.
func (c *Client) RunWorkflow(ctx context.Context, workflow string, params map[string]any) (Result, error) {
	if params == nil {
		params = map[string]any{}
	}
	body := map[string]any{
		"action":    workflow,
		"params":    params,
		"timestamp": c.now().UTC().Format(timestampLayout),
	}
	return c.post(ctx, DependencyWorkflow, workflow, c.cfg.WorkflowWebhookURL, body, "workflow executed")
}

func (c *Client) call(ctx context.Context, dependencyID, action string, fields map[string]any, okMessage string) (Result, error) {
	baseURL := c.cfg.URLs[dependencyID]
	target := ""
	if baseURL != "" {
		target = strings.TrimRight(baseURL, "/") + "/" + action
	}
	fields["timestamp"] = c.now().UTC().Format(timestampLayout)
	return c.post(ctx, dependencyID, action, target, fields, okMessage)
}

func (c *Client) post(ctx context.Context, dependencyID, action, target string, body map[string]any, okMessage string) (Result, error) {
	fail := func(code int, err error) (Result, error) {
		c.logger.Warn("action failed",
			"dependency", dependencyID,
			"action", action,
			"status_code", code,
			"error", err,
		)
		return Result{}, &ActionFailure{DependencyID: dependencyID, Action: action, StatusCode: code, Err: err}
	}

	if target == "" {
		return fail(0, ErrNotConfigured)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fail(0, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	c.logger.Info("action succeeded", "dependency", dependencyID, "action", action)

	result := Result{Success: true, Message: okMessage}
	if len(bytes.TrimSpace(data)) > 0 {
		if json.Valid(data) {
			result.Data = data
		} else {
			// Opaque non-JSON bodies are passed through as a JSON string.
			quoted, _ := json.Marshal(string(data))
			result.Data = quoted
		}
	}
	return result, nil
}

package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"batchflow/internal/batch"
	"batchflow/internal/config"
)

const userAgent = "batchflow/1"

// Notifier defines the alert surface used by the workflow manager and CLI.
type Notifier interface {
	StepFailed(ctx context.Context, b *batch.Batch, step string, reason batch.FailureReason, detail string) error
	BatchCompleted(ctx context.Context, b *batch.Batch) error
	RunAllFinished(ctx context.Context, completed, failed int, duration time.Duration) error
	Test(ctx context.Context) error
}

// NewService builds an ntfy notifier when a topic is configured and a no-op
// notifier otherwise.
func NewService(cfg *config.Config) Notifier {
	if cfg == nil {
		return Noop()
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Noop()
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Noop returns a notifier that discards every event.
func Noop() Notifier { return noopService{} }

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) StepFailed(ctx context.Context, b *batch.Batch, step string, reason batch.FailureReason, detail string) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s failed on %s", step, batchLabel(b))
	if reason != "" && reason != batch.ReasonStepFailed {
		fmt.Fprintf(&builder, " (%s)", reason)
	}
	if detail = strings.TrimSpace(detail); detail != "" {
		builder.WriteString("\n")
		builder.WriteString(detail)
	}
	return n.send(ctx, payload{
		title:    "batchflow - Step Failed",
		message:  builder.String(),
		tags:     []string{"batchflow", "step", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) BatchCompleted(ctx context.Context, b *batch.Batch) error {
	return n.send(ctx, payload{
		title:   "batchflow - Batch Complete",
		message: fmt.Sprintf("All %d steps completed for %s", len(b.Steps), batchLabel(b)),
		tags:    []string{"batchflow", "batch", "completed"},
	})
}

func (n *ntfyService) RunAllFinished(ctx context.Context, completed, failed int, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	title := "batchflow - Run Finished"
	message := fmt.Sprintf("%d batches finished in %s", completed, duration)
	if failed > 0 {
		title = "batchflow - Run Finished (with errors)"
		message = fmt.Sprintf("%d batches finished, %d stopped on a failure, in %s", completed, failed, duration)
	}
	return n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"batchflow", "run-all"},
	})
}

func (n *ntfyService) Test(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "batchflow - Test",
		message:  "Notification system test",
		tags:     []string{"batchflow", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func batchLabel(b *batch.Batch) string {
	if b == nil {
		return "unknown batch"
	}
	id := b.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s (%s)", b.Name, id)
}

type noopService struct{}

func (noopService) StepFailed(context.Context, *batch.Batch, string, batch.FailureReason, string) error {
	return nil
}
func (noopService) BatchCompleted(context.Context, *batch.Batch) error            { return nil }
func (noopService) RunAllFinished(context.Context, int, int, time.Duration) error { return nil }
func (noopService) Test(context.Context) error                                    { return nil }

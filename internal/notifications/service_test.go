package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"batchflow/internal/batch"
	"batchflow/internal/config"
	"batchflow/internal/notifications"
	"batchflow/internal/pipeline"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCapture(t *testing.T) (*httptest.Server, <-chan captured) {
	t.Helper()
	ch := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func serviceFor(url string) notifications.Notifier {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = url
	return notifications.NewService(&cfg)
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.Test(context.Background()); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).BatchCompleted(context.Background(), nil); err != nil {
		t.Fatalf("nil config should yield noop, got %v", err)
	}
}

func TestStepFailedPayload(t *testing.T) {
	srv, ch := newCapture(t)
	b := batch.New("0123456789abcdef", "harbour", "/archive/harbour", pipeline.Names(), time.Now())

	err := serviceFor(srv.URL).StepFailed(context.Background(), b, pipeline.Resize, batch.ReasonInterrupted, "ffmpeg exited 1")
	if err != nil {
		t.Fatalf("StepFailed: %v", err)
	}
	got := <-ch
	if got.title != "batchflow - Step Failed" || got.priority != "high" {
		t.Fatalf("unexpected headers %+v", got)
	}
	if got.tags != "batchflow,step,failed" {
		t.Fatalf("unexpected tags %q", got.tags)
	}
	want := "resize failed on harbour (01234567) (interrupted)\nffmpeg exited 1"
	if got.body != want {
		t.Fatalf("unexpected body\n got: %q\nwant: %q", got.body, want)
	}
}

func TestRunAllFinishedMentionsFailures(t *testing.T) {
	srv, ch := newCapture(t)
	if err := serviceFor(srv.URL).RunAllFinished(context.Background(), 2, 1, 90*time.Second); err != nil {
		t.Fatalf("RunAllFinished: %v", err)
	}
	got := <-ch
	if !strings.Contains(got.title, "with errors") {
		t.Fatalf("expected error title, got %q", got.title)
	}
	if got.body != "2 batches finished, 1 stopped on a failure, in 1m30s" {
		t.Fatalf("unexpected body %q", got.body)
	}
}

func TestSendReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic locked", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	err := serviceFor(srv.URL).Test(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic locked") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

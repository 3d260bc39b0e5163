package sheets_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"batchflow/internal/services/sheets"
)

func TestExportURLRewritesGoogleSheetsLinks(t *testing.T) {
	got, err := sheets.ExportURL("https://docs.google.com/spreadsheets/d/abc123/edit#gid=42")
	if err != nil {
		t.Fatalf("ExportURL: %v", err)
	}
	want := "https://docs.google.com/spreadsheets/d/abc123/export?format=csv&gid=42"
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}

	plain := "https://example.org/data/sheet.csv"
	if got, _ := sheets.ExportURL(plain); got != plain {
		t.Fatalf("expected non-Google URL unchanged, got %s", got)
	}
	if _, err := sheets.ExportURL("ftp://example.org/a.csv"); err == nil {
		t.Fatal("expected unsupported scheme to fail")
	}
	if _, err := sheets.ExportURL(" "); err == nil {
		t.Fatal("expected empty URL to fail")
	}
}

func TestFetchCSV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.csv":
			w.Header().Set("Content-Type", "text/csv")
			_, _ = w.Write([]byte("identifier,title\nA,One\n"))
		case "/login":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := sheets.New(5 * time.Second)
	data, err := client.FetchCSV(context.Background(), server.URL+"/ok.csv")
	if err != nil {
		t.Fatalf("FetchCSV: %v", err)
	}
	if !strings.HasPrefix(string(data), "identifier,title") {
		t.Fatalf("unexpected body %q", data)
	}

	if _, err := client.FetchCSV(context.Background(), server.URL+"/login"); err == nil || !strings.Contains(err.Error(), "HTML") {
		t.Fatalf("expected HTML rejection, got %v", err)
	}
	if _, err := client.FetchCSV(context.Background(), server.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

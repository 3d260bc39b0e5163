package steps_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"batchflow/internal/batch"
	"batchflow/internal/batchconfig"
	"batchflow/internal/batchpath"
	"batchflow/internal/config"
	"batchflow/internal/pipeline"
	"batchflow/internal/services/exiftool"
	"batchflow/internal/services/ffmpeg"
	"batchflow/internal/steps"
)

type fixture struct {
	t     *testing.T
	batch *batch.Batch
	cfgs  *batchconfig.Manager
	paths *batchpath.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	paths := batchpath.New()
	return &fixture{
		t:     t,
		batch: batch.New("b-1", "fixture", t.TempDir(), pipeline.Names(), time.Now().UTC()),
		cfgs:  batchconfig.NewManager(nil, paths),
		paths: paths,
	}
}

func (f *fixture) write(rel, content string) {
	f.t.Helper()
	path := filepath.Join(f.batch.RootPath, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		f.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		f.t.Fatalf("write %s: %v", rel, err)
	}
}

func (f *fixture) set(key, value string) {
	f.t.Helper()
	if err := f.cfgs.Set(f.batch, key, value); err != nil {
		f.t.Fatalf("Set %s: %v", key, err)
	}
}

func (f *fixture) input(step string) steps.Input {
	f.t.Helper()
	def, ok := pipeline.Lookup(step)
	if !ok {
		f.t.Fatalf("unknown step %s", step)
	}
	cfg, err := f.cfgs.Load(f.batch)
	if err != nil {
		f.t.Fatalf("Load config: %v", err)
	}
	inDir, err := f.paths.Resolve(f.batch, step, batchpath.RoleInput)
	if err != nil {
		f.t.Fatalf("Resolve input: %v", err)
	}
	outDir, err := f.paths.Resolve(f.batch, step, batchpath.RoleOutput)
	if err != nil {
		f.t.Fatalf("Resolve output: %v", err)
	}
	var inputs []string
	if def.InputPattern != "" {
		inputs, err = f.paths.Inputs(f.batch, step)
		if err != nil {
			f.t.Fatalf("Inputs: %v", err)
		}
	}
	return steps.Input{
		Batch:      f.batch,
		Definition: def,
		InputDir:   inDir,
		OutputDir:  outDir,
		Inputs:     inputs,
		Config:     cfg,
		Paths:      f.paths,
	}
}

func TestDefaultCoversPipelineInOrder(t *testing.T) {
	set := steps.Default(steps.Clients{})
	if got := set.Names(); !reflect.DeepEqual(got, pipeline.Names()) {
		t.Fatalf("step set %v does not match pipeline %v", got, pipeline.Names())
	}
}

func TestNewClientsFromConfig(t *testing.T) {
	cfg := config.Default()
	clients, err := steps.NewClients(&cfg)
	if err != nil {
		t.Fatalf("NewClients: %v", err)
	}
	if clients.FFmpeg.Binary() != "ffmpeg" || clients.ExifTool.Binary() != "exiftool" || clients.Sheets == nil {
		t.Fatalf("unexpected clients %+v", clients)
	}
}

func TestParseRecordsNormalizesHeaders(t *testing.T) {
	data := "\xef\xbb\xbfIdentifier, Title ,Date Created,Title\nA1,One,1979,x\n,,,\n"
	records, err := steps.ParseRecords([]byte(data))
	if err != nil {
		t.Fatalf("ParseRecords: %v", err)
	}
	want := []string{"identifier", "title", "date_created", "title_2"}
	if !reflect.DeepEqual(records.Header, want) {
		t.Fatalf("header = %v, want %v", records.Header, want)
	}
	if len(records.Rows) != 1 || records.Rows[0]["date_created"] != "1979" {
		t.Fatalf("unexpected rows %v", records.Rows)
	}
}

func TestFetchSourceDownloadsSheet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("identifier,title\nA,One\nB,Two\n"))
	}))
	defer server.Close()

	f := newFixture(t)
	f.set("source.sheet_url", `"`+server.URL+`/sheet.csv"`)
	cfg := config.Default()
	clients, _ := steps.NewClients(&cfg)

	report, err := steps.FetchSource{Client: clients.Sheets}.Run(context.Background(), f.input(pipeline.FetchSource))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed != 2 {
		t.Fatalf("expected 2 rows, got %d", report.Processed)
	}
	if _, err := os.Stat(filepath.Join(f.batch.RootPath, pipeline.SourceCSV)); err != nil {
		t.Fatalf("expected source.csv: %v", err)
	}
}

func TestFetchSourceWithoutURL(t *testing.T) {
	f := newFixture(t)
	if _, err := (steps.FetchSource{}).Run(context.Background(), f.input(pipeline.FetchSource)); err == nil {
		t.Fatal("expected error without url or existing file")
	}
	f.write(pipeline.SourceCSV, "identifier\nA\n")
	report, err := steps.FetchSource{}.Run(context.Background(), f.input(pipeline.FetchSource))
	if err != nil {
		t.Fatalf("expected existing source.csv to be accepted: %v", err)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("expected warning about missing url, got %v", report.Warnings)
	}
}

func TestNormalizeCSV(t *testing.T) {
	f := newFixture(t)
	f.write(pipeline.SourceCSV, "Identifier,Title\nA1, Harbour \n,Second\n\n")
	f.set("source.identifier", "ARCH")

	report, err := steps.NormalizeCSV{}.Run(context.Background(), f.input(pipeline.NormalizeCSV))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed != 2 {
		t.Fatalf("expected 2 records, got %d", report.Processed)
	}
	records, err := steps.ReadRecords(filepath.Join(f.batch.RootPath, pipeline.RecordsCSV))
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if got := records.Column("identifier"); !reflect.DeepEqual(got, []string{"A1", "ARCH-0002"}) {
		t.Fatalf("unexpected identifiers %v", got)
	}
	if records.Rows[0]["title"] != "Harbour" {
		t.Fatalf("expected trimmed title, got %q", records.Rows[0]["title"])
	}
}

func TestNormalizeCSVRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.write(pipeline.SourceCSV, "identifier,title\nA,One\na,Two\n")
	_, err := steps.NormalizeCSV{}.Run(context.Background(), f.input(pipeline.NormalizeCSV))
	if err == nil || !strings.Contains(err.Error(), "appears on rows 2 and 3") {
		t.Fatalf("expected duplicate identifier error, got %v", err)
	}
}

func TestValidateFields(t *testing.T) {
	f := newFixture(t)
	f.write(pipeline.RecordsCSV, "identifier,title\nA,One\nB,\nC,Three\n")
	f.write("originals/A.png", "x")
	f.write("originals/B.png", "x")
	f.write("originals/Z.png", "x")

	report, err := steps.ValidateFields{}.Run(context.Background(), f.input(pipeline.ValidateFields))
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), "title missing for B") || !strings.Contains(err.Error(), "no original image for C") {
		t.Fatalf("unexpected error %v", err)
	}
	if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "Z.png") {
		t.Fatalf("expected warning for unmatched image, got %v", report.Warnings)
	}

	data, err := os.ReadFile(filepath.Join(f.batch.RootPath, pipeline.DirMetadata, "validation.yaml"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary steps.ValidationSummary
	if err := yaml.Unmarshal(data, &summary); err != nil {
		t.Fatalf("parse summary: %v", err)
	}
	if summary.Records != 3 || summary.Images != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	f.write(pipeline.RecordsCSV, "identifier,title\nA,One\nB,Two\nZ,Three\n")
	if _, err := (steps.ValidateFields{}).Run(context.Background(), f.input(pipeline.ValidateFields)); err != nil {
		t.Fatalf("expected valid batch to pass: %v", err)
	}
}

type recordingExecutor struct {
	calls [][]string
}

func (r *recordingExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	r.calls = append(r.calls, append([]string(nil), args...))
	if binary == "ffmpeg" {
		return os.WriteFile(args[len(args)-1], []byte("img"), 0o644)
	}
	return nil
}

func TestEmbedMetadataMapsColumnsToTags(t *testing.T) {
	f := newFixture(t)
	f.write(pipeline.RecordsCSV, "identifier,title,description\nA,Harbour,Boats at dawn\n")
	f.write("tiff/A.tif", "x")
	f.write("tiff/orphan.tif", "x")

	exec := &recordingExecutor{}
	client, _ := exiftool.New("exiftool", exiftool.WithExecutor(exec))
	report, err := steps.EmbedMetadata{ExifTool: client}.Run(context.Background(), f.input(pipeline.EmbedMetadata))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed != 1 || report.Skipped != 1 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected one exiftool call, got %d", len(exec.calls))
	}
	args := strings.Join(exec.calls[0], " ")
	if !strings.Contains(args, "-XMP-dc:Title=Harbour") || !strings.Contains(args, "-XMP-dc:Description=Boats at dawn") {
		t.Fatalf("unexpected exiftool args %s", args)
	}
}

func TestResizeAndWatermarkUseConfig(t *testing.T) {
	f := newFixture(t)
	f.write("jpeg/A.jpg", "x")
	f.write("jpeg/B.jpg", "x")
	f.set("resize.max_dimension", "800")

	exec := &recordingExecutor{}
	client, _ := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(exec))
	var progress []steps.Progress
	in := f.input(pipeline.Resize)
	in.Progress = func(p steps.Progress) { progress = append(progress, p) }

	report, err := steps.Resize{FFmpeg: client}.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if report.Processed != 2 {
		t.Fatalf("expected 2 processed, got %d", report.Processed)
	}
	if !strings.Contains(strings.Join(exec.calls[0], " "), "min(iw,800)") {
		t.Fatalf("expected configured dimension, got %v", exec.calls[0])
	}
	if last := progress[len(progress)-1]; last.Done != 2 || last.Total != 2 {
		t.Fatalf("unexpected final progress %+v", last)
	}

	if _, err := (steps.Watermark{FFmpeg: client}).Run(context.Background(), f.input(pipeline.Watermark)); err == nil {
		t.Fatal("expected watermark without text to fail")
	}
	f.set("watermark.text", "City Archive")
	report, err = steps.Watermark{FFmpeg: client}.Run(context.Background(), f.input(pipeline.Watermark))
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if report.Processed != 2 {
		t.Fatalf("expected 2 watermarked, got %d", report.Processed)
	}
}

func TestForEachStopsOnCancellation(t *testing.T) {
	f := newFixture(t)
	f.write("jpeg/A.jpg", "x")
	client, _ := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(&recordingExecutor{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (steps.Resize{FFmpeg: client}).Run(ctx, f.input(pipeline.Resize)); err == nil {
		t.Fatal("expected cancelled run to fail")
	}
}

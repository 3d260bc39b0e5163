package ffmpeg_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"batchflow/internal/services/ffmpeg"
)

type stubExecutor struct {
	args  [][]string
	err   error
	write bool
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	s.args = append(s.args, append([]string(nil), args...))
	if s.err != nil {
		return s.err
	}
	if s.write {
		dst := args[len(args)-1]
		if err := os.WriteFile(dst, []byte("img"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestResizeBuildsScaleFilter(t *testing.T) {
	exec := &stubExecutor{write: true}
	client, err := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dst := filepath.Join(t.TempDir(), "out", "a.jpg")
	if err := client.Resize(context.Background(), "in.jpg", dst, 1600, 4); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	args := strings.Join(exec.args[0], " ")
	if !strings.Contains(args, "scale='min(iw,1600)':'min(ih,1600)'") {
		t.Fatalf("missing scale filter: %s", args)
	}
	if !strings.Contains(args, "-q:v 4") {
		t.Fatalf("missing quality flag: %s", args)
	}
	if exec.args[0][len(exec.args[0])-1] != dst {
		t.Fatalf("expected destination last, got %v", exec.args[0])
	}
}

func TestRunFailsWithoutOutput(t *testing.T) {
	client, _ := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(&stubExecutor{}))
	err := client.ConvertToTIFF(context.Background(), "in.png", filepath.Join(t.TempDir(), "a.tif"))
	if err == nil || !strings.Contains(err.Error(), "no output") {
		t.Fatalf("expected missing output error, got %v", err)
	}
}

func TestRunPropagatesExecutorError(t *testing.T) {
	boom := errors.New("boom")
	client, _ := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(&stubExecutor{err: boom}))
	err := client.ConvertToJPEG(context.Background(), "in.tif", filepath.Join(t.TempDir(), "a.jpg"), 2)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped executor error, got %v", err)
	}
}

func TestDrawTextEscapesSpecialCharacters(t *testing.T) {
	filter := ffmpeg.DrawText(ffmpeg.WatermarkOptions{Text: "Archive: 50% O'Neil", Opacity: 0.5, FontSize: 40, Margin: 10})
	if !strings.Contains(filter, `\\:`) || !strings.Contains(filter, `\\%`) {
		t.Fatalf("expected escaped colon and percent, got %s", filter)
	}
	if !strings.Contains(filter, "fontcolor=white@0.5") || !strings.Contains(filter, "fontsize=40") {
		t.Fatalf("unexpected filter %s", filter)
	}
}

func TestWatermarkRequiresText(t *testing.T) {
	client, _ := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(&stubExecutor{write: true}))
	if err := client.Watermark(context.Background(), "a.jpg", filepath.Join(t.TempDir(), "b.jpg"), ffmpeg.WatermarkOptions{}); err == nil {
		t.Fatal("expected error for empty watermark text")
	}
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := ffmpeg.New("  "); err == nil {
		t.Fatal("expected error for empty binary")
	}
}

package exiftool_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"batchflow/internal/services/exiftool"
)

type stubExecutor struct {
	binary string
	args   []string
	err    error
	calls  int
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	s.calls++
	s.binary = binary
	s.args = append([]string(nil), args...)
	return s.err
}

func TestWriteTagsBuildsSortedArguments(t *testing.T) {
	exec := &stubExecutor{}
	client, err := exiftool.New("exiftool", exiftool.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tags := map[string]string{
		"XMP-dc:Title":      "Harbour at dawn",
		"XMP-dc:Identifier": "ARCH-001",
		"XMP-dc:Rights":     "",
	}
	if err := client.WriteTags(context.Background(), "/tmp/a.tif", tags); err != nil {
		t.Fatalf("WriteTags: %v", err)
	}
	want := []string{
		"-overwrite_original", "-charset", "UTF8", "-q", "-m",
		"-XMP-dc:Identifier=ARCH-001",
		"-XMP-dc:Title=Harbour at dawn",
		"/tmp/a.tif",
	}
	if !reflect.DeepEqual(exec.args, want) {
		t.Fatalf("unexpected args:\n got %v\nwant %v", exec.args, want)
	}
}

func TestWriteTagsSkipsEmptyTagSet(t *testing.T) {
	exec := &stubExecutor{}
	client, _ := exiftool.New("exiftool", exiftool.WithExecutor(exec))
	if err := client.WriteTags(context.Background(), "/tmp/a.tif", map[string]string{"XMP-dc:Title": " "}); err != nil {
		t.Fatalf("WriteTags: %v", err)
	}
	if exec.calls != 0 {
		t.Fatalf("expected no exiftool invocation, got %d", exec.calls)
	}
}

func TestWriteTagsWrapsFailure(t *testing.T) {
	boom := errors.New("exit status 1")
	client, _ := exiftool.New("exiftool", exiftool.WithExecutor(&stubExecutor{err: boom}))
	err := client.WriteTags(context.Background(), "/tmp/a.tif", map[string]string{"XMP-dc:Title": "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

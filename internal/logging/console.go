package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one human-readable line per record:
//
//	2024-03-01T09:00:00Z INFO  workflow: [batch 01234567 · resize] step started attempt=1
//
// The component, batch ID and step attributes are lifted into the line
// prefix; everything else follows as key=value pairs.
type consoleHandler struct {
	mu   *sync.Mutex
	out  io.Writer
	opts *slog.HandlerOptions

	component string
	batchID   string
	step      string
	fields    string
	prefix    string
}

func newConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, out: out, opts: opts}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelInfo
	if h.opts.Level != nil {
		threshold = h.opts.Level.Level()
	}
	return level >= threshold
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	var b strings.Builder
	b.WriteString(h.fields)
	for _, attr := range attrs {
		next.absorb(&b, h.prefix, attr)
	}
	next.fields = b.String()
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	rec := *h
	var extra strings.Builder
	record.Attrs(func(attr slog.Attr) bool {
		rec.absorb(&extra, h.prefix, attr)
		return true
	})

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var line strings.Builder
	line.Grow(160)
	line.WriteString(ts.UTC().Format(time.RFC3339))
	line.WriteByte(' ')
	line.WriteString(levelTag(record.Level))
	line.WriteByte(' ')
	if rec.component != "" {
		line.WriteString(rec.component)
		line.WriteString(": ")
	}
	if subject := FormatSubject(rec.batchID, rec.step); subject != "" {
		line.WriteString("[" + subject + "] ")
	}
	if msg := strings.TrimSpace(record.Message); msg != "" {
		line.WriteString(msg)
	} else {
		line.WriteString("(no message)")
	}
	if h.opts.AddSource && record.PC != 0 {
		if src := record.Source(); src != nil {
			line.WriteString(" (" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + ")")
		}
	}
	line.WriteString(rec.fields)
	line.WriteString(extra.String())
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line.String())
	return err
}

// absorb lifts the first top-level component, batch ID and step into h and
// renders every other attribute into b.
func (h *consoleHandler) absorb(b *strings.Builder, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		inner := prefix
		if attr.Key != "" {
			inner += attr.Key + "."
		}
		for _, child := range attr.Value.Group() {
			h.absorb(b, inner, child)
		}
		return
	}
	if prefix == "" {
		text := valueText(attr.Value)
		switch {
		case attr.Key == FieldComponent && h.component == "":
			h.component = text
			return
		case attr.Key == FieldBatchID && h.batchID == "":
			h.batchID = text
			return
		case attr.Key == FieldStep && h.step == "":
			h.step = text
			return
		}
	}
	b.WriteByte(' ')
	b.WriteString(prefix + attr.Key)
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(valueText(attr.Value)))
}

func valueText(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.String()
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' || r == 0x7f {
			return strconv.Quote(s)
		}
	}
	return s
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN "
	case level >= slog.LevelInfo:
		return "INFO "
	default:
		return "DEBUG"
	}
}

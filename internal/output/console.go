package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/alerislife/welcome-home/internal/pipeline"
)

var (
	tableName    = color.New(color.FgGreen).SprintFunc()
	statusColors = map[pipeline.Status]*color.Color{
		pipeline.StatusSuccess: color.New(color.FgGreen, color.Bold),
		pipeline.StatusFailure: color.New(color.FgRed, color.Bold),
		pipeline.StatusBlocked: color.New(color.FgYellow, color.Bold),
	}
)

func colorStatus(s pipeline.Status) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(s)
	}
	return string(s)
}

type ConsoleSink struct {
	writer          io.Writer
	format          string // "text", "json", "ndjson"
	mu              sync.Mutex
	agg             aggregate
	allowedStatuses map[pipeline.Status]bool
}

func NewConsoleSink(w io.Writer, format string, filterStatuses []string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}

	s := &ConsoleSink{
		writer: w,
		format: format,
	}
	if len(filterStatuses) > 0 {
		s.allowedStatuses = make(map[pipeline.Status]bool)
		for _, st := range filterStatuses {
			s.allowedStatuses[pipeline.Status(strings.ToUpper(strings.TrimSpace(st)))] = true
		}
	}
	return s
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := v.(pipeline.UnitOutcome); ok && len(s.allowedStatuses) > 0 && !s.allowedStatuses[o.Status] {
		return nil
	}

	switch s.format {
	case "json":
		s.agg.add(v)
		return nil
	case "ndjson":
		e, ok := streamRecord(v)
		if !ok {
			return nil
		}
		if err := json.NewEncoder(s.writer).Encode(e); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text":
		o, ok := v.(pipeline.UnitOutcome)
		if !ok {
			return nil
		}
		if _, err := fmt.Fprintln(s.writer, formatOutcomeLine(o)); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func formatOutcomeLine(o pipeline.UnitOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s/%s", colorStatus(o.Status), tableName(o.Table), o.Stage)
	if d := o.Duration(); d > 0 {
		fmt.Fprintf(&b, " (%s)", d.Truncate(time.Millisecond))
	}
	if o.Error != "" {
		fmt.Fprintf(&b, " - %s", o.Error)
	}
	if o.LogRef != "" && o.Status != pipeline.StatusSuccess {
		fmt.Fprintf(&b, " [log: %s]", o.LogRef)
	}
	return b.String()
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		encoder := json.NewEncoder(s.writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(s.agg.value()); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text", "ndjson":
		return nil
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

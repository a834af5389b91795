package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alerislife/welcome-home/internal/pipeline"
	"github.com/alerislife/welcome-home/internal/source"
	"github.com/alerislife/welcome-home/internal/staging"
	"github.com/alerislife/welcome-home/internal/warehouse"
)

// fakeExporter serves canned CSV per table.
type fakeExporter struct {
	mu       sync.Mutex
	data     map[string]string
	fail     map[string]error
	panicFor map[string]bool
	calls    map[string]int

	delay     time.Duration
	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeExporter() *fakeExporter {
	return &fakeExporter{
		data: map[string]string{
			"Prospects":           "id,first_name\n1,Ada\n2,Grace\n",
			"Residents":           "id,unit\n10,101\n11,102\n12,103\n",
			"Activities":          "id,type\n100,Tour\n",
			"DepositTransactions": "id,amount\n7,250.00\n8,100.00\n",
		},
		fail:     map[string]error{},
		panicFor: map[string]bool{},
		calls:    map[string]int{},
	}
}

func (e *fakeExporter) ExportTable(ctx context.Context, table string, w io.Writer) (source.ExportStats, error) {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		m := e.maxActive.Load()
		if n <= m || e.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	e.calls[table]++
	err, doc, boom := e.fail[table], e.data[table], e.panicFor[table]
	e.mu.Unlock()

	if boom {
		panic("exporter blew up for " + table)
	}
	if err != nil {
		return source.ExportStats{}, err
	}
	if doc == "" {
		return source.ExportStats{Pages: 1}, source.ErrEmptyExport
	}
	n2, err := io.WriteString(w, doc)
	return source.ExportStats{Pages: 1, Records: strings.Count(doc, "\n") - 1, Bytes: int64(n2)}, err
}

func (e *fakeExporter) callCount(table string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[table]
}

// fakeWarehouse interprets the two statement shapes of the load templates
// well enough to track row counts per table. COPY reads the staged file from
// the local bucket directory.
type fakeWarehouse struct {
	mu        sync.Mutex
	stageDir  string
	rows      map[string]int
	stmts     []string
	failCopy  map[string]error
	connectFn func() error
}

func newFakeWarehouse(stageDir string) *fakeWarehouse {
	return &fakeWarehouse{stageDir: stageDir, rows: map[string]int{}, failCopy: map[string]error{}}
}

func (w *fakeWarehouse) Connect(context.Context) (warehouse.Session, error) {
	if w.connectFn != nil {
		if err := w.connectFn(); err != nil {
			return nil, err
		}
	}
	return &fakeSession{w: w}, nil
}

func (w *fakeWarehouse) rowCount(table string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.rows[table]
	return n, ok
}

type fakeSession struct {
	w      *fakeWarehouse
	closed bool
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSession) Exec(_ context.Context, stmt string) error {
	if s.closed {
		return errors.New("session closed")
	}
	w := s.w
	fields := strings.Fields(stmt)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stmts = append(w.stmts, stmt)

	switch {
	case strings.HasPrefix(stmt, "CREATE OR REPLACE TABLE "):
		w.rows[fields[4]] = 0
		return nil

	case strings.HasPrefix(stmt, "COPY INTO "):
		table := fields[2]
		if err := w.failCopy[table]; err != nil {
			return err
		}
		if _, ok := w.rows[table]; !ok {
			return fmt.Errorf("table %s does not exist", table)
		}
		at := strings.Index(stmt, "FROM @")
		ref := strings.Fields(stmt[at+len("FROM @"):])[0]
		_, key, ok := strings.Cut(ref, "/")
		if !ok {
			return fmt.Errorf("bad stage reference %q", ref)
		}
		b, err := os.ReadFile(filepath.Join(w.stageDir, filepath.FromSlash(key)))
		if err != nil {
			return fmt.Errorf("stage file: %w", err)
		}
		w.rows[table] += strings.Count(string(b), "\n") - 1
		return nil
	}
	return fmt.Errorf("unsupported statement: %.40s", stmt)
}

type harness struct {
	exporter  *fakeExporter
	warehouse *fakeWarehouse
	store     *staging.Store
	coord     *Coordinator
}

var testTarget = LoadTarget{Database: "RAW", Schema: "WH", StageName: "WH_STAGE"}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	b, err := staging.Open(context.Background(), staging.Config{Kind: "local", Dir: dir})
	if err != nil {
		t.Fatalf("staging.Open: %v", err)
	}
	h := &harness{
		exporter:  newFakeExporter(),
		warehouse: newFakeWarehouse(dir),
		store:     staging.NewStore(b, "wh"),
	}
	h.coord = &Coordinator{
		Exporter:  h.exporter,
		Store:     h.store,
		Warehouse: h.warehouse,
		Target:    testTarget,
		TempDir:   t.TempDir(),
	}
	return h
}

func (h *harness) run(t *testing.T, marker time.Time, tablesArg []string, step pipeline.StepType) []pipeline.UnitOutcome {
	t.Helper()
	units, err := Select(tablesArg, step)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	resCh, errCh := h.coord.Execute(context.Background(), Run{ID: "test", Marker: marker, Units: units})
	var out []pipeline.UnitOutcome
	for o := range resCh {
		out = append(out, o)
	}
	for err := range errCh {
		if err != nil {
			t.Fatalf("Execute fatal error: %v", err)
		}
	}
	return out
}

func outcomeFor(t *testing.T, outcomes []pipeline.UnitOutcome, table string, stage pipeline.Stage) pipeline.UnitOutcome {
	t.Helper()
	for _, o := range outcomes {
		if o.Table == table && o.Stage == stage {
			return o
		}
	}
	t.Fatalf("no outcome for %s/%s", table, stage)
	return pipeline.UnitOutcome{}
}

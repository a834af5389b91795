package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/alerislife/welcome-home/internal/pipeline"
	"github.com/alerislife/welcome-home/internal/source"
	"github.com/alerislife/welcome-home/internal/tables"
	"github.com/alerislife/welcome-home/internal/warehouse"
)

// Exporter downloads one table from the source API as a single CSV document.
type Exporter interface {
	ExportTable(ctx context.Context, table string, w io.Writer) (source.ExportStats, error)
}

// ArtifactStore publishes and finds staged exports.
type ArtifactStore interface {
	Put(ctx context.Context, t tables.TableSpec, marker time.Time, r io.Reader, size int64, records int) (pipeline.Artifact, error)
	Latest(ctx context.Context, t tables.TableSpec, at time.Time) (pipeline.Artifact, error)
}

// LoadTarget is where load templates create and fill tables.
type LoadTarget struct {
	Database  string
	Schema    string
	StageName string
}

const statementPreview = 100

// extractAndStage exports spec into a temp file and publishes it as the
// artifact of marker. Nothing is published unless the whole export succeeded.
func extractAndStage(ctx context.Context, logger *log.Logger, exp Exporter, store ArtifactStore, spec tables.TableSpec, marker time.Time, tmpDir string) (*pipeline.Artifact, error) {
	f, err := os.CreateTemp(tmpDir, "whexport-"+spec.BlobStem()+"-*.csv")
	if err != nil {
		return nil, &pipeline.ExtractError{Table: spec.Name, Op: "fetch", Err: err}
	}
	defer os.Remove(f.Name())
	defer f.Close()

	logger.Printf("exporting %s", spec.Name)
	stats, err := exp.ExportTable(ctx, spec.Name, f)
	if err != nil {
		return nil, &pipeline.ExtractError{Table: spec.Name, Op: "fetch", Err: err}
	}
	logger.Printf("exported %d record(s), %d byte(s) over %d page(s)", stats.Records, stats.Bytes, stats.Pages)

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, &pipeline.ExtractError{Table: spec.Name, Op: "stage", Err: err}
	}
	art, err := store.Put(ctx, spec, marker, f, stats.Bytes, stats.Records)
	if err != nil {
		return nil, &pipeline.ExtractError{Table: spec.Name, Op: "stage", Err: err}
	}
	logger.Printf("published %s", art.Location)
	return &art, nil
}

// loadArtifact replaces the warehouse table of spec and copies art into it,
// one statement at a time on a dedicated session.
func loadArtifact(ctx context.Context, logger *log.Logger, conn warehouse.Connector, target LoadTarget, spec tables.TableSpec, art pipeline.Artifact) error {
	tmpl, err := spec.LoadTemplate()
	if err != nil {
		return &pipeline.LoadError{Table: spec.Name, Op: "template", Err: err}
	}
	stmts := tables.SplitStatements(tables.Render(tmpl, tables.LoadParams{
		Database:  target.Database,
		Schema:    target.Schema,
		StageName: target.StageName,
		BlobName:  art.Key,
	}))
	if len(stmts) == 0 {
		return &pipeline.LoadError{Table: spec.Name, Op: "template", Err: errors.New("template has no statements")}
	}

	logger.Printf("loading %s into %s.%s.%s", art.Key, target.Database, target.Schema, spec.TargetTable())
	sess, err := conn.Connect(ctx)
	if err != nil {
		return &pipeline.LoadError{Table: spec.Name, Op: "connect", Err: err}
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Printf("closing session: %v", err)
		}
	}()

	for i, stmt := range stmts {
		logger.Printf("executing statement %d/%d: %s", i+1, len(stmts), preview(stmt, statementPreview))
		if err := sess.Exec(ctx, stmt); err != nil {
			return &pipeline.LoadError{Table: spec.Name, Op: statementOp(stmt), Err: fmt.Errorf("statement %d: %w", i+1, err)}
		}
	}
	return nil
}

func statementOp(stmt string) string {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmt)), "COPY") {
		return "copy"
	}
	return "replace"
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package runlog gives every work unit of a run its own log stream.
//
// Layout: <root>/<run-id>/<table>.<stage>.log. The file path is the unit's
// log reference as reported in outcomes and in the summary.
package runlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/alerislife/welcome-home/internal/pipeline"
)

// DefaultRetention is how long run log directories are kept.
const DefaultRetention = 7 * 24 * time.Hour

// Run is the log directory of one run.
type Run struct {
	dir    string
	mirror io.Writer
}

// Open creates the directory of runID under root. An empty root disables
// files; unit logs then only go to mirror (if any).
func Open(root, runID string, mirror io.Writer) (*Run, error) {
	r := &Run{mirror: mirror}
	if root == "" {
		return r, nil
	}
	r.dir = filepath.Join(root, runID)
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run log dir: %w", err)
	}
	return r, nil
}

func (r *Run) Dir() string { return r.dir }

// Unit is the logger of one work unit.
type Unit struct {
	*log.Logger
	f   *os.File
	ref string
}

// Unit opens the log stream of u.
func (r *Run) Unit(u pipeline.WorkUnit) (*Unit, error) {
	var (
		writers []io.Writer
		out     = &Unit{}
	)
	if r.dir != "" {
		p := filepath.Join(r.dir, fmt.Sprintf("%s.%s.log", u.Table, u.Stage))
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open unit log: %w", err)
		}
		out.f, out.ref = f, p
		writers = append(writers, f)
	}
	if r.mirror != nil {
		writers = append(writers, r.mirror)
	}
	w := io.Discard
	if len(writers) > 0 {
		w = io.MultiWriter(writers...)
	}
	out.Logger = log.New(w, fmt.Sprintf("[%s] ", u), log.LstdFlags|log.Lmicroseconds|log.LUTC|log.Lmsgprefix)
	return out, nil
}

// Ref is the opaque log reference, empty when file logging is disabled.
func (u *Unit) Ref() string { return u.ref }

func (u *Unit) Close() error {
	if u == nil || u.f == nil {
		return nil
	}
	return u.f.Close()
}

// Prune removes run directories under root last modified before now-retention.
// It returns the removed directory names, sorted.
func Prune(root string, retention time.Duration, now time.Time) ([]string, error) {
	if root == "" || retention <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-retention)
	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return removed, err
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return removed, err
		}
		removed = append(removed, e.Name())
	}
	sort.Strings(removed)
	return removed, nil
}

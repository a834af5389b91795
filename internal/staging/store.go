package staging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/alerislife/welcome-home/internal/pipeline"
	"github.com/alerislife/welcome-home/internal/tables"
)

// MarkerLayout formats run markers inside object keys. Markers are UTC.
const MarkerLayout = "20060102T150405Z"

const (
	dataSuffix     = ".csv"
	manifestSuffix = ".manifest.json"
)

var (
	// ErrArtifactExists is returned by Put when the artifact is already published.
	ErrArtifactExists = errors.New("artifact already published")
	// ErrNoArtifact is returned by Latest when nothing was published in time.
	ErrNoArtifact = errors.New("no published artifact")
)

// Store publishes and looks up per-table export artifacts in a Bucket.
//
// Layout:
//
//	<prefix>/<table lower>/<marker>.csv            data
//	<prefix>/<table lower>/<marker>.manifest.json  publication record
//
// An artifact exists only once its manifest exists. The manifest is written
// after the data object, so a crashed extract leaves nothing a load can see.
type Store struct {
	bucket Bucket
	prefix string
}

func NewStore(b Bucket, prefix string) *Store {
	return &Store{bucket: b, prefix: strings.Trim(prefix, "/")}
}

func (s *Store) tableDir(t tables.TableSpec) string {
	return path.Join(s.prefix, t.BlobStem()) + "/"
}

// Key is the data object key of the artifact for t at marker.
func (s *Store) Key(t tables.TableSpec, marker time.Time) string {
	return s.tableDir(t) + marker.UTC().Format(MarkerLayout) + dataSuffix
}

func (s *Store) manifestKey(t tables.TableSpec, marker time.Time) string {
	return s.tableDir(t) + marker.UTC().Format(MarkerLayout) + manifestSuffix
}

// Put uploads the export read from r and publishes it as the artifact of
// t at marker. It never replaces a published artifact.
func (s *Store) Put(ctx context.Context, t tables.TableSpec, marker time.Time, r io.Reader, size int64, records int) (pipeline.Artifact, error) {
	marker = marker.UTC().Truncate(time.Second)
	mkey := s.manifestKey(t, marker)

	existing, err := s.bucket.List(ctx, mkey)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("check manifest: %w", err)
	}
	for _, k := range existing {
		if k == mkey {
			return pipeline.Artifact{}, fmt.Errorf("%w: %s", ErrArtifactExists, mkey)
		}
	}

	key := s.Key(t, marker)
	if err := s.bucket.Put(ctx, key, r, size); err != nil {
		return pipeline.Artifact{}, fmt.Errorf("upload %s: %w", key, err)
	}

	art := pipeline.Artifact{
		Table:    t.Name,
		Key:      key,
		Location: s.bucket.Location(key),
		Marker:   marker,
		Bytes:    size,
		Records:  records,
	}
	doc, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return pipeline.Artifact{}, err
	}
	if err := s.bucket.Put(ctx, mkey, bytes.NewReader(doc), int64(len(doc))); err != nil {
		return pipeline.Artifact{}, fmt.Errorf("publish %s: %w", mkey, err)
	}
	return art, nil
}

// Latest returns the most recent artifact of t published at or before at.
func (s *Store) Latest(ctx context.Context, t tables.TableSpec, at time.Time) (pipeline.Artifact, error) {
	keys, err := s.bucket.List(ctx, s.tableDir(t))
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("list %s: %w", s.tableDir(t), err)
	}

	var (
		bestKey    string
		bestMarker time.Time
	)
	for _, k := range keys {
		m, ok := s.parseManifestKey(t, k)
		if !ok || m.After(at) {
			continue
		}
		if bestKey == "" || m.After(bestMarker) {
			bestKey, bestMarker = k, m
		}
	}
	if bestKey == "" {
		return pipeline.Artifact{}, fmt.Errorf("%w for %s at or before %s", ErrNoArtifact, t.Name, at.UTC().Format(time.RFC3339))
	}

	rc, err := s.bucket.Get(ctx, bestKey)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("read %s: %w", bestKey, err)
	}
	defer rc.Close()

	var art pipeline.Artifact
	if err := json.NewDecoder(rc).Decode(&art); err != nil {
		return pipeline.Artifact{}, fmt.Errorf("decode %s: %w", bestKey, err)
	}
	if art.Key == "" {
		art.Key = strings.TrimSuffix(bestKey, manifestSuffix) + dataSuffix
	}
	return art, nil
}

func (s *Store) parseManifestKey(t tables.TableSpec, key string) (time.Time, bool) {
	name, ok := strings.CutPrefix(key, s.tableDir(t))
	if !ok || strings.Contains(name, "/") {
		return time.Time{}, false
	}
	stamp, ok := strings.CutSuffix(name, manifestSuffix)
	if !ok {
		return time.Time{}, false
	}
	m, err := time.Parse(MarkerLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return m, true
}

package staging

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/alerislife/welcome-home/internal/tables"
)

func openLocal(t *testing.T) (Bucket, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := Open(context.Background(), Config{Kind: "local", Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return b, dir
}

func mustTable(t *testing.T, name string) tables.TableSpec {
	t.Helper()
	spec, err := tables.Resolve(name)
	if err != nil {
		t.Fatalf("Resolve(%s): %v", name, err)
	}
	return spec
}

func TestStore_PutAndLatest(t *testing.T) {
	ctx := context.Background()
	b, dir := openLocal(t)
	s := NewStore(b, "/welcome_home/")
	activities := mustTable(t, "Activities")

	day1 := time.Date(2026, 10, 16, 11, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	if _, err := s.Put(ctx, activities, day1, strings.NewReader("id\n1\n"), 5, 1); err != nil {
		t.Fatalf("Put day1: %v", err)
	}
	art2, err := s.Put(ctx, activities, day2, strings.NewReader("id\n1\n2\n"), 7, 2)
	if err != nil {
		t.Fatalf("Put day2: %v", err)
	}

	if art2.Key != "welcome_home/activities/20261017T110000Z.csv" {
		t.Fatalf("unexpected key %q", art2.Key)
	}
	if !strings.HasPrefix(art2.Location, "file://") {
		t.Fatalf("unexpected location %q", art2.Location)
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(art2.Key)))
	if err != nil {
		t.Fatalf("read staged data: %v", err)
	}
	if string(data) != "id\n1\n2\n" {
		t.Fatalf("unexpected staged data %q", data)
	}

	latest, err := s.Latest(ctx, activities, day2.Add(time.Hour))
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Key != art2.Key || latest.Records != 2 || latest.Bytes != 7 || !latest.Marker.Equal(day2) {
		t.Fatalf("unexpected latest artifact %+v", latest)
	}

	// At an earlier instant the older artifact is the latest one.
	older, err := s.Latest(ctx, activities, day2.Add(-time.Second))
	if err != nil {
		t.Fatalf("Latest (older): %v", err)
	}
	if !older.Marker.Equal(day1) {
		t.Fatalf("expected day1 artifact, got %+v", older)
	}

	if _, err := s.Latest(ctx, activities, day1.Add(-time.Second)); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact before first publish, got %v", err)
	}
}

func TestStore_PutNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	b, _ := openLocal(t)
	s := NewStore(b, "wh")
	prospects := mustTable(t, "Prospects")
	marker := time.Date(2026, 10, 18, 11, 0, 0, 0, time.UTC)

	if _, err := s.Put(ctx, prospects, marker, strings.NewReader("id\n1\n"), 5, 1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Put(ctx, prospects, marker, strings.NewReader("id\n9\n"), 5, 1); !errors.Is(err, ErrArtifactExists) {
		t.Fatalf("expected ErrArtifactExists, got %v", err)
	}
}

func TestStore_LatestIgnoresUnpublishedAndOtherTables(t *testing.T) {
	ctx := context.Background()
	b, _ := openLocal(t)
	s := NewStore(b, "wh")
	residents := mustTable(t, "Residents")
	marker := time.Date(2026, 10, 18, 11, 0, 0, 0, time.UTC)

	// Data object of a crashed extract: no manifest.
	if err := b.Put(ctx, s.Key(residents, marker), strings.NewReader("id\n"), 3); err != nil {
		t.Fatalf("Put raw: %v", err)
	}
	// Published artifact of a different table.
	if _, err := s.Put(ctx, mustTable(t, "Prospects"), marker, strings.NewReader("id\n1\n"), 5, 1); err != nil {
		t.Fatalf("Put prospects: %v", err)
	}

	if _, err := s.Latest(ctx, residents, marker.Add(time.Hour)); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
}

func TestLocalBucket(t *testing.T) {
	ctx := context.Background()
	b, _ := openLocal(t)

	if _, err := b.Get(ctx, "missing.csv"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := b.Put(ctx, "../escape.csv", strings.NewReader("x"), 1); err == nil {
		t.Fatal("expected error for key escaping the root")
	}

	for _, k := range []string{"a/one.csv", "a/two.csv", "b/three.csv"} {
		if err := b.Put(ctx, k, strings.NewReader(k), int64(len(k))); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}
	keys, err := b.List(ctx, "a/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"a/one.csv", "a/two.csv"}) {
		t.Fatalf("unexpected keys %v", keys)
	}

	rc, err := b.Get(ctx, "b/three.csv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "b/three.csv" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	if !slices.Equal(Kinds(), []string{"azure", "local", "s3"}) {
		t.Fatalf("unexpected kinds %v", Kinds())
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing kind", Config{}, "missing kind"},
		{"unknown kind", Config{Kind: "gcs"}, `unsupported kind "gcs"`},
		{"local without dir", Config{Kind: "local"}, "dir is required"},
		{"azure without connection string", Config{Kind: "azure", Container: "c"}, "AZURE_CONNECTION_STRING"},
		{"azure without container", Config{Kind: "azure", ConnectionString: "x"}, "container is required"},
		{"s3 without endpoint", Config{Kind: "s3", Bucket: "b"}, "endpoint is required"},
		{"s3 without credentials", Config{Kind: "s3", Endpoint: "localhost:9000", Bucket: "b"}, "credentials are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(ctx, tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestOpen_S3(t *testing.T) {
	b, err := Open(context.Background(), Config{
		Kind:            "s3",
		Endpoint:        "https://minio.internal:9000",
		Bucket:          "exports",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := b.Location("wh/prospects/x.csv"); got != "s3://exports/wh/prospects/x.csv" {
		t.Fatalf("Location() = %q", got)
	}
}

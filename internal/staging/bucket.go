package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ErrObjectNotFound is returned by Bucket.Get for keys that do not exist.
var ErrObjectNotFound = errors.New("object not found")

// Bucket is a flat key/value object store holding staged exports.
//
// Implementations must make Put visible atomically per key: a reader either
// sees the complete object or no object at all.
type Bucket interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns every key starting with prefix, in any order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Location is the URI of key as the warehouse stage would address it.
	Location(key string) string
}

// Config selects and configures a Bucket backend.
type Config struct {
	// Kind is a registered backend: "azure", "s3" or "local".
	Kind   string
	Prefix string

	// local
	Dir string

	// azure
	Container        string
	ConnectionString string

	// s3
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

type factory func(ctx context.Context, cfg Config) (Bucket, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available to Open under kind. It panics on an
// empty kind, a nil factory, or a duplicate registration.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("staging: Register called with empty kind")
	}
	if f == nil {
		panic("staging: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("staging: backend already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open constructs the Bucket for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Bucket, error) {
	if cfg.Kind == "" {
		return nil, errors.New("staging: missing kind")
	}
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("staging: unsupported kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

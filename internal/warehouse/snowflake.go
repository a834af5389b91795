package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

// Session runs statements on one warehouse connection, in order.
type Session interface {
	Exec(ctx context.Context, stmt string) error
	Close() error
}

// Connector opens a fresh Session. Each load unit gets its own session so
// units never share transactional or session state.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Config is the Snowflake connection and load target.
type Config struct {
	Account   string
	User      string
	Password  string
	Warehouse string
	Database  string
	Schema    string
	Role      string
	// StageName is the external stage pointing at the staging container.
	StageName string

	LoginTimeout time.Duration
}

// Validate reports every missing required field at once.
func (c Config) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"account", c.Account},
		{"user", c.User},
		{"password", c.Password},
		{"warehouse", c.Warehouse},
		{"database", c.Database},
		{"schema", c.Schema},
		{"stage_name", c.StageName},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing snowflake setting(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

type Snowflake struct {
	dsn string
}

func NewSnowflake(cfg Config) (*Snowflake, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:      cfg.Account,
		User:         cfg.User,
		Password:     cfg.Password,
		Warehouse:    cfg.Warehouse,
		Database:     cfg.Database,
		Schema:       cfg.Schema,
		Role:         cfg.Role,
		LoginTimeout: cfg.LoginTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("snowflake dsn: %w", err)
	}
	return &Snowflake{dsn: dsn}, nil
}

func (s *Snowflake) Connect(ctx context.Context) (Session, error) {
	db, err := sql.Open("snowflake", s.dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqlSession{db: db, conn: conn}, nil
}

type sqlSession struct {
	db   *sql.DB
	conn *sql.Conn
}

func (s *sqlSession) Exec(ctx context.Context, stmt string) error {
	_, err := s.conn.ExecContext(ctx, stmt)
	return err
}

func (s *sqlSession) Close() error {
	return errors.Join(s.conn.Close(), s.db.Close())
}

package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/logger"
)

// PostgresConfig contains database configuration for the Postgres sink
type PostgresConfig struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// PostgresSink writes audit entries to a PostgreSQL table.
type PostgresSink struct {
	db     *sqlx.DB
	logger *logger.Logger
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id          BIGSERIAL PRIMARY KEY,
	guard       TEXT NOT NULL,
	entity      TEXT NOT NULL,
	start_off   INTEGER NOT NULL,
	end_off     INTEGER NOT NULL,
	snippet     TEXT,
	explanation TEXT,
	recorded_at TIMESTAMPTZ NOT NULL
)`

// NewPostgresSink connects to the database and ensures the audit table exists.
func NewPostgresSink(config *PostgresConfig, log *logger.Logger) (*PostgresSink, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	sink := &PostgresSink{db: db, logger: log}

	if err := sink.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit sink: %w", err)
	}

	log.Info("Audit postgres sink initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)

	return sink, nil
}

// initialize checks the connection and creates the audit table if missing.
func (s *PostgresSink) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}

	return nil
}

// Record inserts one audit entry.
func (s *PostgresSink) Record(entry Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (guard, entity, start_off, end_off, snippet, explanation, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.Guard, entry.Entity, entry.Start, entry.End, entry.Snippet, entry.Explanation, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// maskDatabaseURL hides credentials when logging the connection string.
func maskDatabaseURL(url string) string {
	if at := strings.Index(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***:***" + url[at:]
		}
	}
	return url
}

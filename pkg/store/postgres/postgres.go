// Package postgres provides the PostgreSQL-backed InstanceStore.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/store"
	"github.com/inboxpilot/conduit/pkg/store/sqlbase"
)

var _ store.InstanceStore = (*Store)(nil)

// Store persists instances in two tables: workflow_instances holds the
// instance record, instance_steps holds one row per step so step-level
// updates never rewrite the whole instance.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	repo   *instanceRepository
}

// NewStore connects, migrates, and returns a ready store.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, db, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		repo:   &instanceRepository{db: db, logger: logger},
	}, nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_instances (
				id              TEXT PRIMARY KEY,
				definition_id   TEXT NOT NULL,
				user_id         TEXT NOT NULL DEFAULT '',
				status          TEXT NOT NULL,
				current_step_id TEXT NOT NULL DEFAULT '',
				context         JSONB,
				result          JSONB,
				error           JSONB,
				persistent      BOOLEAN NOT NULL DEFAULT TRUE,
				metadata        JSONB,
				created_at      TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at      TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at    TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_instances_user
				ON workflow_instances (user_id);
			CREATE INDEX IF NOT EXISTS idx_workflow_instances_status_updated
				ON workflow_instances (status, updated_at);

			CREATE TABLE IF NOT EXISTS instance_steps (
				instance_id  TEXT NOT NULL REFERENCES workflow_instances (id) ON DELETE CASCADE,
				step_id      TEXT NOT NULL,
				position     INTEGER NOT NULL,
				template     JSONB NOT NULL,
				status       TEXT NOT NULL,
				retry_count  INTEGER NOT NULL DEFAULT 0,
				result       JSONB,
				error        JSONB,
				started_at   TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (instance_id, step_id)
			);
		`,
	}
}

// Save upserts the instance record and every step row.
func (s *Store) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	return s.repo.save(ctx, instance)
}

// Load returns the instance with its steps in arena order.
func (s *Store) Load(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return s.repo.load(ctx, id)
}

// LoadForUser returns all instances owned by userID.
func (s *Store) LoadForUser(ctx context.Context, userID string) ([]*models.WorkflowInstance, error) {
	return s.repo.loadForUser(ctx, userID)
}

// UpdateStatus touches only the instance row.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	return s.repo.updateStatus(ctx, id, status)
}

// UpdateStepStatus touches only one step row.
func (s *Store) UpdateStepStatus(ctx context.Context, id, stepID string, status models.StepStatus) error {
	return s.repo.updateStepStatus(ctx, id, stepID, status)
}

// DeleteOlderThan removes terminal instances last updated before now-maxAge.
// Step rows go with them via the foreign key cascade.
func (s *Store) DeleteOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.repo.deleteOlderThan(ctx, maxAge)
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db == nil {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

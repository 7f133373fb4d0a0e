package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/store"
)

// instanceRepository holds the actual SQL for the two-table layout.
type instanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// stepTemplate is the immutable part of a step, stored as one JSONB column.
// Runtime fields live in their own columns so they can be updated row-wise.
type stepTemplate struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         models.StepType   `json:"type"`
	Config       models.StepConfig `json:"config"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Timeout      time.Duration     `json:"timeout"`
	MaxRetries   int               `json:"max_retries"`
}

func (r *instanceRepository) save(ctx context.Context, instance *models.WorkflowInstance) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return store.NewInstanceError("Save", instance.ID,
			fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	contextJSON, err := json.Marshal(instance.Context)
	if err != nil {
		return store.NewInstanceError("Save", instance.ID,
			fmt.Errorf("failed to marshal context: %w", err))
	}

	resultJSON, err := marshalNullable(instance.Result)
	if err != nil {
		return store.NewInstanceError("Save", instance.ID, err)
	}

	errorJSON, err := marshalNullable(instance.Error)
	if err != nil {
		return store.NewInstanceError("Save", instance.ID, err)
	}

	metadataJSON, err := json.Marshal(instance.Metadata)
	if err != nil {
		return store.NewInstanceError("Save", instance.ID,
			fmt.Errorf("failed to marshal metadata: %w", err))
	}

	now := time.Now().UTC()
	instance.UpdatedAt = now

	instanceQuery := `
		INSERT INTO workflow_instances
			(id, definition_id, user_id, status, current_step_id,
			 context, result, error, persistent, metadata,
			 created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step_id = EXCLUDED.current_step_id,
			context = EXCLUDED.context,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			persistent = EXCLUDED.persistent,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = tx.ExecContext(ctx, instanceQuery,
		instance.ID,
		instance.DefinitionID,
		instance.UserID,
		instance.Status,
		instance.CurrentStepID,
		contextJSON,
		resultJSON,
		errorJSON,
		instance.Persistent,
		metadataJSON,
		instance.CreatedAt,
		instance.UpdatedAt,
		instance.CompletedAt,
	)
	if err != nil {
		return store.NewInstanceError("Save", instance.ID,
			fmt.Errorf("failed to upsert instance: %w", err))
	}

	if err = r.saveSteps(ctx, tx, instance); err != nil {
		return store.NewInstanceError("Save", instance.ID, err)
	}

	if err = tx.Commit(); err != nil {
		return store.NewInstanceError("Save", instance.ID,
			fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

func (r *instanceRepository) saveSteps(ctx context.Context, tx *sql.Tx, instance *models.WorkflowInstance) error {
	stepQuery := `
		INSERT INTO instance_steps
			(instance_id, step_id, position, template, status,
			 retry_count, result, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (instance_id, step_id) DO UPDATE SET
			position = EXCLUDED.position,
			template = EXCLUDED.template,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	for position, step := range instance.Steps {
		templateJSON, err := json.Marshal(stepTemplate{
			ID:           step.ID,
			Name:         step.Name,
			Type:         step.Type,
			Config:       step.Config,
			Dependencies: step.Dependencies,
			Timeout:      step.Timeout,
			MaxRetries:   step.MaxRetries,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal step %s template: %w", step.ID, err)
		}

		resultJSON, err := marshalNullable(step.Result)
		if err != nil {
			return fmt.Errorf("step %s: %w", step.ID, err)
		}

		errorJSON, err := marshalNullable(step.Error)
		if err != nil {
			return fmt.Errorf("step %s: %w", step.ID, err)
		}

		_, err = tx.ExecContext(ctx, stepQuery,
			instance.ID,
			step.ID,
			position,
			templateJSON,
			step.Status,
			step.RetryCount,
			resultJSON,
			errorJSON,
			step.StartedAt,
			step.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert step %s: %w", step.ID, err)
		}
	}

	return nil
}

func (r *instanceRepository) load(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `
		SELECT
			id
		  , definition_id
		  , user_id
		  , status
		  , current_step_id
		  , context
		  , result
		  , error
		  , persistent
		  , metadata
		  , created_at
		  , updated_at
		  , completed_at
		FROM workflow_instances
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewInstanceError("Load", id, store.ErrInstanceNotFound)
		}

		return nil, store.NewInstanceError("Load", id,
			fmt.Errorf("failed to scan instance: %w", err))
	}

	if err := r.loadSteps(ctx, instance); err != nil {
		return nil, store.NewInstanceError("Load", id, err)
	}

	return instance, nil
}

func (r *instanceRepository) loadForUser(ctx context.Context, userID string) ([]*models.WorkflowInstance, error) {
	query := `
		SELECT
			id
		  , definition_id
		  , user_id
		  , status
		  , current_step_id
		  , context
		  , result
		  , error
		  , persistent
		  , metadata
		  , created_at
		  , updated_at
		  , completed_at
		FROM workflow_instances
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances for user %s: %w", userID, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		if err := r.loadSteps(ctx, instance); err != nil {
			return nil, err
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func (r *instanceRepository) loadSteps(ctx context.Context, instance *models.WorkflowInstance) error {
	query := `
		SELECT step_id, template, status, retry_count, result, error, started_at, completed_at
		FROM instance_steps
		WHERE instance_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, instance.ID)
	if err != nil {
		return fmt.Errorf("failed to query steps: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	steps := make([]*models.WorkflowStep, 0)

	for rows.Next() {
		var (
			stepID       string
			templateJSON []byte
			status       models.StepStatus
			retryCount   int
			resultJSON   []byte
			errorJSON    []byte
			startedAt    sql.NullTime
			completedAt  sql.NullTime
		)

		err := rows.Scan(&stepID, &templateJSON, &status, &retryCount,
			&resultJSON, &errorJSON, &startedAt, &completedAt)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		var template stepTemplate
		if err := json.Unmarshal(templateJSON, &template); err != nil {
			return fmt.Errorf("failed to unmarshal step %s template: %w", stepID, err)
		}

		step := &models.WorkflowStep{
			ID:           template.ID,
			Name:         template.Name,
			Type:         template.Type,
			Config:       template.Config,
			Dependencies: template.Dependencies,
			Timeout:      template.Timeout,
			MaxRetries:   template.MaxRetries,
			Status:       status,
			RetryCount:   retryCount,
		}

		if len(resultJSON) > 0 {
			step.Result = &models.StepResult{}
			if err := json.Unmarshal(resultJSON, step.Result); err != nil {
				return fmt.Errorf("failed to unmarshal step %s result: %w", stepID, err)
			}
		}

		if len(errorJSON) > 0 {
			step.Error = &models.StepError{}
			if err := json.Unmarshal(errorJSON, step.Error); err != nil {
				return fmt.Errorf("failed to unmarshal step %s error: %w", stepID, err)
			}
		}

		if startedAt.Valid {
			t := startedAt.Time
			step.StartedAt = &t
		}

		if completedAt.Valid {
			t := completedAt.Time
			step.CompletedAt = &t
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	instance.Steps = steps

	return nil
}

func (r *instanceRepository) updateStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	query := `UPDATE workflow_instances SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return store.NewInstanceError("UpdateStatus", id,
			fmt.Errorf("failed to update status: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return store.NewInstanceError("UpdateStatus", id,
			fmt.Errorf("failed to get rows affected: %w", err))
	}

	if affected == 0 {
		return store.NewInstanceError("UpdateStatus", id, store.ErrInstanceNotFound)
	}

	return nil
}

// updateStepStatus is a single-row UPDATE; the instance record itself is not
// rewritten.
func (r *instanceRepository) updateStepStatus(ctx context.Context, id, stepID string, status models.StepStatus) error {
	query := `UPDATE instance_steps SET status = $1 WHERE instance_id = $2 AND step_id = $3`

	result, err := r.db.ExecContext(ctx, query, status, id, stepID)
	if err != nil {
		return store.NewStepError("UpdateStepStatus", id, stepID,
			fmt.Errorf("failed to update step status: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return store.NewStepError("UpdateStepStatus", id, stepID,
			fmt.Errorf("failed to get rows affected: %w", err))
	}

	if affected == 0 {
		return store.NewStepError("UpdateStepStatus", id, stepID, store.ErrStepNotFound)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE workflow_instances SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return store.NewStepError("UpdateStepStatus", id, stepID,
			fmt.Errorf("failed to touch instance: %w", err))
	}

	return nil
}

func (r *instanceRepository) deleteOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	query := `
		DELETE FROM workflow_instances
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old instances: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var (
		instance     models.WorkflowInstance
		contextJSON  []byte
		resultJSON   []byte
		errorJSON    []byte
		metadataJSON []byte
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.DefinitionID,
		&instance.UserID,
		&instance.Status,
		&instance.CurrentStepID,
		&contextJSON,
		&resultJSON,
		&errorJSON,
		&instance.Persistent,
		&metadataJSON,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(contextJSON) > 0 {
		instance.Context = &models.WorkflowContext{}
		if err := json.Unmarshal(contextJSON, instance.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}

	if len(resultJSON) > 0 {
		instance.Result = &models.WorkflowResult{}
		if err := json.Unmarshal(resultJSON, instance.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	if len(errorJSON) > 0 {
		instance.Error = &models.WorkflowError{}
		if err := json.Unmarshal(errorJSON, instance.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error: %w", err)
		}
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &instance.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	if completedAt.Valid {
		t := completedAt.Time
		instance.CompletedAt = &t
	}

	return &instance, nil
}

// marshalNullable marshals v unless it is a nil pointer, in which case the
// column stays NULL.
func marshalNullable(v any) ([]byte, error) {
	switch {
	case v == nil:
		return nil, nil
	case isNilPointer(v):
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	return data, nil
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *models.StepResult:
		return p == nil
	case *models.StepError:
		return p == nil
	case *models.WorkflowResult:
		return p == nil
	case *models.WorkflowError:
		return p == nil
	default:
		return false
	}
}

// Package redis provides the Redis-backed InstanceStore. The instance record
// and each step live in separate hash fields, so step-level updates rewrite
// one field instead of the whole record.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/store"
)

var _ store.InstanceStore = (*Store)(nil)

const (
	instanceKeyPrefix = "conduit:instance:"
	userKeyPrefix     = "conduit:user:"
	indexKey          = "conduit:instances"

	recordField     = "record"
	statusField     = "status"
	updatedAtField  = "updated_at"
	stepFieldPrefix = "step:"
)

// Store keeps each instance in a hash under conduit:instance:{id} plus a
// global id index and a per-user id set for LoadForUser.
type Store struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewStore parses the URL (redis://...) and pings the server.
func NewStore(ctx context.Context, logger *slog.Logger, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Store{client: client, logger: logger}, nil
}

// instanceRecord is the step-less portion of an instance, stored in the
// record field. Steps live in their own fields.
type instanceRecord struct {
	ID            string                  `json:"id"`
	DefinitionID  string                  `json:"definition_id"`
	UserID        string                  `json:"user_id,omitempty"`
	Status        models.WorkflowStatus   `json:"status"`
	CurrentStepID string                  `json:"current_step_id"`
	StepOrder     []string                `json:"step_order"`
	Context       *models.WorkflowContext `json:"context,omitempty"`
	Result        *models.WorkflowResult  `json:"result,omitempty"`
	Error         *models.WorkflowError   `json:"error,omitempty"`
	Persistent    bool                    `json:"persistent"`
	Metadata      map[string]any          `json:"metadata,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// Save upserts the record field and every step field in one pipeline.
func (s *Store) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	stepOrder := make([]string, len(instance.Steps))
	for i, step := range instance.Steps {
		stepOrder[i] = step.ID
	}

	record := instanceRecord{
		ID:            instance.ID,
		DefinitionID:  instance.DefinitionID,
		UserID:        instance.UserID,
		Status:        instance.Status,
		CurrentStepID: instance.CurrentStepID,
		StepOrder:     stepOrder,
		Context:       instance.Context,
		Result:        instance.Result,
		Error:         instance.Error,
		Persistent:    instance.Persistent,
		Metadata:      instance.Metadata,
		CreatedAt:     instance.CreatedAt,
		CompletedAt:   instance.CompletedAt,
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		return store.NewInstanceError("Save", instance.ID,
			fmt.Errorf("failed to marshal record: %w", err))
	}

	now := time.Now().UTC()

	fields := map[string]any{
		recordField:    recordJSON,
		statusField:    string(instance.Status),
		updatedAtField: strconv.FormatInt(now.UnixMilli(), 10),
	}

	for _, step := range instance.Steps {
		stepJSON, err := json.Marshal(step)
		if err != nil {
			return store.NewStepError("Save", instance.ID, step.ID,
				fmt.Errorf("failed to marshal step: %w", err))
		}

		fields[stepFieldPrefix+step.ID] = stepJSON
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, instanceKeyPrefix+instance.ID, fields)
	pipe.SAdd(ctx, indexKey, instance.ID)

	if instance.UserID != "" {
		pipe.SAdd(ctx, userKeyPrefix+instance.UserID, instance.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return store.NewInstanceError("Save", instance.ID,
			fmt.Errorf("failed to write instance hash: %w", err))
	}

	return nil
}

// Load rebuilds the instance from its hash.
func (s *Store) Load(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	fields, err := s.client.HGetAll(ctx, instanceKeyPrefix+id).Result()
	if err != nil {
		return nil, store.NewInstanceError("Load", id,
			fmt.Errorf("failed to read instance hash: %w", err))
	}

	if len(fields) == 0 {
		return nil, store.NewInstanceError("Load", id, store.ErrInstanceNotFound)
	}

	return decodeInstance(id, fields)
}

// LoadForUser loads every instance in the user's id set.
func (s *Store) LoadForUser(ctx context.Context, userID string) ([]*models.WorkflowInstance, error) {
	ids, err := s.client.SMembers(ctx, userKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read user index for %s: %w", userID, err)
	}

	instances := make([]*models.WorkflowInstance, 0, len(ids))

	for _, id := range ids {
		instance, err := s.Load(ctx, id)
		if err != nil {
			if store.IsInstanceNotFound(err) {
				// Stale index entry; drop it.
				s.client.SRem(ctx, userKeyPrefix+userID, id)

				continue
			}

			return nil, err
		}

		instances = append(instances, instance)
	}

	return instances, nil
}

// UpdateStatus rewrites the status field and patches the record copy.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	key := instanceKeyPrefix + id

	recordJSON, err := s.client.HGet(ctx, key, recordField).Result()
	if err == redis.Nil {
		return store.NewInstanceError("UpdateStatus", id, store.ErrInstanceNotFound)
	} else if err != nil {
		return store.NewInstanceError("UpdateStatus", id,
			fmt.Errorf("failed to read record: %w", err))
	}

	var record instanceRecord
	if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
		return store.NewInstanceError("UpdateStatus", id,
			fmt.Errorf("failed to unmarshal record: %w", err))
	}

	record.Status = status

	updated, err := json.Marshal(record)
	if err != nil {
		return store.NewInstanceError("UpdateStatus", id,
			fmt.Errorf("failed to marshal record: %w", err))
	}

	err = s.client.HSet(ctx, key, map[string]any{
		recordField:    updated,
		statusField:    string(status),
		updatedAtField: strconv.FormatInt(time.Now().UTC().UnixMilli(), 10),
	}).Err()
	if err != nil {
		return store.NewInstanceError("UpdateStatus", id,
			fmt.Errorf("failed to write status: %w", err))
	}

	return nil
}

// UpdateStepStatus patches one step field only.
func (s *Store) UpdateStepStatus(ctx context.Context, id, stepID string, status models.StepStatus) error {
	key := instanceKeyPrefix + id
	field := stepFieldPrefix + stepID

	stepJSON, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		exists, existsErr := s.client.Exists(ctx, key).Result()
		if existsErr == nil && exists == 0 {
			return store.NewStepError("UpdateStepStatus", id, stepID, store.ErrInstanceNotFound)
		}

		return store.NewStepError("UpdateStepStatus", id, stepID, store.ErrStepNotFound)
	} else if err != nil {
		return store.NewStepError("UpdateStepStatus", id, stepID,
			fmt.Errorf("failed to read step field: %w", err))
	}

	var step models.WorkflowStep
	if err := json.Unmarshal([]byte(stepJSON), &step); err != nil {
		return store.NewStepError("UpdateStepStatus", id, stepID,
			fmt.Errorf("failed to unmarshal step: %w", err))
	}

	step.Status = status

	updated, err := json.Marshal(&step)
	if err != nil {
		return store.NewStepError("UpdateStepStatus", id, stepID,
			fmt.Errorf("failed to marshal step: %w", err))
	}

	err = s.client.HSet(ctx, key, map[string]any{
		field:          updated,
		updatedAtField: strconv.FormatInt(time.Now().UTC().UnixMilli(), 10),
	}).Err()
	if err != nil {
		return store.NewStepError("UpdateStepStatus", id, stepID,
			fmt.Errorf("failed to write step field: %w", err))
	}

	return nil
}

// DeleteOlderThan scans the id index and removes terminal instances whose
// updated_at is older than the cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read instance index: %w", err)
	}

	cutoff := time.Now().UTC().Add(-maxAge).UnixMilli()
	deleted := 0

	for _, id := range ids {
		key := instanceKeyPrefix + id

		values, err := s.client.HMGet(ctx, key, statusField, updatedAtField, recordField).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to read instance %s: %w", id, err)
		}

		status, _ := values[0].(string)
		if !models.WorkflowStatus(status).Terminal() {
			continue
		}

		updatedAtRaw, _ := values[1].(string)

		updatedAt, err := strconv.ParseInt(updatedAtRaw, 10, 64)
		if err != nil || updatedAt >= cutoff {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, key)
		pipe.SRem(ctx, indexKey, id)

		if recordJSON, ok := values[2].(string); ok {
			var record instanceRecord
			if json.Unmarshal([]byte(recordJSON), &record) == nil && record.UserID != "" {
				pipe.SRem(ctx, userKeyPrefix+record.UserID, id)
			}
		}

		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, fmt.Errorf("failed to delete instance %s: %w", id, err)
		}

		deleted++
	}

	return deleted, nil
}

// HealthCheck pings the server.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Close closes the client.
func (s *Store) Close(_ context.Context) error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

func decodeInstance(id string, fields map[string]string) (*models.WorkflowInstance, error) {
	recordJSON, ok := fields[recordField]
	if !ok {
		return nil, store.NewInstanceError("Load", id,
			fmt.Errorf("instance hash has no record field"))
	}

	var record instanceRecord
	if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
		return nil, store.NewInstanceError("Load", id,
			fmt.Errorf("failed to unmarshal record: %w", err))
	}

	steps := make([]*models.WorkflowStep, 0, len(record.StepOrder))

	for _, stepID := range record.StepOrder {
		stepJSON, ok := fields[stepFieldPrefix+stepID]
		if !ok {
			return nil, store.NewStepError("Load", id, stepID, store.ErrStepNotFound)
		}

		step := &models.WorkflowStep{}
		if err := json.Unmarshal([]byte(stepJSON), step); err != nil {
			return nil, store.NewStepError("Load", id, stepID,
				fmt.Errorf("failed to unmarshal step: %w", err))
		}

		steps = append(steps, step)
	}

	var updatedAt time.Time
	if raw, ok := fields[updatedAtField]; ok {
		if ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			updatedAt = time.UnixMilli(ms).UTC()
		}
	}

	return &models.WorkflowInstance{
		ID:            record.ID,
		DefinitionID:  record.DefinitionID,
		UserID:        record.UserID,
		Status:        record.Status,
		CurrentStepID: record.CurrentStepID,
		Steps:         steps,
		Context:       record.Context,
		Result:        record.Result,
		Error:         record.Error,
		Persistent:    record.Persistent,
		Metadata:      record.Metadata,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     updatedAt,
		CompletedAt:   record.CompletedAt,
	}, nil
}

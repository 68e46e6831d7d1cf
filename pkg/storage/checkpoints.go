package storage

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/crewrun/pkg/core"
)

// checkpointRecord is the row form of a checkpoint. Previous holds the prior
// generation, mirroring the .bak file of the file store.
type checkpointRecord struct {
	JobID          string            `gorm:"primaryKey;size:36"`
	CompletedTasks []string          `gorm:"serializer:json"`
	TaskOutputs    map[string]string `gorm:"serializer:json"`
	Previous       *core.Checkpoint  `gorm:"serializer:json"`
	SavedAt        time.Time
}

func (checkpointRecord) TableName() string { return "checkpoints" }

func (r *checkpointRecord) checkpoint() *core.Checkpoint {
	cp := &core.Checkpoint{
		JobID:          r.JobID,
		CompletedTasks: slices.Clone(r.CompletedTasks),
		TaskOutputs:    make(map[string]string, len(r.TaskOutputs)),
		SavedAt:        r.SavedAt,
	}
	for k, v := range r.TaskOutputs {
		cp.TaskOutputs[k] = v
	}
	return cp
}

// CheckpointStore implements core.CheckpointStore on the checkpoints table.
type CheckpointStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ core.CheckpointStore = (*CheckpointStore)(nil)

// Checkpoints returns a checkpoint store sharing this storage's connection.
func (s *GormStorage) Checkpoints(logger *slog.Logger) *CheckpointStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointStore{db: s.db, logger: logger}
}

// Save replaces the job's checkpoint inside a transaction, keeping the
// replaced version as the previous generation.
func (c *CheckpointStore) Save(ctx context.Context, cp *core.Checkpoint) error {
	savedAt := cp.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := checkpointRecord{
			JobID:          cp.JobID,
			CompletedTasks: slices.Clone(cp.CompletedTasks),
			TaskOutputs:    cp.TaskOutputs,
			SavedAt:        savedAt,
		}
		if rec.CompletedTasks == nil {
			rec.CompletedTasks = []string{}
		}
		if rec.TaskOutputs == nil {
			rec.TaskOutputs = map[string]string{}
		}

		var existing checkpointRecord
		err := tx.First(&existing, "job_id = ?", cp.JobID).Error
		switch {
		case err == nil:
			rec.Previous = existing.checkpoint()
		case !errors.Is(err, gorm.ErrRecordNotFound):
			// An undecodable row is overwritten rather than rotated.
			c.logger.Warn("previous checkpoint unreadable, not keeping backup", "job_id", cp.JobID, "error", err)
		}

		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	})
}

// Load returns the job's checkpoint. Rows that fail to decode are logged and
// reported as not found.
func (c *CheckpointStore) Load(ctx context.Context, jobID string) (*core.Checkpoint, bool, error) {
	var rec checkpointRecord
	err := c.db.WithContext(ctx).First(&rec, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		corrupt := &core.CheckpointCorruptionError{JobID: jobID, Path: "checkpoints", Err: err}
		c.logger.Warn("checkpoint unreadable, starting over", "job_id", jobID, "error", corrupt)
		return nil, false, nil
	}
	return rec.checkpoint(), true, nil
}

// Previous returns the generation replaced by the latest save.
func (c *CheckpointStore) Previous(ctx context.Context, jobID string) (*core.Checkpoint, bool, error) {
	var rec checkpointRecord
	err := c.db.WithContext(ctx).First(&rec, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && rec.Previous == nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec.Previous, true, nil
}

// Clear removes the job's checkpoint.
func (c *CheckpointStore) Clear(ctx context.Context, jobID string) error {
	return c.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&checkpointRecord{}).Error
}

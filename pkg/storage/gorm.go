package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/crewrun/pkg/core"
)

// GormStorage persists job records using GORM.
type GormStorage struct {
	db *gorm.DB
}

var _ core.JobStore = (*GormStorage)(nil)

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying connection.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &checkpointRecord{})
}

// SaveJob inserts the job or overwrites the stored row with the same id.
func (s *GormStorage) SaveJob(ctx context.Context, job *core.Job) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(job).Error
}

// LoadJobs returns every stored job, oldest first.
func (s *GormStorage) LoadJobs(ctx context.Context) ([]*core.Job, error) {
	var jobs []*core.Job
	err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// DeleteJobs removes jobs and their checkpoints.
func (s *GormStorage) DeleteJobs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id IN ?", ids).Delete(&checkpointRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&core.Job{}).Error
	})
}

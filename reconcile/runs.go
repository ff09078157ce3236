package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/poweredbydonation/pbd_backend/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("reconcile run not found")

// RunStore keeps the reconcile_runs / reconcile_errors history.
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) Start(ctx context.Context, trigger string, at time.Time) (*models.ReconcileRun, error) {
	run := &models.ReconcileRun{
		Status:      models.ReconcileRunStatusRunning,
		TriggeredBy: trigger,
		StartedAt:   &at,
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (s *RunStore) Finish(ctx context.Context, run *models.ReconcileRun, status string, sum Summary, at time.Time) error {
	stats, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = at.Sub(*run.StartedAt).Milliseconds()
	}
	run.Status = status
	run.Checked = sum.Checked
	run.Succeeded = sum.Succeeded
	run.Reviewed = sum.Reviewed
	run.TimedOut = sum.TimedOut
	run.Skipped = sum.Skipped
	run.Unchanged = sum.Unchanged
	run.ErrorCount = sum.Errors
	run.StatsJSON = datatypes.JSON(stats)
	run.FinishedAt = &at
	run.DurationMs = durationMs
	return s.db.WithContext(ctx).Model(&models.ReconcileRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":      run.Status,
			"checked":     run.Checked,
			"succeeded":   run.Succeeded,
			"reviewed":    run.Reviewed,
			"timed_out":   run.TimedOut,
			"skipped":     run.Skipped,
			"unchanged":   run.Unchanged,
			"error_count": run.ErrorCount,
			"stats_json":  run.StatsJSON,
			"finished_at": at,
			"duration_ms": durationMs,
		}).Error
}

func (s *RunStore) RecordError(ctx context.Context, e *models.ReconcileError) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *RunStore) List(ctx context.Context, limit int) ([]models.ReconcileRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []models.ReconcileRun
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

func (s *RunStore) Get(ctx context.Context, id uint) (*models.ReconcileRun, []models.ReconcileError, error) {
	var run models.ReconcileRun
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrRunNotFound
		}
		return nil, nil, err
	}
	var errs []models.ReconcileError
	if err := s.db.WithContext(ctx).Where("run_id = ?", id).Order("id ASC").Find(&errs).Error; err != nil {
		return nil, nil, err
	}
	return &run, errs, nil
}

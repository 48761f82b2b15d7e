package workflow

import (
	"context"
	"errors"
	"time"

	"discuno-payments/internal/domain/workflows"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists runs and the step log.
type Store interface {
	GetRun(ctx context.Context, workflowID string) (*workflows.WorkflowRun, error)
	CreateRun(ctx context.Context, run *workflows.WorkflowRun) error
	AcquireLease(ctx context.Context, workflowID, owner string, until, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, workflowID, owner, lastError string) error
	FinishRun(ctx context.Context, workflowID, owner, status string, output []byte, lastError string, now time.Time) error
	CancelRun(ctx context.Context, workflowID string, now time.Time) (bool, error)
	ListRuns(ctx context.Context, status string, limit int) ([]workflows.WorkflowRun, error)

	GetStep(ctx context.Context, workflowID, stepName string) (*workflows.WorkflowStep, error)
	SaveStep(ctx context.Context, step *workflows.WorkflowStep) error
	ListSteps(ctx context.Context, workflowID string) ([]workflows.WorkflowStep, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetRun(ctx context.Context, workflowID string) (*workflows.WorkflowRun, error) {
	var run workflows.WorkflowRun
	err := s.db.WithContext(ctx).First(&run, "workflow_id = ?", workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// CreateRun inserts the run unless a row with the same workflow id already exists.
func (s *GormStore) CreateRun(ctx context.Context, run *workflows.WorkflowRun) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(run).Error
}

func (s *GormStore) AcquireLease(ctx context.Context, workflowID, owner string, until, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&workflows.WorkflowRun{}).
		Where("workflow_id = ? AND status = ?", workflowID, workflows.RunRunning).
		Where("(lease_until IS NULL OR lease_until < ?)", now).
		Updates(map[string]interface{}{
			"lease_owner": owner,
			"lease_until": until,
			"attempts":    gorm.Expr("attempts + ?", 1),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ReleaseLease(ctx context.Context, workflowID, owner, lastError string) error {
	return s.db.WithContext(ctx).Model(&workflows.WorkflowRun{}).
		Where("workflow_id = ? AND lease_owner = ?", workflowID, owner).
		Updates(map[string]interface{}{
			"lease_owner": nil,
			"lease_until": nil,
			"error":       lastError,
		}).Error
}

func (s *GormStore) FinishRun(ctx context.Context, workflowID, owner, status string, output []byte, lastError string, now time.Time) error {
	updates := map[string]interface{}{
		"status":      status,
		"error":       lastError,
		"lease_owner": nil,
		"lease_until": nil,
		"finished_at": now,
	}
	if output != nil {
		updates["output"] = datatypes.JSON(output)
	}
	return s.db.WithContext(ctx).Model(&workflows.WorkflowRun{}).
		Where("workflow_id = ? AND lease_owner = ?", workflowID, owner).
		Updates(updates).Error
}

// CancelRun flips a RUNNING run to CANCELLED. Finished runs are left untouched.
func (s *GormStore) CancelRun(ctx context.Context, workflowID string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&workflows.WorkflowRun{}).
		Where("workflow_id = ? AND status = ?", workflowID, workflows.RunRunning).
		Updates(map[string]interface{}{
			"status":      workflows.RunCancelled,
			"finished_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ListRuns(ctx context.Context, status string, limit int) ([]workflows.WorkflowRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&workflows.WorkflowRun{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var runs []workflows.WorkflowRun
	if err := q.Order("updated_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// GetStep returns nil without error when the step has not been recorded yet.
func (s *GormStore) GetStep(ctx context.Context, workflowID, stepName string) (*workflows.WorkflowStep, error) {
	var step workflows.WorkflowStep
	err := s.db.WithContext(ctx).
		Where("workflow_id = ? AND step_name = ?", workflowID, stepName).
		Take(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// SaveStep writes the checkpoint once; a second writer for the same step is ignored.
func (s *GormStore) SaveStep(ctx context.Context, step *workflows.WorkflowStep) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workflow_id"}, {Name: "step_name"}},
			DoNothing: true,
		}).
		Create(step).Error
}

func (s *GormStore) ListSteps(ctx context.Context, workflowID string) ([]workflows.WorkflowStep, error) {
	var steps []workflows.WorkflowStep
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("id ASC").
		Find(&steps).Error
	return steps, err
}

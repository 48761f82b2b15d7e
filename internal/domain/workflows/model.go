package workflows

import (
	"time"

	"gorm.io/datatypes"
)

// Run status.
const (
	RunRunning   = "RUNNING"
	RunCompleted = "COMPLETED"
	RunFailed    = "FAILED"
	RunCancelled = "CANCELLED"
	RunStuck     = "STUCK"
)

// Step status.
const (
	StepCompleted = "COMPLETED"
	StepFailed    = "FAILED"
)

// WorkflowRun is one workflow instance, keyed by the id of the event that started it.
type WorkflowRun struct {
	WorkflowID string         `gorm:"column:workflow_id;primaryKey;type:varchar(255)" json:"workflow_id"`
	Name       string         `gorm:"column:name;type:varchar(100);index" json:"name"`
	Status     string         `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	Input      datatypes.JSON `gorm:"column:input" json:"input,omitempty"`
	Output     datatypes.JSON `gorm:"column:output" json:"output,omitempty"`
	Error      string         `gorm:"column:error" json:"error,omitempty"`
	Attempts   int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LeaseOwner *string        `gorm:"column:lease_owner" json:"-"`
	LeaseUntil *time.Time     `gorm:"column:lease_until" json:"-"`
	FinishedAt *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// WorkflowStep is the checkpoint of one named step. A row is only written once the step
// has finished, so its presence means "do not run this side effect again".
type WorkflowStep struct {
	ID          uint           `gorm:"primaryKey" json:"-"`
	WorkflowID  string         `gorm:"column:workflow_id;type:varchar(255);not null;uniqueIndex:idx_workflow_steps_run_step" json:"workflow_id"`
	StepName    string         `gorm:"column:step_name;type:varchar(100);not null;uniqueIndex:idx_workflow_steps_run_step" json:"step_name"`
	Status      string         `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Result      datatypes.JSON `gorm:"column:result" json:"result,omitempty"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	CompletedAt time.Time      `gorm:"column:completed_at" json:"completed_at"`
}

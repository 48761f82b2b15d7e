package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"discuno-payments/internal/domain/billing"
	"discuno-payments/internal/domain/workflows"
	"discuno-payments/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type Payments interface {
	List(ctx context.Context, status string, limit int) ([]billing.Payment, error)
	CountByStatus(ctx context.Context) ([]billing.StatusCount, error)
}

type Workflows interface {
	Runs(ctx context.Context, status string, limit int) ([]workflows.WorkflowRun, error)
	Inspect(ctx context.Context, workflowID string) (*workflows.WorkflowRun, []workflows.WorkflowStep, error)
	Cancel(ctx context.Context, workflowID string) (bool, error)
}

type Handler struct {
	payments  Payments
	workflows Workflows
}

func NewHandler(payments Payments, wf Workflows) *Handler {
	return &Handler{payments: payments, workflows: wf}
}

type AdminPayment struct {
	ID                 uint            `json:"id"`
	SessionID          string          `json:"session_id"`
	PaymentIntentID    *string         `json:"payment_intent_id,omitempty"`
	CustomerEmail      string          `json:"customer_email"`
	MentorAccount      string          `json:"mentor_account"`
	Amount             decimal.Decimal `json:"amount"`
	MentorAmount       decimal.Decimal `json:"mentor_amount"`
	Currency           string          `json:"currency"`
	Status             string          `json:"status"`
	TransferStatus     string          `json:"transfer_status"`
	TransferRetryCount int             `json:"transfer_retry_count"`
	Disputed           bool            `json:"disputed"`
	CreatedAt          string          `json:"created_at"`
}

type AdminStats struct {
	TotalPayments int64                 `json:"total_payments"`
	ByStatus      []billing.StatusCount `json:"by_status"`
}

func (h *Handler) ListPayments(c *gin.Context) {
	payments, err := h.payments.List(c.Request.Context(), c.Query("status"), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payments"})
		return
	}

	result := make([]AdminPayment, 0, len(payments))
	for _, p := range payments {
		result = append(result, AdminPayment{
			ID:                 p.ID,
			SessionID:          p.StripeSessionID,
			PaymentIntentID:    p.StripePaymentIntentID,
			CustomerEmail:      p.CustomerEmail,
			MentorAccount:      p.MentorStripeAccountID,
			Amount:             billing.MajorUnits(p.Amount, p.Currency),
			MentorAmount:       billing.MajorUnits(p.MentorAmount, p.Currency),
			Currency:           p.Currency,
			Status:             p.PlatformStatus,
			TransferStatus:     p.TransferStatus,
			TransferRetryCount: p.TransferRetryCount,
			Disputed:           p.DisputeRequested,
			CreatedAt:          p.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Stats(c *gin.Context) {
	counts, err := h.payments.CountByStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
		return
	}
	stats := AdminStats{ByStatus: counts}
	for _, sc := range counts {
		stats.TotalPayments += sc.Count
	}
	c.JSON(http.StatusOK, stats)
}

// ListWorkflows is the failure dashboard: ?status=FAILED or ?status=STUCK narrows it down.
func (h *Handler) ListWorkflows(c *gin.Context) {
	runs, err := h.workflows.Runs(c.Request.Context(), c.Query("status"), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load workflows"})
		return
	}
	if runs == nil {
		runs = []workflows.WorkflowRun{}
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) GetWorkflow(c *gin.Context) {
	run, steps, err := h.workflows.Inspect(c.Request.Context(), c.Param("id"))
	if errors.Is(err, workflow.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load workflow"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run":   run,
		"steps": steps,
	})
}

func (h *Handler) CancelWorkflow(c *gin.Context) {
	cancelled, err := h.workflows.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel workflow"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		return 100
	}
	return n
}

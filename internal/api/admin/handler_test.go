package admin_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"discuno-payments/internal/api/admin"
	"discuno-payments/internal/domain/billing"
	"discuno-payments/internal/domain/workflows"
	"discuno-payments/internal/testutil"
	"discuno-payments/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router   *gin.Engine
	payments *billing.Store
	engine   *workflow.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupSQLiteDB(t)
	payments := billing.NewStore(db)
	engine := workflow.NewEngine(workflow.NewGormStore(db), testutil.Logger())
	h := admin.NewHandler(payments, engine)

	r := testutil.SetupTestRouter()
	r.GET("/admin/stats", h.Stats)
	r.GET("/admin/payments", h.ListPayments)
	r.GET("/admin/workflows", h.ListWorkflows)
	r.GET("/admin/workflows/:id", h.GetWorkflow)
	r.POST("/admin/workflows/:id/cancel", h.CancelWorkflow)
	return &fixture{router: r, payments: payments, engine: engine}
}

func (f *fixture) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func (f *fixture) seedPayment(t *testing.T, session, status string, amount int64) {
	t.Helper()
	require.NoError(t, f.payments.Create(context.Background(), &billing.Payment{
		StripeSessionID: session,
		Amount:          amount,
		MentorAmount:    amount * 3 / 4,
		Currency:        "usd",
		PlatformStatus:  status,
	}))
}

func TestListPayments_FiltersByStatus(t *testing.T) {
	f := newFixture(t)
	f.seedPayment(t, "cs_1", billing.StatusSucceeded, 6000)
	f.seedPayment(t, "cs_2", billing.StatusFailed, 4000)

	w := f.do(http.MethodGet, "/admin/payments?status=FAILED")

	require.Equal(t, http.StatusOK, w.Code)
	var got []admin.AdminPayment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "cs_2", got[0].SessionID)
	assert.Equal(t, "40", got[0].Amount.String())
	assert.Equal(t, "30", got[0].MentorAmount.String())
}

func TestStats_GroupsByStatus(t *testing.T) {
	f := newFixture(t)
	f.seedPayment(t, "cs_1", billing.StatusSucceeded, 6000)
	f.seedPayment(t, "cs_2", billing.StatusSucceeded, 1000)
	f.seedPayment(t, "cs_3", billing.StatusFailed, 4000)

	w := f.do(http.MethodGet, "/admin/stats")

	require.Equal(t, http.StatusOK, w.Code)
	var got admin.AdminStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(3), got.TotalPayments)
	assert.Equal(t, []billing.StatusCount{
		{Status: billing.StatusFailed, Count: 1, Amount: 4000},
		{Status: billing.StatusSucceeded, Count: 2, Amount: 7000},
	}, got.ByStatus)
}

func runWorkflow(t *testing.T, e *workflow.Engine, id string, fail bool) {
	t.Helper()
	_, _ = workflow.Execute(context.Background(), e, "test", id, nil, func(ctx context.Context, run *workflow.Run) (string, error) {
		out, err := workflow.Step(ctx, run, "first", func(ctx context.Context) (string, error) { return "ok", nil })
		if err != nil {
			return "", err
		}
		if fail {
			return "", workflow.NonRetriable(assert.AnError)
		}
		return out, nil
	})
}

func TestWorkflows_ListAndInspect(t *testing.T) {
	f := newFixture(t)
	runWorkflow(t, f.engine, "cs_ok", false)
	runWorkflow(t, f.engine, "cs_bad", true)

	w := f.do(http.MethodGet, "/admin/workflows?status=FAILED")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []workflows.WorkflowRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "cs_bad", runs[0].WorkflowID)

	w = f.do(http.MethodGet, "/admin/workflows/cs_ok")
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Run   workflows.WorkflowRun    `json:"run"`
		Steps []workflows.WorkflowStep `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, workflows.RunCompleted, detail.Run.Status)
	require.Len(t, detail.Steps, 1)
	assert.Equal(t, "first", detail.Steps[0].StepName)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/admin/workflows/cs_missing").Code)
}

func TestCancelWorkflow_OnlyAffectsRunning(t *testing.T) {
	f := newFixture(t)
	runWorkflow(t, f.engine, "cs_done", false)

	w := f.do(http.MethodPost, "/admin/workflows/cs_done/cancel")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cancelled":false}`, w.Body.String())

	w = f.do(http.MethodPost, "/admin/workflows/cs_missing/cancel")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cancelled":false}`, w.Body.String())
}

package cron

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"discuno-payments/internal/payouts"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type TransferRunner interface {
	Run(ctx context.Context, now time.Time) (payouts.Summary, error)
}

// Handler exposes the transfer job to an external scheduler.
type Handler struct {
	secret string
	job    TransferRunner
	now    func() time.Time
	log    *logrus.Entry
}

func NewHandler(secret string, job TransferRunner, log *logrus.Entry) *Handler {
	return &Handler{
		secret: secret,
		job:    job,
		now:    time.Now,
		log:    log.WithField("component", "cron_api"),
	}
}

// Transfers runs one reconciliation pass. Requires "Authorization: Bearer <CRON_SECRET>".
func (h *Handler) Transfers(c *gin.Context) {
	if h.secret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "CRON_SECRET not configured"})
		return
	}
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth || subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	summary, err := h.job.Run(c.Request.Context(), h.now())
	if err != nil {
		h.log.WithError(err).Error("transfer run failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":   false,
			"error":     "Failed to process transfers",
			"timestamp": summary.Timestamp,
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}

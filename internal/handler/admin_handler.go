package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailwarm/internal/ledger"
	"mailwarm/internal/model"
	"mailwarm/internal/scheduler"
)

// AdminHandler exposes the operator triggers: toggle an account, force a
// global sweep, inspect a daily summary. The product API and dashboard
// live elsewhere; this surface exists for operations only.
type AdminHandler struct {
	orch   *scheduler.Orchestrator
	ledger *ledger.Ledger
	logger *zap.Logger
}

func NewAdminHandler(orch *scheduler.Orchestrator, ldg *ledger.Ledger, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{orch: orch, ledger: ldg, logger: logger}
}

// ActivateAccount POST /accounts/:email/activate
func (h *AdminHandler) ActivateAccount(c *gin.Context) {
	email := c.Param("email")

	warning, err := h.orch.ActivateAccount(c.Request.Context(), email)
	if err != nil {
		h.logger.Error("Activation failed", zap.String("account", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"email": email, "status": model.StatusActive}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusOK, resp)
}

// PauseAccount POST /accounts/:email/pause
func (h *AdminHandler) PauseAccount(c *gin.Context) {
	email := c.Param("email")

	if err := h.orch.PauseAccount(c.Request.Context(), email); err != nil {
		h.logger.Error("Pause failed", zap.String("account", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"email": email, "status": model.StatusPaused})
}

// TriggerGlobalCycle POST /scheduler/run
func (h *AdminHandler) TriggerGlobalCycle(c *gin.Context) {
	if err := h.orch.RunGlobalCycle(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggered": true, "armed_jobs": h.orch.ArmedJobs()})
}

// GetVolume GET /accounts/:email/volume?role=warmup|pool
func (h *AdminHandler) GetVolume(c *gin.Context) {
	email := c.Param("email")
	role := model.Role(c.DefaultQuery("role", string(model.RoleWarmup)))

	summary, err := h.ledger.DailySummary(c.Request.Context(), email, role)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":         email,
		"role":          role,
		"sent_today":    summary.SentToday,
		"cap":           summary.Cap,
		"remaining":     summary.Remaining,
		"can_send_more": summary.CanSendMore,
	})
}

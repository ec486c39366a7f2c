package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	contracts "mailwarm/contracts/mq"
	"mailwarm/internal/model"
	"mailwarm/internal/scheduler"
	"mailwarm/pkg/trace"
)

// AccountStatusHandler reacts to the platform API toggling an account.
// active -> incremental scheduling; paused -> cancellation of the
// account's pending jobs.
type AccountStatusHandler struct {
	orch   *scheduler.Orchestrator
	logger *zap.Logger
}

func NewAccountStatusHandler(orch *scheduler.Orchestrator, logger *zap.Logger) *AccountStatusHandler {
	return &AccountStatusHandler{orch: orch, logger: logger}
}

func (h *AccountStatusHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p contracts.AccountStatusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal account status payload", zap.Error(err))
		return err
	}
	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}

	h.logger.Info("Processing account status change",
		zap.String("account", p.Email),
		zap.String("status", p.Status),
	)

	switch p.Status {
	case model.StatusActive:
		warning, err := h.orch.ActivateAccount(ctx, p.Email)
		if err != nil {
			return err
		}
		if warning != "" {
			h.logger.Warn("Account activated with warning",
				zap.String("account", p.Email),
				zap.String("warning", warning),
			)
		}
		return nil
	case model.StatusPaused:
		return h.orch.PauseAccount(ctx, p.Email)
	default:
		h.logger.Warn("Ignoring unknown account status",
			zap.String("account", p.Email),
			zap.String("status", p.Status),
		)
		return fmt.Errorf("unknown account status %q", p.Status)
	}
}

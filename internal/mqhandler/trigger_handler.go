package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	contracts "mailwarm/contracts/mq"
	"mailwarm/internal/scheduler"
)

// TriggerHandler runs an immediate global sweep on operator request.
type TriggerHandler struct {
	orch   *scheduler.Orchestrator
	logger *zap.Logger
}

func NewTriggerHandler(orch *scheduler.Orchestrator, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{orch: orch, logger: logger}
}

func (h *TriggerHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p contracts.TriggerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal trigger payload", zap.Error(err))
		return err
	}

	h.logger.Info("Manual global scheduling trigger received",
		zap.String("reason", p.Reason),
	)

	// an already-running cycle makes this a no-op
	return h.orch.RunGlobalCycle(ctx)
}

package scheduler

import (
	"context"

	"go.uber.org/zap"

	contracts "mailwarm/contracts/mq"
	"mailwarm/internal/model"
	"mailwarm/pkg/circuitbreaker"
	"mailwarm/pkg/metrics"
	"mailwarm/pkg/mq"
	"mailwarm/pkg/trace"
)

// DispatchPublisher is the outbound edge to the dispatch queue. The broker
// is at-least-once and consumed by an external delivery worker; this core
// never reads from it.
type DispatchPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Dispatcher wraps the queue publisher with a circuit breaker so a dead
// broker makes armed jobs fail fast instead of each stalling on a connect
// timeout. An open breaker counts as a publish failure: the caller reverses
// its ledger reservation like any other failed publish.
type Dispatcher struct {
	pub     DispatchPublisher
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewDispatcher(pub DispatchPublisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		pub:     pub,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
}

// PublishJob hands one fired job to the delivery worker.
func (d *Dispatcher) PublishJob(ctx context.Context, job model.EmailJob) error {
	payload := contracts.WarmupSendPayload{
		Sender:       job.Sender,
		Receiver:     job.Receiver,
		Direction:    string(job.Direction),
		AccountEmail: job.AccountEmail,
		TraceID:      trace.FromContext(ctx),
	}

	err := d.breaker.Execute(func() error {
		return d.pub.Publish(ctx, mq.RoutingKeyWarmupSend, payload)
	})
	if err != nil {
		metrics.DispatchPublishFailures.Inc()
	}
	return err
}

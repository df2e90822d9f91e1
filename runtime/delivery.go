package runtime

import (
	"context"
	"log/slog"
	"time"

	"negotiation-hub/contract"
	"negotiation-hub/domain/event"
	"negotiation-hub/observability"
)

// DeliveryEngine pushes deliverables to whichever connection currently represents
// their recipient. Absence of the recipient is an outcome, not an error.
type DeliveryEngine struct {
	registry   contract.IRegistry
	recorder   contract.IDeliveryRecorder
	metrics    *observability.Metrics
	log        *slog.Logger
	ackTimeout time.Duration
}

func NewDeliveryEngine(
	registry contract.IRegistry,
	recorder contract.IDeliveryRecorder,
	metrics *observability.Metrics,
	log *slog.Logger,
	ackTimeout time.Duration,
) *DeliveryEngine {
	return &DeliveryEngine{
		registry:   registry,
		recorder:   recorder,
		metrics:    metrics,
		log:        log,
		ackTimeout: ackTimeout,
	}
}

func (e *DeliveryEngine) Deliver(ctx context.Context, d event.Deliverable) contract.DeliveryResult {
	negotiation, persisted := d.(event.NegotiationDelivery)

	record, ok := e.registry.Lookup(d.Recipient(), d.RecipientRoles()...)
	if !ok {
		if persisted {
			e.count(d, observability.OutcomeQueued)
			e.log.Debug("Recipient offline, message left in outbox",
				"participant_id", d.Recipient(), "message_id", negotiation.Message.ID)
			return contract.DeliveryResult{Queued: true}
		}
		e.count(d, observability.OutcomeOffline)
		return contract.DeliveryResult{}
	}

	frame := d.Frame()
	pushedAt := time.Now()
	acked, err := record.Handle.Push(ctx, frame)
	if err != nil {
		e.count(d, observability.OutcomeFailed)
		e.log.Warn("Push failed", "participant_id", d.Recipient(), "kind", d.Kind(), "error", err)
		return contract.DeliveryResult{Err: err}
	}

	if persisted {
		// The message reached the transport; a failed stamp leaves it in the outbox
		// and only causes a duplicate on the next replay.
		if err = e.recorder.MarkDelivered(negotiation.Message.ID, pushedAt.UTC()); err != nil {
			e.log.Error("Unable to record delivery", "message_id", negotiation.Message.ID, "error", err)
		}
	}

	result := contract.DeliveryResult{Delivered: true}
	if acked != nil && e.ackTimeout > 0 && !negotiation.Replay {
		result.Acknowledged = e.waitAck(ctx, acked, frame.ID, pushedAt)
	}

	outcome := observability.OutcomeDelivered
	if result.Acknowledged {
		outcome = observability.OutcomeAcknowledged
	}
	e.count(d, outcome)
	return result
}

func (e *DeliveryEngine) waitAck(ctx context.Context, acked <-chan struct{}, frameID string, pushedAt time.Time) bool {
	timer := time.NewTimer(e.ackTimeout)
	defer timer.Stop()

	select {
	case <-acked:
		e.metrics.AckLatency.Observe(time.Since(pushedAt).Seconds())
		return true
	case <-timer.C:
		e.log.Debug("No acknowledgement before timeout", "frame_id", frameID, "timeout", e.ackTimeout)
	case <-ctx.Done():
	}
	return false
}

func (e *DeliveryEngine) count(d event.Deliverable, outcome string) {
	e.metrics.Deliveries.WithLabelValues(d.Kind(), outcome).Inc()
}

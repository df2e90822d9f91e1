package workers

import (
	"context"
	"log/slog"

	"negotiation-hub/contract"
	"negotiation-hub/domain"
	"negotiation-hub/domain/event"
)

var _ contract.Worker = (*OutboxReplay)(nil)

// Outbox lists the messages still waiting for their receiver.
type Outbox interface {
	PendingDeliveries(receiverID string, limit int) ([]domain.Message, error)
}

// OutboxReplay pushes the messages a participant missed while offline.
// Registrations enqueue the participant id; the worker drains its outbox oldest first.
type OutboxReplay struct {
	outbox   Outbox
	engine   contract.IDeliveryEngine
	log      *slog.Logger
	requests chan string
	batch    int
}

func NewOutboxReplay(outbox Outbox, engine contract.IDeliveryEngine, log *slog.Logger, bufferSize, batch int) *OutboxReplay {
	return &OutboxReplay{
		outbox:   outbox,
		engine:   engine,
		log:      log,
		requests: make(chan string, bufferSize),
		batch:    batch,
	}
}

// Enqueue asks for a replay without blocking the caller. When the queue is full the
// request is dropped; the messages stay in the outbox for the next registration.
func (w *OutboxReplay) Enqueue(participantID string) {
	select {
	case w.requests <- participantID:
	default:
		w.log.Warn("Outbox replay queue full, skipping", "participant_id", participantID)
	}
}

func (w *OutboxReplay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping outbox replay")
			return nil
		case participantID := <-w.requests:
			w.Replay(ctx, participantID)
		}
	}
}

// Replay delivers the pending messages of one participant and returns how many reached it.
// It stops at the first message that could not be pushed.
func (w *OutboxReplay) Replay(ctx context.Context, participantID string) int {
	pending, err := w.outbox.PendingDeliveries(participantID, w.batch)
	if err != nil {
		w.log.Error("Unable to read outbox", "participant_id", participantID, "error", err)
		return 0
	}

	delivered := 0
	for _, message := range pending {
		if ctx.Err() != nil {
			break
		}
		result := w.engine.Deliver(ctx, event.NegotiationDelivery{Message: message, Replay: true})
		if !result.Delivered {
			w.log.Debug("Replay interrupted", "participant_id", participantID, "message_id", message.ID, "error", result.Err)
			break
		}
		delivered++
	}
	if len(pending) > 0 {
		w.log.Info("Outbox replayed", "participant_id", participantID, "pending", len(pending), "delivered", delivered)
	}
	return delivered
}

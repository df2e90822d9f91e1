package workers

import (
	"context"
	"log/slog"
	"time"

	"negotiation-hub/contract"
	"negotiation-hub/domain"

	"github.com/google/uuid"
)

var _ contract.Worker = (*ConversationExpiry)(nil)

type ExpiryStore interface {
	ConversationsByStatus(status domain.ConversationStatus) ([]domain.Conversation, error)
	UpdateConversation(id string, mutate func(*domain.Conversation) error) (domain.Conversation, error)
	History(a, b string, correlationID *string) ([]domain.Message, error)
	SetMessageStatus(id uuid.UUID, status domain.MessageStatus) (domain.Message, error)
}

// ConversationExpiry closes active conversations that went quiet for longer than ttl.
// Their open proposals are marked expired.
type ConversationExpiry struct {
	store    ExpiryStore
	log      *slog.Logger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewConversationExpiry(store ExpiryStore, log *slog.Logger, ttl, interval time.Duration) *ConversationExpiry {
	return &ConversationExpiry{store: store, log: log, ttl: ttl, interval: interval, now: time.Now}
}

func (w *ConversationExpiry) Run(ctx context.Context) error {
	if w.ttl <= 0 {
		w.log.Info("Conversation expiry disabled")
		return nil
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping conversation expiry")
			return nil
		case <-ticker.C:
			if _, err := w.Sweep(); err != nil {
				return err
			}
		}
	}
}

// Sweep expires every stale conversation once and returns how many were closed.
func (w *ConversationExpiry) Sweep() (int, error) {
	active, err := w.store.ConversationsByStatus(domain.ConversationActive)
	if err != nil {
		return 0, err
	}
	deadline := w.now().Add(-w.ttl)

	expired := 0
	for _, c := range active {
		if !c.LastMessageAt.Before(deadline) {
			continue
		}
		// The store may run mutate more than once; only the attempt that committed counts.
		changed := false
		updated, err := w.store.UpdateConversation(c.ID, func(conversation *domain.Conversation) error {
			changed = false
			// A message may have landed since the scan.
			if conversation.Status != domain.ConversationActive || !conversation.LastMessageAt.Before(deadline) {
				return nil
			}
			conversation.Status = domain.ConversationExpired
			changed = true
			return nil
		})
		if err != nil {
			w.log.Error("Unable to expire conversation", "conversation_id", c.ID, "error", err)
			continue
		}
		if !changed || updated.Status != domain.ConversationExpired {
			continue
		}
		expired++
		w.expireProposals(c)
	}
	if expired > 0 {
		w.log.Info("Conversations expired", "count", expired, "ttl", w.ttl)
	}
	return expired, nil
}

func (w *ConversationExpiry) expireProposals(c domain.Conversation) {
	messages, err := w.store.History(c.RequesterID, c.WorkerID, &c.CorrelationID)
	if err != nil {
		w.log.Error("Unable to load conversation messages", "conversation_id", c.ID, "error", err)
		return
	}
	for _, m := range messages {
		if m.Status != domain.MessagePending && m.Status != domain.MessageCounter {
			continue
		}
		if _, err = w.store.SetMessageStatus(m.ID, domain.MessageExpired); err != nil {
			w.log.Error("Unable to expire message", "message_id", m.ID, "error", err)
		}
	}
}

package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"negotiation-hub/domain"
	"negotiation-hub/infrastructure/storage"

	"github.com/stretchr/testify/require"
)

func TestConversationExpiry_Sweep(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	now := time.Now().UTC()

	// Given one stale and one recent conversation
	stale := storeMessage(t, repository, "job-old", now.Add(-2*time.Hour))
	storeMessage(t, repository, "job-new", now.Add(-time.Minute))

	expiry := NewConversationExpiry(repository, slog.Default(), time.Hour, time.Minute)
	expiry.now = func() time.Time { return now }

	// When sweeping
	count, err := expiry.Sweep()

	// Then only the stale one is expired, with its open proposal
	req.NoError(err)
	req.Equal(1, count)

	expired, err := repository.ConversationsByStatus(domain.ConversationExpired)
	req.NoError(err)
	req.Len(expired, 1)
	req.Equal("job-old", expired[0].CorrelationID)

	message, err := repository.GetMessage(stale.ID)
	req.NoError(err)
	req.Equal(domain.MessageExpired, message.Status)

	// And a second sweep has nothing left to do
	count, err = expiry.Sweep()
	req.NoError(err)
	req.Zero(count)
}

func TestConversationExpiry_DisabledWithoutTTL(t *testing.T) {
	expiry := NewConversationExpiry(openRepository(t), slog.Default(), 0, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, expiry.Run(ctx))
	require.NoError(t, ctx.Err())
}

// conflictingStore runs one mutate attempt against the scanned snapshot before the real
// update, the way a badger conflict retry would, with a message landing in between.
type conflictingStore struct {
	ExpiryStore
	between func()
}

func (s *conflictingStore) UpdateConversation(id string, mutate func(*domain.Conversation) error) (domain.Conversation, error) {
	stale, err := s.ExpiryStore.(*storage.NegotiationRepository).GetConversation(id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if err = mutate(&stale); err != nil {
		return domain.Conversation{}, err
	}
	s.between()
	return s.ExpiryStore.UpdateConversation(id, mutate)
}

func TestConversationExpiry_Sweep_RetriedAttemptDecides(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	now := time.Now().UTC()
	old := storeMessage(t, repository, "job-old", now.Add(-2*time.Hour))

	store := &conflictingStore{ExpiryStore: repository, between: func() {
		storeMessage(t, repository, "job-old", now)
	}}
	expiry := NewConversationExpiry(store, slog.Default(), time.Hour, time.Minute)
	expiry.now = func() time.Time { return now }

	// When the committed attempt sees the fresh message
	count, err := expiry.Sweep()

	// Then nothing is expired
	req.NoError(err)
	req.Zero(count)
	active, err := repository.ConversationsByStatus(domain.ConversationActive)
	req.NoError(err)
	req.Len(active, 1)
	message, err := repository.GetMessage(old.ID)
	req.NoError(err)
	req.Equal(domain.MessagePending, message.Status)
}

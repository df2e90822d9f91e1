package storage

import (
	"log/slog"
	"testing"
	"time"

	"negotiation-hub/domain"
	"negotiation-hub/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openRepository(t *testing.T) *NegotiationRepository {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewNegotiationRepository(db, slog.Default())
}

func newMessage(sender, receiver string, role domain.Role, correlationID string, wage float64, at time.Time) domain.Message {
	return domain.Message{
		ID:            uuid.New(),
		SenderID:      sender,
		ReceiverID:    receiver,
		CorrelationID: correlationID,
		Body:          "offer",
		SenderRole:    role,
		ProposedWage:  wage,
		Status:        domain.MessagePending,
		CreatedAt:     at,
	}
}

func TestNegotiationRepository_AppendMessage_CreatesConversationOnce(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	at := time.Now().UTC()

	// Given three messages on the same pair and correlation id
	_, first, err := repository.AppendMessage(newMessage("A", "B", domain.RoleRequester, "job-1", 500, at), "fix sink")
	req.NoError(err)
	_, second, err := repository.AppendMessage(newMessage("B", "A", domain.RoleWorker, "job-1", 600, at.Add(time.Second)), "")
	req.NoError(err)
	_, third, err := repository.AppendMessage(newMessage("A", "B", domain.RoleRequester, "job-1", 550, at.Add(2*time.Second)), "")
	req.NoError(err)

	// Then a single conversation counts them all
	req.Equal(first.ID, second.ID)
	req.Equal(first.ID, third.ID)
	req.Equal(3, third.MessageCount)
	req.Equal("A", third.RequesterID)
	req.Equal("B", third.WorkerID)
	req.Equal(500.0, third.InitialWage)
	req.Equal("fix sink", third.Description)
	req.True(third.LastMessageAt.Equal(at.Add(2 * time.Second)))

	stored, err := repository.GetConversation(first.ID)
	req.NoError(err)
	req.Equal(3, stored.MessageCount)
	req.Equal(domain.ConversationActive, stored.Status)
}

func TestNegotiationRepository_AppendMessage_SeparatesCorrelationIDs(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	at := time.Now().UTC()

	_, first, err := repository.AppendMessage(newMessage("A", "B", domain.RoleRequester, "job-1", 500, at), "")
	req.NoError(err)
	_, second, err := repository.AppendMessage(newMessage("A", "B", domain.RoleRequester, "job-2", 500, at), "")
	req.NoError(err)
	_, third, err := repository.AppendMessage(newMessage("A", "C", domain.RoleRequester, "job-1", 500, at), "")
	req.NoError(err)

	req.NotEqual(first.ID, second.ID)
	req.NotEqual(first.ID, third.ID)

	conversations, err := repository.ConversationsByCorrelation("job-1")
	req.NoError(err)
	req.Len(conversations, 2)
}

func TestNegotiationRepository_AppendMessage_RejectsClosedConversation(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	at := time.Now().UTC()

	_, conversation, err := repository.AppendMessage(newMessage("A", "B", domain.RoleRequester, "job-1", 500, at), "")
	req.NoError(err)
	_, err = repository.UpdateConversation(conversation.ID, func(c *domain.Conversation) error {
		c.Status = domain.ConversationCompleted
		return nil
	})
	req.NoError(err)

	_, _, err = repository.AppendMessage(newMessage("B", "A", domain.RoleWorker, "job-1", 600, at), "")
	req.ErrorIs(err, errors.ErrConversationClosed)
}

func TestNegotiationRepository_History_OrderedAndFiltered(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	at := time.Now().UTC()

	// Given messages inserted out of chronological order
	late := newMessage("A", "B", domain.RoleRequester, "job-1", 550, at.Add(2*time.Minute))
	early := newMessage("B", "A", domain.RoleWorker, "job-1", 600, at)
	other := newMessage("A", "B", domain.RoleRequester, "job-2", 100, at.Add(time.Minute))
	for _, m := range []domain.Message{late, early, other} {
		_, _, err := repository.AppendMessage(m, "")
		req.NoError(err)
	}

	// When reading the whole pair from either side
	all, err := repository.History("B", "A", nil)
	req.NoError(err)

	// Then messages come oldest first
	req.Len(all, 3)
	req.Equal(early.ID, all[0].ID)
	req.Equal(other.ID, all[1].ID)
	req.Equal(late.ID, all[2].ID)

	correlationID := "job-1"
	filtered, err := repository.History("A", "B", &correlationID)
	req.NoError(err)
	req.Len(filtered, 2)
	req.Equal(early.ID, filtered[0].ID)
	req.Equal(late.ID, filtered[1].ID)
}

func TestNegotiationRepository_ParticipantMessages_NewestFirst(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	at := time.Now().UTC()

	first := newMessage("A", "B", domain.RoleRequester, "job-1", 500, at)
	second := newMessage("C", "A", domain.RoleWorker, "job-2", 300, at.Add(time.Minute))
	unrelated := newMessage("C", "D", domain.RoleWorker, "job-3", 300, at.Add(2*time.Minute))
	for _, m := range []domain.Message{first, second, unrelated} {
		_, _, err := repository.AppendMessage(m, "")
		req.NoError(err)
	}

	messages, err := repository.ParticipantMessages("A")
	req.NoError(err)
	req.Len(messages, 2)
	req.Equal(second.ID, messages[0].ID)
	req.Equal(first.ID, messages[1].ID)
}

func TestNegotiationRepository_MarkDelivered_DrainsOutbox(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	at := time.Now().UTC()

	first := newMessage("A", "B", domain.RoleRequester, "job-1", 500, at)
	second := newMessage("A", "B", domain.RoleRequester, "job-1", 510, at.Add(time.Second))
	for _, m := range []domain.Message{first, second} {
		_, _, err := repository.AppendMessage(m, "")
		req.NoError(err)
	}

	pending, err := repository.PendingDeliveries("B", 0)
	req.NoError(err)
	req.Len(pending, 2)
	req.Equal(first.ID, pending[0].ID)

	limited, err := repository.PendingDeliveries("B", 1)
	req.NoError(err)
	req.Len(limited, 1)

	// When the first message reaches B twice
	deliveredAt := at.Add(time.Minute)
	req.NoError(repository.MarkDelivered(first.ID, deliveredAt))
	req.NoError(repository.MarkDelivered(first.ID, deliveredAt.Add(time.Hour)))

	// Then only the second one is left and the first delivery time is kept
	pending, err = repository.PendingDeliveries("B", 0)
	req.NoError(err)
	req.Len(pending, 1)
	req.Equal(second.ID, pending[0].ID)

	stored, err := repository.GetMessage(first.ID)
	req.NoError(err)
	req.NotNil(stored.DeliveredAt)
	req.True(stored.DeliveredAt.Equal(deliveredAt))
}

func TestNegotiationRepository_MarkRead_OnlyReceiverAndOnlyOnce(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	at := time.Now().UTC()

	toB := newMessage("A", "B", domain.RoleRequester, "job-1", 500, at)
	toA := newMessage("B", "A", domain.RoleWorker, "job-1", 600, at.Add(time.Second))
	for _, m := range []domain.Message{toB, toA} {
		_, _, err := repository.AppendMessage(m, "")
		req.NoError(err)
	}

	ids := []uuid.UUID{toB.ID, toA.ID, uuid.New()}
	modified, err := repository.MarkRead(ids, "B", at)
	req.NoError(err)
	req.Len(modified, 1)
	req.Equal(toB.ID, modified[0].ID)
	req.True(modified[0].Read)

	again, err := repository.MarkRead(ids, "B", at)
	req.NoError(err)
	req.Empty(again)

	untouched, err := repository.GetMessage(toA.ID)
	req.NoError(err)
	req.False(untouched.Read)
	req.Nil(untouched.ReadAt)
}

func TestNegotiationRepository_SetMessageStatus(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)

	message := newMessage("A", "B", domain.RoleRequester, "job-1", 500, time.Now().UTC())
	_, _, err := repository.AppendMessage(message, "")
	req.NoError(err)

	updated, err := repository.SetMessageStatus(message.ID, domain.MessageAccepted)
	req.NoError(err)
	req.Equal(domain.MessageAccepted, updated.Status)

	_, err = repository.SetMessageStatus(uuid.New(), domain.MessageAccepted)
	req.ErrorIs(err, errors.ErrMessageNotFound)
}

func TestNegotiationRepository_FindAndListConversations(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	at := time.Now().UTC()

	_, conversation, err := repository.AppendMessage(newMessage("B", "A", domain.RoleWorker, "job-1", 500, at), "")
	req.NoError(err)

	found, ok, err := repository.FindConversation("job-1", "A", "B")
	req.NoError(err)
	req.True(ok)
	req.Equal(conversation.ID, found.ID)

	_, ok, err = repository.FindConversation("job-1", "B", "A")
	req.NoError(err)
	req.False(ok)

	_, err = repository.GetConversation("missing")
	req.ErrorIs(err, errors.ErrConversationNotFound)

	active, err := repository.ConversationsByStatus(domain.ConversationActive)
	req.NoError(err)
	req.Len(active, 1)
	completed, err := repository.ConversationsByStatus(domain.ConversationCompleted)
	req.NoError(err)
	req.Empty(completed)
}

func TestNegotiationRepository_UpdateConversation_AbortsOnError(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)

	_, conversation, err := repository.AppendMessage(newMessage("A", "B", domain.RoleRequester, "job-1", 500, time.Now().UTC()), "")
	req.NoError(err)

	_, err = repository.UpdateConversation(conversation.ID, func(c *domain.Conversation) error {
		c.Status = domain.ConversationCancelled
		return errors.ErrNotParticipant
	})
	req.ErrorIs(err, errors.ErrNotParticipant)

	stored, err := repository.GetConversation(conversation.ID)
	req.NoError(err)
	req.Equal(domain.ConversationActive, stored.Status)
}

func TestNegotiationRepository_AppendMessage_PairBindsRoles(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	at := time.Now().UTC()

	_, conversation, err := repository.AppendMessage(newMessage("A", "B", domain.RoleRequester, "job-9", 500, at), "")
	req.NoError(err)

	// Same pair, same correlation id, roles swapped
	_, _, err = repository.AppendMessage(newMessage("B", "A", domain.RoleRequester, "job-9", 480, at.Add(time.Second)), "")
	req.ErrorIs(err, errors.ErrRoleMismatch)

	conversations, err := repository.ConversationsByCorrelation("job-9")
	req.NoError(err)
	req.Len(conversations, 1)
	req.Equal(conversation.ID, conversations[0].ID)
	req.Equal(1, conversations[0].MessageCount)

	_, updated, err := repository.AppendMessage(newMessage("B", "A", domain.RoleWorker, "job-9", 480, at.Add(2*time.Second)), "")
	req.NoError(err)
	req.Equal(conversation.ID, updated.ID)
	req.Equal(2, updated.MessageCount)
}

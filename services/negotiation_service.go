package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"negotiation-hub/contract"
	"negotiation-hub/domain"
	"negotiation-hub/domain/event"
	"negotiation-hub/errors"
	"negotiation-hub/infrastructure/storage"
	"negotiation-hub/observability"
	"negotiation-hub/runtime"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type INegotiationService interface {
	Submit(ctx context.Context, cmd domain.SubmitMessageCommand) SubmitResult
	MarkRead(ctx context.Context, messageIDs []string, readerID string) (int, error)
	CompleteConversation(ctx context.Context, cmd domain.CompleteConversationCommand) (domain.Conversation, error)
	CancelConversation(ctx context.Context, ref, cancelledBy string) (domain.Conversation, error)
	UpdateMessageStatus(ctx context.Context, cmd domain.UpdateMessageStatusCommand) (domain.Message, error)
	History(ctx context.Context, credential, a, b string, correlationID *string) ([]domain.HistoryEntry, error)
	ActiveConversations(ctx context.Context, participantID string) ([]domain.ConversationSummary, error)
	BookJob(ctx context.Context, correlationID, bookedBy string, asOperator bool) (BookingResult, error)
}

// SubmitResult is the synchronous answer to a submission. Rejections are reported
// through Success and Reason; Err keeps the sentinel cause for transports.
type SubmitResult struct {
	Success      bool
	Reason       string
	Violations   []domain.Violation
	Message      *domain.Message
	Conversation *domain.Conversation
	Delivery     contract.DeliveryResult
	Err          error
}

// Payload renders the result as sent to clients.
func (r SubmitResult) Payload() event.SubmitResultPayload {
	payload := event.SubmitResultPayload{
		Success:    r.Success,
		Reason:     r.Reason,
		Violations: lo.Map(r.Violations, func(v domain.Violation, _ int) string { return v.Message }),
		Delivered:  r.Delivery.Delivered,
		Queued:     r.Delivery.Queued,
	}
	if r.Message != nil {
		payload.Message = lo.ToPtr(event.FromMessage(*r.Message))
	}
	if r.Conversation != nil {
		payload.ConversationID = r.Conversation.ID
	}
	return payload
}

type BookingResult struct {
	CorrelationID string
	Participants  int
	Notified      int
}

// NegotiationService is the negotiation state machine: it validates steps, persists
// them and hands them to the delivery engine. Every mutation of one correlation id
// runs under that id's lock so that the booked flag and conversation status checks
// cannot be overtaken by a concurrent booking or completion.
type NegotiationService struct {
	repository storage.INegotiationRepository
	engine     contract.IDeliveryEngine
	jobs       contract.IJobStatus
	resolver   contract.IIdentityResolver
	locks      *runtime.KeyedMutex
	metrics    *observability.Metrics
	log        *slog.Logger
	now        func() time.Time
}

func NewNegotiationService(
	repository storage.INegotiationRepository,
	engine contract.IDeliveryEngine,
	jobs contract.IJobStatus,
	resolver contract.IIdentityResolver,
	metrics *observability.Metrics,
	log *slog.Logger,
) *NegotiationService {
	return &NegotiationService{
		repository: repository,
		engine:     engine,
		jobs:       jobs,
		resolver:   resolver,
		locks:      runtime.NewKeyedMutex(),
		metrics:    metrics,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *NegotiationService) Submit(ctx context.Context, cmd domain.SubmitMessageCommand) SubmitResult {
	if violations := domain.ValidateSubmission(cmd); len(violations) > 0 {
		s.metrics.Submissions.WithLabelValues("invalid").Inc()
		reason := domain.Reason(violations)
		return SubmitResult{
			Reason:     reason,
			Violations: violations,
			Err:        fmt.Errorf("%w: %s", errors.ErrValidation, reason),
		}
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = s.now()
	}
	if cmd.Status == "" {
		cmd.Status = domain.MessagePending
	}

	message := domain.Message{
		ID:            uuid.New(),
		SenderID:      cmd.SenderID,
		ReceiverID:    cmd.ReceiverID,
		CorrelationID: cmd.CorrelationID,
		Body:          cmd.Body,
		SenderRole:    cmd.SenderRole,
		SenderName:    cmd.SenderName,
		ProposedWage:  *cmd.ProposedWage,
		Status:        cmd.Status,
		CreatedAt:     cmd.CreatedAt.UTC(),
	}

	saved, conversation, err := s.persist(ctx, message, cmd.Description)
	if err != nil {
		if reason, expected := conflictReason(err); expected {
			s.metrics.Submissions.WithLabelValues("conflict").Inc()
			s.log.Debug("Submission rejected", "correlation_id", cmd.CorrelationID, "sender_id", cmd.SenderID, "reason", reason)
			return SubmitResult{Reason: reason, Err: err}
		}
		s.metrics.Submissions.WithLabelValues("error").Inc()
		s.log.Error("Unable to persist negotiation message", "correlation_id", cmd.CorrelationID, "sender_id", cmd.SenderID, "error", err)
		return SubmitResult{Reason: "internal error", Err: err}
	}
	s.metrics.Submissions.WithLabelValues("accepted").Inc()

	// Persisted before any delivery attempt; a failed push leaves the message in the outbox.
	delivery := s.engine.Deliver(ctx, event.NegotiationDelivery{Message: saved})
	if delivery.Delivered {
		if reloaded, err := s.repository.GetMessage(saved.ID); err == nil {
			saved = reloaded
		}
	}

	return SubmitResult{
		Success:      true,
		Message:      &saved,
		Conversation: &conversation,
		Delivery:     delivery,
	}
}

// persist runs the state checks and the write under the correlation id lock.
func (s *NegotiationService) persist(ctx context.Context, message domain.Message, description string) (domain.Message, domain.Conversation, error) {
	unlock := s.locks.Lock(message.CorrelationID)
	defer unlock()

	if err := s.checkOpen(ctx, message.CorrelationID); err != nil {
		return domain.Message{}, domain.Conversation{}, err
	}
	return s.repository.AppendMessage(message, description)
}

// checkOpen fails when the job is booked or when one of its conversations was completed.
// The status of the pair's own conversation is enforced by the store when appending.
func (s *NegotiationService) checkOpen(ctx context.Context, correlationID string) error {
	booked, err := s.jobs.IsBooked(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("job status: %w", err)
	}
	if booked {
		return errors.ErrJobBooked
	}

	conversations, err := s.repository.ConversationsByCorrelation(correlationID)
	if err != nil {
		return err
	}
	if lo.ContainsBy(conversations, func(c domain.Conversation) bool {
		return c.Status == domain.ConversationCompleted
	}) {
		return fmt.Errorf("%w: %s", errors.ErrConversationClosed, domain.ConversationCompleted)
	}
	return nil
}

func conflictReason(err error) (string, bool) {
	switch {
	case stderrors.Is(err, errors.ErrJobBooked):
		return errors.ErrJobBooked.Error(), true
	case stderrors.Is(err, errors.ErrConversationClosed):
		return err.Error(), true
	case stderrors.Is(err, errors.ErrRoleMismatch):
		return errors.ErrRoleMismatch.Error(), true
	}
	return "", false
}

// MarkRead flags the given messages as read by readerID and returns how many changed.
// Malformed and unknown ids, messages addressed to someone else and messages already
// read are skipped. Senders of newly read messages get a read receipt when connected.
func (s *NegotiationService) MarkRead(ctx context.Context, messageIDs []string, readerID string) (int, error) {
	ids := lo.FilterMap(messageIDs, func(raw string, _ int) (uuid.UUID, bool) {
		id, err := uuid.Parse(raw)
		return id, err == nil
	})
	if len(ids) == 0 {
		return 0, nil
	}

	modified, err := s.repository.MarkRead(lo.Uniq(ids), readerID, s.now())
	if err != nil {
		s.log.Error("Unable to mark messages as read", "reader_id", readerID, "error", err)
		return 0, err
	}

	for _, message := range modified {
		s.engine.Deliver(ctx, event.ReadReceiptDelivery{Message: message, ReaderID: readerID})
	}
	return len(modified), nil
}

// CompleteConversation closes a conversation as agreed. ref is a conversation id or a
// correlation id, in which case the caller's conversation on that job is used.
// Completing again keeps the first completion; a supplied wage replaces the final wage.
func (s *NegotiationService) CompleteConversation(ctx context.Context, cmd domain.CompleteConversationCommand) (domain.Conversation, error) {
	if violations := domain.ValidateCompletion(cmd); len(violations) > 0 {
		return domain.Conversation{}, fmt.Errorf("%w: %s", errors.ErrValidation, domain.Reason(violations))
	}
	return s.close(cmd.Ref, cmd.CompletedBy, func(c *domain.Conversation) error {
		switch c.Status {
		case domain.ConversationActive:
			completedAt := s.now()
			c.Status = domain.ConversationCompleted
			c.CompletedAt = &completedAt
			c.CompletedBy = cmd.CompletedBy
		case domain.ConversationCompleted:
		default:
			return fmt.Errorf("%w: %s", errors.ErrConversationClosed, c.Status)
		}
		if cmd.FinalWage != nil {
			finalWage := *cmd.FinalWage
			c.FinalWage = &finalWage
		}
		return nil
	})
}

// CancelConversation abandons a conversation. Cancelling twice is a no-op.
func (s *NegotiationService) CancelConversation(ctx context.Context, ref, cancelledBy string) (domain.Conversation, error) {
	if ref == "" || cancelledBy == "" {
		return domain.Conversation{}, fmt.Errorf("%w: ref and cancelledBy are required", errors.ErrValidation)
	}
	return s.close(ref, cancelledBy, func(c *domain.Conversation) error {
		switch c.Status {
		case domain.ConversationActive:
			cancelledAt := s.now()
			c.Status = domain.ConversationCancelled
			c.CancelledAt = &cancelledAt
			c.CancelledBy = cancelledBy
		case domain.ConversationCancelled:
		default:
			return fmt.Errorf("%w: %s", errors.ErrConversationClosed, c.Status)
		}
		return nil
	})
}

func (s *NegotiationService) close(ref, actorID string, mutate func(*domain.Conversation) error) (domain.Conversation, error) {
	conversation, err := s.resolveConversation(ref, actorID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conversation.HasParticipant(actorID) {
		return domain.Conversation{}, errors.ErrNotParticipant
	}

	unlock := s.locks.Lock(conversation.CorrelationID)
	defer unlock()

	updated, err := s.repository.UpdateConversation(conversation.ID, mutate)
	if err != nil {
		return domain.Conversation{}, err
	}
	s.log.Info("Conversation closed",
		"conversation_id", updated.ID, "correlation_id", updated.CorrelationID, "status", updated.Status, "by", actorID)
	return updated, nil
}

// resolveConversation accepts a conversation id, or a correlation id on which actorID
// negotiates. An active conversation wins over closed ones, then the most recent.
func (s *NegotiationService) resolveConversation(ref, actorID string) (domain.Conversation, error) {
	conversation, err := s.repository.GetConversation(ref)
	if err == nil {
		return conversation, nil
	}
	if !stderrors.Is(err, errors.ErrConversationNotFound) {
		return domain.Conversation{}, err
	}

	candidates, err := s.repository.ConversationsByCorrelation(ref)
	if err != nil {
		return domain.Conversation{}, err
	}
	candidates = lo.Filter(candidates, func(c domain.Conversation, _ int) bool {
		return c.HasParticipant(actorID)
	})
	if len(candidates) == 0 {
		return domain.Conversation{}, fmt.Errorf("%w: %s", errors.ErrConversationNotFound, ref)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ai := candidates[i].Status == domain.ConversationActive
		aj := candidates[j].Status == domain.ConversationActive
		if ai != aj {
			return ai
		}
		return candidates[i].LastMessageAt.After(candidates[j].LastMessageAt)
	})
	return candidates[0], nil
}

// UpdateMessageStatus lets the receiver of a proposal accept, reject or counter it.
func (s *NegotiationService) UpdateMessageStatus(ctx context.Context, cmd domain.UpdateMessageStatusCommand) (domain.Message, error) {
	if violations := domain.ValidateStatusUpdate(cmd); len(violations) > 0 {
		return domain.Message{}, fmt.Errorf("%w: %s", errors.ErrValidation, domain.Reason(violations))
	}
	id := uuid.MustParse(cmd.MessageID)

	message, err := s.repository.GetMessage(id)
	if err != nil {
		return domain.Message{}, err
	}
	if message.ReceiverID != cmd.ActorID {
		return domain.Message{}, errors.ErrNotParticipant
	}

	unlock := s.locks.Lock(message.CorrelationID)
	defer unlock()

	if err = s.checkOpen(ctx, message.CorrelationID); err != nil {
		return domain.Message{}, err
	}
	conversation, found, err := s.repository.FindConversation(message.CorrelationID, message.RequesterID(), message.WorkerID())
	if err != nil {
		return domain.Message{}, err
	}
	if found && conversation.Status.IsClosed() {
		return domain.Message{}, fmt.Errorf("%w: %s", errors.ErrConversationClosed, conversation.Status)
	}

	// Read again under the lock; a concurrent answer may have landed.
	if message, err = s.repository.GetMessage(id); err != nil {
		return domain.Message{}, err
	}
	if !message.Status.CanTransition(cmd.Status) {
		return domain.Message{}, fmt.Errorf("%w: %s to %s", errors.ErrInvalidStatusTransition, message.Status, cmd.Status)
	}
	return s.repository.SetMessageStatus(id, cmd.Status)
}

// History returns the messages exchanged by a and b, oldest first, with both display
// names joined in. Names the identity service cannot resolve fall back to what was stored.
func (s *NegotiationService) History(ctx context.Context, credential, a, b string, correlationID *string) ([]domain.HistoryEntry, error) {
	messages, err := s.repository.History(a, b, correlationID)
	if err != nil {
		return nil, err
	}

	names := s.displayNames(ctx, credential, []string{a, b})
	return lo.Map(messages, func(m domain.Message, _ int) domain.HistoryEntry {
		if name, ok := names[m.SenderID]; ok {
			m.SenderName = name
		}
		return domain.HistoryEntry{Message: m, ReceiverName: names[m.ReceiverID]}
	}), nil
}

func (s *NegotiationService) displayNames(ctx context.Context, credential string, ids []string) map[string]string {
	names := make(map[string]string, len(ids))
	if s.resolver == nil {
		return names
	}
	participants, err := s.resolver.Resolve(ctx, credential, ids)
	if err != nil {
		s.log.Warn("Identity resolution failed, using stored names", "error", err)
		return names
	}
	for id, p := range participants {
		if p.DisplayName != "" {
			names[id] = p.DisplayName
		}
	}
	return names
}

// ActiveConversations lists the open negotiations of a participant, one row per
// (correlation id, counterparty), newest activity first.
func (s *NegotiationService) ActiveConversations(ctx context.Context, participantID string) ([]domain.ConversationSummary, error) {
	messages, err := s.repository.ParticipantMessages(participantID)
	if err != nil {
		return nil, err
	}

	type groupKey struct{ correlationID, counterpartyID string }
	var (
		order  []groupKey
		groups = make(map[groupKey]*domain.ConversationSummary)
	)
	for _, m := range messages {
		key := groupKey{m.CorrelationID, m.Counterparty(participantID)}
		summary, ok := groups[key]
		if !ok {
			summary = &domain.ConversationSummary{
				CorrelationID:  key.correlationID,
				CounterpartyID: key.counterpartyID,
				LastMessage:    m,
			}
			groups[key] = summary
			order = append(order, key)
		}
		if m.ReceiverID == participantID && !m.Read {
			summary.UnreadCount++
		}
	}

	summaries := make([]domain.ConversationSummary, 0, len(order))
	for _, key := range order {
		summary := groups[key]
		last := summary.LastMessage
		conversation, found, err := s.repository.FindConversation(last.CorrelationID, last.RequesterID(), last.WorkerID())
		if err != nil {
			return nil, err
		}
		if !found || conversation.Status != domain.ConversationActive {
			continue
		}
		summary.ConversationID = conversation.ID
		summary.Status = conversation.Status
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}

// BookJob raises the booked flag of a correlation id and tells every reachable
// participant of its conversations. Further negotiation on that id is refused.
// Unless asOperator is set, bookedBy must be the requester of one of those conversations.
func (s *NegotiationService) BookJob(ctx context.Context, correlationID, bookedBy string, asOperator bool) (BookingResult, error) {
	if correlationID == "" || bookedBy == "" {
		return BookingResult{}, fmt.Errorf("%w: correlationId and bookedBy are required", errors.ErrValidation)
	}
	at := s.now()

	type recipient struct {
		id   string
		role domain.Role
	}
	unlock := s.locks.Lock(correlationID)
	conversations, err := s.repository.ConversationsByCorrelation(correlationID)
	if err != nil {
		unlock()
		return BookingResult{}, err
	}
	owns := lo.ContainsBy(conversations, func(c domain.Conversation) bool { return c.RequesterID == bookedBy })
	if !asOperator && !owns {
		unlock()
		s.log.Warn("Booking refused", "correlation_id", correlationID, "by", bookedBy)
		return BookingResult{}, fmt.Errorf("%w: %s is not a requester on %s", errors.ErrNotParticipant, bookedBy, correlationID)
	}
	if err = s.jobs.MarkBooked(ctx, correlationID); err != nil {
		unlock()
		return BookingResult{}, fmt.Errorf("job status: %w", err)
	}
	unlock()

	recipients := lo.Uniq(lo.FlatMap(conversations, func(c domain.Conversation, _ int) []recipient {
		return []recipient{{c.RequesterID, domain.RoleRequester}, {c.WorkerID, domain.RoleWorker}}
	}))

	result := BookingResult{CorrelationID: correlationID, Participants: len(recipients)}
	for _, r := range recipients {
		delivery := s.engine.Deliver(ctx, event.JobBookedDelivery{
			ParticipantID: r.id,
			Role:          r.role,
			CorrelationID: correlationID,
			BookedBy:      bookedBy,
			At:            at,
		})
		if delivery.Delivered {
			result.Notified++
		}
	}
	s.log.Info("Job booked", "correlation_id", correlationID, "by", bookedBy,
		"participants", result.Participants, "notified", result.Notified)
	return result, nil
}

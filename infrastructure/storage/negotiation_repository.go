package storage

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"negotiation-hub/domain"
	"negotiation-hub/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type INegotiationRepository interface {
	AppendMessage(message domain.Message, description string) (domain.Message, domain.Conversation, error)
	GetMessage(id uuid.UUID) (domain.Message, error)
	MarkDelivered(messageID uuid.UUID, at time.Time) error
	MarkRead(ids []uuid.UUID, readerID string, at time.Time) ([]domain.Message, error)
	SetMessageStatus(id uuid.UUID, status domain.MessageStatus) (domain.Message, error)
	History(a, b string, correlationID *string) ([]domain.Message, error)
	ParticipantMessages(participantID string) ([]domain.Message, error)
	PendingDeliveries(receiverID string, limit int) ([]domain.Message, error)

	GetConversation(id string) (domain.Conversation, error)
	FindConversation(correlationID, requesterID, workerID string) (domain.Conversation, bool, error)
	ConversationsByCorrelation(correlationID string) ([]domain.Conversation, error)
	ConversationsByStatus(status domain.ConversationStatus) ([]domain.Conversation, error)
	UpdateConversation(id string, mutate func(*domain.Conversation) error) (domain.Conversation, error)
}

// NegotiationRepository stores messages and conversations in BadgerDB.
//
// Key layout:
//
//	msg:{id}                                   message record
//	idx:pair:{low}:{high}:{ts}:{id}            history of a participant pair
//	idx:part:{participant}:{ts}:{id}           every message a participant sent or received
//	outbox:{receiver}:{ts}:{id}                messages not yet pushed to their receiver
//	conv:{id}                                  conversation record
//	idx:convpair:{correlation}:{low}:{high}    conversation id of a pair
//	idx:convcorr:{correlation}:{id}            conversations of a correlation id
//
// {ts} is the creation time in unix nanoseconds padded to 19 digits so that keys sort
// chronologically. Index values hold the referenced id.
type NegotiationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewNegotiationRepository(db *badger.DB, log *slog.Logger) *NegotiationRepository {
	return &NegotiationRepository{db: db, log: log}
}

const maxConflictRetries = 3

// update runs fn in a read-write transaction, retrying when badger reports a conflict.
func (r *NegotiationRepository) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = r.db.Update(fn)
		if !stderrors.Is(err, badger.ErrConflict) {
			return err
		}
		r.log.Debug("Transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

// AppendMessage persists a message and folds it into its conversation in one transaction.
// The conversation is created on the first message of a pair for a correlation id.
// The message is also parked in its receiver's outbox until MarkDelivered is called.
func (r *NegotiationRepository) AppendMessage(message domain.Message, description string) (domain.Message, domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.update(func(txn *badger.Txn) error {
		pairKey := convPairKey(message.CorrelationID, message.SenderID, message.ReceiverID)
		convID, found, err := getString(txn, pairKey)
		if err != nil {
			return err
		}

		if found {
			conversation, err = getConversation(txn, convID)
			if err != nil {
				return err
			}
			if conversation.Status.IsClosed() {
				return fmt.Errorf("%w: %s", errors.ErrConversationClosed, conversation.Status)
			}
			if conversation.RequesterID != message.RequesterID() || conversation.WorkerID != message.WorkerID() {
				return fmt.Errorf("%w: %s is the %s of %s", errors.ErrRoleMismatch, message.SenderID, conversation.RoleOf(message.SenderID), conversation.ID)
			}
		} else {
			conversation = domain.Conversation{
				ID:            uuid.NewString(),
				CorrelationID: message.CorrelationID,
				RequesterID:   message.RequesterID(),
				WorkerID:      message.WorkerID(),
				Description:   description,
				InitialWage:   message.ProposedWage,
				Status:        domain.ConversationActive,
				CreatedAt:     message.CreatedAt,
			}
			if err = txn.Set(pairKey, []byte(conversation.ID)); err != nil {
				return err
			}
			if err = txn.Set(convCorrKey(conversation.CorrelationID, conversation.ID), []byte(conversation.ID)); err != nil {
				return err
			}
		}

		conversation.MessageCount++
		conversation.LastMessageAt = message.CreatedAt
		if err = putConversation(txn, conversation); err != nil {
			return err
		}

		message.ConversationStatus = conversation.Status
		if err = putMessage(txn, message); err != nil {
			return err
		}

		id := []byte(message.ID.String())
		low, high := orderedPair(message.SenderID, message.ReceiverID)
		indexes := [][]byte{
			[]byte(fmt.Sprintf("idx:pair:%s:%s:%s:%s", low, high, ts(message.CreatedAt), message.ID)),
			participantKey(message.SenderID, message),
			participantKey(message.ReceiverID, message),
			outboxKey(message),
		}
		for _, key := range indexes {
			if err = txn.Set(key, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, domain.Conversation{}, err
	}
	return message, conversation, nil
}

func (r *NegotiationRepository) GetMessage(id uuid.UUID) (domain.Message, error) {
	var message domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		message, err = getMessage(txn, id.String())
		return err
	})
	return message, err
}

// MarkDelivered stamps delivered-at once and drops the message from its receiver's outbox.
func (r *NegotiationRepository) MarkDelivered(messageID uuid.UUID, at time.Time) error {
	return r.update(func(txn *badger.Txn) error {
		message, err := getMessage(txn, messageID.String())
		if err != nil {
			return err
		}
		if message.DeliveredAt == nil {
			at = at.UTC()
			message.DeliveredAt = &at
			if err = putMessage(txn, message); err != nil {
				return err
			}
		}
		return txn.Delete(outboxKey(message))
	})
}

// MarkRead flags as read the messages of ids received by readerID and not read yet.
// Unknown ids and messages addressed to someone else are skipped.
// It returns the messages actually modified.
func (r *NegotiationRepository) MarkRead(ids []uuid.UUID, readerID string, at time.Time) ([]domain.Message, error) {
	var modified []domain.Message
	err := r.update(func(txn *badger.Txn) error {
		modified = nil
		for _, id := range ids {
			message, err := getMessage(txn, id.String())
			if stderrors.Is(err, errors.ErrMessageNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if message.ReceiverID != readerID || message.Read {
				continue
			}
			readAt := at.UTC()
			message.Read = true
			message.ReadAt = &readAt
			if err = putMessage(txn, message); err != nil {
				return err
			}
			modified = append(modified, message)
		}
		return nil
	})
	return modified, err
}

func (r *NegotiationRepository) SetMessageStatus(id uuid.UUID, status domain.MessageStatus) (domain.Message, error) {
	var message domain.Message
	err := r.update(func(txn *badger.Txn) error {
		var err error
		message, err = getMessage(txn, id.String())
		if err != nil {
			return err
		}
		message.Status = status
		return putMessage(txn, message)
	})
	return message, err
}

// History returns the messages exchanged by a and b, oldest first,
// optionally restricted to one correlation id.
func (r *NegotiationRepository) History(a, b string, correlationID *string) ([]domain.Message, error) {
	low, high := orderedPair(a, b)
	prefix := []byte(fmt.Sprintf("idx:pair:%s:%s:", low, high))

	messages, err := r.scanMessages(prefix, false, 0)
	if err != nil || correlationID == nil {
		return messages, err
	}
	filtered := messages[:0]
	for _, m := range messages {
		if m.CorrelationID == *correlationID {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

// ParticipantMessages returns every message sent or received by a participant, newest first.
func (r *NegotiationRepository) ParticipantMessages(participantID string) ([]domain.Message, error) {
	return r.scanMessages([]byte(fmt.Sprintf("idx:part:%s:", participantID)), true, 0)
}

// PendingDeliveries returns up to limit undelivered messages of a receiver, oldest first.
func (r *NegotiationRepository) PendingDeliveries(receiverID string, limit int) ([]domain.Message, error) {
	return r.scanMessages([]byte(fmt.Sprintf("outbox:%s:", receiverID)), false, limit)
}

// scanMessages resolves every index entry under prefix into its message.
// A limit of zero means no limit.
func (r *NegotiationRepository) scanMessages(prefix []byte, reverse bool, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		ids, err := scanIndex(txn, prefix, reverse, limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			message, err := getMessage(txn, id)
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	return messages, err
}

func putMessage(txn *badger.Txn, message domain.Message) error {
	data, err := encodeMessage(message)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", message.ID, err)
	}
	return txn.Set([]byte("msg:"+message.ID.String()), data)
}

func getMessage(txn *badger.Txn, id string) (domain.Message, error) {
	item, err := txn.Get([]byte("msg:" + id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, fmt.Errorf("%w: %s", errors.ErrMessageNotFound, id)
	}
	if err != nil {
		return domain.Message{}, err
	}
	var message domain.Message
	err = item.Value(func(val []byte) error {
		message, err = decodeMessage(val)
		return err
	})
	return message, err
}

func getString(txn *badger.Txn, key []byte) (string, bool, error) {
	item, err := txn.Get(key)
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, err
	}
	return string(val), true, nil
}

// scanIndex collects the values stored under prefix, in key order or reverse key order.
func scanIndex(txn *badger.Txn, prefix []byte, reverse bool, limit int) ([]string, error) {
	options := badger.DefaultIteratorOptions
	options.Reverse = reverse
	options.Prefix = prefix
	it := txn.NewIterator(options)
	defer it.Close()

	seekKey := prefix
	if reverse {
		seekKey = append(append([]byte{}, prefix...), 0xFF)
	}

	var values []string
	for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
		if limit > 0 && len(values) == limit {
			break
		}
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		values = append(values, string(val))
	}
	return values, nil
}

func ts(t time.Time) string {
	return fmt.Sprintf("%019d", t.UnixNano())
}

func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func participantKey(participantID string, message domain.Message) []byte {
	return []byte(fmt.Sprintf("idx:part:%s:%s:%s", participantID, ts(message.CreatedAt), message.ID))
}

func outboxKey(message domain.Message) []byte {
	return []byte(fmt.Sprintf("outbox:%s:%s:%s", message.ReceiverID, ts(message.CreatedAt), message.ID))
}

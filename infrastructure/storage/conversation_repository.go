package storage

import (
	stderrors "errors"
	"fmt"

	"negotiation-hub/domain"
	"negotiation-hub/errors"

	"github.com/dgraph-io/badger/v4"
)

func (r *NegotiationRepository) GetConversation(id string) (domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		conversation, err = getConversation(txn, id)
		return err
	})
	return conversation, err
}

// FindConversation resolves the conversation of a pair for a correlation id.
func (r *NegotiationRepository) FindConversation(correlationID, requesterID, workerID string) (domain.Conversation, bool, error) {
	var (
		conversation domain.Conversation
		found        bool
	)
	err := r.db.View(func(txn *badger.Txn) error {
		id, ok, err := getString(txn, convPairKey(correlationID, requesterID, workerID))
		if err != nil || !ok {
			return err
		}
		conversation, err = getConversation(txn, id)
		found = err == nil && conversation.RequesterID == requesterID && conversation.WorkerID == workerID
		return err
	})
	return conversation, found, err
}

func (r *NegotiationRepository) ConversationsByCorrelation(correlationID string) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		ids, err := scanIndex(txn, []byte(fmt.Sprintf("idx:convcorr:%s:", correlationID)), false, 0)
		if err != nil {
			return err
		}
		for _, id := range ids {
			conversation, err := getConversation(txn, id)
			if err != nil {
				return err
			}
			conversations = append(conversations, conversation)
		}
		return nil
	})
	return conversations, err
}

// ConversationsByStatus walks every conversation record. It backs the expiry sweep,
// which runs rarely enough for a full scan.
func (r *NegotiationRepository) ConversationsByStatus(status domain.ConversationStatus) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		prefix := []byte("conv:")
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var conversation domain.Conversation
			err := it.Item().Value(func(val []byte) error {
				var err error
				conversation, err = decodeConversation(val)
				return err
			})
			if err != nil {
				r.log.Warn("Skipping unreadable conversation", "key", string(it.Item().Key()), "error", err)
				continue
			}
			if conversation.Status == status {
				conversations = append(conversations, conversation)
			}
		}
		return nil
	})
	return conversations, err
}

// UpdateConversation applies mutate to the stored conversation inside a single transaction.
// Returning an error from mutate aborts the write.
func (r *NegotiationRepository) UpdateConversation(id string, mutate func(*domain.Conversation) error) (domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.update(func(txn *badger.Txn) error {
		var err error
		conversation, err = getConversation(txn, id)
		if err != nil {
			return err
		}
		if err = mutate(&conversation); err != nil {
			return err
		}
		return putConversation(txn, conversation)
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return conversation, nil
}

func putConversation(txn *badger.Txn, conversation domain.Conversation) error {
	data, err := encodeConversation(conversation)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conversation.ID, err)
	}
	return txn.Set([]byte("conv:"+conversation.ID), data)
}

func getConversation(txn *badger.Txn, id string) (domain.Conversation, error) {
	item, err := txn.Get([]byte("conv:" + id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, fmt.Errorf("%w: %s", errors.ErrConversationNotFound, id)
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	var conversation domain.Conversation
	err = item.Value(func(val []byte) error {
		conversation, err = decodeConversation(val)
		return err
	})
	return conversation, err
}

// convPairKey is independent of the roles: a pair has one conversation per correlation id.
func convPairKey(correlationID, a, b string) []byte {
	low, high := orderedPair(a, b)
	return []byte(fmt.Sprintf("idx:convpair:%s:%s:%s", correlationID, low, high))
}

func convCorrKey(correlationID, conversationID string) []byte {
	return []byte(fmt.Sprintf("idx:convcorr:%s:%s", correlationID, conversationID))
}

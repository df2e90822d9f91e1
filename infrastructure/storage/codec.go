package storage

import (
	"time"

	"negotiation-hub/domain"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Records are the on-disk shape of domain entities. Timestamps are unix nanoseconds,
// zero meaning unset.

type messageRecord struct {
	ID                 string  `cbor:"id"`
	SenderID           string  `cbor:"sender_id"`
	ReceiverID         string  `cbor:"receiver_id"`
	CorrelationID      string  `cbor:"correlation_id"`
	Body               string  `cbor:"body"`
	SenderRole         string  `cbor:"sender_role"`
	SenderName         string  `cbor:"sender_name,omitempty"`
	ProposedWage       float64 `cbor:"proposed_wage"`
	Status             string  `cbor:"status"`
	ConversationStatus string  `cbor:"conversation_status"`
	Read               bool    `cbor:"read"`
	DeliveredAt        int64   `cbor:"delivered_at,omitempty"`
	ReadAt             int64   `cbor:"read_at,omitempty"`
	CreatedAt          int64   `cbor:"created_at"`
}

type conversationRecord struct {
	ID            string   `cbor:"id"`
	CorrelationID string   `cbor:"correlation_id"`
	RequesterID   string   `cbor:"requester_id"`
	WorkerID      string   `cbor:"worker_id"`
	Description   string   `cbor:"description,omitempty"`
	InitialWage   float64  `cbor:"initial_wage"`
	FinalWage     *float64 `cbor:"final_wage,omitempty"`
	Status        string   `cbor:"status"`
	LastMessageAt int64    `cbor:"last_message_at"`
	MessageCount  int      `cbor:"message_count"`
	CreatedAt     int64    `cbor:"created_at"`
	CompletedAt   int64    `cbor:"completed_at,omitempty"`
	CompletedBy   string   `cbor:"completed_by,omitempty"`
	CancelledAt   int64    `cbor:"cancelled_at,omitempty"`
	CancelledBy   string   `cbor:"cancelled_by,omitempty"`
}

func encodeMessage(m domain.Message) ([]byte, error) {
	return cbor.Marshal(messageRecord{
		ID:                 m.ID.String(),
		SenderID:           m.SenderID,
		ReceiverID:         m.ReceiverID,
		CorrelationID:      m.CorrelationID,
		Body:               m.Body,
		SenderRole:         string(m.SenderRole),
		SenderName:         m.SenderName,
		ProposedWage:       m.ProposedWage,
		Status:             string(m.Status),
		ConversationStatus: string(m.ConversationStatus),
		Read:               m.Read,
		DeliveredAt:        fromTimePtr(m.DeliveredAt),
		ReadAt:             fromTimePtr(m.ReadAt),
		CreatedAt:          m.CreatedAt.UnixNano(),
	})
}

func decodeMessage(data []byte) (domain.Message, error) {
	var r messageRecord
	if err := cbor.Unmarshal(data, &r); err != nil {
		return domain.Message{}, err
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:                 id,
		SenderID:           r.SenderID,
		ReceiverID:         r.ReceiverID,
		CorrelationID:      r.CorrelationID,
		Body:               r.Body,
		SenderRole:         domain.Role(r.SenderRole),
		SenderName:         r.SenderName,
		ProposedWage:       r.ProposedWage,
		Status:             domain.MessageStatus(r.Status),
		ConversationStatus: domain.ConversationStatus(r.ConversationStatus),
		Read:               r.Read,
		DeliveredAt:        toTimePtr(r.DeliveredAt),
		ReadAt:             toTimePtr(r.ReadAt),
		CreatedAt:          time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}

func encodeConversation(c domain.Conversation) ([]byte, error) {
	return cbor.Marshal(conversationRecord{
		ID:            c.ID,
		CorrelationID: c.CorrelationID,
		RequesterID:   c.RequesterID,
		WorkerID:      c.WorkerID,
		Description:   c.Description,
		InitialWage:   c.InitialWage,
		FinalWage:     c.FinalWage,
		Status:        string(c.Status),
		LastMessageAt: c.LastMessageAt.UnixNano(),
		MessageCount:  c.MessageCount,
		CreatedAt:     c.CreatedAt.UnixNano(),
		CompletedAt:   fromTimePtr(c.CompletedAt),
		CompletedBy:   c.CompletedBy,
		CancelledAt:   fromTimePtr(c.CancelledAt),
		CancelledBy:   c.CancelledBy,
	})
}

func decodeConversation(data []byte) (domain.Conversation, error) {
	var r conversationRecord
	if err := cbor.Unmarshal(data, &r); err != nil {
		return domain.Conversation{}, err
	}
	return domain.Conversation{
		ID:            r.ID,
		CorrelationID: r.CorrelationID,
		RequesterID:   r.RequesterID,
		WorkerID:      r.WorkerID,
		Description:   r.Description,
		InitialWage:   r.InitialWage,
		FinalWage:     r.FinalWage,
		Status:        domain.ConversationStatus(r.Status),
		LastMessageAt: time.Unix(0, r.LastMessageAt).UTC(),
		MessageCount:  r.MessageCount,
		CreatedAt:     time.Unix(0, r.CreatedAt).UTC(),
		CompletedAt:   toTimePtr(r.CompletedAt),
		CompletedBy:   r.CompletedBy,
		CancelledAt:   toTimePtr(r.CancelledAt),
		CancelledBy:   r.CancelledBy,
	}, nil
}

func fromTimePtr(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

func toTimePtr(nanos int64) *time.Time {
	if nanos == 0 {
		return nil
	}
	t := time.Unix(0, nanos).UTC()
	return &t
}

// Package event defines the frames exchanged over participant connections
// and the deliverables the delivery engine knows how to push.
package event

import (
	"encoding/json"
	"time"

	"negotiation-hub/domain"
)

type Type string

// Outbound frame types.
const (
	RegisteredType         Type = "registered"
	NegotiationMessageType Type = "negotiation.message"
	MatchNotificationType  Type = "match.notification"
	JobBookedType          Type = "job.booked"
	MessageReadType        Type = "message.read"
	SubmitResultType       Type = "submit.result"
	ReadResultType         Type = "read.result"
	StatusResultType       Type = "status.result"
	TestType               Type = "test"
	ErrorType              Type = "error"
)

// Inbound frame types.
const (
	SubmitType Type = "submit"
	ReadType   Type = "read"
	StatusType Type = "status"
	AckType    Type = "ack"
)

// Frame is an outbound envelope. Clients acknowledge frames carrying Ack with {"type":"ack","id":...}.
type Frame struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	Ack  bool   `json:"ack,omitempty"`
	Data any    `json:"data,omitempty"`
}

// InboundFrame is what a client sends; Data is decoded according to Type.
type InboundFrame struct {
	ID   string          `json:"id"`
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type MessagePayload struct {
	ID                 string     `json:"id"`
	SenderID           string     `json:"senderId"`
	ReceiverID         string     `json:"receiverId"`
	CorrelationID      string     `json:"correlationId"`
	Body               string     `json:"body"`
	SenderRole         string     `json:"senderRole"`
	SenderName         string     `json:"senderName"`
	ProposedWage       float64    `json:"proposedWage"`
	Status             string     `json:"status"`
	ConversationStatus string     `json:"conversationStatus"`
	Read               bool       `json:"read"`
	DeliveredAt        *time.Time `json:"deliveredAt,omitempty"`
	ReadAt             *time.Time `json:"readAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func FromMessage(m domain.Message) MessagePayload {
	return MessagePayload{
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
		DeliveredAt:        m.DeliveredAt,
		ReadAt:             m.ReadAt,
		CreatedAt:          m.CreatedAt,
	}
}

type MatchPayload struct {
	NotificationID string    `json:"notificationId"`
	CorrelationID  string    `json:"correlationId"`
	RequesterID    string    `json:"requesterId"`
	RequesterName  string    `json:"requesterName"`
	Wage           float64   `json:"wage"`
	Description    string    `json:"description"`
	Metadata       MatchMeta `json:"metadata"`
	CreatedAt      time.Time `json:"createdAt"`
}

type MatchMeta struct {
	Distance float64  `json:"distance"`
	Skills   []string `json:"skills"`
}

type JobBookedPayload struct {
	CorrelationID string    `json:"correlationId"`
	BookedBy      string    `json:"bookedBy"`
	At            time.Time `json:"at"`
}

type ReadReceiptPayload struct {
	MessageID     string    `json:"messageId"`
	CorrelationID string    `json:"correlationId"`
	ReaderID      string    `json:"readerId"`
	ReadAt        time.Time `json:"readAt"`
}

type RegisteredPayload struct {
	ParticipantID string `json:"participantId"`
	Role          string `json:"role"`
	DisplayName   string `json:"displayName"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Inbound payloads.

type SubmitPayload struct {
	ReceiverID    string   `json:"receiverId"`
	CorrelationID string   `json:"correlationId"`
	Body          string   `json:"body"`
	ProposedWage  *float64 `json:"proposedWage"`
	Status        string   `json:"status,omitempty"`
	Description   string   `json:"description,omitempty"`
}

type ReadPayload struct {
	MessageIDs []string `json:"messageIds"`
}

type StatusPayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// Replies to inbound frames carry the id of the frame they answer.

type SubmitResultPayload struct {
	Success        bool            `json:"success"`
	Reason         string          `json:"reason,omitempty"`
	Violations     []string        `json:"violations,omitempty"`
	Message        *MessagePayload `json:"message,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	Delivered      bool            `json:"delivered"`
	Queued         bool            `json:"queued"`
}

type ReadResultPayload struct {
	Updated int `json:"updated"`
}

type StatusResultPayload struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Message *MessagePayload `json:"message,omitempty"`
}

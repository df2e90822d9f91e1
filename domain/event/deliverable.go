package event

import (
	"time"

	"negotiation-hub/domain"

	"github.com/google/uuid"
)

// Deliverable is anything the delivery engine can push to a single recipient.
// Each kind renders its own frame.
type Deliverable interface {
	Kind() string
	Recipient() string
	// RecipientRoles restricts the presence namespaces consulted; empty means any.
	RecipientRoles() []domain.Role
	Frame() Frame
}

// NegotiationDelivery carries a persisted negotiation message.
// Replays of the outbox still ask the client for an ack but nobody waits for it.
type NegotiationDelivery struct {
	Message domain.Message
	Replay  bool
}

func (d NegotiationDelivery) Kind() string      { return "negotiation" }
func (d NegotiationDelivery) Recipient() string { return d.Message.ReceiverID }
func (d NegotiationDelivery) RecipientRoles() []domain.Role {
	return []domain.Role{d.Message.SenderRole.Counterpart()}
}
func (d NegotiationDelivery) Frame() Frame {
	return Frame{
		ID:   d.Message.ID.String(),
		Type: NegotiationMessageType,
		Ack:  true,
		Data: FromMessage(d.Message),
	}
}

type MatchDelivery struct {
	Notification domain.MatchNotification
}

func (d MatchDelivery) Kind() string      { return "match" }
func (d MatchDelivery) Recipient() string { return d.Notification.WorkerID }
func (d MatchDelivery) RecipientRoles() []domain.Role {
	return []domain.Role{domain.RoleWorker}
}
func (d MatchDelivery) Frame() Frame {
	n := d.Notification
	return Frame{
		ID:   n.ID.String(),
		Type: MatchNotificationType,
		Ack:  true,
		Data: MatchPayload{
			NotificationID: n.ID.String(),
			CorrelationID:  n.CorrelationID,
			RequesterID:    n.RequesterID,
			RequesterName:  n.RequesterName,
			Wage:           n.Wage,
			Description:    n.Description,
			Metadata:       MatchMeta{Distance: n.Distance, Skills: n.Skills},
			CreatedAt:      n.CreatedAt,
		},
	}
}

type JobBookedDelivery struct {
	ParticipantID string
	Role          domain.Role
	CorrelationID string
	BookedBy      string
	At            time.Time
}

func (d JobBookedDelivery) Kind() string      { return "job_booked" }
func (d JobBookedDelivery) Recipient() string { return d.ParticipantID }
func (d JobBookedDelivery) RecipientRoles() []domain.Role {
	return []domain.Role{d.Role}
}
func (d JobBookedDelivery) Frame() Frame {
	return Frame{
		ID:   uuid.NewString(),
		Type: JobBookedType,
		Data: JobBookedPayload{CorrelationID: d.CorrelationID, BookedBy: d.BookedBy, At: d.At},
	}
}

// ReadReceiptDelivery tells the sender of a message that its receiver read it.
type ReadReceiptDelivery struct {
	Message  domain.Message
	ReaderID string
}

func (d ReadReceiptDelivery) Kind() string      { return "read_receipt" }
func (d ReadReceiptDelivery) Recipient() string { return d.Message.SenderID }
func (d ReadReceiptDelivery) RecipientRoles() []domain.Role {
	return []domain.Role{d.Message.SenderRole}
}
func (d ReadReceiptDelivery) Frame() Frame {
	var readAt time.Time
	if d.Message.ReadAt != nil {
		readAt = *d.Message.ReadAt
	}
	return Frame{
		ID:   uuid.NewString(),
		Type: MessageReadType,
		Data: ReadReceiptPayload{
			MessageID:     d.Message.ID.String(),
			CorrelationID: d.Message.CorrelationID,
			ReaderID:      d.ReaderID,
			ReadAt:        readAt,
		},
	}
}

// TestDelivery pushes an arbitrary payload, used by operators to probe a connection.
type TestDelivery struct {
	ParticipantID string
	Role          *domain.Role
	Payload       any
}

func (d TestDelivery) Kind() string      { return "test" }
func (d TestDelivery) Recipient() string { return d.ParticipantID }
func (d TestDelivery) RecipientRoles() []domain.Role {
	if d.Role == nil {
		return nil
	}
	return []domain.Role{*d.Role}
}
func (d TestDelivery) Frame() Frame {
	return Frame{ID: uuid.NewString(), Type: TestType, Ack: true, Data: d.Payload}
}

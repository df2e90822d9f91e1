// Package domain contains core concepts of the negotiation system.
// This file defines negotiation Messages and their lifecycle states.
// Messages are immutable except for status, read and delivery markers.
package domain

import (
	"time"

	"github.com/google/uuid"
)

const MaxBodyLength = 1000

type MessageStatus string

const (
	MessagePending  MessageStatus = "pending"
	MessageAccepted MessageStatus = "accepted"
	MessageRejected MessageStatus = "rejected"
	MessageCounter  MessageStatus = "counter"
	MessageExpired  MessageStatus = "expired"
)

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationCancelled ConversationStatus = "cancelled"
	ConversationExpired   ConversationStatus = "expired"
)

// IsClosed reports whether no further message may be accepted.
func (s ConversationStatus) IsClosed() bool {
	return s != ConversationActive
}

// Message represents one negotiation step between a requester and a worker.
type Message struct {
	ID                 uuid.UUID
	SenderID           string
	ReceiverID         string
	CorrelationID      string
	Body               string
	SenderRole         Role
	SenderName         string
	ProposedWage       float64
	Status             MessageStatus
	ConversationStatus ConversationStatus
	Read               bool
	DeliveredAt        *time.Time
	ReadAt             *time.Time
	CreatedAt          time.Time
}

// RequesterID returns the requester side of the message pair.
func (m Message) RequesterID() string {
	if m.SenderRole == RoleRequester {
		return m.SenderID
	}
	return m.ReceiverID
}

// WorkerID returns the worker side of the message pair.
func (m Message) WorkerID() string {
	if m.SenderRole == RoleWorker {
		return m.SenderID
	}
	return m.ReceiverID
}

// Counterparty returns the other participant of the message relative to participantID.
func (m Message) Counterparty(participantID string) string {
	if m.SenderID == participantID {
		return m.ReceiverID
	}
	return m.SenderID
}

// CanTransition reports whether a receiver may answer a message with next.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s != MessagePending && s != MessageCounter {
		return false
	}
	switch next {
	case MessageAccepted, MessageRejected, MessageCounter:
		return true
	}
	return false
}

package domain

import "time"

// Conversation aggregates every message exchanged by one requester and one worker
// for one correlation id.
type Conversation struct {
	ID            string
	CorrelationID string
	RequesterID   string
	WorkerID      string
	Description   string
	InitialWage   float64
	FinalWage     *float64
	Status        ConversationStatus
	LastMessageAt time.Time
	MessageCount  int
	CreatedAt     time.Time
	CompletedAt   *time.Time
	CompletedBy   string
	CancelledAt   *time.Time
	CancelledBy   string
}

func (c Conversation) HasParticipant(participantID string) bool {
	return c.RequesterID == participantID || c.WorkerID == participantID
}

// RoleOf returns the side participantID holds, empty when it is not a participant.
func (c Conversation) RoleOf(participantID string) Role {
	switch participantID {
	case c.RequesterID:
		return RoleRequester
	case c.WorkerID:
		return RoleWorker
	}
	return ""
}

// Counterparty returns the other side of the conversation relative to participantID.
func (c Conversation) Counterparty(participantID string) string {
	if c.RequesterID == participantID {
		return c.WorkerID
	}
	return c.RequesterID
}

// ConversationSummary is one row of a participant's active negotiations.
type ConversationSummary struct {
	ConversationID string
	CorrelationID  string
	CounterpartyID string
	LastMessage    Message
	UnreadCount    int
	Status         ConversationStatus
}

// HistoryEntry is a message with the display identity of both sides joined in.
type HistoryEntry struct {
	Message
	ReceiverName string
}

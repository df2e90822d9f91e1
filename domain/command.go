package domain

import (
	"time"
)

// SubmitMessageCommand is a negotiation step as received from a connection or the admin API.
// ProposedWage is a pointer so that a missing wage is distinguishable from a zero wage.
type SubmitMessageCommand struct {
	SenderID      string        `validate:"required,excludesall=:"`
	ReceiverID    string        `validate:"required,excludesall=:,nefield=SenderID"`
	CorrelationID string        `validate:"required,excludesall=:"`
	Body          string        `validate:"notblank,max=1000"`
	SenderRole    Role          `validate:"required,oneof=requester worker"`
	SenderName    string        `validate:"max=200"`
	ProposedWage  *float64      `validate:"required,gte=0"`
	Status        MessageStatus `validate:"omitempty,oneof=pending counter"`
	Description   string        `validate:"max=1000"`
	CreatedAt     time.Time
}

type CompleteConversationCommand struct {
	Ref         string   `validate:"required"`
	FinalWage   *float64 `validate:"omitempty,gte=0"`
	CompletedBy string   `validate:"required"`
}

type UpdateMessageStatusCommand struct {
	MessageID string        `validate:"required,uuid"`
	Status    MessageStatus `validate:"required,oneof=accepted rejected counter"`
	ActorID   string        `validate:"required"`
}

// MatchRequester is the requester context shared by every candidate of a match batch.
type MatchRequester struct {
	RequesterID   string  `validate:"required,excludesall=:"`
	RequesterName string  `validate:"max=200"`
	CorrelationID string  `validate:"required,excludesall=:"`
	Wage          float64 `validate:"gte=0"`
	Description   string  `validate:"max=1000"`
}

type Candidate struct {
	WorkerID string   `validate:"required,excludesall=:"`
	Distance float64  `validate:"gte=0"`
	Skills   []string `validate:"dive,required"`
}

// MatchBatch is one match event: one requester, many candidate workers.
type MatchBatch struct {
	Requester  MatchRequester
	Candidates []Candidate
	Timestamp  time.Time
	// Credential of the caller, used to resolve the requester's display name when it is missing.
	Credential string
}

package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// notificationNamespace scopes the name-based UUIDs of match notifications.
var notificationNamespace = uuid.MustParse("6f1c4a57-3a0e-4c3b-9a51-7d8e2b0c9f14")

// MatchNotification tells a candidate worker that a requester is looking for them.
// It is pushed, never persisted.
type MatchNotification struct {
	ID            uuid.UUID
	WorkerID      string
	RequesterID   string
	RequesterName string
	CorrelationID string
	Wage          float64
	Description   string
	Distance      float64
	Skills        []string
	CreatedAt     time.Time
}

// NotificationID derives the same id for the same (worker, requester, timestamp) so that
// a replayed batch is recognisable by clients.
func NotificationID(workerID, requesterID string, at time.Time) uuid.UUID {
	name := workerID + "|" + requesterID + "|" + strconv.FormatInt(at.UnixNano(), 10)
	return uuid.NewSHA1(notificationNamespace, []byte(name))
}

func NewMatchNotification(requester MatchRequester, candidate Candidate, at time.Time) MatchNotification {
	return MatchNotification{
		ID:            NotificationID(candidate.WorkerID, requester.RequesterID, at),
		WorkerID:      candidate.WorkerID,
		RequesterID:   requester.RequesterID,
		RequesterName: requester.RequesterName,
		CorrelationID: requester.CorrelationID,
		Wage:          requester.Wage,
		Description:   requester.Description,
		Distance:      candidate.Distance,
		Skills:        candidate.Skills,
		CreatedAt:     at,
	}
}

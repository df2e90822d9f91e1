//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"negotiation-hub/domain"
	"negotiation-hub/domain/event"

	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// ConnectionHandle is one live participant session.
type ConnectionHandle interface {
	ID() string
	// Push hands a frame to the transport. The returned channel is closed once the
	// client acknowledges the frame; it is nil when the frame does not ask for an ack.
	Push(ctx context.Context, frame event.Frame) (<-chan struct{}, error)
	Close(reason string)
}

// ConnectionRecord is owned by the presence registry and never persisted.
type ConnectionRecord struct {
	ParticipantID string
	Role          domain.Role
	DisplayName   string
	Handle        ConnectionHandle
	RegisteredAt  time.Time
}

type PresenceStats struct {
	Requesters   int
	Workers      int
	Total        int
	RequesterIDs []string
	WorkerIDs    []string
}

type IRegistry interface {
	// Register stores the record and returns the handle it replaced, if any.
	Register(record ConnectionRecord) ConnectionHandle
	// Lookup searches the given namespaces in order; no roles means every namespace.
	Lookup(participantID string, roles ...domain.Role) (ConnectionRecord, bool)
	Unregister(handle ConnectionHandle) bool
	Stats() PresenceStats
	List(role *domain.Role) []ConnectionRecord
}

type DeliveryResult struct {
	Delivered    bool
	Queued       bool
	Acknowledged bool
	Err          error
}

type IDeliveryEngine interface {
	Deliver(ctx context.Context, d event.Deliverable) DeliveryResult
}

// IDeliveryRecorder is the slice of the durable store the delivery engine writes to.
type IDeliveryRecorder interface {
	MarkDelivered(messageID uuid.UUID, at time.Time) error
}

type IIdentityResolver interface {
	// Resolve looks up a batch of participants with the caller's credential.
	// Ids missing from the returned map could not be resolved.
	Resolve(ctx context.Context, credential string, ids []string) (map[string]domain.Participant, error)
}

// IJobStatus holds the booked markers that block negotiation on a correlation id.
type IJobStatus interface {
	MarkBooked(ctx context.Context, correlationID string) error
	IsBooked(ctx context.Context, correlationID string) (bool, error)
}

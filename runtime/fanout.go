package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"negotiation-hub/contract"
	"negotiation-hub/domain"
	"negotiation-hub/domain/event"
	"negotiation-hub/errors"
	"negotiation-hub/observability"

	"golang.org/x/sync/errgroup"
)

// CandidateResult is the outcome of one candidate of a match batch.
type CandidateResult struct {
	WorkerID       string `json:"workerId"`
	NotificationID string `json:"notificationId,omitempty"`
	Delivered      bool   `json:"delivered"`
	Queued         bool   `json:"queued"`
	Acknowledged   bool   `json:"acknowledged"`
	Error          string `json:"error,omitempty"`
}

func (r CandidateResult) Success() bool { return r.Error == "" }

// NotificationFanout turns one match batch into one notification per candidate worker.
// Candidates are isolated from each other: an invalid record or a failed push never
// prevents the others from being notified.
type NotificationFanout struct {
	engine      contract.IDeliveryEngine
	jobs        contract.IJobStatus
	resolver    contract.IIdentityResolver
	metrics     *observability.Metrics
	log         *slog.Logger
	concurrency int
	sinkTimeout time.Duration
}

func NewNotificationFanout(
	engine contract.IDeliveryEngine,
	jobs contract.IJobStatus,
	resolver contract.IIdentityResolver,
	metrics *observability.Metrics,
	log *slog.Logger,
	concurrency int,
	sinkTimeout time.Duration,
) *NotificationFanout {
	if concurrency < 1 {
		concurrency = 1
	}
	return &NotificationFanout{
		engine:      engine,
		jobs:        jobs,
		resolver:    resolver,
		metrics:     metrics,
		log:         log,
		concurrency: concurrency,
		sinkTimeout: sinkTimeout,
	}
}

// Dispatch notifies every candidate of the batch and returns their results in input order.
// Problems with the batch itself (invalid requester, booked job, unresolvable requester)
// fail every candidate with the same reason.
func (f *NotificationFanout) Dispatch(ctx context.Context, batch domain.MatchBatch) []CandidateResult {
	results := make([]CandidateResult, len(batch.Candidates))
	for i, candidate := range batch.Candidates {
		results[i].WorkerID = candidate.WorkerID
	}

	requester, err := f.prepare(ctx, batch)
	if err != nil {
		f.log.Warn("Match batch rejected",
			"correlation_id", batch.Requester.CorrelationID, "candidates", len(batch.Candidates), "error", err)
		for i := range results {
			results[i].Error = err.Error()
		}
		f.metrics.Notifications.WithLabelValues("rejected").Add(float64(len(results)))
		return results
	}

	at := batch.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, candidate := range batch.Candidates {
		g.Go(func() error {
			results[i] = f.notify(ctx, requester, candidate, at)
			return nil
		})
	}
	_ = g.Wait()

	delivered := 0
	for _, r := range results {
		if r.Delivered {
			delivered++
		}
	}
	f.log.Debug("Match batch dispatched",
		"correlation_id", requester.CorrelationID, "candidates", len(results), "delivered", delivered)
	return results
}

func (f *NotificationFanout) prepare(ctx context.Context, batch domain.MatchBatch) (domain.MatchRequester, error) {
	requester := batch.Requester
	if violations := domain.ValidateMatchRequester(requester); len(violations) > 0 {
		return requester, fmt.Errorf("%w: %s", errors.ErrValidation, domain.Reason(violations))
	}

	booked, err := f.jobs.IsBooked(ctx, requester.CorrelationID)
	if err != nil {
		return requester, fmt.Errorf("job status: %w", err)
	}
	if booked {
		return requester, errors.ErrJobBooked
	}

	if requester.RequesterName == "" && f.resolver != nil {
		participants, err := f.resolver.Resolve(ctx, batch.Credential, []string{requester.RequesterID})
		if err != nil {
			return requester, fmt.Errorf("%w: %v", errors.ErrIdentityUnresolved, err)
		}
		participant, ok := participants[requester.RequesterID]
		if !ok {
			return requester, fmt.Errorf("%w: %s", errors.ErrIdentityUnresolved, requester.RequesterID)
		}
		requester.RequesterName = participant.DisplayName
	}
	return requester, nil
}

func (f *NotificationFanout) notify(ctx context.Context, requester domain.MatchRequester, candidate domain.Candidate, at time.Time) (result CandidateResult) {
	result.WorkerID = candidate.WorkerID
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("Candidate notification panicked", "worker_id", candidate.WorkerID, "panic", r)
			result.Error = "internal error"
		}
		label := "delivered"
		switch {
		case !result.Success():
			label = "failed"
		case !result.Delivered:
			label = "offline"
		}
		f.metrics.Notifications.WithLabelValues(label).Inc()
	}()

	if violations := domain.ValidateCandidate(requester, candidate); len(violations) > 0 {
		result.Error = domain.Reason(violations)
		return result
	}

	notification := domain.NewMatchNotification(requester, candidate, at)
	result.NotificationID = notification.ID.String()

	var cancel context.CancelFunc = func() {}
	if f.sinkTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.sinkTimeout)
	}
	defer cancel()

	delivery := f.engine.Deliver(ctx, event.MatchDelivery{Notification: notification})
	result.Delivered = delivery.Delivered
	result.Queued = delivery.Queued
	result.Acknowledged = delivery.Acknowledged
	if delivery.Err != nil {
		result.Error = delivery.Err.Error()
	}
	return result
}

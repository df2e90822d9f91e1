package runtime

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"negotiation-hub/contract"
	"negotiation-hub/domain"
	"negotiation-hub/domain/event"
	"negotiation-hub/errors"
	"negotiation-hub/mocks"
	"negotiation-hub/observability"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func matchBatch(candidates ...domain.Candidate) domain.MatchBatch {
	return domain.MatchBatch{
		Requester: domain.MatchRequester{
			RequesterID:   "R",
			RequesterName: "Rita",
			CorrelationID: "job-1",
			Wage:          25,
			Description:   "paint a fence",
		},
		Candidates: candidates,
		Timestamp:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNotificationFanout_OneMalformedCandidate_DoesNotBlockOthers(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	metrics := observability.NopMetrics()
	registry := NewRegistry()
	engine := NewDeliveryEngine(registry, nil, metrics, log, time.Second)
	fanout := NewNotificationFanout(engine, NewJobStatus(), nil, metrics, log, 2, time.Second)

	// Given three connected workers and one candidate without id
	for _, id := range []string{"W1", "W2", "W3"} {
		registry.Register(record(id, domain.RoleWorker, newHandle(), time.Now()))
	}
	batch := matchBatch(
		domain.Candidate{WorkerID: "W1", Distance: 1.2, Skills: []string{"paint"}},
		domain.Candidate{WorkerID: "", Distance: 3},
		domain.Candidate{WorkerID: "W2", Distance: 0.4},
		domain.Candidate{WorkerID: "W3", Distance: 8, Skills: []string{"paint", "fence"}},
	)

	// When the batch is dispatched
	results := fanout.Dispatch(context.Background(), batch)

	// Then K-1 candidates are notified, in input order
	req.Len(results, 4)
	req.Equal("W1", results[0].WorkerID)
	req.True(results[0].Success())
	req.True(results[0].Delivered)
	req.False(results[1].Success())
	req.Empty(results[1].NotificationID)
	req.Equal("W2", results[2].WorkerID)
	req.True(results[2].Delivered)
	req.Equal("W3", results[3].WorkerID)
	req.True(results[3].Delivered)
	req.Equal(domain.NotificationID("W3", "R", batch.Timestamp).String(), results[3].NotificationID)
}

func TestNotificationFanout_OfflineCandidate_IsNotQueued(t *testing.T) {
	req := require.New(t)
	metrics := observability.NopMetrics()
	engine := NewDeliveryEngine(NewRegistry(), nil, metrics, slog.Default(), time.Second)
	fanout := NewNotificationFanout(engine, NewJobStatus(), nil, metrics, slog.Default(), 4, time.Second)

	results := fanout.Dispatch(context.Background(), matchBatch(domain.Candidate{WorkerID: "W1"}))

	req.Len(results, 1)
	req.True(results[0].Success())
	req.False(results[0].Delivered)
	req.False(results[0].Queued)
}

func TestNotificationFanout_BookedJob_FailsEveryCandidate(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockIDeliveryEngine(ctrl)
	jobs := NewJobStatus()
	fanout := NewNotificationFanout(engine, jobs, nil, observability.NopMetrics(), slog.Default(), 4, time.Second)

	req.NoError(jobs.MarkBooked(context.Background(), "job-1"))
	engine.EXPECT().Deliver(gomock.Any(), gomock.Any()).Times(0)

	results := fanout.Dispatch(context.Background(), matchBatch(
		domain.Candidate{WorkerID: "W1"},
		domain.Candidate{WorkerID: "W2"},
	))

	req.Len(results, 2)
	for _, r := range results {
		req.Equal(errors.ErrJobBooked.Error(), r.Error)
	}
}

func TestNotificationFanout_InvalidRequester_FailsEveryCandidate(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockIDeliveryEngine(ctrl)
	fanout := NewNotificationFanout(engine, NewJobStatus(), nil, observability.NopMetrics(), slog.Default(), 4, time.Second)

	engine.EXPECT().Deliver(gomock.Any(), gomock.Any()).Times(0)
	batch := matchBatch(domain.Candidate{WorkerID: "W1"})
	batch.Requester.CorrelationID = ""

	results := fanout.Dispatch(context.Background(), batch)
	req.Len(results, 1)
	req.Contains(results[0].Error, "CorrelationID is required")
}

func TestNotificationFanout_ResolvesMissingRequesterName(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockIDeliveryEngine(ctrl)
	resolver := mocks.NewMockIIdentityResolver(ctrl)
	fanout := NewNotificationFanout(engine, NewJobStatus(), resolver, observability.NopMetrics(), slog.Default(), 4, time.Second)

	batch := matchBatch(domain.Candidate{WorkerID: "W1"})
	batch.Requester.RequesterName = ""
	batch.Credential = "token"

	resolver.EXPECT().Resolve(gomock.Any(), "token", []string{"R"}).
		Return(map[string]domain.Participant{"R": {ID: "R", Role: domain.RoleRequester, DisplayName: "Rita"}}, nil)
	engine.EXPECT().Deliver(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d event.Deliverable) contract.DeliveryResult {
			match, ok := d.(event.MatchDelivery)
			req.True(ok)
			req.Equal("Rita", match.Notification.RequesterName)
			req.Equal("job-1", match.Notification.CorrelationID)
			return contract.DeliveryResult{Delivered: true}
		})

	results := fanout.Dispatch(context.Background(), batch)
	req.True(results[0].Delivered)
}

func TestNotificationFanout_UnresolvedRequester_AbortsBatch(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockIDeliveryEngine(ctrl)
	resolver := mocks.NewMockIIdentityResolver(ctrl)
	fanout := NewNotificationFanout(engine, NewJobStatus(), resolver, observability.NopMetrics(), slog.Default(), 4, time.Second)

	batch := matchBatch(domain.Candidate{WorkerID: "W1"}, domain.Candidate{WorkerID: "W2"})
	batch.Requester.RequesterName = ""

	resolver.EXPECT().Resolve(gomock.Any(), gomock.Any(), gomock.Any()).Return(map[string]domain.Participant{}, nil)
	engine.EXPECT().Deliver(gomock.Any(), gomock.Any()).Times(0)

	results := fanout.Dispatch(context.Background(), batch)
	for _, r := range results {
		req.Contains(r.Error, errors.ErrIdentityUnresolved.Error())
	}
}

func TestNotificationFanout_BoundedConcurrency(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockIDeliveryEngine(ctrl)
	fanout := NewNotificationFanout(engine, NewJobStatus(), nil, observability.NopMetrics(), slog.Default(), 2, time.Second)

	var inFlight, peak atomic.Int32
	engine.EXPECT().Deliver(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, event.Deliverable) contract.DeliveryResult {
			current := inFlight.Add(1)
			for {
				previous := peak.Load()
				if current <= previous || peak.CompareAndSwap(previous, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return contract.DeliveryResult{Delivered: true}
		}).Times(6)

	var candidates []domain.Candidate
	for _, id := range []string{"W1", "W2", "W3", "W4", "W5", "W6"} {
		candidates = append(candidates, domain.Candidate{WorkerID: id})
	}
	results := fanout.Dispatch(context.Background(), matchBatch(candidates...))

	req.Len(results, 6)
	req.LessOrEqual(peak.Load(), int32(2))
}

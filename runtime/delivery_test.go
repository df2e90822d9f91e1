package runtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"negotiation-hub/contract"
	"negotiation-hub/domain"
	"negotiation-hub/domain/event"
	"negotiation-hub/errors"
	"negotiation-hub/mocks"
	"negotiation-hub/observability"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func negotiationDelivery() event.NegotiationDelivery {
	return event.NegotiationDelivery{Message: domain.Message{
		ID:            uuid.New(),
		SenderID:      "A",
		ReceiverID:    "B",
		CorrelationID: "job-1",
		Body:          "offer",
		SenderRole:    domain.RoleRequester,
		ProposedWage:  500,
		Status:        domain.MessagePending,
		CreatedAt:     time.Now().UTC(),
	}}
}

func registerMock(ctrl *gomock.Controller, registry *Registry, participantID string, role domain.Role) *mocks.MockConnectionHandle {
	handle := mocks.NewMockConnectionHandle(ctrl)
	handle.EXPECT().ID().Return(participantID + "-" + string(role)).AnyTimes()
	registry.Register(contract.ConnectionRecord{
		ParticipantID: participantID,
		Role:          role,
		Handle:        handle,
		RegisteredAt:  time.Now(),
	})
	return handle
}

func TestDeliveryEngine_AbsentRecipient_QueuesPersistedMessages(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	recorder := mocks.NewMockIDeliveryRecorder(ctrl)
	metrics := observability.NopMetrics()
	engine := NewDeliveryEngine(NewRegistry(), recorder, metrics, logs.GetLoggerFromLevel(slog.LevelDebug), time.Second)

	// Given nobody is connected, no delivery can be recorded
	recorder.EXPECT().MarkDelivered(gomock.Any(), gomock.Any()).Times(0)

	result := engine.Deliver(context.Background(), negotiationDelivery())
	req.Equal(contract.DeliveryResult{Queued: true}, result)

	// Then non persisted deliverables are simply not delivered
	result = engine.Deliver(context.Background(), event.TestDelivery{ParticipantID: "B", Payload: "ping"})
	req.Equal(contract.DeliveryResult{}, result)

	req.Equal(1.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues("negotiation", observability.OutcomeQueued)))
	req.Equal(1.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues("test", observability.OutcomeOffline)))
}

func TestDeliveryEngine_WrongNamespace_IsAbsent(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	engine := NewDeliveryEngine(registry, mocks.NewMockIDeliveryRecorder(ctrl), observability.NopMetrics(), slog.Default(), time.Second)

	// Given B is only connected as a requester, a requester message targets the worker namespace
	handle := registerMock(ctrl, registry, "B", domain.RoleRequester)
	handle.EXPECT().Push(gomock.Any(), gomock.Any()).Times(0)

	result := engine.Deliver(context.Background(), negotiationDelivery())
	req.True(result.Queued)
	req.False(result.Delivered)
}

func TestDeliveryEngine_Present_DeliversAndWaitsForAck(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	recorder := mocks.NewMockIDeliveryRecorder(ctrl)
	engine := NewDeliveryEngine(registry, recorder, observability.NopMetrics(), slog.Default(), time.Second)
	d := negotiationDelivery()

	handle := registerMock(ctrl, registry, "B", domain.RoleWorker)
	acked := make(chan struct{})
	close(acked)
	handle.EXPECT().Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, frame event.Frame) (<-chan struct{}, error) {
			req.Equal(d.Message.ID.String(), frame.ID)
			req.Equal(event.NegotiationMessageType, frame.Type)
			req.True(frame.Ack)
			return acked, nil
		}).Times(1)
	recorder.EXPECT().MarkDelivered(d.Message.ID, gomock.Any()).Return(nil).Times(1)

	result := engine.Deliver(context.Background(), d)
	req.Equal(contract.DeliveryResult{Delivered: true, Acknowledged: true}, result)
}

func TestDeliveryEngine_MissingAck_IsNotAFailure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	recorder := mocks.NewMockIDeliveryRecorder(ctrl)
	engine := NewDeliveryEngine(registry, recorder, observability.NopMetrics(), slog.Default(), 20*time.Millisecond)

	handle := registerMock(ctrl, registry, "B", domain.RoleWorker)
	handle.EXPECT().Push(gomock.Any(), gomock.Any()).Return(make(chan struct{}), nil).Times(1)
	recorder.EXPECT().MarkDelivered(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	start := time.Now()
	result := engine.Deliver(context.Background(), negotiationDelivery())

	req.True(result.Delivered)
	req.False(result.Acknowledged)
	req.NoError(result.Err)
	req.Less(time.Since(start), time.Second)
}

func TestDeliveryEngine_TransportFailure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	recorder := mocks.NewMockIDeliveryRecorder(ctrl)
	metrics := observability.NopMetrics()
	engine := NewDeliveryEngine(registry, recorder, metrics, slog.Default(), time.Second)

	handle := registerMock(ctrl, registry, "B", domain.RoleWorker)
	handle.EXPECT().Push(gomock.Any(), gomock.Any()).Return(nil, errors.ErrSendBufferFull).Times(1)
	recorder.EXPECT().MarkDelivered(gomock.Any(), gomock.Any()).Times(0)

	result := engine.Deliver(context.Background(), negotiationDelivery())
	req.False(result.Delivered)
	req.False(result.Queued)
	req.ErrorIs(result.Err, errors.ErrSendBufferFull)
	req.Equal(1.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues("negotiation", observability.OutcomeFailed)))
}

func TestDeliveryEngine_NonPersisted_SkipsRecorder(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	recorder := mocks.NewMockIDeliveryRecorder(ctrl)
	engine := NewDeliveryEngine(registry, recorder, observability.NopMetrics(), slog.Default(), time.Second)

	handle := registerMock(ctrl, registry, "A", domain.RoleRequester)
	handle.EXPECT().Push(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)
	recorder.EXPECT().MarkDelivered(gomock.Any(), gomock.Any()).Times(0)

	result := engine.Deliver(context.Background(), event.JobBookedDelivery{
		ParticipantID: "A",
		Role:          domain.RoleRequester,
		CorrelationID: "job-1",
		BookedBy:      "A",
		At:            time.Now(),
	})
	req.Equal(contract.DeliveryResult{Delivered: true}, result)
}

func TestDeliveryEngine_Replay_DoesNotWaitForAck(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	recorder := mocks.NewMockIDeliveryRecorder(ctrl)
	engine := NewDeliveryEngine(registry, recorder, observability.NopMetrics(), slog.Default(), 5*time.Second)

	// Given a receiver that never acknowledges
	handle := registerMock(ctrl, registry, "B", domain.RoleWorker)
	handle.EXPECT().Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, frame event.Frame) (<-chan struct{}, error) {
			req.True(frame.Ack)
			return make(chan struct{}), nil
		}).Times(5)
	recorder.EXPECT().MarkDelivered(gomock.Any(), gomock.Any()).Return(nil).Times(5)

	// When five queued messages are replayed
	start := time.Now()
	for i := 0; i < 5; i++ {
		d := negotiationDelivery()
		d.Replay = true
		result := engine.Deliver(context.Background(), d)
		req.True(result.Delivered)
		req.False(result.Acknowledged)
	}

	// Then none of them held the caller for the ack timeout
	req.Less(time.Since(start), time.Second)
}

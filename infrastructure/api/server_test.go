package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"negotiation-hub/auth"
	"negotiation-hub/infrastructure/identity"
	"negotiation-hub/infrastructure/storage"
	"negotiation-hub/observability"
	"negotiation-hub/runtime"
	"negotiation-hub/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/labstack/echo/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const operatorPassword = "OperatorPassword123!"

type apiFixture struct {
	e      *echo.Echo
	signer *auth.Signer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	signer := auth.NewSigner("api-secret", time.Hour)
	hash, err := auth.HashPassword(operatorPassword)
	require.NoError(t, err)

	repository := storage.NewNegotiationRepository(db, log)
	presenceRegistry := runtime.NewRegistry()
	resolver := identity.NewClaimsResolver(signer)
	engine := runtime.NewDeliveryEngine(presenceRegistry, repository, metrics, log, 50*time.Millisecond)
	jobs := runtime.NewJobStatus()
	presence := services.NewPresenceService(presenceRegistry, resolver, nil, metrics, log)

	e := NewEcho(Deps{
		Signer:      signer,
		Auth:        services.NewAuthService("ops", hash, signer),
		Negotiation: services.NewNegotiationService(repository, engine, jobs, resolver, metrics, log),
		Connections: services.NewConnectionService(presenceRegistry, presence, engine),
		Fanout:      runtime.NewNotificationFanout(engine, jobs, resolver, metrics, log, 4, time.Second),
		Gatherer:    registry,
		Log:         log,
	})
	return &apiFixture{e: e, signer: signer}
}

func (f *apiFixture) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := f.signer.GenerateToken(userID, role, userID)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		request.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.e.ServeHTTP(recorder, request)

	var decoded map[string]any
	if strings.HasPrefix(recorder.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	}
	return recorder.Code, decoded
}

func TestServer_Health(t *testing.T) {
	f := newAPIFixture(t)
	code, body := f.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestServer_SubmitAndComplete(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	alice := f.token(t, "A", "requester")
	bob := f.token(t, "B", "worker")

	code, _ := f.do(t, http.MethodPost, "/api/messages", "", `{}`)
	req.Equal(http.StatusUnauthorized, code)

	// A valid offer is stored and queued for the offline worker
	code, body := f.do(t, http.MethodPost, "/api/messages", alice,
		`{"receiverId":"B","correlationId":"job-1","body":"fix my sink","proposedWage":500}`)
	req.Equal(http.StatusCreated, code)
	req.Equal(true, body["success"])
	req.Equal(true, body["queued"])
	conversationID := body["conversationId"].(string)

	// A missing wage is a validation failure
	code, body = f.do(t, http.MethodPost, "/api/messages", alice,
		`{"receiverId":"B","correlationId":"job-1","body":"again"}`)
	req.Equal(http.StatusBadRequest, code)
	req.Equal(false, body["success"])
	req.NotEmpty(body["violations"])

	// The worker sees the conversation
	code, body = f.do(t, http.MethodGet, "/api/conversations/active", bob, "")
	req.Equal(http.StatusOK, code)
	conversations := body["conversations"].([]any)
	req.Len(conversations, 1)
	req.Equal(1.0, conversations[0].(map[string]any)["unreadCount"])

	// A stranger cannot complete it
	code, _ = f.do(t, http.MethodPost, "/api/conversations/"+conversationID+"/complete", f.token(t, "C", "worker"), `{}`)
	req.Equal(http.StatusForbidden, code)

	code, body = f.do(t, http.MethodPost, "/api/conversations/job-1/complete", bob, `{"finalWage":520}`)
	req.Equal(http.StatusOK, code)
	conversation := body["conversation"].(map[string]any)
	req.Equal("completed", conversation["status"])
	req.Equal(520.0, conversation["finalWage"])

	// Then the job is closed to further offers
	code, body = f.do(t, http.MethodPost, "/api/messages", alice,
		`{"receiverId":"B","correlationId":"job-1","body":"one more","proposedWage":530}`)
	req.Equal(http.StatusConflict, code)
	req.Equal(false, body["success"])

	code, _ = f.do(t, http.MethodPost, "/api/conversations/job-404/complete", bob, `{}`)
	req.Equal(http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/api/history/B?correlationId=job-1", alice, "")
	req.Equal(http.StatusOK, code)
	req.Len(body["messages"].([]any), 1)
}

func TestServer_BookJob(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	alice := f.token(t, "A", "requester")

	code, _ := f.do(t, http.MethodPost, "/api/messages", alice,
		`{"receiverId":"B","correlationId":"job-1","body":"offer","proposedWage":500}`)
	req.Equal(http.StatusCreated, code)

	code, _ = f.do(t, http.MethodPost, "/api/jobs/job-1/booked", f.token(t, "B", "worker"), "")
	req.Equal(http.StatusForbidden, code)

	code, _ = f.do(t, http.MethodPost, "/api/jobs/job-1/booked", f.token(t, "Z", "requester"), "")
	req.Equal(http.StatusForbidden, code)

	code, body := f.do(t, http.MethodPost, "/api/jobs/job-1/booked", alice, "")
	req.Equal(http.StatusOK, code)
	req.Equal(2.0, body["participants"])

	code, body = f.do(t, http.MethodPost, "/api/messages", alice,
		`{"receiverId":"B","correlationId":"job-1","body":"offer","proposedWage":510}`)
	req.Equal(http.StatusConflict, code)
	req.Equal("job already booked", body["reason"])

	code, _ = f.do(t, http.MethodPost, "/api/messages", alice,
		`{"receiverId":"B","correlationId":"job-2","body":"offer","proposedWage":300}`)
	req.Equal(http.StatusCreated, code)
	code, body = f.do(t, http.MethodPost, "/api/jobs/job-2/booked", f.token(t, "ops", "operator"), "")
	req.Equal(http.StatusOK, code)
	req.Equal(2.0, body["participants"])
}

func TestServer_OperatorRoutes(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	code, _ := f.do(t, http.MethodPost, "/auth/login", "", `{"name":"ops","password":"WrongPassword123!"}`)
	req.Equal(http.StatusUnauthorized, code)

	code, body := f.do(t, http.MethodPost, "/auth/login", "", `{"name":"ops","password":"`+operatorPassword+`"}`)
	req.Equal(http.StatusOK, code)
	operator := body["token"].(string)

	code, _ = f.do(t, http.MethodGet, "/admin/connections/stats", f.token(t, "A", "requester"), "")
	req.Equal(http.StatusForbidden, code)

	code, body = f.do(t, http.MethodGet, "/admin/connections/stats", operator, "")
	req.Equal(http.StatusOK, code)
	req.Equal(0.0, body["total"])

	code, body = f.do(t, http.MethodDelete, "/admin/connections/A", operator, "")
	req.Equal(http.StatusOK, code)
	req.Equal(false, body["disconnected"])
	req.Equal("not connected", body["reason"])

	code, _ = f.do(t, http.MethodGet, "/admin/connections?role=admin", operator, "")
	req.Equal(http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodPost, "/admin/connections/A/test", operator, `{"ping":true}`)
	req.Equal(http.StatusOK, code)
	req.Equal(false, body["delivered"])

	// Match dispatch is an operator route; offline candidates are reported, not queued
	code, body = f.do(t, http.MethodPost, "/api/matches", operator,
		`{"requesterId":"A","requesterName":"Alice","correlationId":"job-9","wage":300,"candidates":[{"workerId":"B","distance":1.5,"skills":["plumbing"]},{"workerId":""}]}`)
	req.Equal(http.StatusOK, code)
	results := body["results"].([]any)
	req.Len(results, 2)
	req.Equal("B", results[0].(map[string]any)["workerId"])
	req.NotEmpty(results[1].(map[string]any)["error"])
}

func TestServer_Metrics(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/messages", f.token(t, "A", "requester"),
		`{"receiverId":"B","correlationId":"job-1","body":"offer","proposedWage":500}`)

	request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	f.e.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), `negotiation_submissions_total{result="accepted"} 1`)
}

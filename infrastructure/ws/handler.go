package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"negotiation-hub/auth"
	"negotiation-hub/contract"
	"negotiation-hub/domain"
	"negotiation-hub/domain/event"
	"negotiation-hub/errors"
	"negotiation-hub/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

const defaultReadTimeout = 60 * time.Second

type Presence interface {
	Register(ctx context.Context, credential, participantID string, role domain.Role, handle contract.ConnectionHandle) (services.Registration, error)
	Unregister(handle contract.ConnectionHandle) bool
}

type Options struct {
	SendBuffer    int
	ReadTimeout   time.Duration
	MaxFrameBytes int64
}

// Handler upgrades authenticated requests to participant sessions.
//
//	GET /ws?token=<jwt>[&role=requester|worker]
//
// The role defaults to the one carried by the token.
type Handler struct {
	signer      *auth.Signer
	presence    Presence
	negotiation services.INegotiationService
	log         *slog.Logger
	options     Options
	upgrader    websocket.Upgrader
}

func NewHandler(signer *auth.Signer, presence Presence, negotiation services.INegotiationService, log *slog.Logger, options Options) *Handler {
	if options.ReadTimeout <= 0 {
		options.ReadTimeout = defaultReadTimeout
	}
	if options.MaxFrameBytes <= 0 {
		options.MaxFrameBytes = 1 << 20
	}
	return &Handler{
		signer:      signer,
		presence:    presence,
		negotiation: negotiation,
		log:         log,
		options:     options,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Sessions are authenticated by token, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// session is what one connection knows about the participant behind it.
type session struct {
	conn         *Connection
	registration services.Registration
}

func (h *Handler) Handle(c echo.Context) error {
	token := c.QueryParam("token")
	claims, err := h.signer.ValidateToken(token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": err.Error()})
	}
	roleParam := c.QueryParam("role")
	if roleParam == "" {
		roleParam = claims.Role
	}
	role, err := domain.ParseRole(roleParam)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": err.Error()})
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.log.Debug("Websocket upgrade failed", "error", err)
		return nil
	}

	conn := NewConnection(ws, h.options.SendBuffer, h.log)
	defer conn.Close("session closed")

	// Frames pushed during registration wait in the buffer until the write loop starts.
	ctx := c.Request().Context()
	registration, err := h.presence.Register(ctx, token, claims.UserID, role, conn)
	if err != nil {
		h.log.Warn("Registration refused", "participant_id", claims.UserID, "role", role, "error", err)
		reason := "registration refused"
		if stderrors.Is(err, errors.ErrIdentityUnresolved) {
			reason = "identity unresolved"
		}
		conn.Reject(event.Frame{ID: uuid.NewString(), Type: event.ErrorType, Data: event.ErrorPayload{Error: err.Error()}}, reason)
		return nil
	}
	defer h.presence.Unregister(conn)
	conn.Start()

	h.readLoop(ctx, ws, session{conn: conn, registration: registration})
	return nil
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, s session) {
	ws.SetReadLimit(h.options.MaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.options.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.options.ReadTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!stderrors.Is(err, websocket.ErrCloseSent) {
				h.log.Debug("Session ended", "participant_id", s.registration.ParticipantID, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.options.ReadTimeout))

		var frame event.InboundFrame
		if err = json.Unmarshal(data, &frame); err != nil {
			h.reply(ctx, s.conn, "", event.ErrorType, event.ErrorPayload{Error: "invalid payload"})
			continue
		}

		switch frame.Type {
		case event.AckType:
			s.conn.Acknowledge(frame.ID)
		case event.SubmitType:
			h.handleSubmit(ctx, s, frame)
		case event.ReadType:
			h.handleRead(ctx, s, frame)
		case event.StatusType:
			h.handleStatus(ctx, s, frame)
		default:
			h.reply(ctx, s.conn, frame.ID, event.ErrorType, event.ErrorPayload{Error: "unknown frame type"})
		}
	}
}

func (h *Handler) handleSubmit(ctx context.Context, s session, frame event.InboundFrame) {
	var payload event.SubmitPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		h.reply(ctx, s.conn, frame.ID, event.ErrorType, event.ErrorPayload{Error: "invalid submit payload"})
		return
	}

	result := h.negotiation.Submit(ctx, domain.SubmitMessageCommand{
		SenderID:      s.registration.ParticipantID,
		ReceiverID:    payload.ReceiverID,
		CorrelationID: payload.CorrelationID,
		Body:          payload.Body,
		SenderRole:    s.registration.Role,
		SenderName:    s.registration.DisplayName,
		ProposedWage:  payload.ProposedWage,
		Status:        domain.MessageStatus(payload.Status),
		Description:   payload.Description,
	})
	h.reply(ctx, s.conn, frame.ID, event.SubmitResultType, result.Payload())
}

func (h *Handler) handleRead(ctx context.Context, s session, frame event.InboundFrame) {
	var payload event.ReadPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		h.reply(ctx, s.conn, frame.ID, event.ErrorType, event.ErrorPayload{Error: "invalid read payload"})
		return
	}
	updated, err := h.negotiation.MarkRead(ctx, payload.MessageIDs, s.registration.ParticipantID)
	if err != nil {
		h.reply(ctx, s.conn, frame.ID, event.ErrorType, event.ErrorPayload{Error: err.Error()})
		return
	}
	h.reply(ctx, s.conn, frame.ID, event.ReadResultType, event.ReadResultPayload{Updated: updated})
}

func (h *Handler) handleStatus(ctx context.Context, s session, frame event.InboundFrame) {
	var payload event.StatusPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		h.reply(ctx, s.conn, frame.ID, event.ErrorType, event.ErrorPayload{Error: "invalid status payload"})
		return
	}
	message, err := h.negotiation.UpdateMessageStatus(ctx, domain.UpdateMessageStatusCommand{
		MessageID: payload.MessageID,
		Status:    domain.MessageStatus(payload.Status),
		ActorID:   s.registration.ParticipantID,
	})
	if err != nil {
		h.reply(ctx, s.conn, frame.ID, event.StatusResultType, event.StatusResultPayload{Error: err.Error()})
		return
	}
	h.reply(ctx, s.conn, frame.ID, event.StatusResultType, event.StatusResultPayload{
		Success: true,
		Message: lo.ToPtr(event.FromMessage(message)),
	})
}

// reply pushes a frame answering inbound frame id, or a fresh id for unsolicited frames.
func (h *Handler) reply(ctx context.Context, conn *Connection, id string, t event.Type, data any) {
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := conn.Push(ctx, event.Frame{ID: id, Type: t, Data: data}); err != nil {
		h.log.Debug("Unable to reply", "connection_id", conn.ID(), "type", t, "error", err)
	}
}

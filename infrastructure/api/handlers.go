package api

import (
	"net/http"
	"time"

	"negotiation-hub/domain"
	"negotiation-hub/domain/event"
	"negotiation-hub/errors"
	"negotiation-hub/runtime"
	"negotiation-hub/services"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type completeRequest struct {
	FinalWage *float64 `json:"finalWage"`
}

type matchRequest struct {
	RequesterID   string             `json:"requesterId"`
	RequesterName string             `json:"requesterName"`
	CorrelationID string             `json:"correlationId"`
	Wage          float64            `json:"wage"`
	Description   string             `json:"description"`
	Candidates    []candidateRequest `json:"candidates"`
}

type candidateRequest struct {
	WorkerID string   `json:"workerId"`
	Distance float64  `json:"distance"`
	Skills   []string `json:"skills"`
}

type conversationResponse struct {
	ID            string     `json:"id"`
	CorrelationID string     `json:"correlationId"`
	RequesterID   string     `json:"requesterId"`
	WorkerID      string     `json:"workerId"`
	Description   string     `json:"description,omitempty"`
	InitialWage   float64    `json:"initialWage"`
	FinalWage     *float64   `json:"finalWage,omitempty"`
	Status        string     `json:"status"`
	LastMessageAt time.Time  `json:"lastMessageAt"`
	MessageCount  int        `json:"messageCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CompletedBy   string     `json:"completedBy,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy   string     `json:"cancelledBy,omitempty"`
}

type historyEntryResponse struct {
	event.MessagePayload
	ReceiverName string `json:"receiverName"`
}

type summaryResponse struct {
	ConversationID string               `json:"conversationId"`
	CorrelationID  string               `json:"correlationId"`
	CounterpartyID string               `json:"counterpartyId"`
	LastMessage    event.MessagePayload `json:"lastMessage"`
	UnreadCount    int                  `json:"unreadCount"`
	Status         string               `json:"status"`
}

type presenceResponse struct {
	ParticipantID string    `json:"participantId"`
	Role          string    `json:"role"`
	DisplayName   string    `json:"displayName"`
	ConnectionID  string    `json:"connectionId"`
	RegisteredAt  time.Time `json:"registeredAt"`
}

func toConversation(c domain.Conversation) conversationResponse {
	return conversationResponse{
		ID:            c.ID,
		CorrelationID: c.CorrelationID,
		RequesterID:   c.RequesterID,
		WorkerID:      c.WorkerID,
		Description:   c.Description,
		InitialWage:   c.InitialWage,
		FinalWage:     c.FinalWage,
		Status:        string(c.Status),
		LastMessageAt: c.LastMessageAt,
		MessageCount:  c.MessageCount,
		CreatedAt:     c.CreatedAt,
		CompletedAt:   c.CompletedAt,
		CompletedBy:   c.CompletedBy,
		CancelledAt:   c.CancelledAt,
		CancelledBy:   c.CancelledBy,
	}
}

func toPresences(sessions []services.Presence) []presenceResponse {
	return lo.Map(sessions, func(p services.Presence, _ int) presenceResponse {
		return presenceResponse{
			ParticipantID: p.ParticipantID,
			Role:          string(p.Role),
			DisplayName:   p.DisplayName,
			ConnectionID:  p.ConnectionID,
			RegisteredAt:  p.RegisteredAt,
		}
	})
}

// POST /auth/login
func (s *Server) login(c echo.Context) error {
	req := new(loginRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request")
	}
	token, err := s.deps.Auth.Login(req.Name, req.Password)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "token": token.String()})
}

// POST /api/messages
func (s *Server) submit(c echo.Context) error {
	req := new(event.SubmitPayload)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request")
	}
	result := s.deps.Negotiation.Submit(c.Request().Context(), domain.SubmitMessageCommand{
		SenderID:      callerID(c),
		ReceiverID:    req.ReceiverID,
		CorrelationID: req.CorrelationID,
		Body:          req.Body,
		SenderRole:    domain.Role(callerRole(c)),
		SenderName:    callerName(c),
		ProposedWage:  req.ProposedWage,
		Status:        domain.MessageStatus(req.Status),
		Description:   req.Description,
	})
	if !result.Success {
		return c.JSON(errors.MapToHTTPStatus(result.Err), result.Payload())
	}
	return c.JSON(http.StatusCreated, result.Payload())
}

// POST /api/messages/read
func (s *Server) markRead(c echo.Context) error {
	req := new(event.ReadPayload)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request")
	}
	updated, err := s.deps.Negotiation.MarkRead(c.Request().Context(), req.MessageIDs, callerID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "updated": updated})
}

// PATCH /api/messages/:id/status
func (s *Server) updateStatus(c echo.Context) error {
	req := new(event.StatusPayload)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request")
	}
	message, err := s.deps.Negotiation.UpdateMessageStatus(c.Request().Context(), domain.UpdateMessageStatusCommand{
		MessageID: c.Param("id"),
		Status:    domain.MessageStatus(req.Status),
		ActorID:   callerID(c),
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": event.FromMessage(message)})
}

// GET /api/history/:counterpartyId?correlationId=
func (s *Server) history(c echo.Context) error {
	var correlationID *string
	if raw := c.QueryParam("correlationId"); raw != "" {
		correlationID = &raw
	}
	entries, err := s.deps.Negotiation.History(c.Request().Context(), callerToken(c), callerID(c), c.Param("counterpartyId"), correlationID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"messages": lo.Map(entries, func(e domain.HistoryEntry, _ int) historyEntryResponse {
			return historyEntryResponse{MessagePayload: event.FromMessage(e.Message), ReceiverName: e.ReceiverName}
		}),
	})
}

// GET /api/conversations/active
func (s *Server) activeConversations(c echo.Context) error {
	summaries, err := s.deps.Negotiation.ActiveConversations(c.Request().Context(), callerID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"conversations": lo.Map(summaries, func(cs domain.ConversationSummary, _ int) summaryResponse {
			return summaryResponse{
				ConversationID: cs.ConversationID,
				CorrelationID:  cs.CorrelationID,
				CounterpartyID: cs.CounterpartyID,
				LastMessage:    event.FromMessage(cs.LastMessage),
				UnreadCount:    cs.UnreadCount,
				Status:         string(cs.Status),
			}
		}),
	})
}

// POST /api/conversations/:ref/complete
func (s *Server) complete(c echo.Context) error {
	req := new(completeRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request")
	}
	conversation, err := s.deps.Negotiation.CompleteConversation(c.Request().Context(), domain.CompleteConversationCommand{
		Ref:         c.Param("ref"),
		FinalWage:   req.FinalWage,
		CompletedBy: callerID(c),
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "conversation": toConversation(conversation)})
}

// POST /api/conversations/:ref/cancel
func (s *Server) cancel(c echo.Context) error {
	conversation, err := s.deps.Negotiation.CancelConversation(c.Request().Context(), c.Param("ref"), callerID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "conversation": toConversation(conversation)})
}

// POST /api/jobs/:correlationId/booked
func (s *Server) bookJob(c echo.Context) error {
	result, err := s.deps.Negotiation.BookJob(c.Request().Context(), c.Param("correlationId"), callerID(c), isOperator(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":       true,
		"correlationId": result.CorrelationID,
		"participants":  result.Participants,
		"notified":      result.Notified,
	})
}

// POST /api/matches
func (s *Server) dispatch(c echo.Context) error {
	req := new(matchRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request")
	}
	results := s.deps.Fanout.Dispatch(c.Request().Context(), domain.MatchBatch{
		Requester: domain.MatchRequester{
			RequesterID:   req.RequesterID,
			RequesterName: req.RequesterName,
			CorrelationID: req.CorrelationID,
			Wage:          req.Wage,
			Description:   req.Description,
		},
		Candidates: lo.Map(req.Candidates, func(cr candidateRequest, _ int) domain.Candidate {
			return domain.Candidate{WorkerID: cr.WorkerID, Distance: cr.Distance, Skills: cr.Skills}
		}),
		Timestamp:  time.Now().UTC(),
		Credential: callerToken(c),
	})
	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"delivered": lo.CountBy(results, func(r runtime.CandidateResult) bool { return r.Delivered }),
		"results":   results,
	})
}

// GET /admin/connections?role=
func (s *Server) listConnections(c echo.Context) error {
	role, err := optionalRole(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"participants": toPresences(services.Presences(s.deps.Connections.List(role))),
	})
}

// GET /admin/connections/stats
func (s *Server) connectionStats(c echo.Context) error {
	stats := s.deps.Connections.Stats()
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"requesters":   stats.Requesters,
		"workers":      stats.Workers,
		"total":        stats.Total,
		"requesterIds": stats.RequesterIDs,
		"workerIds":    stats.WorkerIDs,
	})
}

// GET /admin/connections/:id
func (s *Server) connectionStatus(c echo.Context) error {
	status := s.deps.Connections.Status(c.Param("id"))
	return c.JSON(http.StatusOK, echo.Map{
		"success":       true,
		"participantId": status.ParticipantID,
		"connected":     status.Connected,
		"sessions":      toPresences(status.Sessions),
	})
}

// DELETE /admin/connections/:id?role=
func (s *Server) disconnect(c echo.Context) error {
	role, err := optionalRole(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	result := s.deps.Connections.Disconnect(c.Param("id"), role)
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"disconnected": result.Disconnected,
		"reason":       result.Reason,
		"roles":        result.Roles,
	})
}

// POST /admin/connections/:id/test?role=
func (s *Server) sendTest(c echo.Context) error {
	role, err := optionalRole(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var payload map[string]any
	if err = (&echo.DefaultBinder{}).BindBody(c, &payload); err != nil {
		return badRequest(c, "invalid request")
	}
	result := s.deps.Connections.SendTest(c.Request().Context(), c.Param("id"), role, payload)
	response := echo.Map{
		"success":      result.Delivered,
		"delivered":    result.Delivered,
		"acknowledged": result.Acknowledged,
	}
	if !result.Delivered {
		response["reason"] = "not connected"
		if result.Err != nil {
			response["reason"] = result.Err.Error()
		}
	}
	return c.JSON(http.StatusOK, response)
}

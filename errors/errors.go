package errors

import "fmt"

var (
	ErrWorkerPanic             = fmt.Errorf("worker panic")
	ErrValidation              = fmt.Errorf("validation failed")
	ErrIdentityUnresolved      = fmt.Errorf("identity could not be resolved")
	ErrInvalidToken            = fmt.Errorf("invalid or expired token")
	ErrJobBooked               = fmt.Errorf("job already booked")
	ErrConversationClosed      = fmt.Errorf("conversation already closed")
	ErrConversationNotFound    = fmt.Errorf("conversation not found")
	ErrMessageNotFound         = fmt.Errorf("message not found")
	ErrNotParticipant          = fmt.Errorf("not a participant in this conversation")
	ErrInvalidStatusTransition = fmt.Errorf("invalid message status transition")
	ErrRoleMismatch            = fmt.Errorf("participant roles do not match the conversation")
	ErrConnectionClosed        = fmt.Errorf("connection closed")
	ErrSendBufferFull          = fmt.Errorf("connection send buffer exceeded")
	ErrInvalidCredentials      = fmt.Errorf("invalid credentials")
	ErrTokenGeneration         = fmt.Errorf("unable to generate token")
)

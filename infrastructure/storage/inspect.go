package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/mama165/sdk-go/database"
)

// Record kinds reported by Describe.
const (
	KindMessage      = "MESSAGE"
	KindConversation = "CONVERSATION"
	KindOutbox       = "OUTBOX"
	KindIndex        = "INDEX"
)

// Described is a stored value rendered for inspection tools.
type Described struct {
	Kind      string
	EntityID  string
	Timestamp time.Time
	Detail    string
}

// Describe decodes the value stored under key. Index and outbox entries only point at
// a message id, so their key is the detail.
func Describe(key string, val []byte) (Described, error) {
	switch {
	case strings.HasPrefix(key, "msg:"):
		m, err := decodeMessage(val)
		if err != nil {
			return Described{Kind: KindMessage}, err
		}
		return Described{
			Kind:      KindMessage,
			EntityID:  m.ID.String(),
			Timestamp: m.CreatedAt,
			Detail: fmt.Sprintf("%s %s -> %s [%s] %.2f %s read=%t delivered=%t",
				m.CorrelationID, m.SenderID, m.ReceiverID, m.SenderRole, m.ProposedWage, m.Status, m.Read, m.DeliveredAt != nil),
		}, nil
	case strings.HasPrefix(key, "conv:"):
		c, err := decodeConversation(val)
		if err != nil {
			return Described{Kind: KindConversation}, err
		}
		return Described{
			Kind:      KindConversation,
			EntityID:  c.ID,
			Timestamp: c.LastMessageAt,
			Detail: fmt.Sprintf("%s %s/%s %s messages=%d initial=%.2f",
				c.CorrelationID, c.RequesterID, c.WorkerID, c.Status, c.MessageCount, c.InitialWage),
		}, nil
	case strings.HasPrefix(key, "outbox:"):
		return Described{Kind: KindOutbox, EntityID: string(val), Detail: key}, nil
	}
	return Described{Kind: KindIndex, EntityID: string(val), Detail: key}, nil
}

// InspectMapper renders hub records in the badger debug inspector.
func InspectMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	described, err := Describe(key, val)
	row.Type = described.Kind
	if err != nil {
		row.Detail = "Error: decode failed"
		return row
	}
	row.Detail = described.Detail
	if described.EntityID != "" {
		row.EntityID = described.EntityID
	}
	if !described.Timestamp.IsZero() {
		row.Timestamp = described.Timestamp.Format("15:04:05")
	}
	return row
}

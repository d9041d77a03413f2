package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeRecordStored is emitted after a memory record is persisted.
	EventTypeRecordStored = "memory.record.stored"

	// EventTypeUserReset is emitted after every record for a user is deleted.
	EventTypeUserReset = "memory.user.reset"

	// EventTypeFactForgotten is emitted after a single fact is deleted.
	EventTypeFactForgotten = "memory.fact.forgotten"
)

// MemoryEvent is a transport-neutral event payload for a memory change.
type MemoryEvent struct {
	SchemaVersion int         `json:"schema_version"`
	EventType     string      `json:"event_type"`
	EventID       string      `json:"event_id"`
	EmittedAt     time.Time   `json:"emitted_at"`
	UserID        string      `json:"user_id"`
	Platform      string      `json:"platform,omitempty"`
	Record        *RecordMeta `json:"record,omitempty"`
}

// RecordMeta describes the stored record. Text and embeddings are never
// published.
type RecordMeta struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Role      string    `json:"role,omitempty"`
	FactKey   string    `json:"fact_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq"`
}

// NewEvent builds a versioned event with a fresh ID.
func NewEvent(eventType, userID, platform string, now time.Time) *MemoryEvent {
	return &MemoryEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     now.UTC(),
		UserID:        userID,
		Platform:      platform,
	}
}

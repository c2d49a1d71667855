package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventType_StudentCheckin  EventType = "student_checkin"
	EventType_StudentCheckout EventType = "student_checkout"
	EventType_ActivityStart   EventType = "activity_start"
	EventType_ActivityEnd     EventType = "activity_end"
	EventType_ActivityUpdate  EventType = "activity_update"
)

// DefaultEventCatalog lists the named SSE event types delivered by the backend.
func DefaultEventCatalog() []EventType {
	return []EventType{
		EventType_StudentCheckin,
		EventType_StudentCheckout,
		EventType_ActivityStart,
		EventType_ActivityEnd,
		EventType_ActivityUpdate,
	}
}

// IncomingEvent is a single push message as sent by the backend on either the
// default channel or a named channel matching Type.
type IncomingEvent struct {
	Type          EventType `json:"type" validate:"required"`
	ActiveGroupID ID        `json:"active_group_id"`
	Data          EventData `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
}

type EventData struct {
	StudentID      ID     `json:"student_id,omitempty"`
	StudentName    string `json:"student_name,omitempty"`
	SchoolClass    string `json:"school_class,omitempty"`
	GroupName      string `json:"group_name,omitempty"`
	ActivityName   string `json:"activity_name,omitempty"`
	RoomID         ID     `json:"room_id,omitempty"`
	RoomName       string `json:"room_name,omitempty"`
	SupervisorIDs  []ID   `json:"supervisor_ids,omitempty"`
	Source         string `json:"source,omitempty"`
	LocationStatus string `json:"location_status,omitempty"`
}

// ID is an entity identifier. The backend emits ids either as JSON strings or
// as JSON numbers; both decode to the same textual form.
type ID string

func (id *ID) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		*id = ""
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", raw, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

package webhook

import (
	"time"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
)

type EventType string

const (
	EventSessionInitializing EventType = "session.initializing"
	EventSessionAwaitingScan EventType = "session.awaiting_scan"
	EventSessionConnected    EventType = "session.connected"
	EventSessionReconnecting EventType = "session.reconnecting"
	EventSessionLoggedOut    EventType = "session.logged_out"
	EventSessionFailed       EventType = "session.failed"
)

func eventTypeFor(status session.Status) EventType {
	return EventType("session." + string(status))
}

type WebhookEvent struct {
	EventType EventType              `json:"event_type"`
	UserID    string                 `json:"user_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Stats counts deliveries since the engine started.
type Stats struct {
	Targets   int   `json:"targets"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

package monitor

import (
	"time"

	"github.com/tablewatch/tablewatch/activitylog"
	"github.com/tablewatch/tablewatch/telemetry"
)

// Event types delivered to subscribers
const (
	TypeInsert = "INSERT"
	TypeUpdate = "UPDATE"
	TypeDelete = "DELETE"
	TypeInfo   = "INFO"
)

// Event is the normalized change notification pushed to subscribers
type Event struct {
	ID           int64     `json:"id" msgpack:"id"`
	Type         string    `json:"type" msgpack:"type"`
	Table        string    `json:"table" msgpack:"table"`
	RecordID     string    `json:"recordId" msgpack:"record_id"`
	Details      string    `json:"details" msgpack:"details"`
	Timestamp    time.Time `json:"timestamp" msgpack:"ts"`
	ConnectionID string    `json:"connectionId" msgpack:"connection"`
	// Replay marks log rows re-read by a session start rather than observed
	// by polling; they may have been delivered by an earlier session.
	Replay       bool      `json:"replay,omitempty" msgpack:"replay,omitempty"`
}

// FromRecord normalizes an activity log row
func FromRecord(connectionID string, r activitylog.Record) Event {
	return Event{
		ID:           r.ID,
		Type:         r.Action,
		Table:        r.TableName,
		RecordID:     r.RecordID,
		Details:      r.Details,
		Timestamp:    r.CreatedAt,
		ConnectionID: connectionID,
	}
}

func infoEvent(connectionID, message string) Event {
	return Event{
		Type:         TypeInfo,
		Details:      message,
		Timestamp:    time.Now(),
		ConnectionID: connectionID,
	}
}

// Subscriber receives events. Deliver is called sequentially per session and
// must not block for long; it stalls that session's poll loop.
type Subscriber interface {
	Deliver(ev Event)
}

// SubscriberFunc adapts a function to Subscriber
type SubscriberFunc func(Event)

func (f SubscriberFunc) Deliver(ev Event) { f(ev) }

// Fanout delivers every event to each subscriber in order
type Fanout []Subscriber

func (f Fanout) Deliver(ev Event) {
	for _, s := range f {
		s.Deliver(ev)
	}
}

func deliver(sub Subscriber, ev Event) {
	sub.Deliver(ev)
	telemetry.EventsDeliveredTotal.With(ev.Type).Inc()
}

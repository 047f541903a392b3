package publisher

import "github.com/tablewatch/tablewatch/monitor"

// Exportable reports whether a delivered event belongs in the publish log.
// INFO status messages are session chatter and stay local.
func Exportable(ev monitor.Event) bool {
	return ev.Type != monitor.TypeInfo && ev.Table != ""
}

// ConvertEvents converts delivered monitoring events to export events,
// dropping the ones that are not exportable
func ConvertEvents(events []monitor.Event) []ExportEvent {
	out := make([]ExportEvent, 0, len(events))
	for _, ev := range events {
		if !Exportable(ev) {
			continue
		}
		out = append(out, ExportEvent{
			SeqNum:       0, // Will be assigned by PublishLog
			ConnectionID: ev.ConnectionID,
			EventID:      ev.ID,
			Type:         ev.Type,
			Table:        ev.Table,
			RecordID:     ev.RecordID,
			Details:      ev.Details,
			Timestamp:    ev.Timestamp.UnixMilli(),
		})
	}
	return out
}

// Package transformer provides publisher.Transformer implementations that turn
// export events into sink payloads.
package transformer

import (
	"encoding/json"
	"strings"

	"github.com/tablewatch/tablewatch/monitor"
	"github.com/tablewatch/tablewatch/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return NewJSONTransformer()
	})
}

// JSONTransformer renders events as a JSON envelope with a short op code and
// a source block, loosely following the Debezium payload layout so existing
// consumers can route on op and source.table.
type JSONTransformer struct {
	connectorName string
}

// NewJSONTransformer creates a JSON envelope transformer
func NewJSONTransformer() *JSONTransformer {
	return &JSONTransformer{connectorName: "tablewatch"}
}

type jsonEnvelope struct {
	Op     string                `json:"op"`
	TsMs   int64                 `json:"ts_ms"`
	Source jsonSource            `json:"source"`
	Event  publisher.ExportEvent `json:"event"`
}

type jsonSource struct {
	Connector  string `json:"connector"`
	Connection string `json:"connection"`
	Table      string `json:"table"`
	Seq        uint64 `json:"seq"`
}

// Transform implements publisher.Transformer
func (t *JSONTransformer) Transform(ev publisher.ExportEvent) ([]byte, error) {
	return json.Marshal(jsonEnvelope{
		Op:   opCode(ev.Type),
		TsMs: ev.Timestamp,
		Source: jsonSource{
			Connector:  t.connectorName,
			Connection: ev.ConnectionID,
			Table:      ev.Table,
			Seq:        ev.SeqNum,
		},
		Event: ev,
	})
}

// opCode maps change types to c/u/d; statement types from processlist
// sampling are lower-cased as is
func opCode(typ string) string {
	switch typ {
	case monitor.TypeInsert:
		return "c"
	case monitor.TypeUpdate:
		return "u"
	case monitor.TypeDelete:
		return "d"
	default:
		return strings.ToLower(typ)
	}
}

package transformer

import (
	"github.com/tablewatch/tablewatch/encoding"
	"github.com/tablewatch/tablewatch/publisher"
)

func init() {
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer {
		return MsgpackTransformer{}
	})
}

// MsgpackTransformer encodes the export event as-is with its msgpack tags
type MsgpackTransformer struct{}

// Transform implements publisher.Transformer
func (MsgpackTransformer) Transform(ev publisher.ExportEvent) ([]byte, error) {
	return encoding.Marshal(&ev)
}

package transformer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tablewatch/tablewatch/encoding"
	"github.com/tablewatch/tablewatch/publisher"
)

func sampleEvent(typ string) publisher.ExportEvent {
	return publisher.ExportEvent{
		SeqNum:       9,
		ConnectionID: "local",
		EventID:      42,
		Type:         typ,
		Table:        "users",
		RecordID:     "7",
		Details:      "name: a → b",
		Timestamp:    1702345678901,
	}
}

func TestJSONTransformer_Envelope(t *testing.T) {
	data, err := NewJSONTransformer().Transform(sampleEvent("UPDATE"))
	require.NoError(t, err)

	var out struct {
		Op     string `json:"op"`
		TsMs   int64  `json:"ts_ms"`
		Source struct {
			Connector  string `json:"connector"`
			Connection string `json:"connection"`
			Table      string `json:"table"`
			Seq        uint64 `json:"seq"`
		} `json:"source"`
		Event map[string]any `json:"event"`
	}
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, "u", out.Op)
	assert.Equal(t, int64(1702345678901), out.TsMs)
	assert.Equal(t, "tablewatch", out.Source.Connector)
	assert.Equal(t, "local", out.Source.Connection)
	assert.Equal(t, "users", out.Source.Table)
	assert.Equal(t, uint64(9), out.Source.Seq)
	assert.Equal(t, "7", out.Event["recordId"])
	assert.Equal(t, "name: a → b", out.Event["details"])
}

func TestOpCode(t *testing.T) {
	for typ, want := range map[string]string{
		"INSERT": "c",
		"UPDATE": "u",
		"DELETE": "d",
		"SELECT": "select",
		"ALTER":  "alter",
	} {
		assert.Equal(t, want, opCode(typ), typ)
	}
}

func TestMsgpackTransformer(t *testing.T) {
	in := sampleEvent("DELETE")
	data, err := MsgpackTransformer{}.Transform(in)
	require.NoError(t, err)

	var out publisher.ExportEvent
	require.NoError(t, encoding.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

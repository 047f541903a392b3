package transformer

import "github.com/tablewatch/tablewatch/publisher"

var (
	_ publisher.Transformer = (*JSONTransformer)(nil)
	_ publisher.Transformer = MsgpackTransformer{}
)

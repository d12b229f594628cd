// Package proxy implements the multiplexing transport of spec §4.4
// (ProxySocket/ProxiedSocket) and the parent-side proxy runtime client
// of spec §4.7 (Proxy).
package proxy

import "github.com/vmihailenco/msgpack/v5"

// DefaultUnhandledWatermark bounds the backlog of frames addressed to
// logical ids nobody has drained yet; exceeding it is a fatal proxy
// error (spec §4.4).
const DefaultUnhandledWatermark = 4096

// envelope is the wire shape of spec's ProxyMessage: { logicalWorkerId
// string|null, innerMessage Message }. Inner carries an
// already-encoded message.Envelope, so the proxy layer never needs to
// understand its contents, only its addressing.
type envelope struct {
	LogicalID *string `msgpack:"logical_id,omitempty"`
	Inner     []byte  `msgpack:"inner"`
}

func encodeEnvelope(id *string, inner []byte) ([]byte, error) {
	return msgpack.Marshal(envelope{LogicalID: id, Inner: inner})
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var e envelope
	err := msgpack.Unmarshal(raw, &e)
	return e, err
}

// key returns the bucket key for a logical id: "" for the null
// (proxy-runtime-addressed) id.
func key(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

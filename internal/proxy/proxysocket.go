package proxy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pavog/taskmaster/internal/message"
	"github.com/pavog/taskmaster/internal/socket"
)

// ProxySocket multiplexes many logical worker channels over one
// physical Framed transport (spec §4.4). Frames are ProxyMessage
// envelopes carrying a logical id and an opaque inner payload; frames
// nobody has claimed yet accumulate per id in unhandled, bounded by
// watermark.
type ProxySocket struct {
	sock      socket.Framed
	watermark int
	logger    *slog.Logger

	mu        sync.Mutex
	unhandled map[string][][]byte
}

// NewProxySocket wraps sock. watermark <= 0 uses
// DefaultUnhandledWatermark.
func NewProxySocket(sock socket.Framed, watermark int, logger *slog.Logger) *ProxySocket {
	if watermark <= 0 {
		watermark = DefaultUnhandledWatermark
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxySocket{
		sock:      sock,
		watermark: watermark,
		logger:    logger,
		unhandled: make(map[string][][]byte),
	}
}

// SendProxyMessage wraps inner with id and writes it to the underlying
// transport.
func (p *ProxySocket) SendProxyMessage(id *string, inner []byte) bool {
	data, err := encodeEnvelope(id, inner)
	if err != nil {
		p.logger.Warn("proxysocket: encode failed", "error", err)
		return false
	}
	return p.sock.Send(data)
}

// pump reads every frame currently available on the underlying
// transport and buckets it by logical id. Returns an error if any
// bucket exceeds watermark, which the caller must treat as fatal.
func (p *ProxySocket) pump() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, raw := range p.sock.Receive() {
		env, err := decodeEnvelope(raw)
		if err != nil {
			p.logger.Warn("proxysocket: decode failed", "error", err)
			continue
		}
		k := key(env.LogicalID)
		bucket := append(p.unhandled[k], env.Inner)
		if len(bucket) > p.watermark {
			return fmt.Errorf("proxysocket: unhandled backlog for id %q exceeds watermark %d", k, p.watermark)
		}
		p.unhandled[k] = bucket
	}
	return nil
}

// ReceiveRawProxyMessages pumps the transport and returns the
// still-encoded inner payloads addressed to id, removing them from the
// backlog. Used where the caller will decode the payload itself
// (ProxiedSocket.Receive satisfying the Framed contract).
func (p *ProxySocket) ReceiveRawProxyMessages(id *string) ([][]byte, error) {
	if err := p.pump(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key(id)
	out := p.unhandled[k]
	delete(p.unhandled, k)
	return out, nil
}

// ReceiveProxyMessages is ReceiveRawProxyMessages followed by
// message.Decode of each payload, for callers that operate on
// envelopes directly (the Proxy's own control channel).
func (p *ProxySocket) ReceiveProxyMessages(id *string) ([]message.Envelope, error) {
	raws, err := p.ReceiveRawProxyMessages(id)
	if err != nil {
		return nil, err
	}
	envs := make([]message.Envelope, 0, len(raws))
	for _, raw := range raws {
		env, err := message.Decode(raw)
		if err != nil {
			p.logger.Warn("proxysocket: malformed inner message", "error", err)
			continue
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (p *ProxySocket) Close() error { return p.sock.Close() }

func (p *ProxySocket) IsOpen() bool { return p.sock.IsOpen() }

func (p *ProxySocket) SelectableReadHandle() (int, bool) { return p.sock.SelectableReadHandle() }

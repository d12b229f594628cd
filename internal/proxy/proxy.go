package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavog/taskmaster/internal/message"
	"github.com/pavog/taskmaster/internal/mux"
	"github.com/pavog/taskmaster/internal/protocol"
	"github.com/pavog/taskmaster/internal/spawn"
)

// ErrNotRunning is returned when a control request is attempted before
// Start or after the proxy runtime has exited.
var ErrNotRunning = errors.New("proxy: not running")

// DefaultStopPollInterval is how often Stop checks IsRunning while
// waiting for the runtime to exit, the second of the two blocking
// suspension points allowed in the parent (spec §5).
const DefaultStopPollInterval = 10 * time.Millisecond

// Proxy is the parent-side client of a single proxy runtime process,
// multiplexing every ForkViaProxy worker instance over one physical
// transport (spec §4.7).
type Proxy struct {
	spawner spawn.ChildSpawner
	logger  *slog.Logger
	mux     *mux.Mux
	idGen   message.IDGenerator
	pending *message.PendingTable

	mu      sync.Mutex
	psock   *ProxySocket
	running bool
}

// New returns a Proxy that will spawn its runtime via spawner.
func New(spawner spawn.ChildSpawner, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		spawner: spawner,
		logger:  logger,
		mux:     mux.New(),
		pending: message.NewPendingTable(),
	}
}

// Start spawns the proxy runtime process.
func (p *Proxy) Start(ctx context.Context) error {
	sock, err := p.spawner.Spawn(ctx)
	if err != nil {
		return fmt.Errorf("proxy: spawn: %w", err)
	}
	p.mu.Lock()
	p.psock = NewProxySocket(sock, DefaultUnhandledWatermark, p.logger)
	p.running = true
	p.mu.Unlock()
	return nil
}

// IsRunning reports whether the runtime process is believed alive.
func (p *Proxy) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Proxy) sendControl(typ string, payload []byte) (*message.Promise, error) {
	p.mu.Lock()
	psock := p.psock
	running := p.running
	p.mu.Unlock()
	if psock == nil || !running {
		return nil, ErrNotRunning
	}

	reqID := p.idGen.Next()
	env := message.Envelope{ID: reqID, Kind: message.KindRequest, Type: typ, Data: payload}
	encoded, err := message.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("proxy: encode control request: %w", err)
	}

	prom := message.NewPromise()
	p.pending.Register(reqID, prom)
	if !psock.SendProxyMessage(nil, encoded) {
		return nil, errors.New("proxy: control send failed")
	}
	return prom, nil
}

// StartWorkerInstance asks the runtime to start a new logical worker
// identified by instanceID. The resolved Promise carries the runtime's
// Response/ErrorResponse envelope; on success the caller should obtain
// a transport for the new instance via OpenInstanceSocket.
func (p *Proxy) StartWorkerInstance(instanceID string, descriptor []byte) (*message.Promise, error) {
	payload, err := message.EncodePayload(protocol.StartWorkerInstanceRequest{
		InstanceID: instanceID,
		Descriptor: descriptor,
	})
	if err != nil {
		return nil, err
	}
	return p.sendControl(protocol.TypeStartWorkerInstanceRequest, payload)
}

// StopWorkerInstance asks the runtime to tear down a logical worker.
func (p *Proxy) StopWorkerInstance(instanceID string) (*message.Promise, error) {
	payload, err := message.EncodePayload(protocol.StopWorkerInstanceRequest{InstanceID: instanceID})
	if err != nil {
		return nil, err
	}
	return p.sendControl(protocol.TypeStopWorkerInstanceRequest, payload)
}

// OpenInstanceSocket returns a Framed bound to instanceID, tunneled
// over this proxy's physical transport.
func (p *Proxy) OpenInstanceSocket(instanceID string) (*ProxiedSocket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.psock == nil {
		return nil, ErrNotRunning
	}
	return NewProxiedSocket(p.psock, instanceID), nil
}

// Update pumps the proxy-level (null id) channel: requests from the
// runtime are dispatched through mux and answered, responses to our
// own control requests resolve and flush their Promise. Logical-id
// traffic is left untouched in the shared backlog for each instance's
// own ProxiedSocket to drain lazily.
func (p *Proxy) Update() {
	p.mu.Lock()
	psock := p.psock
	p.mu.Unlock()
	if psock == nil {
		return
	}

	envs, err := psock.ReceiveProxyMessages(nil)
	if err != nil {
		p.fail(err)
		return
	}

	for _, env := range envs {
		switch env.Kind {
		case message.KindRequest:
			resp := p.mux.Dispatch(env)
			encoded, encErr := message.Encode(resp)
			if encErr != nil {
				p.logger.Warn("proxy: encode response failed", "error", encErr)
				continue
			}
			psock.SendProxyMessage(nil, encoded)
		case message.KindResponse:
			if prom, ok := p.pending.Resolve(env.CorrelationID, env); ok {
				prom.Flush()
			} else {
				p.logger.Warn("proxy: response for unknown request", "correlation_id", env.CorrelationID)
			}
		}
	}

	if !psock.IsOpen() {
		p.fail(errors.New("proxy: transport closed"))
	}
}

// fail marks the proxy dead and closes its physical transport so every
// instance tunneled through it (spec §7: "A proxy failure fails every
// instance routed through it") observes IsOpen() == false on its own
// ProxiedSocket and transitions to FAILED through its normal path.
func (p *Proxy) fail(err error) {
	p.mu.Lock()
	p.running = false
	psock := p.psock
	p.mu.Unlock()
	if psock != nil {
		psock.Close()
	}
	p.logger.Error("proxy: fatal", "error", err)
	for _, prom := range p.pending.FailAll(err) {
		prom.Flush()
	}
}

// SelectableReadHandle exposes the single physical fd carrying every
// instance tunneled through this proxy, for the orchestrator's poll
// set.
func (p *Proxy) SelectableReadHandle() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.psock == nil {
		return 0, false
	}
	return p.psock.SelectableReadHandle()
}

// Stop asks the runtime to terminate and blocks, polling IsRunning,
// until it exits or ctx is done.
func (p *Proxy) Stop(ctx context.Context) error {
	payload, err := message.EncodePayload(protocol.TerminateRequest{})
	if err != nil {
		return fmt.Errorf("proxy: encode terminate request: %w", err)
	}
	if _, err := p.sendControl(protocol.TypeTerminateRequest, payload); err != nil {
		if errors.Is(err, ErrNotRunning) {
			return nil
		}
		return err
	}
	for p.IsRunning() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.Update()
		time.Sleep(DefaultStopPollInterval)
	}
	return nil
}

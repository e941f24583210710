package reporter

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/operation"
	"github.com/vk/filtergrid/internal/scheduler"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

const (
	// EventFilterState is emitted for every filter transition.
	EventFilterState = "filter_state"
	// EventProgress is emitted for every progress update of the run.
	EventProgress = "progress"
)

// SocketIOConfig configures the connection of a SocketIOSink.
type SocketIOConfig struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Emitter sends one named event.
type Emitter interface {
	Emit(event string, payload any)
}

type emitterFunc func(event string, payload any)

func (f emitterFunc) Emit(event string, payload any) { f(event, payload) }

// SocketIOSink publishes run events to a socket.io server.
type SocketIOSink struct {
	emitter Emitter
	close   func()
}

// NewSocketIOSink wraps an existing emitter.
func NewSocketIOSink(e Emitter) *SocketIOSink {
	return &SocketIOSink{emitter: e, close: func() {}}
}

// DialSocketIO connects to a socket.io server and returns a sink emitting to
// it. It blocks until the connection is established, fails, or ctx is done.
func DialSocketIO(ctx context.Context, cfg SocketIOConfig) (*SocketIOSink, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse socket.io URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("socket.io URL %q needs a scheme and a host", cfg.URL)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 1)
	manager := socket.NewManager(fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host), opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to socket.io server.", "sid", io.Id())
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connected <- err
	})

	logger.Debug("Connecting to socket.io server...")
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}

	return &SocketIOSink{
		emitter: emitterFunc(func(event string, payload any) { io.Emit(event, payload) }),
		close:   func() { io.Disconnect() },
	}, nil
}

// NodeChanged implements Sink.
func (s *SocketIOSink) NodeChanged(_ context.Context, ev scheduler.NodeEvent) {
	payload := map[string]any{
		"operation_id": ev.OperationID,
		"filter":       string(ev.NodeID),
		"state":        ev.State.String(),
	}
	if ev.Err != nil {
		payload["error"] = ev.Err.Error()
	}
	s.emitter.Emit(EventFilterState, payload)
}

// OperationChanged implements Sink.
func (s *SocketIOSink) OperationChanged(_ context.Context, ev operation.Event) {
	payload := map[string]any{
		"operation_id": ev.OperationID,
		"description":  ev.Description,
		"progress":     ev.Progress,
	}
	if ev.Err != nil {
		payload["error"] = ev.Err.Error()
	}
	s.emitter.Emit(EventProgress, payload)
}

// Close disconnects from the server.
func (s *SocketIOSink) Close() { s.close() }

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/ethos/internal/transport"
)

// ErrNoEndpoint is returned by Call when no endpoint was configured.
var ErrNoEndpoint = errors.New("no endpoint configured")

// Live holds the transport client a backend uses for Call. The client is
// built on first use so that constructing a backend never touches the
// network.
type Live struct {
	mu     sync.Mutex
	cfg    transport.Config
	client *transport.Client
	logger *slog.Logger
}

// NewLive returns a Live for cfg. The dialect in cfg is kept on Connect.
func NewLive(cfg transport.Config, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{cfg: cfg, logger: logger}
}

// Connect replaces the endpoint settings; the dialect stays fixed.
func (l *Live) Connect(cfg transport.Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg.Dialect = l.cfg.Dialect
	client, err := transport.New(cfg, l.logger)
	if err != nil {
		return err
	}
	l.cfg = cfg
	l.client = client
	return nil
}

func (l *Live) get() (*transport.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil {
		return l.client, nil
	}
	if l.cfg.Endpoint == "" {
		return nil, &transport.TransportError{Op: "dial", Err: ErrNoEndpoint}
	}
	client, err := transport.New(l.cfg, l.logger)
	if err != nil {
		return nil, err
	}
	l.client = client
	return client, nil
}

// Call forwards to the transport client.
func (l *Live) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	client, err := l.get()
	if err != nil {
		return nil, err
	}
	return client.Call(ctx, method, params)
}

package mcpsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSRunner publishes payloads on "<prefix>.<command>".
// The connection is opened on first use.
type NATSRunner struct {
	url    string
	prefix string

	mu sync.Mutex
	nc *nats.Conn
}

// NewNATSRunner returns a runner for the server at url.
func NewNATSRunner(url, prefix string) *NATSRunner {
	return &NATSRunner{url: url, prefix: prefix}
}

// Subject returns the subject used for command.
func (r *NATSRunner) Subject(command string) string {
	if r.prefix == "" {
		return command
	}
	return r.prefix + "." + command
}

func (r *NATSRunner) conn() (*nats.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nc != nil && !r.nc.IsClosed() {
		return r.nc, nil
	}
	nc, err := nats.Connect(r.url, nats.Name("speckit"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.nc = nc
	return nc, nil
}

// Run implements Runner. It returns once the server has acknowledged the
// publish via a flush.
func (r *NATSRunner) Run(ctx context.Context, command string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	nc, err := r.conn()
	if err != nil {
		return err
	}
	if err := nc.Publish(r.Subject(command), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", command, err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush %s: %w", command, err)
	}
	return nil
}

// Close drains and closes the connection.
func (r *NATSRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nc == nil {
		return nil
	}
	err := r.nc.Drain()
	r.nc = nil
	return err
}

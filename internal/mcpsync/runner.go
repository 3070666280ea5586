// Package mcpsync delivers workflow payloads (saved contexts, run metrics) to
// external MCP-style endpoints. Every transport implements Runner.
package mcpsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Transport names accepted by New.
const (
	TransportHTTP = "http"
	TransportNATS = "nats"
	TransportMCP  = "mcp"
	TransportNone = "none"
)

var (
	// ErrUnknownTransport is returned by New for an unsupported transport name.
	ErrUnknownTransport = errors.New("unknown sync transport")

	// ErrNoEndpoint is returned when a transport needs an endpoint that was not set.
	ErrNoEndpoint = errors.New("sync endpoint not configured")
)

// Runner sends payload under the named command.
type Runner interface {
	Run(ctx context.Context, command string, payload any) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, command string, payload any) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, command string, payload any) error {
	return f(ctx, command, payload)
}

// Nop discards every payload.
type Nop struct{}

// Run does nothing.
func (Nop) Run(context.Context, string, any) error { return nil }

// Settings selects and configures a transport.
type Settings struct {
	Transport     string
	Endpoint      string
	Token         string
	NATSURL       string
	SubjectPrefix string
}

// New builds the runner described by s. An http or mcp transport without an
// endpoint yields Nop, matching an unconfigured sync target.
func New(s Settings) (Runner, error) {
	switch strings.ToLower(s.Transport) {
	case "", TransportHTTP:
		if s.Endpoint == "" {
			return Nop{}, nil
		}
		return NewHTTPRunner(s.Endpoint, s.Token, nil), nil
	case TransportNATS:
		if s.NATSURL == "" {
			return nil, fmt.Errorf("%w: nats_url", ErrNoEndpoint)
		}
		return NewNATSRunner(s.NATSURL, s.SubjectPrefix), nil
	case TransportMCP:
		if s.Endpoint == "" {
			return Nop{}, nil
		}
		return NewMCPRunner(EndpointTransport(s.Endpoint)), nil
	case TransportNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, s.Transport)
	}
}

// Close releases r if it holds a connection.
func Close(r Runner) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

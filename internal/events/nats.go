package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes events to NATS core subjects.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// Connect dials url and returns a sink that closes the connection on Close.
func Connect(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("blueprint"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	s := NewNATSSink(nc, prefix)
	s.owned = true
	return s, nil
}

// NewNATSSink wraps an existing connection. Close leaves nc open.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &NATSSink{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event for runID in status is published on.
func (s *NATSSink) Subject(runID, status string) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, token(runID), token(status))
}

func (s *NATSSink) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.nc.Publish(s.Subject(e.RunID, e.Status), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Status, err)
	}
	return nil
}

// Close drains the connection when the sink owns it.
func (s *NATSSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.nc.Drain()
}

// token keeps subject separators and wildcards out of a subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

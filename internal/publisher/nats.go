package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"nexttrain/internal/arrivals"
)

// Metrics receives publish outcomes; may be nil.
type Metrics interface {
	BoardPublished(err error)
	NATSSetConnected(connected bool)
}

// NATSPublisher publishes arrival boards as JSON.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	metrics Metrics
	logger  *slog.Logger
}

// BoardMessage is the JSON payload of one published board.
type BoardMessage struct {
	StopID      string          `json:"stop_id"`
	StopName    string          `json:"stop_name"`
	GeneratedAt time.Time       `json:"generated_at"`
	Arrivals    []arrivals.Line `json:"arrivals"`
}

// NewNATSPublisher connects to url. Boards go to "<subject>.<stop_id>".
func NewNATSPublisher(url, subject string, m Metrics, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("nexttrain"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, subject: subject, metrics: m, logger: logger}, nil
}

// PublishBoard sends msg on the stop's subject.
func (p *NATSPublisher) PublishBoard(msg BoardMessage) error {
	subject := Subject(p.subject, msg.StopID)
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal board: %w", err)
	}

	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.BoardPublished(err)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("board published", "subject", subject, "arrivals", len(msg.Arrivals))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
	}
}

// Subject joins prefix and a stop id sanitised into a single NATS token.
func Subject(prefix, stopID string) string {
	return prefix + "." + subjectToken(stopID)
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain whitespace, '.', '>' or '*'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

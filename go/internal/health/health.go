// Package health reports whether the server's backing connections are up.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const checkTimeout = 5 * time.Second

type Status struct {
	Healthy           bool           `json:"healthy"`
	Store             string         `json:"store"`
	NATSConnected     *bool          `json:"nats_connected,omitempty"`
	DatabaseConnected *bool          `json:"database_connected,omitempty"`
	ViewerConnections int            `json:"viewer_connections"`
	Consumer          *ConsumerStats `json:"consumer,omitempty"`
	Errors            []string       `json:"errors"`
}

// ConsumerStats is the backlog of the durable consumer feeding live viewers.
type ConsumerStats struct {
	Pending     uint64 `json:"pending"`
	AckPending  int    `json:"ack_pending"`
	Redelivered int    `json:"redelivered"`
}

type natsConn interface {
	IsConnected() bool
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Checker struct {
	store    string
	nats     natsConn
	db       pinger
	viewers  func() int
	consumer func(ctx context.Context) (ConsumerStats, error)
}

type Option func(*Checker)

// WithNATS checks the NATS connection.
func WithNATS(nc natsConn) Option {
	return func(c *Checker) { c.nats = nc }
}

// WithDatabase pings the archive database.
func WithDatabase(db pinger) Option {
	return func(c *Checker) { c.db = db }
}

// WithViewers reports the number of open viewer connections.
func WithViewers(fn func() int) Option {
	return func(c *Checker) { c.viewers = fn }
}

// WithConsumer reports the event consumer's backlog. A failed lookup marks
// the server unhealthy.
func WithConsumer(fn func(ctx context.Context) (ConsumerStats, error)) Option {
	return func(c *Checker) { c.consumer = fn }
}

func NewChecker(store string, opts ...Option) *Checker {
	c := &Checker{store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Checker) Check(ctx context.Context) Status {
	status := Status{
		Healthy: true,
		Store:   c.store,
		Errors:  []string{},
	}

	if c.nats != nil {
		connected := c.nats.IsConnected()
		status.NATSConnected = &connected
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if c.db != nil {
		connected := true
		if err := c.db.Ping(ctx); err != nil {
			connected = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		}
		status.DatabaseConnected = &connected
	}

	if c.consumer != nil {
		stats, err := c.consumer(ctx)
		if err != nil {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("event consumer info failed: %v", err))
		} else {
			status.Consumer = &stats
		}
	}

	if c.viewers != nil {
		status.ViewerConnections = c.viewers()
	}
	return status
}

func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	status := c.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"tidbyt.dev/tripstats/model"
)

type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

// Publishes stored observation batches on <prefix>.<route_id>.
type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	logger  zerolog.Logger
	metrics Metrics
}

func NewNATSPublisher(url string, prefix string, logger zerolog.Logger, m Metrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("tripstats-collector"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info().Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type ObservationMessage struct {
	TripID    string     `json:"tripId"`
	StartTime *time.Time `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
}

type BatchMessage struct {
	RouteID      string               `json:"routeId"`
	FetchedAt    time.Time            `json:"fetchedAt"`
	Observations []ObservationMessage `json:"observations"`
}

func NewBatchMessage(routeID string, fetchedAt time.Time, observations []model.Observation) BatchMessage {
	msg := BatchMessage{
		RouteID:      routeID,
		FetchedAt:    fetchedAt,
		Observations: make([]ObservationMessage, 0, len(observations)),
	}
	for _, o := range observations {
		msg.Observations = append(msg.Observations, ObservationMessage{
			TripID:    o.TripID,
			StartTime: o.StartTime,
			EndTime:   o.EndTime,
		})
	}
	return msg
}

func (p *NATSPublisher) Publish(ctx context.Context, routeID string, fetchedAt time.Time, observations []model.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := Subject(p.prefix, routeID)
	b, err := json.Marshal(NewBatchMessage(routeID, fetchedAt, observations))
	if err != nil {
		return fmt.Errorf("marshaling batch: %w", err)
	}

	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	p.logger.Debug().Str("subject", subject).Int("observations", len(observations)).Msg("published batch")
	return nil
}

// Subject for a route's batches. The prefix may contain dots.
func Subject(prefix, routeID string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return subjectToken(routeID)
	}
	return prefix + "." + subjectToken(routeID)
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

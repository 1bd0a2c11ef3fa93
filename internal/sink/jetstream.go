package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/vincentbai/regrets-agent/internal/telemetry"
)

// Publisher is the subset of jetstream.JetStream the sink needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamSink publishes each record as a JSON message on one subject.
type JetStreamSink struct {
	js      Publisher
	subject string
	logger  zerolog.Logger
	nc      *nats.Conn
}

func NewJetStreamSink(js Publisher, subject string, logger zerolog.Logger) *JetStreamSink {
	return &JetStreamSink{js: js, subject: subject, logger: logger}
}

// ConnectJetStream connects to natsURL and makes sure stream captures
// subject before returning a sink publishing to it.
func ConnectJetStream(ctx context.Context, natsURL, stream, subject string, logger zerolog.Logger, opts ...nats.Option) (*JetStreamSink, error) {
	opts = append([]nats.Option{
		nats.Name("regrets-agent"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}, opts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.Stream(ctx, stream); err != nil {
		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     stream,
			Subjects: []string{subject},
		}); err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create or get stream %s: %w", stream, err)
		}
	}

	s := NewJetStreamSink(js, subject, logger)
	s.nc = nc
	return s, nil
}

func (s *JetStreamSink) Submit(ctx context.Context, record telemetry.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", record.Type(), err)
	}

	msgID := uuid.NewString()
	ack, err := s.js.Publish(ctx, s.subject, data, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("failed to publish %s record: %w", record.Type(), err)
	}

	s.logger.Debug().
		Str("subject", s.subject).
		Str("msg_id", msgID).
		Uint64("seq", ack.Sequence).
		Msg("Published telemetry record")
	return nil
}

// Close drains the connection opened by ConnectJetStream.
func (s *JetStreamSink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}

package jetstream

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/6529-collections/xtdh-engine/internal/adapter"
	"github.com/6529-collections/xtdh-engine/internal/domain"
	"github.com/6529-collections/xtdh-engine/internal/logger"
	"github.com/6529-collections/xtdh-engine/internal/messaging"
)

type subscriber struct {
	nc   *nats.Conn
	js   jetstream.JetStream
	cfg  Config
	json adapter.JSON
}

// NewSubscriber creates a new NATS JetStream subscriber for stats rebuild
// triggers
func NewSubscriber(cfg Config, jsonAdapter adapter.JSON) (messaging.Subscriber, error) {
	nc, js, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	return &subscriber{
		nc:   nc,
		js:   js,
		cfg:  cfg,
		json: jsonAdapter,
	}, nil
}

// SubscribeTriggers consumes triggers until the context is canceled
func (s *subscriber) SubscribeTriggers(ctx context.Context, handler messaging.TriggerHandler) error {
	consumerConfig := jetstream.ConsumerConfig{
		Durable:       s.cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.cfg.AckWait,
		MaxDeliver:    s.cfg.MaxDeliver,
		FilterSubject: s.cfg.Subject,
	}

	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.cfg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handleMessage(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	logger.InfoCtx(ctx, "Consuming stats triggers",
		zap.String("stream", s.cfg.StreamName),
		zap.String("consumer", s.cfg.ConsumerName))

	<-ctx.Done()
	return ctx.Err()
}

func (s *subscriber) handleMessage(ctx context.Context, msg jetstream.Msg, handler messaging.TriggerHandler) {
	var trigger domain.StatsTrigger
	if err := s.json.Unmarshal(msg.Data(), &trigger); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "dropping malformed trigger"))
		// poison message, do not redeliver
		_ = msg.Term()
		return
	}

	if err := handler(ctx, &trigger); err != nil {
		logger.ErrorCtx(ctx, err, zap.Time("cutoff", trigger.Cutoff))
		_ = msg.Nak()
		return
	}

	if err := msg.Ack(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "failed to ack trigger"))
	}
}

// Close closes the NATS connection
func (s *subscriber) Close() {
	if s.nc == nil {
		return
	}

	s.nc.Close()
}

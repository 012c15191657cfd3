// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/herald/internal/logging"
)

// WatermillChannel implements Channel on any Watermill publisher/subscriber pair.
type WatermillChannel struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	ping       func(ctx context.Context) error
	closers    []func() error
	closed     atomic.Bool
}

// NewWatermillChannel wraps a Watermill publisher and subscriber. ping may be nil.
func NewWatermillChannel(pub message.Publisher, sub message.Subscriber, ping func(ctx context.Context) error) *WatermillChannel {
	c := &WatermillChannel{publisher: pub, subscriber: sub, ping: ping}
	c.closers = append(c.closers, pub.Close)
	if any(sub) != any(pub) {
		c.closers = append(c.closers, sub.Close)
	}
	return c
}

// NewMemoryChannel returns an in-process channel backed by Watermill's GoChannel.
// Only subscribers in the same process receive messages.
func NewMemoryChannel() *WatermillChannel {
	gc := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: subscriptionBuffer,
	}, logging.NewWatermillLogger("fanout-memory"))
	return NewWatermillChannel(gc, gc, nil)
}

// NATSConfig configures the NATS fan-out transport.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	CloseTimeout  time.Duration
}

// NewNATSChannel connects to NATS core subjects through watermill-nats.
// JetStream is disabled: fan-out messages are ephemeral and every replica
// must receive every message, so no queue group is used.
func NewNATSChannel(cfg NATSConfig) (*WatermillChannel, error) {
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 10 * time.Second
	}

	logger := logging.NewWatermillLogger("fanout-nats")
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	// Separate connection for health probes.
	probe, err := natsgo.Connect(cfg.URL, natsgo.RetryOnFailedConnect(true), natsgo.MaxReconnects(-1))
	if err != nil {
		_ = pub.Close()
		_ = sub.Close()
		return nil, fmt.Errorf("connect NATS probe: %w", err)
	}

	c := NewWatermillChannel(pub, sub, func(ctx context.Context) error {
		if !probe.IsConnected() {
			return fmt.Errorf("nats: %s", probe.Status())
		}
		return probe.FlushWithContext(ctx)
	})
	c.closers = append(c.closers, func() error {
		probe.Close()
		return nil
	})
	return c, nil
}

// Publish implements Channel.
func (c *WatermillChannel) Publish(ctx context.Context, jobID string, payload []byte) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := c.publisher.Publish(Topic(jobID), msg); err != nil {
		return fmt.Errorf("publish %s: %w", jobID, err)
	}
	return nil
}

// Subscribe implements Channel.
func (c *WatermillChannel) Subscribe(ctx context.Context, jobID string) (Subscription, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}
	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := c.subscriber.Subscribe(subCtx, Topic(jobID))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", jobID, err)
	}

	sub := &watermillSubscription{
		cancel:   cancel,
		out:      make(chan []byte, subscriptionBuffer),
		finished: make(chan struct{}),
	}
	go sub.forward(subCtx, msgs)
	return sub, nil
}

// Ping implements Channel.
func (c *WatermillChannel) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if c.ping == nil {
		return nil
	}
	return c.ping(ctx)
}

// Close closes the publisher and subscriber.
func (c *WatermillChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type watermillSubscription struct {
	cancel   context.CancelFunc
	out      chan []byte
	finished chan struct{}
	once     sync.Once
}

func (s *watermillSubscription) forward(ctx context.Context, msgs <-chan *message.Message) {
	defer close(s.finished)
	defer close(s.out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			payload := append([]byte(nil), msg.Payload...)
			msg.Ack()
			select {
			case s.out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *watermillSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *watermillSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.finished
	})
	return nil
}

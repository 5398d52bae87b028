package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/septivank/appliance-telemetry/internal/config"
	"go.uber.org/zap"
)

// MessageHandler processes one broker message. It must not block forever:
// the subscriber dispatches messages one at a time.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Subscriber consumes the historical and periodic topics from an MQTT
// broker and re-subscribes after every reconnect.
type Subscriber struct {
	client  paho.Client
	cfg     config.MQTTConfig
	topics  []string
	handler MessageHandler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopping bool
	inflight sync.WaitGroup
}

// NewSubscriber creates a subscriber. It does not connect until Start.
func NewSubscriber(cfg config.MQTTConfig, handler MessageHandler, logger *zap.Logger) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		cfg:     cfg,
		topics:  []string{cfg.HistoricalTopic, cfg.PeriodicTopic},
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	clientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8])
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.OperationTimeout).
		SetWriteTimeout(cfg.OperationTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(cfg.MaxReconnectInterval).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost).
		SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
			logger.Info("reconnecting to mqtt broker", zap.String("broker", cfg.Broker))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	s.client = paho.NewClient(opts)
	return s
}

// Start connects to the broker. When the broker is not reachable within
// the operation timeout the client keeps retrying in the background and
// Start returns nil; subscriptions are made on every successful connect.
func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info("connecting to mqtt broker",
		zap.String("broker", s.cfg.Broker),
		zap.Strings("topics", s.topics),
		zap.Uint8("qos", s.cfg.QoS),
	)

	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.OperationTimeout) {
		s.logger.Warn("mqtt broker not reachable yet, retrying in background",
			zap.Duration("timeout", s.cfg.OperationTimeout))
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("[MQTT CONNECTION FAILED] cannot connect to %s: %w", s.cfg.Broker, err)
	}
	return nil
}

// Connected reports whether the client currently holds a broker connection.
func (s *Subscriber) Connected() bool {
	return s.client.IsConnectionOpen()
}

func (s *Subscriber) onConnect(c paho.Client) {
	s.logger.Info("connected to mqtt broker", zap.String("broker", s.cfg.Broker))

	filters := make(map[string]byte, len(s.topics))
	for _, topic := range s.topics {
		filters[topic] = s.cfg.QoS
	}

	subscribe := func() (struct{}, error) {
		token := c.SubscribeMultiple(filters, s.onMessage)
		if !token.WaitTimeout(s.cfg.OperationTimeout) {
			return struct{}{}, fmt.Errorf("subscribe timed out after %s", s.cfg.OperationTimeout)
		}
		return struct{}{}, token.Error()
	}

	for {
		_, err := backoff.Retry(s.ctx, subscribe,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(5),
		)
		if err == nil {
			s.logger.Info("subscribed to telemetry topics", zap.Strings("topics", s.topics))
			return
		}
		if s.ctx.Err() != nil || !c.IsConnectionOpen() {
			// the next onConnect subscribes again
			s.logger.Warn("subscribe abandoned", zap.Error(err))
			return
		}
		s.logger.Error("failed to subscribe, retrying", zap.Error(err))
	}
}

func (s *Subscriber) onConnectionLost(_ paho.Client, err error) {
	s.logger.Warn("mqtt connection lost", zap.Error(err))
}

// onMessage runs on paho's ordered delivery goroutine, so the handler blocks
// further deliveries. config.Validate keeps its worst case below the keepalive.
func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling message",
				zap.String("topic", msg.Topic()),
				zap.Any("panic", r),
			)
		}
	}()

	s.handler(s.ctx, msg.Topic(), msg.Payload())
}

// Stop stops accepting messages, waits for the in-flight message until ctx
// expires, then disconnects.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	if s.client.IsConnectionOpen() {
		token := s.client.Unsubscribe(s.topics...)
		if !token.WaitTimeout(s.cfg.OperationTimeout) {
			s.logger.Warn("unsubscribe timed out")
		} else if err := token.Error(); err != nil {
			s.logger.Warn("unsubscribe failed", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("in-flight message did not finish before shutdown deadline")
	}

	s.cancel()
	s.client.Disconnect(uint(s.cfg.DisconnectQuiesce.Milliseconds()))
	s.logger.Info("mqtt subscriber stopped")
	return nil
}

// Package queue listens for wallet updates on a RabbitMQ fanout exchange
// and feeds new addresses into the watchlist. Each monitor binds its own
// server-named queue, so parallel observers all receive every update. The
// broker is optional: a missing or broken connection degrades address
// updates, never the transfer pipeline.
package queue

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/chainsentry/evm-transfer-monitor/config"
	"github.com/chainsentry/evm-transfer-monitor/monitor/policy"
)

var log = logrus.WithField("prefix", "queue")

var walletUpdatesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "wallet_updates_total",
		Help: "Count of wallet update messages processed from the broker",
	},
)

const (
	reconnectInitialInterval = time.Second
	reconnectMaxInterval     = 30 * time.Second
)

// walletUpdate is the only message shape published on the exchange.
type walletUpdate struct {
	Address string `json:"address"`
}

// ExchangeName appends the chain to the configured base exchange so each
// chain's observers share one fanout.
func ExchangeName(base, chain string) string {
	if base == "" {
		base = "wallet_updates"
	}
	return base + "_" + chain
}

// Config wires the listener.
type Config struct {
	RabbitMQ  *config.RabbitMQConfig
	ChainName string
	Watchlist *policy.WatchedSet
}

// Service consumes wallet updates until its context ends, reconnecting with
// exponential backoff whenever the broker drops the connection.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config

	connected int32
	processed int64
}

// NewService builds the wallet updates listener.
func NewService(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{ctx: ctx, cancel: cancel, cfg: cfg}
}

// Start launches the consume loop. Without a broker section the listener
// stays off.
func (s *Service) Start() {
	if s.cfg.RabbitMQ == nil {
		log.Info("Wallet updates listener disabled")
		return
	}
	go s.run()
}

// Stop halts consumption and tears down the connection.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy; a reconnecting listener only delays
// watchlist updates.
func (s *Service) Status() error {
	return nil
}

// Connected reports whether a broker connection is currently live.
func (s *Service) Connected() bool {
	return atomic.LoadInt32(&s.connected) == 1
}

// Processed returns how many wallet updates have been handled.
func (s *Service) Processed() int64 {
	return atomic.LoadInt64(&s.processed)
}

func (s *Service) run() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = reconnectInitialInterval
		bo.MaxInterval = reconnectMaxInterval
		bo.MaxElapsedTime = 0 // retry until the context ends

		var conn *amqp.Connection
		var deliveries <-chan amqp.Delivery
		err := backoff.Retry(func() error {
			c, d, err := s.connect()
			if err != nil {
				log.WithError(err).Warn("Could not connect to RabbitMQ, retrying")
				return err
			}
			conn, deliveries = c, d
			return nil
		}, backoff.WithContext(bo, s.ctx))
		if err != nil {
			return
		}

		atomic.StoreInt32(&s.connected, 1)
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		s.consume(deliveries, closed)
		atomic.StoreInt32(&s.connected, 0)
		if err := conn.Close(); err != nil {
			log.WithError(err).Debug("Could not close RabbitMQ connection")
		}
		if s.ctx.Err() != nil {
			return
		}
		log.Warn("RabbitMQ connection lost, reconnecting")
	}
}

func (s *Service) connect() (*amqp.Connection, <-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(s.cfg.RabbitMQ.URI())
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not dial RabbitMQ")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "could not open channel")
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "could not set QoS")
	}

	exchange := ExchangeName(s.cfg.RabbitMQ.WalletUpdates.ExchangeName, s.cfg.ChainName)
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrapf(err, "could not declare exchange %s", exchange)
	}
	// Server-named, exclusive, auto-delete: the queue lives exactly as long
	// as this consumer.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "could not declare queue")
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrapf(err, "could not bind queue to %s", exchange)
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "could not start consuming")
	}
	log.WithFields(logrus.Fields{
		"exchange": exchange,
		"queue":    q.Name,
	}).Info("Listening for wallet updates")
	return conn, deliveries, nil
}

func (s *Service) consume(deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case err := <-closed:
			if err != nil {
				log.WithError(err).Warn("RabbitMQ connection closed by broker")
			}
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			// Malformed updates are logged and dropped, so every delivery
			// acks; redelivering garbage would not improve it.
			s.handle(d.Body)
			if err := d.Ack(false); err != nil {
				log.WithError(err).Warn("Could not ack wallet update")
			}
		}
	}
}

func (s *Service) handle(body []byte) {
	var msg walletUpdate
	if err := json.Unmarshal(body, &msg); err != nil {
		log.WithError(err).Warn("Discarding malformed wallet update")
		return
	}
	if msg.Address == "" {
		log.Warn("Discarding wallet update without an address")
		return
	}
	added, err := s.cfg.Watchlist.Add(msg.Address)
	if err != nil {
		log.WithError(err).WithField("address", msg.Address).Warn("Rejected wallet update")
		return
	}
	atomic.AddInt64(&s.processed, 1)
	walletUpdatesTotal.Inc()
	if added {
		log.WithFields(logrus.Fields{
			"address": strings.ToLower(msg.Address),
			"watched": s.cfg.Watchlist.Len(),
		}).Info("New wallet address added to watchlist")
	} else {
		log.WithField("address", strings.ToLower(msg.Address)).Debug("Wallet address already watched")
	}
}

package dispatch

import (
	"context"
	"encoding/json"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	sarpush "github.com/SardineFish/sar-push-service"
)

// Request is a notification request received over AMQP, as JSON.
type Request struct {
	ProfileID   string `json:"profile_id"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// Validate the request.
func (r Request) Validate() error {
	if r.ProfileID == "" {
		return errors.New("profile_id is required")
	}
	if r.To == "" {
		return errors.New("to is required")
	}
	if _, err := sarpush.ParseMailbox(r.To); err != nil {
		return errors.Wrap(err, "to")
	}
	return nil
}

// EnqueueRequest creates a notification from the request and enqueues it.
func (s *Service) EnqueueRequest(ctx context.Context, r Request) (Notification, error) {
	if err := r.Validate(); err != nil {
		return Notification{}, errors.Wrap(err, "dispatch.EnqueueRequest")
	}
	p, err := s.store.Profile(ctx, r.ProfileID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return Notification{}, newError(ErrMissingProfile, err)
		}
		return Notification{}, newError(ErrStore, err)
	}

	n := NewNotification(p, MailContent{
		To:          r.To,
		Subject:     r.Subject,
		ContentType: r.ContentType,
		Body:        r.Body,
	})
	return n, s.Enqueue(ctx, n)
}

// AMQPConfig is the broker connection and topology.
type AMQPConfig struct {
	DSN        string
	Exchange   string // Default exchange if empty.
	Kind       string // Exchange kind.
	Queue      string
	RoutingKey string // Defaults to Queue.
}

var amqpDefaults = AMQPConfig{
	Kind:  "direct",
	Queue: "sarpush.notify",
}

func (c *AMQPConfig) mergeDefaults() error {
	if err := mergo.Merge(c, amqpDefaults); err != nil {
		return errors.Wrap(err, "merging AMQP defaults")
	}
	if c.RoutingKey == "" {
		c.RoutingKey = c.Queue
	}
	return nil
}

// Consumer reads Requests from an AMQP queue and enqueues them.
type Consumer struct {
	cfg AMQPConfig
	svc *Service
	log logrus.FieldLogger
}

// NewConsumer creates a new consumer; Run starts consuming.
func NewConsumer(cfg AMQPConfig, svc *Service, log logrus.FieldLogger) *Consumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Consumer{cfg: cfg, svc: svc, log: log}
}

func declare(ch *amqp.Channel, cfg AMQPConfig) error {
	if cfg.Exchange != "" {
		err := ch.ExchangeDeclare(cfg.Exchange, cfg.Kind, true, false, false, false, nil)
		if err != nil {
			return errors.Wrapf(err, "declare exchange %q", cfg.Exchange)
		}
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare queue %q", cfg.Queue)
	}
	if cfg.Exchange != "" {
		if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
			return errors.Wrapf(err, "bind queue %q", cfg.Queue)
		}
	}
	return nil
}

// Run consumes until ctx is cancelled or the connection is lost.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.cfg.mergeDefaults(); err != nil {
		return errors.Wrap(err, "dispatch.Consumer.Run")
	}

	conn, err := amqp.Dial(c.cfg.DSN)
	if err != nil {
		return errors.Wrap(err, "dispatch.Consumer.Run: connect")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "dispatch.Consumer.Run: channel")
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return errors.Wrap(err, "dispatch.Consumer.Run: qos")
	}
	if err := declare(ch, c.cfg); err != nil {
		return errors.Wrap(err, "dispatch.Consumer.Run")
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "dispatch.Consumer.Run: consume")
	}
	c.log.WithField("queue", c.cfg.Queue).Info("consuming notification requests")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("dispatch.Consumer.Run: delivery channel closed")
			}
			if err := c.handle(ctx, d); err != nil {
				c.log.WithError(err).Error("acknowledging delivery")
			}
		}
	}
}

// handle a single delivery. Invalid requests are rejected without requeueing
// so they don't come back; store failures are requeued.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) error {
	var r Request
	if err := json.Unmarshal(d.Body, &r); err != nil {
		c.log.WithError(err).Warn("invalid notification request")
		return d.Reject(false)
	}

	n, err := c.svc.EnqueueRequest(ctx, r)
	if err != nil {
		var dErr *Error
		if errors.As(err, &dErr) && dErr.Kind == ErrStore {
			c.log.WithError(err).Error("storing notification request")
			return d.Nack(false, true)
		}
		c.log.WithError(err).Warn("invalid notification request")
		return d.Reject(false)
	}

	c.log.WithField("id", n.ID).Debug("enqueued notification request")
	return d.Ack(false)
}

// Publish a request to the queue, for testing or sending notifications from
// another process.
func Publish(ctx context.Context, cfg AMQPConfig, r Request) error {
	if err := cfg.mergeDefaults(); err != nil {
		return errors.Wrap(err, "dispatch.Publish")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "dispatch.Publish")
	}

	conn, err := amqp.Dial(cfg.DSN)
	if err != nil {
		return errors.Wrap(err, "dispatch.Publish: connect")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "dispatch.Publish: channel")
	}
	defer ch.Close()

	if err := declare(ch, cfg); err != nil {
		return errors.Wrap(err, "dispatch.Publish")
	}

	err = ch.PublishWithContext(ctx, cfg.Exchange, cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	return errors.Wrap(err, "dispatch.Publish")
}

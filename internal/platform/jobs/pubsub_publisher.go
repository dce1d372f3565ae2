package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/services"
)

// Topics groups the Pub/Sub topics the service publishes to. Nil topics disable the
// corresponding publish call.
type Topics struct {
	Notifications *pubsub.Topic
	Emails        *pubsub.Topic
	Chats         *pubsub.Topic
	Waybills      *pubsub.Topic
}

// PubSubPublisher delivers notification pushes, email requests, chat events and waybill
// registration tasks to Pub/Sub.
type PubSubPublisher struct {
	topics  Topics
	marshal func(any) ([]byte, error)
}

var (
	_ services.NotificationPublisher = (*PubSubPublisher)(nil)
	_ services.ChatPublisher         = (*PubSubPublisher)(nil)
	_ services.AirWaybillPublisher   = (*PubSubPublisher)(nil)
)

// NewPubSubPublisher constructs a Pub/Sub backed publisher. The notifications topic is
// mandatory.
func NewPubSubPublisher(topics Topics) (*PubSubPublisher, error) {
	if topics.Notifications == nil {
		return nil, errors.New("pubsub publisher: notifications topic is required")
	}
	return &PubSubPublisher{topics: topics, marshal: json.Marshal}, nil
}

// PublishNotification sends one message per recipient. The channel attribute lets the
// websocket transport route it to the user's socket group.
func (p *PubSubPublisher) PublishNotification(ctx context.Context, message services.NotificationMessage) error {
	if strings.TrimSpace(message.Channel) == "" {
		return errors.New("pubsub publisher: notification channel is required")
	}
	attrs := map[string]string{"channel": message.Channel}
	setAttr(attrs, "kind", message.Kind)
	setAttr(attrs, "userId", message.UserID)
	setAttr(attrs, "notificationId", message.NotificationID)
	_, err := p.publish(ctx, p.topics.Notifications, "notification", message, attrs, message.UserID)
	return err
}

// PublishEmail queues an email request for the mail consumer.
func (p *PubSubPublisher) PublishEmail(ctx context.Context, message services.EmailMessage) error {
	if p.topics.Emails == nil {
		return nil
	}
	if strings.TrimSpace(message.To) == "" {
		return errors.New("pubsub publisher: email recipient is required")
	}
	attrs := map[string]string{}
	setAttr(attrs, "notificationId", message.NotificationID)
	setAttr(attrs, "language", message.Language)
	_, err := p.publish(ctx, p.topics.Emails, "email", message, attrs, "")
	return err
}

// PublishChatCreated announces an operation chat.
func (p *PubSubPublisher) PublishChatCreated(ctx context.Context, message services.ChatCreatedMessage) error {
	if p.topics.Chats == nil {
		return nil
	}
	attrs := map[string]string{}
	setAttr(attrs, "bookingId", message.BookingID)
	setAttr(attrs, "aceid", message.Aceid)
	_, err := p.publish(ctx, p.topics.Chats, "chat", message, attrs, "")
	return err
}

// PublishAirWaybillTask queues a waybill registration. Push delivery lands on the internal
// AWB endpoint.
func (p *PubSubPublisher) PublishAirWaybillTask(ctx context.Context, task services.AirWaybillTask) error {
	if p.topics.Waybills == nil {
		return errors.New("pubsub publisher: waybill topic is not configured")
	}
	attrs := map[string]string{}
	setAttr(attrs, "bookingId", task.BookingID)
	setAttr(attrs, "waybill", task.Waybill)
	_, err := p.publish(ctx, p.topics.Waybills, "waybill task", task, attrs, "")
	return err
}

func (p *PubSubPublisher) publish(ctx context.Context, topic *pubsub.Topic, what string, payload any, attrs map[string]string, orderingKey string) (string, error) {
	if p == nil || topic == nil {
		return "", fmt.Errorf("pubsub publisher: %s topic not initialised", what)
	}
	data, err := p.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if topic.EnableMessageOrdering && orderingKey != "" {
		msg.OrderingKey = orderingKey
	}
	id, err := topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish %s: %w", what, err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

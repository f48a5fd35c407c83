package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubNotificationSink publishes domain event notifications to a Pub/Sub topic.
type PubSubNotificationSink struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	clock   func() time.Time
}

// NewPubSubNotificationSink constructs a Pub/Sub backed notification sink.
func NewPubSubNotificationSink(topic *pubsub.Topic) (*PubSubNotificationSink, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification sink: topic is required")
	}
	return &PubSubNotificationSink{
		topic:   topic,
		marshal: json.Marshal,
		clock:   func() time.Time { return time.Now().UTC() },
	}, nil
}

type notificationEnvelope struct {
	TenantID   string         `json:"tenantId"`
	EventName  string         `json:"eventName"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// PublishNotification enqueues a notification message on the configured topic.
func (s *PubSubNotificationSink) PublishNotification(ctx context.Context, tenantID, eventName string, payload map[string]any) (string, error) {
	if s == nil || s.topic == nil {
		return "", errors.New("pubsub notification sink: not initialised")
	}

	data, err := s.marshal(notificationEnvelope{
		TenantID:   tenantID,
		EventName:  eventName,
		OccurredAt: s.clock(),
		Payload:    payload,
	})
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "tenantId", tenantID)
	setAttr(attrs, "eventName", eventName)

	result := s.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

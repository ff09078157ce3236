package donation

import (
	"context"
	"time"

	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/utils"
	"github.com/sirupsen/logrus"
)

const EventStatusChanged = "donation.status_changed"

type PublishFunc func(ctx context.Context, topic string, obj interface{}, attrs map[string]string) (string, error)

type statusEvent struct {
	Type string `json:"type"`
	StatusChange
}

// EventPublisher sends committed transitions to a Pub/Sub topic. Publishing
// is best effort: failures are logged and never undo the transition.
type EventPublisher struct {
	topic   string
	publish PublishFunc
	timeout time.Duration
	logger  *logrus.Logger
}

func NewEventPublisher(topic string, publish PublishFunc, logger *logrus.Logger) *EventPublisher {
	if publish == nil {
		publish = config.PublishJSON
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &EventPublisher{topic: topic, publish: publish, timeout: 5 * time.Second, logger: logger}
}

func (p *EventPublisher) StatusChanged(ctx context.Context, change StatusChange) {
	if p == nil || p.topic == "" {
		return
	}
	// the caller's context may already be winding down after commit
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	attrs := map[string]string{
		"type":     EventStatusChanged,
		"status":   string(change.To),
		"platform": string(change.Platform),
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && cid != "" {
		attrs["correlation_id"] = cid
	}
	msgID, err := p.publish(pubCtx, p.topic, statusEvent{Type: EventStatusChanged, StatusChange: change}, attrs)
	if err != nil {
		config.LogError(p.logger, "donation", "StatusChanged", "publish status event", change, err)
		return
	}
	p.logger.WithFields(logrus.Fields{
		"request_id": change.RequestID,
		"status":     change.To,
		"message_id": msgID,
	}).Debug("status event published")
}

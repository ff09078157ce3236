package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/sirupsen/logrus"
)

type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		ID         string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// TriggerPayload is what Cloud Scheduler (or RequestRun) publishes.
type TriggerPayload struct {
	TriggeredBy string `json:"triggered_by"`
}

// RequestRun asks for a run through the reconcile topic instead of running inline.
func RequestRun(ctx context.Context, topic string, trigger string) (string, error) {
	return config.PublishJSON(ctx, topic, TriggerPayload{TriggeredBy: trigger}, map[string]string{"type": "reconcile.requested"})
}

// PubSubPushHandler runs the poller once per push. Malformed messages are
// acked (204) so they are not redelivered forever; a run already in
// progress is acked too since the next tick will pick the rows up.
// Failures that stopped the run answer 500 so Pub/Sub retries.
func PubSubPushHandler(p *Poller, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.EnvBoolDefault("ENABLE_RECONCILE_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		trigger := models.ReconcileTriggeredSchedule
		var payload TriggerPayload
		if len(envelope.Message.Data) > 0 && json.Unmarshal(envelope.Message.Data, &payload) == nil && payload.TriggeredBy != "" {
			trigger = payload.TriggeredBy
		}

		sum, err := p.RunOnce(c.Request.Context(), trigger)
		if errors.Is(err, ErrRunInProgress) {
			c.Status(http.StatusNoContent)
			return
		}
		if err != nil {
			config.LogError(logger, "reconcile", "PubSubPushHandler", "run", logrus.Fields{"message_id": envelope.Message.ID}, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		logger.WithFields(logrus.Fields{"message_id": envelope.Message.ID, "run_id": sum.RunID}).Debug("reconcile push handled")
		c.Status(http.StatusNoContent)
	}
}

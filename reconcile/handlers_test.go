package reconcile

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poweredbydonation/pbd_backend/gateway"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconcileRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/pubsub/reconcile", PubSubPushHandler(f.poller, quietLogger()))
	r.POST("/internal/ops/reconcile", ManualRunHandler(f.poller, quietLogger()))
	r.GET("/internal/ops/reconcile/runs", ListRunsHandler(f.runs))
	r.GET("/internal/ops/reconcile/runs/:id", GetRunHandler(f.runs))
	return r
}

func pushBody(t *testing.T, payload interface{}) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	envelope := map[string]interface{}{
		"message": map[string]interface{}{
			"data":      base64.StdEncoding.EncodeToString(data),
			"messageId": "m-1",
		},
		"subscription": "projects/p/subscriptions/reconcile-push",
	}
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(envelope))
	return &buf
}

func TestPubSubPushRunsPoller(t *testing.T) {
	f := newFixture(t)
	req := f.seed(t, "JG-PUSH", models.PlatformJustGiving, f.now.Add(-5*time.Minute))
	f.jg.script["JG-PUSH"] = found("PX", gateway.DonationStatusAccepted)
	r := newReconcileRouter(f)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pubsub/reconcile", pushBody(t, TriggerPayload{TriggeredBy: models.ReconcileTriggeredSchedule})))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, models.DonationRequestStatusSuccess, f.reload(t, req.ID).Status)

	runs, err := f.runs.List(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.ReconcileTriggeredSchedule, runs[0].TriggeredBy)
}

func TestPubSubPushAcksGarbage(t *testing.T) {
	f := newFixture(t)
	r := newReconcileRouter(f)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pubsub/reconcile", bytes.NewBufferString("not json")))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestManualRunReportsTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "JG-DOWN", models.PlatformJustGiving, f.now.Add(-5*time.Minute))
	f.jg.script["JG-DOWN"] = lookupResult{err: &gateway.TransportError{Platform: models.PlatformJustGiving, Op: "donation by reference", StatusCode: 502}}
	r := newReconcileRouter(f)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/ops/reconcile", nil))
	require.Equal(t, http.StatusBadGateway, w.Code)

	var body struct {
		Summary Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Summary.TransportErrors)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/ops/reconcile/runs/"+strconv.FormatUint(uint64(body.Summary.RunID), 10), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"error_code":"transport"`)
}

func TestManualRunOK(t *testing.T) {
	f := newFixture(t)
	r := newReconcileRouter(f)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/ops/reconcile", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/ops/reconcile/runs/999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/ops/reconcile/runs/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/poweredbydonation/pbd_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "server-test-secret"

func testSettings(fastPath bool) config.Settings {
	return config.Settings{
		JustGiving:       config.JustGivingSettings{APIURL: "http://jg.invalid", AppID: "app", DonateURL: "https://donate.invalid", Currency: "GBP"},
		EveryOrg:         config.EveryOrgSettings{APIURL: "http://eo.invalid", DonateURL: "https://every.invalid", Currency: "USD"},
		ReturnURL:        "https://pbd.invalid/return",
		DonationTimeout:  30 * time.Minute,
		CharityCacheTTL:  time.Hour,
		ReconcileBatch:   10,
		LivePlatforms:    []string{"justgiving"},
		EnableFastPath:   fastPath,
		AuthSecret:       testSecret,
		ReconcileLockTTL: time.Minute,
	}
}

func newServerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "server.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.MigrateTable(db))
	return db
}

func newTestApp(t *testing.T, fastPath bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	deps := buildDeps(testSettings(fastPath), newServerTestDB(t), nil, nil, l)
	var app atomic.Pointer[gin.Engine]
	app.Store(newRouter(deps))
	return newFrontRouter(&app)
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := utils.JwtGenerate([]byte(testSecret), userID, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func do(r http.Handler, method, path, auth string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestFrontRouterGatesUntilReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var app atomic.Pointer[gin.Engine]
	front := newFrontRouter(&app)

	w := do(front, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("x-correlation-id"))

	w = do(front, http.MethodGet, "/api/donation-requests", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoutesRequireIdentity(t *testing.T) {
	r := newTestApp(t, true)

	w := do(r, http.MethodGet, "/api/donation-requests", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/api/donation-requests", bearer(t, "donor-1", utils.RoleDonor), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/internal/ops/reconcile/runs", bearer(t, "donor-1", utils.RoleDonor), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/internal/ops/reconcile/runs", bearer(t, "ops-1", utils.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConfirmRouteFollowsFastPathFlag(t *testing.T) {
	body := []byte(`{"externalDonationId":"JG-DON-404"}`)

	enabled := newTestApp(t, true)
	w := do(enabled, http.MethodPost, "/api/donation-requests/confirm", bearer(t, "donor-1", utils.RoleDonor), body)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")

	disabled := newTestApp(t, false)
	w = do(disabled, http.MethodPost, "/api/donation-requests/confirm", bearer(t, "donor-1", utils.RoleDonor), body)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "route not found")
}

func TestUnknownRoute(t *testing.T) {
	r := newTestApp(t, true)
	w := do(r, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"route not found"}`, w.Body.String())
}

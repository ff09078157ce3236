package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/donation"
	"github.com/poweredbydonation/pbd_backend/gateway"
	"github.com/poweredbydonation/pbd_backend/middlewares"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/poweredbydonation/pbd_backend/reconcile"
	"github.com/poweredbydonation/pbd_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
}

type routerDeps struct {
	settings  config.Settings
	logger    *logrus.Logger
	redis     redis.UniversalClient
	donations *donation.Handlers
	poller    *reconcile.Poller
	runs      *reconcile.RunStore
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// buildDeps wires the donation pipeline on top of an open database.
// rdb and locker may be nil; the charity cache and the poller lock degrade.
func buildDeps(settings config.Settings, db *gorm.DB, rdb redis.UniversalClient, locker reconcile.Locker, logger *logrus.Logger) routerDeps {
	gateways := gateway.NewRegistry(settings, nil)

	store := donation.NewGormStore(db, logger)
	if settings.DonationTopic != "" {
		store.SetNotifier(donation.NewEventPublisher(settings.DonationTopic, nil, logger))
	}
	charities := donation.NewCharityCache(db, rdb, gateways, settings.CharityCacheTTL, logger)
	creator := donation.NewCreator(store, charities, gateways, donation.NewReferenceGenerator(), settings.DonationTimeout, logger)

	runs := reconcile.NewRunStore(db)
	poller := reconcile.NewPoller(store, gateways, reconcile.Options{
		BatchSize: settings.ReconcileBatch,
		LockTTL:   settings.ReconcileLockTTL,
		Logger:    logger,
		Runs:      runs,
		Locker:    locker,
	})

	return routerDeps{
		settings: settings,
		logger:   logger,
		redis:    rdb,
		donations: &donation.Handlers{
			Store:     store,
			Creator:   creator,
			Confirmer: donation.NewConfirmer(store, logger),
			Charities: charities,
			Logger:    logger,
		},
		poller: poller,
		runs:   runs,
	}
}

// newRouter builds the application routes. It is mounted behind the
// readiness gate once the database is connected.
func newRouter(deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(customErrorLogger(deps.logger))
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist; otherwise allow all.
	if deps.settings.HTTP.Production {
		corsConfig.AllowOrigins = deps.settings.HTTP.AllowedOrigins
		if len(corsConfig.AllowOrigins) == 0 {
			// deny all until configured
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	r.Use(cors.New(corsConfig))

	if deps.settings.HTTP.RateLimitEnabled && deps.redis != nil {
		rateLimiter := NewRateLimiter(deps.redis, deps.settings.HTTP.RateLimitMax, deps.settings.HTTP.RateLimitWindow)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	secret := []byte(deps.settings.AuthSecret)
	authenticated := []gin.HandlerFunc{
		middlewares.AuthMiddleware(secret),
		middlewares.SessionMiddleware(deps.redis),
		middlewares.RequireUser(),
	}

	h := deps.donations
	api := r.Group("/api", authenticated...)
	api.POST("/donation-requests", h.CreateHandler())
	api.GET("/donation-requests", h.ListHandler())
	api.GET("/donation-requests/:id", h.GetHandler())
	api.POST("/donation-requests/:id/feedback", h.FeedbackHandler())
	if deps.settings.EnableFastPath {
		api.POST("/donation-requests/confirm", h.ConfirmHandler())
	}
	api.GET("/charities/search", h.SearchCharitiesHandler())
	api.GET("/charities/:platform/:id", h.LookupCharityHandler())

	// Pub/Sub push subscription (authenticated by the push endpoint config, not a user token).
	r.POST("/pubsub/reconcile", reconcile.PubSubPushHandler(deps.poller, deps.logger))

	ops := r.Group("/internal/ops", append(authenticated, middlewares.RequireAdmin())...)
	ops.POST("/reconcile", reconcile.ManualRunHandler(deps.poller, deps.logger))
	ops.GET("/reconcile/runs", reconcile.ListRunsHandler(deps.runs))
	ops.GET("/reconcile/runs/:id", reconcile.GetRunHandler(deps.runs))
	ops.GET("/donation-requests/review.xlsx", h.ReviewExportHandler())

	r.NoRoute(customNotFoundHandler)
	return r
}

// newFrontRouter answers health checks immediately and returns 503 for
// everything else until app holds the application router.
func newFrontRouter(app *atomic.Pointer[gin.Engine]) *gin.Engine {
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.NoRoute(func(c *gin.Context) {
		inner := app.Load()
		if inner == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		inner.ServeHTTP(c.Writer, c.Request)
	})
	return r
}

func main() {
	settings := config.LoadSettings()
	logger := config.GetLogger()
	if settings.AuthSecret == "" {
		logger.WithFields(logrus.Fields{"field": "auth"}).Warn("API_SECRET is empty; every bearer token will be rejected")
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	var app atomic.Pointer[gin.Engine]
	srv := &http.Server{
		Addr:    ":" + settings.Port,
		Handler: newFrontRouter(&app),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; allow running it as a separate job instead.
	if !settings.HTTP.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Redis is optional: the charity cache, revocation check and run lock degrade without it.
	redisCtx, cancelRedis := context.WithTimeout(sigCtx, 30*time.Second)
	config.ConnectRedisWithRetry(redisCtx)
	cancelRedis()
	var rdb redis.UniversalClient
	var locker reconcile.Locker
	if client := config.GetRedisDB(); client != nil {
		rdb = client
	} else {
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("redis not ready; running without cache and run lock")
	}
	if l := config.GetRedisLock(); l != nil {
		locker = l
	}

	if settings.DonationTopic != "" {
		if client, err := config.GetClient(sigCtx); err == nil {
			if _, err := config.CreateTopicIfNotExists(sigCtx, client, settings.DonationTopic); err != nil {
				config.LogError(logger, "server.go", "main", "create donation topic", settings.DonationTopic, err)
			}
		} else {
			config.LogError(logger, "server.go", "main", "pubsub client", nil, err)
		}
	}

	app.Store(newRouter(buildDeps(settings, db, rdb, locker, logger)))

	logger.WithFields(logrus.Fields{
		"info":           "Connection Established",
		"live_platforms": settings.LivePlatforms,
		"fast_path":      settings.EnableFastPath,
	}).Info("listening on :", settings.Port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if client := config.GetRedisDB(); client != nil {
		_ = client.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client redis.UniversalClient, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in fixed windows.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// fail open; redis trouble should not take the API down
		_ = c.Error(err)
		c.Next()
		return
	}
	if count == 1 {
		if err := rl.client.Expire(c.Request.Context(), key, rl.window).Err(); err != nil {
			_ = c.Error(err)
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

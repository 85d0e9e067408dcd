package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/config"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/gateway"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/utils"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("darkmart-backend")

const signatureHeader = "Gateway-Signature"

// paymentWebhookHandler is the single inbound boundary. Only an unverifiable
// signature is rejected; everything else is acknowledged so the gateway does
// not spiral into redelivery storms. Internal failures surface via logs and
// the unrecorded ledger entry.
func paymentWebhookHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "paymentWebhookHandler", "io.ReadAll", nil, err)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		gwCfg, err := config.LoadGatewayConfig()
		if err != nil {
			config.LogError(logger, "server.go", "paymentWebhookHandler", "gateway config", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "gateway not configured"})
			return
		}

		event, err := gateway.ConstructEvent(body, c.GetHeader(signatureHeader), gwCfg.WebhookSecret, gwCfg.SignatureTolerance)
		if err != nil {
			if errors.Is(err, gateway.ErrSignatureVerification) {
				config.LogError(logger, "server.go", "paymentWebhookHandler", "signature", nil, err)
				c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
				return
			}
			// Malformed but authentic payload: ack/drop to avoid retry loops.
			config.LogError(logger, "server.go", "paymentWebhookHandler", "parse", string(body), err)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "payment.webhook")
		defer span.End()

		correlationId := uuid.NewString()
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		ctx = utils.SetEventIdInContext(ctx, event.ID)
		ctx = utils.SetActorInContext(ctx, "webhook")

		// Redis lock is a best-effort optimization to shed duplicate
		// concurrent deliveries early. Reliability must not depend on Redis:
		// the engine serializes via its own locks and the durable ledger.
		if redisLock := config.GetRedisLock(); redisLock != nil {
			lock, lerr := redisLock.Obtain(ctx, "webhook:"+event.CorrelationKey(), 30*time.Second, nil)
			if lerr == nil {
				defer lock.Release(context.Background())
			} else if !errors.Is(lerr, redislock.ErrNotObtained) {
				logger.WithFields(logrus.Fields{"field": "server.go"}).
					Warn("redis pre-lock unavailable: " + lerr.Error())
			}
		}

		procCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		if perr := engine.ProcessEvent(procCtx, event); perr != nil {
			// Acknowledged anyway; the unrecorded ledger entry lets the
			// gateway redeliver.
			logger.WithFields(logrus.Fields{
				"field":          "server.go",
				"event_id":       event.ID,
				"event_type":     event.Type,
				"correlation_id": correlationId,
			}).Error("event processing failed: " + perr.Error())
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func opsAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := os.Getenv("INTERNAL_OPS_TOKEN")
		if token == "" || c.GetHeader("X-Internal-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// ledgerLookupHandler exposes the processed-event audit log for debugging.
func ledgerLookupHandler(db func() *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var row models.ProcessedEvent
		err := db().WithContext(c.Request.Context()).
			Where("event_id = ?", c.Param("eventId")).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not in ledger"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

// intentLookupHandler serves the canonical last-known gateway snapshot,
// redis cache first, DB fallback.
func intentLookupHandler(db func() *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		var cached models.PaymentIntentRecord
		if hit, err := config.GetRedisObject("payment_intent:"+id, &cached); err == nil && hit {
			c.JSON(http.StatusOK, cached)
			return
		}

		var row models.PaymentIntentRecord
		err := db().WithContext(c.Request.Context()).
			Where("intent_id = ?", id).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment intent"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

type replayRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// replayEnqueueHandler stores a raw event payload for the background
// sweeper. The payload must parse as an event envelope; signatures are not
// re-checked because only operators can reach this route.
func replayEnqueueHandler(db func() *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req replayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		event, err := gateway.ParseEvent([]byte(req.Payload))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		row := models.ReplayEvent{
			EventId: event.ID,
			Payload: []byte(req.Payload),
		}
		if err := db().WithContext(c.Request.Context()).Create(&row).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": row.ID, "event_id": row.EventId})
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowHeaders("Authorization", "X-Internal-Token", signatureHeader)
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	// Start listening immediately (Cloud Run startup probe is TCP based);
	// route handlers guard on engine readiness.
	var engine *workflow.Engine
	ready := func(c *gin.Context) bool {
		if engine == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "starting up"})
			return false
		}
		return true
	}

	r.POST("/webhooks/payment", func(c *gin.Context) {
		if !ready(c) {
			return
		}
		paymentWebhookHandler(engine)(c)
	})

	ops := r.Group("/internal/ops", opsAuthMiddleware())
	ops.GET("/ledger/:eventId", ledgerLookupHandler(config.GetDB))
	ops.GET("/payment-intents/:id", intentLookupHandler(config.GetDB))
	ops.POST("/events/replay", replayEnqueueHandler(config.GetDB))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErr := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	eng, err := workflow.NewDefaultEngine(config.GetDB(), logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "main"}).
			Fatal("engine init failed: " + err.Error())
	}
	engine = eng

	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go workflow.NewReplaySweeper(config.GetDB(), engine, logger).Run(sweeperCtx)

	logger.WithFields(logrus.Fields{"field": "main", "port": port}).Info("server ready")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErr:
		logger.WithFields(logrus.Fields{"field": "http"}).Error("server error: " + err.Error())
	}

	stopSweeper()
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}

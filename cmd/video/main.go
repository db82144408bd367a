package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/relaymesh/conclave/internal/config"
	"github.com/relaymesh/conclave/internal/identity"
	"github.com/relaymesh/conclave/internal/observability"
	"github.com/relaymesh/conclave/internal/rabbitmq"
	"github.com/relaymesh/conclave/internal/session"
	"github.com/relaymesh/conclave/internal/store"
	"github.com/relaymesh/conclave/internal/store/memory"
	"github.com/relaymesh/conclave/internal/store/postgres"
	"github.com/relaymesh/conclave/internal/telemetry"
	"github.com/relaymesh/conclave/internal/videoengine"
)

func main() {
	cfg := config.Load()

	shutdownTracing, err := observability.InitTracing(context.Background(), "conclave-video")
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	backend := buildStore(cfg)

	verifier := buildVerifier(cfg)
	authn := session.New(verifier)

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if mode := rabbitmq.PublisherMode(auditPublisher); mode == "noop" {
		log.Printf("video: audit publisher running in noop mode: %s", rabbitmq.PublisherNoopReason(auditPublisher))
	} else {
		log.Printf("video: audit publisher mode=%s", mode)
	}
	audit := telemetry.NewAuditEmitter(auditPublisher, "video.audit", "conclave-video", cfg.LogLevel)

	var domainPublisher observability.Publisher
	if cfg.AMQPURL != "" {
		amqpPub, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("video: video_events publisher unavailable, events will be dropped: %v", err)
		} else {
			domainPublisher = amqpPub
		}
	}

	engine := videoengine.New(backend, audit, domainPublisher, cfg.FanOutSendTimeout, cfg.VideoSignalDedup)
	handler := videoengine.NewHandler(engine, authn, cfg.FanOutSendTimeout)

	router := gin.Default()
	router.Use(observability.HTTPMetricsMiddleware("video"))
	router.Use(observability.CORSMiddleware(cfg.CORSOrigins))

	router.GET("/ws", handler.Handle)
	engine.RegisterREST(router.Group("/"))

	port := cfg.VideoServicePort
	log.Printf("video engine listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("video server error: %v", err)
	}
}

func buildStore(cfg config.Config) store.Store {
	if cfg.StoreBackend == "postgres" {
		db, err := postgres.Connect(cfg.DBDSN)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		return store.WithRetry(postgres.New(db), "video")
	}
	return store.WithRetry(memory.New(), "video")
}

func buildVerifier(cfg config.Config) identity.Verifier {
	if cfg.IdentityVerifier == "http" {
		return identity.NewHTTPVerifier(cfg.AuthServiceURL + "/auth")
	}
	return identity.NewJWTVerifier(cfg.JWTSecret)
}

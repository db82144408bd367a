package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaymesh/conclave/internal/chatengine"
	"github.com/relaymesh/conclave/internal/config"
	"github.com/relaymesh/conclave/internal/identity"
	"github.com/relaymesh/conclave/internal/observability"
	"github.com/relaymesh/conclave/internal/rabbitmq"
	"github.com/relaymesh/conclave/internal/session"
	"github.com/relaymesh/conclave/internal/store"
	"github.com/relaymesh/conclave/internal/store/memory"
	"github.com/relaymesh/conclave/internal/store/postgres"
	"github.com/relaymesh/conclave/internal/telemetry"
)

func main() {
	cfg := config.Load()

	shutdownTracing, err := observability.InitTracing(context.Background(), "conclave-chat")
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	backend := buildStore(cfg)

	verifier := buildVerifier(cfg)
	authn := session.New(verifier)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if mode := rabbitmq.PublisherMode(publisher); mode == "noop" {
		log.Printf("chat: audit publisher running in noop mode: %s", rabbitmq.PublisherNoopReason(publisher))
	} else {
		log.Printf("chat: audit publisher mode=%s", mode)
	}
	audit := telemetry.NewAuditEmitter(publisher, "chat.audit", "conclave-chat", cfg.LogLevel)

	engine := chatengine.New(backend, audit, cfg.FanOutSendTimeout, 30*time.Second)
	handler := chatengine.NewHandler(engine, authn, cfg.FanOutSendTimeout)

	router := gin.Default()
	router.Use(observability.HTTPMetricsMiddleware("chat"))
	router.Use(observability.CORSMiddleware(cfg.CORSOrigins))

	router.GET("/ws", handler.Handle)

	port := cfg.ChatServicePort
	log.Printf("chat engine listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("chat server error: %v", err)
	}
}

func buildStore(cfg config.Config) store.Store {
	if cfg.StoreBackend == "postgres" {
		db, err := postgres.Connect(cfg.DBDSN)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		return store.WithRetry(postgres.New(db), "chat")
	}
	return store.WithRetry(memory.New(), "chat")
}

func buildVerifier(cfg config.Config) identity.Verifier {
	if cfg.IdentityVerifier == "http" {
		return identity.NewHTTPVerifier(cfg.AuthServiceURL + "/auth")
	}
	return identity.NewJWTVerifier(cfg.JWTSecret)
}

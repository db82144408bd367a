package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/relaymesh/conclave/internal/config"
	"github.com/relaymesh/conclave/internal/gateway"
	"github.com/relaymesh/conclave/internal/observability"
)

func main() {
	cfg := config.Load()

	shutdownTracing, err := observability.InitTracing(context.Background(), "conclave-gateway")
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	var domainPublisher observability.Publisher
	if cfg.AMQPURL != "" {
		amqpPub, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("gateway: gateway_events publisher unavailable, events will be dropped: %v", err)
		} else {
			domainPublisher = amqpPub
		}
	}

	gw, err := gateway.New(gateway.Config{
		AuthURL:   cfg.AuthServiceURL,
		ChatURL:   cfg.ChatServiceURL,
		VideoURL:  cfg.VideoServiceURL,
		Publisher: domainPublisher,
	})
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}

	router := gin.Default()
	router.Use(observability.HTTPMetricsMiddleware("gateway"))
	router.Use(observability.CORSMiddleware(cfg.CORSOrigins))

	gw.RegisterRoutes(router)

	port := cfg.GatewayPort
	log.Printf("gateway listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("gateway server error: %v", err)
	}
}

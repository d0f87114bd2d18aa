package main

import (
	"log"
	"net/http"

	"github.com/alexbotov/robokassa/internal/api"
	"github.com/alexbotov/robokassa/internal/config"
	"github.com/alexbotov/robokassa/internal/forward"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	forwarder := forward.New(cfg.Forward.URL, cfg.Forward.JWTSecret, cfg.Forward.Timeout)
	handler, err := api.New(cfg, forwarder)
	if err != nil {
		log.Fatalf("handler: %v", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("robokassa-relay listening on %s (shop %s)", cfg.Server.Addr, cfg.Merchant.Login)
	log.Fatal(server.ListenAndServe())
}

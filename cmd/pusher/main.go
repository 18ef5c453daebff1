package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/listingchat/chat-app/internal/config"
	"github.com/listingchat/chat-app/internal/messaging"
	"github.com/listingchat/chat-app/internal/notify"
)

func main() {
	log.Println("Starting listing chat push worker...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	natsConfig := cfg.NATS
	natsConfig.Name = "listing-chat-pusher"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	gateway := notify.NewGateway(cfg.PushGatewayURL, 0)
	worker := notify.NewWorker(gateway, natsClient, 0)

	if err := natsClient.SubscribePush(worker.Handle); err != nil {
		log.Fatalf("failed to subscribe to push jobs: %v", err)
	}

	log.Printf("Listing chat push worker running")
	log.Printf("  nats_url:    %s", natsConfig.URL)
	log.Printf("  gateway_url: %s", cfg.PushGatewayURL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	// Leave the queue group first so pending jobs go to the other workers.
	if err := natsClient.Unsubscribe(messaging.SubjectPushSend); err != nil {
		log.Printf("failed to leave push queue: %v", err)
	}
	natsClient.Close()
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/FaydArshan94/Prodexa-sub000/shared/config"
	"github.com/FaydArshan94/Prodexa-sub000/shared/database"
	"github.com/FaydArshan94/Prodexa-sub000/shared/events"
	"github.com/FaydArshan94/Prodexa-sub000/shared/httputil"
	"github.com/FaydArshan94/Prodexa-sub000/shared/logger"
	"github.com/FaydArshan94/Prodexa-sub000/shared/messaging"
)

const serviceName = "order-service"

func main() {
	appLogger := logger.New(serviceName)

	cfg, err := config.Load(serviceName)
	if err != nil {
		appLogger.Fatal("Failed to load configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	broker, err := messaging.NewMessageBroker(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize message broker", "error", err)
	}
	defer broker.Close()

	handlers := NewHandlers(db.Collection(database.CollectionOrders), events.NewPublisher(broker), appLogger)
	router := httputil.NewRouter(serviceName)
	handlers.RegisterRoutes(router)

	g, ctx := errgroup.WithContext(ctx)

	// Orders are accepted while the broker is still connecting; publishes
	// made before it is up fail and are logged.
	go func() {
		if err := broker.Start(ctx); err != nil {
			appLogger.Error("Message broker not available at startup", "error", err)
		}
	}()

	g.Go(func() error {
		return httputil.Serve(ctx, ":"+cfg.HTTPPort, router, appLogger)
	})

	appLogger.Info("Order service started", "port", cfg.HTTPPort, "broker", cfg.MessageBroker, "store", cfg.DocumentStore, "namespace", cfg.StoreNamespace)

	if err := g.Wait(); err != nil {
		appLogger.Error("Order service stopped with error", "error", err)
	}
	appLogger.Info("Shutting down order service")
}

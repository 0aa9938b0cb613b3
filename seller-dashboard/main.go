package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/FaydArshan94/Prodexa-sub000/shared/config"
	"github.com/FaydArshan94/Prodexa-sub000/shared/database"
	"github.com/FaydArshan94/Prodexa-sub000/shared/httputil"
	"github.com/FaydArshan94/Prodexa-sub000/shared/logger"
	"github.com/FaydArshan94/Prodexa-sub000/shared/messaging"
	"github.com/FaydArshan94/Prodexa-sub000/shared/projection"
)

const serviceName = "seller-dashboard"

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

	orders := db.Collection(database.CollectionOrders)
	products := db.Collection(database.CollectionProducts)

	// Subscriptions that cannot be set up yet are retried by the broker, so
	// the API serves whatever the projections already hold.
	consumer := projection.NewConsumer(broker, projection.SellerDashboardBindings(orders, products), appLogger)
	if err := consumer.Start(ctx); err != nil {
		appLogger.Fatal("Failed to register projection consumers", "error", err)
	}

	api := NewAPI(orders, products, appLogger)
	router := httputil.NewRouter(serviceName)
	api.RegisterRoutes(router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httputil.Serve(ctx, ":"+cfg.HTTPPort, router, appLogger)
	})

	appLogger.Info("Seller dashboard started", "port", cfg.HTTPPort, "broker", cfg.MessageBroker, "store", cfg.DocumentStore, "namespace", cfg.StoreNamespace)

	if err := g.Wait(); err != nil {
		appLogger.Error("Seller dashboard stopped with error", "error", err)
	}
	appLogger.Info("Shutting down seller dashboard")
}

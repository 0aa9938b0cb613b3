package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/FaydArshan94/Prodexa-sub000/shared/config"
	"github.com/FaydArshan94/Prodexa-sub000/shared/httputil"
	"github.com/FaydArshan94/Prodexa-sub000/shared/logger"
	"github.com/FaydArshan94/Prodexa-sub000/shared/mailer"
	"github.com/FaydArshan94/Prodexa-sub000/shared/messaging"
)

const serviceName = "notification-service"

func main() {
	appLogger := logger.New(serviceName)

	cfg, err := config.Load(serviceName)
	if err != nil {
		appLogger.Fatal("Failed to load configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker, err := messaging.NewMessageBroker(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize message broker", "error", err)
	}
	defer broker.Close()

	notifier := NewNotifier(mailer.New(cfg, appLogger), appLogger)
	if err := notifier.Subscribe(ctx, broker); err != nil {
		appLogger.Fatal("Failed to subscribe", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httputil.Serve(ctx, ":"+cfg.HTTPPort, httputil.NewRouter(serviceName), appLogger)
	})

	appLogger.Info("Notification service started", "port", cfg.HTTPPort, "broker", cfg.MessageBroker, "smtp", cfg.SMTPEnabled())

	if err := g.Wait(); err != nil {
		appLogger.Error("Notification service stopped with error", "error", err)
	}
	appLogger.Info("Shutting down notification service")
}

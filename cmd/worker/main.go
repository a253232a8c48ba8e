package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/app"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/service"
)

// The worker consumes batches queued with ?async=true from RabbitMQ.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		return err
	}
	defer func() { _ = zap.L().Sync() }()
	if cfg.Queue.AMQPURL == "" {
		return eris.New("queue.amqp_url is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := queue.DialAMQP(cfg.Queue.AMQPURL)
	if err != nil {
		return err
	}
	defer q.Close()

	// progress goes to the server's observers over the events exchange
	a, err := app.Open(ctx, cfg, app.Options{Browser: true, Relay: q})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := service.NewWorker(a.Service).Start(ctx, q); err != nil {
		return err
	}
	zap.L().Info("worker running, waiting for batches", zap.String("topic", queue.TopicBatches))
	<-ctx.Done()
	zap.L().Info("worker stopping")
	return nil
}

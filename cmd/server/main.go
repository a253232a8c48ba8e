// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/app"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/controller"
	"github.com/unclebandit/outreach-engine/internal/monitor"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/service"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, app.Options{Browser: true})
	if err != nil {
		return err
	}
	defer a.Close()

	// Without a broker, queued batches run on an in-process worker.
	var q queue.Queue
	if cfg.Queue.AMQPURL != "" {
		amqpQueue, err := queue.DialAMQP(cfg.Queue.AMQPURL)
		if err != nil {
			return err
		}
		q = amqpQueue
		// observers here watch jobs that run in worker processes
		if err := monitor.Forward(ctx, q, a.Hub); err != nil {
			_ = q.Close()
			return err
		}
	} else {
		q = queue.NewInMemoryQueue()
		if err := service.NewWorker(a.Service).Start(ctx, q); err != nil {
			return err
		}
	}
	defer q.Close()
	if err := a.Service.Attach(ctx, q); err != nil {
		return err
	}

	ctrl := &controller.CampaignController{
		CampaignService: a.Service,
		Monitor:         monitor.NewWSHandler(a.Hub, cfg.Server.AllowedOrigins),
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           controller.NewRouter(ctrl, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	xhttp "BrentBreaks/pkg/http"
	pkgkafka "BrentBreaks/pkg/kafka"
	applogger "BrentBreaks/pkg/logger"
	"BrentBreaks/pkg/queue"
)

// Closer is a named shutdown step.
type Closer struct {
	Name string
	Fn   func(ctx context.Context) error
}

// App encapsulates the entire application lifecycle.
type App struct {
	l               *applogger.Logger
	httpServer      *xhttp.Server
	consumer        *pkgkafka.Consumer
	handlers        []pkgkafka.MessageHandler
	queue           queue.Queue
	closers         []Closer
	shutdownTimeout time.Duration
}

// Option configures App.
type Option func(*App)

// WithConsumer starts c with the given handlers registered.
func WithConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.handlers = handlers
	}
}

// WithQueue starts the background job queue.
func WithQueue(q queue.Queue) Option {
	return func(a *App) { a.queue = q }
}

// WithCloser appends a shutdown step; steps run in registration order
// after the servers have stopped.
func WithCloser(name string, fn func(ctx context.Context) error) Option {
	return func(a *App) {
		if fn != nil {
			a.closers = append(a.closers, Closer{Name: name, Fn: fn})
		}
	}
}

// WithShutdownTimeout bounds the whole shutdown sequence.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

// New creates a new App instance.
func New(l *applogger.Logger, httpServer *xhttp.Server, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{l: l, httpServer: httpServer, shutdownTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every component and blocks until ctx ends or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(); err != nil {
		_ = a.shutdown()
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) start() error {
	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return err
		}
	}

	if a.consumer != nil && len(a.handlers) > 0 {
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
		}
		if err := a.consumer.Start(); err != nil {
			return err
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.l.Error("http server start error", applogger.Error(err))
			return err
		}
	}
	return nil
}

// shutdown stops intake first (HTTP, consumer), then background work, then
// infrastructure clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.consumer != nil && len(a.handlers) > 0 {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.l.Warn("queue stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	for _, c := range a.closers {
		if err := c.Fn(ctx); err != nil {
			a.l.Warn("close error", applogger.String("component", c.Name), applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}

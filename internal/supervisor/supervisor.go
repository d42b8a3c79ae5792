package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

type Config struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// New builds the root supervisor, logging its events through zap.
func New(name string, cfg Config, logger *zap.Logger) *suture.Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return suture.New(name, suture.Spec{
		EventHook:        eventHook(logger),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	})
}

func eventHook(logger *zap.Logger) suture.EventHook {
	return func(ev suture.Event) {
		fields := []zap.Field{zap.String("event_type", fmt.Sprint(ev.Type()))}
		for k, v := range ev.Map() {
			fields = append(fields, zap.Any(k, v))
		}

		switch ev.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
			logger.Error(ev.String(), fields...)
		case suture.EventTypeBackoff:
			logger.Warn(ev.String(), fields...)
		default:
			logger.Info(ev.String(), fields...)
		}
	}
}

// FiberService runs a fiber app under supervision.
type FiberService struct {
	app             *fiber.App
	addr            string
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

func NewFiberService(app *fiber.App, addr string, shutdownTimeout time.Duration, logger *zap.Logger) *FiberService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FiberService{app: app, addr: addr, shutdownTimeout: shutdownTimeout, logger: logger}
}

// Serve implements suture.Service.
func (s *FiberService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("address", s.addr))
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("Server shutting down gracefully...")
		if err := s.app.ShutdownWithTimeout(s.shutdownTimeout); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *FiberService) String() string {
	return "http-server"
}

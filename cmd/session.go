package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend/browser"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend/native"
	"github.com/xkilldash9x/chatpilot-cli/internal/capture"
	"github.com/xkilldash9x/chatpilot-cli/internal/config"
	"github.com/xkilldash9x/chatpilot-cli/internal/dispatcher"
	"github.com/xkilldash9x/chatpilot-cli/internal/observability"
)

// session bundles the components one command invocation works with.
type session struct {
	cfg        *config.Config
	logger     *zap.Logger
	adapter    backend.Adapter
	capture    capture.Service
	dispatcher *dispatcher.Dispatcher
	sleep      func(context.Context, time.Duration) error
}

// backendFactory builds the adapter and capture service for cfg. Tests
// replace it with an in-memory fake.
var backendFactory = defaultBackend

func defaultBackend(cfg *config.Config, logger *zap.Logger) (backend.Adapter, capture.Service, error) {
	switch cfg.App.Backend {
	case config.BackendNative:
		return native.New(logger, cfg.Native), capture.NewScreencapture(logger, cfg.App.ScreenshotDir), nil
	case config.BackendBrowser:
		a := browser.New(logger, cfg.Browser)
		return a, browser.NewScreenshotter(a, cfg.App.ScreenshotDir), nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.App.Backend)
}

// dispatcherOptions lets tests drop the pacing delays.
var dispatcherOptions []dispatcher.Option

func newSession(cfg *config.Config) (*session, error) {
	logger := observability.GetLogger()
	adapter, capSvc, err := backendFactory(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts, err := dispatcher.OptionsFromConfig(cfg)
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}
	return &session{
		cfg:        cfg,
		logger:     logger,
		adapter:    adapter,
		capture:    capSvc,
		dispatcher: dispatcher.New(adapter, capSvc, opts, logger, dispatcherOptions...),
		sleep:      backend.Sleep,
	}, nil
}

func (s *session) Close() {
	if err := s.adapter.Close(); err != nil {
		s.logger.Warn("Failed to close backend.", zap.Error(err))
	}
}

// screenshot captures region (nil for the whole screen or tab) under name
// and returns the file path, or "" when capturing failed.
func (s *session) screenshot(ctx context.Context, region *schemas.Region, name string) string {
	img, ok := capture.Opportunistic(ctx, s.capture, s.cfg.Capture.Timeout, region, name, s.logger)
	if !ok {
		return ""
	}
	return img.Path
}

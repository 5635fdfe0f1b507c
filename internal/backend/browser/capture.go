package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/capture"
)

// Screenshotter captures the adapter's tab as PNG files in dir.
type Screenshotter struct {
	adapter *Adapter
	dir     string
	logger  *zap.Logger
}

var _ capture.Service = (*Screenshotter)(nil)

func NewScreenshotter(a *Adapter, dir string) *Screenshotter {
	return &Screenshotter{adapter: a, dir: dir, logger: a.logger.Named("capture")}
}

func (s *Screenshotter) Capture(ctx context.Context, region *schemas.Region, name string) (schemas.ImageHandle, error) {
	now := time.Now()
	var buf []byte

	var action chromedp.Action
	if region != nil && !region.Empty() {
		action = chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				WithClip(&page.Viewport{
					X:      float64(region.X),
					Y:      float64(region.Y),
					Width:  float64(region.Width),
					Height: float64(region.Height),
					Scale:  1,
				}).Do(ctx)
			return err
		})
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}

	if err := s.adapter.run(ctx, action); err != nil {
		return schemas.ImageHandle{}, fmt.Errorf("failed to capture tab: %w", err)
	}
	path := filepath.Join(s.dir, capture.FileName(name, now))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return schemas.ImageHandle{}, fmt.Errorf("failed to write screenshot: %w", err)
	}
	s.logger.Debug("Screenshot saved.", zap.String("path", path))
	return schemas.ImageHandle{Path: path, CapturedAt: now}, nil
}

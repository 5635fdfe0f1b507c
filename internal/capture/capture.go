// Package capture takes the audit screenshots recorded around UI actions.
// Screenshots are never interpreted; callers only pass the handles on.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
)

// Service captures the screen, or a region of it, into a file named after name.
type Service interface {
	Capture(ctx context.Context, region *schemas.Region, name string) (schemas.ImageHandle, error)
}

// Noop discards capture requests.
type Noop struct{}

func (Noop) Capture(context.Context, *schemas.Region, string) (schemas.ImageHandle, error) {
	return schemas.ImageHandle{}, nil
}

// FileName builds "<name>_<YYYYmmdd_HHMMSS>.png", or name itself when it
// already carries an extension.
func FileName(name string, now time.Time) string {
	if filepath.Ext(name) != "" {
		return name
	}
	if name == "" {
		name = "screenshot"
	}
	return fmt.Sprintf("%s_%s.png", name, now.Format("20060102_150405"))
}

// Screencapture shells out to the macOS screencapture tool.
type Screencapture struct {
	dir    string
	binary string
	logger *zap.Logger
	now    func() time.Time
}

// NewScreencapture writes images into dir.
func NewScreencapture(logger *zap.Logger, dir string) *Screencapture {
	return &Screencapture{
		dir:    dir,
		binary: "screencapture",
		logger: logger.Named("capture"),
		now:    time.Now,
	}
}

func (s *Screencapture) Capture(ctx context.Context, region *schemas.Region, name string) (schemas.ImageHandle, error) {
	now := s.now()
	path := filepath.Join(s.dir, FileName(name, now))

	args := []string{"-x"}
	if region != nil && !region.Empty() {
		args = append(args, "-R", region.String())
	}
	args = append(args, path)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return schemas.ImageHandle{}, fmt.Errorf("screencapture failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	s.logger.Debug("Screenshot saved.", zap.String("path", path))
	return schemas.ImageHandle{Path: path, CapturedAt: now}, nil
}

// Opportunistic captures with a bounded timeout and swallows failures. It is
// used around mutating actions where a missing screenshot must never fail the
// action itself.
func Opportunistic(ctx context.Context, svc Service, timeout time.Duration, region *schemas.Region, name string, logger *zap.Logger) (schemas.ImageHandle, bool) {
	if svc == nil {
		return schemas.ImageHandle{}, false
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	img, err := svc.Capture(ctx, region, name)
	if err != nil {
		logger.Warn("Screenshot failed; continuing.", zap.String("name", name), zap.Error(err))
		return schemas.ImageHandle{}, false
	}
	return img, img.Path != ""
}

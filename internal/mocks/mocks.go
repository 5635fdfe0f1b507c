// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
)

// -- Adapter Mock --

// MockAdapter mocks backend.Adapter.
type MockAdapter struct {
	mock.Mock
}

var _ backend.Adapter = (*MockAdapter)(nil)

func (m *MockAdapter) Name() string {
	return m.Called().String(0)
}

func (m *MockAdapter) EnsureRunning(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockAdapter) Launch(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockAdapter) Foreground(ctx context.Context, identity string) error {
	return m.Called(ctx, identity).Error(0)
}

func (m *MockAdapter) ListTopLevelSurfaces(ctx context.Context) ([]schemas.WindowDescriptor, error) {
	args := m.Called(ctx)
	ws, _ := args.Get(0).([]schemas.WindowDescriptor)
	return ws, args.Error(1)
}

func (m *MockAdapter) ReadBadgeCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockAdapter) Locate(ctx context.Context, s backend.Strategy) (*backend.ElementHandle, error) {
	args := m.Called(ctx, s)
	el, _ := args.Get(0).(*backend.ElementHandle)
	return el, args.Error(1)
}

func (m *MockAdapter) Click(ctx context.Context, el *backend.ElementHandle) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockAdapter) ClickAt(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockAdapter) Clear(ctx context.Context, el *backend.ElementHandle) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockAdapter) TypeText(ctx context.Context, el *backend.ElementHandle, text string) error {
	return m.Called(ctx, el, text).Error(0)
}

func (m *MockAdapter) SendKey(ctx context.Context, key schemas.Key, mods schemas.KeyModifier) error {
	return m.Called(ctx, key, mods).Error(0)
}

func (m *MockAdapter) Close() error {
	return m.Called().Error(0)
}

// -- Event Sink Mock --

// MockEventSink mocks store.EventSink.
type MockEventSink struct {
	mock.Mock
}

func (m *MockEventSink) Append(ctx context.Context, ev schemas.ActivityEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *MockEventSink) Close() error {
	return m.Called().Error(0)
}

// -- Capture Mock --

// MockCaptureService mocks capture.Service.
type MockCaptureService struct {
	mock.Mock
}

func (m *MockCaptureService) Capture(ctx context.Context, region *schemas.Region, name string) (schemas.ImageHandle, error) {
	args := m.Called(ctx, region, name)
	img, _ := args.Get(0).(schemas.ImageHandle)
	return img, args.Error(1)
}

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
	"github.com/xkilldash9x/chatpilot-cli/internal/config"
	"github.com/xkilldash9x/chatpilot-cli/internal/mocks"
)

var (
	searchByName = backend.Strategy{Kind: backend.ByAccessibilityName, Value: "搜索", Window: "QQ"}
	searchByGeo  = backend.Strategy{Kind: backend.ByFixedGeometry, Window: "QQ", Anchor: backend.Anchor{XRatio: 0.5, YOffset: 70}}
	resultByText = backend.Strategy{Kind: backend.ByTextContent, Value: "{query}"}
	inputByName  = backend.Strategy{Kind: backend.ByAccessibilityName, Window: "{window}"}
	loggedIn     = backend.Strategy{Kind: backend.ByCSSSelector, Value: ".recent-chat-list"}

	mainWin  = schemas.WindowDescriptor{Identity: "QQ", X: 0, Y: 0, Width: 300, Height: 600}
	aliceWin = schemas.WindowDescriptor{Identity: "Alice", X: 400, Y: 100, Width: 500, Height: 700}
)

func noSleep(context.Context, time.Duration) error { return nil }

func testOptions() Options {
	return Options{
		Chains: backend.Chains{
			Search:       []backend.Strategy{searchByName, searchByGeo},
			MessageInput: []backend.Strategy{inputByName},
		},
		StrategyTimeout: time.Second,
		Reserved:        []string{"", "QQ", "全网搜索"},
	}
}

func newTestDispatcher(t *testing.T, fake *mocks.FakeAdapter, opts Options) *Dispatcher {
	t.Helper()
	return New(fake, nil, opts, zaptest.NewLogger(t), WithSleep(noSleep))
}

func bound(s backend.Strategy, k, v string) backend.Strategy {
	return s.Bind(map[string]string{k: v})
}

func ops(actions []mocks.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Op
	}
	return out
}

func TestSendText(t *testing.T) {
	t.Run("dry run types but never presses Return", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		fake.QueueSurfaces(mainWin, aliceWin)
		fake.Place(bound(inputByName, backend.VarWindow, "Alice"), 650, 695)

		report, err := newTestDispatcher(t, fake, testOptions()).SendText(context.Background(), "", "你好", true)
		require.NoError(t, err)

		assert.True(t, report.Success)
		assert.True(t, report.DryRun)
		assert.Equal(t, schemas.StatusTypedNotSent, report.Status)
		assert.False(t, report.Sent())
		assert.Equal(t, "Alice", report.ChatWindow)
		assert.Equal(t, 0, fake.Count("key", string(schemas.KeyReturn)))
		assert.Equal(t, 1, fake.Count("type", "你好"))
		assert.Equal(t, []string{"foreground", "foreground", "click", "clear", "type"}, ops(fake.Actions()))
	})

	t.Run("live send presses Return once", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		fake.QueueSurfaces(mainWin, aliceWin)
		fake.Place(bound(inputByName, backend.VarWindow, "Alice"), 650, 695)

		report, err := newTestDispatcher(t, fake, testOptions()).SendText(context.Background(), "Alice", "hi", false)
		require.NoError(t, err)
		assert.True(t, report.Sent())
		assert.Equal(t, 1, fake.Count("key", string(schemas.KeyReturn)))
		assert.Equal(t, 1, fake.Count("foreground", "Alice"))

		actions := fake.Actions()
		last := actions[len(actions)-1]
		assert.Equal(t, "key", last.Op)
		assert.Equal(t, schemas.ModNone, last.Mods)
	})

	t.Run("explicit target that is gone", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		fake.QueueSurfaces(mainWin)

		report, err := newTestDispatcher(t, fake, testOptions()).SendText(context.Background(), "Bob", "hi", false)
		require.Error(t, err)
		assert.ErrorIs(t, err, backend.ErrElementNotFound)
		assert.False(t, report.Success)
		assert.Equal(t, ReasonNotFound, report.Error)
		assert.Zero(t, fake.Count("type", ""))
	})

	t.Run("falls back to the main surface", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		fake := mocks.NewFakeAdapter()
		fake.QueueSurfaces(mainWin)
		fake.Place(bound(inputByName, backend.VarWindow, ""), 150, 510)

		d := New(fake, nil, testOptions(), zap.New(core), WithSleep(noSleep))
		report, err := d.SendText(context.Background(), "", "hi", true)
		require.NoError(t, err)
		assert.Empty(t, report.ChatWindow)
		assert.Equal(t, 1, logs.FilterMessageSnippet("No conversation surface open").Len())
	})

	t.Run("single surface backend sends into the open conversation", func(t *testing.T) {
		opts := testOptions()
		opts.SingleSurface = true
		fake := mocks.NewFakeAdapter()
		fake.SetSurfaces(mainWin, aliceWin)
		fake.Place(bound(inputByName, backend.VarWindow, ""), 650, 695)

		report, err := newTestDispatcher(t, fake, opts).SendText(context.Background(), "", "hi", false)
		require.NoError(t, err)
		assert.True(t, report.Sent())
		assert.Empty(t, report.ChatWindow)
		assert.Zero(t, fake.Count("foreground", "Alice"))
		assert.Equal(t, 1, fake.Count("foreground", ""))
		assert.Zero(t, fake.ListCalls())
		assert.Equal(t, []string{"foreground", "click", "clear", "type", "key"}, ops(fake.Actions()))
	})

	t.Run("single surface backend still opens an explicit target", func(t *testing.T) {
		opts := testOptions()
		opts.SingleSurface = true
		fake := mocks.NewFakeAdapter()
		fake.SetSurfaces(mainWin, aliceWin)
		fake.Place(bound(inputByName, backend.VarWindow, "Alice"), 650, 695)

		report, err := newTestDispatcher(t, fake, opts).SendText(context.Background(), "Alice", "hi", true)
		require.NoError(t, err)
		assert.Equal(t, "Alice", report.ChatWindow)
		assert.Equal(t, 1, fake.Count("foreground", "Alice"))
	})

	t.Run("missing input control", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		fake.QueueSurfaces(mainWin, aliceWin)

		report, err := newTestDispatcher(t, fake, testOptions()).SendText(context.Background(), "", "hi", false)
		require.Error(t, err)

		var ae *ActionError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "locate message input", ae.Step)
		assert.Equal(t, ReasonNotFound, ae.Reason)
		assert.Equal(t, ReasonNotFound, report.Error)
		assert.Zero(t, fake.Count("type", ""))
	})

	t.Run("every input strategy times out", func(t *testing.T) {
		inputByGeo := backend.Strategy{Kind: backend.ByFixedGeometry, Window: "{window}", Anchor: backend.Anchor{XRatio: 0.5, YRatio: 0.85}}
		opts := testOptions()
		opts.Chains.MessageInput = []backend.Strategy{inputByName, inputByGeo}

		fake := mocks.NewFakeAdapter()
		fake.QueueSurfaces(mainWin, aliceWin)
		fake.FailLocate(bound(inputByName, backend.VarWindow, "Alice"), backend.ErrTimeout)
		fake.FailLocate(bound(inputByGeo, backend.VarWindow, "Alice"), context.DeadlineExceeded)

		report, err := newTestDispatcher(t, fake, opts).SendText(context.Background(), "", "hi", false)
		require.Error(t, err)
		assert.ErrorIs(t, err, backend.ErrElementNotFound)
		assert.False(t, report.Success)
		assert.Len(t, fake.Located(), 2)
		assert.Equal(t, []string{"foreground", "foreground"}, ops(fake.Actions()))
	})

	t.Run("permission denial carries remediation", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		fake := mocks.NewFakeAdapter()
		fake.SetActionErr(fmt.Errorf("osascript: %w", backend.ErrPermissionDenied))

		d := New(fake, nil, testOptions(), zap.New(core), WithSleep(noSleep))
		report, err := d.SendText(context.Background(), "", "hi", false)
		require.Error(t, err)
		assert.ErrorIs(t, err, backend.ErrPermissionDenied)
		assert.Contains(t, report.Error, ReasonPermission)
		assert.Contains(t, report.Error, backend.PermissionRemediation)

		entries := logs.FilterMessage("Automation permission denied.").All()
		require.Len(t, entries, 1)
		assert.Equal(t, backend.PermissionRemediation, entries[0].ContextMap()["remediation"])
	})

	t.Run("unavailable backend is a generic failure", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		fake.SetRunningErr(backend.ErrBackendUnavailable)

		report, err := newTestDispatcher(t, fake, testOptions()).SendText(context.Background(), "", "hi", false)
		var ae *ActionError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, ReasonFailed, ae.Reason)
		assert.Equal(t, ReasonFailed, report.Error)
		assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
		assert.Empty(t, fake.Actions())
	})

	t.Run("screenshots bracket the action", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		fake.QueueSurfaces(mainWin, aliceWin)
		fake.Place(bound(inputByName, backend.VarWindow, "Alice"), 650, 695)

		region := aliceWin.Region()
		capSvc := new(mocks.MockCaptureService)
		capSvc.On("Capture", mock.Anything, &region, "before_send").Return(schemas.ImageHandle{Path: "/tmp/a.png"}, nil).Once()
		capSvc.On("Capture", mock.Anything, &region, "after_send").Return(schemas.ImageHandle{}, errors.New("no display")).Once()

		opts := testOptions()
		opts.CaptureOnActions = true
		d := New(fake, capSvc, opts, zaptest.NewLogger(t), WithSleep(noSleep))

		report, err := d.SendText(context.Background(), "", "hi", false)
		require.NoError(t, err, "a failed screenshot must not fail the send")
		assert.True(t, report.Sent())
		capSvc.AssertExpectations(t)
	})
}

func TestOpenConversation(t *testing.T) {
	t.Run("clicks the first search result", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		fake.Place(searchByName, 150, 70)
		fake.Place(bound(resultByText, backend.VarQuery, "Alice"), 150, 140)
		fake.QueueSurfaces(mainWin, aliceWin)

		opts := testOptions()
		opts.Chains.SearchResult = []backend.Strategy{resultByText}
		handle, err := newTestDispatcher(t, fake, opts).OpenConversation(context.Background(), "Alice")
		require.NoError(t, err)

		assert.True(t, handle.Confirmed)
		assert.Equal(t, "Alice", handle.Identity)
		assert.Empty(t, handle.Note)
		assert.Zero(t, fake.Count("key", ""), "result was clicked, no confirm key")
		assert.Equal(t, 1, fake.Count("type", "Alice"))

		var clicks []mocks.Action
		for _, a := range fake.Actions() {
			if a.Op == "click" {
				clicks = append(clicks, a)
			}
		}
		require.Len(t, clicks, 2)
		assert.Equal(t, 140, clicks[1].Y)

		rep := handle.Report("Alice")
		assert.True(t, rep.Success)
		assert.Equal(t, "Alice", rep.ChatWindow)
	})

	t.Run("confirms with Return and reports unconfirmed open", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		fake.Place(searchByGeo, 150, 70)
		fake.QueueSurfaces(mainWin, schemas.WindowDescriptor{Identity: "全网搜索"})

		opts := testOptions()
		opts.Chains.SearchResult = []backend.Strategy{resultByText}
		handle, err := newTestDispatcher(t, fake, opts).OpenConversation(context.Background(), "Bob")
		require.NoError(t, err)

		assert.False(t, handle.Confirmed)
		assert.NotEmpty(t, handle.Note)
		assert.Equal(t, 1, fake.Count("key", string(schemas.KeyReturn)))

		located := fake.Located()
		require.Len(t, located, 3)
		assert.Equal(t, searchByName, located[0])
		assert.Equal(t, searchByGeo, located[1])
		assert.Equal(t, "Bob", located[2].Value)

		rep := handle.Report("Bob")
		assert.True(t, rep.Success)
		assert.NotEmpty(t, rep.Note)
	})

	t.Run("prefers a surface that names the query", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		fake.Place(searchByName, 150, 70)
		fake.QueueSurfaces(mainWin, schemas.WindowDescriptor{Identity: "Carol"}, schemas.WindowDescriptor{Identity: "Bob (2)"})

		handle, err := newTestDispatcher(t, fake, testOptions()).OpenConversation(context.Background(), "Bob")
		require.NoError(t, err)
		assert.Equal(t, "Bob (2)", handle.Identity)
	})

	t.Run("search box not found", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()

		_, err := newTestDispatcher(t, fake, testOptions()).OpenConversation(context.Background(), "Bob")
		var ae *ActionError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, ReasonNotFound, ae.Reason)
		var nf *backend.ElementNotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Len(t, nf.Attempted, 2)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := newTestDispatcher(t, mocks.NewFakeAdapter(), testOptions()).OpenConversation(context.Background(), "  ")
		assert.Error(t, err)
	})
}

func TestShowConversationList(t *testing.T) {
	fake := mocks.NewFakeAdapter()
	require.NoError(t, newTestDispatcher(t, fake, testOptions()).ShowConversationList(context.Background()))

	actions := fake.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, "key", actions[1].Op)
	assert.Equal(t, "1", actions[1].Arg)
	assert.True(t, actions[1].Mods.Has(schemas.ModMeta))
}

func TestWaitUntilReady(t *testing.T) {
	t.Run("no login chain is ready at once", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		require.NoError(t, newTestDispatcher(t, fake, testOptions()).WaitUntilReady(context.Background(), time.Second))
		assert.Empty(t, fake.Located())
	})

	t.Run("polls until the marker appears", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		opts := testOptions()
		opts.Chains.LoggedIn = []backend.Strategy{loggedIn}

		sleeps := 0
		d := New(fake, nil, opts, zaptest.NewLogger(t), WithSleep(func(context.Context, time.Duration) error {
			sleeps++
			if sleeps == 2 {
				fake.Place(loggedIn, 1, 1)
			}
			return nil
		}))
		require.NoError(t, d.WaitUntilReady(context.Background(), time.Second))
		assert.Equal(t, 2, sleeps)
		assert.Len(t, fake.Located(), 3)
	})

	t.Run("gives up when the context ends", func(t *testing.T) {
		fake := mocks.NewFakeAdapter()
		opts := testOptions()
		opts.Chains.LoggedIn = []backend.Strategy{loggedIn}

		ctx, cancel := context.WithCancel(context.Background())
		d := New(fake, nil, opts, zaptest.NewLogger(t), WithSleep(func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}))
		err := d.WaitUntilReady(ctx, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, opts.Chains.Search)
	assert.NotEmpty(t, opts.Chains.MessageInput)
	assert.Equal(t, cfg.Locator.StrategyTimeout, opts.StrategyTimeout)
	assert.Contains(t, opts.Reserved, "QQ")
	assert.False(t, opts.SingleSurface)

	cfg.App.Backend = config.BackendBrowser
	opts, err = OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.True(t, opts.SingleSurface)
}

func TestClassify(t *testing.T) {
	cases := map[error]string{
		backend.ErrPermissionDenied:    ReasonPermission,
		backend.ErrElementNotFound:     ReasonNotFound,
		backend.ErrUnsupportedStrategy: ReasonNotFound,
		backend.ErrBackendUnavailable:  ReasonFailed,
		backend.ErrClosed:              ReasonFailed,
		errors.New("boom"):             ReasonFailed,
	}
	for err, want := range cases {
		assert.Equal(t, want, classify("step", fmt.Errorf("wrapped: %w", err)).Reason, err.Error())
	}

	inner := classify("a", backend.ErrTimeout)
	assert.Equal(t, ReasonFailed, inner.Reason)
	assert.Empty(t, inner.Hint())
	assert.Same(t, inner, classify("b", fmt.Errorf("wrapped: %w", inner)))
}

package native

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
	"github.com/xkilldash9x/chatpilot-cli/internal/config"
)

// -- Test Doubles --

type rule struct {
	contains string
	out      string
	err      error
}

// scriptedRunner answers scripts by the first rule whose fragment the script
// contains and records every script it was given.
type scriptedRunner struct {
	mu      sync.Mutex
	rules   []rule
	scripts []string
}

func (r *scriptedRunner) on(fragment, out string, err error) *scriptedRunner {
	r.rules = append(r.rules, rule{contains: fragment, out: out, err: err})
	return r
}

func (r *scriptedRunner) Run(_ context.Context, script string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = append(r.scripts, script)
	for _, rl := range r.rules {
		if strings.Contains(script, rl.contains) {
			return rl.out, rl.err
		}
	}
	return "", nil
}

func (r *scriptedRunner) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scripts...)
}

type fakeClipboard struct{ text string }

func (c *fakeClipboard) WriteAll(text string) error { c.text = text; return nil }

func newTestAdapter(t *testing.T, runner *scriptedRunner, clip Clipboard) *Adapter {
	t.Helper()
	cfg := config.NewDefaultConfig().Native
	opts := []Option{WithRunner(runner), WithPasteDelay(0)}
	if clip != nil {
		opts = append(opts, WithClipboard(clip))
	}
	return New(zaptest.NewLogger(t), cfg, opts...)
}

// -- Parsing --

func TestParseWindowList(t *testing.T) {
	out := "QQ:0|25|900|700;;;Alice:100|100|600|500;;;Group: a|b:10|20|300|400;;;garbage;;;Bad:1|2|x|4"
	windows := parseWindowList(out)

	require.Len(t, windows, 3)
	assert.Equal(t, schemas.WindowDescriptor{Identity: "QQ", X: 0, Y: 25, Width: 900, Height: 700}, windows[0])
	assert.Equal(t, "Alice", windows[1].Identity)
	assert.Equal(t, "Group: a|b", windows[2].Identity, "separators inside the title must survive")
	assert.Equal(t, 300, windows[2].Width)

	assert.Empty(t, parseWindowList(""))
	assert.Empty(t, parseWindowList("   "))

	untitled := parseWindowList(":5|5|10|10")
	require.Len(t, untitled, 1)
	assert.Equal(t, "", untitled[0].Identity)
}

func TestParseBadge(t *testing.T) {
	cases := map[string]int{
		"":        0,
		"0":       0,
		"3":       3,
		" 12 ":    12,
		"99+":     99,
		"•":       0,
		"new":     0,
		"missing": 0,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseBadge(in), "input %q", in)
	}
}

func FuzzParseWindowList(f *testing.F) {
	f.Add([]byte("QQ:0|0|1|1;;;a:b:1|2|3|4"))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		raw, err := consumer.GetString()
		if err != nil {
			return
		}
		for _, w := range parseWindowList(raw) {
			// A parsed identity never carries the record separator.
			assert.NotContains(t, w.Identity, recordSep)
		}
		_ = parseBadge(raw)
	})
}

// -- Error Classification --

func TestClassifyScriptError(t *testing.T) {
	cases := []struct {
		stderr string
		want   error
	}{
		{"execution error: System Events got an error: osascript is not allowed assistive access. (-1719)", backend.ErrPermissionDenied},
		{"execution error: Not authorized to send Apple events to System Events. (1002)", backend.ErrPermissionDenied},
		{"AXError -25211", backend.ErrPermissionDenied},
		{`System Events got an error: Can’t get window "Bob" of process "QQ". Invalid index. (-1719)`, backend.ErrElementNotFound},
		{`System Events got an error: Can’t get process "QQ". (-1728)`, backend.ErrElementNotFound},
		{"execution error: QQ got an error: Application isn’t running. (-600)", backend.ErrBackendUnavailable},
		{"execution error: Not authorized to send Apple events to System Events. (-1743)", backend.ErrPermissionDenied},
		// Digits inside a window title are not error codes.
		{`System Events got an error: Can’t get window "Room 1002" of process "QQ". (-1728)`, backend.ErrElementNotFound},
		{`System Events got an error: Can’t get window "Team-25211" of process "QQ". (-1728)`, backend.ErrElementNotFound},
		{`System Events got an error: Can’t get window "ops -1719" of process "QQ". (-1728)`, backend.ErrElementNotFound},
		{`System Events got an error: Can’t get window "x (1002)" of process "QQ". Invalid index. (-1719)`, backend.ErrElementNotFound},
	}
	for _, tc := range cases {
		err := classifyScriptError(tc.stderr)
		assert.ErrorIs(t, err, tc.want, tc.stderr)
	}

	plain := classifyScriptError("syntax error")
	assert.False(t, backend.IsFatal(plain))
	assert.False(t, backend.IsNotFoundClass(plain))

	titled := classifyScriptError(`QQ got an error: window "1002 (-600)" is busy. (-10000)`)
	assert.False(t, backend.IsFatal(titled), "codes are only read from the end of the message")
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"a \"b\" \\ c"`, quote(`a "b" \ c`))
}

// -- Adapter --

func TestAdapterEnsureRunning(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		a := newTestAdapter(t, (&scriptedRunner{}).on("name of processes", "true", nil), nil)
		assert.NoError(t, a.EnsureRunning(context.Background()))
	})
	t.Run("not running", func(t *testing.T) {
		a := newTestAdapter(t, (&scriptedRunner{}).on("name of processes", "false", nil), nil)
		assert.ErrorIs(t, a.EnsureRunning(context.Background()), backend.ErrBackendUnavailable)
	})
	t.Run("permission", func(t *testing.T) {
		runner := (&scriptedRunner{}).on("name of processes", "", classifyScriptError("(1002)"))
		a := newTestAdapter(t, runner, nil)
		assert.ErrorIs(t, a.EnsureRunning(context.Background()), backend.ErrPermissionDenied)
	})
}

func TestAdapterLaunch(t *testing.T) {
	runner := (&scriptedRunner{}).on("name of processes", "false", nil)
	a := newTestAdapter(t, runner, nil)
	require.NoError(t, a.Launch(context.Background()))

	scripts := runner.all()
	require.Len(t, scripts, 2)
	assert.Contains(t, scripts[1], "launch")
}

func TestAdapterListAndBadge(t *testing.T) {
	runner := (&scriptedRunner{}).
		on("every window", "QQ:0|0|800|600;;;Alice:1|2|3|4", nil).
		on("AXStatusLabel", "99+", nil)
	a := newTestAdapter(t, runner, nil)

	windows, err := a.ListTopLevelSurfaces(context.Background())
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, "Alice", windows[1].Identity)

	n, err := a.ReadBadgeCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 99, n)
}

func TestAdapterLocate(t *testing.T) {
	t.Run("geometry uses the named window", func(t *testing.T) {
		runner := (&scriptedRunner{}).on(`set w to window "Alice"`, "Alice:100|200|400|1000", nil)
		a := newTestAdapter(t, runner, nil)

		el, err := a.Locate(context.Background(), backend.Strategy{
			Kind:   backend.ByFixedGeometry,
			Window: "Alice",
			Anchor: backend.Anchor{XRatio: 0.5, YRatio: 0.85},
		})
		require.NoError(t, err)
		assert.Equal(t, 300, el.X)
		assert.Equal(t, 1050, el.Y)
	})

	t.Run("geometry on the main window falls back to the front window", func(t *testing.T) {
		runner := (&scriptedRunner{}).on("front window", "QQ:0|0|800|600", nil)
		a := newTestAdapter(t, runner, nil)

		el, err := a.Locate(context.Background(), backend.Strategy{Kind: backend.ByFixedGeometry, Anchor: backend.Anchor{XRatio: 0.5, YOffset: 70}})
		require.NoError(t, err)
		assert.Equal(t, 400, el.X)
		assert.Equal(t, 70, el.Y)
	})

	t.Run("accessibility returns the element centre", func(t *testing.T) {
		runner := (&scriptedRunner{}).on("entire contents", "10|20|100|40", nil)
		a := newTestAdapter(t, runner, nil)

		el, err := a.Locate(context.Background(), backend.Strategy{Kind: backend.ByAccessibilityName, Value: "搜索", Window: "QQ"})
		require.NoError(t, err)
		assert.Equal(t, 60, el.X)
		assert.Equal(t, 40, el.Y)
		assert.Contains(t, runner.all()[0], "AXTextArea")
	})

	t.Run("empty accessibility result is not found", func(t *testing.T) {
		a := newTestAdapter(t, (&scriptedRunner{}).on("entire contents", "", nil), nil)
		_, err := a.Locate(context.Background(), backend.Strategy{Kind: backend.ByTextContent, Value: "Bob"})
		assert.ErrorIs(t, err, backend.ErrElementNotFound)
	})

	t.Run("css is unsupported", func(t *testing.T) {
		runner := &scriptedRunner{}
		a := newTestAdapter(t, runner, nil)
		_, err := a.Locate(context.Background(), backend.Strategy{Kind: backend.ByCSSSelector, Value: "textarea"})
		assert.ErrorIs(t, err, backend.ErrUnsupportedStrategy)
		assert.Empty(t, runner.all(), "unsupported strategies must not touch the UI")
	})
}

func TestAdapterTypingAndKeys(t *testing.T) {
	runner := &scriptedRunner{}
	clip := &fakeClipboard{}
	a := newTestAdapter(t, runner, clip)
	ctx := context.Background()

	require.NoError(t, a.TypeText(ctx, nil, "稍等，马上回复你"))
	assert.Equal(t, "稍等，马上回复你", clip.text)

	require.NoError(t, a.SendKey(ctx, schemas.KeyReturn, schemas.ModNone))
	require.NoError(t, a.SendKey(ctx, "1", schemas.ModMeta|schemas.ModShift))

	scripts := runner.all()
	require.Len(t, scripts, 3)
	assert.Contains(t, scripts[0], `keystroke "v" using command down`)
	assert.Contains(t, scripts[1], "key code 36")
	assert.NotContains(t, scripts[1], "using")
	assert.Contains(t, scripts[2], `keystroke "1" using {command down, shift down}`)
}

func TestAdapterClear(t *testing.T) {
	runner := &scriptedRunner{}
	a := newTestAdapter(t, runner, nil)

	require.NoError(t, a.Clear(context.Background(), &backend.ElementHandle{X: 5, Y: 6}))
	scripts := runner.all()
	require.Len(t, scripts, 3)
	assert.Contains(t, scripts[0], "click at {5, 6}")
	assert.Contains(t, scripts[1], `keystroke "a" using command down`)
	assert.Contains(t, scripts[2], "key code 51")
}

func TestAdapterClosed(t *testing.T) {
	runner := &scriptedRunner{}
	a := newTestAdapter(t, runner, &fakeClipboard{})
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.ListTopLevelSurfaces(context.Background())
	assert.ErrorIs(t, err, backend.ErrClosed)
	assert.ErrorIs(t, a.TypeText(context.Background(), nil, "x"), backend.ErrClosed)
	assert.Empty(t, runner.all())
}

func TestOsascriptRunnerMissingBinary(t *testing.T) {
	r := NewOsascriptRunner(zaptest.NewLogger(t), time.Second, 0).(*osascriptRunner)
	r.binary = "chatpilot-no-such-osascript"

	_, err := r.Run(context.Background(), "return 1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrBackendUnavailable))
}

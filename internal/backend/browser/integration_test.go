package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
	"github.com/xkilldash9x/chatpilot-cli/internal/config"
)

const fixturePage = `<!doctype html>
<html><body>
<input placeholder="搜索" id="search">
<div class="recent-chat-list">
  <div class="list-item" onclick="document.getElementById('title').textContent='Alice'">Alice<br><span>hi</span></div>
  <div class="list-item" onclick="document.getElementById('title').textContent='Group: a|b'">Group: a|b<br><span>yo</span></div>
</div>
<h1 id="title"></h1>
<span class="badge">3</span><span class="badge">99+</span>
<div contenteditable="true" id="editor" aria-label="message input" style="min-height:40px">draft</div>
<div id="sent"></div>
<script>
setTimeout(() => {
  const late = document.createElement('div');
  late.className = 'late-panel';
  late.textContent = 'loaded later';
  document.body.appendChild(late);
}, 700);
document.getElementById('editor').addEventListener('keydown', (e) => {
  if (e.key === 'Enter') { document.getElementById('sent').textContent = document.getElementById('editor').textContent; e.preventDefault(); }
});
</script>
</body></html>`

func findChrome() bool {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell", "Google Chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func TestAdapterAgainstLocalPage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if !findChrome() {
		t.Skip("no Chrome or Chromium found on PATH")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(fixturePage))
	}))
	defer srv.Close()

	cfg := config.NewDefaultConfig().Browser
	cfg.URL = srv.URL
	cfg.HostMatch = "127.0.0.1"
	cfg.Headless = true
	cfg.UserDataDir = t.TempDir()
	cfg.PostLoadWait = 0
	cfg.BadgeSelectors = []string{".badge"}

	a := New(zaptest.NewLogger(t), cfg)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// The context used for startup ends right after it; the browser must outlive it.
	startCtx, startCancel := context.WithTimeout(ctx, 45*time.Second)
	require.NoError(t, a.EnsureRunning(startCtx))
	startCancel()
	first := currentTab(a)
	require.NotNil(t, first)
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, first.Err(), "browser died with its startup context")

	late, err := a.Locate(withTimeout(t, ctx, 3*time.Second), backend.Strategy{Kind: backend.ByCSSSelector, Value: ".late-panel"})
	require.NoError(t, err, "lookup waits for elements rendered after load")
	assert.NotEmpty(t, late.Ref)

	surfaces, err := a.ListTopLevelSurfaces(ctx)
	require.NoError(t, err)
	require.Len(t, surfaces, 2)
	assert.Equal(t, "Alice", surfaces[0].Identity)
	assert.Equal(t, "Group: a|b", surfaces[1].Identity)

	badge, err := a.ReadBadgeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 102, badge)

	require.NoError(t, a.Foreground(ctx, "Group: a|b"))
	var title string
	require.NoError(t, a.eval(ctx, `document.getElementById('title').textContent`, &title))
	assert.Equal(t, "Group: a|b", title)
	assert.ErrorIs(t, a.Foreground(ctx, "Nobody"), backend.ErrElementNotFound)

	search, err := a.Locate(ctx, backend.Strategy{Kind: backend.ByAccessibilityName, Value: "搜索"})
	require.NoError(t, err)
	require.NoError(t, a.Click(ctx, search))
	require.NoError(t, a.TypeText(ctx, search, "张三"))
	var query string
	require.NoError(t, a.eval(ctx, `document.getElementById('search').value`, &query))
	assert.Equal(t, "张三", query)

	byText, err := a.Locate(ctx, backend.Strategy{Kind: backend.ByTextContent, Value: "Alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, byText.Ref)

	missing := backend.Strategy{Kind: backend.ByCSSSelector, Value: ".does-not-exist"}
	began := time.Now()
	_, err = a.Locate(withTimeout(t, ctx, 400*time.Millisecond), missing)
	assert.True(t, backend.IsNotFoundClass(err) || errors.Is(err, backend.ErrTimeout), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(began), 300*time.Millisecond, "lookup keeps polling until the deadline")

	_, err = a.Locate(context.Background(), missing)
	assert.ErrorIs(t, err, backend.ErrElementNotFound, "without a deadline the lookup runs once")

	editor, err := a.Locate(ctx, backend.Strategy{Kind: backend.ByCSSSelector, Value: "[contenteditable='true']"})
	require.NoError(t, err)
	require.NoError(t, a.Clear(ctx, editor))
	require.NoError(t, a.TypeText(ctx, editor, "稍等"))
	require.NoError(t, a.SendKey(ctx, schemas.KeyReturn, schemas.ModNone))

	var sent string
	require.NoError(t, a.eval(ctx, `document.getElementById('sent').textContent`, &sent))
	assert.Equal(t, "稍等", sent)

	geo, err := a.Locate(ctx, backend.Strategy{Kind: backend.ByFixedGeometry, Anchor: backend.Anchor{XRatio: 0.5, YRatio: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 640, geo.X)
	assert.Equal(t, 450, geo.Y)

	shots := NewScreenshotter(a, t.TempDir())
	img, err := shots.Capture(ctx, &schemas.Region{X: 0, Y: 0, Width: 100, Height: 100}, "fixture")
	require.NoError(t, err)
	assert.FileExists(t, img.Path)

	assert.True(t, first == currentTab(a), "every operation reused the first tab")
}

func currentTab(a *Adapter) context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tabCtx
}

func withTimeout(t *testing.T, parent context.Context, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(parent, d)
	t.Cleanup(cancel)
	return ctx
}

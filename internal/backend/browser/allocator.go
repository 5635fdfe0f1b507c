// internal/backend/browser/allocator.go
package browser

import (
	"runtime"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/chatpilot-cli/internal/config"
)

const (
	defaultWidth  = 1280
	defaultHeight = 900
)

type allocFlag struct {
	name  string
	value any
}

func viewport(cfg config.BrowserConfig) (int, int) {
	w, h := cfg.Viewport["width"], cfg.Viewport["height"]
	if w <= 0 {
		w = defaultWidth
	}
	if h <= 0 {
		h = defaultHeight
	}
	return w, h
}

// allocatorFlags lists the command line switches for a persistent profile
// that does not advertise automation. Args from the config come last so they
// can override anything above them.
func allocatorFlags(cfg config.BrowserConfig, goos string) []allocFlag {
	flags := []allocFlag{
		{"headless", cfg.Headless},
		// chromedp enables this by default; false drops the switch entirely.
		{"enable-automation", false},
		// Hides navigator.webdriver from the page.
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
		{"disable-gpu", cfg.Headless},
	}
	if cfg.Locale != "" {
		flags = append(flags, allocFlag{"lang", cfg.Locale})
	}
	if cfg.UserDataDir != "" {
		flags = append(flags, allocFlag{"user-data-dir", cfg.UserDataDir})
	}

	if goos == "linux" {
		flags = append(flags,
			allocFlag{"no-sandbox", true},
			allocFlag{"disable-dev-shm-usage", true},
			allocFlag{"disable-setuid-sandbox", true},
		)
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			flags = append(flags, allocFlag{name, parts[1]})
		} else {
			flags = append(flags, allocFlag{name, true})
		}
	}
	return flags
}

// allocatorOptions layers the flags on top of the chromedp defaults. Flags
// are kept in a map by the allocator, so later entries win.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	w, h := viewport(cfg)
	opts = append(opts, chromedp.WindowSize(w, h))
	for _, f := range allocatorFlags(cfg, runtime.GOOS) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	return opts
}

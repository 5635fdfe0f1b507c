package config

import "github.com/spf13/viper"

// Strategy kinds accepted in the strategies sections.
const (
	KindAccessibility = "accessibility"
	KindCSS           = "css"
	KindText          = "text"
	KindGeometry      = "geometry"
)

func css(selector string) map[string]any {
	return map[string]any{"kind": KindCSS, "value": selector}
}

func setNativeStrategyDefaults(v *viper.Viper) {
	v.SetDefault("native.strategies.search", []map[string]any{
		{"kind": KindAccessibility, "value": "搜索", "window": "QQ"},
		// Search box sits roughly 70px below the top edge of the main panel.
		{"kind": KindGeometry, "window": "QQ", "x_ratio": 0.5, "y_ratio": 0.0, "y_offset": 70},
	})
	// Native search results are opened with the confirm key.
	v.SetDefault("native.strategies.search_result", []map[string]any{})
	v.SetDefault("native.strategies.message_input", []map[string]any{
		{"kind": KindAccessibility, "value": "", "window": "{window}"},
		{"kind": KindGeometry, "window": "{window}", "x_ratio": 0.5, "y_ratio": 0.85},
	})
	v.SetDefault("native.strategies.logged_in", []map[string]any{})
}

func setBrowserStrategyDefaults(v *viper.Viper) {
	v.SetDefault("browser.strategies.search", []map[string]any{
		css("input[placeholder*='搜索']"),
		css("input[type='search']"),
		css(".search-input input"),
		css("[class*='search'] input"),
		css("input[placeholder*='Search']"),
	})
	v.SetDefault("browser.strategies.search_result", []map[string]any{
		{"kind": KindText, "value": "{query}"},
		css(".search-result-item:first-child"),
		{"kind": KindCSS, "value": "[class*='search-result']", "index": 0},
	})
	v.SetDefault("browser.strategies.message_input", []map[string]any{
		css("[contenteditable='true']"),
		css(".chat-input [contenteditable]"),
		css("[class*='editor'] [contenteditable]"),
		css("div[role='textbox']"),
		css(".ql-editor"),
		css("textarea"),
	})
	v.SetDefault("browser.strategies.logged_in", []map[string]any{
		css(".recent-chat-list"),
		css(".chat-list"),
		css(".sidebar"),
		css("[class*='avatar']"),
		css("[class*='contact']"),
		css("[class*='session']"),
	})
}

// internal/backend/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext derives from primary (which carries the chromedp target) and
// is also canceled when secondary is done. Values come from primary only.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

package native

import (
	"strconv"
	"strings"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
)

// parseWindowList decodes the output of listWindowsScript. Malformed records
// are skipped; enumeration order is preserved.
func parseWindowList(out string) []schemas.WindowDescriptor {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}
	records := strings.Split(out, recordSep)
	windows := make([]schemas.WindowDescriptor, 0, len(records))
	for _, rec := range records {
		if w, ok := parseWindowRecord(rec); ok {
			windows = append(windows, w)
		}
	}
	return windows
}

// parseWindowRecord splits "name:x|y|w|h" at the last name separator so that
// titles containing ':' or '|' keep their full text.
func parseWindowRecord(rec string) (schemas.WindowDescriptor, bool) {
	idx := strings.LastIndex(rec, nameSep)
	if idx < 0 {
		return schemas.WindowDescriptor{}, false
	}
	frame, ok := parseFrame(rec[idx+len(nameSep):])
	if !ok {
		return schemas.WindowDescriptor{}, false
	}
	return schemas.WindowDescriptor{
		Identity: strings.TrimSpace(rec[:idx]),
		X:        frame.X,
		Y:        frame.Y,
		Width:    frame.Width,
		Height:   frame.Height,
	}, true
}

// parseFrame decodes "x|y|w|h".
func parseFrame(s string) (schemas.Region, bool) {
	parts := strings.Split(strings.TrimSpace(s), fieldSep)
	if len(parts) != 4 {
		return schemas.Region{}, false
	}
	var nums [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return schemas.Region{}, false
		}
		nums[i] = n
	}
	return schemas.Region{X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]}, true
}

// parseBadge reads the leading digits of a Dock status label ("3", "99+").
// Anything without leading digits counts as zero.
func parseBadge(label string) int {
	label = strings.TrimSpace(label)
	end := 0
	for end < len(label) && label[end] >= '0' && label[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(label[:end])
	if err != nil {
		return 0
	}
	return n
}

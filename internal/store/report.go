package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReportFileName returns "<prefix>_YYYYmmdd_HHMMSS.json".
func ReportFileName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s.json", prefix, at.Format(timestampLayout))
}

// WriteReport writes v as indented JSON to dir and returns the file path.
func WriteReport(dir, prefix string, v any, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := MarshalReport(v)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ReportFileName(prefix, at))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// MarshalReport renders v the way reports are written: two-space indent,
// non-ASCII text left unescaped.
func MarshalReport(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(data, '\n'), nil
}

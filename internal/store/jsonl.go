package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	eventFilePrefix = "events_"
	eventFileExt    = ".jsonl"
	timestampLayout = "20060102_150405"
)

// EventFileName returns the log file name for a monitoring session.
func EventFileName(sessionID string, started time.Time) string {
	name := eventFilePrefix + started.Format(timestampLayout)
	if sessionID != "" {
		if len(sessionID) > 8 {
			sessionID = sessionID[:8]
		}
		name += "_" + sessionID
	}
	return name + eventFileExt
}

// JSONLSink appends one JSON object per line to a file. Each Append is
// flushed before returning so a crash loses at most the event in flight.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *jsoniter.Encoder
}

// OpenJSONL opens (creating if needed) path for appending.
func OpenJSONL(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONLSink{path: path, file: f, enc: enc}, nil
}

// Path returns the file the sink writes to.
func (s *JSONLSink) Path() string { return s.path }

func (s *JSONLSink) Append(_ context.Context, ev schemas.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return os.ErrClosed
	}
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return s.file.Sync()
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// DecodeEvents reads events from a JSONL stream. Blank lines are skipped;
// a malformed line is an error naming its line number.
func DecodeEvents(r io.Reader) ([]schemas.ActivityEvent, error) {
	var events []schemas.ActivityEvent
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		ev, ok, err := DecodeEventLine(sc.Text())
		if err != nil {
			return events, fmt.Errorf("line %d: %w", line, err)
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, sc.Err()
}

// DecodeEventLine parses a single log line. ok is false for blank lines.
func DecodeEventLine(text string) (ev schemas.ActivityEvent, ok bool, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ev, false, nil
	}
	if err := json.UnmarshalFromString(text, &ev); err != nil {
		return ev, false, fmt.Errorf("invalid event: %w", err)
	}
	return ev, true, nil
}

// LatestEventLog returns the most recent event log in dir.
func LatestEventLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, eventFilePrefix+"*"+eventFileExt))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no event logs in %s: %w", dir, os.ErrNotExist)
	}
	// Names embed a sortable timestamp.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

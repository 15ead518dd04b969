// Package eventlog keeps an append-only JSON journal of governance events.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var invalidSegment = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Record is the on-disk envelope of one journaled event.
type Record struct {
	EventType  string          `json:"event_type"`
	Community  string          `json:"community"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"marshal_error,omitempty"`
}

// Writer stores one file per event under
// baseDir/<community>/<yyyy-mm-dd>/<timestamp>-<type>-<uuid>.json.
type Writer struct {
	baseDir string
	log     waLog.Logger
	now     func() time.Time
}

// NewWriter returns nil when baseDir is empty; a nil Writer discards events.
func NewWriter(baseDir string, log waLog.Logger) *Writer {
	base := strings.TrimSpace(baseDir)
	if base == "" {
		return nil
	}
	return &Writer{baseDir: filepath.Clean(base), log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (w *Writer) Enabled() bool {
	return w != nil && w.baseDir != ""
}

// Write journals evt for community. Payloads that cannot be encoded are
// journaled with the encoding error instead of being dropped.
func (w *Writer) Write(community string, evt any) error {
	if !w.Enabled() || evt == nil {
		return nil
	}
	ts := w.now()
	eventType := detectEventType(evt)
	dir := filepath.Join(w.baseDir, sanitizeSegment(community), ts.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	rec := Record{EventType: eventType, Community: community, RecordedAt: ts}
	if raw, err := json.Marshal(evt); err != nil {
		rec.Error = err.Error()
	} else {
		rec.Payload = raw
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.json", ts.Format("20060102T150405.000000000Z"), sanitizeSegment(eventType), uuid.NewString())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if w.log != nil {
		w.log.Debugf("journaled %s for %s", eventType, community)
	}
	return nil
}

// Read returns the journal of community in write order. Unreadable files are
// skipped.
func (w *Writer) Read(community string) ([]Record, error) {
	if !w.Enabled() {
		return nil, nil
	}
	root := filepath.Join(w.baseDir, sanitizeSegment(community))
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	out := make([]Record, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			if w.log != nil {
				w.log.Warnf("skipping unreadable journal file %s: %v", p, err)
			}
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func detectEventType(evt any) string {
	t := fmt.Sprintf("%T", evt)
	if idx := strings.LastIndex(t, "."); idx >= 0 && idx < len(t)-1 {
		t = t[idx+1:]
	}
	t = strings.TrimLeft(t, "*[]")
	if t == "" {
		return "Unknown"
	}
	return t
}

func sanitizeSegment(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "unknown"
	}
	sanitized := invalidSegment.ReplaceAllString(candidate, "_")
	sanitized = strings.Trim(sanitized, "._-")
	if sanitized == "" {
		return "unknown"
	}
	return sanitized
}

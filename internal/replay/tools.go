// Package replay re-publishes historical news records from a stream
// window, rewriting event ids so downstream dedup treats them as fresh.
package replay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseEventTime parses an ISO-8601 timestamp as it appears in event
// payloads. A trailing "Z" and a missing offset both mean UTC.
func ParseEventTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range eventTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse event time %q", value)
}

// InWindow reports whether ts falls inside [start, end], inclusive on
// both ends.
func InWindow(ts, start, end time.Time) bool {
	return !ts.Before(start) && !ts.After(end)
}

// BuildReplayPayload clones a payload with the event id rewritten to
// "{original}:replay:{replayID}:{index}". Index is 1-based.
func BuildReplayPayload(payload map[string]any, replayID string, index int) map[string]any {
	cloned := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		cloned[k] = v
	}
	original, _ := payload["event_id"].(string)
	cloned["event_id"] = fmt.Sprintf("%s:replay:%s:%d", original, replayID, index)
	if _, ok := payload["schema_version"]; !ok {
		cloned["schema_version"] = "1.0"
	}
	return cloned
}

// MarshalReplayPayload encodes the rewritten payload for publication.
func MarshalReplayPayload(payload map[string]any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode replay payload: %w", err)
	}
	return data, nil
}

// Package cursor provides watermark types for delta synchronization.
// A watermark is the last-known-synced point used to request only newer
// remote changes instead of a full dataset.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Watermark is a timestamp high-water mark for incremental pulls.
// The zero value is the epoch sentinel: a pull from the zero watermark is a
// full resync.
type Watermark struct {
	At time.Time
}

// Epoch returns the sentinel watermark that forces a full delta fetch.
func Epoch() Watermark {
	return Watermark{}
}

// AtTime returns a watermark positioned at t.
func AtTime(t time.Time) Watermark {
	return Watermark{At: t.UTC()}
}

// Compare returns -1 if w is before other, 0 if equal, 1 if after.
func (w Watermark) Compare(other Watermark) int {
	switch {
	case w.At.Before(other.At):
		return -1
	case w.At.After(other.At):
		return 1
	default:
		return 0
	}
}

// IsZero reports whether w is the epoch sentinel.
func (w Watermark) IsZero() bool {
	return w.At.IsZero()
}

// Advance returns the later of w and t. Watermarks never move backwards
// during normal operation; only an explicit full-sync reset does that.
func (w Watermark) Advance(t time.Time) Watermark {
	if t.After(w.At) {
		return Watermark{At: t.UTC()}
	}
	return w
}

func (w Watermark) String() string {
	if w.IsZero() {
		return "epoch"
	}
	return w.At.UTC().Format(time.RFC3339Nano)
}

// Maximum allowed size for a wire watermark payload.
const maxWireSize = 1024

// wireWatermark is the stable persisted/transported form.
type wireWatermark struct {
	Kind string `json:"kind"`
	At   string `json:"at,omitempty"`
}

const kindTimestamp = "timestamp"

// MarshalWire encodes the watermark into its stable wire form.
func (w Watermark) MarshalWire() ([]byte, error) {
	ww := wireWatermark{Kind: kindTimestamp}
	if !w.IsZero() {
		ww.At = w.At.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(ww)
}

// UnmarshalWire decodes a watermark from its wire form. An empty input
// yields the epoch sentinel so callers can treat "never synced" uniformly.
func UnmarshalWire(data []byte) (Watermark, error) {
	if len(data) == 0 {
		return Epoch(), nil
	}
	if len(data) > maxWireSize {
		return Watermark{}, fmt.Errorf("watermark payload too large: %d bytes", len(data))
	}

	var ww wireWatermark
	if err := json.Unmarshal(data, &ww); err != nil {
		return Watermark{}, fmt.Errorf("malformed wire watermark: %w", err)
	}
	if ww.Kind != kindTimestamp {
		return Watermark{}, errors.New("unknown watermark kind: " + ww.Kind)
	}
	if ww.At == "" {
		return Epoch(), nil
	}

	at, err := time.Parse(time.RFC3339Nano, ww.At)
	if err != nil {
		return Watermark{}, fmt.Errorf("invalid watermark timestamp %q: %w", ww.At, err)
	}
	return Watermark{At: at.UTC()}, nil
}

// ParseWatermark converts a string produced by String back into a Watermark.
func ParseWatermark(s string) (Watermark, error) {
	if s == "" || s == "epoch" {
		return Epoch(), nil
	}
	at, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Watermark{}, fmt.Errorf("invalid watermark string %q: %w", s, err)
	}
	return Watermark{At: at.UTC()}, nil
}

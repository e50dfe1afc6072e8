package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampKind tags which wire shape a Timestamp was decoded from.
type TimestampKind int

const (
	TimestampNull TimestampKind = iota
	TimestampMillis
	TimestampWrapped
)

// Timestamp is one of: epoch milliseconds, a wrapped {seconds, nanoseconds}
// object, or null. Decoding picks the variant from the JSON token kind.
type Timestamp struct {
	Kind    TimestampKind
	Millis  int64
	Seconds int64
	Nanos   int64
}

type wrappedTimestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

// MillisTimestamp builds an epoch-millis timestamp.
func MillisTimestamp(ms int64) Timestamp {
	return Timestamp{Kind: TimestampMillis, Millis: ms}
}

// TimestampFromTime builds an epoch-millis timestamp from t. The zero time is null.
func TimestampFromTime(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return MillisTimestamp(t.UnixMilli())
}

// ToMillis converts any variant to epoch milliseconds; ok is false for null.
func (t Timestamp) ToMillis() (int64, bool) {
	switch t.Kind {
	case TimestampMillis:
		return t.Millis, true
	case TimestampWrapped:
		return t.Seconds*1000 + t.Nanos/int64(time.Millisecond), true
	default:
		return 0, false
	}
}

// Time converts to time.Time; null yields the zero time.
func (t Timestamp) Time() time.Time {
	ms, ok := t.ToMillis()
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// MarshalJSON always writes epoch millis (or null).
func (t Timestamp) MarshalJSON() ([]byte, error) {
	ms, ok := t.ToMillis()
	if !ok {
		return []byte("null"), nil
	}
	return json.Marshal(ms)
}

// UnmarshalJSON decodes a number, a wrapped object or null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*t = Timestamp{}
		return nil
	case data[0] == '{':
		var w wrappedTimestamp
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("decode wrapped timestamp: %w", err)
		}
		*t = Timestamp{Kind: TimestampWrapped, Seconds: w.Seconds, Nanos: w.Nanoseconds}
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("decode millis timestamp: %w", err)
		}
		*t = MillisTimestamp(int64(f))
		return nil
	}
}

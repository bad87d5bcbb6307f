package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Timestamp accepts the encodings clients write for dates: RFC 3339 strings,
// date-only or zoneless strings (read as UTC), exported Firestore timestamps
// ({"_seconds","_nanoseconds"} or {"seconds","nanos"}) and epoch
// milliseconds. Anything else decodes to the zero value, so HasDate reports
// false instead of the whole document failing to decode.
type Timestamp struct {
	time.Time
}

type firestoreTimestamp struct {
	Seconds     *int64 `json:"_seconds"`
	Nanoseconds int64  `json:"_nanoseconds"`
	PlainSecs   *int64 `json:"seconds"`
	PlainNanos  int64  `json:"nanos"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	parsed, err := parseTimestamp(b)
	if err != nil {
		slog.Warn("unreadable timestamp ignored", "value", string(b), "error", err)
		parsed = time.Time{}
	}
	t.Time = parsed
	return nil
}

func parseTimestamp(b []byte) (time.Time, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return time.Time{}, nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("parse timestamp %q: unknown layout", s)

	case '{':
		var ft firestoreTimestamp
		if err := json.Unmarshal(b, &ft); err != nil {
			return time.Time{}, err
		}
		switch {
		case ft.Seconds != nil:
			return time.Unix(*ft.Seconds, ft.Nanoseconds).UTC(), nil
		case ft.PlainSecs != nil:
			return time.Unix(*ft.PlainSecs, ft.PlainNanos).UTC(), nil
		default:
			return time.Time{}, nil
		}

	default:
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %s: %w", b, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Amount is a price that may arrive as a JSON number or a numeric string.
// Values that are neither decode to 0.
type Amount float64

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(b []byte) error {
	f, err := parseAmount(b)
	if err != nil {
		slog.Warn("unreadable amount ignored", "value", string(b), "error", err)
		f = 0
	}
	*a = Amount(f)
	return nil
}

func parseAmount(b []byte) (float64, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return 0, nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", s, err)
		}
		return f, nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return 0, err
	}
	return f, nil
}

package apiclient

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Timestamp is a date on a user record. It is display metadata: any value the
// backend sends decodes without error. Text that matches none of the known
// layouts is kept verbatim in Raw and Time stays zero.
type Timestamp struct {
	Time time.Time
	Raw  string
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp reads s using the layouts backends are known to send. It
// never fails; IsZero reports whether anything was there at all.
func ParseTimestamp(s string) Timestamp {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t, Raw: s}
		}
	}
	return Timestamp{Raw: s}
}

// IsZero is true when the backend sent nothing usable.
func (t Timestamp) IsZero() bool { return t.Time.IsZero() && t.Raw == "" }

// Valid reports whether the value parsed into a time.
func (t Timestamp) Valid() bool { return !t.Time.IsZero() }

// Format renders the parsed time in local time, or the raw text otherwise.
func (t Timestamp) Format(layout string) string {
	if t.Valid() {
		return t.Time.Local().Format(layout)
	}
	return t.Raw
}

func (t Timestamp) String() string { return t.Format(time.RFC3339) }

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*t = Timestamp{}
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*t = Timestamp{Raw: string(b)}
			return nil
		}
		*t = ParseTimestamp(s)
	default:
		// unix seconds from some backends; anything else is kept as text
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			*t = Timestamp{Time: time.Unix(n, 0).UTC(), Raw: string(b)}
			return nil
		}
		*t = Timestamp{Raw: string(b)}
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Valid() {
		return json.Marshal(t.Time.Format(time.RFC3339Nano))
	}
	return json.Marshal(t.Raw)
}

func (t Timestamp) MarshalYAML() (any, error) {
	if t.Valid() {
		return t.Time.Format(time.RFC3339), nil
	}
	return t.Raw, nil
}

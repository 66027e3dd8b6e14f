package chat

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/charlsef23/Zymetrik-sub001/pkg/errors"
)

// timeLayouts is the shared decode cascade for every timestamp field in the
// chat data model. RPC reads and realtime pushes must agree about the same
// instant, so both go through this single list; first match wins. Layouts
// without zone information are interpreted as UTC.
var timeLayouts = []struct {
	layout string
	zoned  bool
}{
	{"2006-01-02T15:04:05.999999999Z07:00", true}, // ISO-8601 with fractional seconds
	{"2006-01-02T15:04:05Z07:00", true},           // ISO-8601 without fraction
	{"2006-01-02 15:04:05.999999-07", true},       // postgres timestamptz text form
	{"2006-01-02 15:04:05", false},                // bare timestamp
	{"2006-01-02T15:04:05", false},                // T-separated, no zone
}

// ParseTime runs value through the cascade. Exhausting every layout is a
// decode failure, never a silent zero value.
func ParseTime(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, apperrors.Decode("chat: empty timestamp", nil)
	}
	for _, l := range timeLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, time.UTC)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperrors.Decode(fmt.Sprintf("chat: unparseable timestamp %q", s), nil)
}

// Time is time.Time with the cascading wire decode attached. The zero value
// marshals as JSON null.
type Time struct {
	time.Time
}

func NewTime(t time.Time) Time { return Time{Time: t} }

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return apperrors.Decode(fmt.Sprintf("chat: timestamp is not a JSON string: %s", data), nil)
	}
	parsed, err := ParseTime(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format("2006-01-02T15:04:05.999999999Z07:00") + `"`), nil
}

// WireFormat renders t the way cursor parameters go on the wire.
func (t Time) WireFormat() string {
	return t.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
}

package rfctime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Format of timestamps in responses. Offsets are always numeric, never "Z".
const RFC3339DateTimeFormat string = "2006-01-02T15:04:05.999-07:00"

// RFC3339 is a timestamp which is read and written as RFC3339 date-time in JSON.
type RFC3339 time.Time

func (t RFC3339) Time() time.Time {
	return time.Time(t)
}

func (t RFC3339) Equal(other RFC3339) bool {
	return t.Time().Equal(other.Time())
}

func (t RFC3339) String() string {
	return time.Time(t).Format(RFC3339DateTimeFormat)
}

// ParseRFC3339DateTime accepts both of numeric offsets and "Z".
func ParseRFC3339DateTime(s string) (RFC3339, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return RFC3339{}, err
	}
	return RFC3339(t), nil
}

func (t RFC3339) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, t)), nil
}

func (t *RFC3339) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	ret, err := ParseRFC3339DateTime(s)
	if err != nil {
		return err
	}
	*t = ret
	return nil
}

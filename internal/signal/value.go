package signal

import "encoding/json"

// Status tags how a probe ended.
type Status uint8

const (
	StatusOK Status = iota
	StatusUnavailable
	StatusError
)

// Sentinels used in the canonical join in place of a reading.
const (
	SentinelUnavailable = "unsupported"
	SentinelError       = "error"
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Value is one probe result. Text is only meaningful when Status is StatusOK.
type Value struct {
	Status Status
	Text   string
}

func OK(text string) Value { return Value{Status: StatusOK, Text: text} }

func Unavailable() Value { return Value{Status: StatusUnavailable} }

func Errored() Value { return Value{Status: StatusError} }

func (v Value) IsOK() bool { return v.Status == StatusOK }

// Equal compares status first so a reading that happens to spell a sentinel
// never equals the sentinel itself.
func (v Value) Equal(o Value) bool {
	if v.Status != o.Status {
		return false
	}
	return v.Status != StatusOK || v.Text == o.Text
}

// Canonical renders the value for hashing.
func (v Value) Canonical() string {
	switch v.Status {
	case StatusOK:
		return v.Text
	case StatusUnavailable:
		return SentinelUnavailable
	default:
		return SentinelError
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Canonical())
}

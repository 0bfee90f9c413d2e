package signal

import (
	"bytes"
	"encoding/json"
)

// Name identifies a declared signal.
type Name string

const (
	UserAgent        Name = "userAgent"
	Language         Name = "language"
	PlatformName     Name = "platform"
	Screen           Name = "screen"
	DevicePixelRatio Name = "devicePixelRatio"
	Timezone         Name = "timezone"
	DoNotTrack       Name = "doNotTrack"
	Plugins          Name = "plugins"
	WebGL            Name = "webgl"
	Canvas           Name = "canvas"
	Audio            Name = "audio"
)

// Names lists every declared signal in canonical join order. The order is
// part of the fingerprint format: reordering changes every digest.
var Names = [...]Name{
	UserAgent,
	Language,
	PlatformName,
	Screen,
	DevicePixelRatio,
	Timezone,
	DoNotTrack,
	Plugins,
	WebGL,
	Canvas,
	Audio,
}

func indexOf(n Name) int {
	for i, name := range Names {
		if name == n {
			return i
		}
	}
	return -1
}

// Set holds one Value per declared signal. The zero Set is not valid; use NewSet.
type Set struct {
	values [len(Names)]Value
}

// NewSet returns a Set with every signal marked unavailable.
func NewSet() Set {
	var s Set
	for i := range s.values {
		s.values[i] = Unavailable()
	}
	return s
}

// Get returns the value for n, or an error value for undeclared names.
func (s Set) Get(n Name) Value {
	if i := indexOf(n); i >= 0 {
		return s.values[i]
	}
	return Errored()
}

// Put stores v under n. Undeclared names are rejected.
func (s *Set) Put(n Name, v Value) bool {
	i := indexOf(n)
	if i < 0 {
		return false
	}
	s.values[i] = v
	return true
}

// With returns a copy of s with n set to v.
func (s Set) With(n Name, v Value) Set {
	s.Put(n, v)
	return s
}

// Values returns the values in canonical order.
func (s Set) Values() []Value {
	out := make([]Value, len(s.values))
	copy(out, s.values[:])
	return out
}

// Canonical returns the canonical strings in order.
func (s Set) Canonical() []string {
	out := make([]string, len(s.values))
	for i, v := range s.values {
		out[i] = v.Canonical()
	}
	return out
}

// Failed lists the signals that did not produce a reading.
func (s Set) Failed() []Name {
	var out []Name
	for i, v := range s.values {
		if !v.IsOK() {
			out = append(out, Names[i])
		}
	}
	return out
}

func (s Set) Equal(o Set) bool {
	for i := range s.values {
		if !s.values[i].Equal(o.values[i]) {
			return false
		}
	}
	return true
}

// MarshalJSON writes the set as an object whose keys follow canonical order.
func (s Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range s.values {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(string(Names[i]))
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		b, err := v.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

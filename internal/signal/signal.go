package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// #region errors
// ErrInvalid is matched by every ValidationError via errors.Is.
var ErrInvalid = errors.New("invalid signal")

// ValidationError reports a schema violation on an inbound signal.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalid) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// #endregion errors

// #region validate
// Validate checks closed enums, identity and feature ranges. It does not
// mutate s; a zero Timestamp or empty ID is accepted and filled by Normalize.
func Validate(s Signal) error {
	if strings.TrimSpace(s.FamilyID) == "" {
		return invalid("familyId", "required")
	}
	if !s.Source.Valid() {
		return invalid("source", "unknown source %q", s.Source)
	}
	if !s.Type.Valid() {
		return invalid("type", "unknown type %q", s.Type)
	}
	if s.Features != nil {
		for name, v := range s.Features.fields() {
			if v == nil {
				continue
			}
			if math.IsNaN(*v) || *v < 0 || *v > 1 {
				return invalid("features."+name, "value %v outside [0,1]", *v)
			}
		}
	}
	if s.Payload != nil {
		want := reflect.TypeOf(NewPayload(s.Type))
		if got := reflect.TypeOf(s.Payload); got != want {
			return invalid("payload", "type %s does not accept %s", s.Type, got)
		}
	}
	return nil
}

func (f *FeatureOverrides) fields() map[string]*float64 {
	return map[string]*float64{
		"urgency":       f.Urgency,
		"impact":        f.Impact,
		"effort":        f.Effort,
		"emotionHeat":   f.EmotionHeat,
		"blocking":      f.Blocking,
		"parentBurden":  f.ParentBurden,
		"teacherBurden": f.TeacherBurden,
	}
}

// #endregion validate

// #region normalize
// Normalize fills defaults: a fresh ID, timestamp = now, and an empty payload
// of the right variant. Timestamps are converted to UTC.
func Normalize(s Signal, now time.Time) Signal {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	s.Timestamp = s.Timestamp.UTC()
	if s.Payload == nil {
		s.Payload = NewPayload(s.Type)
	}
	return s
}

// Decode parses and validates a JSON signal.
func Decode(data []byte) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(data, &s); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return Signal{}, err
		}
		return Signal{}, invalid("signal", "%v", err)
	}
	if err := Validate(s); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// #endregion normalize

// #region timestamps
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339 and the common ISO-8601 reduced forms.
// Zone-less values are read as UTC.
func ParseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t as an ISO-8601 UTC string.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// #endregion timestamps

// #region json
type wireSignal struct {
	ID             string            `json:"id,omitempty"`
	FamilyID       string            `json:"familyId"`
	ChildID        string            `json:"childId,omitempty"`
	Source         Source            `json:"source"`
	Type           Type              `json:"type"`
	Timestamp      string            `json:"timestamp,omitempty"`
	Features       *FeatureOverrides `json:"features,omitempty"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

// MarshalJSON writes the wire form, merging payload extensions back in.
func (s Signal) MarshalJSON() ([]byte, error) {
	payload, err := EncodePayload(s.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	w := wireSignal{
		ID:             s.ID,
		FamilyID:       s.FamilyID,
		ChildID:        s.ChildID,
		Source:         s.Source,
		Type:           s.Type,
		Features:       s.Features,
		Payload:        payload,
		IdempotencyKey: s.IdempotencyKey,
	}
	if !s.Timestamp.IsZero() {
		w.Timestamp = FormatTimestamp(s.Timestamp)
	}
	return json.Marshal(w)
}

// UnmarshalJSON dispatches the payload on the signal type.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var w wireSignal
	if err := json.Unmarshal(data, &w); err != nil {
		return invalid("signal", "%v", err)
	}
	if !w.Type.Valid() {
		return invalid("type", "unknown type %q", w.Type)
	}
	var ts time.Time
	if w.Timestamp != "" {
		parsed, ok := ParseTimestamp(w.Timestamp)
		if !ok {
			return invalid("timestamp", "not ISO-8601: %q", w.Timestamp)
		}
		ts = parsed
	}
	payload, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return invalid("payload", "%v", err)
	}
	*s = Signal{
		ID:             w.ID,
		FamilyID:       w.FamilyID,
		ChildID:        w.ChildID,
		Source:         w.Source,
		Type:           w.Type,
		Timestamp:      ts,
		Features:       w.Features,
		Payload:        payload,
		IdempotencyKey: w.IdempotencyKey,
	}
	return nil
}

// DecodePayload decodes raw into the variant for t. Keys the variant does not
// model are kept in Common.Extra.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	p := NewPayload(t)
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return p, nil
	}
	if err := json.Unmarshal(trimmed, p); err != nil {
		return nil, err
	}
	var all map[string]any
	if err := json.Unmarshal(trimmed, &all); err != nil {
		return nil, err
	}
	known := knownKeys(reflect.TypeOf(p))
	c := p.Base()
	for k, v := range all {
		if _, ok := known[k]; ok {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}
	return p, nil
}

// EncodePayload marshals p with its Extra keys merged in. Modelled fields win
// over extension keys of the same name.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("{}"), nil
	}
	typed, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	extra := p.Base().Extra
	if len(extra) == 0 {
		return typed, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(typed, &fields); err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(extra)+len(fields))
	for k, v := range extra {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

var knownKeyCache sync.Map // reflect.Type -> map[string]struct{}

func knownKeys(t reflect.Type) map[string]struct{} {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if v, ok := knownKeyCache.Load(t); ok {
		return v.(map[string]struct{})
	}
	keys := make(map[string]struct{})
	collectKeys(t, keys)
	knownKeyCache.Store(t, keys)
	return keys
}

func collectKeys(t reflect.Type, keys map[string]struct{}) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, keys)
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" || !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		keys[name] = struct{}{}
	}
}

// #endregion json

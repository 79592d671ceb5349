package signal

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestValidate(t *testing.T) {
	ok := Signal{FamilyID: "fam-1", Source: SourceSchool, Type: TypeTeacherMessage}
	tests := []struct {
		name  string
		mut   func(*Signal)
		field string
	}{
		{"valid", func(*Signal) {}, ""},
		{"blank family", func(s *Signal) { s.FamilyID = "  " }, "familyId"},
		{"unknown source", func(s *Signal) { s.Source = "moon" }, "source"},
		{"unknown type", func(s *Signal) { s.Type = "pizza_party" }, "type"},
		{"feature above one", func(s *Signal) { s.Features = &FeatureOverrides{Urgency: ptr(1.2)} }, "features.urgency"},
		{"feature below zero", func(s *Signal) { s.Features = &FeatureOverrides{Effort: ptr(-0.1)} }, "features.effort"},
		{"wrong payload variant", func(s *Signal) { s.Payload = &DeadlinePayload{} }, "payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ok
			tt.mut(&s)
			err := Validate(s)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected field %s, got %v", tt.field, err)
			}
		})
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	local := time.FixedZone("EST", -5*3600)
	s := Normalize(Signal{FamilyID: "fam-1", Source: SourceHome, Type: TypeChildMoodReport}, t0.In(local))

	if s.ID == "" {
		t.Error("expected a generated id")
	}
	if !s.Timestamp.Equal(t0) || s.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp %v, got %v", t0, s.Timestamp)
	}
	if _, ok := s.Payload.(*BasicPayload); !ok {
		t.Errorf("expected empty BasicPayload, got %T", s.Payload)
	}

	kept := Normalize(Signal{ID: "given", Type: TypeFormRequest, Timestamp: t0.Add(-time.Hour)}, t0)
	if kept.ID != "given" || !kept.Timestamp.Equal(t0.Add(-time.Hour)) {
		t.Errorf("existing id and timestamp must be kept, got %+v", kept)
	}
}

func TestDecodeDispatchesPayload(t *testing.T) {
	raw := `{
		"familyId": "fam-1",
		"source": "school",
		"type": "form_request",
		"timestamp": "2026-03-02T15:00:00Z",
		"payload": {"title": "Permission slip", "deadline": "2026-03-04", "course": "Bio", "portalUrl": "https://x"}
	}`
	s, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p, ok := s.Payload.(*DeadlinePayload)
	if !ok {
		t.Fatalf("expected *DeadlinePayload, got %T", s.Payload)
	}
	if p.Title != "Permission slip" || p.Course != "Bio" {
		t.Errorf("unexpected payload %+v", p)
	}
	if p.Extra["portalUrl"] != "https://x" {
		t.Errorf("unknown key must land in Extra, got %v", p.Extra)
	}
	d, ok := p.DeadlineTime()
	if !ok || !d.Equal(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected deadline %v ok=%v", d, ok)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"not json":      `{"familyId":`,
		"bad timestamp": `{"familyId":"f","source":"home","type":"child_mood_report","timestamp":"yesterday"}`,
		"unknown type":  `{"familyId":"f","source":"home","type":"pizza"}`,
		"no family":     `{"source":"home","type":"child_mood_report"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(raw)); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestMarshalRoundTripKeepsExtra(t *testing.T) {
	s := Signal{
		ID:        "s1",
		FamilyID:  "fam-1",
		Source:    SourceSchool,
		Type:      TypeTeacherMessage,
		Timestamp: t0,
		Payload: &MessagePayload{
			Common:        Common{Title: "Hello", Extra: map[string]any{"thread": "t-9", "title": "shadowed"}},
			RequiresReply: true,
		},
	}
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"thread":"t-9"`) {
		t.Errorf("extra key missing from %s", raw)
	}

	back, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p := back.Payload.(*MessagePayload)
	if p.Title != "Hello" {
		t.Errorf("modelled field must win over extension key, got %q", p.Title)
	}
	if !p.RequiresReply || p.Extra["thread"] != "t-9" {
		t.Errorf("unexpected payload after round trip %+v", p)
	}
	if !back.Timestamp.Equal(t0) {
		t.Errorf("timestamp drifted: %v", back.Timestamp)
	}
}

func TestCommonIsPriority(t *testing.T) {
	if !(&Common{IsSafety: true}).IsPriority() {
		t.Error("safety must be priority")
	}
	if !(&Common{Priority: "high"}).IsPriority() {
		t.Error("high priority must be priority")
	}
	if (&Common{Priority: "low"}).IsPriority() {
		t.Error("low priority must not bypass")
	}
	if (Signal{}).Common() == nil {
		t.Error("Common must never be nil")
	}
}

func TestParseTimestampForms(t *testing.T) {
	for _, v := range []string{"2026-03-02T15:00:00Z", "2026-03-02T15:00:00", "2026-03-02T15:00", "2026-03-02T10:00:00-05:00"} {
		got, ok := ParseTimestamp(v)
		if !ok || !got.Equal(t0) {
			t.Errorf("ParseTimestamp(%q) = %v, %v", v, got, ok)
		}
	}
	if _, ok := ParseTimestamp("03/02/2026"); ok {
		t.Error("expected US date form to be rejected")
	}
}

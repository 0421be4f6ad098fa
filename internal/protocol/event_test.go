package protocol

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestDecodeEventFillsDefaults(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"message"}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("decoded event has no id")
	}
	if ev.Timestamp == 0 {
		t.Fatal("decoded event has no timestamp")
	}
}

func TestDecodeEventRejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":`)); err == nil {
		t.Fatal("malformed frame accepted")
	}
}

func TestEventTypeValid(t *testing.T) {
	cases := []struct {
		typ  EventType
		want bool
	}{
		{EventConnection, true},
		{EventMessage, true},
		{EventStreamChunk, true},
		{EventType("telepathy"), false},
		{EventType(""), false},
	}
	for _, tc := range cases {
		if got := tc.typ.Valid(); got != tc.want {
			t.Errorf("Valid(%q) = %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestEventTimeRoundTrip(t *testing.T) {
	now := time.Now()
	ev := Event{Timestamp: float64(now.UnixNano()) / float64(time.Second)}
	if diff := math.Abs(ev.Time().Sub(now).Seconds()); diff > 0.001 {
		t.Fatalf("Time() off by %fs", diff)
	}
}

func TestDecodePayloadByType(t *testing.T) {
	mk := func(typ EventType, body string) Event {
		return Event{Type: typ, Data: json.RawMessage(body)}
	}

	t.Run("message", func(t *testing.T) {
		p, err := DecodePayload(mk(EventMessage, `{"message":{"content":"olá","patient_id":"p-1"}}`))
		if err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		msg, ok := p.(MessagePayload)
		if !ok {
			t.Fatalf("payload type %T, want MessagePayload", p)
		}
		if msg.Message.Content != "olá" || msg.Message.PatientID != "p-1" {
			t.Fatalf("payload = %+v", msg)
		}
	})

	t.Run("error", func(t *testing.T) {
		p, err := DecodePayload(mk(EventError, `{"code":"INVALID_FORMAT","message":"bad frame"}`))
		if err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		ep, ok := p.(ErrorPayload)
		if !ok || ep.Code != CodeInvalidFormat {
			t.Fatalf("payload = %+v (%T)", p, p)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodePayload(mk(EventType("telepathy"), `{}`))
		if !errors.Is(err, ErrInvalidEventType) {
			t.Fatalf("got %v, want ErrInvalidEventType", err)
		}
	})

	t.Run("malformed body falls back to opaque", func(t *testing.T) {
		p, err := DecodePayload(mk(EventMessage, `"just a string"`))
		if err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if _, ok := p.(OpaquePayload); !ok {
			t.Fatalf("payload type %T, want OpaquePayload", p)
		}
	})
}

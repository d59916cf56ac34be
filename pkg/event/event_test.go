package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTimestamp_Formats(t *testing.T) {
	want := time.Date(2025, 11, 4, 10, 59, 42, 0, time.UTC)

	cases := []struct {
		name string
		in   string
	}{
		{"rfc3339", `"2025-11-04T10:59:42Z"`},
		{"unix seconds", `1762253982`},
		{"unix millis", `1762253982000`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tc.in), &ts); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if !ts.Equal(want) {
				t.Errorf("got %v, want %v", ts.Time, want)
			}
		})
	}
}

func TestTimestamp_GarbageParsesToZero(t *testing.T) {
	for _, in := range []string{`"not-a-date"`, `"2025-13-99"`, `-5`, `null`} {
		var ts Timestamp
		if err := json.Unmarshal([]byte(in), &ts); err != nil {
			t.Fatalf("unmarshal %q returned error: %v", in, err)
		}
		if !ts.IsZero() {
			t.Errorf("unmarshal %q = %v, want zero time", in, ts.Time)
		}
	}
}

func TestParse_Pageview(t *testing.T) {
	payload := []byte(`{"eventId":"e1","url":"/home","timestamp":"2025-11-04T10:59:42Z","sessionId":"s1","deviceType":"mobile"}`)

	ev, err := Parse(TypePageview, payload)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	pv, ok := ev.(*Pageview)
	if !ok {
		t.Fatalf("got %T, want *Pageview", ev)
	}
	if pv.EventID() != "e1" || pv.SessionID() != "s1" || pv.URL != "/home" {
		t.Errorf("unexpected fields: %+v", pv)
	}
	if pv.Kind() != TypePageview {
		t.Errorf("Kind = %q", pv.Kind())
	}
	if pv.OccurredAt().IsZero() {
		t.Error("OccurredAt should be set")
	}
}

func TestParse_UnknownType(t *testing.T) {
	_, err := Parse("telemetry", []byte(`{}`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestParse_BadJSON(t *testing.T) {
	_, err := Parse(TypeAction, []byte(`{"action":`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestAction_CounterKey(t *testing.T) {
	cases := []struct {
		name string
		in   Action
		want string
	}{
		{"category wins", Action{Action: "click", Category: "nav"}, "nav"},
		{"action fallback", Action{Action: "click"}, "click"},
		{"all empty", Action{}, "unknown"},
	}
	for _, tc := range cases {
		if got := tc.in.CounterKey(); got != tc.want {
			t.Errorf("%s: CounterKey = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestPerformance_MetricName(t *testing.T) {
	p := Performance{}
	if got := p.MetricName(); got != "metric" {
		t.Errorf("empty metric name = %q, want %q", got, "metric")
	}
	p.Metric = "lcp"
	if got := p.MetricName(); got != "lcp" {
		t.Errorf("MetricName = %q, want lcp", got)
	}
}

func TestType_Valid(t *testing.T) {
	for _, typ := range []Type{TypePageview, TypeAction, TypePerformance} {
		if !typ.Valid() {
			t.Errorf("%q should be valid", typ)
		}
	}
	if Type("click").Valid() {
		t.Error("unknown type should be invalid")
	}
}

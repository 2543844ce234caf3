package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDateKeepsDatePart(t *testing.T) {
	cases := []struct {
		raw  string
		want Date
	}{
		{"2026-01-12", Date{2026, time.January, 12}},
		{"2026-01-12T00:00:00Z", Date{2026, time.January, 12}},
		{"2026-01-12T23:30:00-07:00", Date{2026, time.January, 12}},
		{" 2026-03-01 ", Date{2026, time.March, 1}},
	}
	for _, tc := range cases {
		got, err := ParseDate(tc.raw)
		if err != nil {
			t.Fatalf("ParseDate(%q) error: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDate(%q)=%v, want %v", tc.raw, got, tc.want)
		}
	}
	if _, err := ParseDate("12/01/2026"); err == nil {
		t.Fatalf("expected error for unsupported layout")
	}
}

func TestDateOfUsesLocation(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	ts := time.Date(2026, 1, 12, 20, 0, 0, 0, time.UTC)
	if got := DateOf(ts, loc); got != (Date{2026, time.January, 13}) {
		t.Fatalf("expected next day in WIB, got %v", got)
	}
	if got := DateOf(ts, time.UTC); got != (Date{2026, time.January, 12}) {
		t.Fatalf("expected same day in UTC, got %v", got)
	}
}

func TestDateJSON(t *testing.T) {
	var entry QueueEntry
	if err := json.Unmarshal([]byte(`{"id":"e1","service_date":"2026-01-12T00:00:00.000000Z"}`), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.ServiceDate.String() != "2026-01-12" {
		t.Fatalf("unexpected date %q", entry.ServiceDate)
	}
	out, err := json.Marshal(entry.ServiceDate)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `"2026-01-12"` {
		t.Fatalf("unexpected json %s", out)
	}
}

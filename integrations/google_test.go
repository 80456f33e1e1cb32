package integrations

import (
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
)

func TestEventFromGoogle(t *testing.T) {
	item := &calendar.Event{
		Id:      "ev-1",
		Summary: "Lecture",
		Status:  "confirmed",
		Start:   &calendar.EventDateTime{DateTime: "2026-03-02T10:00:00Z"},
		End:     &calendar.EventDateTime{DateTime: "2026-03-02T11:00:00Z"},
	}

	ev := eventFromGoogle(item)
	if ev.ID != "ev-1" || ev.Title != "Lecture" || ev.Cancelled {
		t.Fatalf("unexpected event: %+v", ev)
	}
	wantStart := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", ev.Start, wantStart)
	}
	if !ev.End.Equal(wantStart.Add(time.Hour)) {
		t.Fatalf("end = %v", ev.End)
	}
}

func TestEventFromGoogleAllDay(t *testing.T) {
	item := &calendar.Event{
		Id:    "ev-2",
		Start: &calendar.EventDateTime{Date: "2026-03-02"},
		End:   &calendar.EventDateTime{Date: "2026-03-03"},
	}

	ev := eventFromGoogle(item)
	if ev.Title != "Untitled" {
		t.Fatalf("title = %q, want Untitled fallback", ev.Title)
	}
	if ev.Start.IsZero() || ev.End.IsZero() {
		t.Fatalf("all-day dates not parsed: %+v", ev)
	}
}

func TestEventFromGoogleCancelled(t *testing.T) {
	item := &calendar.Event{Id: "ev-3", Status: "cancelled"}

	ev := eventFromGoogle(item)
	if !ev.Cancelled {
		t.Fatalf("cancelled status not detected")
	}
	if ev.Title != "" {
		t.Fatalf("cancelled stub grew a title: %q", ev.Title)
	}
	if !ev.Start.IsZero() {
		t.Fatalf("cancelled stub grew a start time")
	}
}

package engine

import (
	"database/sql"
	"testing"
	"time"

	"github.com/outflowhq/outflow/internal/domain"
)

func chicagoDef() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:            1,
		DripStartTime: "09:00",
		DripEndTime:   "17:00",
		Timezone:      "America/Chicago",
	}
}

func TestWithinDripWindow_Inside(t *testing.T) {
	def := chicagoDef()
	loc, _ := time.LoadLocation("America/Chicago")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, loc)

	in, _, err := withinDripWindow(def, now)
	if err != nil {
		t.Fatalf("withinDripWindow returned error: %v", err)
	}
	if !in {
		t.Error("Expected noon Chicago to be inside a 09:00-17:00 window")
	}
}

func TestWithinDripWindow_BeforeOpen(t *testing.T) {
	def := chicagoDef()
	loc, _ := time.LoadLocation("America/Chicago")
	now := time.Date(2026, 3, 10, 6, 30, 0, 0, loc)

	in, next, err := withinDripWindow(def, now)
	if err != nil {
		t.Fatalf("withinDripWindow returned error: %v", err)
	}
	if in {
		t.Fatal("Expected 06:30 Chicago to be outside the window")
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("Expected deferral to same-day open %v, got %v", want, next)
	}
}

func TestWithinDripWindow_AfterClose(t *testing.T) {
	def := chicagoDef()
	loc, _ := time.LoadLocation("America/Chicago")
	now := time.Date(2026, 3, 10, 20, 0, 0, 0, loc)

	in, next, err := withinDripWindow(def, now)
	if err != nil {
		t.Fatalf("withinDripWindow returned error: %v", err)
	}
	if in {
		t.Fatal("Expected 20:00 Chicago to be outside the window")
	}
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("Expected deferral to next-day open %v, got %v", want, next)
	}
}

func TestWithinDripWindow_UTCCallerLocalWindow(t *testing.T) {
	// 01:00 UTC on March 11 is 20:00 Chicago March 10, still the 10th locally.
	def := chicagoDef()
	now := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)

	in, next, err := withinDripWindow(def, now)
	if err != nil {
		t.Fatalf("withinDripWindow returned error: %v", err)
	}
	if in {
		t.Fatal("Expected 20:00 Chicago to be outside the window")
	}
	loc, _ := time.LoadLocation("America/Chicago")
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("Expected deferral to %v, got %v", want, next)
	}
}

func TestWithinDripWindow_NoWindowAlwaysOpen(t *testing.T) {
	def := &domain.WorkflowDefinition{ID: 1}
	in, _, err := withinDripWindow(def, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("withinDripWindow returned error: %v", err)
	}
	if !in {
		t.Error("Expected a workflow without a drip window to always execute")
	}
}

func TestWithinDripWindow_BadTimezone(t *testing.T) {
	def := chicagoDef()
	def.Timezone = "Not/AZone"
	if _, _, err := withinDripWindow(def, time.Now()); err == nil {
		t.Error("Expected error for an unknown timezone")
	}
}

func TestLocalMidnight(t *testing.T) {
	def := chicagoDef()
	loc, _ := time.LoadLocation("America/Chicago")
	now := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC) // 20:00 Chicago March 10

	got, err := localMidnight(def, now)
	if err != nil {
		t.Fatalf("localMidnight returned error: %v", err)
	}
	want := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("Expected midnight %v, got %v", want, got)
	}
}

func TestNextDayOpen_ClampsToWindow(t *testing.T) {
	def := chicagoDef()
	def.DailyContactLimit = sql.NullInt64{Int64: 5, Valid: true}
	loc, _ := time.LoadLocation("America/Chicago")
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, loc)

	got, err := nextDayOpen(def, now)
	if err != nil {
		t.Fatalf("nextDayOpen returned error: %v", err)
	}
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("Expected next day open %v, got %v", want, got)
	}
}

func TestNextDayOpen_NoWindowIsMidnight(t *testing.T) {
	def := &domain.WorkflowDefinition{ID: 1, Timezone: "UTC"}
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	got, err := nextDayOpen(def, now)
	if err != nil {
		t.Fatalf("nextDayOpen returned error: %v", err)
	}
	want := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected next midnight %v, got %v", want, got)
	}
}

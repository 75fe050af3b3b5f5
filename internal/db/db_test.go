package db

import (
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/particulate.report/internal/pms"
	"github.com/banshee-data/particulate.report/internal/testutil"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := NewDB(testutil.TempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func testFrame() pms.Frame {
	return pms.Frame{
		PM1Std:   12,
		PM25Std:  78,
		PM10Std:  563,
		PM1Atm:   11,
		PM25Atm:  71,
		PM10Atm:  497,
		Count0p3: 3147,
		Count0p5: 912,
		Count1p0: 187,
		Count2p5: 24,
		Count5p0: 8,
		Count10:  3,
	}
}

func TestNewDBAppliesMigrations(t *testing.T) {
	database := newTestDB(t)

	version, dirty, err := database.MigrateVersion()
	if err != nil {
		t.Fatalf("failed to read migration version: %v", err)
	}
	if dirty {
		t.Error("expected clean migration state")
	}
	if version != 2 {
		t.Errorf("expected schema version 2, got %d", version)
	}
}

func TestRecordAndLatestReading(t *testing.T) {
	database := newTestDB(t)

	recordedAt := time.Date(2025, 6, 1, 12, 0, 0, 250_000_000, time.UTC)
	want := Reading{
		SessionID:  "session-a",
		RecordedAt: recordedAt,
		Frame:      testFrame(),
	}
	if err := database.RecordReading(want); err != nil {
		t.Fatalf("failed to record reading: %v", err)
	}

	got, err := database.LatestReading()
	if err != nil {
		t.Fatalf("failed to read latest: %v", err)
	}
	if got.SessionID != want.SessionID {
		t.Errorf("session = %q, want %q", got.SessionID, want.SessionID)
	}
	if got.Frame != want.Frame {
		t.Errorf("frame = %+v, want %+v", got.Frame, want.Frame)
	}
	// Stored timestamps carry millisecond precision.
	if !got.RecordedAt.Equal(recordedAt.Truncate(time.Millisecond)) {
		t.Errorf("recorded_at = %v, want %v", got.RecordedAt, recordedAt)
	}
	if got.ID == 0 {
		t.Error("expected an assigned row ID")
	}
}

func TestLatestReadingEmpty(t *testing.T) {
	database := newTestDB(t)

	_, err := database.LatestReading()
	if !errors.Is(err, ErrNoReadings) {
		t.Errorf("expected ErrNoReadings, got %v", err)
	}
}

func TestRecordReadingStampsZeroTime(t *testing.T) {
	database := newTestDB(t)

	if err := database.RecordReading(Reading{SessionID: "s", Frame: testFrame()}); err != nil {
		t.Fatalf("failed to record reading: %v", err)
	}
	got, err := database.LatestReading()
	if err != nil {
		t.Fatalf("failed to read latest: %v", err)
	}
	if got.RecordedAt.IsZero() {
		t.Error("expected a stamped recorded_at for a zero input time")
	}
}

func TestReadingsNewestFirstWithLimit(t *testing.T) {
	database := newTestDB(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := Reading{
			SessionID:  "session-a",
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
			Frame:      testFrame(),
		}
		if err := database.RecordReading(r); err != nil {
			t.Fatalf("failed to record reading %d: %v", i, err)
		}
	}

	readings, err := database.Readings(3)
	if err != nil {
		t.Fatalf("failed to query readings: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(readings))
	}
	for i := 1; i < len(readings); i++ {
		if readings[i].RecordedAt.After(readings[i-1].RecordedAt) {
			t.Errorf("expected newest first, got %v before %v",
				readings[i-1].RecordedAt, readings[i].RecordedAt)
		}
	}
	if !readings[0].RecordedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("expected newest reading first, got %v", readings[0].RecordedAt)
	}
}

func TestReadingsSinceBoundary(t *testing.T) {
	database := newTestDB(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		r := Reading{
			SessionID:  "session-a",
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
			Frame:      testFrame(),
		}
		if err := database.RecordReading(r); err != nil {
			t.Fatalf("failed to record reading %d: %v", i, err)
		}
	}

	// The boundary is inclusive, so the reading at exactly base+1m counts.
	readings, err := database.ReadingsSince(base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("failed to query readings: %v", err)
	}
	if len(readings) != 2 {
		t.Errorf("expected 2 readings at or after the boundary, got %d", len(readings))
	}
}

func TestCountReadings(t *testing.T) {
	database := newTestDB(t)

	count, err := database.CountReadings()
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 readings, got %d", count)
	}

	for i := 0; i < 4; i++ {
		if err := database.RecordReading(Reading{SessionID: "s", Frame: testFrame()}); err != nil {
			t.Fatalf("failed to record reading: %v", err)
		}
	}

	count, err = database.CountReadings()
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 readings, got %d", count)
	}
}

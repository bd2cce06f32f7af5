package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeDate(t *testing.T) {
	got, ok := ParseTime("1990-08-02")
	if !ok {
		t.Fatalf("expected ok")
	}
	if !got.Equal(time.Date(1990, 8, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestWeekdayAndDays(t *testing.T) {
	fri := time.Date(2022, 2, 25, 15, 0, 0, 0, time.UTC)
	sat := NextDay(fri)
	if IsWeekday(sat) || !IsWeekday(fri) {
		t.Fatalf("weekday classification wrong for %v / %v", fri, sat)
	}
	if d := DaysBetween(time.Date(2022, 2, 24, 0, 0, 0, 0, time.UTC), fri); d != 1 {
		t.Fatalf("expected 1 day, got %d", d)
	}
	if d := DaysBetween(fri, time.Date(2022, 2, 20, 0, 0, 0, 0, time.UTC)); d != -5 {
		t.Fatalf("expected -5 days, got %d", d)
	}
}

package profiler

import (
	"errors"
	"testing"
	"time"
)

func TestSnapshot(t *testing.T) {
	p := NewProfiler()
	p.RecordFastPath()
	p.RecordFastPath()
	p.RecordHashHit()
	p.RecordDiskHit()
	p.RecordEvictions(3)
	p.RecordBuild(10*time.Millisecond, nil)
	p.RecordBuild(30*time.Millisecond, errors.New("compile failed"))

	s := p.Snapshot()
	want := Snapshot{
		FastPathHits: 2,
		HashHits:     1,
		DiskHits:     1,
		Builds:       2,
		Failures:     1,
		Evictions:    3,
		BuildTime:    40 * time.Millisecond,
	}
	if s != want {
		t.Fatalf("Snapshot = %+v, want %+v", s, want)
	}
	if got := s.AverageBuild(); got != 20*time.Millisecond {
		t.Fatalf("AverageBuild = %v", got)
	}
	if got := (Snapshot{}).AverageBuild(); got != 0 {
		t.Fatalf("AverageBuild without builds = %v", got)
	}
}

func TestTickRespectsInterval(t *testing.T) {
	p := NewProfiler()
	if p.Tick() {
		t.Fatal("Tick logged before the default interval elapsed")
	}
	p.SetInterval(time.Nanosecond)
	p.SetInterval(-time.Second)
	time.Sleep(time.Millisecond)
	if !p.Tick() {
		t.Fatal("Tick did not log after the interval elapsed")
	}
}

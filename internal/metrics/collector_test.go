package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestRecordAggregates(t *testing.T) {
	c := NewCollector()

	c.Record(OpSubmit, 10*time.Millisecond)
	c.Record(OpSubmit, 30*time.Millisecond)
	c.Record(OpSubmit, 20*time.Millisecond)

	snap := c.Snapshot()
	op, ok := snap.Operations[OpSubmit]
	if !ok {
		t.Fatal("submit operation missing from snapshot")
	}
	if op.Count != 3 {
		t.Errorf("Count = %d, want 3", op.Count)
	}
	if op.TotalTimeMs != 60 {
		t.Errorf("TotalTimeMs = %d, want 60", op.TotalTimeMs)
	}
	if op.MinTimeMs != 10 {
		t.Errorf("MinTimeMs = %d, want 10", op.MinTimeMs)
	}
	if op.MaxTimeMs != 30 {
		t.Errorf("MaxTimeMs = %d, want 30", op.MaxTimeMs)
	}
	if op.AvgTimeMs != 20 {
		t.Errorf("AvgTimeMs = %f, want 20", op.AvgTimeMs)
	}
}

func TestTimePropagatesError(t *testing.T) {
	c := NewCollector()
	want := errors.New("boom")

	got := c.Time(OpProbe, func() error { return want })

	if got != want {
		t.Errorf("Time returned %v, want %v", got, want)
	}
	if snap := c.Snapshot(); snap.Operations[OpProbe].Count != 1 {
		t.Error("failed operation must still be recorded")
	}
}

func TestJobCounters(t *testing.T) {
	c := NewCollector()

	c.JobCompleted()
	c.JobCompleted()
	c.JobFailed()

	snap := c.Snapshot()
	if snap.JobsCompleted != 2 {
		t.Errorf("JobsCompleted = %d, want 2", snap.JobsCompleted)
	}
	if snap.JobsFailed != 1 {
		t.Errorf("JobsFailed = %d, want 1", snap.JobsFailed)
	}
	if snap.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %f", snap.UptimeSeconds)
	}
}

func TestEmptySnapshotHasNoOperations(t *testing.T) {
	snap := NewCollector().Snapshot()
	if snap.Operations != nil {
		t.Errorf("Operations = %v, want nil", snap.Operations)
	}
}

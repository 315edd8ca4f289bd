package profile

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStatusActive(t *testing.T) {
	cases := []struct {
		status Status
		active bool
	}{
		{StatusQueued, true},
		{StatusStarting, true},
		{StatusStarted, true},
		{StatusStartedNoDebug, true},
		{StatusError, false},
		{Status(""), false},
	}
	for _, c := range cases {
		if got := c.status.Active(); got != c.active {
			t.Errorf("Active(%q) = %v, want %v", c.status, got, c.active)
		}
	}
}

func TestRecordDebugAddress(t *testing.T) {
	r := Record{DebugHost: "127.0.0.1", DebugPort: 9222}
	addr, ok := r.DebugAddress()
	if !ok || addr != "127.0.0.1:9222" {
		t.Fatalf("unexpected address: %q ok=%v", addr, ok)
	}
	for _, r := range []Record{{}, {DebugHost: "127.0.0.1"}, {DebugPort: 9222}} {
		if _, ok := r.DebugAddress(); ok {
			t.Errorf("expected no address for %+v", r)
		}
	}
}

func TestRegistryGetUpsert(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Get("p1"); ok {
		t.Fatalf("expected no record before upsert")
	}
	reg.Upsert("p1", Record{ProfileID: "p1", Status: StatusQueued})
	rec, ok := reg.Get("p1")
	if !ok || rec.Status != StatusQueued {
		t.Fatalf("unexpected record after upsert: %+v ok=%v", rec, ok)
	}
	reg.Upsert("p1", Record{ProfileID: "p1", Status: StatusStarted, DebugHost: "127.0.0.1", DebugPort: 9222})
	rec, _ = reg.Get("p1")
	if rec.Status != StatusStarted || rec.DebugPort != 9222 {
		t.Fatalf("upsert did not replace record: %+v", rec)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", reg.Len())
	}
}

func TestRegistryUpdateCreatesRecord(t *testing.T) {
	reg := NewRegistry()
	rec := reg.Update("p1", func(r *Record) {
		r.Status = StatusQueued
		r.StartedAt = time.Now()
	})
	if rec.ProfileID != "p1" || rec.Status != StatusQueued {
		t.Fatalf("unexpected created record: %+v", rec)
	}
	rec = reg.Update("p1", func(r *Record) {
		r.Status = StatusError
		r.Error = "boom"
	})
	if rec.Status != StatusError || rec.Error != "boom" {
		t.Fatalf("unexpected updated record: %+v", rec)
	}
	got, _ := reg.Get("p1")
	if got.Status != StatusError {
		t.Fatalf("update not visible via Get: %+v", got)
	}
}

func TestRegistrySnapshotIsolated(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert("p1", Record{ProfileID: "p1", Status: StatusStarted})
	snap := reg.Snapshot()
	snap["p1"] = Record{ProfileID: "p1", Status: StatusError}
	snap["p2"] = Record{ProfileID: "p2"}
	rec, _ := reg.Get("p1")
	if rec.Status != StatusStarted {
		t.Fatalf("snapshot mutation leaked into registry: %+v", rec)
	}
	if reg.Len() != 1 {
		t.Fatalf("snapshot mutation changed registry size: %d", reg.Len())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	const writers = 8
	const iters = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", n)
			for j := 0; j < iters; j++ {
				reg.Upsert(id, Record{ProfileID: id, Status: StatusStarting})
				reg.Update(id, func(r *Record) { r.Status = StatusStarted })
				_, _ = reg.Get(id)
				_ = reg.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	if reg.Len() != writers {
		t.Fatalf("expected %d records, got %d", writers, reg.Len())
	}
	for id, rec := range reg.Snapshot() {
		if rec.Status != StatusStarted {
			t.Errorf("record %s has status %q, want %q", id, rec.Status, StatusStarted)
		}
	}
}

func TestRecordJSONShape(t *testing.T) {
	raw := json.RawMessage(`{"browser":"chrome"}`)
	r := Record{
		ProfileID:   "p1",
		Status:      StatusStartedNoDebug,
		StartedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		RawResponse: raw,
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["status"] != "started_no_debug" {
		t.Fatalf("unexpected status value: %v", m["status"])
	}
	if _, ok := m["debug_host"]; ok {
		t.Fatalf("empty debug_host should be omitted")
	}
	if _, ok := m["error"]; ok {
		t.Fatalf("empty error should be omitted")
	}
	if m["raw_response"] == nil {
		t.Fatalf("raw_response missing")
	}
}

func TestHumanTime(t *testing.T) {
	if got := HumanTime(time.Time{}); got != "" {
		t.Fatalf("zero time should render empty, got %q", got)
	}
	ts := time.Date(2025, 3, 1, 12, 30, 45, 0, time.Local)
	if got := HumanTime(ts); got != "2025-03-01 12:30:45" {
		t.Fatalf("unexpected human time: %q", got)
	}
}

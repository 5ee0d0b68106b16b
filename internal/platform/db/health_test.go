package db

import (
	"encoding/json"
	"testing"
)

func TestPoolStats_JSONFields(t *testing.T) {
	stats := PoolStats{
		TotalConns:      4,
		IdleConns:       3,
		AcquiredConns:   1,
		MaxConns:        20,
		AcquireCount:    100,
		AcquireDuration: "1.5s",
		Healthy:         true,
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"total_conns", "idle_conns", "acquired_conns", "max_conns", "acquire_count", "acquire_duration", "healthy"} {
		if _, ok := m[key]; !ok {
			t.Errorf("expected key %q in %s", key, raw)
		}
	}
	if m["max_conns"] != float64(20) {
		t.Errorf("expected max_conns 20, got %v", m["max_conns"])
	}
}

func TestPending_AllApplied(t *testing.T) {
	statuses := []MigrationStatus{{Version: 1, Applied: true}, {Version: 2, Applied: true}}
	if got := Pending(statuses); got != 0 {
		t.Errorf("expected 0 pending, got %d", got)
	}
}

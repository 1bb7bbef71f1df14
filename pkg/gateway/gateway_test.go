package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

type memManifest struct {
	mu      sync.Mutex
	entries []ManifestEntry
}

func (m *memManifest) Append(ctx context.Context, e ManifestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memManifest) ListByRun(ctx context.Context, runID model.ID) ([]ManifestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ManifestEntry
	for _, e := range m.entries {
		if e.RunID != nil && *e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func fixedFetcher(records []Record) DataFetcher {
	return func(ctx context.Context, endpoint string, params map[string]any) ([]Record, error) {
		return records, nil
	}
}

func TestRequestFiltersFutureRecordsAtLevel2(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	manifest := &memManifest{}
	gw := New([]SourceConfig{{Name: "census", EarliestAvailableAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}}, manifest)

	records := []Record{
		{"id": "1", "ts": "2025-06-01T00:00:00Z"},
		{"id": "2", "ts": "2026-06-01T00:00:00Z"}, // beyond cutoff
	}

	resp, err := gw.Request(context.Background(), "census", "/endpoint", nil, Context{
		CutoffTime: &cutoff, IsolationLevel: model.IsolationFilter,
	}, fixedFetcher(records), "ts")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.RecordCount != 1 {
		t.Fatalf("expected 1 record after filtering, got %d", resp.RecordCount)
	}
	stats := gw.Stats()
	if stats.BlockedAccessAttempts != 1 || !stats.LeakageDetected {
		t.Fatalf("expected blocked=1 leakage=true, got %+v", stats)
	}
}

func TestRequestStrictFailAtLevel3(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gw := New([]SourceConfig{{Name: "census", EarliestAvailableAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}}, nil)

	records := []Record{{"id": "2", "ts": "2026-06-01T00:00:00Z"}}

	_, err := gw.Request(context.Background(), "census", "/endpoint", nil, Context{
		CutoffTime: &cutoff, IsolationLevel: model.IsolationStrictFail,
	}, fixedFetcher(records), "ts")
	if err == nil {
		t.Fatalf("expected future_data_access error at isolation level 3")
	}
}

func TestRequestMissingTimestampFieldBlockedAtLevel2(t *testing.T) {
	gw := New([]SourceConfig{{Name: "census", EarliestAvailableAt: time.Unix(0, 0)}}, nil)

	_, err := gw.Request(context.Background(), "census", "/endpoint", nil, Context{
		IsolationLevel: model.IsolationFilter,
	}, fixedFetcher(nil), "")
	if err == nil {
		t.Fatalf("expected error: level 2 requires a timestamp_field")
	}
}

func TestRequestUnregisteredSourceBlocked(t *testing.T) {
	gw := New(nil, nil)
	_, err := gw.Request(context.Background(), "unknown", "/x", nil, Context{}, fixedFetcher(nil), "")
	if err == nil {
		t.Fatalf("expected error for unregistered source")
	}
}

func TestRequestWritesManifestEntry(t *testing.T) {
	manifest := &memManifest{}
	gw := New([]SourceConfig{{Name: "census", EarliestAvailableAt: time.Unix(0, 0)}}, manifest)
	runID := model.NewID()

	resp, err := gw.Request(context.Background(), "census", "/e", map[string]any{"a": 1}, Context{RunID: &runID}, fixedFetcher([]Record{{"id": "1"}}), "")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	entries, _ := manifest.ListByRun(context.Background(), runID)
	if len(entries) != 1 || entries[0].ID != resp.ManifestEntryID {
		t.Fatalf("expected manifest entry recorded for run, got %+v", entries)
	}
}

package run

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/semalign/semalign/internal/testutil"
	"github.com/semalign/semalign/pkg/aggregate"
	"github.com/semalign/semalign/pkg/catalog"
	"github.com/semalign/semalign/pkg/dispatch"
	"github.com/semalign/semalign/pkg/mapper"
)

// makeCatalog builds n items whose zero-padded names give each first item i
// a unique best match at second item i (shared 5-char prefix beats the at
// most 3 digits any two distinct numbers share).
func makeCatalog(prefix, side string, n int) []catalog.Item {
	items := make([]catalog.Item, n)
	for i := range items {
		items[i] = catalog.Item{
			Code: fmt.Sprintf("%s%d", prefix, i),
			Name: fmt.Sprintf("%04d %s", i, side),
		}
	}
	return items
}

func fastDispatch(maxConcurrent int) dispatch.Config {
	return dispatch.Config{
		MaxConcurrent: maxConcurrent,
		CallTimeout:   time.Second,
		Retry: dispatch.RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
			Multiplier: 2.0,
		},
	}
}

func testConfig(maxConcurrent int) Config {
	return Config{
		MaxBatchSize: 20,
		Threshold:    50,
		Dispatch:     fastDispatch(maxConcurrent),
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mapper mapper.Mapper
		cfg    Config
	}{
		{"nil mapper", nil, DefaultConfig()},
		{"batch size too small", testutil.NewMockMapper(), Config{MaxBatchSize: 1, Threshold: 50, Dispatch: dispatch.DefaultConfig()}},
		{"negative threshold", testutil.NewMockMapper(), Config{MaxBatchSize: 200, Threshold: -1, Dispatch: dispatch.DefaultConfig()}},
		{"threshold above 100", testutil.NewMockMapper(), Config{MaxBatchSize: 200, Threshold: 101, Dispatch: dispatch.DefaultConfig()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.mapper, tt.cfg); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestRun_EmptyCatalog(t *testing.T) {
	mock := testutil.NewMockMapper()
	runner, err := New(mock, testConfig(2))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name          string
		first, second []catalog.Item
	}{
		{"empty first", nil, makeCatalog("S", "right", 3)},
		{"empty second", makeCatalog("F", "left", 3), nil},
		{"both empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := runner.Run(context.Background(), tt.first, tt.second, "map")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if result.Status != aggregate.RunCompleted {
				t.Errorf("Status = %s, want %s", result.Status, aggregate.RunCompleted)
			}
			if len(result.Mappings) != 0 {
				t.Errorf("Mappings = %d, want 0", len(result.Mappings))
			}
		})
	}

	if mock.CallCount() != 0 {
		t.Errorf("mapper called %d times for empty catalogs, want 0", mock.CallCount())
	}
}

func TestRun_SingleCallBypass(t *testing.T) {
	mock := testutil.NewMockMapper()
	runner, err := New(mock, testConfig(4))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	first := makeCatalog("F", "left", 8)
	second := makeCatalog("S", "right", 8)

	result, err := runner.Run(context.Background(), first, second, "map")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if mock.CallCount() != 1 {
		t.Errorf("mapper called %d times, want 1 (catalogs fit in one batch)", mock.CallCount())
	}
	if result.Status != aggregate.RunCompleted {
		t.Errorf("Status = %s, want %s", result.Status, aggregate.RunCompleted)
	}
	if len(result.Mappings) != len(first) {
		t.Fatalf("Mappings = %d, want %d", len(result.Mappings), len(first))
	}
	for i, m := range result.Mappings {
		if m.FirstCode != first[i].Code {
			t.Errorf("Mappings[%d].FirstCode = %s, want %s (source order)", i, m.FirstCode, first[i].Code)
		}
	}
}

func TestRun_GridCoverage(t *testing.T) {
	mock := testutil.NewMockMapper()
	runner, err := New(mock, testConfig(4))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// 40+40 items at max batch size 20 split into 10+10 chunks: 16 batches.
	first := makeCatalog("F", "left", 40)
	second := makeCatalog("S", "right", 40)

	result, err := runner.Run(context.Background(), first, second, "map")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if mock.CallCount() != 16 {
		t.Errorf("mapper called %d times, want 16", mock.CallCount())
	}
	if len(result.Calls) != 16 {
		t.Errorf("Calls = %d, want 16 (one record per batch)", len(result.Calls))
	}
	if result.Status != aggregate.RunCompleted {
		t.Errorf("Status = %s, want %s", result.Status, aggregate.RunCompleted)
	}
	if len(result.Mappings) != 40 {
		t.Fatalf("Mappings = %d, want 40", len(result.Mappings))
	}

	// The grid pairs every first item with its unique best match exactly
	// once, so the aggregated candidate is always that match.
	for i, m := range result.Mappings {
		if m.FirstCode != first[i].Code {
			t.Errorf("Mappings[%d].FirstCode = %s, want %s", i, m.FirstCode, first[i].Code)
		}
		if m.SecondCode != second[i].Code {
			t.Errorf("Mappings[%d].SecondCode = %s, want %s", i, m.SecondCode, second[i].Code)
		}
		if m.Score != 50 {
			t.Errorf("Mappings[%d].Score = %d, want 50", i, m.Score)
		}
	}
	if result.Stats.MappedCount != 40 {
		t.Errorf("MappedCount = %d, want 40", result.Stats.MappedCount)
	}
}

func TestRun_ConcurrencyInvariance(t *testing.T) {
	first := makeCatalog("F", "left", 40)
	second := makeCatalog("S", "right", 40)

	runAt := func(maxConcurrent int) *aggregate.Result {
		mock := testutil.NewMockMapper()
		mock.Delay = time.Millisecond
		runner, err := New(mock, testConfig(maxConcurrent))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		result, err := runner.Run(context.Background(), first, second, "map")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return result
	}

	serial := runAt(1)
	parallel := runAt(8)

	if !reflect.DeepEqual(serial.Mappings, parallel.Mappings) {
		t.Error("Mappings differ between maxConcurrent=1 and maxConcurrent=8")
	}
	if !reflect.DeepEqual(serial.Calls, parallel.Calls) {
		t.Error("Calls differ between maxConcurrent=1 and maxConcurrent=8")
	}
	if !reflect.DeepEqual(serial, parallel) {
		t.Errorf("finalized results differ: serial %+v, parallel %+v", serial, parallel)
	}
}

func TestRun_PartialFailure(t *testing.T) {
	mock := testutil.NewMockMapper()
	// Batch 5 is row 1, column 1 of the 4x4 grid: first items 10..19
	// against second items 10..19, so those rows lose their best match.
	permanent := &mapper.Error{Kind: mapper.KindAuthFailure, Message: "bad key"}
	mock.FailWith(5, permanent)

	runner, err := New(mock, testConfig(4))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	first := makeCatalog("F", "left", 40)
	second := makeCatalog("S", "right", 40)

	result, err := runner.Run(context.Background(), first, second, "map")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Status != aggregate.RunPartialSuccess {
		t.Errorf("Status = %s, want %s", result.Status, aggregate.RunPartialSuccess)
	}
	want := []aggregate.FailedBatch{{Index: 5, ErrKind: mapper.KindAuthFailure}}
	if !reflect.DeepEqual(result.FailedBatches, want) {
		t.Errorf("FailedBatches = %+v, want %+v", result.FailedBatches, want)
	}
	if len(result.Calls) != 16 {
		t.Errorf("Calls = %d, want 16 (failed batch still contributes a record)", len(result.Calls))
	}

	// Every first item still appears: rows hit by the failed batch keep
	// their best candidate from the three surviving column batches.
	if len(result.Mappings) != 40 {
		t.Fatalf("Mappings = %d, want 40", len(result.Mappings))
	}
	for i, m := range result.Mappings {
		if i >= 10 && i <= 19 {
			if m.Score >= 50 {
				t.Errorf("Mappings[%d].Score = %d, want < 50 (best match was in failed batch)", i, m.Score)
			}
		} else if m.Score != 50 {
			t.Errorf("Mappings[%d].Score = %d, want 50", i, m.Score)
		}
	}
}

func TestRun_Cancellation(t *testing.T) {
	mock := testutil.NewMockMapper()
	mock.Delay = 20 * time.Millisecond

	cfg := testConfig(1)
	cfg.MaxBatchSize = 20
	runner, err := New(mock, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	first := makeCatalog("F", "left", 40)
	second := makeCatalog("S", "right", 40)

	result, err := runner.Run(ctx, first, second, "map")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Calls) != 16 {
		t.Errorf("Calls = %d, want 16 (every batch resolves)", len(result.Calls))
	}
	var succeeded, cancelled int
	for _, c := range result.Calls {
		switch c.Status {
		case dispatch.StatusSuccess:
			succeeded++
		case dispatch.StatusCancelled:
			cancelled++
		}
	}
	if succeeded == 0 {
		t.Error("expected at least one batch to finish before cancellation")
	}
	if cancelled == 0 {
		t.Error("expected at least one batch to be cancelled")
	}
	if result.Status != aggregate.RunPartialSuccess {
		t.Errorf("Status = %s, want %s", result.Status, aggregate.RunPartialSuccess)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxBatchSize != 200 {
		t.Errorf("MaxBatchSize = %d, want 200", cfg.MaxBatchSize)
	}
	if cfg.Threshold != 50 {
		t.Errorf("Threshold = %d, want 50", cfg.Threshold)
	}
	if cfg.Dispatch.MaxConcurrent != 3 {
		t.Errorf("Dispatch.MaxConcurrent = %d, want 3", cfg.Dispatch.MaxConcurrent)
	}
}

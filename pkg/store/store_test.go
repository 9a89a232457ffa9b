package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"safelink/pkg/config"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func report(id, url string, vector config.Vector, fallbacks int) *config.Report {
	r := &config.Report{
		ID:       id,
		URL:      url,
		Vector:   vector,
		Slots:    map[string]config.Slot{},
		Duration: 1500 * time.Millisecond,
	}
	for i := 0; i < fallbacks; i++ {
		r.Slots[string(rune('a'+i))] = config.Slot{Index: i, FallbackUsed: true}
		r.ExtractionErrors = append(r.ExtractionErrors, "probe failed")
	}
	return r
}

func TestSaveAndListRuns(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)

	reports := []struct {
		r     *config.Report
		class int
	}{
		{report("r1", "https://example.com/", config.Vector{1, 1, 0}, 0), config.ClassLegitimate},
		{report("r2", "http://192.168.1.1/login", config.Vector{-1, -1, -1}, 2), config.ClassPhishing},
		{report("r3", "http://bit.ly/x", config.Vector{1, -1, 0}, 1), config.ClassPhishing},
	}
	for _, tt := range reports {
		if err := db.SaveReport(ctx, tt.r, tt.class); err != nil {
			t.Fatalf("SaveReport(%s): %v", tt.r.ID, err)
		}
	}

	runs, err := db.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Runs returned %d rows, want 3", len(runs))
	}
	for i, run := range runs {
		want := reports[i]
		if run.ID != want.r.ID || run.URL != want.r.URL || run.Class != want.class {
			t.Errorf("run %d = %+v", i, run)
		}
		if !reflect.DeepEqual(run.Vector, want.r.Vector) {
			t.Errorf("run %d vector = %v, want %v", i, run.Vector, want.r.Vector)
		}
		if run.Fallbacks != want.r.FallbackCount() {
			t.Errorf("run %d fallbacks = %d, want %d", i, run.Fallbacks, want.r.FallbackCount())
		}
		if len(run.Errors) != len(want.r.ExtractionErrors) {
			t.Errorf("run %d errors = %v", i, run.Errors)
		}
		if run.Duration != 1500*time.Millisecond {
			t.Errorf("run %d duration = %s", i, run.Duration)
		}
		if run.CreatedAt.IsZero() {
			t.Errorf("run %d has no created_at", i)
		}
	}

	limited, err := db.Runs(ctx, 2)
	if err != nil {
		t.Fatalf("Runs(2): %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Runs(2) returned %d rows", len(limited))
	}

	phishing, err := db.Count(ctx, config.ClassPhishing)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if phishing != 2 {
		t.Errorf("Count(phishing) = %d, want 2", phishing)
	}
}

func TestSaveReportReplaces(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)

	r := report("same", "https://example.com/", config.Vector{0, 0}, 0)
	if err := db.SaveReport(ctx, r, config.ClassLegitimate); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	r.Vector = config.Vector{1, 1}
	if err := db.SaveReport(ctx, r, config.ClassLegitimate); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	runs, err := db.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || !reflect.DeepEqual(runs[0].Vector, config.Vector{1, 1}) {
		t.Errorf("runs = %+v", runs)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if db.Path() != path {
		t.Errorf("Path = %q", db.Path())
	}
	if err := db.SaveReport(context.Background(), report("x", "https://example.com/", config.Vector{1}, 0), config.ClassLegitimate); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	db.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	n, err := reopened.Count(context.Background(), config.ClassLegitimate)
	if err != nil || n != 1 {
		t.Errorf("Count after reopen = %d, %v", n, err)
	}
}

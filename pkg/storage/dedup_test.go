package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/pnthang/market-collector/pkg/models"
)

type fakeSink struct {
	existing map[string]struct{}
	rows     []models.PricePoint

	existingErr error
	bulkErr     error
	rowErrs     map[string]error

	bulkCalls int
	rowCalls  int
}

func (f *fakeSink) EnsureIndexMeta(ctx context.Context, metas []models.IndexMeta) error {
	return nil
}

func (f *fakeSink) ExistingPricePairs(ctx context.Context, codes []string, ts time.Time) (map[string]struct{}, error) {
	if f.existingErr != nil {
		return nil, f.existingErr
	}
	out := make(map[string]struct{})
	for _, c := range codes {
		if _, ok := f.existing[c]; ok {
			out[c] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeSink) InsertPricePoints(ctx context.Context, points []models.PricePoint) error {
	f.bulkCalls++
	if f.bulkErr != nil {
		return f.bulkErr
	}
	f.rows = append(f.rows, points...)
	return nil
}

func (f *fakeSink) InsertPricePoint(ctx context.Context, p models.PricePoint) error {
	f.rowCalls++
	if err, ok := f.rowErrs[p.IndexCode]; ok {
		return err
	}
	f.rows = append(f.rows, p)
	return nil
}

func uniqueErr() error {
	return &pgconn.PgError{Code: "23505"}
}

func points(ts time.Time, codes ...string) []models.PricePoint {
	out := make([]models.PricePoint, len(codes))
	for i, c := range codes {
		out[i] = models.PricePoint{IndexCode: c, Source: "vnboard", Price: 100, Timestamp: ts}
	}
	return out
}

func TestSaveDedupedBulkPath(t *testing.T) {
	ts := time.Date(2024, 1, 3, 2, 30, 0, 0, time.UTC)
	sink := &fakeSink{}

	report, err := SaveDeduped(context.Background(), sink, points(ts, "VN:VNINDEX", "VN:VN30"), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Inserted != 2 || report.Existing != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if sink.rowCalls != 0 {
		t.Errorf("expected no row-by-row fallback, got %d calls", sink.rowCalls)
	}
}

func TestSaveDedupedSkipsExistingRows(t *testing.T) {
	ts := time.Date(2024, 1, 3, 2, 30, 0, 0, time.UTC)
	sink := &fakeSink{existing: map[string]struct{}{"VN:VNINDEX": {}}}

	report, err := SaveDeduped(context.Background(), sink, points(ts, "VN:VNINDEX", "VN:VN30"), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Existing != 1 || report.Inserted != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(sink.rows) != 1 || sink.rows[0].IndexCode != "VN:VN30" {
		t.Errorf("unexpected inserted rows %+v", sink.rows)
	}
}

func TestSaveDedupedAllExisting(t *testing.T) {
	ts := time.Date(2024, 1, 3, 2, 30, 0, 0, time.UTC)
	sink := &fakeSink{existing: map[string]struct{}{"VN:VNINDEX": {}, "VN:VN30": {}}}

	report, err := SaveDeduped(context.Background(), sink, points(ts, "VN:VNINDEX", "VN:VN30"), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Inserted != 0 || report.Existing != 2 {
		t.Errorf("unexpected report %+v", report)
	}
	if sink.bulkCalls != 0 {
		t.Errorf("expected no bulk insert for empty remainder, got %d", sink.bulkCalls)
	}
}

func TestSaveDedupedRowByRowFallback(t *testing.T) {
	ts := time.Date(2024, 1, 3, 2, 30, 0, 0, time.UTC)
	sink := &fakeSink{
		bulkErr: uniqueErr(),
		rowErrs: map[string]error{"VN:VNINDEX": uniqueErr()},
	}

	report, err := SaveDeduped(context.Background(), sink, points(ts, "VN:VNINDEX", "VN:VN30"), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Recovered {
		t.Error("expected fallback marked as recovered")
	}
	if report.Inserted != 1 || report.Discarded != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(sink.rows) != 1 || sink.rows[0].IndexCode != "VN:VN30" {
		t.Errorf("unexpected salvaged rows %+v", sink.rows)
	}
}

func TestSaveDedupedBulkFailurePropagates(t *testing.T) {
	ts := time.Date(2024, 1, 3, 2, 30, 0, 0, time.UTC)
	sink := &fakeSink{bulkErr: errors.New("connection reset")}

	_, err := SaveDeduped(context.Background(), sink, points(ts, "VN:VNINDEX"), zap.NewNop())
	if err == nil {
		t.Fatal("expected non-unique bulk failure to propagate")
	}
	if sink.rowCalls != 0 {
		t.Errorf("expected no fallback on transport errors, got %d calls", sink.rowCalls)
	}
}

func TestSaveDedupedEmptyInput(t *testing.T) {
	sink := &fakeSink{}
	report, err := SaveDeduped(context.Background(), sink, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Prepared != 0 || report.Inserted != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(uniqueErr()) {
		t.Error("expected 23505 recognized")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("expected other pg codes rejected")
	}
	if IsUniqueViolation(errors.New("plain")) {
		t.Error("expected plain errors rejected")
	}
}

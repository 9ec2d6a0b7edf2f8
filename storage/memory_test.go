package storage

import (
	"context"
	"math"
	"testing"

	"videorag/core"
)

func rec(id, videoID string, kind core.ContentKind, vec []float32) Record {
	return Record{
		ID:       id,
		Document: "doc " + id,
		Vector:   vec,
		Meta:     Meta{VideoID: videoID, Kind: kind},
	}
}

func TestMemoryQueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.Upsert(ctx, []Record{
		rec("a", "v1", core.KindTranscript, []float32{1, 0}),
		rec("b", "v1", core.KindTranscript, []float32{0, 1}),
		rec("c", "v1", core.KindTranscript, []float32{0.9, 0.1}),
	})
	if err != nil {
		t.Fatal(err)
	}
	matches, err := m.Query(ctx, []float32{1, 0}, 3, Filter{VideoID: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].ID != "a" || matches[1].ID != "c" || matches[2].ID != "b" {
		t.Fatalf("wrong order: %s %s %s", matches[0].ID, matches[1].ID, matches[2].ID)
	}
	if matches[0].Distance > 1e-9 {
		t.Fatalf("identical vector must have zero distance, got %f", matches[0].Distance)
	}
}

func TestMemoryZeroVectorAtMaxDistance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Upsert(ctx, []Record{
		rec("real", "v1", core.KindTranscript, []float32{1, 0}),
		rec("degraded", "v1", core.KindTranscript, []float32{0, 0}),
	})
	matches, _ := m.Query(ctx, []float32{1, 0}, 2, Filter{})
	if matches[0].ID != "real" {
		t.Fatalf("zero vector outranked a real match")
	}
	if matches[1].Distance != 1 {
		t.Fatalf("zero vector distance = %f, want 1", matches[1].Distance)
	}
}

func TestMemoryFilterScoping(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Upsert(ctx, []Record{
		rec("t1", "v1", core.KindTranscript, []float32{1, 0}),
		rec("f1", "v1", core.KindVisual, []float32{1, 0}),
		rec("t2", "v2", core.KindTranscript, []float32{1, 0}),
	})

	matches, _ := m.Query(ctx, []float32{1, 0}, 10, Filter{VideoID: "v1", Kinds: []core.ContentKind{core.KindVisual}})
	if len(matches) != 1 || matches[0].ID != "f1" {
		t.Fatalf("kind filter broken: %+v", matches)
	}

	n, _ := m.Count(ctx, Filter{VideoID: "v1"})
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestMemoryUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Upsert(ctx, []Record{rec("a", "v1", core.KindTranscript, []float32{1})})
	m.Upsert(ctx, []Record{rec("a", "v1", core.KindTranscript, []float32{0.5})})
	n, _ := m.Count(ctx, Filter{})
	if n != 1 {
		t.Fatalf("count after double upsert = %d, want 1", n)
	}
}

func TestMemoryDeleteByVideo(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Upsert(ctx, []Record{
		rec("t1", "v1", core.KindTranscript, []float32{1, 0}),
		rec("t2", "v1", core.KindTranscript, []float32{0, 1}),
		rec("f1", "v1", core.KindVisual, []float32{1, 1}),
		rec("t3", "v2", core.KindTranscript, []float32{1, 0}),
	})
	deleted, err := m.Delete(ctx, Filter{VideoID: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 3 {
		t.Fatalf("deleted = %d, want 3", deleted)
	}
	matches, _ := m.Query(ctx, []float32{1, 0}, 10, Filter{VideoID: "v1"})
	if len(matches) != 0 {
		t.Fatalf("query after delete returned %d matches", len(matches))
	}
	ids, _ := m.VideoIDs(ctx)
	if len(ids) != 1 || ids[0] != "v2" {
		t.Fatalf("video ids after delete: %v", ids)
	}
}

func TestCosineDistance(t *testing.T) {
	cases := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 0},
		{[]float32{1, 0}, []float32{0, 1}, 1},
		{[]float32{1, 0}, []float32{-1, 0}, 2},
		{[]float32{0, 0}, []float32{1, 0}, 1},
	}
	for _, c := range cases {
		if got := cosineDistance(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("cosineDistance(%v, %v) = %f, want %f", c.a, c.b, got, c.want)
		}
	}
}

func TestVideoStoreRoundTrip(t *testing.T) {
	s := NewVideoStore(t.TempDir())
	recV := &core.VideoRecord{ID: "vid1", Title: "demo", Status: core.StatusUploaded}
	if err := s.Save(recV); err != nil {
		t.Fatal(err)
	}
	loaded, err := s.Load("vid1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Title != "demo" || loaded.Status != core.StatusUploaded {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.CreatedAt.IsZero() || loaded.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set on save")
	}

	if err := s.SetStatus("vid1", core.StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	loaded, _ = s.Load("vid1")
	if loaded.Status != core.StatusFailed || loaded.Error != "boom" {
		t.Fatalf("status update lost: %+v", loaded)
	}

	list, err := s.List()
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v, %v", list, err)
	}

	if err := s.Delete("vid1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("vid1"); !core.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestVideoStoreLoadMissing(t *testing.T) {
	s := NewVideoStore(t.TempDir())
	if _, err := s.Load("nope"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

package retry

import (
	"sync"
	"testing"

	"github.com/cwbudde/cmaretry/internal/objective"
)

func TestStoreRanksByBestValue(t *testing.T) {
	s := NewStore(10)
	b := objective.NewBounds(2, -10, 10)

	s.Insert(b.Shrink([]float64{1, 1}, 0.5), []float64{1, 1}, 5.0, 100)
	s.Insert(b.Shrink([]float64{-5, -5}, 0.5), []float64{-5, -5}, 2.0, 100)
	s.Insert(b.Shrink([]float64{8, 8}, 0.5), []float64{8, 8}, 9.0, 100)

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(snap))
	}
	if snap[0].BestY != 2.0 || snap[1].BestY != 5.0 || snap[2].BestY != 9.0 {
		t.Errorf("Records not ranked ascending: %v %v %v", snap[0].BestY, snap[1].BestY, snap[2].BestY)
	}

	best, ok := s.Best()
	if !ok || best.BestY != 2.0 {
		t.Errorf("Best record wrong: %+v ok=%v", best, ok)
	}
}

func TestStoreMergesImprovingResultInPlace(t *testing.T) {
	s := NewStore(10)
	region := objective.NewBounds(2, -1, 1)

	s.Insert(region, []float64{0.5, 0.5}, 3.0, 200)
	// Better point inside the same region updates the record.
	s.Insert(region, []float64{0.1, 0.1}, 1.0, 150)

	if s.Len() != 1 {
		t.Fatalf("Expected merge into 1 record, got %d", s.Len())
	}
	rec, _ := s.Best()
	if rec.BestY != 1.0 {
		t.Errorf("Expected merged best 1.0, got %f", rec.BestY)
	}
	if rec.NumEvals != 350 {
		t.Errorf("Expected accumulated evals 350, got %d", rec.NumEvals)
	}
	if rec.Improvement != 2.0 {
		t.Errorf("Expected improvement 2.0, got %f", rec.Improvement)
	}
}

func TestStoreInsertsNonImprovingResultAsNewRecord(t *testing.T) {
	s := NewStore(10)
	region := objective.NewBounds(2, -1, 1)

	s.Insert(region, []float64{0, 0}, 1.0, 100)
	s.Insert(region, []float64{0.2, 0.2}, 4.0, 100)

	if s.Len() != 2 {
		t.Errorf("Non-improving result should insert a new record, got %d records", s.Len())
	}
}

func TestStoreEvictsWorstAtCapacity(t *testing.T) {
	s := NewStore(3)
	b := objective.NewBounds(1, 0, 100)

	for i := 0; i < 6; i++ {
		x := []float64{float64(i*10) + 5}
		region := b.Shrink(x, 0.05)
		s.Insert(region, x, float64(10-i), 10)
	}

	if s.Len() != 3 {
		t.Fatalf("Expected capacity 3, got %d", s.Len())
	}
	snap := s.Snapshot()
	// Latest inserts had the lowest values, so they survive.
	if snap[0].BestY != 5 || snap[2].BestY != 7 {
		t.Errorf("Eviction kept wrong records: %v", snap)
	}
}

func TestStoreSnapshotIsIsolated(t *testing.T) {
	s := NewStore(5)
	region := objective.NewBounds(1, -1, 1)
	s.Insert(region, []float64{0.5}, 1.0, 10)

	snap := s.Snapshot()
	snap[0].BestX[0] = 99
	snap[0].BestY = -99

	rec, _ := s.Best()
	if rec.BestX[0] != 0.5 || rec.BestY != 1.0 {
		t.Error("Mutating a snapshot leaked into the store")
	}
}

func TestStoreConcurrentInserts(t *testing.T) {
	s := NewStore(50)
	b := objective.NewBounds(1, 0, 1000)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				x := []float64{float64(g*25+i) + 0.5}
				s.Insert(b.Shrink(x, 0.0005), x, float64(g*25+i), 1)
			}
		}(g)
	}
	wg.Wait()

	if s.Len() != 50 {
		t.Errorf("Expected store filled to capacity 50, got %d", s.Len())
	}
	snap := s.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i-1].BestY > snap[i].BestY {
			t.Fatalf("Ranking broken at %d: %f > %f", i, snap[i-1].BestY, snap[i].BestY)
		}
	}
	if snap[0].BestY != 0 {
		t.Errorf("Best record should be 0, got %f", snap[0].BestY)
	}
}

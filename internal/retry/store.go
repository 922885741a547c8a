package retry

import (
	"sort"
	"sync"

	"github.com/cwbudde/cmaretry/internal/objective"
)

// Record tracks what one restart learned about a sub-region of the search
// space: where it looked, the best point it found, how much budget it spent
// and how much its last merge improved the region.
type Record struct {
	Region      objective.Bounds
	BestX       []float64
	BestY       float64
	NumEvals    int
	Improvement float64
}

// Store is a bounded, ranked collection of restart records shared by all
// concurrent restarts of one coordinated minimization. Every mutation is
// serialized so no reader ever observes a torn record or an inconsistent
// ranking; region selection works on a consistent snapshot.
type Store struct {
	mu       sync.Mutex
	capacity int
	records  []*Record
}

// NewStore creates a store holding at most capacity records.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 256
	}
	return &Store{capacity: capacity}
}

// Insert merges a finished restart into the store. If the restart's best
// point falls inside an existing record's region and improves on it, that
// record is updated in place; otherwise a new record is inserted and the
// worst record is evicted once the store is over capacity.
func (s *Store) Insert(region objective.Bounds, x []float64, y float64, evals int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.Region.Contains(x) && y < rec.BestY {
			rec.Improvement = rec.BestY - y
			rec.BestY = y
			rec.BestX = append([]float64{}, x...)
			rec.NumEvals += evals
			s.sortLocked()
			return
		}
	}

	s.records = append(s.records, &Record{
		Region:   region,
		BestX:    append([]float64{}, x...),
		BestY:    y,
		NumEvals: evals,
	})
	s.sortLocked()
	if len(s.records) > s.capacity {
		s.records = s.records[:s.capacity]
	}
}

// Snapshot returns a ranked copy of all records, best first.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.records))
	for i, rec := range s.records {
		out[i] = *rec
		out[i].BestX = append([]float64{}, rec.BestX...)
	}
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Best returns the top-ranked record, if any.
func (s *Store) Best() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return Record{}, false
	}
	rec := *s.records[0]
	rec.BestX = append([]float64{}, s.records[0].BestX...)
	return rec, true
}

// sortLocked keeps records ranked by best value ascending. Callers hold mu.
func (s *Store) sortLocked() {
	sort.SliceStable(s.records, func(a, b int) bool {
		return s.records[a].BestY < s.records[b].BestY
	})
}

package testutil

import "sync"

// SequenceRand is a deterministic random source. IntN returns the configured
// values in turn, wrapping around, each reduced modulo n.
//
// For a draw in [lo, hi] computed as lo + IntN(hi-lo+1), configure v-lo to get v.
type SequenceRand struct {
	mu     sync.Mutex
	values []int
	next   int
	calls  []int
}

// NewSequenceRand creates a source returning values in order.
// With no values it always returns 0.
func NewSequenceRand(values ...int) *SequenceRand {
	return &SequenceRand{values: values}
}

// IntN implements the handler random source.
func (s *SequenceRand) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, n)
	if len(s.values) == 0 || n <= 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)] % n
	s.next++
	if v < 0 {
		v += n
	}
	return v
}

// Bounds returns the n passed to each IntN call, in order.
func (s *SequenceRand) Bounds() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.calls...)
}

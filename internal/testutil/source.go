package testutil

import "sync"

// ScriptedSource is a participant random source that replays fixed values.
//
// Each IntN call returns the next scripted value reduced modulo n, cycling
// when the script is exhausted. Calls records every n requested so tests can
// assert whether randomness was consumed at all.
type ScriptedSource struct {
	mu     sync.Mutex
	values []int
	idx    int
	calls  []int
}

// NewScriptedSource returns a source replaying values. With no values it
// always returns 0.
func NewScriptedSource(values ...int) *ScriptedSource {
	return &ScriptedSource{values: values}
}

// IntN returns the next scripted value in [0, n).
func (s *ScriptedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, n)
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.idx%len(s.values)]
	s.idx++
	return ((v % n) + n) % n
}

// Calls returns the n argument of every IntN call so far.
func (s *ScriptedSource) Calls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.calls...)
}

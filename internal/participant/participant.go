// Package participant resolves the participant identifier a session runs
// under.
//
// Identifiers come from an untrusted query parameter. A value that does not
// name a participant inside the configured range is never an error: the
// session is quietly assigned a uniformly random identifier instead, so a
// mistyped link still yields a valid, fully scheduled session.
package participant

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode"
)

// Range is the inclusive span of valid participant identifiers.
type Range struct {
	MinID int `json:"min_id"`
	MaxID int `json:"max_id"`
}

// DefaultRange is the span used by the original study: one schedule file
// per participant, 1 through 300.
func DefaultRange() Range {
	return Range{MinID: 1, MaxID: 300}
}

// Validate rejects empty or non-positive ranges.
func (r Range) Validate() error {
	if r.MinID < 1 {
		return fmt.Errorf("participant range: min_id must be >= 1, got %d", r.MinID)
	}
	if r.MaxID < r.MinID {
		return fmt.Errorf("participant range: max_id %d is below min_id %d", r.MaxID, r.MinID)
	}
	return nil
}

// Contains reports whether id lies inside the range.
func (r Range) Contains(id int) bool {
	return id >= r.MinID && id <= r.MaxID
}

// Size is the number of identifiers in the range.
func (r Range) Size() int {
	return r.MaxID - r.MinID + 1
}

// IDs lists every identifier in the range in ascending order.
func (r Range) IDs() []int {
	ids := make([]int, 0, r.Size())
	for id := r.MinID; id <= r.MaxID; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Source supplies uniformly distributed integers in [0, n).
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// DefaultSource draws from the process-wide math/rand/v2 generator.
func DefaultSource() Source { return globalSource{} }

// SeededSource returns a deterministic Source.
func SeededSource(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Resolution is the outcome of resolving a raw identifier.
type Resolution struct {
	ID       int    `json:"id"`
	Raw      string `json:"raw,omitempty"`
	Assigned bool   `json:"assigned"` // true when ID was drawn at random
}

// Resolve returns the identifier named by raw when it is a valid integer
// inside r, and otherwise a random identifier inside r.
//
// r must be valid. A nil src uses DefaultSource.
func Resolve(raw string, r Range, src Source) Resolution {
	if id, ok := Parse(raw); ok && r.Contains(id) {
		return Resolution{ID: id, Raw: raw}
	}
	if src == nil {
		src = DefaultSource()
	}
	return Resolution{
		ID:       r.MinID + src.IntN(r.Size()),
		Raw:      raw,
		Assigned: true,
	}
}

// Parse reads a base-10 integer prefix the way browser links are usually
// read: leading whitespace and an optional sign are skipped and parsing
// stops at the first non-digit ("12abc" is 12, "3.9" is 3). It reports false
// when no digits are present or the value overflows.
func Parse(raw string) (int, bool) {
	s := strings.TrimLeftFunc(raw, unicode.IsSpace)
	sign := ""
	if s != "" && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = "-"
		}
		s = s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(sign + s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

package participant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted returns the queued values in order, reduced modulo n.
type scripted struct {
	vals  []int
	calls []int
}

func (s *scripted) IntN(n int) int {
	s.calls = append(s.calls, n)
	v := s.vals[0]
	s.vals = s.vals[1:]
	return v % n
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want int
		ok   bool
	}{
		{"42", 42, true},
		{"  7", 7, true},
		{" 7 ", 7, true},
		{"+15", 15, true},
		{"-3", -3, true},
		{"12abc", 12, true},
		{"3.9", 3, true},
		{"", 0, false},
		{"abc", 0, false},
		{"-", 0, false},
		{"99999999999999999999999", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Parse(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveKeepsValidID(t *testing.T) {
	src := &scripted{}
	res := Resolve("150", DefaultRange(), src)

	assert.Equal(t, 150, res.ID)
	assert.False(t, res.Assigned)
	assert.Empty(t, src.calls, "valid input must not consume randomness")
}

func TestResolveBoundsAreInclusive(t *testing.T) {
	r := DefaultRange()
	assert.Equal(t, 1, Resolve("1", r, &scripted{}).ID)
	assert.Equal(t, 300, Resolve("300", r, &scripted{}).ID)
}

func TestResolveAssignsRandomIDOnBadInput(t *testing.T) {
	for _, raw := range []string{"", "0", "301", "-5", "participant", "x1"} {
		t.Run(raw, func(t *testing.T) {
			src := &scripted{vals: []int{41}}
			res := Resolve(raw, DefaultRange(), src)

			assert.True(t, res.Assigned)
			assert.Equal(t, 42, res.ID)
			assert.Equal(t, raw, res.Raw)
			assert.Equal(t, []int{300}, src.calls)
		})
	}
}

func TestResolveRandomStaysInRange(t *testing.T) {
	r := Range{MinID: 10, MaxID: 12}
	src := SeededSource(7)
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		res := Resolve("", r, src)
		require.True(t, r.Contains(res.ID), "id %d out of range", res.ID)
		seen[res.ID] = true
	}
	assert.Len(t, seen, 3, "every id in a small range should eventually be drawn")
}

func TestResolveNilSourceUsesDefault(t *testing.T) {
	res := Resolve("nope", DefaultRange(), nil)
	assert.True(t, res.Assigned)
	assert.True(t, DefaultRange().Contains(res.ID))
}

func TestRangeValidate(t *testing.T) {
	require.NoError(t, DefaultRange().Validate())
	require.NoError(t, Range{MinID: 5, MaxID: 5}.Validate())
	assert.Error(t, Range{MinID: 0, MaxID: 5}.Validate())
	assert.Error(t, Range{MinID: 6, MaxID: 5}.Validate())
}

func TestRangeIDs(t *testing.T) {
	assert.Equal(t, []int{3, 4, 5}, Range{MinID: 3, MaxID: 5}.IDs())
	assert.Equal(t, 300, DefaultRange().Size())
}

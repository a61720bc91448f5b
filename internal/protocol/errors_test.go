package protocol

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const positionedSource = `{
	blocks: 2
	delays: {
		post_response_ms: 900
	}
	practice: trials: [
		{octave: 4, shift: "+", offset: 0},
	]
}
`

func TestFieldPos(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(positionedSource, cue.Filename("study.cue"))
	require.NoError(t, v.Err())

	tests := []struct {
		name string
		path []string
		line int
	}{
		{"top-level field", []string{"blocks"}, 2},
		{"nested field", []string{"delays", "post_response_ms"}, 4},
		{"list element", []string{"practice", "trials", "0", "shift"}, 7},
		{"unknown leaf keeps parent", []string{"delays", "nope"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := fieldPos(v, tt.path)
			require.True(t, pos.IsValid())
			assert.Equal(t, "study.cue", pos.Filename())
			assert.Equal(t, tt.line, pos.Line())
		})
	}

	pos := fieldPos(v, []string{"missing"})
	assert.Equal(t, v.Pos(), pos)
}

func TestCompile_ErrorsArePositioned(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString("{\n\tblocks: -1\n}\n", cue.Filename("study.cue"))

	_, errs := compile(v, true)
	require.NotEmpty(t, errs)
	for _, err := range errs {
		var ce *CompileError
		require.True(t, errors.As(err, &ce))
		assert.True(t, ce.Pos.IsValid(), "missing position: %v", ce)
	}
}

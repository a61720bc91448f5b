package protocol

import (
	"errors"
	"strings"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pitchtime/internal/participant"
	"github.com/roach88/pitchtime/internal/schedule"
)

func TestDefault(t *testing.T) {
	p := Default()

	assert.Equal(t, "IP", p.Name)
	assert.Equal(t, "v1.1", p.CodeVersion)
	assert.Equal(t, participant.Range{MinID: 1, MaxID: 300}, p.Participants)
	assert.Equal(t, 4, p.Blocks)
	assert.Equal(t, 60, p.TrialsPerBlock)
	assert.Equal(t, Delays{PostInstructionMS: 2000, PostResponseMS: 1500}, p.Delays)
	assert.Equal(t, []string{"downarrow", "uparrow"}, p.Response.Choices)
	assert.Equal(t, "Was the final tone (up arrow) higher or (down arrow) lower in pitch?", p.Response.Prompt)
	assert.True(t, p.Practice.Randomize)
	assert.Equal(t, []PracticeTrial{
		{4, "-", 0}, {4, "+", 0}, {4, "-", 0}, {4, "+", 0},
	}, p.Practice.Trials)
	assert.Equal(t, Runner{
		DefaultITI:             0,
		UseWebAudio:            true,
		ShowPreloadProgressBar: true,
		ShowProgressBar:        true,
		ExcludeWithoutAudio:    true,
	}, p.Runner)
	assert.True(t, p.Remote.Enabled)
	assert.Equal(t, "Continue", p.Texts.Break.Button)
	assert.Empty(t, p.Texts.Welcome.Button)
}

func TestStimulusPath(t *testing.T) {
	p := Default()
	tests := []struct {
		trial schedule.Trial
		want  string
	}{
		{schedule.Trial{Octave: 4, Shift: schedule.ShiftUp, Offset: 0}, "stimuli/sequence_A4+_500_0.wav"},
		{schedule.Trial{Octave: 5, Shift: schedule.ShiftDown, Offset: -75}, "stimuli/sequence_A5-_500_-75.wav"},
		{schedule.Trial{Octave: 3, Shift: schedule.ShiftDown, Offset: 75}, "stimuli/sequence_A3-_500_75.wav"},
	}
	for _, tt := range tests {
		got, err := p.StimulusPath(tt.trial)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := (&Protocol{}).StimulusPath(tests[0].trial)
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	p := Default()

	got, err := p.Render(ScreenBreak, TextData{Block: 2, Blocks: 4})
	require.NoError(t, err)
	assert.Contains(t, got, "You have completed section 2 of 4!")

	got, err = p.Render(ScreenEnding, TextData{Blocks: 4})
	require.NoError(t, err)
	assert.Contains(t, got, "You have completed section 4 of 4!")

	got, err = p.Render(ScreenInstructionsFinal, TextData{Blocks: 4})
	require.NoError(t, err)
	assert.Contains(t, got, "organized into 4 sections")

	_, err = p.Render("intermission", TextData{})
	assert.ErrorContains(t, err, `unknown screen "intermission"`)
}

func TestDefaultDebrief(t *testing.T) {
	p := Default()
	got, err := p.Render(ScreenDebrief, TextData{Blocks: 4})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "<h1>About This Study</h1>"+
		"<h3>Principal Investigator: Dr. Laurel J. Trainor (ljt@mcmaster.ca)</h3>"+
		"<h3>Researcher: Jesse K. Pazdera, B.Sc. (pazderaj@mcmaster.ca)</h3>"), got)
	assert.Contains(t, got, "whether auditory timing influences perceived pitch")
	assert.Contains(t, got, "please contact Jesse Pazdera at the email listed above.")
	assert.True(t, strings.HasSuffix(got, "with your classmates who may wish to participate in the future.</h3>"))
	assert.Equal(t, "Exit", p.Texts.Debrief.Button)
}

func TestFeedbackFor(t *testing.T) {
	fb := Default().Practice.Feedback
	assert.Contains(t, fb.For(schedule.ShiftUp), "<strong>higher</strong>")
	assert.Contains(t, fb.For(schedule.ShiftDown), "<strong>lower</strong>")
}

func TestCompile_Overrides(t *testing.T) {
	ctx := cuecontext.New()
	p, err := Compile(ctx.CompileString(`{blocks: 2, response: choices: ["f", "j"]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Blocks)
	assert.Equal(t, 60, p.TrialsPerBlock)
	assert.Equal(t, []string{"f", "j"}, p.Response.Choices)
}

func TestCompile_RejectsUnknownField(t *testing.T) {
	ctx := cuecontext.New()
	_, err := Compile(ctx.CompileString(`{feedback_sound: true}`))
	require.Error(t, err)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Error(), "feedback_sound")
}

func TestCompile_RejectsInvertedRange(t *testing.T) {
	ctx := cuecontext.New()
	_, err := Compile(ctx.CompileString(`{participants: {min_id: 10, max_id: 5}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "participants")
}

func TestCheckSchedule(t *testing.T) {
	p := Default()
	p.Blocks, p.TrialsPerBlock = 2, 1
	ok := schedule.Schedule{{{Octave: 4, Shift: "+"}}, {{Octave: 4, Shift: "-"}}}
	assert.NoError(t, p.CheckSchedule(ok))
	assert.ErrorIs(t, p.CheckSchedule(ok[:1]), schedule.ErrDimensions)

	p.Blocks = 0
	assert.NoError(t, p.CheckSchedule(ok[:1]))
}

func TestHash(t *testing.T) {
	a, err := Default().Hash()
	require.NoError(t, err)
	b, err := Default().Hash()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	p := Default()
	p.CodeVersion = "v1.2"
	c, err := p.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestValidate_AfterEdit(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())

	p.Stimulus.Pattern = "{{.Pitch}}.wav"
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stimulus.pattern")
}

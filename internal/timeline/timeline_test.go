package timeline

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pitchtime/internal/canonical"
	"github.com/roach88/pitchtime/internal/protocol"
	"github.com/roach88/pitchtime/internal/schedule"
)

func smallProtocol(t *testing.T, blocks, perBlock int) *protocol.Protocol {
	t.Helper()
	p := protocol.Default()
	p.Blocks, p.TrialsPerBlock = blocks, perBlock
	require.NoError(t, p.Validate())
	return p
}

func generated(t *testing.T, blocks, reps int, seed uint64) schedule.Schedule {
	t.Helper()
	opts := schedule.DefaultGenerateOptions()
	opts.Blocks, opts.Repetitions = blocks, reps
	s, err := schedule.Generate(opts, schedule.NewRand(seed))
	require.NoError(t, err)
	return s
}

func countEvents(e *Experiment, event string) int {
	n := 0
	for _, ev := range e.Events() {
		if ev == event {
			n++
		}
	}
	return n
}

func TestBuild_CountsMatchSchedule(t *testing.T) {
	s := generated(t, 4, 10, 7)
	e, err := Build(protocol.Default(), s, 17)
	require.NoError(t, err)

	assert.Equal(t, 240, countEvents(e, EventTones))
	assert.Equal(t, 240, countEvents(e, EventResponse))
	assert.Equal(t, 3, countEvents(e, EventBreak))
}

func TestBuild_PreloadCoversEveryPathOnce(t *testing.T) {
	s := generated(t, 4, 10, 7)
	e, err := Build(protocol.Default(), s, 17)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, p := range e.Preload {
		seen[p]++
	}
	for p, n := range seen {
		assert.Equal(t, 1, n, "preload lists %s %d times", p, n)
	}

	var referenced []string
	for _, r := range e.Timeline {
		if path, ok := r.StimulusPath(); ok {
			referenced = append(referenced, path)
		}
		for _, v := range r.TimelineVariables {
			referenced = append(referenced, v["stimulus"].(string))
		}
	}
	for _, path := range referenced {
		assert.Contains(t, seen, path)
	}
	// 2 practice paths (A4+ and A4- at offset 0) are also main-trial paths.
	assert.Len(t, e.Preload, 6)
	assert.Equal(t, []string{"stimuli/sequence_A4+_500_0.wav", "stimuli/sequence_A4-_500_0.wav"}, e.Preload[:2])
}

func TestBuild_BreaksOnlyBetweenBlocks(t *testing.T) {
	for _, blocks := range []int{1, 2, 5} {
		s := generated(t, blocks, 1, 3)
		e, err := Build(smallProtocol(t, blocks, 6), s, 1)
		require.NoError(t, err)

		events := e.Events()
		assert.Equal(t, blocks-1, countEvents(e, EventBreak), "blocks=%d", blocks)

		// Each break is preceded by a response and followed by a tone record.
		for i, ev := range events {
			if ev != EventBreak {
				continue
			}
			assert.Equal(t, EventResponse, events[i-1])
			assert.Equal(t, EventTones, events[i+1])
		}
		// The last main trial is followed directly by the ending.
		last := 0
		for i, ev := range events {
			if ev == EventResponse {
				last = i
			}
		}
		assert.Equal(t, EventEnding, events[last+1])
	}
}

func TestBuild_FixedOrder(t *testing.T) {
	s := schedule.Schedule{
		{{Octave: 4, Shift: "+", Offset: 0}},
		{{Octave: 5, Shift: "-", Offset: -75}},
	}
	e, err := Build(smallProtocol(t, 2, 1), s, 9)
	require.NoError(t, err)

	want := []string{
		EventRemoteInit, EventWelcome, EventMainInstructions, EventPractice, EventSummary,
		EventTones, EventResponse, EventBreak,
		EventTones, EventResponse,
		EventEnding, EventRemoteFinish, EventDebrief,
	}
	if diff := cmp.Diff(want, e.Events()); diff != "" {
		t.Fatalf("event order (-want +got):\n%s", diff)
	}
}

func TestBuild_TrialRecords(t *testing.T) {
	s := schedule.Schedule{{{Octave: 5, Shift: "-", Offset: -75}}}
	e, err := Build(smallProtocol(t, 1, 1), s, 9)
	require.NoError(t, err)

	tone := e.Timeline[5]
	assert.Equal(t, TypeAudioKeyboard, tone.Type)
	assert.Equal(t, "stimuli/sequence_A5-_500_-75.wav", tone.Stimulus)
	assert.Equal(t, false, *tone.ResponseEndsTrial)
	assert.Equal(t, true, *tone.TrialEndsAfterAudio)
	assert.Equal(t, map[string]any{"event": "tones", "octave": "5", "pitch_shift": "-", "offset": "-75"}, tone.Data)
	assert.Nil(t, tone.PostTrialGap)

	resp := e.Timeline[6]
	assert.Equal(t, TypeHTMLKeyboard, resp.Type)
	assert.Equal(t, []string{"downarrow", "uparrow"}, resp.Choices)
	assert.Equal(t, 1500, *resp.PostTrialGap)
	assert.Equal(t, "response", resp.Data["event"])
	assert.Equal(t, "-75", resp.Data["offset"])
}

func TestBuild_ScreensAndProperties(t *testing.T) {
	s := generated(t, 4, 10, 1)
	e, err := Build(protocol.Default(), s, 123)
	require.NoError(t, err)

	assert.Equal(t, Properties{Subject: 123, Experiment: "IP", CodeVersion: "v1.1"}, e.Properties)
	assert.Equal(t, Settings{
		DefaultITI:             0,
		UseWebAudio:            true,
		ShowPreloadProgressBar: true,
		ShowProgressBar:        true,
		Exclusions:             Exclusions{Audio: true},
	}, e.Settings)

	welcome := e.Timeline[1]
	assert.Equal(t, TypeHTMLKeyboard, welcome.Type)
	assert.Empty(t, welcome.Choices)

	main := e.Timeline[2]
	assert.Equal(t, TypeHTMLButton, main.Type)
	assert.Equal(t, []string{"Start"}, main.Choices)
	assert.Equal(t, 2000, *main.PostTrialGap)

	var breaks []Record
	for _, r := range e.Timeline {
		if r.Event() == EventBreak {
			breaks = append(breaks, r)
		}
	}
	require.Len(t, breaks, 3)
	for i, r := range breaks {
		assert.Equal(t, []string{"Continue"}, r.Choices)
		assert.Contains(t, r.Stimulus, "You have completed section "+string(rune('1'+i))+" of 4!")
	}

	ending := e.Timeline[len(e.Timeline)-3]
	assert.Equal(t, []string{"Submit"}, ending.Choices)
	assert.Contains(t, ending.Stimulus, "section 4 of 4")
}

func TestBuild_Practice(t *testing.T) {
	e, err := Build(protocol.Default(), generated(t, 4, 10, 1), 1)
	require.NoError(t, err)

	proc := e.Timeline[3]
	require.Len(t, proc.Timeline, 3)
	assert.True(t, proc.RandomizeOrder)
	require.Len(t, proc.TimelineVariables, 4)
	assert.Equal(t, map[string]any{
		"stimulus": "stimuli/sequence_A4-_500_0.wav",
		"octave":   4,
		"shift":    "-",
		"offset":   0,
		"answer":   "<strong>Answer:</strong> The final tone was <strong>lower</strong> on this trial. Press any key to continue.",
	}, proc.TimelineVariables[0])

	assert.Equal(t, Var{Name: "stimulus"}, proc.Timeline[0].Stimulus)
	assert.Equal(t, EventPracticeResponse, proc.Timeline[1].Data["event"])
	assert.Nil(t, proc.Timeline[1].PostTrialGap)
	assert.Equal(t, 1500, *proc.Timeline[2].PostTrialGap)

	raw, err := json.Marshal(proc.Timeline[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"stimulus":{"timeline_variable":"stimulus"}`)
}

func TestBuild_NoRemoteNoPractice(t *testing.T) {
	p := smallProtocol(t, 1, 1)
	p.Remote.Enabled = false
	p.Practice.Trials = nil

	e, err := Build(p, schedule.Schedule{{{Octave: 4, Shift: "+"}}}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{
		EventWelcome, EventMainInstructions, EventSummary,
		EventTones, EventResponse, EventEnding, EventDebrief,
	}, e.Events())
	assert.Equal(t, []string{"stimuli/sequence_A4+_500_0.wav"}, e.Preload)
}

func TestBuild_RejectsMismatchedSchedule(t *testing.T) {
	_, err := Build(protocol.Default(), generated(t, 3, 10, 1), 1)
	assert.ErrorIs(t, err, schedule.ErrDimensions)

	_, err = Build(protocol.Default(), nil, 1)
	assert.ErrorIs(t, err, schedule.ErrEmpty)
}

func TestBuild_UnpinnedDimensions(t *testing.T) {
	p := smallProtocol(t, 0, 0)
	e, err := Build(p, generated(t, 2, 1, 5), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, countEvents(e, EventBreak))

	ending := e.Timeline[len(e.Timeline)-3]
	assert.Contains(t, ending.Stimulus, "section 2 of 2")
}

func TestBuild_Deterministic(t *testing.T) {
	s := generated(t, 4, 10, 11)
	a, err := Build(protocol.Default(), s, 42)
	require.NoError(t, err)
	b, err := Build(protocol.Default(), s, 42)
	require.NoError(t, err)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	c, err := Build(protocol.Default(), s, 43)
	require.NoError(t, err)
	hc, err := c.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc, "subject is part of the hashed experiment")

	data, err := canonical.Marshal(a)
	require.NoError(t, err)
	g := goldie.New(t, goldie.WithFixtureDir(t.TempDir()), goldie.WithNameSuffix(".golden"))
	require.NoError(t, g.Update(t, "session42", data))
	again, err := canonical.Marshal(b)
	require.NoError(t, err)
	g.Assert(t, "session42", again)
}

// Package timeline assembles the ordered list of trial configurations and
// the audio preload manifest for one participant session.
package timeline

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/pitchtime/internal/canonical"
	"github.com/roach88/pitchtime/internal/protocol"
	"github.com/roach88/pitchtime/internal/schedule"
)

// Experiment is everything the runner needs to start a session.
type Experiment struct {
	Timeline   []Record   `json:"timeline"`
	Preload    []string   `json:"preload_audio"`
	Properties Properties `json:"properties"`
	Settings   Settings   `json:"settings"`
}

// Properties are attached by the runner to every data row.
type Properties struct {
	Subject     int    `json:"subject"`
	Experiment  string `json:"experiment"`
	CodeVersion string `json:"code_version"`
}

// Settings are the runner's initialisation options.
type Settings struct {
	DefaultITI             int        `json:"default_iti"`
	UseWebAudio            bool       `json:"use_webaudio"`
	ShowPreloadProgressBar bool       `json:"show_preload_progress_bar"`
	ShowProgressBar        bool       `json:"show_progress_bar"`
	Exclusions             Exclusions `json:"exclusions"`
}

// Exclusions lists browser capabilities a participant must have.
type Exclusions struct {
	Audio bool `json:"audio"`
}

// Hash returns the canonical content hash of the experiment.
func (e *Experiment) Hash() (string, error) {
	return canonical.Hash(canonical.DomainTimeline, e)
}

// Events lists the event name of every top-level record in order.
func (e *Experiment) Events() []string {
	out := make([]string, len(e.Timeline))
	for i, r := range e.Timeline {
		out[i] = r.Event()
	}
	return out
}

// preloadSet is an insertion-ordered set of paths.
type preloadSet struct {
	seen  map[string]struct{}
	paths []string
}

func (s *preloadSet) add(path string) {
	if _, ok := s.seen[path]; ok {
		return
	}
	s.seen[path] = struct{}{}
	s.paths = append(s.paths, path)
}

// Build assembles the session in one pass: opening screens and practice,
// then a stimulus and a response record per scheduled trial with a break
// between blocks, then the closing screens. The schedule must satisfy the
// protocol's pinned dimensions.
func Build(p *protocol.Protocol, s schedule.Schedule, subject int) (*Experiment, error) {
	if err := p.CheckSchedule(s); err != nil {
		return nil, fmt.Errorf("build timeline: %w", err)
	}
	b := &builder{p: p, blocks: len(s), preload: preloadSet{seen: make(map[string]struct{})}}

	if p.Remote.Enabled {
		b.emit(Record{Type: TypeRemote, Command: "init"})
	}
	if err := b.screen(protocol.ScreenWelcome, EventWelcome, 0, 0); err != nil {
		return nil, err
	}
	if err := b.screen(protocol.ScreenInstructionsMain, EventMainInstructions, 0, p.Delays.PostInstructionMS); err != nil {
		return nil, err
	}
	if err := b.practice(); err != nil {
		return nil, err
	}
	if err := b.screen(protocol.ScreenInstructionsFinal, EventSummary, 0, p.Delays.PostInstructionMS); err != nil {
		return nil, err
	}

	for bi, block := range s {
		for _, t := range block {
			if err := b.trial(t); err != nil {
				return nil, err
			}
		}
		if bi < len(s)-1 {
			if err := b.screen(protocol.ScreenBreak, EventBreak, bi+1, p.Delays.PostInstructionMS); err != nil {
				return nil, err
			}
		}
	}

	if err := b.screen(protocol.ScreenEnding, EventEnding, len(s), 0); err != nil {
		return nil, err
	}
	if p.Remote.Enabled {
		b.emit(Record{Type: TypeRemote, Command: "finish"})
	}
	if err := b.screen(protocol.ScreenDebrief, EventDebrief, len(s), 0); err != nil {
		return nil, err
	}

	return &Experiment{
		Timeline: b.records,
		Preload:  b.preload.paths,
		Properties: Properties{
			Subject:     subject,
			Experiment:  p.Name,
			CodeVersion: p.CodeVersion,
		},
		Settings: Settings{
			DefaultITI:             p.Runner.DefaultITI,
			UseWebAudio:            p.Runner.UseWebAudio,
			ShowPreloadProgressBar: p.Runner.ShowPreloadProgressBar,
			ShowProgressBar:        p.Runner.ShowProgressBar,
			Exclusions:             Exclusions{Audio: p.Runner.ExcludeWithoutAudio},
		},
	}, nil
}

type builder struct {
	p       *protocol.Protocol
	blocks  int
	records []Record
	preload preloadSet
}

func (b *builder) emit(r Record) { b.records = append(b.records, r) }

// screen emits an instructional page. Screens with a button use the button
// plugin; the rest advance on any key.
func (b *builder) screen(name, event string, block, gap int) error {
	sc, _ := b.p.Screen(name)
	html, err := b.p.Render(name, protocol.TextData{Block: block, Blocks: b.blocks})
	if err != nil {
		return err
	}
	r := Record{Type: TypeHTMLKeyboard, Stimulus: html, Data: map[string]any{"event": event}}
	if sc.Button != "" {
		r.Type = TypeHTMLButton
		r.Choices = []string{sc.Button}
	}
	if gap > 0 {
		r.PostTrialGap = ptr(gap)
	}
	b.emit(r)
	return nil
}

// practice emits the practice procedure: tone, response and feedback
// repeated per practice item. Practice audio is preloaded in sorted order
// since presentation order is decided by the runner.
func (b *builder) practice() error {
	items := b.p.Practice.Trials
	if len(items) == 0 {
		return nil
	}
	vars := make([]map[string]any, 0, len(items))
	var paths []string
	for _, it := range items {
		t := it.Trial()
		path, err := b.p.StimulusPath(t)
		if err != nil {
			return err
		}
		paths = append(paths, path)
		vars = append(vars, map[string]any{
			"stimulus": path,
			"octave":   t.Octave,
			"shift":    string(t.Shift),
			"offset":   t.Offset,
			"answer":   b.p.Practice.Feedback.For(t.Shift),
		})
	}
	slices.Sort(paths)
	for _, path := range paths {
		b.preload.add(path)
	}

	trialData := func(event string) map[string]any {
		return map[string]any{
			"event":       event,
			"octave":      Var{"octave"},
			"pitch_shift": Var{"shift"},
			"offset":      Var{"offset"},
		}
	}
	b.emit(Record{
		Timeline: []Record{
			{
				Type:                TypeAudioKeyboard,
				Stimulus:            Var{"stimulus"},
				ResponseEndsTrial:   ptr(false),
				TrialEndsAfterAudio: ptr(true),
				Data:                trialData(EventPracticeTones),
			},
			{
				Type:     TypeHTMLKeyboard,
				Stimulus: b.p.Response.Prompt,
				Choices:  slices.Clone(b.p.Response.Choices),
				Data:     trialData(EventPracticeResponse),
			},
			{
				Type:              TypeHTMLKeyboard,
				Stimulus:          Var{"answer"},
				ResponseEndsTrial: ptr(true),
				PostTrialGap:      ptr(b.p.Delays.PostResponseMS),
				Data:              map[string]any{"event": EventPracticeFeedback},
			},
		},
		TimelineVariables: vars,
		RandomizeOrder:    b.p.Practice.Randomize,
	})
	return nil
}

// trial emits the stimulus and response records for one scheduled trial.
// Trial fields are written to data as strings.
func (b *builder) trial(t schedule.Trial) error {
	path, err := b.p.StimulusPath(t)
	if err != nil {
		return err
	}
	b.preload.add(path)

	data := func(event string) map[string]any {
		return map[string]any{
			"event":       event,
			"octave":      strconv.Itoa(t.Octave),
			"pitch_shift": string(t.Shift),
			"offset":      strconv.Itoa(t.Offset),
		}
	}
	b.emit(Record{
		Type:                TypeAudioKeyboard,
		Stimulus:            path,
		ResponseEndsTrial:   ptr(false),
		TrialEndsAfterAudio: ptr(true),
		Data:                data(EventTones),
	})
	b.emit(Record{
		Type:         TypeHTMLKeyboard,
		Stimulus:     b.p.Response.Prompt,
		Choices:      slices.Clone(b.p.Response.Choices),
		PostTrialGap: ptr(b.p.Delays.PostResponseMS),
		Data:         data(EventResponse),
	})
	return nil
}

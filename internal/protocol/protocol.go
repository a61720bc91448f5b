// Package protocol loads the experiment definition: participant range,
// block layout, delays, stimulus naming, response mapping, practice trials
// and the instructional screens.
//
// The definition is written in CUE and unified with the embedded #Protocol
// schema, which supplies a default for every field. An empty definition is
// therefore the study exactly as originally run.
package protocol

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/pitchtime/internal/canonical"
	"github.com/roach88/pitchtime/internal/participant"
	"github.com/roach88/pitchtime/internal/schedule"
)

//go:embed schema.cue
var schemaSource string

// Protocol is a compiled experiment definition.
type Protocol struct {
	Name           string            `json:"name"`
	CodeVersion    string            `json:"code_version"`
	Participants   participant.Range `json:"participants"`
	Blocks         int               `json:"blocks"`
	TrialsPerBlock int               `json:"trials_per_block"`
	Delays         Delays            `json:"delays"`
	Stimulus       Stimulus          `json:"stimulus"`
	Response       Response          `json:"response"`
	Practice       Practice          `json:"practice"`
	Texts          Texts             `json:"texts"`
	Runner         Runner            `json:"runner"`
	Remote         Remote            `json:"remote"`

	stimulusTmpl *template.Template
	screenTmpls  map[string]*template.Template
}

// Delays are inter-trial gaps in milliseconds.
type Delays struct {
	PostInstructionMS int `json:"post_instruction_ms"`
	PostResponseMS    int `json:"post_response_ms"`
}

// Stimulus controls how audio paths are derived from trials.
type Stimulus struct {
	Dir     string `json:"dir"`
	Tone    string `json:"tone"`
	IOIMS   int    `json:"ioi_ms"`
	Pattern string `json:"pattern"`
}

// Response is the pitch-judgement screen shown after each sequence.
type Response struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
}

// Practice is the fixed practice procedure run before the main blocks.
type Practice struct {
	Randomize bool            `json:"randomize"`
	Trials    []PracticeTrial `json:"trials"`
	Feedback  Feedback        `json:"feedback"`
}

// PracticeTrial is one practice item.
type PracticeTrial struct {
	Octave int    `json:"octave"`
	Shift  string `json:"shift"`
	Offset int    `json:"offset"`
}

// Trial converts the practice item to a schedule trial.
func (t PracticeTrial) Trial() schedule.Trial {
	return schedule.Trial{Octave: t.Octave, Shift: schedule.Shift(t.Shift), Offset: t.Offset}
}

// Feedback is the answer text shown after a practice response, per direction.
type Feedback struct {
	Higher string `json:"higher"`
	Lower  string `json:"lower"`
}

// For returns the feedback text for shift.
func (f Feedback) For(shift schedule.Shift) string {
	if shift == schedule.ShiftUp {
		return f.Higher
	}
	return f.Lower
}

// Screen is an instructional page. Button is empty for keypress screens.
type Screen struct {
	HTML   string `json:"html"`
	Button string `json:"button,omitempty"`
}

// Screen names as they appear in the definition.
const (
	ScreenWelcome           = "welcome"
	ScreenInstructionsMain  = "instructions_main"
	ScreenInstructionsFinal = "instructions_final"
	ScreenBreak             = "break"
	ScreenEnding            = "ending"
	ScreenDebrief           = "debrief"
)

// ScreenNames lists the screens in the order they are shown.
var ScreenNames = []string{
	ScreenWelcome,
	ScreenInstructionsMain,
	ScreenInstructionsFinal,
	ScreenBreak,
	ScreenEnding,
	ScreenDebrief,
}

// Texts holds every instructional screen.
type Texts struct {
	Welcome           Screen `json:"welcome"`
	InstructionsMain  Screen `json:"instructions_main"`
	InstructionsFinal Screen `json:"instructions_final"`
	Break             Screen `json:"break"`
	Ending            Screen `json:"ending"`
	Debrief           Screen `json:"debrief"`
}

func (t Texts) byName() map[string]Screen {
	return map[string]Screen{
		ScreenWelcome:           t.Welcome,
		ScreenInstructionsMain:  t.InstructionsMain,
		ScreenInstructionsFinal: t.InstructionsFinal,
		ScreenBreak:             t.Break,
		ScreenEnding:            t.Ending,
		ScreenDebrief:           t.Debrief,
	}
}

// Runner holds the settings passed to the browser runner at start-up.
type Runner struct {
	DefaultITI             int  `json:"default_iti"`
	UseWebAudio            bool `json:"use_webaudio"`
	ShowPreloadProgressBar bool `json:"show_preload_progress_bar"`
	ShowProgressBar        bool `json:"show_progress_bar"`
	ExcludeWithoutAudio    bool `json:"exclude_without_audio"`
}

// Remote toggles the study-hosting init and finish records.
type Remote struct {
	Enabled bool `json:"enabled"`
}

// TextData is the data available to screen templates. Block is 1-based.
type TextData struct {
	Block  int
	Blocks int
}

type stimulusData struct {
	Dir    string
	Tone   string
	Octave int
	Shift  string
	IOI    int
	Offset int
}

// Default returns the embedded protocol. It panics if the embedded schema
// does not compile, which the package tests rule out.
func Default() *Protocol {
	ctx := cuecontext.New()
	p, err := Compile(ctx.CompileString("{}"))
	if err != nil {
		panic(fmt.Sprintf("protocol: embedded schema: %v", err))
	}
	return p
}

// Schema compiles the embedded #Protocol definition in ctx.
func Schema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v.LookupPath(cue.ParsePath("#Protocol")), nil
}

// Compile unifies v with the schema and decodes the result. The first
// problem found is returned.
func Compile(v cue.Value) (*Protocol, error) {
	p, errs := compile(v, false)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return p, nil
}

func compile(v cue.Value, collect bool) (*Protocol, []error) {
	if err := v.Err(); err != nil {
		return nil, cueErrors(err, collect, v)
	}
	schema, err := Schema(v.Context())
	if err != nil {
		return nil, []error{err}
	}
	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return nil, cueErrors(err, collect, v)
	}
	p := &Protocol{}
	if err := unified.Decode(p); err != nil {
		return nil, cueErrors(err, collect, v)
	}
	if errs := p.check(collect); len(errs) > 0 {
		return nil, errs
	}
	return p, nil
}

// Validate re-checks the semantic constraints CUE cannot express and
// reparses templates. It is run by Compile; call it after editing a Protocol
// by hand.
func (p *Protocol) Validate() error {
	if errs := p.check(false); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (p *Protocol) check(collect bool) []error {
	var errs []error
	add := func(field, format string, args ...any) bool {
		errs = append(errs, &CompileError{Field: field, Message: fmt.Sprintf(format, args...)})
		return !collect
	}

	if err := p.Participants.Validate(); err != nil {
		if add("participants", "%v", err) {
			return errs
		}
	}
	if p.Blocks < 0 || p.TrialsPerBlock < 0 {
		if add("blocks", "block dimensions must be >= 0") {
			return errs
		}
	}
	if len(p.Response.Choices) == 0 {
		if add("response.choices", "at least one choice is required") {
			return errs
		}
	}
	for i, t := range p.Practice.Trials {
		if !schedule.Shift(t.Shift).Valid() {
			if add(fmt.Sprintf("practice.trials.%d.shift", i), "must be %q or %q", schedule.ShiftUp, schedule.ShiftDown) {
				return errs
			}
		}
	}

	tmpl, err := template.New("stimulus.pattern").Option("missingkey=error").Parse(p.Stimulus.Pattern)
	if err == nil {
		var sb strings.Builder
		err = tmpl.Execute(&sb, p.stimulusData(schedule.Trial{Octave: 4, Shift: schedule.ShiftUp}))
	}
	if err != nil {
		if add("stimulus.pattern", "%v", err) {
			return errs
		}
	} else {
		p.stimulusTmpl = tmpl
	}

	p.screenTmpls = make(map[string]*template.Template)
	screens := p.Texts.byName()
	for _, name := range ScreenNames {
		screen := screens[name]
		field := "texts." + name + ".html"
		t, err := template.New(field).Option("missingkey=error").Parse(screen.HTML)
		if err == nil {
			err = t.Execute(new(strings.Builder), TextData{Block: 1, Blocks: max(p.Blocks, 1)})
		}
		if err != nil {
			if add(field, "%v", err) {
				return errs
			}
			continue
		}
		p.screenTmpls[name] = t
	}
	return errs
}

func (p *Protocol) stimulusData(t schedule.Trial) stimulusData {
	return stimulusData{
		Dir:    p.Stimulus.Dir,
		Tone:   p.Stimulus.Tone,
		Octave: t.Octave,
		Shift:  string(t.Shift),
		IOI:    p.Stimulus.IOIMS,
		Offset: t.Offset,
	}
}

// StimulusPath interpolates the audio path for t, e.g.
// "stimuli/sequence_A4+_500_-75.wav".
func (p *Protocol) StimulusPath(t schedule.Trial) (string, error) {
	if p.stimulusTmpl == nil {
		return "", fmt.Errorf("protocol not compiled")
	}
	var sb strings.Builder
	if err := p.stimulusTmpl.Execute(&sb, p.stimulusData(t)); err != nil {
		return "", fmt.Errorf("stimulus path for %s: %w", t, err)
	}
	return sb.String(), nil
}

// Render executes the named screen template.
func (p *Protocol) Render(screen string, data TextData) (string, error) {
	t, ok := p.screenTmpls[screen]
	if !ok {
		return "", fmt.Errorf("unknown screen %q", screen)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s: %w", screen, err)
	}
	return sb.String(), nil
}

// Screen returns the named screen's static fields.
func (p *Protocol) Screen(name string) (Screen, bool) {
	s, ok := p.Texts.byName()[name]
	return s, ok
}

// CheckSchedule validates s against the pinned block dimensions.
func (p *Protocol) CheckSchedule(s schedule.Schedule) error {
	return s.Validate(p.Blocks, p.TrialsPerBlock)
}

// Hash returns the canonical content hash of the definition.
func (p *Protocol) Hash() (string, error) {
	return canonical.Hash(canonical.DomainProtocol, p)
}

package timeline

// Plugin types understood by the browser runner.
const (
	TypeAudioKeyboard = "audio-keyboard-response"
	TypeHTMLKeyboard  = "html-keyboard-response"
	TypeHTMLButton    = "html-button-response"
	TypeRemote        = "pavlovia"
)

// Event names written to each record's data.
const (
	EventWelcome          = "welcome"
	EventMainInstructions = "main_instructions"
	EventPracticeTones    = "practice_tones"
	EventPracticeResponse = "practice_response"
	EventPracticeFeedback = "practice_feedback"
	EventSummary          = "summary_instructions"
	EventTones            = "tones"
	EventResponse         = "response"
	EventBreak            = "break"
	EventEnding           = "ending"
	EventDebrief          = "debrief"
	EventRemoteInit       = "remote_init"
	EventRemoteFinish     = "remote_finish"
	EventPractice         = "practice"
)

// Record is one trial configuration as consumed by the runner. A record with
// a nested Timeline is a procedure whose children are repeated once per
// entry of TimelineVariables.
type Record struct {
	Type                string           `json:"type,omitempty"`
	Command             string           `json:"command,omitempty"`
	Stimulus            any              `json:"stimulus,omitempty"`
	Choices             []string         `json:"choices,omitempty"`
	ResponseEndsTrial   *bool            `json:"response_ends_trial,omitempty"`
	TrialEndsAfterAudio *bool            `json:"trial_ends_after_audio,omitempty"`
	PostTrialGap        *int             `json:"post_trial_gap,omitempty"`
	Data                map[string]any   `json:"data,omitempty"`
	Timeline            []Record         `json:"timeline,omitempty"`
	TimelineVariables   []map[string]any `json:"timeline_variables,omitempty"`
	RandomizeOrder      bool             `json:"randomize_order,omitempty"`
}

// Var references a timeline variable of the enclosing procedure.
type Var struct {
	Name string `json:"timeline_variable"`
}

// Event returns the record's event name. Remote records carry no data and
// are named by their command.
func (r Record) Event() string {
	if r.Type == TypeRemote {
		return "remote_" + r.Command
	}
	if len(r.Timeline) > 0 {
		return EventPractice
	}
	if ev, ok := r.Data["event"].(string); ok {
		return ev
	}
	return ""
}

// StimulusPath returns the record's stimulus when it is a literal audio path.
func (r Record) StimulusPath() (string, bool) {
	if r.Type != TypeAudioKeyboard {
		return "", false
	}
	s, ok := r.Stimulus.(string)
	return s, ok
}

func ptr[T any](v T) *T { return &v }
